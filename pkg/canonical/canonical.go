package canonical

import (
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

const hexDigits = "0123456789abcdef"

// Canonicalize renders v in canonical form.
func Canonicalize(v Value) (string, error) {
	var sb strings.Builder
	if err := write(&sb, v, "$"); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// CanonicalizeJSON parses raw JSON and renders it in canonical form.
func CanonicalizeJSON(raw []byte) (string, error) {
	v, err := Parse(raw)
	if err != nil {
		return "", err
	}
	return Canonicalize(v)
}

// MustCanonicalize is Canonicalize for values built from trusted literals.
func MustCanonicalize(v Value) string {
	s, err := Canonicalize(v)
	if err != nil {
		panic(err)
	}
	return s
}

func write(sb *strings.Builder, v Value, path string) error {
	switch v.kind {
	case KindNull:
		sb.WriteString("null")
	case KindBool:
		if v.b {
			sb.WriteString("true")
		} else {
			sb.WriteString("false")
		}
	case KindNumber:
		if v.num == "" {
			return errorf(path, errNonFinite, "invalid number")
		}
		sb.WriteString(v.num)
	case KindString:
		if err := writeString(sb, v.s); err != nil {
			return errorf(path, err, "invalid string")
		}
	case KindArray:
		sb.WriteByte('[')
		for i, item := range v.arr {
			if i > 0 {
				sb.WriteByte(',')
			}
			if err := write(sb, item, path+"["+strconv.Itoa(i)+"]"); err != nil {
				return err
			}
		}
		sb.WriteByte(']')
	case KindObject:
		sb.WriteByte('{')
		for i, k := range v.Keys() {
			if i > 0 {
				sb.WriteByte(',')
			}
			if err := writeString(sb, k); err != nil {
				return errorf(path, err, "invalid key")
			}
			sb.WriteByte(':')
			if err := write(sb, v.obj[k], path+"."+k); err != nil {
				return err
			}
		}
		sb.WriteByte('}')
	default:
		return errorf(path, nil, "unknown kind %d", v.kind)
	}
	return nil
}

type constError string

func (e constError) Error() string { return string(e) }

const (
	errNonFinite   constError = "NaN and Infinity have no JSON form"
	errInvalidUTF8 constError = "not valid UTF-8"
)

func writeString(sb *strings.Builder, s string) error {
	if !utf8.ValidString(s) {
		return errInvalidUTF8
	}
	sb.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			sb.WriteString(`\"`)
		case '\\':
			sb.WriteString(`\\`)
		case '\b':
			sb.WriteString(`\b`)
		case '\f':
			sb.WriteString(`\f`)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case '\t':
			sb.WriteString(`\t`)
		default:
			if r < 0x20 {
				sb.WriteString(`\u00`)
				sb.WriteByte(hexDigits[r>>4])
				sb.WriteByte(hexDigits[r&0xf])
				continue
			}
			sb.WriteRune(r)
		}
	}
	sb.WriteByte('"')
	return nil
}

// compareUTF16 orders strings by their UTF-16 code units, the ordering
// RFC 8785 requires for object members.
func compareUTF16(a, b string) int {
	if a == b {
		return 0
	}
	ua := utf16.Encode([]rune(a))
	ub := utf16.Encode([]rune(b))
	for i := 0; i < len(ua) && i < len(ub); i++ {
		if ua[i] != ub[i] {
			if ua[i] < ub[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(ua) < len(ub):
		return -1
	case len(ua) > len(ub):
		return 1
	default:
		return 0
	}
}
