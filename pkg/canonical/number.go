package canonical

import (
	"errors"
	"math"
	"strconv"
	"strings"
)

// maxExponent bounds the exponent of decimal input so the digit position
// arithmetic below cannot overflow.
const maxExponent = 100000

const (
	errMalformedNumber constError = "malformed number"
	errNumberRange     constError = "number outside the float64 range"
)

// normalizeDecimal parses JSON number text and renders its exact value in
// canonical form. Leading zeros and trailing fractional zeros are dropped
// and -0 becomes 0. Placement of the decimal point and the switch to
// exponent notation follow ECMAScript Number.prototype.toString, applied
// to the exact digits instead of the shortest float64 digits, so any
// number that is exactly a float64 renders as JCS renders it.
//
// The float64 nearest to the value is returned alongside. Numbers whose
// magnitude overflows float64 are rejected.
func normalizeDecimal(text string) (string, float64, error) {
	f, err := strconv.ParseFloat(text, 64)
	if errors.Is(err, strconv.ErrRange) || math.IsInf(f, 0) {
		return "", 0, errNumberRange
	}
	if err != nil {
		return "", 0, errMalformedNumber
	}

	s := text
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	mant, exp := s, 0
	if i := strings.IndexAny(s, "eE"); i >= 0 {
		mant = s[:i]
		exp, err = strconv.Atoi(s[i+1:])
		if err != nil || exp > maxExponent || exp < -maxExponent {
			return "", 0, errNumberRange
		}
	}
	intPart, frac := mant, ""
	if i := strings.IndexByte(mant, '.'); i >= 0 {
		intPart, frac = mant[:i], mant[i+1:]
		if frac == "" {
			return "", 0, errMalformedNumber
		}
	}
	if intPart == "" || !allDigits(intPart) || !allDigits(frac) {
		return "", 0, errMalformedNumber
	}

	all := intPart + frac
	digits := strings.TrimLeft(all, "0")
	// The value is 0.<digits> * 10^point.
	point := len(intPart) + exp - (len(all) - len(digits))
	digits = strings.TrimRight(digits, "0")
	if digits == "" {
		return "0", 0, nil
	}
	var sb strings.Builder
	if neg {
		sb.WriteByte('-')
	}
	k := len(digits)
	switch {
	case k <= point && point <= 21:
		sb.WriteString(digits)
		sb.WriteString(strings.Repeat("0", point-k))
	case 0 < point && point <= 21:
		sb.WriteString(digits[:point])
		sb.WriteByte('.')
		sb.WriteString(digits[point:])
	case -6 < point && point <= 0:
		sb.WriteString("0.")
		sb.WriteString(strings.Repeat("0", -point))
		sb.WriteString(digits)
	default:
		sb.WriteByte(digits[0])
		if k > 1 {
			sb.WriteByte('.')
			sb.WriteString(digits[1:])
		}
		sb.WriteByte('e')
		if point-1 >= 0 {
			sb.WriteByte('+')
		}
		sb.WriteString(strconv.Itoa(point - 1))
	}
	return sb.String(), f, nil
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
