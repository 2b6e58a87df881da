package canonical

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"reflect"
	"strconv"
)

// Parse decodes a single JSON document into a Value. Numbers keep their
// exact digits. Duplicate object keys, trailing data and numbers outside
// the float64 range are rejected.
func Parse(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := parseValue(dec, "$")
	if err != nil {
		return Value{}, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Value{}, errorf("$", nil, "trailing data after document")
	}
	return v, nil
}

func parseValue(dec *json.Decoder, path string) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Value{}, errorf(path, nil, "unexpected end of input")
		}
		return Value{}, errorf(path, err, "malformed JSON")
	}

	switch t := tok.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case json.Number:
		v, err := Decimal(t.String())
		if err != nil {
			return Value{}, errorf(path, err, "number %s not representable", t.String())
		}
		return v, nil
	case json.Delim:
		switch t {
		case '[':
			items := []Value{}
			for dec.More() {
				item, err := parseValue(dec, path+"["+strconv.Itoa(len(items))+"]")
				if err != nil {
					return Value{}, err
				}
				items = append(items, item)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, errorf(path, err, "unterminated array")
			}
			return Value{kind: KindArray, arr: items}, nil
		case '{':
			fields := map[string]Value{}
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Value{}, errorf(path, err, "malformed object key")
				}
				key, ok := keyTok.(string)
				if !ok {
					return Value{}, errorf(path, nil, "object key is not a string")
				}
				if _, dup := fields[key]; dup {
					return Value{}, errorf(path, nil, "duplicate key %q", key)
				}
				field, err := parseValue(dec, path+"."+key)
				if err != nil {
					return Value{}, err
				}
				fields[key] = field
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, errorf(path, err, "unterminated object")
			}
			return Value{kind: KindObject, obj: fields}, nil
		}
	}
	return Value{}, errorf(path, nil, "unexpected token %v", tok)
}

// FromAny converts plain Go data (as produced by encoding/json or built by
// hand) into a Value.
func FromAny(x any) (Value, error) {
	return fromAny(x, "$")
}

func fromAny(x any, path string) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case json.Number:
		v, err := Decimal(t.String())
		if err != nil {
			return Value{}, errorf(path, err, "number %s not representable", t.String())
		}
		return v, nil
	case float64:
		return finite(t, path)
	case float32:
		return finite(float64(t), path)
	case int:
		return integer(strconv.FormatInt(int64(t), 10)), nil
	case int8:
		return integer(strconv.FormatInt(int64(t), 10)), nil
	case int16:
		return integer(strconv.FormatInt(int64(t), 10)), nil
	case int32:
		return integer(strconv.FormatInt(int64(t), 10)), nil
	case int64:
		return integer(strconv.FormatInt(int64(t), 10)), nil
	case uint:
		return integer(strconv.FormatUint(uint64(t), 10)), nil
	case uint8:
		return integer(strconv.FormatUint(uint64(t), 10)), nil
	case uint16:
		return integer(strconv.FormatUint(uint64(t), 10)), nil
	case uint32:
		return integer(strconv.FormatUint(uint64(t), 10)), nil
	case uint64:
		return integer(strconv.FormatUint(uint64(t), 10)), nil
	case []any:
		items := make([]Value, len(t))
		for i, item := range t {
			v, err := fromAny(item, path+"["+strconv.Itoa(i)+"]")
			if err != nil {
				return Value{}, err
			}
			items[i] = v
		}
		return Value{kind: KindArray, arr: items}, nil
	case map[string]any:
		fields := make(map[string]Value, len(t))
		for k, item := range t {
			v, err := fromAny(item, path+"."+k)
			if err != nil {
				return Value{}, err
			}
			fields[k] = v
		}
		return Value{kind: KindObject, obj: fields}, nil
	case map[string]string:
		fields := make(map[string]Value, len(t))
		for k, s := range t {
			fields[k] = String(s)
		}
		return Value{kind: KindObject, obj: fields}, nil
	}

	// Typed slices and maps, e.g. []string or map[string]int.
	rv := reflect.ValueOf(x)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		items := make([]Value, rv.Len())
		for i := range items {
			v, err := fromAny(rv.Index(i).Interface(), path+"["+strconv.Itoa(i)+"]")
			if err != nil {
				return Value{}, err
			}
			items[i] = v
		}
		return Value{kind: KindArray, arr: items}, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return Value{}, errorf(path, nil, "map key type %s is not string", rv.Type().Key())
		}
		fields := make(map[string]Value, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			k := iter.Key().String()
			v, err := fromAny(iter.Value().Interface(), path+"."+k)
			if err != nil {
				return Value{}, err
			}
			fields[k] = v
		}
		return Value{kind: KindObject, obj: fields}, nil
	}
	return Value{}, errorf(path, nil, "unsupported type %T", x)
}

// integer wraps decimal integer text, which is already canonical.
func integer(text string) Value {
	f, _ := strconv.ParseFloat(text, 64)
	return Value{kind: KindNumber, n: f, num: text}
}

func finite(f float64, path string) (Value, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Value{}, errorf(path, errNonFinite, "invalid number")
	}
	return Number(f), nil
}

// MarshalJSON renders v in canonical form.
func (v Value) MarshalJSON() ([]byte, error) {
	s, err := Canonicalize(v)
	if err != nil {
		return nil, err
	}
	return []byte(s), nil
}

// UnmarshalJSON parses data with Parse.
func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// GoString supports %#v in test failure output.
func (v Value) GoString() string {
	s, err := Canonicalize(v)
	if err != nil {
		return fmt.Sprintf("canonical.Value(<%v>)", err)
	}
	return "canonical.Value(" + s + ")"
}
