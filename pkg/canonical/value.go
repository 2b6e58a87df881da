// Package canonical implements the deterministic serialization used as
// hashing and signing input by the ledger.
//
// Structured data is modelled as a closed Value variant (object, array,
// string, number, bool, null). Canonicalize renders a Value with object keys
// sorted by UTF-16 code units at every level, arrays in original order and
// no insignificant whitespace (RFC 8785). Numbers keep their exact decimal
// digits: trailing fractional zeros are dropped, -0 becomes 0, and the
// layout follows ECMAScript number formatting.
package canonical

import (
	"math"
	"sort"

	"github.com/gowebpki/jcs"
)

// Kind identifies which variant a Value holds.
type Kind uint8

const (
	// KindNull is the zero Kind, so the zero Value is JSON null.
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// Value is an immutable structured value. The zero Value is null.
//
// A number keeps its exact decimal digits in num, already in canonical
// form; n is the nearest float64 and only serves AsNumber.
type Value struct {
	kind Kind
	b    bool
	n    float64
	num  string
	s    string
	arr  []Value
	obj  map[string]Value
}

// Null returns the null value.
func Null() Value { return Value{} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Number returns a numeric value. Non-finite numbers are accepted here but
// rejected by Canonicalize.
func Number(n float64) Value {
	v := Value{kind: KindNumber, n: n}
	if !math.IsNaN(n) && !math.IsInf(n, 0) {
		if n == 0 {
			v.num = "0"
		} else if s, err := jcs.NumberToJSON(n); err == nil {
			v.num = s
		}
	}
	return v
}

// Decimal returns a numeric value holding exactly the number written as
// JSON number text. Digits beyond float64 precision are kept.
func Decimal(text string) (Value, error) {
	num, f, err := normalizeDecimal(text)
	if err != nil {
		return Value{}, err
	}
	return Value{kind: KindNumber, n: f, num: num}, nil
}

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Array returns an array value holding a copy of items.
func Array(items ...Value) Value {
	cp := make([]Value, len(items))
	copy(cp, items)
	return Value{kind: KindArray, arr: cp}
}

// Object returns an object value holding a copy of fields.
func Object(fields map[string]Value) Value {
	cp := make(map[string]Value, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	return Value{kind: KindObject, obj: cp}
}

// EmptyObject returns {}.
func EmptyObject() Value { return Value{kind: KindObject, obj: map[string]Value{}} }

// Kind reports the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the boolean held by v.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsNumber returns the number held by v, rounded to the nearest float64.
func (v Value) AsNumber() (float64, bool) { return v.n, v.kind == KindNumber }

// AsDecimal returns the exact canonical text of the number held by v.
func (v Value) AsDecimal() (string, bool) { return v.num, v.kind == KindNumber && v.num != "" }

// AsString returns the string held by v.
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// Len returns the number of array items or object fields.
func (v Value) Len() int {
	switch v.kind {
	case KindArray:
		return len(v.arr)
	case KindObject:
		return len(v.obj)
	default:
		return 0
	}
}

// Items returns a copy of the array items, or nil if v is not an array.
func (v Value) Items() []Value {
	if v.kind != KindArray {
		return nil
	}
	cp := make([]Value, len(v.arr))
	copy(cp, v.arr)
	return cp
}

// Field looks up a key of an object value.
func (v Value) Field(key string) (Value, bool) {
	if v.kind != KindObject {
		return Value{}, false
	}
	f, ok := v.obj[key]
	return f, ok
}

// Keys returns the object keys in canonical order.
func (v Value) Keys() []string {
	if v.kind != KindObject {
		return nil
	}
	keys := make([]string, 0, len(v.obj))
	for k := range v.obj {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return compareUTF16(keys[i], keys[j]) < 0 })
	return keys
}

// With returns a copy of the object v with key set to field. A non-object
// receiver is treated as an empty object.
func (v Value) With(key string, field Value) Value {
	out := Value{kind: KindObject, obj: make(map[string]Value, len(v.obj)+1)}
	if v.kind == KindObject {
		for k, f := range v.obj {
			out.obj[k] = f
		}
	}
	out.obj[key] = field
	return out
}

// ObjectOrEmpty maps null to {} and returns any other value unchanged.
// Payloads go through it so an absent payload and {} hash identically.
func ObjectOrEmpty(v Value) Value {
	if v.kind == KindNull {
		return EmptyObject()
	}
	return v
}
