package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// ValueKind enumerates the closed set of scalar shapes a behavioral indicator
// may carry. There is deliberately no "any" kind: the flexible-schema intent of
// the capture surface is preserved by the allowlist, not by runtime reflection.
type ValueKind int

const (
	KindString ValueKind = iota
	KindInt
	KindFloat
	KindBool
	KindStringList
)

// String returns the kind name.
func (k ValueKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindStringList:
		return "string_list"
	default:
		return "unknown"
	}
}

// Value is a tagged scalar: exactly one of the payload fields is meaningful,
// selected by Kind.
type Value struct {
	Kind ValueKind
	Str  string
	Int  int64
	Flt  float64
	Bool bool
	List []string
}

// Constructors for each kind.

func String(s string) Value       { return Value{Kind: KindString, Str: s} }
func Int(i int64) Value           { return Value{Kind: KindInt, Int: i} }
func Float(f float64) Value       { return Value{Kind: KindFloat, Flt: f} }
func Bool(b bool) Value           { return Value{Kind: KindBool, Bool: b} }
func StringList(s []string) Value { return Value{Kind: KindStringList, List: s} }

// Strings returns every string the value carries, for pattern scanning.
// Non-string kinds yield nothing.
func (v Value) Strings() []string {
	switch v.Kind {
	case KindString:
		return []string{v.Str}
	case KindStringList:
		return v.List
	default:
		return nil
	}
}

// MarshalJSON encodes the value as its bare scalar form.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindString:
		return json.Marshal(v.Str)
	case KindInt:
		return json.Marshal(v.Int)
	case KindFloat:
		return json.Marshal(v.Flt)
	case KindBool:
		return json.Marshal(v.Bool)
	case KindStringList:
		if v.List == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.List)
	default:
		return nil, fmt.Errorf("%w: %d", ErrInvalidValueKind, v.Kind)
	}
}

// UnmarshalJSON decodes a bare scalar into a tagged Value. Numbers without a
// fractional part decode as KindInt.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}

	switch t := raw.(type) {
	case string:
		*v = String(t)
	case bool:
		*v = Bool(t)
	case json.Number:
		if i, err := strconv.ParseInt(t.String(), 10, 64); err == nil {
			*v = Int(i)
			return nil
		}
		f, err := t.Float64()
		if err != nil {
			return err
		}
		*v = Float(f)
	case []any:
		list := make([]string, 0, len(t))
		for _, elem := range t {
			s, ok := elem.(string)
			if !ok {
				return fmt.Errorf("%w: list element %T", ErrInvalidValueKind, elem)
			}
			list = append(list, s)
		}
		*v = StringList(list)
	default:
		return fmt.Errorf("%w: %T", ErrInvalidValueKind, raw)
	}
	return nil
}

// Equal reports deep equality of two values.
func (v Value) Equal(other Value) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case KindString:
		return v.Str == other.Str
	case KindInt:
		return v.Int == other.Int
	case KindFloat:
		return v.Flt == other.Flt
	case KindBool:
		return v.Bool == other.Bool
	case KindStringList:
		if len(v.List) != len(other.List) {
			return false
		}
		for i := range v.List {
			if v.List[i] != other.List[i] {
				return false
			}
		}
		return true
	default:
		return false
	}
}
