package crdt

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrTypeMismatch  = errors.New("value type mismatch")
	ErrNotFound      = errors.New("value not found")
	ErrSerialization = errors.New("malformed delta payload")
)

// Kind tags a Value variant.
type Kind string

const (
	KindString  Kind = "str"
	KindInt     Kind = "int"
	KindBool    Kind = "bool"
	KindList    Kind = "list"
	KindMap     Kind = "map"
	KindDeleted Kind = "del"
)

// Value is the closed tagged variant used by the built-in stores.
// KindDeleted is the tombstone: a real value that records a deletion and
// participates in merge ordering like any other write.
type Value struct {
	Kind Kind             `json:"k"`
	Str  string           `json:"s,omitempty"`
	Int  int64            `json:"i,omitempty"`
	Bool bool             `json:"b,omitempty"`
	List []Value          `json:"l,omitempty"`
	Map  map[string]Value `json:"m,omitempty"`
}

func String(s string) Value      { return Value{Kind: KindString, Str: s} }
func Int(i int64) Value          { return Value{Kind: KindInt, Int: i} }
func Bool(b bool) Value          { return Value{Kind: KindBool, Bool: b} }
func List(vs ...Value) Value     { return Value{Kind: KindList, List: vs} }
func Map(m map[string]Value) Value {
	if m == nil {
		m = make(map[string]Value)
	}
	return Value{Kind: KindMap, Map: m}
}
func Deleted() Value { return Value{Kind: KindDeleted} }

// IsDeleted reports whether the value is a tombstone.
func (v Value) IsDeleted() bool {
	return v.Kind == KindDeleted
}

// StringValue returns the string payload or ErrTypeMismatch.
func (v Value) StringValue() (string, error) {
	if v.Kind != KindString {
		return "", fmt.Errorf("%w: want %s, got %s", ErrTypeMismatch, KindString, v.Kind)
	}
	return v.Str, nil
}

// IntValue returns the integer payload or ErrTypeMismatch.
func (v Value) IntValue() (int64, error) {
	if v.Kind != KindInt {
		return 0, fmt.Errorf("%w: want %s, got %s", ErrTypeMismatch, KindInt, v.Kind)
	}
	return v.Int, nil
}

// BoolValue returns the boolean payload or ErrTypeMismatch.
func (v Value) BoolValue() (bool, error) {
	if v.Kind != KindBool {
		return false, fmt.Errorf("%w: want %s, got %s", ErrTypeMismatch, KindBool, v.Kind)
	}
	return v.Bool, nil
}

// MapValue returns the nested map payload or ErrTypeMismatch.
func (v Value) MapValue() (map[string]Value, error) {
	if v.Kind != KindMap {
		return nil, fmt.Errorf("%w: want %s, got %s", ErrTypeMismatch, KindMap, v.Kind)
	}
	return v.Map, nil
}

// ListValue returns the list payload or ErrTypeMismatch.
func (v Value) ListValue() ([]Value, error) {
	if v.Kind != KindList {
		return nil, fmt.Errorf("%w: want %s, got %s", ErrTypeMismatch, KindList, v.Kind)
	}
	return v.List, nil
}

func (v Value) validate() error {
	switch v.Kind {
	case KindString, KindInt, KindBool, KindDeleted:
		return nil
	case KindList:
		for _, el := range v.List {
			if err := el.validate(); err != nil {
				return err
			}
		}
		return nil
	case KindMap:
		for _, el := range v.Map {
			if err := el.validate(); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown value kind %q", ErrSerialization, v.Kind)
	}
}

// UnmarshalValue parses a serialized value, rejecting unknown kinds.
func UnmarshalValue(data []byte) (Value, error) {
	var v Value
	if err := json.Unmarshal(data, &v); err != nil {
		return Value{}, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	if err := v.validate(); err != nil {
		return Value{}, err
	}
	return v, nil
}
