package etf

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"sort"
)

// Field is a single entry of an Object.
type Field struct {
	Key   string
	Value any
}

// Object describes a map whose entries keep the order they were listed in.
type Object []Field

// From builds a term from a nested Go value. Maps keyed by strings are
// emitted with sorted keys, use Object when the order matters.
func From(v any) (Term, error) {
	return from(v, 0)
}

// MustFrom is like From but panics on error. It is meant for literals.
func MustFrom(v any) Term {
	t, err := From(v)
	if err != nil {
		panic(err)
	}

	return t
}

func from(v any, depth int) (Term, error) {
	if depth > MaxDepth {
		return nil, fmt.Errorf("%w: %w", ErrBuild, ErrTooDeep)
	}

	switch x := v.(type) {
	case nil:
		return Nil, nil
	case Term:
		return x, nil
	case bool:
		return Bool(x), nil
	case string:
		return Binary(x), nil
	case []byte:
		return Binary(x), nil
	case int8:
		return SmallInt(x), nil
	case int16:
		return SmallInt(x), nil
	case int32:
		return SmallInt(x), nil
	case uint8:
		return SmallInt(x), nil
	case uint16:
		return SmallInt(x), nil
	case int:
		return Int64(int64(x)), nil
	case int64:
		return Int64(x), nil
	case uint:
		return Uint64(uint64(x)), nil
	case uint32:
		return Uint64(uint64(x)), nil
	case uint64:
		return Uint64(x), nil
	case float32:
		return Float(x), nil
	case float64:
		return Float(x), nil
	case *big.Int:
		if x == nil {
			return Nil, nil
		}

		return NewBigInt(x), nil
	case json.Number:
		return fromNumber(x)
	case Object:
		m := make(Map, len(x))

		for i, field := range x {
			value, err := from(field.Value, depth+1)
			if err != nil {
				return nil, err
			}

			m[i] = Pair{Key: Atom(field.Key), Value: value}
		}

		return m, nil
	case map[string]any:
		keys := make([]string, 0, len(x))
		for key := range x {
			keys = append(keys, key)
		}

		sort.Strings(keys)

		m := make(Map, len(keys))

		for i, key := range keys {
			value, err := from(x[key], depth+1)
			if err != nil {
				return nil, err
			}

			m[i] = Pair{Key: Atom(key), Value: value}
		}

		return m, nil
	case []any:
		list := make(List, len(x))

		for i, element := range x {
			term, err := from(element, depth+1)
			if err != nil {
				return nil, err
			}

			list[i] = term
		}

		return list, nil
	}

	return fromReflect(reflect.ValueOf(v), depth)
}

func fromNumber(n json.Number) (Term, error) {
	if i, err := n.Int64(); err == nil {
		if i >= math.MinInt32 && i <= math.MaxInt32 {
			return SmallInt(i), nil
		}

		return Int64(i), nil
	}

	if b, ok := new(big.Int).SetString(n.String(), 10); ok {
		return BigInt{Int: b}, nil
	}

	f, err := n.Float64()
	if err != nil {
		return nil, fmt.Errorf("%w: number %q: %w", ErrBuild, n.String(), err)
	}

	return Float(f), nil
}

func fromReflect(rv reflect.Value, depth int) (Term, error) {
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return Nil, nil
		}

		return from(rv.Elem().Interface(), depth+1)
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return List{}, nil
		}

		list := make(List, rv.Len())

		for i := 0; i < rv.Len(); i++ {
			term, err := from(rv.Index(i).Interface(), depth+1)
			if err != nil {
				return nil, err
			}

			list[i] = term
		}

		return list, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("%w: map key %s", ErrBuild, rv.Type().Key())
		}

		keys := make([]string, 0, rv.Len())
		values := make(map[string]reflect.Value, rv.Len())

		iter := rv.MapRange()
		for iter.Next() {
			key := iter.Key().String()
			keys = append(keys, key)
			values[key] = iter.Value()
		}

		sort.Strings(keys)

		m := make(Map, len(keys))

		for i, key := range keys {
			value, err := from(values[key].Interface(), depth+1)
			if err != nil {
				return nil, err
			}

			m[i] = Pair{Key: Atom(key), Value: value}
		}

		return m, nil
	case reflect.String:
		return Binary(rv.String()), nil
	case reflect.Bool:
		return Bool(rv.Bool()), nil
	case reflect.Int8, reflect.Int16, reflect.Int32:
		return SmallInt(rv.Int()), nil
	case reflect.Uint8, reflect.Uint16:
		return SmallInt(rv.Uint()), nil
	case reflect.Int, reflect.Int64:
		return Int64(rv.Int()), nil
	case reflect.Uint, reflect.Uint32, reflect.Uint64:
		return Uint64(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return Float(rv.Float()), nil
	}

	if !rv.IsValid() {
		return Nil, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrBuild, rv.Type())
}
