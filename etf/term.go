package etf

import (
	"bytes"
	"math/big"
	"unicode/utf8"
)

// Term is a value of the external term format. The concrete types are
// Atom, SmallInt, BigInt, Float, Binary, List, Tuple and Map.
type Term interface {
	isTerm()
}

// Atom is a named constant. Well-known atoms are nil, true and false.
type Atom string

// SmallInt is an integer that fits the 32-bit signed range.
type SmallInt int32

// BigInt is an arbitrary precision integer. A nil pointer is treated as zero.
type BigInt struct {
	Int *big.Int
}

// Float is a 64-bit IEEE float.
type Float float64

// Binary is a byte string. Text values are always encoded as binaries.
// The slice must not be modified once it is part of a term.
type Binary []byte

// List is a proper list of terms.
type List []Term

// Tuple is a fixed arity sequence of terms.
type Tuple []Term

// Pair is a single map entry.
type Pair struct {
	Key   Term
	Value Term
}

// Map is an ordered sequence of entries. Keys are not required to be unique,
// lookups take the last matching entry.
type Map []Pair

func (Atom) isTerm()     {}
func (SmallInt) isTerm() {}
func (BigInt) isTerm()   {}
func (Float) isTerm()    {}
func (Binary) isTerm()   {}
func (List) isTerm()     {}
func (Tuple) isTerm()    {}
func (Map) isTerm()      {}

// Well-known atoms.
const (
	Nil   = Atom("nil")
	True  = Atom("true")
	False = Atom("false")
)

// Bool returns the atom representing b.
func Bool(b bool) Atom {
	if b {
		return True
	}

	return False
}

// String returns s as a binary.
func String(s string) Binary {
	return Binary(s)
}

// Int returns v as a small integer.
func Int(v int32) SmallInt {
	return SmallInt(v)
}

// Int64 returns v as a big integer. 64-bit values are always encoded as big
// integers so that they never overflow the 32-bit integer tag.
func Int64(v int64) BigInt {
	return BigInt{Int: big.NewInt(v)}
}

// Uint64 returns v as a big integer.
func Uint64(v uint64) BigInt {
	return BigInt{Int: new(big.Int).SetUint64(v)}
}

// NewBigInt returns a copy of v as a big integer term.
func NewBigInt(v *big.Int) BigInt {
	return BigInt{Int: new(big.Int).Set(v)}
}

// Value returns the integer value, never nil.
func (b BigInt) Value() *big.Int {
	if b.Int == nil {
		return new(big.Int)
	}

	return b.Int
}

// Text returns the binary as a string if it is valid UTF-8.
func (b Binary) Text() (string, bool) {
	if !utf8.Valid(b) {
		return "", false
	}

	return string(b), true
}

// IsBool reports whether the atom is true or false.
func (a Atom) IsBool() bool {
	return a == True || a == False
}

// KeyName returns the textual name of a map key. Atoms and UTF-8 binaries are
// accepted, anything else is reported as not ok.
func KeyName(t Term) (string, bool) {
	switch k := t.(type) {
	case Atom:
		return string(k), true
	case Binary:
		return k.Text()
	default:
		return "", false
	}
}

// Get returns the value of the last entry whose key is name, as an atom or a
// UTF-8 binary.
func (m Map) Get(name string) (Term, bool) {
	for i := len(m) - 1; i >= 0; i-- {
		if key, ok := KeyName(m[i].Key); ok && key == name {
			return m[i].Value, true
		}
	}

	return nil, false
}

// IntValue returns the integer held by t if t is a SmallInt or a BigInt that
// fits in 64 bits.
func IntValue(t Term) (int64, bool) {
	switch v := t.(type) {
	case SmallInt:
		return int64(v), true
	case BigInt:
		if !v.Value().IsInt64() {
			return 0, false
		}

		return v.Value().Int64(), true
	default:
		return 0, false
	}
}

// Equal reports whether a and b are structurally equal. Big integers are
// compared by value.
func Equal(a, b Term) bool {
	switch x := a.(type) {
	case Atom:
		y, ok := b.(Atom)
		return ok && x == y
	case SmallInt:
		y, ok := b.(SmallInt)
		return ok && x == y
	case BigInt:
		y, ok := b.(BigInt)
		return ok && x.Value().Cmp(y.Value()) == 0
	case Float:
		y, ok := b.(Float)
		return ok && x == y
	case Binary:
		y, ok := b.(Binary)
		return ok && bytes.Equal(x, y)
	case List:
		y, ok := b.(List)
		return ok && equalSlices(x, y)
	case Tuple:
		y, ok := b.(Tuple)
		return ok && equalSlices(x, y)
	case Map:
		y, ok := b.(Map)
		if !ok || len(x) != len(y) {
			return false
		}

		for i := range x {
			if !Equal(x[i].Key, y[i].Key) || !Equal(x[i].Value, y[i].Value) {
				return false
			}
		}

		return true
	case nil:
		return b == nil
	default:
		return false
	}
}

func equalSlices(a, b []Term) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if !Equal(a[i], b[i]) {
			return false
		}
	}

	return true
}
