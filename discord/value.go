package discord

import (
	"math/big"
	"unicode/utf8"

	"github.com/WelcomerTeam/Sandwich-Gateway/etf"
	"github.com/savsgio/gotils/strconv"
)

// InvalidKey replaces map keys that are neither atoms nor UTF-8 binaries.
const InvalidKey = "INVALID_KEY"

var (
	maxSafeInteger = big.NewInt(1 << 53)
	minSafeInteger = big.NewInt(-(1 << 53))
)

// ValueFromTerm converts a term into a generic JSON-like value made of nil,
// bool, float64, string, []any and map[string]any.
//
// Big integers outside of ±2^53 cannot be held exactly by a float64 and are
// returned as their decimal string. Binaries that are not valid UTF-8 become
// nil. Duplicate map keys keep the last value.
func ValueFromTerm(term etf.Term) any {
	switch v := term.(type) {
	case etf.Atom:
		switch v {
		case etf.Nil:
			return nil
		case etf.True:
			return true
		case etf.False:
			return false
		default:
			return string(v)
		}
	case etf.SmallInt:
		return float64(v)
	case etf.BigInt:
		i := v.Value()
		if i.Cmp(maxSafeInteger) > 0 || i.Cmp(minSafeInteger) < 0 {
			return i.String()
		}

		return float64(i.Int64())
	case etf.Float:
		return float64(v)
	case etf.Binary:
		if !utf8.Valid(v) {
			return nil
		}

		// Terms are never mutated once built.
		return strconv.B2S(v)
	case etf.List:
		return valuesFromTerms(v)
	case etf.Tuple:
		return valuesFromTerms(v)
	case etf.Map:
		m := make(map[string]any, len(v))

		for _, pair := range v {
			key, ok := etf.KeyName(pair.Key)
			if !ok {
				key = InvalidKey
			}

			m[key] = ValueFromTerm(pair.Value)
		}

		return m
	default:
		return nil
	}
}

func valuesFromTerms(terms []etf.Term) []any {
	values := make([]any, len(terms))

	for i, term := range terms {
		values[i] = ValueFromTerm(term)
	}

	return values
}
