package etf

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"math/big"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zlib"
	"golang.org/x/text/encoding/charmap"
)

// MaxDepth is the deepest nesting of lists, tuples and maps Decode accepts.
const MaxDepth = 512

// Tags of the external term format.
const (
	tagVersion        = 131
	tagCompressed     = 80
	tagNewFloat       = 70
	tagSmallInteger   = 97
	tagInteger        = 98
	tagFloat          = 99
	tagAtom           = 100
	tagSmallTuple     = 104
	tagLargeTuple     = 105
	tagNil            = 106
	tagString         = 107
	tagList           = 108
	tagBinary         = 109
	tagSmallBig       = 110
	tagLargeBig       = 111
	tagSmallAtom      = 115
	tagMap            = 116
	tagAtomUTF8       = 118
	tagSmallAtomUTF8  = 119
	legacyFloatLength = 31
)

type decoder struct {
	data []byte
	pos  int
}

// Decode parses a complete term, including the leading version byte.
func Decode(data []byte) (Term, error) {
	if len(data) == 0 || data[0] != tagVersion {
		return nil, fmt.Errorf("%w: %w", ErrDecode, ErrInvalidVersion)
	}

	body := data[1:]

	if len(body) > 0 && body[0] == tagCompressed {
		inflated, err := inflateTerm(body[1:])
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDecode, err)
		}

		body = inflated
	}

	dec := &decoder{data: body}

	term, err := dec.term(0)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	if dec.pos != len(dec.data) {
		return nil, fmt.Errorf("%w: %w (%d bytes)", ErrDecode, ErrTrailingBytes, len(dec.data)-dec.pos)
	}

	return term, nil
}

func inflateTerm(data []byte) ([]byte, error) {
	if len(data) < 4 {
		return nil, ErrTruncated
	}

	size := binary.BigEndian.Uint32(data)

	reader, err := zlib.NewReader(bytes.NewReader(data[4:]))
	if err != nil {
		return nil, fmt.Errorf("compressed term: %w", err)
	}
	defer reader.Close()

	out := make([]byte, 0, min(int(size), len(data)*8))
	buf := bytes.NewBuffer(out)

	n, err := io.Copy(buf, io.LimitReader(reader, int64(size)+1))
	if err != nil {
		return nil, fmt.Errorf("compressed term: %w", err)
	}

	if n != int64(size) {
		return nil, fmt.Errorf("compressed term: expected %d bytes, got %d: %w", size, n, ErrTruncated)
	}

	return buf.Bytes(), nil
}

func (d *decoder) remaining() int {
	return len(d.data) - d.pos
}

func (d *decoder) take(n int) ([]byte, error) {
	if n < 0 || d.remaining() < n {
		return nil, ErrTruncated
	}

	b := d.data[d.pos : d.pos+n]
	d.pos += n

	return b, nil
}

func (d *decoder) uint8() (uint8, error) {
	b, err := d.take(1)
	if err != nil {
		return 0, err
	}

	return b[0], nil
}

func (d *decoder) uint16() (uint16, error) {
	b, err := d.take(2)
	if err != nil {
		return 0, err
	}

	return binary.BigEndian.Uint16(b), nil
}

func (d *decoder) uint32() (uint32, error) {
	b, err := d.take(4)
	if err != nil {
		return 0, err
	}

	return binary.BigEndian.Uint32(b), nil
}

// count reads an element count and rejects counts that could not possibly
// fit in the remaining input.
func (d *decoder) count(wide bool, perElement int) (int, error) {
	var n int

	if wide {
		v, err := d.uint32()
		if err != nil {
			return 0, err
		}

		n = int(v)
	} else {
		v, err := d.uint8()
		if err != nil {
			return 0, err
		}

		n = int(v)
	}

	if n*perElement > d.remaining() {
		return 0, ErrTruncated
	}

	return n, nil
}

func (d *decoder) term(depth int) (Term, error) {
	if depth > MaxDepth {
		return nil, ErrTooDeep
	}

	tag, err := d.uint8()
	if err != nil {
		return nil, err
	}

	switch tag {
	case tagSmallInteger:
		v, err := d.uint8()
		if err != nil {
			return nil, err
		}

		return SmallInt(v), nil
	case tagInteger:
		v, err := d.uint32()
		if err != nil {
			return nil, err
		}

		return SmallInt(int32(v)), nil
	case tagNewFloat:
		b, err := d.take(8)
		if err != nil {
			return nil, err
		}

		return Float(math.Float64frombits(binary.BigEndian.Uint64(b))), nil
	case tagFloat:
		b, err := d.take(legacyFloatLength)
		if err != nil {
			return nil, err
		}

		v, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimRight(string(b), "\x00")), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidFloat, err)
		}

		return Float(v), nil
	case tagAtom, tagAtomUTF8:
		n, err := d.uint16()
		if err != nil {
			return nil, err
		}

		return d.atom(int(n), tag == tagAtom)
	case tagSmallAtom, tagSmallAtomUTF8:
		n, err := d.uint8()
		if err != nil {
			return nil, err
		}

		return d.atom(int(n), tag == tagSmallAtom)
	case tagSmallTuple, tagLargeTuple:
		n, err := d.count(tag == tagLargeTuple, 1)
		if err != nil {
			return nil, err
		}

		elements, err := d.terms(n, depth)
		if err != nil {
			return nil, err
		}

		return Tuple(elements), nil
	case tagNil:
		return List{}, nil
	case tagString:
		n, err := d.uint16()
		if err != nil {
			return nil, err
		}

		b, err := d.take(int(n))
		if err != nil {
			return nil, err
		}

		list := make(List, len(b))
		for i, c := range b {
			list[i] = SmallInt(c)
		}

		return list, nil
	case tagList:
		n, err := d.count(true, 1)
		if err != nil {
			return nil, err
		}

		elements, err := d.terms(n, depth)
		if err != nil {
			return nil, err
		}

		tail, err := d.uint8()
		if err != nil {
			return nil, err
		}

		if tail != tagNil {
			return nil, ErrImproperList
		}

		return List(elements), nil
	case tagBinary:
		n, err := d.uint32()
		if err != nil {
			return nil, err
		}

		b, err := d.take(int(n))
		if err != nil {
			return nil, err
		}

		return Binary(bytes.Clone(b)), nil
	case tagSmallBig, tagLargeBig:
		n, err := d.count(tag == tagLargeBig, 1)
		if err != nil {
			return nil, err
		}

		return d.bigInt(n)
	case tagMap:
		n, err := d.count(true, 2)
		if err != nil {
			return nil, err
		}

		m := make(Map, n)

		for i := 0; i < n; i++ {
			key, err := d.term(depth + 1)
			if err != nil {
				return nil, err
			}

			value, err := d.term(depth + 1)
			if err != nil {
				return nil, err
			}

			m[i] = Pair{Key: key, Value: value}
		}

		return m, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedTag, tag)
	}
}

func (d *decoder) terms(n int, depth int) ([]Term, error) {
	elements := make([]Term, n)

	for i := 0; i < n; i++ {
		element, err := d.term(depth + 1)
		if err != nil {
			return nil, err
		}

		elements[i] = element
	}

	return elements, nil
}

func (d *decoder) atom(n int, latin1 bool) (Term, error) {
	b, err := d.take(n)
	if err != nil {
		return nil, err
	}

	if !latin1 {
		return Atom(b), nil
	}

	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
	if err != nil {
		return nil, fmt.Errorf("latin1 atom: %w", err)
	}

	return Atom(decoded), nil
}

func (d *decoder) bigInt(n int) (Term, error) {
	sign, err := d.uint8()
	if err != nil {
		return nil, err
	}

	digits, err := d.take(n)
	if err != nil {
		return nil, err
	}

	// Digits are little-endian on the wire.
	magnitude := make([]byte, n)
	for i, b := range digits {
		magnitude[n-1-i] = b
	}

	v := new(big.Int).SetBytes(magnitude)
	if sign != 0 {
		v.Neg(v)
	}

	return BigInt{Int: v}, nil
}
