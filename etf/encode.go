package etf

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/valyala/bytebufferpool"
)

// Encode serializes t with the leading version byte. Map entries keep their
// order so the output is deterministic.
func Encode(t Term) ([]byte, error) {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	_ = buf.WriteByte(tagVersion)

	if err := encodeTerm(buf, t, 0); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncode, err)
	}

	out := make([]byte, buf.Len())
	copy(out, buf.B)

	return out, nil
}

func writeUint16(buf *bytebufferpool.ByteBuffer, v uint16) {
	buf.B = binary.BigEndian.AppendUint16(buf.B, v)
}

func writeUint32(buf *bytebufferpool.ByteBuffer, v uint32) {
	buf.B = binary.BigEndian.AppendUint32(buf.B, v)
}

func writeLength(buf *bytebufferpool.ByteBuffer, n int) error {
	if uint64(n) > math.MaxUint32 {
		return fmt.Errorf("%w: %d", ErrTooLarge, n)
	}

	writeUint32(buf, uint32(n))

	return nil
}

func encodeTerm(buf *bytebufferpool.ByteBuffer, t Term, depth int) error {
	if depth > MaxDepth {
		return ErrTooDeep
	}

	switch v := t.(type) {
	case nil:
		return ErrNilTerm
	case Atom:
		return encodeAtom(buf, v)
	case SmallInt:
		if v >= 0 && v <= math.MaxUint8 {
			_ = buf.WriteByte(tagSmallInteger)
			_ = buf.WriteByte(byte(v))
		} else {
			_ = buf.WriteByte(tagInteger)
			writeUint32(buf, uint32(v))
		}
	case BigInt:
		return encodeBigInt(buf, v)
	case Float:
		_ = buf.WriteByte(tagNewFloat)
		buf.B = binary.BigEndian.AppendUint64(buf.B, math.Float64bits(float64(v)))
	case Binary:
		_ = buf.WriteByte(tagBinary)

		if err := writeLength(buf, len(v)); err != nil {
			return err
		}

		_, _ = buf.Write(v)
	case List:
		if len(v) == 0 {
			_ = buf.WriteByte(tagNil)

			return nil
		}

		_ = buf.WriteByte(tagList)

		if err := writeLength(buf, len(v)); err != nil {
			return err
		}

		for _, element := range v {
			if err := encodeTerm(buf, element, depth+1); err != nil {
				return err
			}
		}

		_ = buf.WriteByte(tagNil)
	case Tuple:
		if len(v) <= math.MaxUint8 {
			_ = buf.WriteByte(tagSmallTuple)
			_ = buf.WriteByte(byte(len(v)))
		} else {
			_ = buf.WriteByte(tagLargeTuple)

			if err := writeLength(buf, len(v)); err != nil {
				return err
			}
		}

		for _, element := range v {
			if err := encodeTerm(buf, element, depth+1); err != nil {
				return err
			}
		}
	case Map:
		_ = buf.WriteByte(tagMap)

		if err := writeLength(buf, len(v)); err != nil {
			return err
		}

		for _, pair := range v {
			if err := encodeTerm(buf, pair.Key, depth+1); err != nil {
				return err
			}

			if err := encodeTerm(buf, pair.Value, depth+1); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedTag, t)
	}

	return nil
}

func encodeAtom(buf *bytebufferpool.ByteBuffer, a Atom) error {
	switch {
	case len(a) <= math.MaxUint8:
		_ = buf.WriteByte(tagSmallAtomUTF8)
		_ = buf.WriteByte(byte(len(a)))
	case len(a) <= math.MaxUint16:
		_ = buf.WriteByte(tagAtomUTF8)
		writeUint16(buf, uint16(len(a)))
	default:
		return fmt.Errorf("%w: atom of %d bytes", ErrTooLarge, len(a))
	}

	_, _ = buf.WriteString(string(a))

	return nil
}

func encodeBigInt(buf *bytebufferpool.ByteBuffer, b BigInt) error {
	v := b.Value()

	magnitude := v.Bytes()
	if len(magnitude) == 0 {
		magnitude = []byte{0}
	}

	if len(magnitude) <= math.MaxUint8 {
		_ = buf.WriteByte(tagSmallBig)
		_ = buf.WriteByte(byte(len(magnitude)))
	} else {
		_ = buf.WriteByte(tagLargeBig)

		if err := writeLength(buf, len(magnitude)); err != nil {
			return err
		}
	}

	if v.Sign() < 0 {
		_ = buf.WriteByte(1)
	} else {
		_ = buf.WriteByte(0)
	}

	// big.Int.Bytes is big-endian, the wire is little-endian.
	for i := len(magnitude) - 1; i >= 0; i-- {
		_ = buf.WriteByte(magnitude[i])
	}

	return nil
}
