// Package zlibstream reassembles a zlib-stream transport, where every message
// is terminated by a sync flush and all messages share one compression
// context, into individual decompressed payloads.
package zlibstream

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
	"golang.org/x/xerrors"
)

// WindowSize is the size of the deflate history window.
const WindowSize = 32 * 1024

// DefaultMaxPending is used when no limit is passed to NewInflater.
const DefaultMaxPending = 16 * 1024 * 1024

var (
	ErrCorrupt          = xerrors.New("zlib stream is corrupt")
	ErrPendingTooLarge  = xerrors.New("zlib stream message exceeds the pending limit")
	errInvalidHeader    = xerrors.New("invalid zlib header")
	errPresetDictionary = xerrors.New("preset dictionaries are not supported")
)

var syncFlushSuffix = []byte{0x00, 0x00, 0xff, 0xff}

// Inflater decompresses one zlib stream. It is not safe for concurrent use.
type Inflater struct {
	reader io.ReadCloser

	pending []byte
	history []byte

	maxPending int
	failures   int

	headerRead bool
}

// NewInflater returns an inflater for a fresh stream. A maxPending of zero
// or less uses DefaultMaxPending.
func NewInflater(maxPending int) *Inflater {
	if maxPending <= 0 {
		maxPending = DefaultMaxPending
	}

	return &Inflater{
		maxPending: maxPending,
	}
}

// Feed appends raw to the pending bytes. When they end with a sync flush the
// complete message is decompressed and returned. Otherwise nothing is
// returned and the bytes are kept for the next call.
//
// On error the pending bytes are dropped. The history of previous messages
// is kept either way.
func (i *Inflater) Feed(raw []byte) (payload []byte, complete bool, err error) {
	i.pending = append(i.pending, raw...)

	if len(i.pending) > i.maxPending {
		size := len(i.pending)
		i.clearPending()
		i.failures++

		return nil, false, fmt.Errorf("%w: %d bytes", ErrPendingTooLarge, size)
	}

	if len(i.pending) < len(syncFlushSuffix) || !bytes.HasSuffix(i.pending, syncFlushSuffix) {
		return nil, false, nil
	}

	payload, err = i.inflate(i.pending)
	i.clearPending()

	if err != nil {
		i.failures++

		return nil, false, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	i.failures = 0

	return payload, true, nil
}

// ConsecutiveFailures returns how many messages in a row failed to inflate.
func (i *Inflater) ConsecutiveFailures() int {
	return i.failures
}

// Pending returns the number of bytes waiting for a sync flush.
func (i *Inflater) Pending() int {
	return len(i.pending)
}

// Reset prepares the inflater for a brand-new stream.
func (i *Inflater) Reset() {
	i.clearPending()
	i.history = nil
	i.headerRead = false
	i.failures = 0
}

func (i *Inflater) clearPending() {
	// Keep the buffer unless a single message made it unusually large.
	if cap(i.pending) > WindowSize*4 {
		i.pending = nil
	} else {
		i.pending = i.pending[:0]
	}
}

func (i *Inflater) inflate(data []byte) ([]byte, error) {
	if !i.headerRead {
		if err := checkHeader(data); err != nil {
			return nil, err
		}

		data = data[2:]
		i.headerRead = true
	}

	src := bytes.NewReader(data)

	if i.reader == nil {
		i.reader = flate.NewReaderDict(src, i.history)
	} else if err := i.reader.(flate.Resetter).Reset(src, i.history); err != nil {
		return nil, err
	}

	out, err := io.ReadAll(i.reader)

	// A sync flush ends mid stream, so running out of input is expected.
	// A final block ends with io.EOF which ReadAll reports as nil.
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, err
	}

	i.remember(out)

	return out, nil
}

func (i *Inflater) remember(out []byte) {
	if len(out) >= WindowSize {
		i.history = append(i.history[:0], out[len(out)-WindowSize:]...)

		return
	}

	i.history = append(i.history, out...)

	if len(i.history) > WindowSize {
		i.history = append(i.history[:0], i.history[len(i.history)-WindowSize:]...)
	}
}

func checkHeader(data []byte) error {
	if len(data) < 2 {
		return errInvalidHeader
	}

	cmf, flg := data[0], data[1]

	if cmf&0x0f != 8 || cmf>>4 > 7 || (uint16(cmf)<<8|uint16(flg))%31 != 0 {
		return errInvalidHeader
	}

	if flg&0x20 != 0 {
		return errPresetDictionary
	}

	return nil
}
