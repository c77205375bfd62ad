package internal

import (
	"fmt"
	"strings"

	"github.com/WelcomerTeam/Sandwich-Gateway/pkg/zlibstream"
	"github.com/WelcomerTeam/czlib"
)

// CompressionMode selects how binary frames from the gateway are compressed.
type CompressionMode string

const (
	// Every frame is part of one zlib stream shared by the whole connection.
	CompressionZlibStream CompressionMode = "zlib-stream"
	// Every frame is an independent zlib payload.
	CompressionPayload CompressionMode = "payload"
	// Frames are not compressed.
	CompressionNone CompressionMode = "none"
)

// ParseCompressionMode returns the mode for name. An empty name is the
// default zlib-stream mode.
func ParseCompressionMode(name string) (CompressionMode, error) {
	switch CompressionMode(strings.ToLower(name)) {
	case "", CompressionZlibStream:
		return CompressionZlibStream, nil
	case CompressionPayload:
		return CompressionPayload, nil
	case CompressionNone:
		return CompressionNone, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrConfigurationValidateCompression, name)
	}
}

// frameDecompressor turns binary frames into complete payloads.
type frameDecompressor interface {
	Feed(raw []byte) (payload []byte, complete bool, err error)
	ConsecutiveFailures() int
}

func newFrameDecompressor(mode CompressionMode, maxPending int) frameDecompressor {
	switch mode {
	case CompressionPayload:
		return &payloadDecompressor{}
	case CompressionNone:
		return &rawDecompressor{}
	default:
		return zlibstream.NewInflater(maxPending)
	}
}

type payloadDecompressor struct {
	failures int
}

func (pd *payloadDecompressor) Feed(raw []byte) ([]byte, bool, error) {
	payload, err := czlib.Decompress(raw)
	if err != nil {
		pd.failures++

		return nil, false, fmt.Errorf("failed to decompress payload: %w", err)
	}

	pd.failures = 0

	return payload, true, nil
}

func (pd *payloadDecompressor) ConsecutiveFailures() int {
	return pd.failures
}

type rawDecompressor struct{}

func (rawDecompressor) Feed(raw []byte) ([]byte, bool, error) {
	return raw, true, nil
}

func (rawDecompressor) ConsecutiveFailures() int {
	return 0
}
