package internal_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/WelcomerTeam/Sandwich-Gateway/etf"
	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
)

const testTimeout = 5 * time.Second

// receivedFrame is a binary frame written by a shard to the test gateway.
type receivedFrame struct {
	Term       etf.Term
	Connection int
}

// testGateway is an in-process gateway. Every accepted connection is handed
// to handler along with its index, starting at zero.
type testGateway struct {
	server *httptest.Server

	URL string

	queries     chan url.Values
	connections atomic.Int32
}

func newTestGateway(t *testing.T, handler func(ctx context.Context, index int, conn *websocket.Conn)) *testGateway {
	t.Helper()

	gw := &testGateway{
		queries: make(chan url.Values, 16),
	}

	gw.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}

		defer conn.Close(websocket.StatusInternalError, "")

		select {
		case gw.queries <- r.URL.Query():
		default:
		}

		index := int(gw.connections.Add(1)) - 1

		handler(r.Context(), index, conn)
	}))

	t.Cleanup(gw.server.Close)

	gw.URL = "ws" + strings.TrimPrefix(gw.server.URL, "http")

	return gw
}

func (gw *testGateway) nextQuery(t *testing.T) url.Values {
	t.Helper()

	select {
	case query := <-gw.queries:
		return query
	case <-time.After(testTimeout):
		t.Fatal("no connection was made to the gateway")
	}

	return nil
}

// readFrames decodes every binary frame from conn into frames until the
// connection closes. The close error is returned.
func readFrames(ctx context.Context, index int, conn *websocket.Conn, frames chan<- receivedFrame) error {
	for {
		messageType, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		if messageType != websocket.MessageBinary {
			continue
		}

		term, err := etf.Decode(data)
		if err != nil {
			continue
		}

		select {
		case frames <- receivedFrame{Connection: index, Term: term}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func nextFrame(t *testing.T, frames <-chan receivedFrame) receivedFrame {
	t.Helper()

	select {
	case frame := <-frames:
		return frame
	case <-time.After(testTimeout):
		t.Fatal("gateway did not receive a frame")
	}

	return receivedFrame{}
}

// streamEncoder produces zlib-stream frames, each ending with a sync flush.
type streamEncoder struct {
	t      *testing.T
	buf    bytes.Buffer
	writer *zlib.Writer
}

func newStreamEncoder(t *testing.T) *streamEncoder {
	t.Helper()

	se := &streamEncoder{t: t}
	se.writer = zlib.NewWriter(&se.buf)

	return se
}

func (se *streamEncoder) frame(term etf.Term) []byte {
	se.t.Helper()

	data, err := etf.Encode(term)
	require.NoError(se.t, err)

	_, err = se.writer.Write(data)
	require.NoError(se.t, err)
	require.NoError(se.t, se.writer.Flush())

	frame := bytes.Clone(se.buf.Bytes())
	se.buf.Reset()

	return frame
}

func helloTerm() etf.Term {
	return etf.MustFrom(etf.Object{
		{Key: "op", Value: int32(10)},
		{Key: "d", Value: etf.Object{
			{Key: "heartbeat_interval", Value: int32(41250)},
		}},
		{Key: "s", Value: int32(5)},
		{Key: "t", Value: etf.Nil},
	})
}

func dispatchTerm(sequence int32, eventType string) etf.Term {
	return etf.MustFrom(etf.Object{
		{Key: "op", Value: int32(0)},
		{Key: "d", Value: etf.Object{
			{Key: "id", Value: "1"},
		}},
		{Key: "s", Value: sequence},
		{Key: "t", Value: etf.Atom(eventType)},
	})
}

// holdOpen blocks until the client closes the connection.
func holdOpen(ctx context.Context, conn *websocket.Conn) {
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
	}
}
