package internal_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/WelcomerTeam/Sandwich-Gateway/discord"
	"github.com/WelcomerTeam/Sandwich-Gateway/etf"
	"github.com/WelcomerTeam/Sandwich-Gateway/internal"
	"github.com/WelcomerTeam/Sandwich-Gateway/internal/structs"
	"github.com/WelcomerTeam/Sandwich-Gateway/sandwichjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"nhooyr.io/websocket"
)

func writeConfiguration(t *testing.T, contents string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "sandwich.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	return path
}

func newTestSandwich(t *testing.T, contents string) *internal.Sandwich {
	t.Helper()

	sg, err := internal.NewSandwich(io.Discard, internal.SandwichOptions{
		ConfigurationLocation: writeConfiguration(t, contents),
	})
	require.NoError(t, err)

	t.Cleanup(func() { _ = sg.Close() })

	return sg
}

func TestValidateConfiguration(t *testing.T) {
	t.Parallel()

	valid := func() internal.ManagerConfiguration {
		mc := internal.ManagerConfiguration{Identifier: "welcomer"}
		mc.Gateway.URL = "wss://gateway.discord.gg"
		mc.Sharding.ShardCount = 1

		return mc
	}

	testCases := []struct {
		name     string
		modify   func(c *internal.SandwichConfiguration)
		expected error
	}{
		{
			name:   "valid",
			modify: func(c *internal.SandwichConfiguration) {},
		},
		{
			name: "missing identifier",
			modify: func(c *internal.SandwichConfiguration) {
				c.Managers[0].Identifier = ""
			},
			expected: internal.ErrConfigurationValidateIdentifier,
		},
		{
			name: "duplicate identifier",
			modify: func(c *internal.SandwichConfiguration) {
				c.Managers = append(c.Managers, valid())
			},
			expected: internal.ErrConfigurationValidateDuplicate,
		},
		{
			name: "unknown compression",
			modify: func(c *internal.SandwichConfiguration) {
				c.Managers[0].Gateway.Compression = "brotli"
			},
			expected: internal.ErrConfigurationValidateCompression,
		},
		{
			name: "missing shard count",
			modify: func(c *internal.SandwichConfiguration) {
				c.Managers[0].Sharding.ShardCount = 0
			},
			expected: internal.ErrConfigurationValidateSharding,
		},
		{
			name: "auto sharded without token",
			modify: func(c *internal.SandwichConfiguration) {
				c.Managers[0].Sharding.AutoSharded = true
			},
			expected: internal.ErrConfigurationValidateSharding,
		},
		{
			name: "discovery without token",
			modify: func(c *internal.SandwichConfiguration) {
				c.Managers[0].Gateway.URL = ""
			},
			expected: internal.ErrManagerNoGateway,
		},
		{
			name: "negative inflate errors",
			modify: func(c *internal.SandwichConfiguration) {
				c.Managers[0].Gateway.MaxConsecutiveInflateErrors = -1
			},
			expected: internal.ErrConfigurationValidateInflateRetries,
		},
		{
			name: "unknown producer",
			modify: func(c *internal.SandwichConfiguration) {
				c.Producer.Type = "carrier-pigeon"
			},
			expected: internal.ErrConfigurationValidateProducer,
		},
	}

	for _, tc := range testCases {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			configuration := internal.SandwichConfiguration{
				Managers: []internal.ManagerConfiguration{valid()},
			}

			tc.modify(&configuration)

			err := internal.ValidateConfiguration(&configuration)
			if tc.expected == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tc.expected)
			}
		})
	}
}

func TestNewSandwichConfiguration(t *testing.T) {
	t.Parallel()

	sg := newTestSandwich(t, `
producer:
  type: redis
  configuration:
    address: localhost:6379
managers:
  - identifier: welcomer
    friendly_name: Welcomer
    gateway:
      url: wss://gateway.discord.gg
      compression: payload
      max_reconnect_wait: 30s
    sharding:
      shard_count: 2
`)

	require.Len(t, sg.Configuration.Managers, 1)

	mc := sg.Configuration.Managers[0]
	assert.Equal(t, "welcomer", mc.Identifier)
	assert.Equal(t, "Welcomer", mc.FriendlyName)
	assert.Equal(t, "payload", mc.Gateway.Compression)
	assert.Equal(t, 30*time.Second, mc.Gateway.MaxReconnectWait)
	assert.Equal(t, int32(2), mc.Sharding.ShardCount)
	assert.Equal(t, "redis", sg.Configuration.Producer.Type)
	assert.Equal(t, "localhost:6379", internal.GetEntry(sg.Configuration.Producer.Configuration, "Address"))

	path := filepath.Join(t.TempDir(), "saved.yaml")
	require.NoError(t, sg.SaveConfiguration(&sg.Configuration, path))

	loaded, err := sg.LoadConfiguration(path)
	require.NoError(t, err)
	assert.Equal(t, sg.Configuration.Managers, loaded.Managers)
}

func TestNewSandwichInvalidConfiguration(t *testing.T) {
	t.Parallel()

	_, err := internal.NewSandwich(io.Discard, internal.SandwichOptions{
		ConfigurationLocation: writeConfiguration(t, "managers:\n  - friendly_name: missing\n"),
	})
	assert.ErrorIs(t, err, internal.ErrLoadConfigurationFailure)
	assert.ErrorIs(t, err, internal.ErrConfigurationValidateIdentifier)

	_, err = internal.NewSandwich(io.Discard, internal.SandwichOptions{
		ConfigurationLocation: filepath.Join(t.TempDir(), "missing.yaml"),
	})
	assert.ErrorIs(t, err, internal.ErrReadConfigurationFailure)
}

func doRequest(sg *internal.Sandwich, method string, uri string, body string) *fasthttp.RequestCtx {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(uri)
	ctx.Request.SetBodyString(body)

	sg.HandleRequest(ctx)

	return ctx
}

func TestSendEndpoint(t *testing.T) {
	t.Parallel()

	frames := make(chan receivedFrame, 4)

	gw := newTestGateway(t, func(ctx context.Context, index int, conn *websocket.Conn) {
		_ = readFrames(ctx, index, conn, frames)
	})

	sg := newTestSandwich(t, `
managers:
  - identifier: welcomer
    gateway:
      url: `+gw.URL+`
    sharding:
      shard_count: 1
`)

	require.NoError(t, sg.Open())

	mg, err := sg.GetManager("welcomer")
	require.NoError(t, err)

	_, err = mg.AddShard(context.Background(), gw.URL)
	require.NoError(t, err)

	testCases := []struct {
		name   string
		uri    string
		body   string
		status int
	}{
		{
			name:   "unknown manager",
			uri:    "/api/managers/unknown/send",
			body:   `{"shard_id":0,"op":1,"d":1}`,
			status: fasthttp.StatusNotFound,
		},
		{
			name:   "unknown shard",
			uri:    "/api/managers/welcomer/send",
			body:   `{"shard_id":5,"op":1,"d":1}`,
			status: fasthttp.StatusNotFound,
		},
		{
			name:   "receive only opcode",
			uri:    "/api/managers/welcomer/send",
			body:   `{"shard_id":0,"op":10}`,
			status: fasthttp.StatusBadRequest,
		},
		{
			name:   "malformed body",
			uri:    "/api/managers/welcomer/send",
			body:   `{"shard_id":`,
			status: fasthttp.StatusBadRequest,
		},
	}

	for _, tc := range testCases {
		ctx := doRequest(sg, fasthttp.MethodPost, tc.uri, tc.body)
		assert.Equal(t, tc.status, ctx.Response.StatusCode(), tc.name)

		var response structs.BaseRestResponse
		require.NoError(t, sandwichjson.Unmarshal(ctx.Response.Body(), &response), tc.name)
		assert.False(t, response.Ok, tc.name)
		assert.NotEmpty(t, response.Error, tc.name)
	}

	ctx := doRequest(sg, fasthttp.MethodPost, "/api/managers/welcomer/send",
		`{"shard_id":0,"op":8,"d":{"guild_id":"341685098468343822","query":"","limit":0,"presences":false,"user_ids":[123456789012345678]}}`)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode(), string(ctx.Response.Body()))

	frame := nextFrame(t, frames)
	m := frame.Term.(etf.Map)

	op, _ := m.Get("op")
	assert.True(t, etf.Equal(etf.SmallInt(discord.GatewayOpRequestGuildMembers), op))

	d, ok := m.Get("d")
	require.True(t, ok)

	expected := etf.Map{
		{Key: etf.Atom("guild_id"), Value: etf.String("341685098468343822")},
		{Key: etf.Atom("limit"), Value: etf.SmallInt(0)},
		{Key: etf.Atom("presences"), Value: etf.False},
		{Key: etf.Atom("query"), Value: etf.String("")},
		{Key: etf.Atom("user_ids"), Value: etf.List{etf.Uint64(123456789012345678)}},
	}
	assert.True(t, etf.Equal(expected, d), "got %#v", d)
}

func TestStatusEndpoint(t *testing.T) {
	t.Parallel()

	sg := newTestSandwich(t, `
managers:
  - identifier: b
    gateway:
      url: ws://localhost
    sharding:
      shard_count: 1
  - identifier: a
    friendly_name: First
    gateway:
      url: ws://localhost
    sharding:
      shard_count: 1
`)

	require.NoError(t, sg.Open())

	ctx := doRequest(sg, fasthttp.MethodGet, "/api/status", "")
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

	var response struct {
		Data structs.StatusEndpointResponse `json:"data"`
		Ok   bool                           `json:"ok"`
	}

	require.NoError(t, sandwichjson.Unmarshal(ctx.Response.Body(), &response))
	assert.True(t, response.Ok)

	require.Len(t, response.Data.Managers, 2)
	assert.Equal(t, "a", response.Data.Managers[0].Identifier)
	assert.Equal(t, "First", response.Data.Managers[0].DisplayName)
	assert.Equal(t, "b", response.Data.Managers[1].Identifier)
	assert.Empty(t, response.Data.Managers[0].Shards)
	assert.True(t, response.Data.Managers[0].Finished)
}

func TestRelayIdentifiesOnHello(t *testing.T) {
	t.Parallel()

	frames := make(chan receivedFrame, 4)

	gw := newTestGateway(t, func(ctx context.Context, index int, conn *websocket.Conn) {
		encoder := newStreamEncoder(t)

		if err := conn.Write(ctx, websocket.MessageBinary, encoder.frame(helloTerm())); err != nil {
			return
		}

		_ = readFrames(ctx, index, conn, frames)
	})

	sg := newTestSandwich(t, `
managers:
  - identifier: welcomer
    token: test-token
    bot:
      intents: 513
    gateway:
      url: `+gw.URL+`
    sharding:
      shard_count: 1
`)

	require.NoError(t, sg.Open())

	mg, err := sg.GetManager("welcomer")
	require.NoError(t, err)

	require.NoError(t, sg.OpenManager(context.Background(), mg))

	frame := nextFrame(t, frames)
	m := frame.Term.(etf.Map)

	op, _ := m.Get("op")
	assert.True(t, etf.Equal(etf.SmallInt(discord.GatewayOpIdentify), op))

	d, ok := m.Get("d")
	require.True(t, ok)

	identify, ok := d.(etf.Map)
	require.True(t, ok)

	token, _ := identify.Get("token")
	assert.True(t, etf.Equal(etf.String("test-token"), token))

	intents, _ := identify.Get("intents")
	assert.True(t, etf.Equal(etf.Int64(513), intents))

	shard, _ := identify.Get("shard")
	assert.True(t, etf.Equal(etf.List{etf.SmallInt(0), etf.SmallInt(1)}, shard))
}

func TestClientGetGatewayBot(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v10/gateway/bot" {
			w.WriteHeader(http.StatusNotFound)

			return
		}

		if r.Header.Get("Authorization") != "Bot test-token" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"401: Unauthorized","code":0}`))

			return
		}

		_, _ = w.Write([]byte(`{"url":"wss://gateway.discord.gg","shards":4,"session_start_limit":{"total":1000,"remaining":999,"reset_after":14400000,"max_concurrency":1}}`))
	}))
	t.Cleanup(server.Close)

	base, err := url.Parse(server.URL)
	require.NoError(t, err)

	gateway, err := internal.NewClient(*base, "test-token").GetGatewayBot(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "wss://gateway.discord.gg", gateway.URL)
	assert.Equal(t, int32(4), gateway.Shards)
	assert.Equal(t, int32(999), gateway.SessionStartLimit.Remaining)
	assert.Equal(t, int32(1), gateway.SessionStartLimit.MaxConcurrency)

	_, err = internal.NewClient(*base, "wrong-token").GetGatewayBot(context.Background())
	assert.ErrorIs(t, err, internal.ErrGatewayUnavailable)
	assert.ErrorIs(t, err, internal.ErrInvalidToken)
}

type publishedMessage struct {
	Channel string
	Data    []byte
}

// memoryMQClient keeps everything published to it.
type memoryMQClient struct {
	channel   string
	published chan publishedMessage
	closed    atomic.Bool
}

func newMemoryMQClient(channel string) *memoryMQClient {
	return &memoryMQClient{
		channel:   channel,
		published: make(chan publishedMessage, 16),
	}
}

func (m *memoryMQClient) String() string {
	return "memory"
}

func (m *memoryMQClient) Channel() string {
	return m.channel
}

func (m *memoryMQClient) Connect(_ context.Context, _ string, _ map[string]interface{}) error {
	return nil
}

func (m *memoryMQClient) Publish(ctx context.Context, channelName string, data []byte) error {
	select {
	case m.published <- publishedMessage{Channel: channelName, Data: bytes.Clone(data)}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *memoryMQClient) IsClosed() bool {
	return m.closed.Load()
}

func (m *memoryMQClient) Close() {
	m.closed.Store(true)
}

func (m *memoryMQClient) next(t *testing.T) (string, map[string]any) {
	t.Helper()

	select {
	case msg := <-m.published:
		var payload map[string]any

		require.NoError(t, sandwichjson.Unmarshal(msg.Data, &payload))

		return msg.Channel, payload
	case <-time.After(testTimeout):
		t.Fatal("nothing was published")
	}

	return "", nil
}

func TestRelayPublishesMessages(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name               string
		messaging          string
		expectedChannel    string
		expectedIdentifier string
	}{
		{
			name:               "producer defaults",
			expectedChannel:    "sandwich",
			expectedIdentifier: "welcomer",
		},
		{
			name: "configured",
			messaging: `
    producer_identifier: welcomer-production
    messaging:
      channel_name: events`,
			expectedChannel:    "events",
			expectedIdentifier: "welcomer-production",
		},
	}

	for _, tc := range testCases {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			gw := newTestGateway(t, func(ctx context.Context, _ int, conn *websocket.Conn) {
				encoder := newStreamEncoder(t)

				for _, term := range []etf.Term{helloTerm(), dispatchTerm(6, "MESSAGE_CREATE")} {
					if err := conn.Write(ctx, websocket.MessageBinary, encoder.frame(term)); err != nil {
						return
					}
				}

				holdOpen(ctx, conn)
			})

			sg := newTestSandwich(t, `
managers:
  - identifier: welcomer`+tc.messaging+`
    gateway:
      url: `+gw.URL+`
    sharding:
      shard_count: 1
`)

			producer := newMemoryMQClient("sandwich")
			sg.ProducerClient = producer

			require.NoError(t, sg.Open())

			mg, err := sg.GetManager("welcomer")
			require.NoError(t, err)

			require.NoError(t, sg.OpenManager(context.Background(), mg))

			channel, hello := producer.next(t)
			assert.Equal(t, tc.expectedChannel, channel)
			assert.Equal(t, float64(discord.GatewayOpHello), hello["op"])
			assert.NotContains(t, hello, "t")
			assert.NotContains(t, hello, "s")

			metadata, ok := hello["__sandwich"].(map[string]any)
			require.True(t, ok)
			assert.Equal(t, internal.VERSION, metadata["v"])
			assert.Equal(t, tc.expectedIdentifier, metadata["i"])
			assert.Equal(t, "welcomer", metadata["a"])
			assert.Equal(t, []any{float64(0), float64(1)}, metadata["s"])

			channel, dispatch := producer.next(t)
			assert.Equal(t, tc.expectedChannel, channel)
			assert.Equal(t, float64(discord.GatewayOpDispatch), dispatch["op"])
			assert.Equal(t, "MESSAGE_CREATE", dispatch["t"])
			assert.Equal(t, float64(6), dispatch["s"])
			assert.Equal(t, map[string]any{"id": "1"}, dispatch["d"])
		})
	}
}

func TestOpenManagerRetryIdentifiesEachShardOnce(t *testing.T) {
	t.Parallel()

	frames := make(chan receivedFrame, 16)

	var handshakes atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		index := int(handshakes.Add(1)) - 1

		// The second shard of the first attempt cannot connect.
		if index == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)

			return
		}

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}

		defer conn.Close(websocket.StatusInternalError, "")

		encoder := newStreamEncoder(t)

		if err := conn.Write(r.Context(), websocket.MessageBinary, encoder.frame(helloTerm())); err != nil {
			return
		}

		_ = readFrames(r.Context(), index, conn, frames)
	}))
	t.Cleanup(server.Close)

	sg := newTestSandwich(t, `
managers:
  - identifier: welcomer
    token: test-token
    gateway:
      url: ws`+strings.TrimPrefix(server.URL, "http")+`
    sharding:
      shard_count: 2
`)

	require.NoError(t, sg.Open())

	mg, err := sg.GetManager("welcomer")
	require.NoError(t, err)

	require.NoError(t, sg.OpenManager(context.Background(), mg))
	assert.Equal(t, int32(4), handshakes.Load())

	identifies := make(map[int][]etf.Term)

	collect := func(frame receivedFrame) {
		m := frame.Term.(etf.Map)

		op, _ := m.Get("op")
		if !etf.Equal(etf.SmallInt(discord.GatewayOpIdentify), op) {
			return
		}

		d, _ := m.Get("d")
		shard, _ := d.(etf.Map).Get("shard")

		identifies[frame.Connection] = append(identifies[frame.Connection], shard)
	}

	for len(identifies[2]) == 0 || len(identifies[3]) == 0 {
		collect(nextFrame(t, frames))
	}

	// Give a duplicate identify time to arrive.
	deadline := time.After(300 * time.Millisecond)

	for done := false; !done; {
		select {
		case frame := <-frames:
			collect(frame)
		case <-deadline:
			done = true
		}
	}

	require.Len(t, identifies[2], 1)
	assert.True(t, etf.Equal(etf.List{etf.SmallInt(0), etf.SmallInt(2)}, identifies[2][0]))

	require.Len(t, identifies[3], 1)
	assert.True(t, etf.Equal(etf.List{etf.SmallInt(1), etf.SmallInt(2)}, identifies[3][0]))
}
