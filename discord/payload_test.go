package discord_test

import (
	"math/big"
	"testing"

	"github.com/WelcomerTeam/Sandwich-Gateway/discord"
	"github.com/WelcomerTeam/Sandwich-Gateway/etf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewReceivedPayloadHello(t *testing.T) {
	t.Parallel()

	term := etf.Map{
		{Key: etf.Atom("op"), Value: etf.SmallInt(10)},
		{Key: etf.Atom("d"), Value: etf.Map{
			{Key: etf.Atom("heartbeat_interval"), Value: etf.SmallInt(41250)},
		}},
		{Key: etf.Atom("s"), Value: etf.SmallInt(3)},
		{Key: etf.Atom("t"), Value: etf.Atom("READY")},
	}

	payload, err := discord.NewReceivedPayload(2, term)
	require.NoError(t, err)

	assert.Equal(t, int32(2), payload.ShardID)
	assert.Equal(t, discord.GatewayOpHello, payload.Op)
	assert.Equal(t, map[string]any{"heartbeat_interval": float64(41250)}, payload.Data)
	assert.Nil(t, payload.Sequence)
	assert.Nil(t, payload.Type)
}

func TestNewReceivedPayloadDispatch(t *testing.T) {
	t.Parallel()

	term := etf.Map{
		{Key: etf.String("t"), Value: etf.String("MESSAGE_CREATE")},
		{Key: etf.String("s"), Value: etf.Int64(42)},
		{Key: etf.String("op"), Value: etf.SmallInt(0)},
		{Key: etf.String("d"), Value: etf.Map{
			{Key: etf.Atom("content"), Value: etf.String("hi")},
		}},
	}

	payload, err := discord.NewReceivedPayload(0, term)
	require.NoError(t, err)

	assert.Equal(t, discord.GatewayOpDispatch, payload.Op)
	require.NotNil(t, payload.Sequence)
	assert.Equal(t, int64(42), *payload.Sequence)
	require.NotNil(t, payload.Type)
	assert.Equal(t, "MESSAGE_CREATE", *payload.Type)
	assert.Equal(t, "MESSAGE_CREATE", payload.EventName())
	assert.Equal(t, map[string]any{"content": "hi"}, payload.Data)
}

func TestNewReceivedPayloadMissingData(t *testing.T) {
	t.Parallel()

	payload, err := discord.NewReceivedPayload(0, etf.Map{
		{Key: etf.Atom("op"), Value: etf.SmallInt(11)},
	})
	require.NoError(t, err)

	assert.Equal(t, discord.GatewayOpHeartbeatACK, payload.Op)
	assert.Nil(t, payload.Data)
}

func TestNewReceivedPayloadSkipsNonTextKeys(t *testing.T) {
	t.Parallel()

	payload, err := discord.NewReceivedPayload(0, etf.Map{
		{Key: etf.SmallInt(1), Value: etf.String("ignored")},
		{Key: etf.Atom("op"), Value: etf.SmallInt(7)},
	})
	require.NoError(t, err)
	assert.Equal(t, discord.GatewayOpReconnect, payload.Op)
}

func TestNewReceivedPayloadErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		term     etf.Term
		expected error
	}{
		{"not a map", etf.List{etf.SmallInt(1)}, discord.ErrPayloadNotMap},
		{"missing op", etf.Map{{Key: etf.Atom("d"), Value: etf.Nil}}, discord.ErrPayloadMissingOp},
		{"op is text", etf.Map{{Key: etf.Atom("op"), Value: etf.String("10")}}, discord.ErrPayloadInvalidOp},
		{"op out of range", etf.Map{{Key: etf.Atom("op"), Value: etf.SmallInt(300)}}, discord.ErrPayloadInvalidOp},
		{"op negative", etf.Map{{Key: etf.Atom("op"), Value: etf.SmallInt(-1)}}, discord.ErrPayloadInvalidOp},
	}

	for _, tc := range tests {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			payload, err := discord.NewReceivedPayload(0, tc.term)
			assert.Nil(t, payload)
			assert.ErrorIs(t, err, tc.expected)
		})
	}
}

func TestSentPayloadToBuffer(t *testing.T) {
	t.Parallel()

	payload := &discord.SentPayload{
		ShardID: 1,
		Op:      discord.GatewayOpHeartbeat,
		Data:    etf.SmallInt(251),
	}

	b, err := payload.ToBuffer()
	require.NoError(t, err)

	assert.Equal(t, []byte{
		131, 116, 0, 0, 0, 2,
		119, 2, 'o', 'p', 97, 1,
		119, 1, 'd', 97, 251,
	}, b)

	term, err := etf.Decode(b)
	require.NoError(t, err)

	m, ok := term.(etf.Map)
	require.True(t, ok)

	op, ok := m.Get("op")
	require.True(t, ok)
	assert.Equal(t, etf.SmallInt(1), op)
}

func TestSentPayloadToBufferNilData(t *testing.T) {
	t.Parallel()

	b, err := (&discord.SentPayload{Op: discord.GatewayOpHeartbeat}).ToBuffer()
	require.NoError(t, err)

	term, err := etf.Decode(b)
	require.NoError(t, err)

	d, ok := term.(etf.Map).Get("d")
	require.True(t, ok)
	assert.Equal(t, etf.Nil, d)
}

func TestSentPayloadToBufferInvalidOp(t *testing.T) {
	t.Parallel()

	for _, op := range []discord.GatewayOp{
		discord.GatewayOpDispatch,
		discord.GatewayOpHello,
		discord.GatewayOpHeartbeatACK,
		discord.GatewayOp(5),
	} {
		_, err := (&discord.SentPayload{Op: op}).ToBuffer()
		assert.ErrorIs(t, err, discord.ErrInvalidSendOp, op.String())
	}
}

func TestValueFromTerm(t *testing.T) {
	t.Parallel()

	beyond := new(big.Int).Lsh(big.NewInt(1), 60)

	tests := []struct {
		name     string
		term     etf.Term
		expected any
	}{
		{"nil", etf.Nil, nil},
		{"true", etf.True, true},
		{"false", etf.False, false},
		{"atom", etf.Atom("online"), "online"},
		{"small int", etf.SmallInt(-5), float64(-5)},
		{"big int", etf.Int64(1 << 40), float64(1 << 40)},
		{"big int beyond float", etf.NewBigInt(beyond), "1152921504606846976"},
		{"float", etf.Float(0.5), 0.5},
		{"binary", etf.String("text"), "text"},
		{"invalid utf8", etf.Binary{0xff, 0xfe}, nil},
		{"list", etf.List{etf.SmallInt(1), etf.Nil}, []any{float64(1), nil}},
		{"tuple", etf.Tuple{etf.Atom("a")}, []any{"a"}},
		{"map", etf.Map{
			{Key: etf.Atom("a"), Value: etf.SmallInt(1)},
			{Key: etf.SmallInt(9), Value: etf.True},
			{Key: etf.String("a"), Value: etf.SmallInt(2)},
		}, map[string]any{"a": float64(2), discord.InvalidKey: true}},
	}

	for _, tc := range tests {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tc.expected, discord.ValueFromTerm(tc.term))
		})
	}
}

func TestIdentifyTerm(t *testing.T) {
	t.Parallel()

	identify := &discord.Identify{
		Token:    "token",
		Intents:  513,
		Compress: true,
		Properties: &discord.IdentifyProperties{
			OS:      "linux",
			Browser: "Sandwich",
			Device:  "Sandwich",
		},
		Shard: &[2]int32{1, 4},
	}

	term, err := identify.Term()
	require.NoError(t, err)

	value, ok := discord.ValueFromTerm(term).(map[string]any)
	require.True(t, ok)

	assert.Equal(t, "token", value["token"])
	assert.Equal(t, float64(513), value["intents"])
	assert.Equal(t, true, value["compress"])
	assert.Equal(t, []any{float64(1), float64(4)}, value["shard"])
	assert.Equal(t, map[string]any{"os": "linux", "browser": "Sandwich", "device": "Sandwich"}, value["properties"])
}

func TestGatewayOpString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "HELLO", discord.GatewayOpHello.String())
	assert.Equal(t, "UNKNOWN_5", discord.GatewayOp(5).String())
	assert.True(t, discord.GatewayOpRequestGuildMembers.IsSendable())
	assert.False(t, discord.GatewayOpReconnect.IsSendable())
}
