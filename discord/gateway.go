package discord

import (
	"strconv"

	"github.com/WelcomerTeam/Sandwich-Gateway/etf"
)

// gateway.go contains the opcodes and commands used on the gateway.

// GatewayOp represents the operation codes of a gateway message.
type GatewayOp uint8

const (
	GatewayOpDispatch GatewayOp = iota
	GatewayOpHeartbeat
	GatewayOpIdentify
	GatewayOpStatusUpdate
	GatewayOpVoiceStateUpdate
	_
	GatewayOpResume
	GatewayOpReconnect
	GatewayOpRequestGuildMembers
	GatewayOpInvalidSession
	GatewayOpHello
	GatewayOpHeartbeatACK
)

var gatewayOpNames = map[GatewayOp]string{
	GatewayOpDispatch:            "DISPATCH",
	GatewayOpHeartbeat:           "HEARTBEAT",
	GatewayOpIdentify:            "IDENTIFY",
	GatewayOpStatusUpdate:        "PRESENCE_UPDATE",
	GatewayOpVoiceStateUpdate:    "VOICE_STATE_UPDATE",
	GatewayOpResume:              "RESUME",
	GatewayOpReconnect:           "RECONNECT",
	GatewayOpRequestGuildMembers: "REQUEST_GUILD_MEMBERS",
	GatewayOpInvalidSession:      "INVALID_SESSION",
	GatewayOpHello:               "HELLO",
	GatewayOpHeartbeatACK:        "HEARTBEAT_ACK",
}

func (op GatewayOp) String() string {
	if name, ok := gatewayOpNames[op]; ok {
		return name
	}

	return "UNKNOWN_" + strconv.Itoa(int(op))
}

// IsSendable reports whether op may be sent by a client.
func (op GatewayOp) IsSendable() bool {
	switch op {
	case GatewayOpHeartbeat,
		GatewayOpIdentify,
		GatewayOpStatusUpdate,
		GatewayOpVoiceStateUpdate,
		GatewayOpResume,
		GatewayOpRequestGuildMembers:
		return true
	default:
		return false
	}
}

// Gateway close codes.
const (
	CloseUnknownError = 4000 + iota
	CloseUnknownOpCode
	CloseDecodeError
	CloseNotAuthenticated
	CloseAuthenticationFailed
	CloseAlreadyAuthenticated
	_
	CloseInvalidSeq
	CloseRateLimited
	CloseSessionTimeout
	CloseInvalidShard
	CloseShardingRequired
	CloseInvalidAPIVersion
	CloseInvalidIntents
	CloseDisallowedIntents
)

// Gateway Commands

// Identify represents the initial handshake with the gateway.
type Identify struct {
	Properties     *IdentifyProperties
	Token          string
	Shard          *[2]int32
	LargeThreshold int32
	Intents        int64
	Compress       bool
}

// IdentifyProperties are the extra properties sent in the identify packet.
type IdentifyProperties struct {
	OS      string
	Browser string
	Device  string
}

// Term builds the "d" value of an identify payload.
func (i *Identify) Term() (etf.Term, error) {
	properties := &IdentifyProperties{}
	if i.Properties != nil {
		properties = i.Properties
	}

	fields := etf.Object{
		{Key: "token", Value: i.Token},
		{Key: "intents", Value: i.Intents},
		{Key: "compress", Value: i.Compress},
		{Key: "properties", Value: etf.Object{
			{Key: "os", Value: properties.OS},
			{Key: "browser", Value: properties.Browser},
			{Key: "device", Value: properties.Device},
		}},
	}

	if i.LargeThreshold > 0 {
		fields = append(fields, etf.Field{Key: "large_threshold", Value: i.LargeThreshold})
	}

	if i.Shard != nil {
		fields = append(fields, etf.Field{Key: "shard", Value: i.Shard[:]})
	}

	return etf.From(fields)
}
