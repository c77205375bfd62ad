package discord

import (
	"fmt"
	"math"

	"github.com/WelcomerTeam/Sandwich-Gateway/etf"
	"github.com/WelcomerTeam/Sandwich-Gateway/sandwichjson"
	"github.com/savsgio/gotils/strconv"
)

// ReceivedPayload is a decoded message received from the gateway.
// Sequence and Type are only set on dispatches.
type ReceivedPayload struct {
	Data     any       `json:"d"`
	Sequence *int64    `json:"s,omitempty"`
	Type     *string   `json:"t,omitempty"`
	ShardID  int32     `json:"shard_id"`
	Op       GatewayOp `json:"op"`
}

// SentPayload is a message to be written to a shard.
type SentPayload struct {
	Data    etf.Term
	ShardID int32
	Op      GatewayOp
}

// NewReceivedPayload builds a payload from a decoded term. The term must be a
// map holding an integer "op". Keys that are neither atoms nor UTF-8
// binaries are skipped.
func NewReceivedPayload(shardID int32, term etf.Term) (*ReceivedPayload, error) {
	m, ok := term.(etf.Map)
	if !ok {
		return nil, fmt.Errorf("%w: got %T", ErrPayloadNotMap, term)
	}

	payload := &ReceivedPayload{
		ShardID: shardID,
	}

	var hasOp bool

	for _, pair := range m {
		key, ok := etf.KeyName(pair.Key)
		if !ok {
			continue
		}

		switch key {
		case "op":
			op, ok := etf.IntValue(pair.Value)
			if !ok || op < 0 || op > math.MaxUint8 {
				return nil, fmt.Errorf("%w: %v", ErrPayloadInvalidOp, pair.Value)
			}

			payload.Op = GatewayOp(op)
			hasOp = true
		case "d":
			payload.Data = ValueFromTerm(pair.Value)
		case "s":
			if sequence, ok := etf.IntValue(pair.Value); ok {
				payload.Sequence = &sequence
			} else {
				payload.Sequence = nil
			}
		case "t":
			payload.Type = eventType(pair.Value)
		}
	}

	if !hasOp {
		return nil, ErrPayloadMissingOp
	}

	if payload.Op != GatewayOpDispatch {
		payload.Sequence = nil
		payload.Type = nil
	}

	return payload, nil
}

func eventType(t etf.Term) *string {
	var name string

	switch v := t.(type) {
	case etf.Atom:
		if v == etf.Nil {
			return nil
		}

		name = string(v)
	case etf.Binary:
		text, ok := v.Text()
		if !ok {
			return nil
		}

		name = text
	default:
		return nil
	}

	return &name
}

// ToBuffer encodes the payload as a map of "op" and "d".
func (p *SentPayload) ToBuffer() ([]byte, error) {
	if !p.Op.IsSendable() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSendOp, p.Op)
	}

	data := p.Data
	if data == nil {
		data = etf.Nil
	}

	return etf.Encode(etf.Map{
		{Key: etf.Atom("op"), Value: etf.SmallInt(p.Op)},
		{Key: etf.Atom("d"), Value: data},
	})
}

// EventName returns the dispatch type or an empty string.
func (p *ReceivedPayload) EventName() string {
	if p.Type == nil {
		return ""
	}

	return *p.Type
}

func (p *ReceivedPayload) String() string {
	b, _ := sandwichjson.Marshal(p.Data)

	return fmt.Sprintf("shard=%d op=%s t=%s d=%s", p.ShardID, p.Op, p.EventName(), strconv.B2S(b))
}
