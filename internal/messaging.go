package internal

import (
	"context"
	"fmt"
	"strings"

	"github.com/WelcomerTeam/Sandwich-Gateway/discord"
	"github.com/WelcomerTeam/Sandwich-Gateway/internal/structs"
	"github.com/WelcomerTeam/Sandwich-Gateway/sandwichjson"
)

// MQClients lists all current mqclients we have available.
var MQClients = []string{}

// MQClient publishes relayed gateway messages to a message queue.
type MQClient interface {
	String() string
	Channel() string

	Connect(ctx context.Context, clientName string, args map[string]interface{}) error
	Publish(ctx context.Context, channelName string, data []byte) error

	IsClosed() bool
	Close()
}

// NewMQClient returns an unconnected client for mqType.
func NewMQClient(mqType string) (MQClient, error) {
	switch strings.ToLower(mqType) {
	case "stan":
		return &StanMQClient{}, nil
	case "kafka":
		return &KafkaMQClient{}, nil
	case "redis":
		return &RedisMQClient{}, nil
	case "jetstream":
		return &JetStreamMQClient{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownMQClient, mqType)
	}
}

// GetEntry returns the first match from a map and handles keys as non case sensitive.
func GetEntry(m map[string]interface{}, key string) interface{} {
	key = strings.ToLower(key)

	for i, k := range m {
		if strings.ToLower(i) == key {
			return k
		}
	}

	return nil
}

// NewSandwichPayload wraps a received message with the metadata consumers
// use to tell where it came from.
func (mg *Manager) NewSandwichPayload(msg *discord.ReceivedPayload, shardCount int32) *structs.SandwichPayload {
	mg.configurationMu.RLock()
	identifier := mg.Configuration.ProducerIdentifier
	mg.configurationMu.RUnlock()

	application := mg.Identifier.Load()

	packet := &structs.SandwichPayload{
		Metadata: &structs.SandwichMetadata{
			Version:     VERSION,
			Identifier:  replaceIfEmpty(identifier, application),
			Application: application,
			Shard:       [2]int32{msg.ShardID, shardCount},
		},
		Op:       msg.Op,
		Data:     msg.Data,
		Sequence: msg.Sequence,
	}

	if msg.Type != nil {
		packet.Type = *msg.Type
	}

	return packet
}

// PublishEvent publishes a SandwichPayload to the producer.
func (mg *Manager) PublishEvent(ctx context.Context, producer MQClient, packet *structs.SandwichPayload) error {
	mg.configurationMu.RLock()
	channelName := mg.Configuration.Messaging.ChannelName
	mg.configurationMu.RUnlock()

	payload, err := sandwichjson.Marshal(packet)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	err = producer.Publish(ctx, replaceIfEmpty(channelName, producer.Channel()), payload)
	if err != nil {
		return fmt.Errorf("publishEvent publish: %w", err)
	}

	sandwichRelayedEventCount.WithLabelValues(mg.Identifier.Load()).Inc()

	return nil
}
