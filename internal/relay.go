package internal

import (
	"runtime"

	"github.com/WelcomerTeam/Sandwich-Gateway/discord"
)

// relay hands every message from the manager to the producer until the
// manager is shut down. Shards are identified when they receive HELLO.
func (sg *Sandwich) relay(mg *Manager, shardCount int32) {
	mg.Logger.Debug().Msg("Started relay")

	defer mg.Logger.Debug().Msg("Stopped relay")

	for {
		select {
		case <-mg.ctx.Done():
			return
		case <-mg.Ready():
			for _, msg := range mg.GetMessages() {
				sg.onMessage(mg, msg, shardCount)
			}
		}
	}
}

func (sg *Sandwich) onMessage(mg *Manager, msg *discord.ReceivedPayload, shardCount int32) {
	if msg.Op == discord.GatewayOpHello {
		err := mg.Identify(msg.ShardID, shardCount)
		if err != nil {
			mg.Logger.Error().Err(err).Int32("shardId", msg.ShardID).Msg("Failed to identify shard")
		}
	}

	if sg.ProducerClient == nil || sg.ProducerClient.IsClosed() {
		return
	}

	err := mg.PublishEvent(mg.ctx, sg.ProducerClient, mg.NewSandwichPayload(msg, shardCount))
	if err != nil {
		mg.Logger.Warn().Err(err).Str("type", msg.EventName()).Msg("Failed to relay message")
	}
}

// Identify queues an identify payload for a shard. Nothing is sent when the
// manager has no token.
func (mg *Manager) Identify(shardID int32, shardCount int32) error {
	mg.configurationMu.RLock()
	token := mg.Configuration.Token
	intents := mg.Configuration.Bot.Intents
	compression := mg.Configuration.Gateway.Compression
	mg.configurationMu.RUnlock()

	if token == "" {
		return nil
	}

	mode, _ := ParseCompressionMode(compression)

	identify := &discord.Identify{
		Token:   token,
		Intents: intents,
		Shard:   &[2]int32{shardID, shardCount},
		// Payload compression is negotiated through identify, zlib-stream through the url.
		Compress: mode == CompressionPayload,
		Properties: &discord.IdentifyProperties{
			OS:      runtime.GOOS,
			Browser: "Sandwich-Gateway " + VERSION,
			Device:  "Sandwich-Gateway " + VERSION,
		},
	}

	data, err := identify.Term()
	if err != nil {
		return err
	}

	mg.Logger.Debug().Int32("shardId", shardID).Msg("Sending identify")

	return mg.Send(&discord.SentPayload{
		ShardID: shardID,
		Op:      discord.GatewayOpIdentify,
		Data:    data,
	})
}
