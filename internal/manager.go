package internal

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/WelcomerTeam/Sandwich-Gateway/discord"
	"github.com/WelcomerTeam/Sandwich-Gateway/internal/structs"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
	"nhooyr.io/websocket"
)

// ManagerConfiguration represents the configuration for the manager.
type ManagerConfiguration struct {
	// Unique name that will be referenced internally
	Identifier string `json:"identifier" yaml:"identifier"`
	// Non-unique name that is sent to consumers.
	ProducerIdentifier string `json:"producer_identifier" yaml:"producer_identifier"`

	FriendlyName string `json:"friendly_name" yaml:"friendly_name"`

	// When set, the relay identifies shards on HELLO and the gateway
	// can be discovered.
	Token     string `json:"token" yaml:"token"`
	AutoStart bool   `json:"auto_start" yaml:"auto_start"`

	// Bot specific configuration
	Bot struct {
		Intents int64 `json:"intents" yaml:"intents"`
	} `json:"bot" yaml:"bot"`

	Messaging struct {
		ChannelName string `json:"channel_name" yaml:"channel_name"`
	} `json:"messaging" yaml:"messaging"`

	Gateway struct {
		// Base gateway url. Discovered using the token when empty.
		URL string `json:"url" yaml:"url"`

		// One of zlib-stream, payload or none.
		Compression string `json:"compression" yaml:"compression"`

		MaxConsecutiveInflateErrors int           `json:"max_consecutive_inflate_errors" yaml:"max_consecutive_inflate_errors"`
		MaxPendingBytes             int           `json:"max_pending_bytes" yaml:"max_pending_bytes"`
		MaxReconnectWait            time.Duration `json:"max_reconnect_wait" yaml:"max_reconnect_wait"`

		// Initial capacity of the inbound queue. The queue itself is unbounded.
		MessageChannelBuffer int `json:"message_channel_buffer" yaml:"message_channel_buffer"`
	} `json:"gateway" yaml:"gateway"`

	Sharding struct {
		AutoSharded bool  `json:"auto_sharded" yaml:"auto_sharded"`
		ShardCount  int32 `json:"shard_count" yaml:"shard_count"`
	} `json:"sharding" yaml:"sharding"`
}

// Manager owns a pool of shards. Messages from every shard are merged into
// one stream and payloads are routed back to the shard they address.
type Manager struct {
	ctx    context.Context
	cancel func()

	Error *atomic.String `json:"error"`

	Identifier *atomic.String `json:"identifier"`

	Sandwich *Sandwich      `json:"-"`
	Client   *Client        `json:"-"`
	Start    *atomic.Time   `json:"start"`
	Logger   zerolog.Logger `json:"-"`

	configurationMu sync.RWMutex
	Configuration   *ManagerConfiguration `json:"configuration"`

	// Serialises AddShard so shard ids stay dense.
	addMu sync.Mutex

	shardsMu sync.RWMutex
	Shards   map[int32]*Shard `json:"shards"`

	// Shards append to inbound and never wait for the consumer.
	inboundMu       sync.Mutex
	inbound         []*discord.ReceivedPayload
	inboundCapacity int
	inboundReady    chan void
}

// NewManager creates a manager with no shards.
func NewManager(ctx context.Context, logger zerolog.Logger, configuration *ManagerConfiguration) (mg *Manager) {
	buffer := configuration.Gateway.MessageChannelBuffer
	if buffer <= 0 {
		buffer = MessageChannelBuffer
	}

	mg = &Manager{
		Error: &atomic.String{},

		Identifier: atomic.NewString(configuration.Identifier),

		Start:  atomic.NewTime(time.Now().UTC()),
		Logger: logger.With().Str("manager", configuration.Identifier).Logger(),

		configurationMu: sync.RWMutex{},
		Configuration:   configuration,

		shardsMu: sync.RWMutex{},
		Shards:   make(map[int32]*Shard),

		inbound:         make([]*discord.ReceivedPayload, 0, buffer),
		inboundCapacity: buffer,
		inboundReady:    make(chan void, 1),
	}

	mg.ctx, mg.cancel = context.WithCancel(ctx)

	return mg
}

// AddShard connects a new shard to gatewayURL. Shard ids are assigned in
// order starting from zero. When the connection fails nothing is added.
func (mg *Manager) AddShard(ctx context.Context, gatewayURL string) (shardID int32, err error) {
	mg.addMu.Lock()
	defer mg.addMu.Unlock()

	shardID = int32(mg.ShardCount())

	sh := mg.NewShard(shardID, gatewayURL)

	err = sh.Connect(ctx)
	if err != nil {
		sh.cancel()

		return shardID, err
	}

	mg.shardsMu.Lock()
	mg.Shards[shardID] = sh
	mg.shardsMu.Unlock()

	mg.Logger.Debug().Int32("shardId", shardID).Msg("Added shard")

	return shardID, nil
}

// Open adds shardCount shards connected to gatewayURL.
func (mg *Manager) Open(ctx context.Context, gatewayURL string, shardCount int32) error {
	if gatewayURL == "" {
		return ErrManagerNoGateway
	}

	if shardCount < 1 {
		return ErrManagerNoShards
	}

	mg.Logger.Info().Int32("shardCount", shardCount).Msg("Opening manager")

	for i := int32(0); i < shardCount; i++ {
		shardID, err := mg.AddShard(ctx, gatewayURL)
		if err != nil {
			mg.Error.Store(err.Error())

			return fmt.Errorf("failed to add shard %d: %w", shardID, err)
		}
	}

	return nil
}

// GetMessages returns every message currently waiting without blocking.
func (mg *Manager) GetMessages() []*discord.ReceivedPayload {
	mg.inboundMu.Lock()
	messages := mg.inbound
	mg.inbound = make([]*discord.ReceivedPayload, 0, mg.inboundCapacity)
	mg.inboundMu.Unlock()

	sandwichEventBufferCount.WithLabelValues(mg.Identifier.Load()).Set(0)

	return messages
}

// Ready is signalled after messages were added. Consumers that prefer to
// block wait on it and then call GetMessages.
func (mg *Manager) Ready() <-chan void {
	return mg.inboundReady
}

// pushInbound appends a message from a shard. It never blocks.
func (mg *Manager) pushInbound(msg *discord.ReceivedPayload) {
	mg.inboundMu.Lock()
	mg.inbound = append(mg.inbound, msg)
	length := len(mg.inbound)
	mg.inboundMu.Unlock()

	sandwichEventBufferCount.WithLabelValues(mg.Identifier.Load()).Set(float64(length))

	select {
	case mg.inboundReady <- void{}:
	default:
	}
}

// Send queues payload on the shard it addresses. It never blocks.
func (mg *Manager) Send(payload *discord.SentPayload) error {
	mg.shardsMu.RLock()
	sh, ok := mg.Shards[payload.ShardID]
	mg.shardsMu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %d", ErrShardMissing, payload.ShardID)
	}

	sh.Enqueue(payload)

	return nil
}

// IsFinished reports whether every shard has stopped. A manager without
// shards is finished.
func (mg *Manager) IsFinished() bool {
	mg.shardsMu.RLock()
	defer mg.shardsMu.RUnlock()

	for _, sh := range mg.Shards {
		if !sh.IsFinished() {
			return false
		}
	}

	return true
}

// Wait removes every shard and blocks until each has stopped, returning
// their outcomes ordered by shard id.
func (mg *Manager) Wait() []ClosureOutcome {
	shards := mg.takeShards()
	outcomes := make([]ClosureOutcome, 0, len(shards))

	for _, sh := range shards {
		outcomes = append(outcomes, sh.Wait())
	}

	return outcomes
}

// Close closes every shard and removes them from the manager.
func (mg *Manager) Close(code websocket.StatusCode) []ClosureOutcome {
	mg.Logger.Info().Msg("Closing manager")

	shards := mg.takeShards()
	outcomes := make([]ClosureOutcome, 0, len(shards))

	for _, sh := range shards {
		sh.Close(code)
		outcomes = append(outcomes, sh.Outcome())
	}

	return outcomes
}

// Shutdown closes every shard and cancels the manager context.
func (mg *Manager) Shutdown() {
	mg.Close(websocket.StatusNormalClosure)

	if mg.cancel != nil {
		mg.cancel()
	}
}

func (mg *Manager) takeShards() []*Shard {
	mg.shardsMu.Lock()
	shards := make([]*Shard, 0, len(mg.Shards))

	for _, sh := range mg.Shards {
		shards = append(shards, sh)
	}

	mg.Shards = make(map[int32]*Shard)
	mg.shardsMu.Unlock()

	sort.Slice(shards, func(i, j int) bool {
		return shards[i].ShardID < shards[j].ShardID
	})

	return shards
}

// GetShard returns the shard with shardID.
func (mg *Manager) GetShard(shardID int32) (*Shard, bool) {
	mg.shardsMu.RLock()
	defer mg.shardsMu.RUnlock()

	sh, ok := mg.Shards[shardID]

	return sh, ok
}

// ShardCount returns the number of shards held by the manager.
func (mg *Manager) ShardCount() int {
	mg.shardsMu.RLock()
	defer mg.shardsMu.RUnlock()

	return len(mg.Shards)
}

// Status returns a snapshot of the manager and its shards.
func (mg *Manager) Status() structs.StatusEndpointManager {
	mg.configurationMu.RLock()
	friendlyName := mg.Configuration.FriendlyName
	mg.configurationMu.RUnlock()

	mg.shardsMu.RLock()
	shards := make([]structs.StatusEndpointShard, 0, len(mg.Shards))

	for _, sh := range mg.Shards {
		var uptime int

		if start := sh.Start.Load(); !start.IsZero() && !sh.IsFinished() {
			uptime = int(time.Since(start).Round(time.Second).Seconds())
		}

		shards = append(shards, structs.StatusEndpointShard{
			ShardID:  sh.ShardID,
			Status:   sh.GetStatus(),
			Uptime:   uptime,
			Finished: sh.IsFinished(),
		})
	}
	mg.shardsMu.RUnlock()

	sort.Slice(shards, func(i, j int) bool {
		return shards[i].ShardID < shards[j].ShardID
	})

	return structs.StatusEndpointManager{
		Identifier:  mg.Identifier.Load(),
		DisplayName: friendlyName,
		Shards:      shards,
		Finished:    mg.IsFinished(),
	}
}
