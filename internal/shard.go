package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/WelcomerTeam/RealRock/deadlock"
	"github.com/WelcomerTeam/Sandwich-Gateway/discord"
	"github.com/WelcomerTeam/Sandwich-Gateway/etf"
	"github.com/WelcomerTeam/Sandwich-Gateway/internal/structs"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
	"nhooyr.io/websocket"
)

const (
	WebsocketReadLimit          = 512 << 20
	WebsocketReconnectCloseCode = 4000

	MessageChannelBuffer = 64

	// Number of consecutive read failures tolerated before the connection is considered lost.
	ShardReadRetries = 10

	// Number of consecutive frames that may fail to decompress before the
	// stream is considered desynchronized.
	MaxConsecutiveInflateErrors = 2

	MaxReconnectWait = 60 * time.Second

	ReadRetry  = 1 * time.Second
	WriteRetry = 1 * time.Second

	GatewayVersion  = "9"
	GatewayEncoding = "etf"
)

// ClosureOutcome describes how a shard stopped. Code and Reason hold the
// close frame received from the gateway and Code is -1 when none was seen.
// Err is nil when the gateway closed the connection.
type ClosureOutcome struct {
	Err     error                `json:"-"`
	Reason  string               `json:"reason"`
	ShardID int32                `json:"shard_id"`
	Code    websocket.StatusCode `json:"code"`
}

// Shard represents the shard object.
type Shard struct {
	ctx    context.Context
	cancel func()

	RoutineDeadSignal deadlock.DeadSignal `json:"-"`

	Start *atomic.Time `json:"start"`
	Init  *atomic.Time `json:"init"`

	Logger zerolog.Logger `json:"-"`

	ShardID       int32          `json:"shard_id"`
	GatewayURL    string         `json:"-"`
	ConnectionURL *atomic.String `json:"connection_url"`

	Manager *Manager `json:"-"`

	statusMu sync.RWMutex
	Status   structs.ShardStatus `json:"status"`

	running  *atomic.Bool
	finished *atomic.Bool

	closeCode *atomic.Int32
	closeOnce sync.Once
	stopOnce  sync.Once
	closing   chan void
	stopped   chan void
	done      chan void

	outcomeMu sync.RWMutex
	outcome   ClosureOutcome

	outboundMu    sync.Mutex
	outbound      []*discord.SentPayload
	outboundReady chan void

	wsConnMu sync.RWMutex
	wsConn   *websocket.Conn

	// Only used by the Listen goroutine.
	decompressor frameDecompressor

	compression      CompressionMode
	maxInflateErrors int
	maxReconnectWait time.Duration
}

// NewShard creates a new shard object.
func (mg *Manager) NewShard(shardID int32, gatewayURL string) (sh *Shard) {
	logger := mg.Logger.With().Int32("shardId", shardID).Logger()

	mg.configurationMu.RLock()
	gateway := mg.Configuration.Gateway
	mg.configurationMu.RUnlock()

	compression, err := ParseCompressionMode(gateway.Compression)
	if err != nil {
		logger.Warn().Err(err).Msg("Unknown compression mode, using zlib-stream")

		compression = CompressionZlibStream
	}

	maxInflateErrors := gateway.MaxConsecutiveInflateErrors
	if maxInflateErrors <= 0 {
		maxInflateErrors = MaxConsecutiveInflateErrors
	}

	maxReconnectWait := gateway.MaxReconnectWait
	if maxReconnectWait <= 0 {
		maxReconnectWait = MaxReconnectWait
	}

	sh = &Shard{
		RoutineDeadSignal: deadlock.DeadSignal{},

		Start: &atomic.Time{},
		Init:  atomic.NewTime(time.Now().UTC()),

		Logger: logger,

		ShardID:       shardID,
		GatewayURL:    gatewayURL,
		ConnectionURL: &atomic.String{},

		Manager: mg,

		statusMu: sync.RWMutex{},
		Status:   structs.ShardStatusIdle,

		running:  atomic.NewBool(false),
		finished: atomic.NewBool(false),

		closeCode: atomic.NewInt32(int32(websocket.StatusNormalClosure)),
		closing:   make(chan void),
		stopped:   make(chan void),
		done:      make(chan void),

		outcome: ClosureOutcome{
			ShardID: shardID,
			Code:    -1,
			Err:     ErrShardClosed,
		},

		outboundReady: make(chan void, 1),

		decompressor: newFrameDecompressor(compression, gateway.MaxPendingBytes),

		compression:      compression,
		maxInflateErrors: maxInflateErrors,
		maxReconnectWait: maxReconnectWait,

	}

	sh.ctx, sh.cancel = context.WithCancel(mg.ctx)

	return sh
}

// Connect opens the websocket and starts the goroutines reading from and
// writing to it.
func (sh *Shard) Connect(ctx context.Context) (err error) {
	if sh.GetStatus() != structs.ShardStatusIdle {
		return ErrShardNotIdle
	}

	sh.Logger.Debug().Msg("Connecting shard")

	sh.SetStatus(structs.ShardStatusConnecting)

	defer func() {
		if err != nil {
			sh.SetStatus(structs.ShardStatusErroring)
		}
	}()

	gwURL, err := buildGatewayURL(sh.GatewayURL, sh.compression)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrShardHandshake, err)
	}

	sh.ConnectionURL.Store(gwURL)

	conn, _, err := websocket.Dial(ctx, gwURL, nil)
	if err != nil {
		sh.Logger.Error().Err(err).Str("url", gwURL).Msg("Failed to dial gateway")

		return fmt.Errorf("%w: %w", ErrShardHandshake, err)
	}

	conn.SetReadLimit(WebsocketReadLimit)

	sh.wsConnMu.Lock()
	sh.wsConn = conn
	sh.wsConnMu.Unlock()

	sh.Start.Store(time.Now().UTC())
	sh.running.Store(true)

	sh.SetStatus(structs.ShardStatusConnected)

	frameCh := make(chan []byte)
	errorCh := make(chan error, 1)

	sh.RoutineDeadSignal.Started()

	go sh.FeedWebsocket(sh.ctx, conn, frameCh, errorCh)

	sh.RoutineDeadSignal.Started()

	go sh.Listen(sh.ctx, frameCh, errorCh)

	return nil
}

// buildGatewayURL appends the protocol parameters to the gateway url,
// keeping any query values already present.
func buildGatewayURL(gatewayURL string, compression CompressionMode) (string, error) {
	u, err := url.Parse(gatewayURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse gateway url: %w", err)
	}

	query := u.Query()
	query.Set("q", GatewayVersion)
	query.Set("encoding", GatewayEncoding)

	if compression == CompressionZlibStream {
		query.Set("compress", string(CompressionZlibStream))
	} else {
		query.Del("compress")
	}

	u.RawQuery = query.Encode()

	return u.String(), nil
}

// FeedWebsocket reads websocket frames and feeds binary frames through a
// channel. The first error that ends the connection is sent on errorCh.
func (sh *Shard) FeedWebsocket(ctx context.Context, conn *websocket.Conn, frameCh chan<- []byte, errorCh chan<- error) {
	defer sh.RoutineDeadSignal.Done()

	wait := ReadRetry
	retries := ShardReadRetries

	for {
		messageType, data, err := conn.Read(ctx)
		if err != nil {
			if retries <= 0 || isConnectionError(ctx, err) {
				errorCh <- err

				return
			}

			retries--

			sh.Logger.Warn().Err(err).Dur("retry", wait).Msg("Failed to read from gateway")

			select {
			case <-time.After(wait):
			case <-ctx.Done():
				errorCh <- ctx.Err()

				return
			}

			wait = nextBackoff(wait, sh.maxReconnectWait)

			continue
		}

		wait = ReadRetry
		retries = ShardReadRetries

		sandwichEventCount.WithLabelValues(sh.Manager.Identifier.Load()).Inc()

		if messageType != websocket.MessageBinary {
			sh.Logger.Debug().Str("type", messageType.String()).Msg("Ignoring non-binary frame")

			continue
		}

		select {
		case frameCh <- data:
		case <-sh.stopped:
			// Keep reading so the close handshake can complete.
		case <-sh.RoutineDeadSignal.Dead():
			return
		case <-ctx.Done():
			return
		}
	}
}

func isConnectionError(ctx context.Context, err error) bool {
	return ctx.Err() != nil ||
		websocket.CloseStatus(err) != -1 ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}

// Listen handles frames from the gateway and writes queued payloads until
// the shard finishes.
func (sh *Shard) Listen(ctx context.Context, frameCh <-chan []byte, errorCh <-chan error) {
	defer sh.RoutineDeadSignal.Done()

	writeWait := WriteRetry

	var retry <-chan time.Time

	for {
		if retry == nil {
			if err := sh.flushOutbound(ctx); err != nil {
				sh.Logger.Warn().Err(err).Dur("retry", writeWait).Msg("Failed to write to gateway")

				retry = time.After(writeWait)

				writeWait = nextBackoff(writeWait, sh.maxReconnectWait)
			} else {
				writeWait = WriteRetry
			}
		}

		select {
		case <-sh.outboundReady:
		case <-retry:
			retry = nil
		case data := <-frameCh:
			if err := sh.OnFrame(data); err != nil {
				sh.Logger.Error().Err(err).Msg("Closing shard")

				sh.finish(WebsocketReconnectCloseCode, ClosureOutcome{
					ShardID: sh.ShardID,
					Code:    -1,
					Err:     err,
				})

				return
			}
		case err := <-errorCh:
			sh.finish(websocket.StatusNormalClosure, sh.outcomeFromError(ctx, err))

			return
		case <-sh.closing:
			sh.finish(websocket.StatusCode(sh.closeCode.Load()), ClosureOutcome{
				ShardID: sh.ShardID,
				Code:    -1,
				Err:     ErrShardClosed,
			})

			return
		case <-ctx.Done():
			sh.finish(websocket.StatusGoingAway, ClosureOutcome{
				ShardID: sh.ShardID,
				Code:    -1,
				Err:     ErrShardClosed,
			})

			return
		}
	}
}

func (sh *Shard) outcomeFromError(ctx context.Context, err error) ClosureOutcome {
	outcome := ClosureOutcome{
		ShardID: sh.ShardID,
		Code:    -1,
	}

	if ctx.Err() != nil {
		outcome.Err = ErrShardClosed

		return outcome
	}

	var closeError websocket.CloseError

	if errors.As(err, &closeError) {
		sh.Logger.Info().
			Int("code", int(closeError.Code)).
			Str("reason", closeError.Reason).
			Msg("Shard received closure code")

		outcome.Code = closeError.Code
		outcome.Reason = closeError.Reason

		return outcome
	}

	sh.Logger.Error().Err(err).Msg("Lost connection to gateway")

	outcome.Err = fmt.Errorf("%w: %w", ErrShardConnectionLost, err)

	return outcome
}

// finish records the outcome and tears the connection down. It is only
// called by the Listen goroutine.
func (sh *Shard) finish(code websocket.StatusCode, outcome ClosureOutcome) {
	close(sh.stopped)

	if err := sh.CloseWS(code); err != nil {
		sh.Logger.Debug().Err(err).Msg("Encountered error closing websocket")
	}

	sh.cancel()

	sh.outcomeMu.Lock()
	sh.outcome = outcome
	sh.outcomeMu.Unlock()

	sh.finished.Store(true)

	if outcome.Err != nil && !errors.Is(outcome.Err, ErrShardClosed) {
		sh.SetStatus(structs.ShardStatusErroring)
	} else {
		sh.SetStatus(structs.ShardStatusClosed)
	}

	close(sh.done)
}

// OnFrame handles a binary frame. Frames that cannot be turned into a
// payload are logged and dropped. An error is only returned when the
// connection can no longer be used.
func (sh *Shard) OnFrame(data []byte) error {
	identifier := sh.Manager.Identifier.Load()

	payload, complete, err := sh.decompressor.Feed(data)
	if err != nil {
		failures := sh.decompressor.ConsecutiveFailures()

		sh.Logger.Warn().Err(err).Int("failures", failures).Msg("Failed to decompress frame")
		sandwichDiscardedEvents.WithLabelValues(identifier, discardReasonDecompress).Inc()

		if failures >= sh.maxInflateErrors {
			return fmt.Errorf("%w: %w", ErrShardDesynchronized, err)
		}

		return nil
	}

	if !complete {
		return nil
	}

	term, err := etf.Decode(payload)
	if err != nil {
		sh.Logger.Warn().Err(err).Int("length", len(payload)).Msg("Failed to decode payload")
		sandwichDiscardedEvents.WithLabelValues(identifier, discardReasonDecode).Inc()

		return nil
	}

	msg, err := discord.NewReceivedPayload(sh.ShardID, term)
	if err != nil {
		sh.Logger.Warn().Err(err).Msg("Received malformed payload")
		sandwichDiscardedEvents.WithLabelValues(identifier, discardReasonPayload).Inc()

		return nil
	}

	if msg.Op == discord.GatewayOpDispatch {
		sandwichDispatchEventCount.WithLabelValues(identifier, msg.EventName()).Inc()
	}

	if sh.Logger.GetLevel() <= zerolog.TraceLevel {
		sh.Logger.Trace().Msg(">>> " + msg.String())
	}

	sh.Manager.pushInbound(msg)

	return nil
}

// Enqueue adds a payload to the outbound queue. It never blocks.
func (sh *Shard) Enqueue(payload *discord.SentPayload) {
	sh.outboundMu.Lock()
	sh.outbound = append(sh.outbound, payload)
	sh.outboundMu.Unlock()

	select {
	case sh.outboundReady <- void{}:
	default:
	}
}

// QueueLength returns the number of payloads waiting to be written.
func (sh *Shard) QueueLength() int {
	sh.outboundMu.Lock()
	defer sh.outboundMu.Unlock()

	return len(sh.outbound)
}

// flushOutbound writes every queued payload in order. Payloads that fail to
// encode are dropped. When a write fails the unsent payloads are put back at
// the front of the queue.
func (sh *Shard) flushOutbound(ctx context.Context) error {
	sh.outboundMu.Lock()
	pending := sh.outbound
	sh.outbound = nil
	sh.outboundMu.Unlock()

	identifier := sh.Manager.Identifier.Load()

	for i, payload := range pending {
		b, err := payload.ToBuffer()
		if err != nil {
			sh.Logger.Error().Err(err).Str("op", payload.Op.String()).Msg("Failed to encode payload")
			sandwichDiscardedEvents.WithLabelValues(identifier, discardReasonEncode).Inc()

			continue
		}

		err = sh.WriteBinary(ctx, b)
		if err != nil {
			sh.requeue(pending[i:])

			return err
		}

		sandwichSentEventCount.WithLabelValues(identifier, payload.Op.String()).Inc()
	}

	return nil
}

func (sh *Shard) requeue(payloads []*discord.SentPayload) {
	sh.outboundMu.Lock()
	defer sh.outboundMu.Unlock()

	queue := make([]*discord.SentPayload, 0, len(payloads)+len(sh.outbound))
	queue = append(queue, payloads...)
	queue = append(queue, sh.outbound...)

	sh.outbound = queue
}

// WriteBinary writes a binary frame to the websocket.
func (sh *Shard) WriteBinary(ctx context.Context, b []byte) error {
	sh.wsConnMu.RLock()
	wsConn := sh.wsConn
	sh.wsConnMu.RUnlock()

	if wsConn == nil {
		return ErrShardConnectionLost
	}

	sh.Logger.Trace().Int("length", len(b)).Msg("<<< binary frame")

	err := wsConn.Write(ctx, websocket.MessageBinary, b)
	if err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}

	return nil
}

// Close closes the shard connection and waits for its goroutines to stop.
func (sh *Shard) Close(code websocket.StatusCode) {
	sh.Logger.Info().Int("code", int(code)).Msg("Closing shard")

	if !sh.running.Load() {
		sh.SetStatus(structs.ShardStatusClosed)

		return
	}

	if !sh.finished.Load() {
		sh.SetStatus(structs.ShardStatusClosing)
	}

	sh.closeCode.Store(int32(code))
	sh.closeOnce.Do(func() {
		close(sh.closing)
	})

	<-sh.done

	sh.stopRoutines("CLOSE")
}

// CloseWS closes the websocket. This will always return nil as the error is suppressed.
func (sh *Shard) CloseWS(statusCode websocket.StatusCode) error {
	sh.wsConnMu.Lock()
	wsConn := sh.wsConn
	sh.wsConn = nil
	sh.wsConnMu.Unlock()

	if wsConn != nil {
		sh.Logger.Debug().Int("code", int(statusCode)).Msg("Closing websocket connection")

		err := wsConn.Close(statusCode, "")
		if err != nil && !errors.Is(err, context.Canceled) {
			sh.Logger.Debug().Err(err).Msg("Failed to close websocket connection")
		}
	}

	return nil
}

// Wait blocks until the shard has finished and returns how it stopped.
func (sh *Shard) Wait() ClosureOutcome {
	if sh.running.Load() {
		<-sh.done

		sh.stopRoutines("WAIT")
	}

	return sh.Outcome()
}

func (sh *Shard) stopRoutines(reason string) {
	sh.stopOnce.Do(func() {
		sh.RoutineDeadSignal.Close(reason)
	})
}

// Outcome returns how the shard stopped. It is only meaningful once the
// shard has finished.
func (sh *Shard) Outcome() ClosureOutcome {
	sh.outcomeMu.RLock()
	defer sh.outcomeMu.RUnlock()

	return sh.outcome
}

// IsFinished reports whether the shard has stopped.
func (sh *Shard) IsFinished() bool {
	return sh.finished.Load()
}

// SetStatus sets the status of the Shard.
func (sh *Shard) SetStatus(status structs.ShardStatus) {
	sh.statusMu.Lock()
	defer sh.statusMu.Unlock()

	sh.Logger.Debug().Str("status", status.String()).Msg("Shard status changed")

	sh.Status = status

	sandwichShardStatus.WithLabelValues(
		sh.Manager.Identifier.Load(),
		strconv.Itoa(int(sh.ShardID)),
	).Set(float64(status))
}

// GetStatus returns the status of a Shard.
func (sh *Shard) GetStatus() (status structs.ShardStatus) {
	sh.statusMu.RLock()
	defer sh.statusMu.RUnlock()

	return sh.Status
}
