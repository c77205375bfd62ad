package internal

import (
	"golang.org/x/xerrors"
)

// ErrShardHandshake is returned when a shard could not open its websocket.
var ErrShardHandshake = xerrors.New("Failed to connect to the gateway")

// ErrShardDesynchronized is set on a shard when the compressed stream could
// no longer be decoded and the connection was dropped.
var ErrShardDesynchronized = xerrors.New("Compression stream desynchronized")

var (
	ErrShardMissing        = xerrors.New("No shard with this id exists")
	ErrShardClosed         = xerrors.New("Shard was closed")
	ErrShardConnectionLost = xerrors.New("Lost connection to the gateway")
	ErrShardNotIdle        = xerrors.New("Shard has already been connected")
)

var (
	ErrInvalidManager     = xerrors.New("No manager with this name exists")
	ErrManagerNoGateway   = xerrors.New("Manager has no gateway url")
	ErrManagerNoShards    = xerrors.New("Manager has no shards to open")
	ErrGatewayUnavailable = xerrors.New("Failed to retrieve gateway")
	ErrInvalidToken       = xerrors.New("Token passed is not valid")
)

var (
	ErrReadConfigurationFailure            = xerrors.New("Failed to read configuration")
	ErrLoadConfigurationFailure            = xerrors.New("Failed to load configuration")
	ErrConfigurationValidateIdentifier     = xerrors.New("Configuration manager missing identifier")
	ErrConfigurationValidateDuplicate      = xerrors.New("Configuration contains duplicate manager identifier")
	ErrConfigurationValidateCompression    = xerrors.New("Configuration contains unknown compression mode")
	ErrConfigurationValidateSharding       = xerrors.New("Configuration manager missing shard count")
	ErrConfigurationValidateProducer       = xerrors.New("Configuration contains unknown producer type")
	ErrConfigurationValidateInflateRetries = xerrors.New("Configuration inflate error threshold must be positive")
)

var ErrUnknownMQClient = xerrors.New("No MQ client with this name exists")
