package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/WelcomerTeam/Sandwich-Gateway/internal/structs"
	"github.com/WelcomerTeam/Sandwich-Gateway/pkg/syncmap"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
	"gopkg.in/yaml.v3"
	"nhooyr.io/websocket"
)

// VERSION follows semantic versioning.
const VERSION = "0.3.0"

const (
	PermissionWrite = 0o600

	// Time to wait before retrying a manager that failed to open.
	managerRetryInterval = 5 * time.Second
	managerOpenRetries   = 3
)

var baseURL = url.URL{
	Scheme: "https",
	Host:   "discord.com",
}

type Sandwich struct {
	Logger zerolog.Logger `json:"-"`

	StartTime time.Time `json:"start_time" yaml:"start_time"`

	ctx    context.Context
	cancel func()

	ProducerClient MQClient `json:"-"`

	Managers *syncmap.Map[string, *Manager] `json:"managers" yaml:"managers"`

	RouterHandler fasthttp.RequestHandler `json:"-"`

	registry         *prometheus.Registry
	prometheusServer *http.Server
	httpServer       *fasthttp.Server

	ConfigurationLocation string `json:"configuration_location"`

	Options SandwichOptions `json:"options" yaml:"options"`

	configurationMu sync.RWMutex
	Configuration   SandwichConfiguration `json:"configuration" yaml:"configuration"`

	sync.Mutex
}

// SandwichConfiguration represents the configuration file.
type SandwichConfiguration struct {
	Producer struct {
		Configuration map[string]interface{} `json:"configuration" yaml:"configuration"`
		Type          string                 `json:"type" yaml:"type"`
	} `json:"producer" yaml:"producer"`

	Managers []ManagerConfiguration `json:"managers" yaml:"managers"`
}

// SandwichOptions represents any options passable when creating the sandwich service.
type SandwichOptions struct {
	ConfigurationLocation string `json:"configuration_location" yaml:"configuration_location"`
	PrometheusAddress     string `json:"prometheus_address" yaml:"prometheus_address"`

	// BaseURL to send HTTP requests to. If empty, will use https://discord.com
	BaseURL url.URL `json:"base_url" yaml:"base_url"`

	HTTPHost    string `json:"http_host" yaml:"http_host"`
	HTTPEnabled bool   `json:"http_enabled" yaml:"http_enabled"`
}

// NewSandwich creates the application state and loads the configuration.
func NewSandwich(logger io.Writer, options SandwichOptions) (sg *Sandwich, err error) {
	sg = &Sandwich{
		Logger: zerolog.New(logger).With().Timestamp().Logger(),

		ConfigurationLocation: options.ConfigurationLocation,

		configurationMu: sync.RWMutex{},
		Configuration:   SandwichConfiguration{},

		Options: options,

		Managers: &syncmap.Map[string, *Manager]{},
	}

	if sg.Options.BaseURL.Host == "" {
		sg.Options.BaseURL = baseURL
	}

	sg.ctx, sg.cancel = context.WithCancel(context.Background())

	sg.Lock()
	defer sg.Unlock()

	configuration, err := sg.LoadConfiguration(sg.ConfigurationLocation)
	if err != nil {
		return nil, err
	}

	sg.configurationMu.Lock()
	sg.Configuration = configuration
	sg.configurationMu.Unlock()

	return sg, nil
}

// LoadConfiguration handles loading the configuration file.
func (sg *Sandwich) LoadConfiguration(path string) (configuration SandwichConfiguration, err error) {
	sg.Logger.Debug().
		Str("path", path).
		Msg("Loading configuration")

	defer func() {
		if err == nil {
			sg.Logger.Info().Msg("Configuration loaded")
		}
	}()

	file, err := os.ReadFile(path)
	if err != nil {
		return configuration, fmt.Errorf("%w: %w", ErrReadConfigurationFailure, err)
	}

	err = yaml.Unmarshal(file, &configuration)
	if err != nil {
		return configuration, fmt.Errorf("%w: %w", ErrLoadConfigurationFailure, err)
	}

	err = ValidateConfiguration(&configuration)
	if err != nil {
		return configuration, fmt.Errorf("%w: %w", ErrLoadConfigurationFailure, err)
	}

	return configuration, nil
}

// ValidateConfiguration checks the configuration can be used to start
// every manager.
func ValidateConfiguration(configuration *SandwichConfiguration) error {
	if configuration.Producer.Type != "" {
		if _, err := NewMQClient(configuration.Producer.Type); err != nil {
			return fmt.Errorf("%w: %s", ErrConfigurationValidateProducer, configuration.Producer.Type)
		}
	}

	seen := make(map[string]bool, len(configuration.Managers))

	for i := range configuration.Managers {
		mc := &configuration.Managers[i]

		if mc.Identifier == "" {
			return fmt.Errorf("manager %d: %w", i, ErrConfigurationValidateIdentifier)
		}

		if seen[mc.Identifier] {
			return fmt.Errorf("manager %s: %w", mc.Identifier, ErrConfigurationValidateDuplicate)
		}

		seen[mc.Identifier] = true

		if _, err := ParseCompressionMode(mc.Gateway.Compression); err != nil {
			return fmt.Errorf("manager %s: %w", mc.Identifier, err)
		}

		if mc.Gateway.MaxConsecutiveInflateErrors < 0 {
			return fmt.Errorf("manager %s: %w", mc.Identifier, ErrConfigurationValidateInflateRetries)
		}

		// Gateway discovery needs a token.
		if mc.Gateway.URL == "" && mc.Token == "" {
			return fmt.Errorf("manager %s: %w", mc.Identifier, ErrManagerNoGateway)
		}

		if mc.Sharding.AutoSharded && mc.Token == "" {
			return fmt.Errorf("manager %s: %w", mc.Identifier, ErrConfigurationValidateSharding)
		}

		if !mc.Sharding.AutoSharded && mc.Sharding.ShardCount < 1 {
			return fmt.Errorf("manager %s: %w", mc.Identifier, ErrConfigurationValidateSharding)
		}
	}

	return nil
}

// SaveConfiguration handles saving the configuration file.
func (sg *Sandwich) SaveConfiguration(configuration *SandwichConfiguration, path string) error {
	sg.Logger.Debug().Msg("Saving configuration")

	data, err := yaml.Marshal(configuration)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}

	err = os.WriteFile(path, data, PermissionWrite)
	if err != nil {
		return fmt.Errorf("failed to write configuration to file: %w", err)
	}

	return nil
}

// Open starts up any listeners, configures services and starts up managers.
func (sg *Sandwich) Open() error {
	sg.StartTime = time.Now().UTC()
	sg.Logger.Info().Msgf("Starting sandwich. Version %s", VERSION)

	err := sg.setupProducer()
	if err != nil {
		return err
	}

	if sg.Options.PrometheusAddress != "" {
		sg.setupPrometheus()

		go sg.servePrometheus()
	}

	sg.RouterHandler = sg.NewRestRouter()

	if sg.Options.HTTPEnabled {
		sg.setupHTTP()

		go sg.serveHTTP()
	}

	sg.Logger.Info().Msg("Creating managers")
	sg.startManagers()

	return nil
}

// Close closes all managers gracefully.
func (sg *Sandwich) Close() error {
	sg.Logger.Info().Msg("Closing sandwich")

	sg.Managers.Range(func(key string, manager *Manager) bool {
		manager.Shutdown()

		return true
	})

	if sg.ProducerClient != nil {
		sg.ProducerClient.Close()
	}

	if sg.prometheusServer != nil {
		_ = sg.prometheusServer.Close()
	}

	if sg.httpServer != nil {
		_ = sg.httpServer.Shutdown()
	}

	if sg.cancel != nil {
		sg.cancel()
	}

	return nil
}

func (sg *Sandwich) setupProducer() error {
	sg.configurationMu.RLock()
	producerType := sg.Configuration.Producer.Type
	producerConfiguration := sg.Configuration.Producer.Configuration
	sg.configurationMu.RUnlock()

	if producerType == "" {
		sg.Logger.Warn().Msg("No producer configured. Messages will not be relayed")

		return nil
	}

	client, err := NewMQClient(producerType)
	if err != nil {
		return err
	}

	err = client.Connect(sg.ctx, "sandwich-gateway", producerConfiguration)
	if err != nil {
		sg.Logger.Error().Err(err).Str("type", producerType).Msg("Failed to connect producer")

		return fmt.Errorf("failed to connect producer: %w", err)
	}

	sg.ProducerClient = client

	return nil
}

// NewManager creates a manager for configuration owned by the sandwich.
func (sg *Sandwich) NewManager(configuration *ManagerConfiguration) *Manager {
	mg := NewManager(sg.ctx, sg.Logger, configuration)
	mg.Sandwich = sg
	mg.Client = NewClient(sg.Options.BaseURL, configuration.Token)

	return mg
}

func (sg *Sandwich) startManagers() {
	sg.configurationMu.RLock()
	configurations := make([]ManagerConfiguration, len(sg.Configuration.Managers))
	copy(configurations, sg.Configuration.Managers)
	sg.configurationMu.RUnlock()

	for i := range configurations {
		managerConfiguration := &configurations[i]

		created := sg.NewManager(managerConfiguration)

		manager, duplicate := sg.Managers.LoadOrStore(managerConfiguration.Identifier, created)
		if duplicate {
			created.cancel()

			sg.Logger.Warn().
				Str("identifier", managerConfiguration.Identifier).
				Msg("Manager contains duplicate identifier. Ignoring")

			continue
		}

		if managerConfiguration.AutoStart {
			go func() {
				err := sg.OpenManager(sg.ctx, manager)
				if err != nil {
					manager.Logger.Error().Err(err).Msg("Failed to open manager")
				}
			}()
		}
	}
}

// OpenManager resolves the gateway for a manager, starts relaying its
// messages and opens its shards. Opening is retried a few times.
func (sg *Sandwich) OpenManager(ctx context.Context, mg *Manager) (err error) {
	gatewayURL, shardCount, err := sg.resolveGateway(ctx, mg)
	if err != nil {
		mg.Error.Store(err.Error())

		return err
	}

	go sg.relay(mg, shardCount)

	for attempt := 1; attempt <= managerOpenRetries; attempt++ {
		err = mg.Open(ctx, gatewayURL, shardCount)
		if err == nil {
			mg.Error.Store("")

			return nil
		}

		mg.Logger.Warn().Err(err).Int("attempt", attempt).Msg("Failed to open manager")

		// Shards opened before the failure are closed so ids restart at zero.
		mg.Close(websocket.StatusNormalClosure)

		// Messages from the closed shards would otherwise be handled as if the
		// new shards with the same ids sent them.
		if stale := mg.GetMessages(); len(stale) > 0 {
			mg.Logger.Debug().Int("count", len(stale)).Msg("Discarded messages from failed attempt")
		}

		if attempt == managerOpenRetries {
			break
		}

		select {
		case <-time.After(managerRetryInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return err
}

func (sg *Sandwich) resolveGateway(ctx context.Context, mg *Manager) (gatewayURL string, shardCount int32, err error) {
	mg.configurationMu.RLock()
	gatewayURL = mg.Configuration.Gateway.URL
	shardCount = mg.Configuration.Sharding.ShardCount
	autoSharded := mg.Configuration.Sharding.AutoSharded
	mg.configurationMu.RUnlock()

	if gatewayURL != "" && !autoSharded {
		return gatewayURL, shardCount, nil
	}

	gateway, err := mg.Client.GetGatewayBot(ctx)
	if err != nil {
		return "", 0, err
	}

	mg.Logger.Info().
		Str("url", gateway.URL).
		Int32("shards", gateway.Shards).
		Int32("remaining", gateway.SessionStartLimit.Remaining).
		Msg("Retrieved gateway")

	if gatewayURL == "" {
		gatewayURL = gateway.URL
	}

	if autoSharded {
		shardCount = gateway.Shards
	}

	if shardCount < 1 {
		return "", 0, ErrManagerNoShards
	}

	return gatewayURL, shardCount, nil
}

// GetManager returns the manager with identifier.
func (sg *Sandwich) GetManager(identifier string) (*Manager, error) {
	manager, ok := sg.Managers.Load(identifier)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidManager, identifier)
	}

	return manager, nil
}

// Status returns the status of every manager ordered by identifier.
func (sg *Sandwich) Status() structs.StatusEndpointResponse {
	identifiers := sg.Managers.SortedKeys(func(a, b string) bool { return a < b })
	managers := make([]structs.StatusEndpointManager, 0, len(identifiers))

	for _, identifier := range identifiers {
		if manager, ok := sg.Managers.Load(identifier); ok {
			managers = append(managers, manager.Status())
		}
	}

	var uptime int

	if !sg.StartTime.IsZero() {
		uptime = int(time.Since(sg.StartTime).Seconds())
	}

	return structs.StatusEndpointResponse{
		Managers: managers,
		Uptime:   uptime,
	}
}

func (sg *Sandwich) setupPrometheus() {
	sg.registry = prometheus.NewRegistry()
	registerMetrics(sg.registry)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(
		sg.registry,
		promhttp.HandlerOpts{},
	))

	sg.prometheusServer = &http.Server{
		Addr:              sg.Options.PrometheusAddress,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (sg *Sandwich) servePrometheus() {
	sg.Logger.Info().Msgf("Serving prometheus at %s", sg.Options.PrometheusAddress)

	err := sg.prometheusServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		sg.Logger.Error().Str("host", sg.Options.PrometheusAddress).Err(err).Msg("Failed to serve prometheus server")
	}
}

func (sg *Sandwich) setupHTTP() {
	sg.httpServer = &fasthttp.Server{
		Handler: sg.HandleRequest,
		Name:    "Sandwich-Gateway",
	}
}

func (sg *Sandwich) serveHTTP() {
	sg.Logger.Info().Msgf("Serving http at %s", sg.Options.HTTPHost)

	err := sg.httpServer.ListenAndServe(sg.Options.HTTPHost)
	if err != nil {
		sg.Logger.Error().Str("host", sg.Options.HTTPHost).Err(err).Msg("Failed to serve http server")
	}
}
