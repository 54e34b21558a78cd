package micro

import (
	"context"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"google.golang.org/grpc/codes"
)

const defaultReconnectWait = 5 * time.Second

// Client represents a NATS client with enhanced logging and error handling.
type Client struct {
	*nats.Conn
	log        zerolog.Logger
	natsConfig NATSConfig

	// Connection lifecycle hooks, called after the event is logged.
	onDisconnect func(err error)
	onReconnect  func()
	onClosed     func()
}

// NATSConfig holds the configuration for the NATS client.
type NATSConfig struct {
	Name            string        `env:"NATS_NAME"`
	URL             string        `env:"NATS_URL" envDefault:"nats://nats:4222"`
	CredentialsFile string        `env:"NATS_CREDENTIALS_FILE"`
	MaxReconnects   int           `env:"NATS_MAX_RECONNECTS" envDefault:"10"`
	ReconnectWait   time.Duration `env:"NATS_RECONNECT_WAIT" envDefault:"5s"`
}

// Validate validates the NATS configuration and returns an error if invalid.
func (cfg NATSConfig) Validate() error {
	if cfg.URL == "" {
		return eris.New("NATS URL is required")
	}
	if cfg.ReconnectWait < 0 {
		return eris.New("NATS reconnect wait cannot be negative")
	}
	// CredentialsFile is optional. Without it we connect unauthenticated (for testing).
	return nil
}

// LoadNATSConfig parses the NATS configuration from environment variables.
func LoadNATSConfig() (NATSConfig, error) {
	cfg, err := env.ParseAs[NATSConfig]()
	if err != nil {
		return cfg, eris.Wrap(err, "failed to parse NATS config")
	}
	return cfg, nil
}

// NewClient creates a new NATS client with the given configuration.
// It handles connection setup, error handling, and logging.
func NewClient(opts ...ClientOption) (*Client, error) {
	c := &Client{
		log: zerolog.Nop(),
	}

	var err error
	c.natsConfig, err = LoadNATSConfig()
	if err != nil {
		return nil, err
	}

	// Apply options that may override environment variables.
	for _, opt := range opts {
		opt(c)
	}

	if err := c.natsConfig.Validate(); err != nil {
		return nil, eris.Wrap(err, "invalid NATS config")
	}

	reconnectWait := c.natsConfig.ReconnectWait
	if reconnectWait == 0 {
		reconnectWait = defaultReconnectWait
	}

	natsOpts := []nats.Option{
		nats.Name(c.natsConfig.Name),
		nats.MaxReconnects(c.natsConfig.MaxReconnects),
		nats.ReconnectWait(reconnectWait),
		nats.DisconnectErrHandler(c.handleDisconnect),
		nats.ReconnectHandler(c.handleReconnect),
		nats.ClosedHandler(c.handleClosed),
		nats.ErrorHandler(c.handleError),
	}

	if c.natsConfig.CredentialsFile != "" {
		natsOpts = append(natsOpts, nats.UserCredentials(c.natsConfig.CredentialsFile))
	}

	conn, err := nats.Connect(c.natsConfig.URL, natsOpts...)
	if err != nil {
		return nil, eris.Wrap(err, "failed to connect to NATS server")
	}
	c.Conn = conn

	c.log.Info().
		Str("url", c.ConnectedUrl()).
		Str("name", c.natsConfig.Name).
		Msg("Connected to NATS server")

	return c, nil
}

// Request sends payload to an endpoint and waits for the reply (request-reply pattern).
// The timeout should be set in ctx. A non-OK reply status is returned as a *StatusError.
func (c *Client) Request(ctx context.Context, address *ServiceAddress, endpoint string, payload any) (*Response, error) {
	var raw json.RawMessage
	if payload != nil {
		bz, err := json.Marshal(payload)
		if err != nil {
			return nil, eris.Wrap(err, "failed to marshal payload")
		}
		raw = bz
	}

	reqBytes, err := json.Marshal(envelope{
		RequestID:      uuid.NewString(),
		ServiceAddress: address,
		Payload:        raw,
	})
	if err != nil {
		return nil, eris.Wrap(err, "failed to marshal request")
	}

	msg := nats.NewMsg(Endpoint(address, endpoint))
	msg.Data = reqBytes
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(msg.Header))

	reply, err := c.RequestMsgWithContext(ctx, msg)
	if err != nil {
		return nil, eris.Wrap(err, "failed to send request")
	}

	var env envelope
	if err := json.Unmarshal(reply.Data, &env); err != nil {
		return nil, eris.Wrap(err, "failed to unmarshal response")
	}

	res := &Response{
		RequestID:      env.RequestID,
		ServiceAddress: env.ServiceAddress,
		Payload:        env.Payload,
	}
	if env.Status != nil {
		res.Status = *env.Status
	}

	if res.Status.Code != codes.OK {
		return nil, eris.Wrap(&StatusError{Code: res.Status.Code, Message: res.Status.Message}, endpoint)
	}

	return res, nil
}

// Close gracefully closes the NATS connection and logs the event.
func (c *Client) Close() {
	if c.Conn != nil {
		c.Conn.Close()
		c.log.Info().Msg("NATS connection closed")
	}
}

func (c *Client) handleDisconnect(nc *nats.Conn, err error) {
	log := c.log.With().
		Str("nats_url", nc.ConnectedUrl()).
		Uint64("reconnect_attempts", nc.Reconnects).
		Logger()

	if err != nil {
		log.Error().Err(err).Msg("Disconnected from NATS with error")
	} else {
		log.Warn().Msg("Disconnected from NATS (no error)")
	}

	if c.onDisconnect != nil {
		c.onDisconnect(err)
	}
}

func (c *Client) handleReconnect(nc *nats.Conn) {
	c.log.Info().
		Str("nats_url", nc.ConnectedUrl()).
		Uint64("reconnect_attempts", nc.Reconnects).
		Msg("Reconnected to NATS")

	if c.onReconnect != nil {
		c.onReconnect()
	}
}

func (c *Client) handleClosed(nc *nats.Conn) {
	log := c.log.With().
		Uint64("reconnect_attempts", nc.Reconnects).
		Logger()

	if err := nc.LastError(); err != nil {
		log.Warn().Err(err).Msg("NATS connection closed with error")
	} else {
		log.Info().Msg("NATS connection closed")
	}

	if c.onClosed != nil {
		c.onClosed()
	}
}

func (c *Client) handleError(_ *nats.Conn, sub *nats.Subscription, err error) {
	event := c.log.Error().Err(err)
	if sub != nil {
		event = event.Str("subject", sub.Subject)
	}
	event.Msg("NATS async error occurred")
}

// -------------------------------------------------------------------------------------------------
// Options
// -------------------------------------------------------------------------------------------------

// ClientOption defines a function that can modify a Client.
type ClientOption func(*Client)

// WithLogger returns a ClientOption that sets the logger.
func WithLogger(log zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.log = log
	}
}

// WithName returns a ClientOption that names the connection when NATS_NAME leaves it empty.
// It must come after WithNATSConfig to apply to that configuration.
func WithName(name string) ClientOption {
	return func(c *Client) {
		if c.natsConfig.Name == "" {
			c.natsConfig.Name = name
		}
	}
}

// WithNATSConfig returns a ClientOption that sets the NATS configuration.
func WithNATSConfig(cfg NATSConfig) ClientOption {
	return func(c *Client) {
		c.natsConfig = cfg
	}
}

// WithDisconnectHandler registers fn to run whenever the connection drops.
// err is nil when the disconnect was requested locally.
func WithDisconnectHandler(fn func(err error)) ClientOption {
	return func(c *Client) {
		c.onDisconnect = fn
	}
}

// WithReconnectHandler registers fn to run after the client reconnects on its own.
func WithReconnectHandler(fn func()) ClientOption {
	return func(c *Client) {
		c.onReconnect = fn
	}
}

// WithClosedHandler registers fn to run once the connection is permanently closed.
func WithClosedHandler(fn func()) ClientOption {
	return func(c *Client) {
		c.onClosed = fn
	}
}
