package natsnet

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/argus-labs/lobby-launcher/pkg/micro"
	"github.com/argus-labs/lobby-launcher/pkg/telemetry"
)

// config holds the environment configuration of the NATS network service.
type config struct {
	// Identifies this client to the room directory. A random ID is generated when empty.
	PlayerID string `env:"LAUNCHER_PLAYER_ID"`

	// Service address of the room directory.
	DirectoryAddress string `env:"LAUNCHER_DIRECTORY_ADDRESS" envDefault:"local.world.organization.project.rooms"`

	// Upper bound for a single directory request.
	RequestTimeout time.Duration `env:"LAUNCHER_REQUEST_TIMEOUT" envDefault:"5s"`
}

func loadConfig() (config, error) {
	cfg, err := env.ParseAs[config]()
	if err != nil {
		return cfg, eris.Wrap(err, "failed to parse natsnet config")
	}
	return cfg, nil
}

func (cfg *config) applyToOptions(opt *Options) {
	if cfg.PlayerID != "" {
		opt.PlayerID = cfg.PlayerID
	}
	opt.DirectoryAddress = cfg.DirectoryAddress
	opt.RequestTimeout = cfg.RequestTimeout
}

type Options struct {
	PlayerID         string        // Identifies this client to the room directory
	DirectoryAddress string        // "<region>.<realm>.<organization>.<project>.<service_id>"
	RequestTimeout   time.Duration // Upper bound for a single directory request

	// NATS overrides the NATS_* environment configuration when set.
	NATS *micro.NATSConfig

	Telemetry *telemetry.Telemetry // Defaults to no-op telemetry
	Logger    *zerolog.Logger      // Overrides the telemetry logger when set
}

func newDefaultOptions() Options {
	return Options{
		PlayerID:         uuid.NewString(),
		DirectoryAddress: "local.world.organization.project.rooms",
		RequestTimeout:   5 * time.Second,
	}
}

// apply merges the given options into the current options, overriding non-zero values.
func (opt *Options) apply(newOpt Options) {
	if newOpt.PlayerID != "" {
		opt.PlayerID = newOpt.PlayerID
	}
	if newOpt.DirectoryAddress != "" {
		opt.DirectoryAddress = newOpt.DirectoryAddress
	}
	if newOpt.RequestTimeout != 0 {
		opt.RequestTimeout = newOpt.RequestTimeout
	}
	if newOpt.NATS != nil {
		opt.NATS = newOpt.NATS
	}
	if newOpt.Telemetry != nil {
		opt.Telemetry = newOpt.Telemetry
	}
	if newOpt.Logger != nil {
		opt.Logger = newOpt.Logger
	}
}

func (opt *Options) validate() error {
	if opt.PlayerID == "" {
		return eris.New("player ID cannot be empty")
	}
	if _, err := micro.ParseAddress(opt.DirectoryAddress); err != nil {
		return eris.Wrap(err, "invalid directory address")
	}
	if opt.RequestTimeout <= 0 {
		return eris.New("request timeout must be positive")
	}
	return nil
}
