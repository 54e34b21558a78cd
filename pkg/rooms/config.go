package rooms

import (
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
)

// config holds the environment configuration of the room directory.
type config struct {
	// Region the directory is deployed to.
	Region string `env:"ROOMS_REGION" envDefault:"local"`

	// The organization that owns the game.
	Organization string `env:"ROOMS_ORG" envDefault:"organization"`

	// Name of the project within the organization.
	Project string `env:"ROOMS_PROJECT" envDefault:"project"`

	// Unique ID of this directory instance.
	ServiceID string `env:"ROOMS_SERVICE_ID" envDefault:"rooms"`

	// Listen address of the HTTP server exposing metrics and the directory API.
	HTTPAddr string `env:"ROOMS_HTTP_ADDR" envDefault:":8080"`
}

func loadConfig() (config, error) {
	cfg := config{}

	if err := env.Parse(&cfg); err != nil {
		return cfg, eris.Wrap(err, "failed to parse rooms config")
	}

	return cfg, nil
}

func (cfg *config) applyToOptions(opt *Options) {
	opt.Region = cfg.Region
	opt.Organization = cfg.Organization
	opt.Project = cfg.Project
	opt.ServiceID = cfg.ServiceID
	opt.HTTPAddr = cfg.HTTPAddr
}

type Options struct {
	Region       string // Region the directory is deployed to
	Organization string // The organization that owns the game
	Project      string // Name of the project within the organization
	ServiceID    string // Unique ID of this directory instance
	HTTPAddr     string // Listen address for metrics and the HTTP API

	// Registry collects the directory metrics. A private registry is created when nil.
	Registry *prometheus.Registry
}

func newDefaultOptions() Options {
	return Options{
		Region:    "local",
		ServiceID: "rooms",
		HTTPAddr:  ":8080",
	}
}

// apply merges the given options into the current options, overriding non-zero values.
func (opt *Options) apply(newOpt Options) {
	if newOpt.Region != "" {
		opt.Region = newOpt.Region
	}
	if newOpt.Organization != "" {
		opt.Organization = newOpt.Organization
	}
	if newOpt.Project != "" {
		opt.Project = newOpt.Project
	}
	if newOpt.ServiceID != "" {
		opt.ServiceID = newOpt.ServiceID
	}
	if newOpt.HTTPAddr != "" {
		opt.HTTPAddr = newOpt.HTTPAddr
	}
	if newOpt.Registry != nil {
		opt.Registry = newOpt.Registry
	}
}

func (opt *Options) validate() error {
	parts := map[string]string{
		"region":       opt.Region,
		"organization": opt.Organization,
		"project":      opt.Project,
		"service ID":   opt.ServiceID,
	}
	for name, value := range parts {
		if value == "" {
			return eris.Errorf("%s cannot be empty", name)
		}
		// Address parts become NATS subject tokens.
		if strings.ContainsAny(value, ". *>") {
			return eris.Errorf("%s %q contains characters not allowed in a subject", name, value)
		}
	}
	if opt.HTTPAddr == "" {
		return eris.New("HTTP address cannot be empty")
	}
	return nil
}
