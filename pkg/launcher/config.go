package launcher

import (
	"github.com/caarlos0/env/v11"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// config holds the environment configuration of the launcher.
type config struct {
	// Capacity of rooms created by this client.
	MaxPlayersPerRoom int `env:"LAUNCHER_MAX_PLAYERS_PER_ROOM" envDefault:"4"`

	// Clients are only ever matched with clients of the same game version.
	GameVersion string `env:"LAUNCHER_GAME_VERSION" envDefault:"1"`

	// Scene loaded by the first player to enter a room.
	FirstOccupantScene string `env:"LAUNCHER_FIRST_OCCUPANT_SCENE" envDefault:"Room for 1"`
}

func loadConfig() (config, error) {
	cfg, err := env.ParseAs[config]()
	if err != nil {
		return cfg, eris.Wrap(err, "failed to parse launcher config")
	}
	return cfg, nil
}

func (cfg *config) applyToOptions(opt *Options) {
	opt.MaxPlayersPerRoom = cfg.MaxPlayersPerRoom
	opt.GameVersion = cfg.GameVersion
	opt.FirstOccupantScene = cfg.FirstOccupantScene
}

// Observer is called after every state change.
type Observer func(from, to State)

type Options struct {
	MaxPlayersPerRoom  int    // Capacity of rooms created by this client
	GameVersion        string // Segregates incompatible clients
	FirstOccupantScene string // Scene loaded by the first player in a room

	Logger    *zerolog.Logger // Defaults to a no-op logger
	Observers []Observer
}

func newDefaultOptions() Options {
	return Options{
		MaxPlayersPerRoom:  4,
		GameVersion:        "1",
		FirstOccupantScene: "Room for 1",
	}
}

// apply merges the given options into the current options, overriding non-zero values.
func (opt *Options) apply(newOpt Options) {
	if newOpt.MaxPlayersPerRoom != 0 {
		opt.MaxPlayersPerRoom = newOpt.MaxPlayersPerRoom
	}
	if newOpt.GameVersion != "" {
		opt.GameVersion = newOpt.GameVersion
	}
	if newOpt.FirstOccupantScene != "" {
		opt.FirstOccupantScene = newOpt.FirstOccupantScene
	}
	if newOpt.Logger != nil {
		opt.Logger = newOpt.Logger
	}
	opt.Observers = append(opt.Observers, newOpt.Observers...)
}

func (opt *Options) validate() error {
	if opt.MaxPlayersPerRoom <= 0 {
		return eris.Errorf("max players per room must be positive, got %d", opt.MaxPlayersPerRoom)
	}
	if opt.GameVersion == "" {
		return eris.New("game version cannot be empty")
	}
	if opt.FirstOccupantScene == "" {
		return eris.New("first occupant scene cannot be empty")
	}
	return nil
}
