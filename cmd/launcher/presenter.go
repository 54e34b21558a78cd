package main

import (
	"strings"

	"github.com/rs/zerolog"

	"github.com/argus-labs/lobby-launcher/pkg/launcher"
)

// consolePresenter renders the lobby UI as log lines.
type consolePresenter struct {
	log zerolog.Logger
}

var _ launcher.PresentationPort = (*consolePresenter)(nil)

func (p *consolePresenter) ShowConnecting() {
	p.log.Info().Msg("Connecting... (controls hidden)")
}

func (p *consolePresenter) ShowIdleControls() {
	p.log.Info().Msg("Ready. Press Enter to play, type 'leave' to leave a room, 'open' or 'close' to toggle it, 'quit' to exit")
}

func (p *consolePresenter) TransitionToScene(name string) {
	p.log.Info().Str("scene", name).Msg("Loading scene")
}

type inputCommand uint8

const (
	inputUnknown inputCommand = iota
	inputPlay
	inputLeave
	inputStatus
	inputOpen
	inputClose
	inputQuit
)

// parseInput maps a console line to a command. An empty line presses "Play".
func parseInput(line string) inputCommand {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "", "play":
		return inputPlay
	case "leave":
		return inputLeave
	case "status":
		return inputStatus
	case "open":
		return inputOpen
	case "close":
		return inputClose
	case "quit", "exit":
		return inputQuit
	default:
		return inputUnknown
	}
}
