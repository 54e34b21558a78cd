// Command launcher is a console lobby client. Each "Play" press either joins a random room of the
// configured game version or creates a new one.
package main

import (
	"bufio"
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/argus-labs/lobby-launcher/pkg/launcher"
	"github.com/argus-labs/lobby-launcher/pkg/launcher/natsnet"
	"github.com/argus-labs/lobby-launcher/pkg/telemetry"
)

func main() {
	// Load local .env (dev only)
	_ = godotenv.Load()

	tel, err := telemetry.New(telemetry.Options{ServiceName: "launcher"})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer tel.RecoverAndFlush(true)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, &tel); err != nil {
		tel.CaptureException(ctx, err)
		tel.Logger.Error().Err(err).Msg("launcher stopped with error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tel.Shutdown(shutdownCtx); err != nil {
		tel.Logger.Error().Err(err).Msg("telemetry shutdown error")
	}
}

func run(ctx context.Context, tel *telemetry.Telemetry) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	net, err := natsnet.New(natsnet.Options{Telemetry: tel})
	if err != nil {
		return eris.Wrap(err, "failed to initialize network")
	}
	defer net.Close()

	controllerLog := tel.GetLogger("controller")
	presenter := &consolePresenter{log: tel.GetLogger("ui")}
	ctrl, err := launcher.NewController(net, presenter, launcher.Options{
		Logger: &controllerLog,
		Observers: []launcher.Observer{func(from, to launcher.State) {
			controllerLog.Info().Str("from", from.String()).Str("to", to.String()).Msg("State changed")
		}},
	})
	if err != nil {
		return eris.Wrap(err, "failed to initialize controller")
	}

	loop := launcher.NewLoop(0)
	net.SetCallbacks(launcher.Serialize(loop, ctrl))
	loop.Post(ctrl.Initialize)

	tel.Logger.Info().
		Str("player_id", net.PlayerID()).
		Str("game_version", ctrl.Options().GameVersion).
		Msg("Launcher started")

	go readInput(ctx, cancel, loop, ctrl, net, tel.GetLogger("input"))

	return loop.Run(ctx)
}

const roomToggleTimeout = 5 * time.Second

// readInput turns console lines into controller actions on the loop.
func readInput(
	ctx context.Context,
	cancel context.CancelFunc,
	loop *launcher.Loop,
	ctrl *launcher.Controller,
	net *natsnet.Network,
	logger zerolog.Logger,
) {
	defer cancel()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}

		line := scanner.Text()
		switch parseInput(line) {
		case inputPlay:
			loop.Post(func() {
				if err := ctrl.RequestConnect(); err != nil {
					logger.Warn().Err(err).Msg("Cannot play right now")
				}
			})
		case inputLeave:
			loop.Post(func() {
				if ctrl.State() != launcher.StateInRoom {
					logger.Warn().Msg("Not in a room")
					return
				}
				net.LeaveRoom()
			})
		case inputStatus:
			loop.Post(func() {
				event := logger.Info().Str("state", ctrl.State().String()).Bool("connected", net.IsConnected())
				if room, ok := net.CurrentRoom(); ok {
					event = event.Str("room", room.Name).Int("player_count", room.PlayerCount).Bool("open", room.IsOpen)
				}
				event.Msg("Status")
			})
		case inputOpen, inputClose:
			open := parseInput(line) == inputOpen
			reqCtx, reqCancel := context.WithTimeout(ctx, roomToggleTimeout)
			if err := net.SetRoomOpen(reqCtx, open); err != nil {
				logger.Warn().Err(err).Bool("open", open).Msg("Failed to open or close room")
			} else {
				logger.Info().Bool("open", open).Msg("Room updated")
			}
			reqCancel()
		case inputQuit:
			return
		case inputUnknown:
			logger.Warn().Str("input", line).Msg("Unknown command")
		}
	}
}
