// Command roomd runs the room directory that launcher clients match through.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog/log"

	"github.com/argus-labs/lobby-launcher/pkg/micro"
	"github.com/argus-labs/lobby-launcher/pkg/rooms"
	"github.com/argus-labs/lobby-launcher/pkg/telemetry"
)

func main() {
	// Load local .env (dev only)
	_ = godotenv.Load()

	tel, err := telemetry.New(telemetry.Options{ServiceName: "roomd"})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer tel.RecoverAndFlush(true)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, &tel); err != nil {
		tel.CaptureException(ctx, err)
		tel.Logger.Error().Err(err).Msg("room directory stopped with error")
		shutdownTelemetry(&tel)
		os.Exit(1)
	}
	shutdownTelemetry(&tel)
}

func run(ctx context.Context, tel *telemetry.Telemetry) error {
	client, err := micro.NewClient(micro.WithName("roomd"), micro.WithLogger(tel.GetLogger("client")))
	if err != nil {
		return eris.Wrap(err, "failed to initialize micro client")
	}
	defer client.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	svc, err := rooms.NewService(client, tel, rooms.Options{Registry: registry})
	if err != nil {
		return eris.Wrap(err, "failed to initialize room directory")
	}
	defer func() {
		if err := svc.Close(); err != nil {
			tel.Logger.Error().Err(err).Msg("failed to close room directory")
		}
	}()

	srv := &http.Server{
		Addr:              svc.Options().HTTPAddr,
		Handler:           svc.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		tel.Logger.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- eris.Wrap(err, "HTTP server failed")
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	tel.Logger.Info().Msg("Shutting down room directory")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return eris.Wrap(err, "failed to shut down HTTP server")
	}
	return nil
}

func shutdownTelemetry(tel *telemetry.Telemetry) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tel.Shutdown(ctx); err != nil {
		tel.Logger.Error().Err(err).Msg("telemetry shutdown error")
	}
}
