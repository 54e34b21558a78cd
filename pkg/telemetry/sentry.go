package telemetry

import (
	"context"
	"time"

	sentrygo "github.com/getsentry/sentry-go"
	"github.com/rotisserie/eris"
	"go.opentelemetry.io/otel/trace"
)

const sentryFlushTimeout = 5 * time.Second

// setupSentry initializes the global Sentry hub. Initialization is skipped when the DSN is empty.
func setupSentry(opts Options) error {
	if opts.SentryDsn == "" {
		return nil
	}

	err := sentrygo.Init(sentrygo.ClientOptions{
		Dsn:         opts.SentryDsn,
		Environment: opts.SentryEnvironment,
		ServerName:  opts.ServiceName,
		Tags:        opts.SentryTags,
	})
	if err != nil {
		return eris.Wrap(err, "failed to initialize sentry")
	}
	return nil
}

// RecoverAndFlush captures a panic (if any) and flushes buffered events.
// If repanic is true, the panic is rethrown after flush to preserve crash semantics.
// Must be called directly by defer.
func (t *Telemetry) RecoverAndFlush(repanic bool) {
	if r := recover(); r != nil {
		t.Logger.Error().Interface("panic", r).Msg("recovered panic")
		if sentryInitialized() {
			sentrygo.CurrentHub().Recover(r)
			sentrygo.Flush(sentryFlushTimeout)
		}
		if repanic {
			panic(r)
		}
		return
	}
	if sentryInitialized() {
		sentrygo.Flush(sentryFlushTimeout)
	}
}

// CaptureException reports a handled error to Sentry, tagged with the active trace.
func (t *Telemetry) CaptureException(ctx context.Context, err error) {
	if !sentryInitialized() || err == nil {
		return
	}
	sentrygo.WithScope(func(scope *sentrygo.Scope) {
		if spanCtx := trace.SpanContextFromContext(ctx); spanCtx.IsValid() {
			scope.SetTag("trace_id", spanCtx.TraceID().String())
			scope.SetTag("span_id", spanCtx.SpanID().String())
		}
		scope.SetTag("service", t.serviceName)
		sentrygo.CaptureException(err)
	})
}

func flushSentry(ctx context.Context) {
	if !sentryInitialized() {
		return
	}
	timeout := sentryFlushTimeout
	if dl, ok := ctx.Deadline(); ok {
		if until := time.Until(dl); until > 0 && until < timeout {
			timeout = until
		}
	}
	sentrygo.Flush(timeout)
}

func sentryInitialized() bool {
	return sentrygo.CurrentHub().Client() != nil
}
