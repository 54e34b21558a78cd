package micro

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/codes"

	"github.com/argus-labs/lobby-launcher/pkg/assert"
	"github.com/argus-labs/lobby-launcher/pkg/telemetry"
)

var (
	ErrEndpointAlreadyExists = eris.New("endpoint already exists")
)

// Service represents a micro service that can serve requests.
type Service struct {
	tel    *telemetry.Telemetry
	client *Client

	mu        sync.Mutex
	endpoints map[string]*nats.Subscription

	Address *ServiceAddress
	Version string // Version represents the service version.
}

// NewService creates a new service with the given NATS client, service address, and telemetry.
func NewService(client *Client, address *ServiceAddress, tel *telemetry.Telemetry) (*Service, error) {
	if client == nil {
		return nil, eris.New("client cannot be nil")
	}
	if address == nil {
		return nil, eris.New("service address cannot be nil")
	}

	return &Service{
		tel:       tel,
		client:    client,
		endpoints: make(map[string]*nats.Subscription),
		Address:   address,
		Version:   runtime.Version(),
	}, nil
}

// Logger returns a logger for the service with service-specific context.
func (s *Service) Logger() *zerolog.Logger {
	logger := s.tel.GetLogger("service").With().
		Str("realm", s.Address.Realm.String()).
		Str("organization", s.Address.Organization).
		Str("project", s.Address.Project).
		Str("service_id", s.Address.ServiceID).
		Logger()
	return &logger
}

// NATS returns the underlying NATS client.
func (s *Service) NATS() *Client {
	return s.client
}

// AddGroup returns a helper struct that allows registering a group of endpoints with a common prefix.
// For example, all endpoints in the "room" group will be registered as "room.<endpoint_name>".
//
// Example:
//
//	roomGroup := svc.AddGroup("room")
//	roomGroup.AddEndpoint("create", handleCreate)      // -> "<service_address>.room.create"
//	roomGroup.AddEndpoint("join-random", handleJoin)   // -> "<service_address>.room.join-random"
func (s *Service) AddGroup(name string) *ServiceEndpointGroup {
	return &ServiceEndpointGroup{
		service: s,
		group:   name,
	}
}

// AddEndpoint adds an endpoint to the service.
// The endpoint will be registered under the service's address as a prefix.
//
// Example:
//
//	svc.AddEndpoint("ping", handlePing)   // -> "<service_address>.ping"
func (s *Service) AddEndpoint(name string, handler Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.endpoints[name]; ok {
		return eris.Wrap(ErrEndpointAlreadyExists, name)
	}

	sub, err := s.client.Subscribe(Endpoint(s.Address, name), func(msg *nats.Msg) {
		defer s.tel.RecoverAndFlush(false)

		ctx := otel.GetTextMapPropagator().Extract(context.Background(), propagation.HeaderCarrier(msg.Header))

		ctx, span := s.tel.Tracer.Start(ctx, "handler."+name,
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(attribute.String("nats.subject", msg.Subject)))
		defer span.End()

		requestLogger := s.tel.GetLoggerWithTrace(ctx, "service.handler").With().Str("endpoint", name).Logger()

		start := time.Now()
		replyBz, err := handleNATSMessage(ctx, msg, handler, s.Address, s.tel.Tracer, requestLogger)

		duration := time.Since(start)
		span.SetAttributes(attribute.Int64("handler.duration_ms", duration.Milliseconds()))
		durationLogger := requestLogger.With().Int("duration_ms", int(duration.Milliseconds())).Logger()

		if err != nil {
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, err.Error())
			durationLogger.Error().Err(err).Msg("failed to handle request")

			code := codes.Internal
			if eris.Is(err, errMalformedRequest) {
				code = codes.InvalidArgument
			}
			errResp := NewErrorResponse(&Request{Raw: msg, ServiceAddress: s.Address}, err, code)

			// Error responses carry no payload, so marshalling cannot fail.
			errRespBz, marshalErr := errResp.Bytes()
			assert.That(marshalErr == nil, "failed to marshal error response")
			replyBz = errRespBz
		} else {
			span.SetStatus(otelcodes.Ok, "")
		}

		if err := msg.Respond(replyBz); err != nil {
			durationLogger.Error().Err(err).Msg("failed to send response over NATS")
		} else {
			durationLogger.Debug().Msg("response sent successfully")
		}
	})
	if err != nil {
		return eris.Wrap(err, fmt.Sprintf("failed to subscribe to endpoint %s", name))
	}

	s.endpoints[name] = sub
	return nil
}

var errMalformedRequest = eris.New("malformed request")

// handleNATSMessage converts a NATS message to a Request, calls the handler, and converts
// the Response back to bytes for NATS.
func handleNATSMessage(
	ctx context.Context,
	msg *nats.Msg,
	handler Handler,
	serviceAddr *ServiceAddress,
	tracer trace.Tracer,
	logger zerolog.Logger,
) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "handler.execute", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	req, err := NewRequestFromNATSMsg(msg, serviceAddr)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, eris.Wrap(errMalformedRequest, err.Error())
	}
	span.SetAttributes(attribute.String("request.id", req.RequestID))

	reqLogger := logger.With().Str("request_id", req.RequestID).Logger()
	reqLogger.Debug().Msg("request received")

	resp := handler(ctx, req)

	span.SetAttributes(attribute.Int("status.code", int(resp.Status.Code)))
	if resp.Status.Code != codes.OK {
		span.RecordError(eris.New(resp.Status.Message))
		span.SetStatus(otelcodes.Error, resp.Status.Message)
		reqLogger.Error().
			Str("code", resp.Status.Code.String()).
			Str("message", resp.Status.Message).
			Msg("request failed")
	} else {
		span.SetStatus(otelcodes.Ok, "")
		reqLogger.Debug().Msg("request processed successfully")
	}

	respBytes, err := resp.Bytes()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, eris.Wrap(err, "failed to marshal response")
	}

	return respBytes, nil
}

// Close unsubscribes all the endpoints registered with the service.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for name, sub := range s.endpoints {
		if err := sub.Unsubscribe(); err != nil {
			if !eris.Is(err, nats.ErrConnectionClosed) {
				s.Logger().Error().Err(err).Str("endpoint", name).Msg("failed to unsubscribe endpoint")
				errs = append(errs, err)
			}
		}
		delete(s.endpoints, name)
	}
	return errors.Join(errs...)
}

// -------------------------------------------------------------------------------------------------
// Endpoint groups
// -------------------------------------------------------------------------------------------------

// ServiceEndpointGroup is a helper struct that allows registering a group of endpoints with a common prefix.
type ServiceEndpointGroup struct {
	service *Service
	group   string
}

func (g *ServiceEndpointGroup) AddEndpoint(name string, handler Handler) error {
	return g.service.AddEndpoint(g.group+"."+name, handler)
}
