// Package rooms implements the room directory: the backend that answers random joins and room
// creation for launcher clients over NATS, and exposes a read-only HTTP API plus metrics.
package rooms

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"google.golang.org/grpc/codes"

	"github.com/argus-labs/lobby-launcher/pkg/micro"
	"github.com/argus-labs/lobby-launcher/pkg/rooms/store"
	"github.com/argus-labs/lobby-launcher/pkg/rooms/types"
	"github.com/argus-labs/lobby-launcher/pkg/telemetry"
)

// Endpoint names, relative to the directory's service address.
const (
	EndpointJoinRandom = "room.join-random"
	EndpointCreate     = "room.create"
	EndpointLeave      = "room.leave"
	EndpointSetOpen    = "room.set-open"
	EndpointPlayerRoom = "query.player-room"
	EndpointList       = "query.list"
	EndpointStats      = "query.stats"
)

// Service handles NATS service communication for the room directory.
type Service struct {
	*micro.Service
	rooms   *store.RoomStore
	metrics *metrics
	tel     *telemetry.Telemetry
	options Options

	now func() time.Time
}

// NewService registers the directory endpoints on the given NATS client.
// Options are read from ROOMS_* environment variables and overridden by the non-zero fields of opts.
func NewService(client *micro.Client, tel *telemetry.Telemetry, opts Options) (*Service, error) {
	if tel == nil {
		return nil, eris.New("telemetry cannot be nil")
	}

	cfg, err := loadConfig()
	if err != nil {
		return nil, eris.Wrap(err, "failed to load config")
	}

	options := newDefaultOptions()
	cfg.applyToOptions(&options)
	options.apply(opts)
	if err := options.validate(); err != nil {
		return nil, eris.Wrap(err, "invalid rooms options")
	}
	if options.Registry == nil {
		options.Registry = prometheus.NewRegistry()
	}

	address := micro.GetAddress(options.Region, micro.RealmWorld, options.Organization, options.Project, options.ServiceID)
	service, err := micro.NewService(client, address, tel)
	if err != nil {
		return nil, eris.Wrap(err, "failed to create service")
	}

	rooms := store.NewRoomStore()
	s := &Service{
		Service: service,
		rooms:   rooms,
		metrics: newMetrics(options.Registry, rooms),
		tel:     tel,
		options: options,
		now:     time.Now,
	}

	endpoints := []struct {
		name    string
		handler micro.Handler
	}{
		{EndpointJoinRandom, s.handleJoinRandom},
		{EndpointCreate, s.handleCreate},
		{EndpointLeave, s.handleLeave},
		{EndpointSetOpen, s.handleSetOpen},
		{EndpointPlayerRoom, s.handlePlayerRoom},
		{EndpointList, s.handleList},
		{EndpointStats, s.handleStats},
	}
	for _, ep := range endpoints {
		if err := service.AddEndpoint(ep.name, ep.handler); err != nil {
			_ = service.Close()
			return nil, eris.Wrapf(err, "failed to add %s endpoint", ep.name)
		}
	}

	s.Logger().Info().Str("address", micro.String(address)).Msg("Room directory registered")
	return s, nil
}

// Options returns the resolved options of the directory.
func (s *Service) Options() Options {
	return s.options
}

// Stats returns the current room and player counts.
func (s *Service) Stats() types.Stats {
	return s.rooms.Stats()
}

// handleJoinRandom seats the player in the oldest joinable room of its game version.
// A miss is an application outcome, so it is returned with an OK status and a return code.
func (s *Service) handleJoinRandom(_ context.Context, req *micro.Request) *micro.Response {
	var body types.JoinRandomRoomRequest
	if err := req.Decode(&body); err != nil {
		return micro.NewErrorResponse(req, err, codes.InvalidArgument)
	}

	room, err := s.rooms.JoinRandom(body.GameVersion, body.PlayerID)
	result := joinResult(room, err)
	s.metrics.observe("join_random", result.ReturnCode)

	s.tel.Logger.Debug().
		Str("player_id", body.PlayerID).
		Str("game_version", body.GameVersion).
		Str("return_code", result.ReturnCode.String()).
		Msg("Join random room")

	return micro.NewSuccessResponse(req, result)
}

// handleCreate creates a room with the caller as its first occupant.
func (s *Service) handleCreate(_ context.Context, req *micro.Request) *micro.Response {
	var body types.CreateRoomRequest
	if err := req.Decode(&body); err != nil {
		return micro.NewErrorResponse(req, err, codes.InvalidArgument)
	}

	room, err := s.rooms.Create(body.Name, body.GameVersion, body.PlayerID, body.Options, s.now())
	result := joinResult(room, err)
	s.metrics.observe("create", result.ReturnCode)

	s.tel.Logger.Debug().
		Str("player_id", body.PlayerID).
		Str("game_version", body.GameVersion).
		Str("return_code", result.ReturnCode.String()).
		Msg("Create room")

	return micro.NewSuccessResponse(req, result)
}

// handleLeave removes the caller from its room, deleting the room once empty.
func (s *Service) handleLeave(_ context.Context, req *micro.Request) *micro.Response {
	var body types.LeaveRoomRequest
	if err := req.Decode(&body); err != nil {
		return micro.NewErrorResponse(req, err, codes.InvalidArgument)
	}

	closed, err := s.rooms.Leave(body.RoomID, body.PlayerID)
	result := types.LeaveRoomResult{ReturnCode: types.ReturnCodeOK, Closed: closed}
	if err != nil {
		result.ReturnCode, result.Message = returnCodeOf(err)
	}
	s.metrics.observe("leave", result.ReturnCode)
	if closed {
		s.metrics.closed.Inc()
	}

	s.tel.Logger.Debug().
		Str("player_id", body.PlayerID).
		Str("room_id", body.RoomID).
		Bool("closed", closed).
		Msg("Leave room")

	return micro.NewSuccessResponse(req, result)
}

// handleSetOpen opens or closes the caller's room for random joins.
func (s *Service) handleSetOpen(_ context.Context, req *micro.Request) *micro.Response {
	var body types.SetRoomOpenRequest
	if err := req.Decode(&body); err != nil {
		return micro.NewErrorResponse(req, err, codes.InvalidArgument)
	}

	result := types.SetRoomOpenResult{ReturnCode: types.ReturnCodeOK}
	if err := s.rooms.SetOpen(body.RoomID, body.PlayerID, body.IsOpen); err != nil {
		result.ReturnCode, result.Message = returnCodeOf(err)
	}
	s.metrics.observe("set_open", result.ReturnCode)

	s.tel.Logger.Debug().
		Str("player_id", body.PlayerID).
		Str("room_id", body.RoomID).
		Bool("is_open", body.IsOpen).
		Str("return_code", result.ReturnCode.String()).
		Msg("Set room open")

	return micro.NewSuccessResponse(req, result)
}

// handlePlayerRoom looks up the seat held by a player.
func (s *Service) handlePlayerRoom(_ context.Context, req *micro.Request) *micro.Response {
	var body types.PlayerRoomRequest
	if err := req.Decode(&body); err != nil {
		return micro.NewErrorResponse(req, err, codes.InvalidArgument)
	}

	var result types.PlayerRoomResult
	if room, ok := s.rooms.GetByPlayer(body.PlayerID); ok {
		info := room.Info()
		result.Room = &info
	}
	return micro.NewSuccessResponse(req, result)
}

// handleList returns the visible rooms. The request payload is optional.
func (s *Service) handleList(_ context.Context, req *micro.Request) *micro.Response {
	var body types.ListRoomsRequest
	if len(req.Payload) > 0 {
		if err := req.Decode(&body); err != nil {
			return micro.NewErrorResponse(req, err, codes.InvalidArgument)
		}
	}
	return micro.NewSuccessResponse(req, types.ListRoomsResult{Rooms: s.rooms.List(body.GameVersion)})
}

func (s *Service) handleStats(_ context.Context, req *micro.Request) *micro.Response {
	stats := s.rooms.Stats()

	s.tel.Logger.Debug().
		Int("room_count", stats.Rooms).
		Int("player_count", stats.Players).
		Msg("Query: stats")

	return micro.NewSuccessResponse(req, stats)
}

func joinResult(room types.Room, err error) types.JoinRoomResult {
	if err != nil {
		code, message := returnCodeOf(err)
		return types.JoinRoomResult{ReturnCode: code, Message: message}
	}
	info := room.Info()
	return types.JoinRoomResult{ReturnCode: types.ReturnCodeOK, Room: &info}
}

func returnCodeOf(err error) (types.ReturnCode, string) {
	var rerr *types.Error
	if errors.As(err, &rerr) {
		return rerr.Code, rerr.Message
	}
	return types.ReturnCodeInternalServerError, err.Error()
}
