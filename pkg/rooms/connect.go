package rooms

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"
	"github.com/rotisserie/eris"

	"github.com/argus-labs/lobby-launcher/pkg/rooms/types"
)

const (
	// DirectoryServiceName is the fully-qualified name of the HTTP directory API.
	DirectoryServiceName = "rooms.v1.RoomDirectory"

	ListRoomsProcedure = "/" + DirectoryServiceName + "/ListRooms"
	StatsProcedure     = "/" + DirectoryServiceName + "/Stats"
)

// Handler returns the HTTP handler serving /metrics and the directory API.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.metrics.handler())

	opts := connect.WithHandlerOptions(connect.WithCodec(jsonCodec{}))
	mux.Handle(ListRoomsProcedure, connect.NewUnaryHandler(ListRoomsProcedure, s.listRooms, opts))
	mux.Handle(StatsProcedure, connect.NewUnaryHandler(StatsProcedure, s.stats, opts))

	return mux
}

func (s *Service) listRooms(
	_ context.Context,
	req *connect.Request[types.ListRoomsRequest],
) (*connect.Response[types.ListRoomsResult], error) {
	return connect.NewResponse(&types.ListRoomsResult{Rooms: s.rooms.List(req.Msg.GameVersion)}), nil
}

func (s *Service) stats(
	_ context.Context,
	_ *connect.Request[types.StatsRequest],
) (*connect.Response[types.Stats], error) {
	stats := s.rooms.Stats()
	return connect.NewResponse(&stats), nil
}

// DirectoryClient calls the HTTP directory API.
type DirectoryClient struct {
	listRooms *connect.Client[types.ListRoomsRequest, types.ListRoomsResult]
	stats     *connect.Client[types.StatsRequest, types.Stats]
}

// NewDirectoryClient creates a client for the directory served at baseURL.
func NewDirectoryClient(httpClient connect.HTTPClient, baseURL string) *DirectoryClient {
	baseURL = strings.TrimRight(baseURL, "/")
	return &DirectoryClient{
		listRooms: connect.NewClient[types.ListRoomsRequest, types.ListRoomsResult](
			httpClient, baseURL+ListRoomsProcedure, connect.WithCodec(jsonCodec{}),
		),
		stats: connect.NewClient[types.StatsRequest, types.Stats](
			httpClient, baseURL+StatsProcedure, connect.WithCodec(jsonCodec{}),
		),
	}
}

// ListRooms returns the visible rooms of a game version, or of every version when empty.
func (c *DirectoryClient) ListRooms(ctx context.Context, gameVersion string) ([]types.RoomInfo, error) {
	res, err := c.listRooms.CallUnary(ctx, connect.NewRequest(&types.ListRoomsRequest{GameVersion: gameVersion}))
	if err != nil {
		return nil, eris.Wrap(err, "failed to list rooms")
	}
	return res.Msg.Rooms, nil
}

// Stats returns the directory's room and player counts.
func (c *DirectoryClient) Stats(ctx context.Context) (types.Stats, error) {
	res, err := c.stats.CallUnary(ctx, connect.NewRequest(&types.StatsRequest{}))
	if err != nil {
		return types.Stats{}, eris.Wrap(err, "failed to get directory stats")
	}
	return *res.Msg, nil
}
