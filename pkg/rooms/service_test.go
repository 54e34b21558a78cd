package rooms_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"

	"github.com/argus-labs/lobby-launcher/pkg/micro"
	microtest "github.com/argus-labs/lobby-launcher/pkg/micro/testutils"
	"github.com/argus-labs/lobby-launcher/pkg/rooms"
	"github.com/argus-labs/lobby-launcher/pkg/rooms/types"
	"github.com/argus-labs/lobby-launcher/pkg/telemetry"
)

type fixture struct {
	svc     *rooms.Service
	client  *micro.Client
	address *micro.ServiceAddress
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	nt := microtest.NewNATS(t)
	tel := telemetry.NewNop("rooms-test")

	newClient := func(name string) *micro.Client {
		c, err := micro.NewClient(
			micro.WithNATSConfig(micro.NATSConfig{Name: name, URL: nt.Server.ClientURL()}),
			micro.WithLogger(zerolog.Nop()),
		)
		require.NoError(t, err)
		t.Cleanup(c.Close)
		return c
	}

	svc, err := rooms.NewService(newClient("rooms"), &tel, rooms.Options{
		Region:       "test",
		Organization: "org",
		Project:      "proj",
		ServiceID:    "rooms",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	return fixture{svc: svc, client: newClient("player"), address: svc.Address}
}

func (f fixture) request(t *testing.T, endpoint string, payload, out any) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	res, err := f.client.Request(ctx, f.address, endpoint, payload)
	require.NoError(t, err)
	require.NoError(t, res.Decode(out))
}

func (f fixture) joinRandom(t *testing.T, gameVersion, playerID string) types.JoinRoomResult {
	t.Helper()
	var result types.JoinRoomResult
	f.request(t, rooms.EndpointJoinRandom, types.JoinRandomRoomRequest{GameVersion: gameVersion, PlayerID: playerID}, &result)
	return result
}

func (f fixture) create(t *testing.T, gameVersion, playerID string) types.JoinRoomResult {
	t.Helper()
	var result types.JoinRoomResult
	f.request(t, rooms.EndpointCreate, types.CreateRoomRequest{
		GameVersion: gameVersion,
		PlayerID:    playerID,
		Options:     types.RoomOptions{MaxPlayers: 2},
	}, &result)
	return result
}

func TestService_JoinRandomMissThenCreate(t *testing.T) {
	f := newFixture(t)

	miss := f.joinRandom(t, "1", "alice")
	assert.Equal(t, types.ReturnCodeNoRandomMatchFound, miss.ReturnCode)
	assert.Nil(t, miss.Room)

	created := f.create(t, "1", "alice")
	require.Equal(t, types.ReturnCodeOK, created.ReturnCode)
	require.NotNil(t, created.Room)
	assert.Equal(t, 1, created.Room.PlayerCount)
	assert.Equal(t, created.Room.ID, created.Room.Name, "anonymous rooms are named after their ID")

	joined := f.joinRandom(t, "1", "bob")
	require.Equal(t, types.ReturnCodeOK, joined.ReturnCode)
	assert.Equal(t, created.Room.ID, joined.Room.ID)
	assert.Equal(t, 2, joined.Room.PlayerCount)

	// MaxPlayers is 2, so the room is full now.
	full := f.joinRandom(t, "1", "carol")
	assert.Equal(t, types.ReturnCodeNoRandomMatchFound, full.ReturnCode)
}

func TestService_GameVersionsAreSegregated(t *testing.T) {
	f := newFixture(t)

	require.Equal(t, types.ReturnCodeOK, f.create(t, "1", "alice").ReturnCode)

	other := f.joinRandom(t, "2", "bob")
	assert.Equal(t, types.ReturnCodeNoRandomMatchFound, other.ReturnCode)
}

func TestService_CreateTwiceReportsAlreadyInRoom(t *testing.T) {
	f := newFixture(t)

	require.Equal(t, types.ReturnCodeOK, f.create(t, "1", "alice").ReturnCode)
	again := f.create(t, "1", "alice")
	assert.Equal(t, types.ReturnCodeAlreadyInRoom, again.ReturnCode)
	assert.NotEmpty(t, again.Message)
}

func TestService_LeaveClosesEmptyRoom(t *testing.T) {
	f := newFixture(t)

	created := f.create(t, "1", "alice")
	require.Equal(t, types.ReturnCodeOK, created.ReturnCode)

	var left types.LeaveRoomResult
	f.request(t, rooms.EndpointLeave, types.LeaveRoomRequest{RoomID: created.Room.ID, PlayerID: "alice"}, &left)
	assert.Equal(t, types.ReturnCodeOK, left.ReturnCode)
	assert.True(t, left.Closed)

	var missing types.LeaveRoomResult
	f.request(t, rooms.EndpointLeave, types.LeaveRoomRequest{RoomID: created.Room.ID, PlayerID: "alice"}, &missing)
	assert.Equal(t, types.ReturnCodeGameDoesNotExist, missing.ReturnCode)

	assert.Equal(t, types.Stats{}, f.svc.Stats())
}

func TestService_JoinRandomReturnsExistingSeat(t *testing.T) {
	f := newFixture(t)

	created := f.create(t, "1", "alice")
	require.Equal(t, types.ReturnCodeOK, created.ReturnCode)

	again := f.joinRandom(t, "1", "alice")
	require.Equal(t, types.ReturnCodeOK, again.ReturnCode)
	assert.Equal(t, created.Room.ID, again.Room.ID)
	assert.Equal(t, 1, again.Room.PlayerCount)

	other := f.joinRandom(t, "2", "alice")
	assert.Equal(t, types.ReturnCodeAlreadyInRoom, other.ReturnCode)
}

func TestService_PlayerRoom(t *testing.T) {
	f := newFixture(t)

	var none types.PlayerRoomResult
	f.request(t, rooms.EndpointPlayerRoom, types.PlayerRoomRequest{PlayerID: "alice"}, &none)
	assert.Nil(t, none.Room)

	created := f.create(t, "1", "alice")
	require.Equal(t, types.ReturnCodeOK, created.ReturnCode)

	var seated types.PlayerRoomResult
	f.request(t, rooms.EndpointPlayerRoom, types.PlayerRoomRequest{PlayerID: "alice"}, &seated)
	require.NotNil(t, seated.Room)
	assert.Equal(t, created.Room.ID, seated.Room.ID)
}

func TestService_SetOpen(t *testing.T) {
	f := newFixture(t)

	created := f.create(t, "1", "alice")
	require.Equal(t, types.ReturnCodeOK, created.ReturnCode)

	var denied types.SetRoomOpenResult
	f.request(t, rooms.EndpointSetOpen, types.SetRoomOpenRequest{RoomID: created.Room.ID, PlayerID: "bob"}, &denied)
	assert.Equal(t, types.ReturnCodeInvalidOperation, denied.ReturnCode)

	var closed types.SetRoomOpenResult
	f.request(t, rooms.EndpointSetOpen, types.SetRoomOpenRequest{RoomID: created.Room.ID, PlayerID: "alice"}, &closed)
	require.Equal(t, types.ReturnCodeOK, closed.ReturnCode)
	assert.Equal(t, types.ReturnCodeNoRandomMatchFound, f.joinRandom(t, "1", "bob").ReturnCode)

	var opened types.SetRoomOpenResult
	f.request(t, rooms.EndpointSetOpen, types.SetRoomOpenRequest{RoomID: created.Room.ID, PlayerID: "alice", IsOpen: true}, &opened)
	require.Equal(t, types.ReturnCodeOK, opened.ReturnCode)
	assert.Equal(t, types.ReturnCodeOK, f.joinRandom(t, "1", "bob").ReturnCode)
}

func TestService_ListAndStats(t *testing.T) {
	f := newFixture(t)

	require.Equal(t, types.ReturnCodeOK, f.create(t, "1", "alice").ReturnCode)
	require.Equal(t, types.ReturnCodeOK, f.create(t, "2", "bob").ReturnCode)

	var list types.ListRoomsResult
	f.request(t, rooms.EndpointList, types.ListRoomsRequest{GameVersion: "1"}, &list)
	require.Len(t, list.Rooms, 1)
	assert.Equal(t, "1", list.Rooms[0].GameVersion)

	var all types.ListRoomsResult
	f.request(t, rooms.EndpointList, nil, &all)
	assert.Len(t, all.Rooms, 2)

	var stats types.Stats
	f.request(t, rooms.EndpointStats, nil, &stats)
	assert.Equal(t, types.Stats{Rooms: 2, Players: 2}, stats)
}

func TestService_MalformedPayload(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := f.client.Request(ctx, f.address, rooms.EndpointJoinRandom, nil)
	require.Error(t, err)

	var statusErr *micro.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, codes.InvalidArgument, statusErr.Code)
}

func TestService_HTTPDirectory(t *testing.T) {
	f := newFixture(t)

	require.Equal(t, types.ReturnCodeOK, f.create(t, "1", "alice").ReturnCode)

	srv := httptest.NewServer(f.svc.Handler())
	t.Cleanup(srv.Close)

	client := rooms.NewDirectoryClient(srv.Client(), srv.URL)
	ctx := context.Background()

	list, err := client.ListRooms(ctx, "1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 1, list[0].PlayerCount)

	stats, err := client.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.Stats{Rooms: 1, Players: 1}, stats)

	res, err := srv.Client().Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, 200, res.StatusCode)
}

func TestNewService_InvalidOptions(t *testing.T) {
	nt := microtest.NewNATS(t)
	tel := telemetry.NewNop("rooms-test")

	client, err := micro.NewClient(
		micro.WithNATSConfig(micro.NATSConfig{Name: "rooms", URL: nt.Server.ClientURL()}),
		micro.WithLogger(zerolog.Nop()),
	)
	require.NoError(t, err)
	t.Cleanup(client.Close)

	_, err = rooms.NewService(client, &tel, rooms.Options{Project: "has.dot"})
	require.Error(t, err)

	_, err = rooms.NewService(client, nil, rooms.Options{})
	require.Error(t, err)
}
