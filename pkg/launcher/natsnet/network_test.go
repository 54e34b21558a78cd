package natsnet_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argus-labs/lobby-launcher/pkg/launcher"
	"github.com/argus-labs/lobby-launcher/pkg/launcher/natsnet"
	"github.com/argus-labs/lobby-launcher/pkg/micro"
	microtest "github.com/argus-labs/lobby-launcher/pkg/micro/testutils"
	"github.com/argus-labs/lobby-launcher/pkg/rooms"
	"github.com/argus-labs/lobby-launcher/pkg/rooms/types"
	"github.com/argus-labs/lobby-launcher/pkg/telemetry"
)

const (
	directoryAddress = "test.world.org.proj.rooms"
	waitTimeout      = 5 * time.Second
)

func natsConfig(url, name string) *micro.NATSConfig {
	return &micro.NATSConfig{
		Name:          name,
		URL:           url,
		MaxReconnects: 100,
		ReconnectWait: 50 * time.Millisecond,
	}
}

func newClient(t *testing.T, nt *microtest.NATS, name string) *micro.Client {
	t.Helper()

	client, err := micro.NewClient(
		micro.WithNATSConfig(*natsConfig(nt.Server.ClientURL(), name)),
		micro.WithLogger(zerolog.Nop()),
	)
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

func newDirectory(t *testing.T, nt *microtest.NATS) *rooms.Service {
	t.Helper()

	client := newClient(t, nt, "rooms")

	tel := telemetry.NewNop("rooms-test")
	svc, err := rooms.NewService(client, &tel, rooms.Options{
		Region:       "test",
		Organization: "org",
		Project:      "proj",
		ServiceID:    "rooms",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

type recordingUI struct {
	mu     sync.Mutex
	events []string
	scenes []string
}

func (u *recordingUI) ShowConnecting()   { u.record("connecting") }
func (u *recordingUI) ShowIdleControls() { u.record("idle") }
func (u *recordingUI) TransitionToScene(name string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.events = append(u.events, "scene")
	u.scenes = append(u.scenes, name)
}

func (u *recordingUI) record(event string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.events = append(u.events, event)
}

func (u *recordingUI) Scenes() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.scenes...)
}

func (u *recordingUI) Last() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.events) == 0 {
		return ""
	}
	return u.events[len(u.events)-1]
}

type player struct {
	net    *natsnet.Network
	ctrl   *launcher.Controller
	loop   *launcher.Loop
	ui     *recordingUI
	states chan launcher.State
}

func newPlayer(t *testing.T, url, gameVersion, playerID string) *player {
	t.Helper()

	p := &player{
		loop:   launcher.NewLoop(0),
		ui:     &recordingUI{},
		states: make(chan launcher.State, 64),
	}

	net, err := natsnet.New(natsnet.Options{
		PlayerID:         playerID,
		DirectoryAddress: directoryAddress,
		RequestTimeout:   2 * time.Second,
		NATS:             natsConfig(url, playerID),
	})
	require.NoError(t, err)
	p.net = net

	p.ctrl, err = launcher.NewController(net, p.ui, launcher.Options{
		GameVersion: gameVersion,
		Observers: []launcher.Observer{func(_, to launcher.State) {
			select {
			case p.states <- to:
			default:
			}
		}},
	})
	require.NoError(t, err)
	net.SetCallbacks(launcher.Serialize(p.loop, p.ctrl))

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = p.loop.Run(ctx) }()
	t.Cleanup(func() {
		net.Close()
		cancel()
		<-p.loop.Done()
	})

	p.do(t, p.ctrl.Initialize)
	return p
}

// do runs fn on the player's loop and waits for it to finish.
func (p *player) do(t *testing.T, fn func()) {
	t.Helper()

	done := make(chan struct{})
	require.True(t, p.loop.Post(func() {
		fn()
		close(done)
	}))
	select {
	case <-done:
	case <-time.After(waitTimeout):
		t.Fatal("loop did not run posted work")
	}
}

func (p *player) play(t *testing.T) {
	t.Helper()

	var err error
	p.do(t, func() { err = p.ctrl.RequestConnect() })
	require.NoError(t, err)
}

func (p *player) state(t *testing.T) launcher.State {
	t.Helper()

	var state launcher.State
	p.do(t, func() { state = p.ctrl.State() })
	return state
}

func (p *player) waitFor(t *testing.T, want launcher.State) {
	t.Helper()

	timeout := time.After(waitTimeout)
	for {
		select {
		case got := <-p.states:
			if got == want {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for state %s", want)
		}
	}
}

func TestNetwork_FirstPlayerCreatesSecondJoins(t *testing.T) {
	nt := microtest.NewNATS(t)
	dir := newDirectory(t, nt)

	alice := newPlayer(t, nt.Server.ClientURL(), "1", "alice")
	alice.play(t)
	alice.waitFor(t, launcher.StateCreatingRoom)
	alice.waitFor(t, launcher.StateInRoom)
	assert.Equal(t, []string{"Room for 1"}, alice.ui.Scenes())

	bob := newPlayer(t, nt.Server.ClientURL(), "1", "bob")
	bob.play(t)
	bob.waitFor(t, launcher.StateInRoom)
	assert.Empty(t, bob.ui.Scenes())

	aliceRoom, ok := alice.net.CurrentRoom()
	require.True(t, ok)
	bobRoom, ok := bob.net.CurrentRoom()
	require.True(t, ok)
	assert.Equal(t, aliceRoom.Name, bobRoom.Name)
	assert.Equal(t, 2, bobRoom.PlayerCount)

	stats := dir.Stats()
	assert.Equal(t, 1, stats.Rooms)
	assert.Equal(t, 2, stats.Players)
}

func TestNetwork_GameVersionsNeverShareRooms(t *testing.T) {
	nt := microtest.NewNATS(t)
	dir := newDirectory(t, nt)

	v1 := newPlayer(t, nt.Server.ClientURL(), "1", "alice")
	v1.play(t)
	v1.waitFor(t, launcher.StateInRoom)

	v2 := newPlayer(t, nt.Server.ClientURL(), "2", "bob")
	v2.play(t)
	v2.waitFor(t, launcher.StateInRoom)

	assert.Equal(t, []string{"Room for 1"}, v1.ui.Scenes())
	assert.Equal(t, []string{"Room for 1"}, v2.ui.Scenes())
	assert.Equal(t, 2, dir.Stats().Rooms)
}

func TestNetwork_PlayWhileConnectedJoinsDirectly(t *testing.T) {
	nt := microtest.NewNATS(t)
	dir := newDirectory(t, nt)

	alice := newPlayer(t, nt.Server.ClientURL(), "1", "alice")
	alice.play(t)
	alice.waitFor(t, launcher.StateInRoom)

	alice.net.LeaveRoom()
	alice.waitFor(t, launcher.StateIdle)
	assert.Equal(t, 0, dir.Stats().Rooms)
	require.True(t, alice.net.IsConnected())

	alice.play(t)
	alice.waitFor(t, launcher.StateWaitingForRandomJoin)
	alice.waitFor(t, launcher.StateInRoom)
	assert.Equal(t, []string{"Room for 1", "Room for 1"}, alice.ui.Scenes())
}

func TestNetwork_ConnectFailureResetsController(t *testing.T) {
	alice := newPlayer(t, "nats://127.0.0.1:1", "1", "alice")

	alice.play(t)
	alice.waitFor(t, launcher.StateDisconnected)
	alice.waitFor(t, launcher.StateIdle)

	assert.Equal(t, "idle", alice.ui.Last())
	assert.False(t, alice.net.IsConnected())
}

func TestNetwork_ServerLossResetsAndReconnectIsIncidental(t *testing.T) {
	nt := microtest.NewNATS(t)
	dir := newDirectory(t, nt)

	alice := newPlayer(t, nt.Server.ClientURL(), "1", "alice")
	alice.play(t)
	alice.waitFor(t, launcher.StateInRoom)

	nt.Restart(t)
	alice.waitFor(t, launcher.StateDisconnected)
	alice.waitFor(t, launcher.StateIdle)
	assert.Equal(t, "idle", alice.ui.Last())

	require.Eventually(t, func() bool {
		return alice.net.IsConnected() && dir.NATS().IsConnected()
	}, waitTimeout, 20*time.Millisecond)

	// The automatic reconnect must not start a new attempt on its own.
	assert.Equal(t, launcher.StateIdle, alice.state(t))

	// The seat from the lost connection is vacated before joining again.
	alice.play(t)
	alice.waitFor(t, launcher.StateInRoom)
	assert.Equal(t, []string{"Room for 1", "Room for 1"}, alice.ui.Scenes())
	assert.Equal(t, 1, dir.Stats().Rooms)
}

// A join issued before the server was lost must not resurface as a failure while the next join is
// pending, or the controller would create a room on top of it.
func TestNetwork_RequestFromLostConnectionIsDropped(t *testing.T) {
	nt := microtest.NewNATS(t)
	dirClient := newClient(t, nt, "directory")
	address, err := micro.ParseAddress(directoryAddress)
	require.NoError(t, err)

	// A directory that never answers on its own.
	joins := make(chan *nats.Msg, 8)
	_, err = dirClient.Subscribe(micro.Endpoint(address, rooms.EndpointJoinRandom), func(msg *nats.Msg) {
		joins <- msg
	})
	require.NoError(t, err)
	var creates atomic.Int32
	_, err = dirClient.Subscribe(micro.Endpoint(address, rooms.EndpointCreate), func(*nats.Msg) {
		creates.Add(1)
	})
	require.NoError(t, err)
	require.NoError(t, dirClient.Flush())

	const requestTimeout = 2 * time.Second
	alice := newPlayer(t, nt.Server.ClientURL(), "1", "alice")
	start := time.Now()
	alice.play(t)
	alice.waitFor(t, launcher.StateWaitingForRandomJoin)

	select {
	case <-joins:
	case <-time.After(waitTimeout):
		t.Fatal("first join never reached the directory")
	}

	nt.Restart(t)
	alice.waitFor(t, launcher.StateDisconnected)
	alice.waitFor(t, launcher.StateIdle)
	require.Eventually(t, func() bool {
		return alice.net.IsConnected() && dirClient.IsConnected()
	}, waitTimeout, 20*time.Millisecond)
	require.NoError(t, dirClient.Flush())

	// Issue the second join so that the first one's deadline passes while it is pending.
	time.Sleep(time.Until(start.Add(requestTimeout / 2)))
	alice.play(t)
	alice.waitFor(t, launcher.StateWaitingForRandomJoin)

	var second *nats.Msg
	select {
	case second = <-joins:
	case <-time.After(waitTimeout):
		t.Fatal("second join never reached the directory")
	}

	time.Sleep(time.Until(start.Add(requestTimeout + 300*time.Millisecond)))
	assert.Zero(t, creates.Load(), "room created while the second join was pending")
	assert.Equal(t, launcher.StateWaitingForRandomJoin, alice.state(t))

	res := micro.NewSuccessResponse(&micro.Request{ServiceAddress: address}, types.JoinRoomResult{
		ReturnCode: types.ReturnCodeOK,
		Room:       &types.RoomInfo{ID: "r1", Name: "r1", GameVersion: "1", MaxPlayers: 4, PlayerCount: 2, IsOpen: true},
	})
	bz, err := res.Bytes()
	require.NoError(t, err)
	require.NoError(t, second.Respond(bz))

	alice.waitFor(t, launcher.StateInRoom)
	room, ok := alice.net.CurrentRoom()
	require.True(t, ok)
	assert.Equal(t, "r1", room.Name)
	assert.Zero(t, creates.Load())
}

// A seat whose reply was lost is handed back by the next join of the same game version.
func TestNetwork_OrphanedSeatIsRecovered(t *testing.T) {
	nt := microtest.NewNATS(t)
	dir := newDirectory(t, nt)
	client := newClient(t, nt, "orphan")

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	res, err := client.Request(ctx, dir.Address, rooms.EndpointCreate, types.CreateRoomRequest{
		GameVersion: "1",
		PlayerID:    "alice",
		Options:     types.RoomOptions{MaxPlayers: 4},
	})
	require.NoError(t, err)
	var orphan types.JoinRoomResult
	require.NoError(t, res.Decode(&orphan))
	require.Equal(t, types.ReturnCodeOK, orphan.ReturnCode)

	alice := newPlayer(t, nt.Server.ClientURL(), "1", "alice")
	alice.play(t)
	alice.waitFor(t, launcher.StateInRoom)

	room, ok := alice.net.CurrentRoom()
	require.True(t, ok)
	assert.Equal(t, orphan.Room.Name, room.Name)
	assert.Equal(t, types.Stats{Rooms: 1, Players: 1}, dir.Stats())
}

// A seat held under another game version is released so the player can create a room.
func TestNetwork_SeatFromOtherVersionIsReleased(t *testing.T) {
	nt := microtest.NewNATS(t)
	dir := newDirectory(t, nt)
	client := newClient(t, nt, "orphan")

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	res, err := client.Request(ctx, dir.Address, rooms.EndpointCreate, types.CreateRoomRequest{
		GameVersion: "2",
		PlayerID:    "alice",
		Options:     types.RoomOptions{MaxPlayers: 4},
	})
	require.NoError(t, err)
	var orphan types.JoinRoomResult
	require.NoError(t, res.Decode(&orphan))
	require.Equal(t, types.ReturnCodeOK, orphan.ReturnCode)

	alice := newPlayer(t, nt.Server.ClientURL(), "1", "alice")
	alice.play(t)
	alice.waitFor(t, launcher.StateCreatingRoom)
	alice.waitFor(t, launcher.StateInRoom)

	room, ok := alice.net.CurrentRoom()
	require.True(t, ok)
	assert.NotEqual(t, orphan.Room.Name, room.Name)
	assert.Equal(t, types.Stats{Rooms: 1, Players: 1}, dir.Stats())
}

func TestNetwork_SetRoomOpen(t *testing.T) {
	nt := microtest.NewNATS(t)
	dir := newDirectory(t, nt)

	alice := newPlayer(t, nt.Server.ClientURL(), "1", "alice")
	ctx := context.Background()
	require.Error(t, alice.net.SetRoomOpen(ctx, false), "not in a room yet")

	alice.play(t)
	alice.waitFor(t, launcher.StateInRoom)

	require.NoError(t, alice.net.SetRoomOpen(ctx, false))
	room, ok := alice.net.CurrentRoom()
	require.True(t, ok)
	assert.False(t, room.IsOpen)

	bob := newPlayer(t, nt.Server.ClientURL(), "1", "bob")
	bob.play(t)
	bob.waitFor(t, launcher.StateCreatingRoom)
	bob.waitFor(t, launcher.StateInRoom)
	assert.Equal(t, 2, dir.Stats().Rooms)

	require.NoError(t, alice.net.SetRoomOpen(ctx, true))
	room, ok = alice.net.CurrentRoom()
	require.True(t, ok)
	assert.True(t, room.IsOpen)
}

func TestNew_InvalidOptions(t *testing.T) {
	_, err := natsnet.New(natsnet.Options{DirectoryAddress: "not-an-address"})
	require.Error(t, err)

	_, err = natsnet.New(natsnet.Options{RequestTimeout: -time.Second})
	require.Error(t, err)
}

func TestNetwork_ConnectWithoutCallbacks(t *testing.T) {
	net, err := natsnet.New(natsnet.Options{NATS: natsConfig("nats://127.0.0.1:1", "test")})
	require.NoError(t, err)
	t.Cleanup(net.Close)

	assert.False(t, net.Connect("1"))
	assert.NotEmpty(t, net.PlayerID())
}
