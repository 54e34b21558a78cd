// Package natsnet implements the launcher's NetworkService on top of NATS request/reply, talking
// to the room directory served by package rooms.
package natsnet

import (
	"context"
	"errors"
	"os"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/argus-labs/lobby-launcher/pkg/launcher"
	"github.com/argus-labs/lobby-launcher/pkg/micro"
	"github.com/argus-labs/lobby-launcher/pkg/rooms"
	"github.com/argus-labs/lobby-launcher/pkg/rooms/types"
	"github.com/argus-labs/lobby-launcher/pkg/telemetry"
)

var ErrNotConnected = eris.New("not connected to NATS")

// Network is a launcher.NetworkService backed by a NATS connection to the room directory.
// Every outcome is reported through the registered callbacks from a background goroutine, so the
// callbacks should be wrapped with launcher.Serialize.
type Network struct {
	tel       *telemetry.Telemetry
	log       zerolog.Logger
	options   Options
	natsCfg   micro.NATSConfig
	directory *micro.ServiceAddress

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// deliverMu orders request outcomes against OnDisconnected. Only the delivering goroutines
	// take it, so callbacks may call back into the Network while it is held.
	deliverMu sync.Mutex

	mu          sync.Mutex
	callbacks   launcher.Callbacks
	client      *micro.Client
	dialing     bool
	closing     bool
	gameVersion string
	sceneSync   bool
	room        *types.RoomInfo   // room this client is seated in
	staleRooms  []*types.RoomInfo // rooms left behind by lost connections, vacated on the next request

	// gen counts lost connections. Requests issued under an older generation are cancelled and
	// their outcomes dropped.
	gen           uint64
	sessionCtx    context.Context
	sessionCancel context.CancelFunc
}

var _ launcher.NetworkService = (*Network)(nil)

// New creates a disconnected network service. Options are read from LAUNCHER_* and NATS_*
// environment variables and overridden by the non-zero fields of opts.
func New(opts Options) (*Network, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, eris.Wrap(err, "failed to load config")
	}

	options := newDefaultOptions()
	cfg.applyToOptions(&options)
	options.apply(opts)
	if err := options.validate(); err != nil {
		return nil, eris.Wrap(err, "invalid natsnet options")
	}

	var natsCfg micro.NATSConfig
	if options.NATS != nil {
		natsCfg = *options.NATS
	} else {
		natsCfg, err = micro.LoadNATSConfig()
		if err != nil {
			return nil, err
		}
	}

	directory, err := micro.ParseAddress(options.DirectoryAddress)
	if err != nil {
		return nil, eris.Wrap(err, "invalid directory address")
	}

	tel := options.Telemetry
	if tel == nil {
		nop := telemetry.NewNop("launcher")
		tel = &nop
	}
	log := tel.GetLogger("natsnet")
	if options.Logger != nil {
		log = *options.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())
	sessionCtx, sessionCancel := context.WithCancel(ctx)
	return &Network{
		tel:           tel,
		log:           log.With().Str("player_id", options.PlayerID).Logger(),
		options:       options,
		natsCfg:       natsCfg,
		directory:     directory,
		ctx:           ctx,
		cancel:        cancel,
		sessionCtx:    sessionCtx,
		sessionCancel: sessionCancel,
	}, nil
}

// SetCallbacks registers the receiver of network events. It must be called before Connect.
func (n *Network) SetCallbacks(callbacks launcher.Callbacks) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.callbacks = callbacks
}

// PlayerID returns the ID this client uses in the room directory.
func (n *Network) PlayerID() string {
	return n.options.PlayerID
}

// SceneSyncEnabled reports whether EnableSceneSync was called.
func (n *Network) SceneSyncEnabled() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sceneSync
}

func (n *Network) IsConnected() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.client != nil && n.client.IsConnected()
}

// Connect dials the NATS server in the background. A successful dial reports OnConnectedToMaster,
// a failed one OnDisconnected(ExceptionOnConnect). While the client is reconnecting on its own the
// reconnect itself reports OnConnectedToMaster.
func (n *Network) Connect(gameVersion string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.callbacks == nil {
		n.log.Error().Msg("Connect called before callbacks were registered")
		return false
	}
	if n.closing {
		return false
	}

	n.gameVersion = gameVersion

	switch {
	case n.dialing:
		return true
	case n.client != nil && n.client.IsReconnecting():
		return true
	case n.client != nil && n.client.IsConnected():
		n.goDeliver(func(cb launcher.Callbacks) { cb.OnConnectedToMaster() })
		return true
	}

	n.dialing = true
	n.wg.Add(1)
	go n.dial()
	return true
}

func (n *Network) dial() {
	defer n.wg.Done()

	n.log.Debug().Str("url", n.natsCfg.URL).Msg("Connecting to master")
	client, err := micro.NewClient(
		micro.WithNATSConfig(n.natsCfg),
		micro.WithName("launcher"),
		micro.WithLogger(n.log.With().Str("component", "launcher.nats").Logger()),
		micro.WithDisconnectHandler(n.handleDisconnect),
		micro.WithReconnectHandler(n.handleReconnect),
		micro.WithClosedHandler(n.handleClosed),
	)

	n.mu.Lock()
	n.dialing = false
	if err == nil && n.closing {
		n.mu.Unlock()
		client.Close()
		return
	}
	if err == nil {
		n.client = client
	}
	cb := n.callbacks
	n.mu.Unlock()

	if err != nil {
		n.log.Warn().Err(err).Msg("Failed to connect to master")
		cb.OnDisconnected(launcher.DisconnectExceptionOnConnect)
		return
	}
	cb.OnConnectedToMaster()
}

// JoinRandomRoom asks the directory for a seat in any room of the connected game version.
func (n *Network) JoinRandomRoom() {
	n.goRequest("join-random", func(ctx context.Context, a *attempt) {
		var result types.JoinRoomResult
		err := n.request(ctx, rooms.EndpointJoinRandom, types.JoinRandomRoomRequest{
			GameVersion: n.currentGameVersion(),
			PlayerID:    n.options.PlayerID,
		}, &result)
		if err != nil {
			a.joinRandomFailed(types.ReturnCodeInternalServerError, err.Error())
			return
		}
		if result.ReturnCode == types.ReturnCodeAlreadyInRoom {
			n.releaseSeat(ctx)
		}
		if result.ReturnCode != types.ReturnCodeOK {
			a.joinRandomFailed(result.ReturnCode, result.Message)
			return
		}
		a.joined(result.Room)
	})
}

// CreateRoom asks the directory to create a room with this client as its first occupant.
func (n *Network) CreateRoom(name string, opts launcher.RoomOptions) {
	n.goRequest("create", func(ctx context.Context, a *attempt) {
		var result types.JoinRoomResult
		err := n.request(ctx, rooms.EndpointCreate, types.CreateRoomRequest{
			Name:        name,
			GameVersion: n.currentGameVersion(),
			PlayerID:    n.options.PlayerID,
			Options:     types.RoomOptions{MaxPlayers: opts.MaxPlayers},
		}, &result)
		if err != nil {
			a.createFailed(types.ReturnCodeInternalServerError, err.Error())
			return
		}
		if result.ReturnCode == types.ReturnCodeAlreadyInRoom {
			n.releaseSeat(ctx)
		}
		if result.ReturnCode != types.ReturnCodeOK {
			a.createFailed(result.ReturnCode, result.Message)
			return
		}
		a.joined(result.Room)
	})
}

// LeaveRoom gives up the current seat and reports OnLeftRoom. The room is closed by the directory
// when this client was its last occupant.
func (n *Network) LeaveRoom() {
	n.goRequest("leave", func(ctx context.Context, a *attempt) {
		n.mu.Lock()
		room := n.room
		n.room = nil
		n.mu.Unlock()

		if room != nil {
			if err := n.leave(ctx, room); err != nil {
				n.log.Warn().Err(err).Str("room", room.Name).Msg("Failed to leave room")
			}
		}
		a.left()
	})
}

// SetRoomOpen opens or closes the current room for random joins.
func (n *Network) SetRoomOpen(ctx context.Context, open bool) error {
	n.mu.Lock()
	room := n.room
	n.mu.Unlock()
	if room == nil {
		return eris.New("not in a room")
	}

	ctx, span := n.tel.Tracer.Start(ctx, "natsnet.set-open",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("player.id", n.options.PlayerID), attribute.Bool("room.open", open)))
	defer span.End()

	var result types.SetRoomOpenResult
	if err := n.request(ctx, rooms.EndpointSetOpen, types.SetRoomOpenRequest{
		RoomID:   room.ID,
		PlayerID: n.options.PlayerID,
		IsOpen:   open,
	}, &result); err != nil {
		return err
	}
	if result.ReturnCode != types.ReturnCodeOK {
		return types.Errorf(result.ReturnCode, "%s", result.Message)
	}

	n.mu.Lock()
	if n.room != nil && n.room.ID == room.ID {
		n.room.IsOpen = open
	}
	n.mu.Unlock()
	return nil
}

func (n *Network) CurrentRoom() (launcher.RoomSnapshot, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.room == nil {
		return launcher.RoomSnapshot{}, false
	}
	return launcher.RoomSnapshot{Name: n.room.Name, PlayerCount: n.room.PlayerCount, IsOpen: n.room.IsOpen}, true
}

func (n *Network) EnableSceneSync() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sceneSync = true
}

// Close drops the connection and waits for in-flight requests. Callbacks are not invoked for the
// local close.
func (n *Network) Close() {
	n.mu.Lock()
	n.closing = true
	client := n.client
	n.mu.Unlock()

	n.cancel()
	if client != nil {
		client.Close()
	}
	n.wg.Wait()
}

// -------------------------------------------------------------------------------------------------
// Requests
// -------------------------------------------------------------------------------------------------

// goRequest runs fn in the background with a request-scoped context and span. The request is
// bound to the current connection: a disconnect cancels its context and drops its outcome.
func (n *Network) goRequest(name string, fn func(ctx context.Context, a *attempt)) {
	n.mu.Lock()
	cb := n.callbacks
	if cb == nil || n.closing {
		n.mu.Unlock()
		return
	}
	a := &attempt{n: n, gen: n.gen, next: cb}
	sessionCtx := n.sessionCtx
	n.wg.Add(1)
	n.mu.Unlock()

	go func() {
		defer n.wg.Done()

		ctx, cancel := context.WithTimeout(sessionCtx, n.options.RequestTimeout)
		defer cancel()

		ctx, span := n.tel.Tracer.Start(ctx, "natsnet."+name,
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(attribute.String("player.id", n.options.PlayerID)))
		defer span.End()

		n.vacateStaleRooms(ctx)
		fn(ctx, a)
	}()
}

func (n *Network) request(ctx context.Context, endpoint string, payload, result any) error {
	span := trace.SpanFromContext(ctx)

	n.mu.Lock()
	client := n.client
	n.mu.Unlock()

	if client == nil {
		span.SetStatus(otelcodes.Error, ErrNotConnected.Error())
		return ErrNotConnected
	}

	res, err := client.Request(ctx, n.directory, endpoint, payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		n.log.Warn().Err(err).Str("endpoint", endpoint).Msg("Directory request failed")
		return eris.Wrap(err, "directory request failed")
	}
	if err := res.Decode(result); err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return eris.Wrap(err, "failed to decode directory response")
	}
	return nil
}

func (n *Network) leave(ctx context.Context, room *types.RoomInfo) error {
	var result types.LeaveRoomResult
	if err := n.request(ctx, rooms.EndpointLeave, types.LeaveRoomRequest{
		RoomID:   room.ID,
		PlayerID: n.options.PlayerID,
	}, &result); err != nil {
		return err
	}
	if result.ReturnCode != types.ReturnCodeOK {
		return types.Errorf(result.ReturnCode, "%s", result.Message)
	}
	return nil
}

// vacateStaleRooms frees seats held by connections that were lost, so the directory does not
// answer the next request with a room this client no longer tracks.
func (n *Network) vacateStaleRooms(ctx context.Context) {
	n.mu.Lock()
	stale := n.staleRooms
	n.staleRooms = nil
	n.mu.Unlock()

	for _, room := range stale {
		if err := n.leave(ctx, room); err != nil {
			n.log.Warn().Err(err).Str("room", room.Name).Msg("Failed to vacate room from previous connection")
		}
	}
}

// releaseSeat gives up whatever seat the directory holds for this player. The seat is one this
// client lost track of, for example because the reply to its join never arrived.
func (n *Network) releaseSeat(ctx context.Context) {
	var result types.PlayerRoomResult
	if err := n.request(ctx, rooms.EndpointPlayerRoom, types.PlayerRoomRequest{PlayerID: n.options.PlayerID}, &result); err != nil {
		return
	}
	if result.Room == nil {
		return
	}
	n.log.Info().Str("room", result.Room.Name).Msg("Releasing seat held from an earlier attempt")
	if err := n.leave(ctx, result.Room); err != nil {
		n.log.Warn().Err(err).Str("room", result.Room.Name).Msg("Failed to release seat")
	}
}

// endSession cancels requests of the current connection and starts a new generation.
// Must be called with n.mu held.
func (n *Network) endSession() {
	n.sessionCancel()
	n.gen++
	n.sessionCtx, n.sessionCancel = context.WithCancel(n.ctx)

	if n.room != nil {
		n.staleRooms = append(n.staleRooms, n.room)
		n.room = nil
	}
}

func (n *Network) currentGameVersion() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.gameVersion
}

// goDeliver invokes a callback from a new goroutine. Callbacks never run inside the call that
// caused them. Must be called with n.mu held.
func (n *Network) goDeliver(fn func(cb launcher.Callbacks)) {
	cb := n.callbacks
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		fn(cb)
	}()
}

// -------------------------------------------------------------------------------------------------
// Connection lifecycle
// -------------------------------------------------------------------------------------------------

func (n *Network) handleDisconnect(err error) {
	n.deliverMu.Lock()
	defer n.deliverMu.Unlock()

	n.mu.Lock()
	if n.closing {
		n.mu.Unlock()
		return
	}
	n.endSession()
	cb := n.callbacks
	n.mu.Unlock()

	cb.OnDisconnected(disconnectCause(err))
}

func (n *Network) handleReconnect() {
	n.mu.Lock()
	closing := n.closing
	cb := n.callbacks
	n.mu.Unlock()

	if !closing {
		cb.OnConnectedToMaster()
	}
}

func (n *Network) handleClosed() {
	n.deliverMu.Lock()
	defer n.deliverMu.Unlock()

	n.mu.Lock()
	closing := n.closing
	n.client = nil
	if !closing {
		n.endSession()
	}
	cb := n.callbacks
	n.mu.Unlock()

	if !closing {
		cb.OnDisconnected(launcher.DisconnectMaxReconnectsExceeded)
	}
}

func disconnectCause(err error) launcher.DisconnectCause {
	switch {
	case err == nil:
		return launcher.DisconnectByClientLogic
	case errors.Is(err, nats.ErrStaleConnection), errors.Is(err, os.ErrDeadlineExceeded), errors.Is(err, nats.ErrTimeout):
		return launcher.DisconnectServerTimeout
	default:
		return launcher.DisconnectByServerLogic
	}
}

// attempt is a directory request bound to the connection generation it was issued on. Its outcome
// is delivered only while that generation is current.
type attempt struct {
	n    *Network
	gen  uint64
	next launcher.Callbacks
}

// deliver runs fn unless the connection the request was issued on has been lost since.
// deliverMu keeps a stale outcome from being queued behind the OnDisconnected that ended it.
func (a *attempt) deliver(seat *types.RoomInfo, fn func(cb launcher.Callbacks)) {
	a.n.deliverMu.Lock()
	defer a.n.deliverMu.Unlock()

	a.n.mu.Lock()
	current := a.gen == a.n.gen && !a.n.closing
	switch {
	case seat != nil && current:
		a.n.room = seat
	case seat != nil:
		// The directory seated us on a connection we no longer track.
		a.n.staleRooms = append(a.n.staleRooms, seat)
	}
	a.n.mu.Unlock()

	if !current {
		a.n.log.Debug().Msg("Dropping outcome of a request issued before the connection was lost")
		return
	}
	fn(a.next)
}

func (a *attempt) joined(room *types.RoomInfo) {
	a.deliver(room, func(cb launcher.Callbacks) { cb.OnJoinedRoom() })
}

func (a *attempt) joinRandomFailed(code types.ReturnCode, message string) {
	a.deliver(nil, func(cb launcher.Callbacks) { cb.OnJoinRandomFailed(int16(code), message) })
}

func (a *attempt) createFailed(code types.ReturnCode, message string) {
	a.deliver(nil, func(cb launcher.Callbacks) { cb.OnCreateRoomFailed(int16(code), message) })
}

func (a *attempt) left() {
	a.deliver(nil, func(cb launcher.Callbacks) { cb.OnLeftRoom() })
}
