// Package launcher implements the client-side matchmaking controller of the game lobby. A single
// "Play" request becomes either a random join into an existing room or, when no room is
// joinable, the creation of a new one.
package launcher

import (
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/argus-labs/lobby-launcher/pkg/assert"
)

var (
	// ErrAttemptInFlight is returned by RequestConnect outside the Idle state.
	ErrAttemptInFlight = eris.New("matchmaking attempt already in flight")

	// ErrConnectNotStarted is returned when the network service refused to start connecting.
	ErrConnectNotStarted = eris.New("network service did not start a connection attempt")
)

// Controller turns a play request into a room entry by reacting to network callbacks.
// It is not safe for concurrent use; run it and its callbacks on one Loop.
type Controller struct {
	net     NetworkService
	ui      PresentationPort
	options Options
	log     zerolog.Logger

	state        State
	isConnecting bool // user asked to play and master connection has not been consumed yet
}

var _ Callbacks = (*Controller)(nil)

// NewController creates a controller in the Idle state. Options are read from LAUNCHER_*
// environment variables and overridden by the non-zero fields of opts.
func NewController(net NetworkService, ui PresentationPort, opts Options) (*Controller, error) {
	if net == nil {
		return nil, eris.New("network service cannot be nil")
	}
	if ui == nil {
		return nil, eris.New("presentation port cannot be nil")
	}

	cfg, err := loadConfig()
	if err != nil {
		return nil, eris.Wrap(err, "failed to load config")
	}

	options := newDefaultOptions()
	cfg.applyToOptions(&options)
	options.apply(opts)
	if err := options.validate(); err != nil {
		return nil, eris.Wrap(err, "invalid launcher options")
	}

	log := zerolog.Nop()
	if options.Logger != nil {
		log = *options.Logger
	}

	return &Controller{
		net:     net,
		ui:      ui,
		options: options,
		log:     log.With().Str("game_version", options.GameVersion).Logger(),
		state:   StateIdle,
	}, nil
}

// Initialize performs the one-time setup of the lobby screen.
func (c *Controller) Initialize() {
	c.net.EnableSceneSync()
	c.ui.ShowIdleControls()
	c.transition(StateIdle)
}

// State returns the current matchmaking phase.
func (c *Controller) State() State {
	return c.state
}

// IsConnecting reports whether a user-requested connection is waiting for the master server.
func (c *Controller) IsConnecting() bool {
	return c.isConnecting
}

// Options returns the resolved controller options.
func (c *Controller) Options() Options {
	return c.options
}

// RequestConnect starts a matchmaking attempt. It is the handler of the "Play" action.
func (c *Controller) RequestConnect() error {
	if c.state != StateIdle {
		c.log.Warn().Str("state", c.state.String()).Msg("Play requested while an attempt is in flight")
		return eris.Wrapf(ErrAttemptInFlight, "state %s", c.state)
	}

	c.ui.ShowConnecting()

	if c.net.IsConnected() {
		c.log.Debug().Msg("Already connected, joining a random room")
		c.transition(StateWaitingForRandomJoin)
		c.net.JoinRandomRoom()
		return nil
	}

	c.isConnecting = c.net.Connect(c.options.GameVersion)
	if !c.isConnecting {
		c.ui.ShowIdleControls()
		return ErrConnectNotStarted
	}
	c.transition(StateConnecting)
	return nil
}

// OnConnectedToMaster joins a random room when the connection was requested by the user.
// Incidental connections, such as a reconnect after leaving a game, are ignored.
func (c *Controller) OnConnectedToMaster() {
	switch {
	case c.state == StateConnecting && c.isConnecting:
		c.isConnecting = false
		c.transition(StateWaitingForRandomJoin)
		c.net.JoinRandomRoom()
	case c.state == StateConnecting:
		c.transition(StateIdle)
	default:
		c.log.Debug().Str("state", c.state.String()).Msg("Ignoring incidental connection to master")
	}
}

// OnJoinRandomFailed creates an anonymous room. The return code is never branched on.
func (c *Controller) OnJoinRandomFailed(returnCode int16, message string) {
	if c.state != StateWaitingForRandomJoin {
		c.ignore("OnJoinRandomFailed")
		return
	}

	c.log.Info().
		Int16("return_code", returnCode).
		Str("message", message).
		Msg("No random room available, creating one")

	c.transition(StateCreatingRoom)
	c.net.CreateRoom("", RoomOptions{MaxPlayers: c.options.MaxPlayersPerRoom})
}

// OnJoinedRoom enters the room. The first occupant loads the waiting scene; later occupants
// follow the room's scene through scene sync.
func (c *Controller) OnJoinedRoom() {
	if c.state != StateWaitingForRandomJoin && c.state != StateCreatingRoom {
		c.ignore("OnJoinedRoom")
		return
	}

	c.isConnecting = false
	c.transition(StateInRoom)

	room, ok := c.net.CurrentRoom()
	if !ok {
		c.log.Warn().Msg("Joined room but no current room is reported")
		return
	}

	c.log.Info().Str("room", room.Name).Int("player_count", room.PlayerCount).Msg("Joined room")
	if room.PlayerCount == 1 {
		c.ui.TransitionToScene(c.options.FirstOccupantScene)
	}
}

// OnCreateRoomFailed gives control back to the idle lobby.
func (c *Controller) OnCreateRoomFailed(returnCode int16, message string) {
	if c.state != StateCreatingRoom {
		c.ignore("OnCreateRoomFailed")
		return
	}

	c.log.Warn().
		Int16("return_code", returnCode).
		Str("message", message).
		Msg("Failed to create room")

	c.isConnecting = false
	c.ui.ShowIdleControls()
	c.transition(StateIdle)
}

// OnLeftRoom returns to the idle lobby after leaving a room.
func (c *Controller) OnLeftRoom() {
	if c.state != StateInRoom {
		c.ignore("OnLeftRoom")
		return
	}

	c.ui.ShowIdleControls()
	c.transition(StateIdle)
}

// OnDisconnected resets the controller regardless of its state.
func (c *Controller) OnDisconnected(cause DisconnectCause) {
	c.log.Warn().
		Str("cause", cause.String()).
		Str("state", c.state.String()).
		Msg("Disconnected")

	c.ui.ShowIdleControls()
	c.isConnecting = false
	c.transition(StateDisconnected)
	c.transition(StateIdle)
}

func (c *Controller) ignore(callback string) {
	c.log.Warn().Str("state", c.state.String()).Str("callback", callback).Msg("Ignoring unexpected callback")
}

func (c *Controller) transition(to State) {
	from := c.state
	c.state = to

	assert.That(!c.isConnecting || to.attempting(), "connect intent set in state %s", to)

	if from == to {
		return
	}
	c.log.Debug().Str("from", from.String()).Str("to", to.String()).Msg("State changed")
	for _, observe := range c.options.Observers {
		observe(from, to)
	}
}
