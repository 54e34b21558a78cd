package launcher

// RoomOptions configures a room at creation.
type RoomOptions struct {
	MaxPlayers int
}

// RoomSnapshot is a read-only view of the room the client is in.
type RoomSnapshot struct {
	Name        string
	PlayerCount int
	IsOpen      bool
}

// NetworkService is the multiplayer backend client driven by the Controller.
// Asynchronous operations report their outcome through Callbacks, never synchronously from the
// call that started them. OnDisconnected ends every operation in flight: an outcome of a request
// issued before the disconnect is never delivered after it.
type NetworkService interface {
	IsConnected() bool

	// Connect starts connecting to the master server and reports whether an attempt was started.
	Connect(gameVersion string) bool

	// JoinRandomRoom completes with OnJoinedRoom or OnJoinRandomFailed.
	JoinRandomRoom()

	// CreateRoom completes with OnJoinedRoom or OnCreateRoomFailed. An empty name creates an
	// anonymous room.
	CreateRoom(name string, opts RoomOptions)

	// CurrentRoom returns the room the client is in, if any.
	CurrentRoom() (RoomSnapshot, bool)

	// EnableSceneSync makes clients in the same room follow the scene of the room's first occupant.
	EnableSceneSync()
}

// Callbacks receives the outcomes of NetworkService operations and connection events.
type Callbacks interface {
	OnConnectedToMaster()
	OnJoinRandomFailed(returnCode int16, message string)
	OnJoinedRoom()
	OnCreateRoomFailed(returnCode int16, message string)
	OnLeftRoom()
	OnDisconnected(cause DisconnectCause)
}

// PresentationPort is notified by the Controller to update the lobby UI.
type PresentationPort interface {
	ShowConnecting()
	ShowIdleControls()
	TransitionToScene(name string)
}
