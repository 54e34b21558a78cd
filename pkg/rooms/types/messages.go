package types

// Payloads exchanged with the directory's NATS endpoints.

type JoinRandomRoomRequest struct {
	GameVersion string `json:"game_version"`
	PlayerID    string `json:"player_id"`
}

type CreateRoomRequest struct {
	Name        string      `json:"name,omitempty"` // empty creates an anonymous room
	GameVersion string      `json:"game_version"`
	PlayerID    string      `json:"player_id"`
	Options     RoomOptions `json:"options"`
}

type LeaveRoomRequest struct {
	RoomID   string `json:"room_id"`
	PlayerID string `json:"player_id"`
}

type SetRoomOpenRequest struct {
	RoomID   string `json:"room_id"`
	PlayerID string `json:"player_id"`
	IsOpen   bool   `json:"is_open"`
}

type PlayerRoomRequest struct {
	PlayerID string `json:"player_id"`
}

type ListRoomsRequest struct {
	GameVersion string `json:"game_version,omitempty"` // empty lists every version
}

// RoomInfo is the public projection of a Room.
type RoomInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	GameVersion string `json:"game_version"`
	MaxPlayers  int    `json:"max_players"`
	PlayerCount int    `json:"player_count"`
	IsOpen      bool   `json:"is_open"`
}

// JoinRoomResult answers both join-random and create. Room is set only when ReturnCode is OK.
type JoinRoomResult struct {
	ReturnCode ReturnCode `json:"return_code"`
	Message    string     `json:"message,omitempty"`
	Room       *RoomInfo  `json:"room,omitempty"`
}

type LeaveRoomResult struct {
	ReturnCode ReturnCode `json:"return_code"`
	Message    string     `json:"message,omitempty"`
	Closed     bool       `json:"closed"` // the room was removed because it became empty
}

type SetRoomOpenResult struct {
	ReturnCode ReturnCode `json:"return_code"`
	Message    string     `json:"message,omitempty"`
}

// PlayerRoomResult reports the room a player is seated in. Room is nil when the player has no seat.
type PlayerRoomResult struct {
	Room *RoomInfo `json:"room,omitempty"`
}

type ListRoomsResult struct {
	Rooms []RoomInfo `json:"rooms"`
}

type Stats struct {
	Rooms   int `json:"rooms"`
	Players int `json:"players"`
}

type StatsRequest struct{}
