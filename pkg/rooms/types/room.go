package types

import (
	"slices"
	"time"
)

// Room is a joinable game session tracked by the directory.
// Rooms are segregated by GameVersion: a client only ever matches rooms of its own version.
type Room struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	GameVersion string    `json:"game_version"`
	MaxPlayers  int       `json:"max_players"`
	Players     []string  `json:"players"`
	IsOpen      bool      `json:"is_open"`
	IsVisible   bool      `json:"is_visible"`
	CreatedAt   time.Time `json:"created_at"`
}

// PlayerCount returns the number of players in the room.
func (r *Room) PlayerCount() int {
	return len(r.Players)
}

// IsFull returns true if the room has reached max capacity.
func (r *Room) IsFull() bool {
	return len(r.Players) >= r.MaxPlayers
}

// HasPlayer returns true if the given player is in the room.
func (r *Room) HasPlayer(playerID string) bool {
	return slices.Contains(r.Players, playerID)
}

// Joinable reports whether a random join may place a player of gameVersion here.
func (r *Room) Joinable(gameVersion string) bool {
	return r.GameVersion == gameVersion && r.IsOpen && r.IsVisible && !r.IsFull()
}

// Info returns the wire projection of the room.
func (r *Room) Info() RoomInfo {
	return RoomInfo{
		ID:          r.ID,
		Name:        r.Name,
		GameVersion: r.GameVersion,
		MaxPlayers:  r.MaxPlayers,
		PlayerCount: r.PlayerCount(),
		IsOpen:      r.IsOpen,
	}
}

// RoomOptions configures a room at creation.
type RoomOptions struct {
	MaxPlayers int   `json:"max_players"`
	IsOpen     *bool `json:"is_open,omitempty"`    // defaults to true
	IsVisible  *bool `json:"is_visible,omitempty"` // defaults to true
}
