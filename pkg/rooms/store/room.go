package store

import (
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/argus-labs/lobby-launcher/pkg/rooms/types"
)

// RoomStore manages room storage with indexes for efficient lookups.
//   - roomsByID: Map<room_id, Room>
//   - roomByName: Map<game_version/name, room_id>
//   - roomByPlayer: Map<player_id, room_id>
type RoomStore struct {
	mu sync.RWMutex

	// Primary storage - O(1) lookup by ID
	roomsByID map[string]*types.Room

	// Names are unique per game version
	roomByName map[string]string

	// A player is in at most one room
	roomByPlayer map[string]string
}

// NewRoomStore creates a new room store.
func NewRoomStore() *RoomStore {
	return &RoomStore{
		roomsByID:    make(map[string]*types.Room),
		roomByName:   make(map[string]string),
		roomByPlayer: make(map[string]string),
	}
}

func nameKey(gameVersion, name string) string {
	return gameVersion + "/" + name
}

// Create creates a room with the player as its first occupant and returns a copy of it.
// An empty name creates an anonymous room with a generated name.
func (s *RoomStore) Create(
	name, gameVersion, playerID string,
	opts types.RoomOptions,
	now time.Time,
) (types.Room, error) {
	if opts.MaxPlayers <= 0 {
		return types.Room{}, types.Errorf(types.ReturnCodeInvalidOperation, "max players must be positive, got %d", opts.MaxPlayers)
	}
	if gameVersion == "" || playerID == "" {
		return types.Room{}, types.Errorf(types.ReturnCodeInvalidOperation, "game version and player ID are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if roomID, exists := s.roomByPlayer[playerID]; exists {
		return types.Room{}, types.Errorf(types.ReturnCodeAlreadyInRoom, "player %s is already in room %s", playerID, roomID)
	}

	id := uuid.NewString()
	if name == "" {
		name = id
	}
	if _, exists := s.roomByName[nameKey(gameVersion, name)]; exists {
		return types.Room{}, types.Errorf(types.ReturnCodeGameIDAlreadyExists, "room %s already exists", name)
	}

	room := &types.Room{
		ID:          id,
		Name:        name,
		GameVersion: gameVersion,
		MaxPlayers:  opts.MaxPlayers,
		Players:     []string{playerID},
		IsOpen:      opts.IsOpen == nil || *opts.IsOpen,
		IsVisible:   opts.IsVisible == nil || *opts.IsVisible,
		CreatedAt:   now,
	}

	s.roomsByID[room.ID] = room
	s.roomByName[nameKey(gameVersion, name)] = room.ID
	s.roomByPlayer[playerID] = room.ID

	return cloneRoom(room), nil
}

// JoinRandom places the player in the oldest joinable room of the same game version.
// Filling the oldest room first makes clients that each created a room converge again.
// A player already seated in a room of that version gets the same room back, so a client that
// lost the reply to an earlier join can recover its seat.
func (s *RoomStore) JoinRandom(gameVersion, playerID string) (types.Room, error) {
	if gameVersion == "" || playerID == "" {
		return types.Room{}, types.Errorf(types.ReturnCodeInvalidOperation, "game version and player ID are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if roomID, exists := s.roomByPlayer[playerID]; exists {
		if room := s.roomsByID[roomID]; room.GameVersion == gameVersion {
			return cloneRoom(room), nil
		}
		return types.Room{}, types.Errorf(types.ReturnCodeAlreadyInRoom, "player %s is already in room %s", playerID, roomID)
	}

	var best *types.Room
	for _, room := range s.roomsByID {
		if !room.Joinable(gameVersion) {
			continue
		}
		if best == nil || room.CreatedAt.Before(best.CreatedAt) ||
			(room.CreatedAt.Equal(best.CreatedAt) && room.ID < best.ID) {
			best = room
		}
	}
	if best == nil {
		return types.Room{}, types.Errorf(types.ReturnCodeNoRandomMatchFound, "no match found")
	}

	best.Players = append(best.Players, playerID)
	s.roomByPlayer[playerID] = best.ID

	return cloneRoom(best), nil
}

// Leave removes a player from a room. The room is deleted once empty.
// Returns true if the room was closed.
func (s *RoomStore) Leave(roomID, playerID string) (closed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.roomsByID[roomID]
	if !ok {
		return false, types.Errorf(types.ReturnCodeGameDoesNotExist, "room %s not found", roomID)
	}
	if !room.HasPlayer(playerID) {
		return false, types.Errorf(types.ReturnCodeInvalidOperation, "player %s is not in room %s", playerID, roomID)
	}

	room.Players = slices.DeleteFunc(room.Players, func(p string) bool { return p == playerID })
	delete(s.roomByPlayer, playerID)

	if len(room.Players) == 0 {
		delete(s.roomsByID, room.ID)
		delete(s.roomByName, nameKey(room.GameVersion, room.Name))
		return true, nil
	}
	return false, nil
}

// SetOpen opens or closes a room for joining. Only an occupant may change it.
func (s *RoomStore) SetOpen(roomID, playerID string, open bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.roomsByID[roomID]
	if !ok {
		return types.Errorf(types.ReturnCodeGameDoesNotExist, "room %s not found", roomID)
	}
	if !room.HasPlayer(playerID) {
		return types.Errorf(types.ReturnCodeInvalidOperation, "player %s is not in room %s", playerID, roomID)
	}
	room.IsOpen = open
	return nil
}

// Get returns a copy of the room with the given ID.
func (s *RoomStore) Get(roomID string) (types.Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, ok := s.roomsByID[roomID]
	if !ok {
		return types.Room{}, false
	}
	return cloneRoom(room), true
}

// GetByPlayer returns a copy of the room the player is in.
func (s *RoomStore) GetByPlayer(playerID string) (types.Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	roomID, ok := s.roomByPlayer[playerID]
	if !ok {
		return types.Room{}, false
	}
	return cloneRoom(s.roomsByID[roomID]), true
}

// List returns the visible rooms, oldest first. An empty gameVersion lists every version.
func (s *RoomStore) List(gameVersion string) []types.RoomInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rooms := make([]*types.Room, 0, len(s.roomsByID))
	for _, room := range s.roomsByID {
		if !room.IsVisible {
			continue
		}
		if gameVersion != "" && room.GameVersion != gameVersion {
			continue
		}
		rooms = append(rooms, room)
	}
	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].CreatedAt.Equal(rooms[j].CreatedAt) {
			return rooms[i].ID < rooms[j].ID
		}
		return rooms[i].CreatedAt.Before(rooms[j].CreatedAt)
	})

	infos := make([]types.RoomInfo, len(rooms))
	for i, room := range rooms {
		infos[i] = room.Info()
	}
	return infos
}

// Stats returns the number of rooms and seated players.
func (s *RoomStore) Stats() types.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return types.Stats{
		Rooms:   len(s.roomsByID),
		Players: len(s.roomByPlayer),
	}
}

func cloneRoom(room *types.Room) types.Room {
	clone := *room
	clone.Players = slices.Clone(room.Players)
	return clone
}
