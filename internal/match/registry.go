package match

import (
	"fmt"
	"sync"
	"time"

	"github.com/quicktap/arena/internal/domain"
)

// Registry owns every live room and the connection index.
// Implementations must make JoinRoom atomic per code.
type Registry interface {
	CreateRoom(creator *domain.Player, totalRounds int, now time.Time) (*domain.Room, error)
	JoinRoom(code string, player *domain.Player) (*domain.Room, error)
	FindRoomByConnection(connectionID string) (*domain.Room, bool)
	Room(code string) (*domain.Room, bool)
	// RemovePlayer detaches the connection's player and deletes the room once it is empty.
	RemovePlayer(connectionID string) (*domain.Room, *domain.Player, bool)
	Stats() RegistryStats
}

// RegistryStats summarises live rooms
type RegistryStats struct {
	Rooms    int            `json:"rooms"`
	Players  int            `json:"players"`
	ByStatus map[string]int `json:"by_status"`
}

// MemoryRegistry is the single-process Registry
type MemoryRegistry struct {
	mu          sync.RWMutex
	rooms       map[string]*domain.Room
	connections map[string]string
	codes       *CodeGenerator
}

// NewMemoryRegistry creates an empty registry
func NewMemoryRegistry(codes *CodeGenerator) *MemoryRegistry {
	if codes == nil {
		codes = NewCodeGenerator()
	}
	return &MemoryRegistry{
		rooms:       make(map[string]*domain.Room),
		connections: make(map[string]string),
		codes:       codes,
	}
}

// CreateRoom allocates a fresh code and seats the creator
func (r *MemoryRegistry) CreateRoom(creator *domain.Player, totalRounds int, now time.Time) (*domain.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.connections[creator.ConnectionID]; ok {
		return nil, domain.ErrAlreadyInRoom
	}

	code, err := r.codes.Generate(func(code string) bool {
		_, exists := r.rooms[code]
		return exists
	})
	if err != nil {
		return nil, err
	}

	room := domain.NewRoom(code, creator, totalRounds, now)
	r.rooms[code] = room
	r.connections[creator.ConnectionID] = code
	return room, nil
}

// JoinRoom seats player in the room with the given code
func (r *MemoryRegistry) JoinRoom(code string, player *domain.Player) (*domain.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.connections[player.ConnectionID]; ok {
		return nil, domain.ErrAlreadyInRoom
	}

	room, ok := r.rooms[code]
	if !ok {
		return nil, fmt.Errorf("joining %s: %w", code, domain.ErrRoomNotFound)
	}
	if room.Status != domain.StatusLobby {
		return nil, fmt.Errorf("joining %s: %w", code, domain.ErrRoomNotJoinable)
	}
	if room.IsFull() {
		return nil, fmt.Errorf("joining %s: %w", code, domain.ErrRoomFull)
	}
	if room.HasUser(player.UserID) {
		return nil, fmt.Errorf("joining %s: %w", code, domain.ErrAlreadyInRoom)
	}

	room.Players = append(room.Players, player)
	room.Touch()
	r.connections[player.ConnectionID] = code
	return room, nil
}

// FindRoomByConnection returns the room the connection is seated in
func (r *MemoryRegistry) FindRoomByConnection(connectionID string) (*domain.Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	code, ok := r.connections[connectionID]
	if !ok {
		return nil, false
	}
	room, ok := r.rooms[code]
	return room, ok
}

// Room returns the room with the given code
func (r *MemoryRegistry) Room(code string) (*domain.Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.rooms[code]
	return room, ok
}

// RemovePlayer detaches a connection from its room
func (r *MemoryRegistry) RemovePlayer(connectionID string) (*domain.Room, *domain.Player, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	code, ok := r.connections[connectionID]
	if !ok {
		return nil, nil, false
	}
	delete(r.connections, connectionID)

	room, ok := r.rooms[code]
	if !ok {
		return nil, nil, false
	}

	var removed *domain.Player
	for i, p := range room.Players {
		if p.ConnectionID == connectionID {
			removed = p
			room.Players = append(room.Players[:i:i], room.Players[i+1:]...)
			break
		}
	}
	if removed == nil {
		return room, nil, false
	}
	room.Touch()

	if len(room.Players) == 0 {
		delete(r.rooms, code)
	}
	return room, removed, true
}

// Stats counts rooms and seated players
func (r *MemoryRegistry) Stats() RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := RegistryStats{
		Rooms:    len(r.rooms),
		Players:  len(r.connections),
		ByStatus: make(map[string]int, 4),
	}
	for _, room := range r.rooms {
		stats.ByStatus[room.Status.String()]++
	}
	return stats
}
