package session

import (
	"context"
	"sync"
	"time"

	"github.com/SkynetNext/game-server/internal/domain"
)

// Conn is the live transport connection a session is bound to
type Conn interface {
	// ID is unique per accepted connection for the process lifetime
	ID() uint64

	RemoteAddr() string

	// Send writes one complete text message
	Send(ctx context.Context, data []byte) error

	// IsOpen reports whether the connection can still carry messages
	IsOpen() bool
}

// Session binds an authenticated player to its connection
type Session struct {
	PlayerID  domain.PlayerID
	Conn      Conn
	CreatedAt time.Time
}

// Registry is the bidirectional player <-> connection map.
//
// Both directions live under one RWMutex so every public method is atomic
// with respect to the pair of maps. Register does not check presence; the
// caller decides whether an existing session may be replaced.
type Registry struct {
	mu       sync.RWMutex
	byPlayer map[domain.PlayerID]*Session
	byConn   map[Conn]domain.PlayerID
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		byPlayer: make(map[domain.PlayerID]*Session),
		byConn:   make(map[Conn]domain.PlayerID),
	}
}

// Register binds playerID to conn, replacing any previous binding of either side
func (r *Registry) Register(playerID domain.PlayerID, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.byPlayer[playerID]; ok {
		delete(r.byConn, old.Conn)
	}
	if oldPlayer, ok := r.byConn[conn]; ok {
		delete(r.byPlayer, oldPlayer)
	}

	r.byPlayer[playerID] = &Session{
		PlayerID:  playerID,
		Conn:      conn,
		CreatedAt: time.Now(),
	}
	r.byConn[conn] = playerID
}

// RemoveByPlayer drops the session of playerID, if any
func (r *Registry) RemoveByPlayer(playerID domain.PlayerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.byPlayer[playerID]
	if !ok {
		return false
	}
	delete(r.byPlayer, playerID)
	delete(r.byConn, sess.Conn)
	return true
}

// RemoveByConnection drops the session bound to conn and returns its player
func (r *Registry) RemoveByConnection(conn Conn) (domain.PlayerID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	playerID, ok := r.byConn[conn]
	if !ok {
		return domain.PlayerID{}, false
	}
	delete(r.byConn, conn)
	delete(r.byPlayer, playerID)
	return playerID, true
}

// GetPlayer returns the player bound to conn
func (r *Registry) GetPlayer(conn Conn) (domain.PlayerID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	playerID, ok := r.byConn[conn]
	return playerID, ok
}

// GetConnection returns the connection of playerID
func (r *Registry) GetConnection(playerID domain.PlayerID) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.byPlayer[playerID]
	if !ok {
		return nil, false
	}
	return sess.Conn, true
}

// Get returns a copy of the session of playerID
func (r *Registry) Get(playerID domain.PlayerID) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.byPlayer[playerID]
	if !ok {
		return Session{}, false
	}
	return *sess, true
}

// IsOnline reports whether playerID has a session
func (r *Registry) IsOnline(playerID domain.PlayerID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byPlayer[playerID]
	return ok
}

// AllPlayerIDs returns a point-in-time snapshot of online players
func (r *Registry) AllPlayerIDs() []domain.PlayerID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]domain.PlayerID, 0, len(r.byPlayer))
	for id := range r.byPlayer {
		ids = append(ids, id)
	}
	return ids
}

// Count returns the number of online players
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byPlayer)
}
