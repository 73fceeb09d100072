// Package presence tracks which users currently have a live session and
// how to reach them. Reads (broadcasts, targeted sends) vastly outnumber
// writes (login, disconnect), so the registry is a reader/writer-locked
// map. No operation here touches socket I/O: delivery goes through each
// session's buffered channel and never blocks.
package presence

import (
	"errors"
	"sync"

	"parley/pkg/logger"
	"parley/pkg/telemetry"
	"parley/pkg/wire"
)

// ErrAlreadyRegistered indicates the user id already has a live session.
var ErrAlreadyRegistered = errors.New("user already has a live session")

// Handle is a session's delivery endpoint. The owning session drains
// Events and writes each frame to its socket. Send never blocks: when the
// buffer is full the event is dropped with a warning, so a slow or dead
// peer cannot stall senders. The channel is never closed; an unregistered
// handle simply becomes unreachable.
type Handle struct {
	UserID uint64

	ch chan wire.ServerFrame
}

// NewHandle creates a delivery endpoint with the given buffer size.
func NewHandle(userID uint64, buffer int) *Handle {
	if buffer <= 0 {
		buffer = 256
	}
	return &Handle{UserID: userID, ch: make(chan wire.ServerFrame, buffer)}
}

// Send enqueues an event without blocking. It reports false when the
// event was dropped because the session's buffer is full.
func (h *Handle) Send(f wire.ServerFrame) bool {
	select {
	case h.ch <- f:
		return true
	default:
		telemetry.EventsDropped.Inc()
		logger.Warn("delivery_channel_full", "user", h.UserID)
		return false
	}
}

// Events returns the receive side for the owning session loop.
func (h *Handle) Events() <-chan wire.ServerFrame {
	return h.ch
}

// Registry is the process-wide map from user id to delivery handle.
type Registry struct {
	mu       sync.RWMutex
	sessions map[uint64]*Handle
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[uint64]*Handle)}
}

// Register records a user's live session. It fails with
// ErrAlreadyRegistered when the user id is already online; callers treat
// that as a second-login rejection, never a displacement.
func (r *Registry) Register(h *Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[h.UserID]; ok {
		return ErrAlreadyRegistered
	}
	r.sessions[h.UserID] = h
	logger.Info("session_registered", "user", h.UserID, "online", len(r.sessions))
	return nil
}

// Unregister removes a user's session on disconnect. Unknown ids are a
// no-op.
func (r *Registry) Unregister(userID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[userID]; ok {
		delete(r.sessions, userID)
		logger.Info("session_unregistered", "user", userID, "online", len(r.sessions))
	}
}

// IsOnline reports whether the user currently has a live session.
func (r *Registry) IsOnline(userID uint64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[userID]
	return ok
}

// Get returns the delivery handle for a targeted send.
func (r *Registry) Get(userID uint64) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.sessions[userID]
	return h, ok
}

// Snapshot returns all current handles for a broadcast. The slice is a
// copy; sends happen after the lock is released.
func (r *Registry) Snapshot() []*Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Handle, 0, len(r.sessions))
	for _, h := range r.sessions {
		out = append(out, h)
	}
	return out
}
