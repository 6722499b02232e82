// Package presence tracks which users currently hold at least one live
// websocket connection. The registry is in-memory and ephemeral: state is
// lost on restart, and a multi-instance deployment would need a shared store
// behind the same interface.
package presence

import (
	"sync"
	"time"
)

// Handle identifies a single registered connection. A user may hold several
// handles at once (multiple tabs or devices).
type Handle interface{}

// Registry maps users to their live connection handles.
type Registry struct {
	mu       sync.RWMutex
	byUser   map[int64]map[Handle]struct{}
	byConn   map[Handle]int64
	lastSeen map[int64]time.Time
}

// NewRegistry creates an empty presence registry.
func NewRegistry() *Registry {
	return &Registry{
		byUser:   make(map[int64]map[Handle]struct{}),
		byConn:   make(map[Handle]int64),
		lastSeen: make(map[int64]time.Time),
	}
}

// Register binds a handle to a user. It reports whether this is the user's
// first live handle, i.e. the user just came online.
func (r *Registry) Register(userID int64, handle Handle) (first bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	handles, ok := r.byUser[userID]
	if !ok {
		handles = make(map[Handle]struct{})
		r.byUser[userID] = handles
	}
	first = len(handles) == 0
	handles[handle] = struct{}{}
	r.byConn[handle] = userID
	return first
}

// Unregister removes a handle. It reports whether the handle was the user's
// last one (the user just went offline) and the moment they were last seen.
// Unregistering an unknown handle is a no-op.
func (r *Registry) Unregister(handle Handle) (userID int64, last bool, lastSeen time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.byConn[handle]
	if !ok {
		return 0, false, time.Time{}
	}
	delete(r.byConn, handle)

	handles := r.byUser[userID]
	delete(handles, handle)
	if len(handles) == 0 {
		delete(r.byUser, userID)
		lastSeen = time.Now()
		r.lastSeen[userID] = lastSeen
		return userID, true, lastSeen
	}
	return userID, false, time.Time{}
}

// IsOnline reports whether the user has at least one live handle.
func (r *Registry) IsOnline(userID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

// ResolveHandles returns a snapshot of the user's live handles.
func (r *Registry) ResolveHandles(userID int64) []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handles := r.byUser[userID]
	if len(handles) == 0 {
		return nil
	}
	out := make([]Handle, 0, len(handles))
	for h := range handles {
		out = append(out, h)
	}
	return out
}

// AllHandles returns a snapshot of every registered handle.
func (r *Registry) AllHandles() []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Handle, 0, len(r.byConn))
	for h := range r.byConn {
		out = append(out, h)
	}
	return out
}

// LastSeen returns when the user last went offline, if known.
func (r *Registry) LastSeen(userID int64) (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.lastSeen[userID]
	return t, ok
}

// OnlineCount returns the number of distinct users currently online.
func (r *Registry) OnlineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}
