package session

import (
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Registry routes speaker ids to the session recording them. One Registry is
// shared by every session of the process; sessions register their
// participants on start and unpause and remove them on pause and stop.
//
// All methods are safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	owners   map[string]string   // speaker id -> session id
	speakers map[string][]string // session id -> speaker ids
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		owners:   make(map[string]string),
		speakers: make(map[string][]string),
	}
}

// Register routes every speaker in speakerIDs to sessionID, replacing any
// previous registration of sessionID. It fails without changing anything when
// a speaker is registered to a different session.
func (r *Registry) Register(sessionID string, speakerIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var busy []string
	for _, id := range speakerIDs {
		if owner, ok := r.owners[id]; ok && owner != sessionID {
			busy = append(busy, id)
		}
	}
	if len(busy) > 0 {
		return fmt.Errorf("session: register %s: %w: %s", sessionID, ErrParticipantBusy, strings.Join(busy, ", "))
	}

	r.unregisterLocked(sessionID)
	ids := slices.Clone(speakerIDs)
	for _, id := range ids {
		r.owners[id] = sessionID
	}
	r.speakers[sessionID] = ids
	return nil
}

// Unregister removes every route to sessionID. Unknown ids are ignored.
func (r *Registry) Unregister(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unregisterLocked(sessionID)
}

func (r *Registry) unregisterLocked(sessionID string) {
	for _, id := range r.speakers[sessionID] {
		if r.owners[id] == sessionID {
			delete(r.owners, id)
		}
	}
	delete(r.speakers, sessionID)
}

// Owner returns the session recording speakerID.
func (r *Registry) Owner(speakerID string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	owner, ok := r.owners[speakerID]
	if !ok {
		return "", fmt.Errorf("session: route %s: %w", speakerID, ErrNotParticipant)
	}
	return owner, nil
}

// Routes reports whether speakerID is routed to sessionID.
func (r *Registry) Routes(sessionID, speakerID string) bool {
	owner, err := r.Owner(speakerID)
	return err == nil && owner == sessionID
}

// Speakers returns the speakers registered to sessionID.
func (r *Registry) Speakers(sessionID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.speakers[sessionID])
}

// Len returns the number of routed speakers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.owners)
}
