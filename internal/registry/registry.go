package registry

import (
	"sort"
	"sync"
	"time"

	"collabcode/internal/models"

	"github.com/sirupsen/logrus"
)

// DefaultGracePeriod is how long an empty room survives before removal.
const DefaultGracePeriod = 30 * time.Second

// Hook runs while the room lock is held, right after the mutation it is passed
// to. Callers use it to enqueue fan-out so that delivery order matches the
// order in which the room was mutated. Hooks must not block and must not call
// back into the registry.
type Hook func(state models.RoomState)

// LeaveHook is the Hook variant for removals; left is the removed participant.
type LeaveHook func(left models.Participant, state models.RoomState)

// Registry maps session ids to rooms and, within a room, connection ids to
// participants. The map is guarded by mu; each room has its own lock, so
// traffic in one session never waits on another. Lock order is always
// registry then room.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*room

	grace    time.Duration
	onExpire func(models.RoomState)
	log      *logrus.Entry
}

type room struct {
	mu           sync.Mutex
	id           string
	participants map[string]models.Participant
	content      string
	revision     uint64
	createdAt    time.Time
	lastActivity time.Time

	// pending deletion; expiryGen invalidates a timer that already fired
	expiry    *time.Timer
	expiryGen uint64

	// set once the room is dropped from the map; holders must look it up again
	removed bool
}

type Option func(*Registry)

// WithGracePeriod overrides DefaultGracePeriod.
func WithGracePeriod(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.grace = d
		}
	}
}

// WithExpiryHandler registers a callback for rooms removed after their grace period.
// It runs on the timer goroutine without any lock held.
func WithExpiryHandler(fn func(models.RoomState)) Option {
	return func(r *Registry) {
		r.onExpire = fn
	}
}

func New(opts ...Option) *Registry {
	r := &Registry{
		rooms: make(map[string]*room),
		grace: DefaultGracePeriod,
		log:   logrus.WithField("component", "registry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// lockRoom returns the room locked, creating it when create is set.
// Returns nil if the room does not exist and create is false.
func (r *Registry) lockRoom(sessionID string, create bool) *room {
	for {
		r.mu.RLock()
		rm := r.rooms[sessionID]
		r.mu.RUnlock()

		if rm == nil {
			if !create {
				return nil
			}
			r.mu.Lock()
			rm = r.rooms[sessionID]
			if rm == nil {
				now := time.Now()
				rm = &room{
					id:           sessionID,
					participants: make(map[string]models.Participant),
					createdAt:    now,
					lastActivity: now,
				}
				r.rooms[sessionID] = rm
				r.log.WithField("session_id", sessionID).Info("Created new room")
			}
			r.mu.Unlock()
		}

		rm.mu.Lock()
		if !rm.removed {
			return rm
		}
		// lost a race with expiry; the next lookup sees the map without it
		rm.mu.Unlock()
	}
}

// AddParticipant creates the room if needed, inserts or replaces the
// participant keyed by its connection id, and cancels any pending deletion.
// Repeating the same call leaves the room unchanged apart from activity time.
func (r *Registry) AddParticipant(sessionID string, p models.Participant, hook Hook) models.RoomState {
	rm := r.lockRoom(sessionID, true)
	defer rm.mu.Unlock()

	rm.cancelExpiry()

	now := time.Now()
	if existing, ok := rm.participants[p.ConnectionID]; ok && existing.UserID == p.UserID {
		p.JoinedAt = existing.JoinedAt
	} else if p.JoinedAt.IsZero() {
		p.JoinedAt = now
	}
	rm.participants[p.ConnectionID] = p
	rm.lastActivity = now

	st := rm.state()
	r.log.WithFields(logrus.Fields{
		"session_id":    sessionID,
		"user_id":       p.UserID,
		"connection_id": p.ConnectionID,
		"participants":  len(st.Participants),
	}).Info("Participant added")

	if hook != nil {
		hook(st)
	}
	return st
}

// RemoveParticipant drops a connection from a room. A missing room or
// participant is not an error: ok is false and the hook does not run.
func (r *Registry) RemoveParticipant(sessionID, connectionID string, hook LeaveHook) (left models.Participant, ok bool) {
	rm := r.lockRoom(sessionID, false)
	if rm == nil {
		return models.Participant{}, false
	}
	defer rm.mu.Unlock()

	return r.removeLocked(rm, connectionID, hook)
}

// RemoveConnectionEverywhere removes a connection from every room it is in.
// Used when a transport closes without announcing its rooms. Returns the
// affected session ids.
func (r *Registry) RemoveConnectionEverywhere(connectionID string, hook LeaveHook) []string {
	r.mu.RLock()
	candidates := make([]*room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		candidates = append(candidates, rm)
	}
	r.mu.RUnlock()

	var sessions []string
	for _, rm := range candidates {
		rm.mu.Lock()
		if !rm.removed {
			if _, ok := r.removeLocked(rm, connectionID, hook); ok {
				sessions = append(sessions, rm.id)
			}
		}
		rm.mu.Unlock()
	}

	if len(sessions) > 0 {
		r.log.WithFields(logrus.Fields{
			"connection_id": connectionID,
			"sessions":      sessions,
		}).Info("Connection removed from sessions")
	}
	return sessions
}

func (r *Registry) removeLocked(rm *room, connectionID string, hook LeaveHook) (models.Participant, bool) {
	left, ok := rm.participants[connectionID]
	if !ok {
		return models.Participant{}, false
	}
	delete(rm.participants, connectionID)
	rm.lastActivity = time.Now()

	if len(rm.participants) == 0 {
		r.scheduleExpiry(rm)
	}

	st := rm.state()
	r.log.WithFields(logrus.Fields{
		"session_id":    rm.id,
		"user_id":       left.UserID,
		"connection_id": connectionID,
		"remaining":     len(st.Participants),
	}).Info("Participant removed")

	if hook != nil {
		hook(left, st)
	}
	return left, true
}

// ListParticipants returns a copy of the room's participants ordered by join time.
func (r *Registry) ListParticipants(sessionID string) []models.Participant {
	st, ok := r.Room(sessionID)
	if !ok {
		return []models.Participant{}
	}
	return st.Participants
}

// SetDocumentContent replaces the authoritative content. Rooms are only
// created by joins, so this is a no-op returning false for unknown sessions.
func (r *Registry) SetDocumentContent(sessionID, content string, hook Hook) (models.RoomState, bool) {
	rm := r.lockRoom(sessionID, false)
	if rm == nil {
		return models.RoomState{}, false
	}
	defer rm.mu.Unlock()

	rm.content = content
	rm.revision++
	rm.lastActivity = time.Now()

	st := rm.state()
	if hook != nil {
		hook(st)
	}
	return st, true
}

// GetDocumentContent returns the cached content, or "" for unknown sessions.
func (r *Registry) GetDocumentContent(sessionID string) string {
	rm := r.lockRoom(sessionID, false)
	if rm == nil {
		return ""
	}
	defer rm.mu.Unlock()
	return rm.content
}

// View runs hook against the room without mutating it. Used for relays that
// must stay ordered with edits, such as cursor updates.
func (r *Registry) View(sessionID string, hook Hook) bool {
	rm := r.lockRoom(sessionID, false)
	if rm == nil {
		return false
	}
	defer rm.mu.Unlock()

	if hook != nil {
		hook(rm.state())
	}
	return true
}

// Room returns a snapshot of one room.
func (r *Registry) Room(sessionID string) (models.RoomState, bool) {
	rm := r.lockRoom(sessionID, false)
	if rm == nil {
		return models.RoomState{}, false
	}
	defer rm.mu.Unlock()
	return rm.state(), true
}

// Rooms returns snapshots of every room, including empty ones awaiting deletion.
func (r *Registry) Rooms() []models.RoomState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.RoomState, 0, len(r.rooms))
	for _, rm := range r.rooms {
		rm.mu.Lock()
		out = append(out, rm.state())
		rm.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

// Stats counts sessions and participants.
func (r *Registry) Stats() models.RegistryStats {
	stats := models.RegistryStats{ActiveSessions: []string{}}
	for _, st := range r.Rooms() {
		stats.TotalSessions++
		if n := len(st.Participants); n > 0 {
			stats.TotalParticipants += n
			stats.ActiveSessions = append(stats.ActiveSessions, st.SessionID)
		}
	}
	return stats
}

// Close cancels all pending deletions. Rooms stay in memory.
func (r *Registry) Close() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, rm := range r.rooms {
		rm.mu.Lock()
		rm.cancelExpiry()
		rm.mu.Unlock()
	}
}

func (r *Registry) scheduleExpiry(rm *room) {
	rm.cancelExpiry()
	gen := rm.expiryGen
	rm.expiry = time.AfterFunc(r.grace, func() { r.expire(rm, gen) })

	r.log.WithFields(logrus.Fields{
		"session_id": rm.id,
		"grace":      r.grace.String(),
	}).Debug("Room empty, deletion scheduled")
}

func (r *Registry) expire(rm *room, gen uint64) {
	r.mu.Lock()
	rm.mu.Lock()

	if rm.removed || rm.expiryGen != gen || len(rm.participants) > 0 {
		rm.mu.Unlock()
		r.mu.Unlock()
		return
	}

	rm.removed = true
	rm.expiry = nil
	if r.rooms[rm.id] == rm {
		delete(r.rooms, rm.id)
	}
	st := rm.state()

	rm.mu.Unlock()
	r.mu.Unlock()

	r.log.WithField("session_id", rm.id).Info("Empty room cleaned up")

	if r.onExpire != nil {
		r.onExpire(st)
	}
}

// cancelExpiry must be called with rm.mu held.
func (rm *room) cancelExpiry() {
	rm.expiryGen++
	if rm.expiry != nil {
		rm.expiry.Stop()
		rm.expiry = nil
	}
}

// state must be called with rm.mu held.
func (rm *room) state() models.RoomState {
	participants := make([]models.Participant, 0, len(rm.participants))
	for _, p := range rm.participants {
		participants = append(participants, p)
	}
	sort.Slice(participants, func(i, j int) bool {
		if !participants[i].JoinedAt.Equal(participants[j].JoinedAt) {
			return participants[i].JoinedAt.Before(participants[j].JoinedAt)
		}
		return participants[i].ConnectionID < participants[j].ConnectionID
	})

	return models.RoomState{
		SessionID:    rm.id,
		Participants: participants,
		Content:      rm.content,
		Revision:     rm.revision,
		CreatedAt:    rm.createdAt,
		LastActivity: rm.lastActivity,
	}
}
