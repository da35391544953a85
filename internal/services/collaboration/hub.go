package collaboration

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"collabcode/internal/middleware"
	"collabcode/internal/models"
	"collabcode/internal/registry"
	"collabcode/internal/services"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

var ErrUnknownEvent = errors.New("unknown event")

// ExecutionSubmitter queues code for the sandbox. *services.ExecutionService satisfies it.
type ExecutionSubmitter interface {
	Submit(req models.ExecutionRequest, deliver func(models.ExecutionResult)) (string, error)
}

// Hub turns inbound events into registry operations and outbound frames.
//
// All fan-out for a room happens inside registry hooks, which run under that
// room's lock, so every member sees the room's events in the order the
// registry applied them. Enqueueing never blocks, so holding the lock there
// is brief.
type Hub struct {
	registry            *registry.Registry
	executions          ExecutionSubmitter
	broadcastExecutions bool

	mu      sync.RWMutex
	clients map[string]*Client // connection id -> client

	log *logrus.Entry
}

func NewHub(reg *registry.Registry, executions ExecutionSubmitter, broadcastExecutions bool) *Hub {
	return &Hub{
		registry:            reg,
		executions:          executions,
		broadcastExecutions: broadcastExecutions,
		clients:             make(map[string]*Client),
		log:                 logrus.WithField("component", "hub"),
	}
}

// Register makes a connection reachable for fan-out.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	h.mu.Unlock()

	c.log.Debug("Connection registered")
}

// Disconnect handles a closed transport as an implicit leave of every room the
// connection was in. Remaining members get the same participant-left event an
// explicit leave produces.
func (h *Hub) Disconnect(c *Client) {
	h.mu.Lock()
	delete(h.clients, c.ID)
	h.mu.Unlock()

	c.Close()

	sessions := h.registry.RemoveConnectionEverywhere(c.ID, h.announceLeave)
	for _, sessionID := range sessions {
		c.leave(sessionID)
	}

	c.log.WithField("sessions", len(sessions)).Info("Connection closed")
}

// ClientCount returns the number of registered connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Shutdown closes every connection.
func (h *Hub) Shutdown() {
	h.log.Info("🛑 Closing event connections...")

	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*Client)
	h.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
}

// Handle processes one inbound frame. Any failure stays local to this frame.
func (h *Hub) Handle(ctx context.Context, c *Client, raw []byte) {
	defer func() {
		if p := recover(); p != nil {
			c.log.WithFields(logrus.Fields{
				"panic": p,
				"stack": string(debug.Stack()),
			}).Error("Panic while handling event")
		}
	}()

	ev, err := models.DecodeInbound(raw)
	if err != nil {
		c.log.WithError(err).Warn("Dropping malformed event")
		return
	}

	ctx, span := middleware.StartSpan(ctx, "Hub."+spanName(ev),
		attribute.String("connection.id", c.ID),
		attribute.String("session.id", ev.Session()),
	)
	defer span.End()

	switch e := ev.(type) {
	case models.JoinSession:
		h.join(ctx, c, e)
	case models.LeaveSession:
		h.leave(c, e)
	case models.EditUpdate:
		h.edit(c, e)
	case models.CursorUpdate:
		h.cursor(c, e)
	case models.ExecutionRequestEvent:
		h.execute(ctx, c, e)
	case models.UnknownEvent:
		c.log.WithError(fmt.Errorf("%w: %q", ErrUnknownEvent, e.Tag)).Warn("Ignoring event")
	}
}

func spanName(ev models.InboundEvent) string {
	if _, ok := ev.(models.UnknownEvent); ok {
		return "unknown"
	}
	return string(ev.Type())
}

func (h *Hub) join(ctx context.Context, c *Client, e models.JoinSession) {
	m := membership{userID: c.UserID, userName: c.UserName}
	if m.userID == "" {
		m.userID = e.UserID
	}
	if m.userName == "" {
		m.userName = e.UserName
	}
	if m.userID == "" {
		m.userID = c.ID
	}

	already := c.join(e.SessionID, m)

	p := models.Participant{UserID: m.userID, UserName: m.userName, ConnectionID: c.ID}
	h.registry.AddParticipant(e.SessionID, p, func(st models.RoomState) {
		if !already {
			for _, joined := range st.Participants {
				if joined.ConnectionID == c.ID {
					p = joined
					break
				}
			}
			h.sendToPeers(st, c.ID, models.EventParticipantJoined, models.ParticipantJoined{
				SessionID:        st.SessionID,
				User:             models.NewUserInfo(p),
				ParticipantCount: len(st.Participants),
			})
		}

		users := make([]models.UserInfo, len(st.Participants))
		for i, member := range st.Participants {
			users[i] = models.NewUserInfo(member)
		}
		h.send(c, models.EventRoomSnapshot, models.RoomSnapshot{
			SessionID:    st.SessionID,
			Content:      st.Content,
			Participants: users,
		})
		middleware.AddSpanEvent(ctx, "room snapshot sent",
			attribute.Int("room.participants", len(users)),
			attribute.Int64("room.revision", int64(st.Revision)),
		)

		c.log.WithFields(logrus.Fields{
			"session_id":   st.SessionID,
			"participants": len(st.Participants),
		}).Info("Joined session")
	})
}

func (h *Hub) leave(c *Client, e models.LeaveSession) {
	if !c.leave(e.SessionID) {
		return
	}
	h.registry.RemoveParticipant(e.SessionID, c.ID, h.announceLeave)
}

// announceLeave is the registry leave hook shared by explicit leaves and disconnects.
func (h *Hub) announceLeave(left models.Participant, st models.RoomState) {
	h.sendToPeers(st, left.ConnectionID, models.EventParticipantLeft, models.ParticipantLeft{
		SessionID:        st.SessionID,
		UserID:           left.UserID,
		ConnectionID:     left.ConnectionID,
		ParticipantCount: len(st.Participants),
	})

	h.log.WithFields(logrus.Fields{
		"session_id":    st.SessionID,
		"connection_id": left.ConnectionID,
		"remaining":     len(st.Participants),
	}).Info("Left session")
}

func (h *Hub) edit(c *Client, e models.EditUpdate) {
	m, ok := c.member(e.SessionID)
	if !ok {
		c.log.WithField("session_id", e.SessionID).Warn("Dropping edit for a session the connection has not joined")
		return
	}

	h.registry.SetDocumentContent(e.SessionID, e.Content, func(st models.RoomState) {
		h.sendToPeers(st, c.ID, models.EventEditUpdate, models.EditRelay{
			SessionID: st.SessionID,
			Content:   st.Content,
			UserID:    m.userID,
			Timestamp: st.LastActivity,
		})

		c.log.WithFields(logrus.Fields{
			"session_id": st.SessionID,
			"revision":   st.Revision,
			"size":       len(st.Content),
		}).Debug("Edit applied")
	})
}

func (h *Hub) cursor(c *Client, e models.CursorUpdate) {
	m, ok := c.member(e.SessionID)
	if !ok {
		c.log.WithField("session_id", e.SessionID).Warn("Dropping cursor for a session the connection has not joined")
		return
	}

	name := e.UserName
	if name == "" {
		name = m.userName
	}

	h.registry.View(e.SessionID, func(st models.RoomState) {
		h.sendToPeers(st, c.ID, models.EventCursorUpdate, models.CursorRelay{
			SessionID: st.SessionID,
			Position:  e.Position,
			UserID:    m.userID,
			UserName:  name,
			Timestamp: time.Now(),
		})
	})
}

func (h *Hub) execute(ctx context.Context, c *Client, e models.ExecutionRequestEvent) {
	m, joined := c.member(e.SessionID)
	userID := m.userID
	if !joined {
		userID = c.UserID
		if userID == "" {
			userID = e.UserID
		}
	}

	req := models.ExecutionRequest{
		ID:        uuid.NewString(),
		SessionID: e.SessionID,
		UserID:    userID,
		Code:      e.Code,
		Language:  e.Language,
	}

	log := c.log.WithFields(logrus.Fields{
		"session_id":   req.SessionID,
		"execution_id": req.ID,
	})

	deliver := func(res models.ExecutionResult) {
		h.send(c, models.EventExecutionResult, res.ResultEvent())

		if h.broadcastExecutions && joined {
			h.registry.View(res.SessionID, func(st models.RoomState) {
				// the requester may have left while the code ran
				if !st.Has(c.ID) {
					return
				}
				h.sendToPeers(st, c.ID, models.EventExecutionBroadcast, res.BroadcastEvent(time.Now()))
			})
		}

		log.WithFields(logrus.Fields{
			"error_kind":  string(res.ErrorKind),
			"duration_ms": res.ExecutionTime.Milliseconds(),
		}).Info("Execution finished")
	}

	if _, err := h.executions.Submit(req, deliver); err != nil {
		middleware.AddSpanError(ctx, err)
		log.WithError(err).Warn("Execution rejected")
		deliver(services.RejectedResult(req, err))
		return
	}

	middleware.AddSpanEvent(ctx, "execution queued", attribute.String("execution.id", req.ID))
	log.WithField("language", req.Language).Info("Execution queued")
}

// send enqueues one event for a single connection.
func (h *Hub) send(c *Client, t models.EventType, payload any) {
	data, err := models.Encode(t, payload)
	if err != nil {
		h.log.WithError(err).Error("Failed to encode event")
		return
	}
	c.SendText(data)
}

// sendToPeers enqueues one event for every member of st except the given connection.
func (h *Hub) sendToPeers(st models.RoomState, except string, t models.EventType, payload any) {
	data, err := models.Encode(t, payload)
	if err != nil {
		h.log.WithError(err).Error("Failed to encode event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, p := range st.Peers(except) {
		if peer, ok := h.clients[p.ConnectionID]; ok {
			peer.SendText(data)
		}
	}
}
