package collaboration

import (
	"context"
	"net/http"
	"strings"

	"collabcode/internal/middleware"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

const defaultDocument = "default-doc"

// WebSocketHandler upgrades HTTP requests onto the event hub and the
// replication relay.
type WebSocketHandler struct {
	hub      *Hub
	relay    *Relay
	upgrader websocket.Upgrader

	// connections outlive the upgrade request, so they run on this context
	ctx context.Context
}

// NewWebSocketHandler builds the handler. allowOrigin decides which browser
// origins may connect; nil allows all.
func NewWebSocketHandler(ctx context.Context, hub *Hub, relay *Relay, allowOrigin func(origin string) bool) *WebSocketHandler {
	return &WebSocketHandler{
		hub:   hub,
		relay: relay,
		ctx:   ctx,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if allowOrigin == nil {
					return true
				}
				return allowOrigin(r.Header.Get("Origin"))
			},
		},
	}
}

// identity reads the caller's identity. Authentication happens upstream; the
// values are trusted as given.
func identity(r *http.Request) (userID, userName string) {
	userID = r.Header.Get("X-User-ID")
	if userID == "" {
		userID = r.URL.Query().Get("user_id")
	}
	userName = r.Header.Get("X-User-Name")
	if userName == "" {
		userName = r.URL.Query().Get("user_name")
	}
	return userID, userName
}

// HandleEvents serves the JSON event channel.
func (h *WebSocketHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	userID, userName := identity(r)

	ctx, span := middleware.StartSpan(r.Context(), "WebSocket.Connect",
		attribute.String("websocket.channel", "events"),
		attribute.String("user.id", userID),
	)
	defer span.End()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithError(err).Warn("Failed to upgrade WebSocket")
		middleware.AddSpanError(ctx, err)
		return
	}

	client := NewClient(conn, userID, userName)
	span.SetAttributes(attribute.String("connection.id", client.ID))
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump(h.ctx,
		func(ctx context.Context, messageType int, data []byte) {
			if messageType != websocket.TextMessage {
				client.log.Warn("Dropping non-text frame on event channel")
				return
			}
			h.hub.Handle(ctx, client, data)
		},
		func() { h.hub.Disconnect(client) },
	)

	client.log.Info("✓ Event connection established")
}

// HandleDocument serves the binary replication channel for one document.
// The document name comes from the {doc} or {id} path variable.
func (h *WebSocketHandler) HandleDocument(w http.ResponseWriter, r *http.Request) {
	name := documentName(r)
	userID, userName := identity(r)

	ctx, span := middleware.StartSpan(r.Context(), "WebSocket.Connect",
		attribute.String("websocket.channel", "replication"),
		attribute.String("document.id", name),
		attribute.String("user.id", userID),
	)
	defer span.End()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithError(err).Warn("Failed to upgrade WebSocket")
		middleware.AddSpanError(ctx, err)
		return
	}

	client := NewClient(conn, userID, userName)
	log := client.log.WithField("document", name)

	h.relay.Join(name, client)

	go client.WritePump()
	go client.ReadPump(h.ctx,
		func(_ context.Context, messageType int, data []byte) {
			if messageType != websocket.BinaryMessage {
				log.Debug("Dropping non-binary frame on replication channel")
				return
			}
			if err := h.relay.Receive(name, client, data); err != nil {
				log.WithError(err).Warn("Dropping replication frame")
			}
		},
		func() {
			client.Close()
			h.relay.Leave(name, client)
		},
	)

	log.Info("✓ Replication connection established")
}

func documentName(r *http.Request) string {
	vars := mux.Vars(r)
	if doc := strings.TrimSpace(vars["doc"]); doc != "" {
		return doc
	}
	if id := strings.TrimSpace(vars["id"]); id != "" {
		return "session-" + id
	}
	return defaultDocument
}
