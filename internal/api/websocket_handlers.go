package api

import (
	"net/http"
)

// WebSocketHandler is what the router needs from the collaboration layer.
type WebSocketHandler interface {
	HandleEvents(w http.ResponseWriter, r *http.Request)
	HandleDocument(w http.ResponseWriter, r *http.Request)
}

// registerWebSocketRoutes mounts the event channel and the replication
// channel paths used by y-websocket clients.
func registerWebSocketRoutes(r routeRegistrar, ws WebSocketHandler) {
	r.HandleFunc("/ws", ws.HandleEvents)
	r.HandleFunc("/collaboration", ws.HandleDocument)
	r.HandleFunc("/collaboration/{doc}", ws.HandleDocument)
	r.HandleFunc("/session-{id}", ws.HandleDocument)
}
