package api

import (
	"net/http"

	"collabcode/internal/middleware"

	"github.com/gorilla/mux"
)

type routeRegistrar interface {
	HandleFunc(path string, f func(http.ResponseWriter, *http.Request)) *mux.Route
}

// SetupRoutes builds the router. allowOrigin drives CORS; nil allows any origin.
func SetupRoutes(h *Handler, ws WebSocketHandler, allowOrigin func(origin string) bool) *mux.Router {
	r := mux.NewRouter()

	// tracing first, then recovery, then CORS
	r.Use(middleware.TracingMiddleware)
	r.Use(middleware.ErrorRecoveryMiddleware)
	r.Use(middleware.CORSMiddleware(allowOrigin))

	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	api.HandleFunc("/stats", h.Stats).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", h.GetSession).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}/snapshots", h.ListSnapshots).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}/snapshots/latest", h.LatestSnapshot).Methods(http.MethodGet)

	if ws != nil {
		registerWebSocketRoutes(r, ws)
	}

	return r
}
