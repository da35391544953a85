package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"collabcode/internal/middleware"
	"collabcode/internal/models"
	"collabcode/internal/telemetry"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

const (
	defaultSnapshotLimit = 20
	maxSnapshotLimit     = 100
)

// Handler serves the HTTP side of the server.
type Handler struct {
	rooms       RoomReader
	snapshots   SnapshotStore // nil when persistence is disabled
	executions  ExecutionQueue
	connections ConnectionCounter
	documents   DocumentCounter
	startedAt   time.Time
}

func NewHandler(
	rooms RoomReader,
	snapshots SnapshotStore,
	executions ExecutionQueue,
	connections ConnectionCounter,
	documents DocumentCounter,
) *Handler {
	return &Handler{
		rooms:       rooms,
		snapshots:   snapshots,
		executions:  executions,
		connections: connections,
		documents:   documents,
		startedAt:   time.Now(),
	}
}

type HealthResponse struct {
	Status    string    `json:"status"`
	Uptime    float64   `json:"uptime"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

type StatsResponse struct {
	models.RegistryStats
	Connections    int `json:"connections"`
	Documents      int `json:"documents"`
	ExecutionQueue int `json:"executionQueue"`
}

type SessionResponse struct {
	SessionID        string            `json:"sessionId"`
	Participants     []models.UserInfo `json:"participants"`
	ParticipantCount int               `json:"participantCount"`
	Content          string            `json:"content"`
	Revision         uint64            `json:"revision"`
	CreatedAt        time.Time         `json:"createdAt"`
	LastActivity     time.Time         `json:"lastActivity"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Uptime:    time.Since(h.startedAt).Seconds(),
		Timestamp: time.Now().UTC(),
		Version:   telemetry.ServiceVersion,
	})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{RegistryStats: h.rooms.Stats()}
	if resp.ActiveSessions == nil {
		resp.ActiveSessions = []string{}
	}
	if h.connections != nil {
		resp.Connections = h.connections.ClientCount()
	}
	if h.documents != nil {
		resp.Documents = h.documents.Documents()
	}
	if h.executions != nil {
		resp.ExecutionQueue = h.executions.GetQueueLength()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	st, ok := h.rooms.Room(sessionID)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	users := make([]models.UserInfo, len(st.Participants))
	for i, p := range st.Participants {
		users[i] = models.NewUserInfo(p)
	}

	writeJSON(w, http.StatusOK, SessionResponse{
		SessionID:        st.SessionID,
		Participants:     users,
		ParticipantCount: len(users),
		Content:          st.Content,
		Revision:         st.Revision,
		CreatedAt:        st.CreatedAt,
		LastActivity:     st.LastActivity,
	})
}

func (h *Handler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	if h.snapshots == nil {
		http.Error(w, "persistence is disabled", http.StatusNotFound)
		return
	}

	sessionID := mux.Vars(r)["id"]

	limit := defaultSnapshotLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxSnapshotLimit)
	}

	snapshots, err := h.snapshots.ListSnapshots(r.Context(), sessionID, limit)
	if err != nil {
		h.snapshotFailure(w, r, sessionID, err, "failed to list snapshots")
		return
	}
	if snapshots == nil {
		snapshots = []*models.CodeSnapshot{}
	}

	total, err := h.snapshots.CountSnapshots(r.Context(), sessionID)
	if err != nil {
		h.snapshotFailure(w, r, sessionID, err, "failed to count snapshots")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessionId": sessionID,
		"snapshots": snapshots,
		"count":     len(snapshots),
		"total":     total,
	})
}

// LatestSnapshot returns the newest persisted copy of a session's document.
func (h *Handler) LatestSnapshot(w http.ResponseWriter, r *http.Request) {
	if h.snapshots == nil {
		http.Error(w, "persistence is disabled", http.StatusNotFound)
		return
	}

	sessionID := mux.Vars(r)["id"]

	snapshot, err := h.snapshots.LatestSnapshot(r.Context(), sessionID)
	if err != nil {
		h.snapshotFailure(w, r, sessionID, err, "failed to get latest snapshot")
		return
	}
	if snapshot == nil {
		http.Error(w, "session has no snapshots", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, snapshot)
}

func (h *Handler) snapshotFailure(w http.ResponseWriter, r *http.Request, sessionID string, err error, msg string) {
	middleware.AddSpanError(r.Context(), err)
	logrus.WithFields(logrus.Fields{
		"session_id": sessionID,
		"request_id": middleware.GetRequestID(r.Context()),
	}).WithError(err).Error("Snapshot query failed")
	http.Error(w, msg, http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
