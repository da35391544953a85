package api

import (
	"context"

	"collabcode/internal/models"
)

// Handlers depend on the narrow views below rather than on concrete services.

// RoomReader is the read side of the room registry.
type RoomReader interface {
	Room(sessionID string) (models.RoomState, bool)
	Stats() models.RegistryStats
}

// SnapshotStore reads persisted snapshots.
type SnapshotStore interface {
	ListSnapshots(ctx context.Context, sessionID string, limit int) ([]*models.CodeSnapshot, error)
	LatestSnapshot(ctx context.Context, sessionID string) (*models.CodeSnapshot, error)
	CountSnapshots(ctx context.Context, sessionID string) (int64, error)
}

// ExecutionQueue reports execution backlog.
type ExecutionQueue interface {
	GetQueueLength() int
}

// ConnectionCounter reports live websocket connections.
type ConnectionCounter interface {
	ClientCount() int
}

// DocumentCounter reports open replication documents.
type DocumentCounter interface {
	Documents() int
}
