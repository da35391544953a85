package services

import (
	"context"

	"collabcode/internal/models"
)

// Interfaces are declared here, next to the services that consume them, and
// list only the methods those services call.

// SnapshotRepository is what the snapshot persister needs from storage.
type SnapshotRepository interface {
	SaveSnapshot(ctx context.Context, snapshot *models.CodeSnapshot) error
	PruneSnapshots(ctx context.Context, sessionID string, keep int) error
}

// RoomSource exposes the live rooms to persist.
type RoomSource interface {
	Rooms() []models.RoomState
}
