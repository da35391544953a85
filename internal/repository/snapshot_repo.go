package repository

import (
	"context"
	"errors"
	"fmt"

	"collabcode/internal/models"

	"gorm.io/gorm"
)

// SnapshotRepositoryImpl stores persisted copies of room documents.
//
// Query patterns:
//   - SaveSnapshot: periodic persister and room expiry
//   - ListSnapshots / LatestSnapshot / CountSnapshots: HTTP inspection
//   - PruneSnapshots: retention, keeps the newest N per session
type SnapshotRepositoryImpl struct {
	db *gorm.DB
}

func NewSnapshotRepository(db *gorm.DB) *SnapshotRepositoryImpl {
	return &SnapshotRepositoryImpl{db: db}
}

// SaveSnapshot stores a snapshot
func (r *SnapshotRepositoryImpl) SaveSnapshot(ctx context.Context, snapshot *models.CodeSnapshot) error {
	if err := r.db.WithContext(ctx).Create(snapshot).Error; err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// ListSnapshots returns up to limit snapshots of a session, newest first.
// A non-positive limit returns all of them.
func (r *SnapshotRepositoryImpl) ListSnapshots(ctx context.Context, sessionID string, limit int) ([]*models.CodeSnapshot, error) {
	var snapshots []*models.CodeSnapshot

	q := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("saved_at DESC").
		Order("revision DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	if err := q.Find(&snapshots).Error; err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}

	return snapshots, nil
}

// LatestSnapshot returns the most recent snapshot, or nil if the session has none.
func (r *SnapshotRepositoryImpl) LatestSnapshot(ctx context.Context, sessionID string) (*models.CodeSnapshot, error) {
	var snapshot models.CodeSnapshot

	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("saved_at DESC").
		Order("revision DESC").
		First(&snapshot).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest snapshot: %w", err)
	}

	return &snapshot, nil
}

// PruneSnapshots deletes all but the newest keep snapshots of a session.
func (r *SnapshotRepositoryImpl) PruneSnapshots(ctx context.Context, sessionID string, keep int) error {
	if keep <= 0 {
		return nil
	}

	var stale []string
	if err := r.db.WithContext(ctx).
		Model(&models.CodeSnapshot{}).
		Where("session_id = ?", sessionID).
		Order("saved_at DESC").
		Order("revision DESC").
		Offset(keep).
		Limit(-1).
		Pluck("id", &stale).Error; err != nil {
		return fmt.Errorf("failed to find old snapshots: %w", err)
	}

	if len(stale) == 0 {
		return nil
	}

	if err := r.db.WithContext(ctx).
		Where("id IN ?", stale).
		Delete(&models.CodeSnapshot{}).Error; err != nil {
		return fmt.Errorf("failed to delete old snapshots: %w", err)
	}

	return nil
}

// CountSnapshots returns how many snapshots a session has.
func (r *SnapshotRepositoryImpl) CountSnapshots(ctx context.Context, sessionID string) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.CodeSnapshot{}).
		Where("session_id = ?", sessionID).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count snapshots: %w", err)
	}
	return count, nil
}
