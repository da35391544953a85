package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"collabcode/internal/db"
	"collabcode/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
)

func newTestRepo(t *testing.T) *SnapshotRepositoryImpl {
	t.Helper()
	gdb, err := db.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())))
	require.NoError(t, err)
	t.Cleanup(func() { _ = gdb.Close() })
	return NewSnapshotRepository(gdb.DB)
}

func seed(t *testing.T, repo *SnapshotRepositoryImpl, sessionID string, n int) {
	t.Helper()
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	for i := 1; i <= n; i++ {
		require.NoError(t, repo.SaveSnapshot(context.Background(), &models.CodeSnapshot{
			SessionID: sessionID,
			Content:   fmt.Sprintf("rev %d", i),
			Revision:  uint64(i),
			SavedAt:   base.Add(time.Duration(i) * time.Second),
		}))
	}
}

func TestSaveSnapshotAssignsID(t *testing.T) {
	repo := newTestRepo(t)

	snap := &models.CodeSnapshot{SessionID: "s1", Content: "let x = 1", Revision: 3}
	require.NoError(t, repo.SaveSnapshot(context.Background(), snap))

	assert.Len(t, snap.ID, 27)
	assert.False(t, snap.SavedAt.IsZero())
}

func TestListSnapshotsNewestFirst(t *testing.T) {
	repo := newTestRepo(t)
	seed(t, repo, "s1", 5)
	seed(t, repo, "s2", 1)

	snaps, err := repo.ListSnapshots(context.Background(), "s1", 3)
	require.NoError(t, err)
	require.Len(t, snaps, 3)
	assert.Equal(t, []uint64{5, 4, 3}, []uint64{snaps[0].Revision, snaps[1].Revision, snaps[2].Revision})

	all, err := repo.ListSnapshots(context.Background(), "s1", 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestLatestSnapshot(t *testing.T) {
	repo := newTestRepo(t)

	none, err := repo.LatestSnapshot(context.Background(), "s1")
	require.NoError(t, err)
	assert.Nil(t, none)

	seed(t, repo, "s1", 3)
	latest, err := repo.LatestSnapshot(context.Background(), "s1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "rev 3", latest.Content)
}

func TestPruneSnapshotsKeepsNewest(t *testing.T) {
	repo := newTestRepo(t)
	seed(t, repo, "s1", 6)
	seed(t, repo, "s2", 2)

	require.NoError(t, repo.PruneSnapshots(context.Background(), "s1", 2))

	snaps, err := repo.ListSnapshots(context.Background(), "s1", 0)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, uint64(6), snaps[0].Revision)
	assert.Equal(t, uint64(5), snaps[1].Revision)

	count, err := repo.CountSnapshots(context.Background(), "s2")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count, "other sessions are untouched")
}
