package services

import (
	"context"
	"sync"
	"time"

	"collabcode/internal/models"

	"github.com/sirupsen/logrus"
)

const snapshotWriteTimeout = 10 * time.Second

// SnapshotService copies room documents to storage in the background. It
// reads the registry on a ticker and is told about expired rooms, so the
// join/leave/edit path never touches the database.
type SnapshotService struct {
	repo     SnapshotRepository
	rooms    RoomSource
	interval time.Duration
	keep     int

	mu    sync.Mutex
	saved map[string]uint64 // session -> last persisted revision

	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
	closed bool

	log *logrus.Entry
}

func NewSnapshotService(repo SnapshotRepository, rooms RoomSource, interval time.Duration, keep int) *SnapshotService {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &SnapshotService{
		repo:     repo,
		rooms:    rooms,
		interval: interval,
		keep:     keep,
		saved:    make(map[string]uint64),
		done:     make(chan struct{}),
		log:      logrus.WithField("component", "snapshots"),
	}
}

// Start runs the periodic persister.
func (s *SnapshotService) Start() {
	s.log.Infof("💾 Starting snapshot persister (every %s, keeping %d per session)", s.interval, s.keep)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.done:
				return
			case <-ticker.C:
				s.Flush(context.Background())
			}
		}
	}()
}

// Flush persists every room whose revision moved since its last snapshot and
// returns how many were written.
func (s *SnapshotService) Flush(ctx context.Context) int {
	written := 0
	for _, st := range s.rooms.Rooms() {
		if s.save(ctx, st) {
			written++
		}
	}
	return written
}

// OnRoomExpired is the registry expiry handler. It writes the room's final
// content asynchronously since it is called from a timer goroutine.
func (s *SnapshotService) OnRoomExpired(st models.RoomState) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		s.save(context.Background(), st)

		s.mu.Lock()
		delete(s.saved, st.SessionID)
		s.mu.Unlock()
	}()
}

func (s *SnapshotService) save(ctx context.Context, st models.RoomState) bool {
	if st.Revision == 0 {
		return false
	}

	s.mu.Lock()
	if s.saved[st.SessionID] == st.Revision {
		s.mu.Unlock()
		return false
	}
	s.saved[st.SessionID] = st.Revision
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, snapshotWriteTimeout)
	defer cancel()

	log := s.log.WithFields(logrus.Fields{"session_id": st.SessionID, "revision": st.Revision})

	err := s.repo.SaveSnapshot(ctx, &models.CodeSnapshot{
		SessionID:    st.SessionID,
		Content:      st.Content,
		Revision:     st.Revision,
		Participants: len(st.Participants),
	})
	if err != nil {
		log.WithError(err).Error("Failed to save snapshot")

		// retry on the next tick
		s.mu.Lock()
		if s.saved[st.SessionID] == st.Revision {
			delete(s.saved, st.SessionID)
		}
		s.mu.Unlock()
		return false
	}

	if err := s.repo.PruneSnapshots(ctx, st.SessionID, s.keep); err != nil {
		log.WithError(err).Warn("Failed to prune snapshots")
	}

	log.Debug("Snapshot saved")
	return true
}

// Shutdown stops the ticker, writes a last round and waits for pending writes.
func (s *SnapshotService) Shutdown() {
	s.once.Do(func() {
		s.log.Info("🛑 Shutting down snapshot persister...")

		close(s.done)
		s.Flush(context.Background())

		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		s.wg.Wait()
		s.log.Info("✓ Snapshot persister stopped")
	})
}
