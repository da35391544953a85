package registry

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"collabcode/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func participant(user, conn string) models.Participant {
	return models.Participant{UserID: user, ConnectionID: conn}
}

func TestAddParticipantCreatesRoom(t *testing.T) {
	reg := New()
	defer reg.Close()

	st := reg.AddParticipant("s1", participant("u1", "c1"), nil)
	require.Len(t, st.Participants, 1)
	assert.Equal(t, "u1", st.Participants[0].UserID)
	assert.False(t, st.Participants[0].JoinedAt.IsZero())
	assert.False(t, st.CreatedAt.IsZero())

	_, ok := reg.Room("s1")
	assert.True(t, ok)
}

func TestAddParticipantIsIdempotent(t *testing.T) {
	reg := New()
	defer reg.Close()

	first := reg.AddParticipant("s1", participant("u1", "c1"), nil)
	second := reg.AddParticipant("s1", participant("u1", "c1"), nil)

	require.Len(t, second.Participants, 1)
	assert.Equal(t, first.Participants, second.Participants)
}

func TestRejoinWithSameConnectionReplaces(t *testing.T) {
	reg := New()
	defer reg.Close()

	reg.AddParticipant("s1", participant("u1", "c1"), nil)
	st := reg.AddParticipant("s1", participant("u2", "c1"), nil)

	require.Len(t, st.Participants, 1)
	assert.Equal(t, "u2", st.Participants[0].UserID)
}

func TestSameUserTwoConnections(t *testing.T) {
	reg := New()
	defer reg.Close()

	reg.AddParticipant("s1", participant("u1", "c1"), nil)
	st := reg.AddParticipant("s1", participant("u1", "c2"), nil)
	assert.Len(t, st.Participants, 2)
}

func TestRemoveParticipantAbsentIsNoop(t *testing.T) {
	reg := New()
	defer reg.Close()

	called := false
	_, ok := reg.RemoveParticipant("missing", "c1", func(models.Participant, models.RoomState) { called = true })
	assert.False(t, ok)

	reg.AddParticipant("s1", participant("u1", "c1"), nil)
	_, ok = reg.RemoveParticipant("s1", "c9", func(models.Participant, models.RoomState) { called = true })
	assert.False(t, ok)
	assert.False(t, called)
}

func TestJoinLeaveCounts(t *testing.T) {
	reg := New()
	defer reg.Close()

	const joins = 10
	for i := 0; i < joins; i++ {
		reg.AddParticipant("s1", participant(fmt.Sprintf("u%d", i), fmt.Sprintf("c%d", i)), nil)
	}

	var lastCount int
	for i := 0; i < 4; i++ {
		_, ok := reg.RemoveParticipant("s1", fmt.Sprintf("c%d", i), func(_ models.Participant, st models.RoomState) {
			lastCount = len(st.Participants)
		})
		require.True(t, ok)
	}

	assert.Equal(t, joins-4, lastCount)
	assert.Len(t, reg.ListParticipants("s1"), joins-4)
}

func TestConcurrentJoinsAndLeaves(t *testing.T) {
	reg := New()
	defer reg.Close()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn := fmt.Sprintf("c%d", i)
			reg.AddParticipant("s1", participant("u", conn), nil)
			if i%2 == 0 {
				reg.RemoveParticipant("s1", conn, nil)
			}
		}(i)
	}
	wg.Wait()

	assert.Len(t, reg.ListParticipants("s1"), 50)
}

func TestRemoveConnectionEverywhere(t *testing.T) {
	reg := New()
	defer reg.Close()

	reg.AddParticipant("s1", participant("u1", "c1"), nil)
	reg.AddParticipant("s2", participant("u1", "c1"), nil)
	reg.AddParticipant("s2", participant("u2", "c2"), nil)
	reg.AddParticipant("s3", participant("u3", "c3"), nil)

	var hooks []string
	sessions := reg.RemoveConnectionEverywhere("c1", func(left models.Participant, st models.RoomState) {
		hooks = append(hooks, st.SessionID)
		assert.Equal(t, "u1", left.UserID)
	})

	assert.ElementsMatch(t, []string{"s1", "s2"}, sessions)
	assert.ElementsMatch(t, []string{"s1", "s2"}, hooks)
	assert.Empty(t, reg.ListParticipants("s1"))
	assert.Len(t, reg.ListParticipants("s2"), 1)
	assert.Len(t, reg.ListParticipants("s3"), 1)
}

func TestDocumentContent(t *testing.T) {
	reg := New()
	defer reg.Close()

	_, ok := reg.SetDocumentContent("s1", "ignored", nil)
	assert.False(t, ok, "content is only cached for rooms that exist")
	assert.Equal(t, "", reg.GetDocumentContent("s1"))

	reg.AddParticipant("s1", participant("u1", "c1"), nil)
	st, ok := reg.SetDocumentContent("s1", "first", nil)
	require.True(t, ok)
	assert.Equal(t, uint64(1), st.Revision)

	reg.SetDocumentContent("s1", "second", nil)
	assert.Equal(t, "second", reg.GetDocumentContent("s1"))
}

func TestLastWriteWins(t *testing.T) {
	reg := New()
	defer reg.Close()

	reg.AddParticipant("s1", participant("u1", "c1"), nil)
	reg.AddParticipant("s1", participant("u2", "c2"), nil)

	reg.SetDocumentContent("s1", "from c1", nil)
	reg.SetDocumentContent("s1", "from c2", nil)

	assert.Equal(t, "from c2", reg.GetDocumentContent("s1"))
}

func TestEmptyRoomSurvivesGracePeriod(t *testing.T) {
	expired := make(chan models.RoomState, 1)
	reg := New(
		WithGracePeriod(200*time.Millisecond),
		WithExpiryHandler(func(st models.RoomState) { expired <- st }),
	)
	defer reg.Close()

	reg.AddParticipant("s1", participant("u1", "c1"), nil)
	reg.SetDocumentContent("s1", "keep me", nil)
	reg.RemoveParticipant("s1", "c1", nil)

	time.Sleep(50 * time.Millisecond)
	_, ok := reg.Room("s1")
	assert.True(t, ok, "room must not be deleted before the grace period")

	select {
	case st := <-expired:
		assert.Equal(t, "s1", st.SessionID)
		assert.Equal(t, "keep me", st.Content)
	case <-time.After(2 * time.Second):
		t.Fatal("room was never cleaned up")
	}

	_, ok = reg.Room("s1")
	assert.False(t, ok)
}

func TestRejoinDuringGraceKeepsContent(t *testing.T) {
	reg := New(WithGracePeriod(100 * time.Millisecond))
	defer reg.Close()

	reg.AddParticipant("s1", participant("u1", "c1"), nil)
	reg.SetDocumentContent("s1", "const x = 1", nil)
	reg.RemoveParticipant("s1", "c1", nil)

	time.Sleep(30 * time.Millisecond)
	st := reg.AddParticipant("s1", participant("u1", "c2"), nil)
	assert.Equal(t, "const x = 1", st.Content)

	time.Sleep(200 * time.Millisecond)
	st, ok := reg.Room("s1")
	require.True(t, ok, "rejoin must cancel the pending deletion")
	assert.Equal(t, "const x = 1", st.Content)
}

func TestHookOrderMatchesMutationOrder(t *testing.T) {
	reg := New()
	defer reg.Close()
	reg.AddParticipant("s1", participant("u1", "c1"), nil)

	var (
		mu    sync.Mutex
		order []uint64
		wg    sync.WaitGroup
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reg.SetDocumentContent("s1", fmt.Sprint(i), func(st models.RoomState) {
				mu.Lock()
				order = append(order, st.Revision)
				mu.Unlock()
			})
		}(i)
	}
	wg.Wait()

	require.Len(t, order, 50)
	for i, rev := range order {
		assert.Equal(t, uint64(i+1), rev)
	}
}

func TestStats(t *testing.T) {
	reg := New()
	defer reg.Close()

	reg.AddParticipant("s1", participant("u1", "c1"), nil)
	reg.AddParticipant("s1", participant("u2", "c2"), nil)
	reg.AddParticipant("s2", participant("u3", "c3"), nil)
	reg.RemoveParticipant("s2", "c3", nil)

	stats := reg.Stats()
	assert.Equal(t, 2, stats.TotalSessions)
	assert.Equal(t, 2, stats.TotalParticipants)
	assert.Equal(t, []string{"s1"}, stats.ActiveSessions)
}
