package collaboration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func binaryFrames(c *Client) [][]byte {
	var out [][]byte
	for {
		select {
		case f, ok := <-c.send:
			if !ok {
				return out
			}
			out = append(out, f.data)
		default:
			return out
		}
	}
}

func TestValidateFrame(t *testing.T) {
	tests := []struct {
		name  string
		data  []byte
		valid bool
	}{
		{"empty", nil, false},
		{"sync step 1", []byte{0, 0, 1}, true},
		{"sync update", []byte{0, 2, 5, 6}, true},
		{"sync too short", []byte{0}, false},
		{"bad sync type", []byte{0, 3, 1}, false},
		{"awareness", []byte{1, 9}, true},
		{"awareness too short", []byte{1}, false},
		{"unknown type", []byte{7, 0}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateFrame(tt.data)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidFrame)
			}
		})
	}
}

func TestRelayForwardsToOthersOnly(t *testing.T) {
	relay := NewRelay(time.Minute)
	defer relay.Close()

	a := NewClient(nil, "a", "")
	b := NewClient(nil, "b", "")
	relay.Join("doc", a)
	relay.Join("doc", b)

	require.NoError(t, relay.Receive("doc", a, []byte{0, 2, 1}))
	require.NoError(t, relay.Receive("doc", a, []byte{1, 4}))

	assert.Empty(t, binaryFrames(a))
	assert.Equal(t, [][]byte{{0, 2, 1}, {1, 4}}, binaryFrames(b))
}

func TestRelayDropsInvalidFrames(t *testing.T) {
	relay := NewRelay(time.Minute)
	defer relay.Close()

	a := NewClient(nil, "a", "")
	b := NewClient(nil, "b", "")
	relay.Join("doc", a)
	relay.Join("doc", b)

	assert.Error(t, relay.Receive("doc", a, []byte{9, 9}))
	assert.Empty(t, binaryFrames(b))
}

func TestRelayReplaysSyncToLateJoiner(t *testing.T) {
	relay := NewRelay(time.Minute)
	defer relay.Close()

	a := NewClient(nil, "a", "")
	relay.Join("doc", a)
	require.NoError(t, relay.Receive("doc", a, []byte{0, 2, 1}))
	require.NoError(t, relay.Receive("doc", a, []byte{1, 1}))
	require.NoError(t, relay.Receive("doc", a, []byte{0, 2, 2}))

	late := NewClient(nil, "late", "")
	relay.Join("doc", late)
	assert.Equal(t, [][]byte{{0, 2, 1}, {0, 2, 2}}, binaryFrames(late), "awareness frames are not replayed")
}

func TestRelayKeepsBoundedLog(t *testing.T) {
	relay := NewRelay(time.Minute)
	defer relay.Close()

	a := NewClient(nil, "a", "")
	relay.Join("doc", a)
	for i := 0; i < maxStoredUpdates+50; i++ {
		require.NoError(t, relay.Receive("doc", a, []byte{0, 2, byte(i)}))
	}

	doc := relay.lockDoc("doc", false)
	require.NotNil(t, doc)
	stored := len(doc.updates)
	first := doc.updates[0][2]
	doc.mu.Unlock()

	assert.Equal(t, maxStoredUpdates, stored)
	assert.Equal(t, byte(50), first)
}

func TestRelayDropsIdleDocumentAfterGrace(t *testing.T) {
	relay := NewRelay(50 * time.Millisecond)
	defer relay.Close()

	a := NewClient(nil, "a", "")
	relay.Join("doc", a)
	require.NoError(t, relay.Receive("doc", a, []byte{0, 2, 1}))
	relay.Leave("doc", a)

	assert.Equal(t, 1, relay.Documents())
	require.Eventually(t, func() bool { return relay.Documents() == 0 }, time.Second, 10*time.Millisecond)
}

func TestRelayRejoinCancelsDrop(t *testing.T) {
	relay := NewRelay(50 * time.Millisecond)
	defer relay.Close()

	a := NewClient(nil, "a", "")
	relay.Join("doc", a)
	require.NoError(t, relay.Receive("doc", a, []byte{0, 2, 1}))
	relay.Leave("doc", a)

	b := NewClient(nil, "b", "")
	relay.Join("doc", b)
	time.Sleep(150 * time.Millisecond)

	assert.Equal(t, 1, relay.Documents())
	assert.Equal(t, [][]byte{{0, 2, 1}}, binaryFrames(b))
}
