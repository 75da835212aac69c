package presence

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingMirror struct {
	mu     sync.Mutex
	events []string
}

func (m *recordingMirror) Online(userID string)  { m.record("+" + userID) }
func (m *recordingMirror) Offline(userID string) { m.record("-" + userID) }

func (m *recordingMirror) record(e string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
}

func TestRegistry_AddRemoveSingleConnection(t *testing.T) {
	r := NewRegistry(nil)

	first, err := r.Add("c1", "U1")
	require.NoError(t, err)
	assert.True(t, first)
	assert.True(t, r.IsOnline("U1"))
	assert.Equal(t, []string{"U1"}, r.OnlineIdentities())

	userID, last, ok := r.Remove("c1")
	assert.True(t, ok)
	assert.True(t, last)
	assert.Equal(t, "U1", userID)
	assert.False(t, r.IsOnline("U1"))
	assert.Empty(t, r.OnlineIdentities())
}

func TestRegistry_MultipleConnectionsPerUser(t *testing.T) {
	r := NewRegistry(nil)

	first, err := r.Add("c1", "U1")
	require.NoError(t, err)
	assert.True(t, first)

	first, err = r.Add("c2", "U1")
	require.NoError(t, err)
	assert.False(t, first)
	assert.Equal(t, 2, r.ConnectionsFor("U1"))

	_, last, ok := r.Remove("c1")
	assert.True(t, ok)
	assert.False(t, last, "U1 still has c2")
	assert.True(t, r.IsOnline("U1"))

	_, last, ok = r.Remove("c2")
	assert.True(t, ok)
	assert.True(t, last)
	assert.False(t, r.IsOnline("U1"))
}

func TestRegistry_AddIsIdempotent(t *testing.T) {
	r := NewRegistry(nil)

	_, err := r.Add("c1", "U1")
	require.NoError(t, err)
	first, err := r.Add("c1", "U1")
	require.NoError(t, err)
	assert.False(t, first)
	assert.Equal(t, 1, r.ConnectionCount())
	assert.Equal(t, 1, r.ConnectionsFor("U1"))

	_, err = r.Add("c1", "U2")
	assert.ErrorIs(t, err, ErrConnectionReassigned)
	assert.False(t, r.IsOnline("U2"))
}

func TestRegistry_RejectsEmptyIDs(t *testing.T) {
	r := NewRegistry(nil)

	_, err := r.Add("", "U1")
	assert.ErrorIs(t, err, ErrEmptyConnectionID)
	_, err = r.Add("c1", "")
	assert.ErrorIs(t, err, ErrEmptyUserID)
	assert.Equal(t, 0, r.ConnectionCount())
}

func TestRegistry_RemoveUnknownIsNoop(t *testing.T) {
	r := NewRegistry(nil)
	_, err := r.Add("c1", "U1")
	require.NoError(t, err)

	userID, last, ok := r.Remove("nope")
	assert.False(t, ok)
	assert.False(t, last)
	assert.Empty(t, userID)

	// duplicate remove
	_, _, ok = r.Remove("c1")
	assert.True(t, ok)
	_, last, ok = r.Remove("c1")
	assert.False(t, ok)
	assert.False(t, last)
}

func TestRegistry_OnlineIdentitiesSortedAndDistinct(t *testing.T) {
	r := NewRegistry(nil)
	for i, u := range []string{"U3", "U1", "U2", "U1", "U3"} {
		_, err := r.Add(fmt.Sprintf("c%d", i), u)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"U1", "U2", "U3"}, r.OnlineIdentities())
	assert.Equal(t, map[string]int{"total_connections": 5, "online_users": 3}, r.Stats())
}

func TestRegistry_MirrorSeesTransitionsOnly(t *testing.T) {
	r := NewRegistry(nil)
	m := &recordingMirror{}
	r.SetMirror(m)

	_, _ = r.Add("c1", "U1")
	_, _ = r.Add("c2", "U1")
	_, _, _ = r.Remove("c1")
	_, _, _ = r.Remove("c2")
	_, _, _ = r.Remove("c2")

	assert.Equal(t, []string{"+U1", "-U1"}, m.events)
}

func TestRegistry_ConcurrentChurn(t *testing.T) {
	r := NewRegistry(nil)
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			connID := fmt.Sprintf("c%d", i)
			userID := fmt.Sprintf("U%d", i%5)
			_, err := r.Add(connID, userID)
			assert.NoError(t, err)
			_ = r.OnlineIdentities()
			r.Remove(connID)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, r.ConnectionCount())
	assert.Empty(t, r.OnlineIdentities())
}
