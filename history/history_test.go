package history

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/richinsley/comfypanel/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func batch(prefix string, n int) []RecentImage {
	retv := make([]RecentImage, n)
	for i := 0; i < n; i++ {
		retv[i] = RecentImage{
			ID:        fmt.Sprintf("%s_%d", prefix, i),
			URL:       fmt.Sprintf("http://127.0.0.1:8188/view?filename=%s_%d.png", prefix, i),
			CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		}
	}
	return retv
}

func ids(entries []RecentImage) []string {
	retv := make([]string, len(entries))
	for i, e := range entries {
		retv[i] = e.ID
	}
	return retv
}

func TestPrependBatchKeepsBatchOrder(t *testing.T) {
	h := New(nil, store.KeyHistory, nil)

	require.NoError(t, h.PrependBatch(batch("a", 2)))
	require.NoError(t, h.PrependBatch(batch("b", 3)))

	assert.Equal(t, []string{"b_0", "b_1", "b_2", "a_0", "a_1"}, ids(h.Entries()))
}

func TestHistoryIsCapped(t *testing.T) {
	h := New(nil, store.KeyHistory, nil)

	for i := 0; i < 10; i++ {
		require.NoError(t, h.PrependBatch(batch(fmt.Sprintf("p%d", i), 4)))
		assert.LessOrEqual(t, h.Len(), MaxEntries)
	}

	entries := h.Entries()
	require.Len(t, entries, MaxEntries)
	assert.Equal(t, "p9_0", entries[0].ID)
	assert.Equal(t, "p9_3", entries[3].ID)
	assert.Equal(t, "p6_2", entries[14].ID)
}

func TestOversizedBatchIsTruncated(t *testing.T) {
	h := New(nil, store.KeyHistory, nil)
	require.NoError(t, h.PrependBatch(batch("big", 20)))
	entries := h.Entries()
	require.Len(t, entries, MaxEntries)
	assert.Equal(t, "big_0", entries[0].ID)
	assert.Equal(t, "big_14", entries[14].ID)
}

func TestEntriesIsACopy(t *testing.T) {
	h := New(nil, store.KeyHistory, nil)
	require.NoError(t, h.PrependBatch(batch("a", 1)))

	entries := h.Entries()
	entries[0].ID = "changed"

	_, ok := h.Find("a_0")
	assert.True(t, ok)
}

func TestPersistence(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	s, err := store.Open(dir, nil)
	require.NoError(t, err)
	defer s.Close()

	h := New(s, store.KeyHistory, nil)
	require.NoError(t, h.Load())
	assert.Equal(t, 0, h.Len())

	require.NoError(t, h.PrependBatch(batch("a", 3)))

	reloaded := New(s, store.KeyHistory, nil)
	require.NoError(t, reloaded.Load())
	assert.Equal(t, []string{"a_0", "a_1", "a_2"}, ids(reloaded.Entries()))

	require.NoError(t, h.Clear())
	assert.Equal(t, 0, h.Len())
	assert.False(t, s.Has(store.KeyHistory))
}

type failingPersister struct{}

func (failingPersister) GetJSON(string, interface{}) error { return errors.New("disk on fire") }
func (failingPersister) PutJSON(string, interface{}) error { return errors.New("disk on fire") }
func (failingPersister) Delete(string) error               { return nil }

func TestPersistFailureKeepsMemoryState(t *testing.T) {
	h := New(failingPersister{}, store.KeyHistory, nil)

	assert.Error(t, h.Load())
	err := h.PrependBatch(batch("a", 1))
	assert.ErrorContains(t, err, "disk on fire")
	assert.Equal(t, 1, h.Len())
}
