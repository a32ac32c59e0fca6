package history

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/richinsley/comfypanel/store"
)

// MaxEntries is how many recent images are kept
const MaxEntries = 15

// RecentImage is one generated image as shown in the recent-images strip
type RecentImage struct {
	ID         string    `json:"id"`
	URL        string    `json:"url"`
	CreatedAt  time.Time `json:"createdAt"`
	PromptText string    `json:"prompt"`
}

// Persister is the storage History writes through to. *store.Store implements it.
type Persister interface {
	GetJSON(key string, v interface{}) error
	PutJSON(key string, v interface{}) error
	Delete(key string) error
}

// History is the capped, most-recent-batch-first list of generated images
type History struct {
	mu      sync.RWMutex
	entries []RecentImage
	store   Persister
	key     string
	log     *slog.Logger
}

// New returns an empty history that persists to store under key. store may be nil.
func New(p Persister, key string, log *slog.Logger) *History {
	if log == nil {
		log = slog.Default()
	}
	return &History{
		entries: make([]RecentImage, 0),
		store:   p,
		key:     key,
		log:     log,
	}
}

// Load replaces the in-memory list with the persisted one. A missing key is an empty history.
func (h *History) Load() error {
	if h.store == nil {
		return nil
	}

	loaded := make([]RecentImage, 0)
	if err := h.store.GetJSON(h.key, &loaded); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	if len(loaded) > MaxEntries {
		loaded = loaded[:MaxEntries]
	}

	h.mu.Lock()
	h.entries = loaded
	h.mu.Unlock()
	return nil
}

// PrependBatch puts batch, in its original order, in front of the existing entries and
// drops everything past MaxEntries. The result is persisted.
func (h *History) PrependBatch(batch []RecentImage) error {
	if len(batch) == 0 {
		return nil
	}

	h.mu.Lock()
	merged := make([]RecentImage, 0, len(batch)+len(h.entries))
	merged = append(merged, batch...)
	merged = append(merged, h.entries...)
	if len(merged) > MaxEntries {
		merged = merged[:MaxEntries]
	}
	h.entries = merged
	snapshot := h.copyLocked()
	h.mu.Unlock()

	return h.persist(snapshot)
}

// Clear empties the history and removes it from storage
func (h *History) Clear() error {
	h.mu.Lock()
	h.entries = make([]RecentImage, 0)
	h.mu.Unlock()

	if h.store == nil {
		return nil
	}
	return h.store.Delete(h.key)
}

// Entries returns a copy of the current list
func (h *History) Entries() []RecentImage {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.copyLocked()
}

// Find returns the entry with the given id
func (h *History) Find(id string) (RecentImage, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, e := range h.entries {
		if e.ID == id {
			return e, true
		}
	}
	return RecentImage{}, false
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}

func (h *History) copyLocked() []RecentImage {
	retv := make([]RecentImage, len(h.entries))
	copy(retv, h.entries)
	return retv
}

func (h *History) persist(entries []RecentImage) error {
	if h.store == nil {
		return nil
	}
	if err := h.store.PutJSON(h.key, entries); err != nil {
		h.log.Error("persisting history", "error", err)
		return fmt.Errorf("saving history: %w", err)
	}
	return nil
}
