package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"git.mills.io/prologic/bitcask"
	"github.com/robfig/cron/v3"
)

// ErrNotFound is returned for keys that were never written or have been deleted
var ErrNotFound = errors.New("key not found")

// Keys of the preferences the panel persists
const (
	KeyBackendURL = "backend_url"
	KeyTheme      = "theme"
	KeyLanguage   = "language"
	KeyHistory    = "history"
)

const maxValueSize = 10 * 1024 * 1024

// Store is a bitcask database holding the panel's preferences and recent images.
// Keys are hashed and values gzip compressed before they reach the disk.
type Store struct {
	data *bitcask.Bitcask
	cron *cron.Cron
	mu   sync.Mutex
	log  *slog.Logger
}

// Open opens or creates the database in dir
func Open(dir string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	// Increase the maximum value size to 10MB (from the default 65KB)
	data, err := bitcask.Open(dir, bitcask.WithMaxValueSize(maxValueSize))
	if err != nil {
		return nil, fmt.Errorf("opening store %s: %w", dir, err)
	}
	return &Store{data: data, log: log}, nil
}

// ScheduleMerge reclaims space on the given cron schedule, "@daily" in production
func (s *Store) ScheduleMerge(spec string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return errors.New("merge already scheduled")
	}

	c := cron.New(cron.WithChain(
		cron.Recover(cron.DefaultLogger),
		cron.SkipIfStillRunning(cron.DefaultLogger),
	))
	if _, err := c.AddFunc(spec, func() { _ = s.Merge() }); err != nil {
		return fmt.Errorf("scheduling merge: %w", err)
	}
	c.Start()
	s.cron = c
	return nil
}

func (s *Store) Merge() error {
	s.log.Info("Merging database to reclaim space...")
	err := s.data.Merge()
	if err != nil {
		s.log.Error("Error merging database", "error", err)
		return err
	}
	s.log.Info("Database merge complete.")
	return nil
}

func (s *Store) PutBytes(key string, value []byte) error {
	compressedValue, err := compress(value)
	if err != nil {
		return err
	}
	return s.data.Put(CacheKey(key), compressedValue)
}

func (s *Store) Get(key string) ([]byte, error) {
	compressedValue, err := s.data.Get(CacheKey(key))
	if errors.Is(err, bitcask.ErrKeyNotFound) {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return decompress(compressedValue)
}

func (s *Store) PutString(key string, value string) error {
	return s.PutBytes(key, []byte(value))
}

func (s *Store) GetString(key string) (string, error) {
	b, err := s.Get(key)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// GetStringOr returns the stored value, or def when the key is missing or unreadable
func (s *Store) GetStringOr(key string, def string) string {
	v, err := s.GetString(key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.log.Warn("reading preference", "key", key, "error", err)
		}
		return def
	}
	return v
}

func (s *Store) PutJSON(key string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.PutBytes(key, b)
}

func (s *Store) GetJSON(key string, v interface{}) error {
	b, err := s.Get(key)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

func (s *Store) Has(key string) bool {
	return s.data.Has(CacheKey(key))
}

// Delete removes key; deleting a missing key is not an error
func (s *Store) Delete(key string) error {
	return s.data.Delete(CacheKey(key))
}

// Close stops the merge schedule and closes the database
func (s *Store) Close() error {
	s.mu.Lock()
	if s.cron != nil {
		<-s.cron.Stop().Done()
		s.cron = nil
	}
	s.mu.Unlock()
	return s.data.Close()
}
