// Package session tracks per-user conversational state for the command
// surface: which step of a flow the user is in and the partial data
// collected so far. Sessions expire after an idle TTL; expiry is enforced
// on read, with a background sweeper reclaiming entries nobody reads.
package session

import (
	"io"
	"log"
	"sync"
	"time"
)

// State names one step of a conversational flow. The concrete states are
// defined by whoever registers handlers; the store treats them opaquely.
type State string

// Config holds the store's tunables.
type Config struct {
	// TTL is how long a session survives without a write.
	TTL time.Duration
	// SweepInterval is how often the janitor reclaims expired entries.
	SweepInterval time.Duration
}

// DefaultConfig expires idle sessions after ten minutes and sweeps every
// five.
var DefaultConfig = Config{
	TTL:           10 * time.Minute,
	SweepInterval: 5 * time.Minute,
}

type entry struct {
	state   State
	data    map[string]any
	touched time.Time
}

// Store is an in-memory session table keyed by user ID. Safe for
// concurrent use.
type Store struct {
	mu      sync.Mutex
	entries map[int64]*entry
	config  Config
	logger  *log.Logger
	now     func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// NewStore creates a session store and starts its sweeper. A nil logger
// discards output. Call Stop to terminate the sweeper.
func NewStore(logger *log.Logger, config ...Config) *Store {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultConfig.TTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultConfig.SweepInterval
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	s := &Store{
		entries: make(map[int64]*entry),
		config:  cfg,
		logger:  logger,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go s.janitor()
	return s
}

// Set replaces the user's session with a fresh state and data snapshot.
func (s *Store) Set(userID int64, state State, data map[string]any) {
	copied := make(map[string]any, len(data))
	for k, v := range data {
		copied[k] = v
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[userID] = &entry{
		state:   state,
		data:    copied,
		touched: s.now(),
	}
}

// State returns the user's current state. An expired session is deleted
// here rather than waiting for the sweeper, so callers never see stale
// flows.
func (s *Store) State(userID int64) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.liveEntry(userID)
	if !ok {
		return "", false
	}
	return e.state, true
}

// Data returns a copy of the session's collected fields.
func (s *Store) Data(userID int64) (map[string]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.liveEntry(userID)
	if !ok {
		return nil, false
	}
	copied := make(map[string]any, len(e.data))
	for k, v := range e.data {
		copied[k] = v
	}
	return copied, true
}

// UpdateData merges fields into the session's data and refreshes its idle
// deadline. Returns false when no live session exists.
func (s *Store) UpdateData(userID int64, fields map[string]any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.liveEntry(userID)
	if !ok {
		return false
	}
	for k, v := range fields {
		e.data[k] = v
	}
	e.touched = s.now()
	return true
}

// Clear drops the user's session.
func (s *Store) Clear(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, userID)
}

// Active returns the number of live sessions.
func (s *Store) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	cutoff := s.now().Add(-s.config.TTL)
	for _, e := range s.entries {
		if e.touched.After(cutoff) {
			count++
		}
	}
	return count
}

// Stop terminates the sweeper. Idempotent.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// liveEntry returns the entry for userID, deleting it when expired.
// Callers hold the lock.
func (s *Store) liveEntry(userID int64) (*entry, bool) {
	e, ok := s.entries[userID]
	if !ok {
		return nil, false
	}
	if s.now().Sub(e.touched) >= s.config.TTL {
		delete(s.entries, userID)
		return nil, false
	}
	return e, true
}

func (s *Store) janitor() {
	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// sweep reclaims expired sessions nobody has read since they lapsed.
func (s *Store) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	cutoff := s.now().Add(-s.config.TTL)
	for id, e := range s.entries {
		if !e.touched.After(cutoff) {
			delete(s.entries, id)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Printf("Session sweep removed %d expired sessions", removed)
	}
}
