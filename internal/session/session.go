// Package session keeps the viewers mounted by HTTP hosts, keyed by an
// opaque id, and tears down the ones that go idle.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/toricodesthings/pdf-annotation-viewer/internal/viewer"
)

var (
	ErrNotFound = errors.New("viewer not found")
	ErrCapacity = errors.New("too many open viewers")
)

// Factory builds a viewer. onPageChange must be wired into the viewer's
// options so the store can mirror the page for its host.
type Factory func(id string, onPageChange func(page int)) *viewer.Viewer

type entry struct {
	v        *viewer.Viewer
	lastSeen atomic.Int64 // unix nanos
	hostPage atomic.Int64
}

type Store struct {
	mu      sync.Mutex
	viewers map[string]*entry

	factory Factory
	ttl     time.Duration
	max     int
	log     *slog.Logger
	now     func() time.Time
}

func NewStore(factory Factory, ttl time.Duration, maxViewers int, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		viewers: make(map[string]*entry),
		factory: factory,
		ttl:     ttl,
		max:     maxViewers,
		log:     log,
		now:     time.Now,
	}
}

func newID() string {
	b := make([]byte, 12)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// Create mounts a new viewer.
func (s *Store) Create() (*viewer.Viewer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.max > 0 && len(s.viewers) >= s.max {
		return nil, ErrCapacity
	}

	id := newID()
	e := &entry{}
	e.hostPage.Store(1)
	e.lastSeen.Store(s.now().UnixNano())
	e.v = s.factory(id, func(page int) {
		e.hostPage.Store(int64(page))
		s.log.Debug("page changed", "viewer", id, "page", page)
	})
	s.viewers[id] = e
	return e.v, nil
}

// Get returns the viewer and marks it as recently used.
func (s *Store) Get(id string) (*viewer.Viewer, error) {
	s.mu.Lock()
	e, ok := s.viewers[id]
	s.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	e.lastSeen.Store(s.now().UnixNano())
	return e.v, nil
}

// HostPage is the page last announced through OnPageChange: the host's
// mirror of the viewer's page.
func (s *Store) HostPage(id string) (int, error) {
	s.mu.Lock()
	e, ok := s.viewers[id]
	s.mu.Unlock()
	if !ok {
		return 0, ErrNotFound
	}
	return int(e.hostPage.Load()), nil
}

// Delete tears the viewer down.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	e, ok := s.viewers[id]
	delete(s.viewers, id)
	s.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	e.v.Close()
	return nil
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.viewers)
}

// Sweep closes viewers idle for longer than the TTL and returns how many.
func (s *Store) Sweep() int {
	if s.ttl <= 0 {
		return 0
	}
	cutoff := s.now().Add(-s.ttl).UnixNano()

	var expired []*entry
	s.mu.Lock()
	for id, e := range s.viewers {
		if e.lastSeen.Load() < cutoff {
			expired = append(expired, e)
			delete(s.viewers, id)
		}
	}
	s.mu.Unlock()

	for _, e := range expired {
		e.v.Close()
	}
	return len(expired)
}

// Run sweeps on every tick until ctx is done.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				s.log.Info("expired idle viewers", "count", n, "open", s.Len())
			}
		}
	}
}

// Close tears down every viewer.
func (s *Store) Close() {
	s.mu.Lock()
	all := s.viewers
	s.viewers = make(map[string]*entry)
	s.mu.Unlock()
	for _, e := range all {
		e.v.Close()
	}
}
