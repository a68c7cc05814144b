package docsource

import (
	"log/slog"
	"sync"
)

// Source owns at most one live reference on behalf of a single viewer.
type Source struct {
	mu       sync.Mutex
	registry *Registry
	log      *slog.Logger

	current  Reference
	doc      Document
	acquired int
	released int
	closed   bool
}

func NewSource(registry *Registry, log *slog.Logger) *Source {
	if log == nil {
		log = slog.Default()
	}
	return &Source{registry: registry, log: log}
}

// Activate releases the previous reference, if any, and then creates a
// reference for doc.
func (s *Source) Activate(doc Document) (Reference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.releaseLocked()
	if s.closed {
		return "", ErrNoDocument
	}

	ref, err := s.registry.Create(doc)
	if err != nil {
		return "", err
	}
	s.current = ref
	s.doc = doc
	s.acquired++
	return ref, nil
}

// Current returns the live reference, or "" when none is held.
func (s *Source) Current() Reference {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Document returns the active document handle.
func (s *Source) Document() (Document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc, s.current != ""
}

// Release drops the live reference. It is a no-op when none is held.
func (s *Source) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseLocked()
}

// Close releases the live reference and refuses further activations.
func (s *Source) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseLocked()
	s.closed = true
}

func (s *Source) releaseLocked() {
	if s.current == "" {
		return
	}
	// A failed revoke is a leak in the registry, never a user-visible error.
	if err := s.registry.Revoke(s.current); err != nil {
		s.log.Warn("revoke document reference", "ref", s.current.String(), "err", err)
	}
	s.current = ""
	s.doc = Document{}
	s.released++
}

func (s *Source) Acquired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acquired
}

func (s *Source) Released() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}
