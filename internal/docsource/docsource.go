// Package docsource hands out transient, revocable references to document
// bytes, the way a browser hands out object URLs for a blob.
//
// A Registry is the process-wide table of live references. A Source belongs
// to one viewer and guarantees that viewer never holds more than one live
// reference: the previous one is revoked before the next is created.
package docsource

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/zeebo/xxh3"
)

var (
	ErrReleased      = errors.New("reference already released")
	ErrEmptyDocument = errors.New("document has no content")
	ErrNoDocument    = errors.New("no active document")
)

// Document is the caller-owned binary handle. The viewer only ever reads it
// through a Reference.
type Document struct {
	Name        string
	ContentType string
	Data        []byte
}

// Fingerprint is a 16 hex character xxh3 hash of the document bytes.
func (d Document) Fingerprint() string {
	return fmt.Sprintf("%016x", xxh3.Hash(d.Data))
}

// Reference is a revocable handle of the form blob:<fingerprint>/<seq>.
type Reference string

func (r Reference) String() string { return string(r) }

// Registry is safe for concurrent use.
type Registry struct {
	mu   sync.Mutex
	seq  uint64
	live map[Reference]Document
}

func NewRegistry() *Registry {
	return &Registry{live: make(map[Reference]Document)}
}

// Create registers doc and returns a fresh reference to it.
func (r *Registry) Create(doc Document) (Reference, error) {
	if len(doc.Data) == 0 {
		return "", ErrEmptyDocument
	}
	fp := doc.Fingerprint()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	ref := Reference(fmt.Sprintf("blob:%s/%d", fp, r.seq))
	r.live[ref] = doc
	return ref, nil
}

// Resolve returns the document behind a live reference.
func (r *Registry) Resolve(ref Reference) (Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.live[ref]
	if !ok {
		return Document{}, fmt.Errorf("%w: %s", ErrReleased, ref)
	}
	return doc, nil
}

// Revoke releases ref. Revoking a reference twice is an error.
func (r *Registry) Revoke(ref Reference) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.live[ref]; !ok {
		return fmt.Errorf("%w: %s", ErrReleased, ref)
	}
	delete(r.live, ref)
	return nil
}

// Live is the number of unreleased references.
func (r *Registry) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

// Fingerprint extracts the content fingerprint from a reference.
func Fingerprint(ref Reference) string {
	s := strings.TrimPrefix(string(ref), "blob:")
	if i := strings.IndexByte(s, '/'); i >= 0 {
		return s[:i]
	}
	return s
}
