// Package audiostore holds synthesized speech in memory so TwiML can
// reference it by URL instead of inlining base64 payloads.
package audiostore

import (
	"sync"

	"github.com/google/uuid"
)

const defaultMaxEntries = 256

// Store is a mutex-guarded blob map keyed by random id. Old entries are
// discarded oldest-first once the cap is reached; a blob only needs to
// live long enough for Twilio to fetch it once.
type Store struct {
	mu         sync.Mutex
	blobs      map[string][]byte
	order      []string
	maxEntries int
}

func New(maxEntries int) *Store {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	return &Store{
		blobs:      make(map[string][]byte),
		maxEntries: maxEntries,
	}
}

// Put stores the bytes and returns the generated reference.
func (s *Store) Put(data []byte) string {
	id := newID()

	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.order) >= s.maxEntries {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.blobs, oldest)
	}
	s.blobs[id] = data
	s.order = append(s.order, id)
	return id
}

// Get returns the bytes for ref, if still retained.
func (s *Store) Get(ref string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.blobs[ref]
	return data, ok
}

var newID = func() string {
	return uuid.NewString()
}
