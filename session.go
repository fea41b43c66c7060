package editor

import (
	"sync"
	"time"

	"github.com/KumarDhananjaya/Real-Time-Collaborative-Text-Editor/awareness"
	"github.com/KumarDhananjaya/Real-Time-Collaborative-Text-Editor/crdt"
)

// Session binds one document id to its replica state for as long as at
// least one connection is attached or a flush is pending. All mutations
// go through mu; the CRDT and awareness structures are never reentered
// concurrently for the same document.
type Session struct {
	DocID string

	mu    sync.Mutex
	doc   *crdt.Doc
	aware *awareness.Store

	dirty      bool
	timer      *time.Timer
	version    int64
	refs       int
	lastActive time.Time

	subs []Subscription
}

func newSession(docID string, client uint32) *Session {
	return &Session{
		DocID: docID,
		doc:   crdt.NewDoc(client),
		aware: awareness.NewStore(),
	}
}

// Text returns the current visible text.
func (s *Session) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Text()
}

// StateVector returns the document's current state vector.
func (s *Session) StateVector() crdt.VV {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.StateVector()
}

// Version is the last persisted store version.
func (s *Session) Version() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Clients counts live awareness records.
func (s *Session) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aware.Len()
}

func (s *Session) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Session) closeSubs() {
	for _, sub := range s.subs {
		_ = sub.Close()
	}
	s.subs = nil
}
