package storage

import (
	"context"
	"sync"
	"time"

	editor "github.com/KumarDhananjaya/Real-Time-Collaborative-Text-Editor"
)

// In-memory backends. Used by tests and by single-process deployments
// that do not want external services.

type memBlob struct {
	val     []byte
	expires time.Time
}

type MemCache struct {
	mu    sync.Mutex
	blobs map[string]memBlob
}

func NewMemCache() *MemCache {
	return &MemCache{blobs: make(map[string]memBlob)}
}

func (c *MemCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.blobs[key]
	if !ok || (!b.expires.IsZero() && time.Now().After(b.expires)) {
		delete(c.blobs, key)
		return nil, editor.ErrNotFound
	}
	return b.val, nil
}

func (c *MemCache) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	b := memBlob{val: val}
	if ttl > 0 {
		b.expires = time.Now().Add(ttl)
	}
	c.blobs[key] = b
	return nil
}

type memDoc struct {
	snapshot []byte
	text     string
	version  int64
}

type MemStore struct {
	mu    sync.Mutex
	docs  map[string]memDoc
	saves int
}

func NewMemStore() *MemStore {
	return &MemStore{docs: make(map[string]memDoc)}
}

func (s *MemStore) Load(ctx context.Context, docID string) ([]byte, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[docID]
	if !ok {
		return nil, 0, editor.ErrNotFound
	}
	return d.snapshot, d.version, nil
}

func (s *MemStore) Save(ctx context.Context, docID string, snapshot []byte, text string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.docs[docID]
	d.snapshot = snapshot
	d.text = text
	d.version++
	s.docs[docID] = d
	s.saves++
	return d.version, nil
}

// Saves counts successful writes; tests assert debounce behavior
// against it.
func (s *MemStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func (s *MemStore) Text(ctx context.Context, docID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[docID]
	if !ok {
		return "", editor.ErrNotFound
	}
	return d.text, nil
}

type memHandler struct {
	fn func(sender string, payload []byte)
}

// MemBroker dispatches synchronously to every subscriber of a channel,
// the publishing process included; receivers rely on the sender tag to
// skip their own traffic, exactly as with the redis broker.
type MemBroker struct {
	mu   sync.Mutex
	subs map[string][]*memHandler
}

func NewMemBroker() *MemBroker {
	return &MemBroker{subs: make(map[string][]*memHandler)}
}

func (b *MemBroker) Publish(ctx context.Context, channel, sender string, payload []byte) error {
	b.mu.Lock()
	handlers := make([]*memHandler, len(b.subs[channel]))
	copy(handlers, b.subs[channel])
	b.mu.Unlock()
	for _, h := range handlers {
		h.fn(sender, payload)
	}
	return nil
}

func (b *MemBroker) Subscribe(ctx context.Context, channel string, fn func(sender string, payload []byte)) (editor.Subscription, error) {
	h := &memHandler{fn: fn}
	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], h)
	b.mu.Unlock()
	return &memSub{broker: b, channel: channel, h: h}, nil
}

type memSub struct {
	broker  *MemBroker
	channel string
	h       *memHandler
}

func (s *memSub) Close() error {
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()
	handlers := s.broker.subs[s.channel]
	for i, h := range handlers {
		if h == s.h {
			s.broker.subs[s.channel] = append(handlers[:i], handlers[i+1:]...)
			break
		}
	}
	return nil
}
