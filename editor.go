/*
Package editor ties the replicated document pieces into live sessions.

A Manager owns one Session per document id per process. State is tiered:
the in-memory table first, then a Cache blob, then the durable Store.
Local mutations fan out to other processes through the Broker and to the
local connections through a Broadcaster; durable persistence is debounced
behind a quiet period. Cross-process delivery is at-most-once and
unordered; convergence comes from the merge algorithm, not the
transport.
*/
package editor

import (
	"context"
	"errors"
	"time"
)

// Cache is a hot-path snapshot store, one serialized blob per document.
type Cache interface {
	// Get returns ErrNotFound for an absent key.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
}

// Store is the durable source of truth. Absence of a document means
// "new document", not failure.
type Store interface {
	// Load returns ErrNotFound for an unknown document.
	Load(ctx context.Context, docID string) (snapshot []byte, version int64, err error)
	// Save writes the snapshot and its plain-text projection, returning
	// the incremented version.
	Save(ctx context.Context, docID string, snapshot []byte, text string) (version int64, err error)
}

// Subscription must be closed when the subscriber goes away.
type Subscription interface {
	Close() error
}

// Broker fans update payloads across processes, one channel per document
// per message class. Delivery is best-effort; sender is the publishing
// process tag so receivers can skip their own echo.
type Broker interface {
	Publish(ctx context.Context, channel, sender string, payload []byte) error
	Subscribe(ctx context.Context, channel string, fn func(sender string, payload []byte)) (Subscription, error)
}

// Broadcaster delivers an encoded frame to every connection attached to
// a document, except the named one ("" excludes nobody). The realtime
// gateway implements it; a Manager without one only serves one process's
// broker traffic.
type Broadcaster interface {
	BroadcastFrame(docID string, frame []byte, except string)
}

var ErrNotFound = errors.New("not found")
var ErrNoSession = errors.New("no live session for document")

// Origin tags for applied updates, mirroring where the bytes came from.
// Only client-originated mutations are re-published and persisted.
const (
	OriginClient = "client"
	OriginCache  = "cache"
	OriginStore  = "store"
	OriginRemote = "remote"
)

func syncChannel(docID string) string {
	return "doc:" + docID + ":sync"
}

func awarenessChannel(docID string) string {
	return "doc:" + docID + ":awareness"
}

func stateKey(docID string) string {
	return "doc:" + docID + ":state"
}
