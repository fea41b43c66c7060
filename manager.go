package editor

import (
	"context"
	"time"

	"github.com/cespare/xxhash"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/KumarDhananjaya/Real-Time-Collaborative-Text-Editor/awareness"
	"github.com/KumarDhananjaya/Real-Time-Collaborative-Text-Editor/crdt"
	"github.com/KumarDhananjaya/Real-Time-Collaborative-Text-Editor/protocol"
	"github.com/KumarDhananjaya/Real-Time-Collaborative-Text-Editor/utils"
)

const previewRunes = 200

type Options struct {
	// SnapshotInterval is the debounce quiet period before a durable
	// persist; every mutation restarts it.
	SnapshotInterval time.Duration
	CacheTTL         time.Duration
	AwarenessTimeout time.Duration
	PreviewCacheSize int
}

func (o *Options) SetDefaults() {
	if o.SnapshotInterval == 0 {
		o.SnapshotInterval = 30 * time.Second
	}
	if o.CacheTTL == 0 {
		o.CacheTTL = time.Hour
	}
	if o.AwarenessTimeout == 0 {
		o.AwarenessTimeout = 30 * time.Second
	}
	if o.PreviewCacheSize == 0 {
		o.PreviewCacheSize = 1024
	}
}

// Manager owns the live sessions of one process. Construct it at startup
// and pass it to the gateway explicitly; call ShutdownAll before exit.
type Manager struct {
	srv  string
	opts Options

	cache  Cache
	store  Store
	broker Broker
	bcast  Broadcaster

	sessions *xsync.MapOf[string, *Session]
	previews *lru.Cache[string, string]
	log      utils.Logger
}

func NewManager(cache Cache, store Store, broker Broker, log utils.Logger, opts Options) *Manager {
	opts.SetDefaults()
	previews, _ := lru.New[string, string](opts.PreviewCacheSize)
	return &Manager{
		srv:      "srv-" + uuid.NewString(),
		opts:     opts,
		cache:    cache,
		store:    store,
		broker:   broker,
		sessions: xsync.NewMapOf[string, *Session](),
		previews: previews,
		log:      log,
	}
}

// SetBroadcaster wires local fan-out; must be called before connections
// join (the gateway constructor does it).
func (m *Manager) SetBroadcaster(b Broadcaster) {
	m.bcast = b
}

// Server is this process's identity tag on the broker.
func (m *Manager) Server() string {
	return m.srv
}

func (m *Manager) ActiveCount() int {
	return m.sessions.Size()
}

// GetOrCreate resolves the session for docID: memory, then cache blob,
// then durable store, then a fresh empty document. The winner of a
// concurrent create performs the load and the broker subscriptions;
// racing callers merge in later, which is safe because apply is
// commutative.
func (m *Manager) GetOrCreate(ctx context.Context, docID string) (*Session, error) {
	if s, ok := m.sessions.Load(docID); ok {
		return s, nil
	}
	s := newSession(docID, m.replicaFor(docID))
	actual, loaded := m.sessions.LoadOrStore(docID, s)
	if loaded {
		return actual, nil
	}
	s.mu.Lock()
	m.loadState(ctx, s)
	m.subscribe(ctx, s)
	s.lastActive = time.Now()
	s.mu.Unlock()
	ActiveSessions.Inc()
	return s, nil
}

// Attach registers one more connection on the session and returns the
// payloads a joining peer needs: the server's state vector (SyncStep1)
// and the current awareness snapshot (nil when nobody is around).
func (m *Manager) Attach(ctx context.Context, docID string) (step1, peers []byte, err error) {
	s, err := m.GetOrCreate(ctx, docID)
	if err != nil {
		return nil, nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs++
	s.lastActive = time.Now()
	step1 = s.doc.StateVector().Encode()
	if snap := s.aware.Snapshot(0); len(snap) > 0 {
		peers = snap.Encode()
	}
	return step1, peers, nil
}

// Leave removes the client's awareness record, publishes the removal and
// detaches one connection; the session unloads (with a forced persist)
// when the last one goes.
func (m *Manager) Leave(ctx context.Context, docID string, client uint32) ([]byte, error) {
	s, ok := m.sessions.Load(docID)
	if !ok {
		return nil, ErrNoSession
	}
	s.mu.Lock()
	upd := s.aware.Remove([]uint32{client}, time.Now())
	s.refs--
	last := s.refs <= 0
	s.mu.Unlock()

	var payload []byte
	if len(upd) > 0 {
		payload = upd.Encode()
		m.publish(ctx, awarenessChannel(docID), payload, "awareness")
	}
	if last {
		if err := m.Unload(ctx, docID); err != nil && err != ErrNoSession {
			m.log.ErrorCtx(ctx, "unload after last detach failed", "doc", docID, "err", err)
		}
	}
	return payload, nil
}

// SyncStep2 answers a peer's SyncStep1: parse its state vector and diff
// our document against it.
func (m *Manager) SyncStep2(ctx context.Context, docID string, vvPayload []byte) ([]byte, error) {
	vv, err := crdt.ParseVV(vvPayload)
	if err != nil {
		return nil, err
	}
	s, err := m.GetOrCreate(ctx, docID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.DiffSince(vv).Encode(), nil
}

// ApplyUpdate merges a client-originated update payload: validate first
// (a malformed payload mutates nothing), apply, publish to the broker,
// write the serialized state through to the cache and restart the
// persistence debounce.
func (m *Manager) ApplyUpdate(ctx context.Context, docID string, payload []byte) error {
	upd, err := crdt.ParseUpdate(payload)
	if err != nil {
		return err
	}
	s, err := m.GetOrCreate(ctx, docID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.doc.Apply(upd)
	s.dirty = true
	s.lastActive = time.Now()
	state := s.doc.EncodeState()
	s.stopTimer()
	s.timer = time.AfterFunc(m.opts.SnapshotInterval, func() {
		if err := m.Persist(context.Background(), docID); err != nil && err != ErrNoSession {
			m.log.Error("debounced persist failed", "doc", docID, "err", err)
		}
	})
	s.mu.Unlock()

	m.publish(ctx, syncChannel(docID), payload, "sync")
	if err := m.cache.Set(ctx, stateKey(docID), state, m.opts.CacheTTL); err != nil {
		m.log.WarnCtx(ctx, "cache write-through failed", "doc", docID, "err", err)
	}
	return nil
}

// ApplyAwareness merges a client-originated awareness payload and
// publishes it to the broker. Ephemeral: no cache, no persistence.
func (m *Manager) ApplyAwareness(ctx context.Context, docID string, payload []byte) error {
	upd, err := awareness.ParseUpdate(payload)
	if err != nil {
		return err
	}
	s, err := m.GetOrCreate(ctx, docID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.aware.Apply(upd, time.Now())
	s.lastActive = time.Now()
	s.mu.Unlock()

	m.publish(ctx, awarenessChannel(docID), payload, "awareness")
	return nil
}

// Persist writes the snapshot and plain-text projection to the durable
// store. Safe to call directly (unload, shutdown); cancels any pending
// debounce for the document.
func (m *Manager) Persist(ctx context.Context, docID string) error {
	s, ok := m.sessions.Load(docID)
	if !ok {
		return ErrNoSession
	}
	s.mu.Lock()
	s.stopTimer()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	s.dirty = false
	snapshot := s.doc.EncodeState()
	text := s.doc.Text()
	s.mu.Unlock()

	version, err := m.store.Save(ctx, docID, snapshot, text)
	if err != nil {
		Persists.WithLabelValues("error").Inc()
		s.mu.Lock()
		s.dirty = true
		s.timer = time.AfterFunc(m.opts.SnapshotInterval, func() {
			_ = m.Persist(context.Background(), docID)
		})
		s.mu.Unlock()
		return err
	}
	Persists.WithLabelValues("ok").Inc()
	s.mu.Lock()
	s.version = version
	s.mu.Unlock()
	m.previews.Add(docID, clipRunes(text, previewRunes))
	m.log.DebugCtx(ctx, "persisted document", "doc", docID, "version", version)
	return nil
}

// Unload force-persists, cancels the debounce, drops the broker
// subscriptions and releases the session from memory.
func (m *Manager) Unload(ctx context.Context, docID string) error {
	s, ok := m.sessions.Load(docID)
	if !ok {
		return ErrNoSession
	}
	if err := m.Persist(ctx, docID); err != nil && err != ErrNoSession {
		m.log.ErrorCtx(ctx, "persist on unload failed", "doc", docID, "err", err)
	}
	s.mu.Lock()
	s.stopTimer()
	s.closeSubs()
	s.mu.Unlock()
	m.sessions.Delete(docID)
	ActiveSessions.Dec()
	m.log.InfoCtx(ctx, "unloaded document", "doc", docID)
	return nil
}

// ShutdownAll unloads every live session so a clean process exit loses
// no in-memory edits.
func (m *Manager) ShutdownAll(ctx context.Context) {
	m.sessions.Range(func(docID string, _ *Session) bool {
		if err := m.Unload(ctx, docID); err != nil && err != ErrNoSession {
			m.log.ErrorCtx(ctx, "unload on shutdown failed", "doc", docID, "err", err)
		}
		return true
	})
}

// ExpireInactive sweeps every session for awareness records whose client
// went silent past the timeout, tombstoning them and notifying both the
// broker and the local connections.
func (m *Manager) ExpireInactive(ctx context.Context, now time.Time) {
	m.sessions.Range(func(docID string, s *Session) bool {
		s.mu.Lock()
		upd := s.aware.ExpireInactive(now, m.opts.AwarenessTimeout)
		s.mu.Unlock()
		if len(upd) == 0 {
			return true
		}
		payload := upd.Encode()
		m.publish(ctx, awarenessChannel(docID), payload, "awareness")
		if m.bcast != nil {
			m.bcast.BroadcastFrame(docID, protocol.AwarenessFrame(payload), "")
		}
		return true
	})
}

// StartExpiry runs the inactivity sweep until ctx is done.
func (m *Manager) StartExpiry(ctx context.Context) {
	interval := m.opts.AwarenessTimeout / 3
	if interval < time.Second {
		interval = time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				m.ExpireInactive(ctx, now)
			}
		}
	}()
}

// Text returns the live visible text of a loaded document.
func (m *Manager) Text(docID string) (string, error) {
	s, ok := m.sessions.Load(docID)
	if !ok {
		return "", ErrNoSession
	}
	return s.Text(), nil
}

// Preview returns a short plain-text excerpt: live session first, then
// the preview cache, then a decode of the stored snapshot.
func (m *Manager) Preview(ctx context.Context, docID string) (string, error) {
	if s, ok := m.sessions.Load(docID); ok {
		return clipRunes(s.Text(), previewRunes), nil
	}
	if text, ok := m.previews.Get(docID); ok {
		return text, nil
	}
	snapshot, _, err := m.store.Load(ctx, docID)
	if err != nil {
		return "", err
	}
	upd, err := crdt.ParseUpdate(snapshot)
	if err != nil {
		return "", err
	}
	doc := crdt.NewDoc(1)
	doc.Apply(upd)
	text := clipRunes(doc.Text(), previewRunes)
	m.previews.Add(docID, text)
	return text, nil
}

// loadState fills a fresh session from the cache, then the store, then
// leaves it empty. Storage trouble degrades to an empty document rather
// than blocking the join; the next debounce cycle still persists.
func (m *Manager) loadState(ctx context.Context, s *Session) {
	docID := s.DocID
	blob, err := m.cache.Get(ctx, stateKey(docID))
	if err == nil {
		if upd, perr := crdt.ParseUpdate(blob); perr == nil {
			s.doc.Apply(upd)
			SessionLoads.WithLabelValues(OriginCache).Inc()
			m.log.DebugCtx(ctx, "loaded document from cache", "doc", docID)
			return
		}
		m.log.WarnCtx(ctx, "discarding malformed cache blob", "doc", docID)
	} else if err != ErrNotFound {
		m.log.WarnCtx(ctx, "cache unavailable, falling back to store", "doc", docID, "err", err)
	}

	snapshot, version, err := m.store.Load(ctx, docID)
	if err == ErrNotFound {
		SessionLoads.WithLabelValues("fresh").Inc()
		m.log.DebugCtx(ctx, "created new document", "doc", docID)
		return
	}
	if err != nil {
		SessionLoads.WithLabelValues("fresh").Inc()
		m.log.ErrorCtx(ctx, "store unavailable, starting empty (data-loss risk)",
			"doc", docID, "err", err)
		return
	}
	upd, err := crdt.ParseUpdate(snapshot)
	if err != nil {
		m.log.ErrorCtx(ctx, "stored snapshot does not decode, starting empty",
			"doc", docID, "err", err)
		return
	}
	s.doc.Apply(upd)
	s.version = version
	SessionLoads.WithLabelValues(OriginStore).Inc()
	if cerr := m.cache.Set(ctx, stateKey(docID), s.doc.EncodeState(), m.opts.CacheTTL); cerr != nil {
		m.log.WarnCtx(ctx, "cache warm-up failed", "doc", docID, "err", cerr)
	}
	m.log.DebugCtx(ctx, "loaded document from store", "doc", docID, "version", version)
}

func (m *Manager) subscribe(ctx context.Context, s *Session) {
	docID := s.DocID
	sub, err := m.broker.Subscribe(ctx, syncChannel(docID), func(sender string, payload []byte) {
		m.onRemoteSync(docID, sender, payload)
	})
	if err != nil {
		m.log.ErrorCtx(ctx, "sync subscribe failed", "doc", docID, "err", err)
	} else {
		s.subs = append(s.subs, sub)
	}
	sub, err = m.broker.Subscribe(ctx, awarenessChannel(docID), func(sender string, payload []byte) {
		m.onRemoteAwareness(docID, sender, payload)
	})
	if err != nil {
		m.log.ErrorCtx(ctx, "awareness subscribe failed", "doc", docID, "err", err)
	} else {
		s.subs = append(s.subs, sub)
	}
}

// onRemoteSync applies an update published by another process. Never
// re-published, that would loop the broadcast.
func (m *Manager) onRemoteSync(docID, sender string, payload []byte) {
	if sender == m.srv {
		return
	}
	upd, err := crdt.ParseUpdate(payload)
	if err != nil {
		m.log.Warn("dropping malformed remote update", "doc", docID, "sender", sender)
		return
	}
	s, ok := m.sessions.Load(docID)
	if !ok {
		return
	}
	s.mu.Lock()
	s.doc.Apply(upd)
	s.mu.Unlock()
	BrokerMessages.WithLabelValues("sync", "in").Inc()
	if m.bcast != nil {
		m.bcast.BroadcastFrame(docID, protocol.SyncFrame(protocol.SyncUpdate, payload), "")
	}
}

func (m *Manager) onRemoteAwareness(docID, sender string, payload []byte) {
	if sender == m.srv {
		return
	}
	upd, err := awareness.ParseUpdate(payload)
	if err != nil {
		m.log.Warn("dropping malformed remote awareness", "doc", docID, "sender", sender)
		return
	}
	s, ok := m.sessions.Load(docID)
	if !ok {
		return
	}
	s.mu.Lock()
	s.aware.Apply(upd, time.Now())
	s.mu.Unlock()
	BrokerMessages.WithLabelValues("awareness", "in").Inc()
	if m.bcast != nil {
		m.bcast.BroadcastFrame(docID, protocol.AwarenessFrame(payload), "")
	}
}

// publish is best-effort: a failed publish leaves the local mutation in
// place and only widens staleness until the next full exchange.
func (m *Manager) publish(ctx context.Context, channel string, payload []byte, kind string) {
	if err := m.broker.Publish(ctx, channel, m.srv, payload); err != nil {
		m.log.WarnCtx(ctx, "broker publish failed", "channel", channel, "err", err)
		return
	}
	BrokerMessages.WithLabelValues(kind, "out").Inc()
}

// replicaFor derives the session's own replica id from the process tag
// and the document id; zero is reserved for the head sentinel.
func (m *Manager) replicaFor(docID string) uint32 {
	h := uint32(xxhash.Sum64String(m.srv + "/" + docID))
	if h == 0 {
		h = 1
	}
	return h
}

func clipRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
