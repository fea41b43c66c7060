package editor_test

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	editor "github.com/KumarDhananjaya/Real-Time-Collaborative-Text-Editor"
	"github.com/KumarDhananjaya/Real-Time-Collaborative-Text-Editor/awareness"
	"github.com/KumarDhananjaya/Real-Time-Collaborative-Text-Editor/crdt"
	"github.com/KumarDhananjaya/Real-Time-Collaborative-Text-Editor/storage"
	"github.com/KumarDhananjaya/Real-Time-Collaborative-Text-Editor/utils"
)

var testLog = utils.NewDefaultLogger(slog.LevelError)

func newManager(store *storage.MemStore, broker *storage.MemBroker, opts editor.Options) *editor.Manager {
	return editor.NewManager(storage.NewMemCache(), store, broker, testLog, opts)
}

// insert produces the wire payload of a client-side edit.
func insert(t *testing.T, d *crdt.Doc, at int, text string) []byte {
	t.Helper()
	u, err := d.InsertAt(at, text)
	require.NoError(t, err)
	return u.Encode()
}

type frameRecorder struct {
	mu     sync.Mutex
	frames [][]byte
}

func (r *frameRecorder) BroadcastFrame(docID string, frame []byte, except string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, frame)
}

func (r *frameRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func TestTwoProcessConvergence(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemStore()
	broker := storage.NewMemBroker()
	a := newManager(store, broker, editor.Options{})
	b := newManager(store, broker, editor.Options{})

	_, err := a.GetOrCreate(ctx, "doc")
	require.NoError(t, err)
	_, err = b.GetOrCreate(ctx, "doc")
	require.NoError(t, err)

	alice := crdt.NewDoc(100)
	require.NoError(t, a.ApplyUpdate(ctx, "doc", insert(t, alice, 0, "hello")))

	// the broker carried the update to the other process
	text, err := b.Text("doc")
	require.NoError(t, err)
	assert.Equal(t, "hello", text)

	bob := crdt.NewDoc(200)
	diff, err := b.SyncStep2(ctx, "doc", bob.StateVector().Encode())
	require.NoError(t, err)
	upd, err := crdt.ParseUpdate(diff)
	require.NoError(t, err)
	bob.Apply(upd)
	require.Equal(t, "hello", bob.Text())

	require.NoError(t, b.ApplyUpdate(ctx, "doc", insert(t, bob, 5, " world")))
	text, err = a.Text("doc")
	require.NoError(t, err)
	assert.Equal(t, "hello world", text)
}

func TestDebouncedPersist(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemStore()
	mgr := newManager(store, storage.NewMemBroker(), editor.Options{
		SnapshotInterval: 50 * time.Millisecond,
	})
	defer mgr.ShutdownAll(ctx)

	alice := crdt.NewDoc(100)
	require.NoError(t, mgr.ApplyUpdate(ctx, "doc", insert(t, alice, 0, "a")))
	require.NoError(t, mgr.ApplyUpdate(ctx, "doc", insert(t, alice, 1, "b")))
	require.NoError(t, mgr.ApplyUpdate(ctx, "doc", insert(t, alice, 2, "c")))

	assert.Equal(t, 0, store.Saves(), "persist must wait out the quiet period")

	require.Eventually(t, func() bool {
		return store.Saves() == 1
	}, time.Second, 10*time.Millisecond)

	// quiet document does not persist again
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, store.Saves())
}

func TestUnloadOnLastDetach(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemStore()
	mgr := newManager(store, storage.NewMemBroker(), editor.Options{})

	_, _, err := mgr.Attach(ctx, "doc")
	require.NoError(t, err)
	_, _, err = mgr.Attach(ctx, "doc")
	require.NoError(t, err)

	alice := crdt.NewDoc(100)
	require.NoError(t, mgr.ApplyUpdate(ctx, "doc", insert(t, alice, 0, "bye")))

	_, err = mgr.Leave(ctx, "doc", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, mgr.ActiveCount(), "one connection still attached")

	_, err = mgr.Leave(ctx, "doc", 0)
	require.NoError(t, err)
	assert.Equal(t, 0, mgr.ActiveCount())

	// the forced persist made it durable
	snapshot, version, err := store.Load(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)
	upd, err := crdt.ParseUpdate(snapshot)
	require.NoError(t, err)
	fresh := crdt.NewDoc(1)
	fresh.Apply(upd)
	assert.Equal(t, "bye", fresh.Text())
}

func TestTieredLoad(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemStore()
	broker := storage.NewMemBroker()

	mgr := newManager(store, broker, editor.Options{})
	alice := crdt.NewDoc(100)
	require.NoError(t, mgr.ApplyUpdate(ctx, "doc", insert(t, alice, 0, "durable")))
	mgr.ShutdownAll(ctx)

	// a second process finds the document in the store
	mgr2 := newManager(store, broker, editor.Options{})
	defer mgr2.ShutdownAll(ctx)
	text, err := mgr2.Preview(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, "durable", text)

	_, _, err = mgr2.Attach(ctx, "doc")
	require.NoError(t, err)
	text, err = mgr2.Text("doc")
	require.NoError(t, err)
	assert.Equal(t, "durable", text)
}

func TestMalformedUpdateRejected(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemStore()
	mgr := newManager(store, storage.NewMemBroker(), editor.Options{})
	defer mgr.ShutdownAll(ctx)

	alice := crdt.NewDoc(100)
	require.NoError(t, mgr.ApplyUpdate(ctx, "doc", insert(t, alice, 0, "ok")))

	err := mgr.ApplyUpdate(ctx, "doc", []byte{0xff, 0xff})
	assert.Error(t, err)
	text, err := mgr.Text("doc")
	require.NoError(t, err)
	assert.Equal(t, "ok", text, "rejected payload must not mutate state")
}

func TestAwarenessFanout(t *testing.T) {
	ctx := context.Background()
	broker := storage.NewMemBroker()
	a := newManager(storage.NewMemStore(), broker, editor.Options{})
	b := newManager(storage.NewMemStore(), broker, editor.Options{})
	rec := &frameRecorder{}
	b.SetBroadcaster(rec)

	_, err := a.GetOrCreate(ctx, "doc")
	require.NoError(t, err)
	_, err = b.GetOrCreate(ctx, "doc")
	require.NoError(t, err)

	payload := awareness.Update{{Client: 7, Clock: 1, Fields: []byte(`{"cursor":3}`)}}.Encode()
	require.NoError(t, a.ApplyAwareness(ctx, "doc", payload))

	// the other process fans the record out to its local connections
	assert.Equal(t, 1, rec.count())
	s, err := b.GetOrCreate(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, 1, s.Clients())
}

func TestExpireInactiveBroadcasts(t *testing.T) {
	ctx := context.Background()
	mgr := newManager(storage.NewMemStore(), storage.NewMemBroker(), editor.Options{
		AwarenessTimeout: 30 * time.Second,
	})
	rec := &frameRecorder{}
	mgr.SetBroadcaster(rec)

	payload := awareness.Update{{Client: 7, Clock: 1, Fields: []byte(`{}`)}}.Encode()
	require.NoError(t, mgr.ApplyAwareness(ctx, "doc", payload))

	mgr.ExpireInactive(ctx, time.Now().Add(time.Minute))
	assert.Equal(t, 1, rec.count())

	s, err := mgr.GetOrCreate(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, 0, s.Clients())

	// nothing left to expire
	mgr.ExpireInactive(ctx, time.Now().Add(2*time.Minute))
	assert.Equal(t, 1, rec.count())
}

func TestPreviewClipsLongText(t *testing.T) {
	ctx := context.Background()
	mgr := newManager(storage.NewMemStore(), storage.NewMemBroker(), editor.Options{})
	defer mgr.ShutdownAll(ctx)

	long := make([]byte, 0, 500)
	for i := 0; i < 500; i++ {
		long = append(long, 'x')
	}
	alice := crdt.NewDoc(100)
	require.NoError(t, mgr.ApplyUpdate(ctx, "doc", insert(t, alice, 0, string(long))))

	text, err := mgr.Preview(ctx, "doc")
	require.NoError(t, err)
	assert.Len(t, text, 200)
}
