package gateway

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	editor "github.com/KumarDhananjaya/Real-Time-Collaborative-Text-Editor"
	"github.com/KumarDhananjaya/Real-Time-Collaborative-Text-Editor/awareness"
	"github.com/KumarDhananjaya/Real-Time-Collaborative-Text-Editor/crdt"
	"github.com/KumarDhananjaya/Real-Time-Collaborative-Text-Editor/protocol"
	"github.com/KumarDhananjaya/Real-Time-Collaborative-Text-Editor/storage"
	"github.com/KumarDhananjaya/Real-Time-Collaborative-Text-Editor/utils"
)

type fakeConn struct {
	id     string
	client uint32

	mu     sync.Mutex
	frames [][]byte
	errs   []string
}

func (c *fakeConn) ID() string       { return c.id }
func (c *fakeConn) ClientID() uint32 { return c.client }
func (c *fakeConn) Close() error     { return nil }

func (c *fakeConn) Send(frame []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, frame)
}

func (c *fakeConn) SendError(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, msg)
}

func (c *fakeConn) take() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.frames
	c.frames = nil
	return out
}

func newTestGateway(t *testing.T) (*Gateway, *editor.Manager) {
	t.Helper()
	log := utils.NewDefaultLogger(slog.LevelError)
	mgr := editor.NewManager(
		storage.NewMemCache(), storage.NewMemStore(), storage.NewMemBroker(),
		log, editor.Options{})
	return New(mgr, log), mgr
}

func TestJoinSendsHandshake(t *testing.T) {
	ctx := context.Background()
	g, _ := newTestGateway(t)
	c := &fakeConn{id: "c1"}
	require.NoError(t, g.Join(ctx, "doc", c))

	frames := c.take()
	require.Len(t, frames, 1, "empty doc, empty awareness: just the handshake")
	f, err := protocol.ParseFrame(frames[0])
	require.NoError(t, err)
	assert.Equal(t, protocol.MsgSync, f.Outer)
	assert.Equal(t, protocol.SyncStep1, f.Inner)
	vv, err := crdt.ParseVV(f.Payload)
	require.NoError(t, err)
	assert.Empty(t, vv)
}

func TestStep1AnsweredWithStep2(t *testing.T) {
	ctx := context.Background()
	g, mgr := newTestGateway(t)

	alice := crdt.NewDoc(100)
	u, err := alice.InsertAt(0, "state")
	require.NoError(t, err)
	require.NoError(t, mgr.ApplyUpdate(ctx, "doc", u.Encode()))

	c := &fakeConn{id: "c1"}
	require.NoError(t, g.Join(ctx, "doc", c))
	c.take()

	g.HandleFrame(ctx, "doc", c, protocol.SyncFrame(protocol.SyncStep1, crdt.VV{}.Encode()))
	frames := c.take()
	require.Len(t, frames, 1)
	f, err := protocol.ParseFrame(frames[0])
	require.NoError(t, err)
	assert.Equal(t, protocol.SyncStep2, f.Inner)

	diff, err := crdt.ParseUpdate(f.Payload)
	require.NoError(t, err)
	fresh := crdt.NewDoc(1)
	fresh.Apply(diff)
	assert.Equal(t, "state", fresh.Text())
}

func TestUpdateAppliedAndRebroadcast(t *testing.T) {
	ctx := context.Background()
	g, mgr := newTestGateway(t)
	c1 := &fakeConn{id: "c1"}
	c2 := &fakeConn{id: "c2"}
	require.NoError(t, g.Join(ctx, "doc", c1))
	require.NoError(t, g.Join(ctx, "doc", c2))
	c1.take()
	c2.take()

	alice := crdt.NewDoc(100)
	u, err := alice.InsertAt(0, "hi")
	require.NoError(t, err)
	raw := protocol.SyncFrame(protocol.SyncUpdate, u.Encode())
	g.HandleFrame(ctx, "doc", c1, raw)

	text, err := mgr.Text("doc")
	require.NoError(t, err)
	assert.Equal(t, "hi", text)

	assert.Empty(t, c1.take(), "sender never hears its own update")
	frames := c2.take()
	require.Len(t, frames, 1)
	assert.Equal(t, raw, frames[0])
}

func TestMalformedFrameRejected(t *testing.T) {
	ctx := context.Background()
	g, mgr := newTestGateway(t)
	c1 := &fakeConn{id: "c1"}
	c2 := &fakeConn{id: "c2"}
	require.NoError(t, g.Join(ctx, "doc", c1))
	require.NoError(t, g.Join(ctx, "doc", c2))
	c1.take()
	c2.take()

	g.HandleFrame(ctx, "doc", c1, []byte{9, 9, 9})
	g.HandleFrame(ctx, "doc", c1, protocol.SyncFrame(protocol.SyncUpdate, []byte{0xff}))

	c1.mu.Lock()
	errs := len(c1.errs)
	c1.mu.Unlock()
	assert.Equal(t, 2, errs)
	assert.Empty(t, c2.take(), "rejected frames are not rebroadcast")
	text, err := mgr.Text("doc")
	require.NoError(t, err)
	assert.Equal(t, "", text)
}

func TestAwarenessFlowAndLeave(t *testing.T) {
	ctx := context.Background()
	g, mgr := newTestGateway(t)
	c1 := &fakeConn{id: "c1", client: 7}
	c2 := &fakeConn{id: "c2"}
	require.NoError(t, g.Join(ctx, "doc", c1))
	require.NoError(t, g.Join(ctx, "doc", c2))
	c1.take()
	c2.take()

	payload := awareness.Update{{Client: 7, Clock: 1, Fields: []byte(`{"cursor":1}`)}}.Encode()
	g.HandleFrame(ctx, "doc", c1, protocol.AwarenessFrame(payload))

	frames := c2.take()
	require.Len(t, frames, 1)
	f, err := protocol.ParseFrame(frames[0])
	require.NoError(t, err)
	assert.Equal(t, protocol.MsgAwareness, f.Outer)

	// a later joiner gets the current peers in its welcome
	c3 := &fakeConn{id: "c3"}
	require.NoError(t, g.Join(ctx, "doc", c3))
	welcome := c3.take()
	require.Len(t, welcome, 2)

	g.Leave(ctx, "doc", c1)
	frames = c2.take()
	require.Len(t, frames, 1)
	f, err = protocol.ParseFrame(frames[0])
	require.NoError(t, err)
	upd, err := awareness.ParseUpdate(f.Payload)
	require.NoError(t, err)
	require.Len(t, upd, 1)
	assert.True(t, upd[0].Tombstone)
	assert.Equal(t, uint32(7), upd[0].Client)

	s, err := mgr.GetOrCreate(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, 0, s.Clients())
}
