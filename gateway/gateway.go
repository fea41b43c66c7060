/*
Package gateway carries the realtime protocol over websockets. It is a
transport shim: one room per document, frame tags decoded here, payload
semantics delegated to the session manager. The gateway is also the
Broadcaster the manager uses to fan broker traffic out to the local
connections.
*/
package gateway

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"

	editor "github.com/KumarDhananjaya/Real-Time-Collaborative-Text-Editor"
	"github.com/KumarDhananjaya/Real-Time-Collaborative-Text-Editor/awareness"
	"github.com/KumarDhananjaya/Real-Time-Collaborative-Text-Editor/protocol"
	"github.com/KumarDhananjaya/Real-Time-Collaborative-Text-Editor/utils"
)

type room struct {
	conns utils.CMap[string, Conn]
}

type Gateway struct {
	mgr      *editor.Manager
	log      utils.Logger
	upgrader websocket.Upgrader
	rooms    utils.CMap[string, *room]
}

func New(mgr *editor.Manager, log utils.Logger) *Gateway {
	g := &Gateway{
		mgr: mgr,
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	mgr.SetBroadcaster(g)
	return g
}

// BroadcastFrame sends an encoded frame to every connection in the
// document's room except the named one ("" excludes nobody).
func (g *Gateway) BroadcastFrame(docID string, frame []byte, except string) {
	r, ok := g.rooms.Load(docID)
	if !ok {
		return
	}
	r.conns.Range(func(id string, c Conn) bool {
		if id != except {
			c.Send(frame)
		}
		return true
	})
}

// Join attaches the connection: adds it to the room, then sends it our
// state vector (so the peer diffs against us) and the current awareness
// snapshot.
func (g *Gateway) Join(ctx context.Context, docID string, c Conn) error {
	r, _ := g.rooms.LoadOrStore(docID, &room{})
	r.conns.Store(c.ID(), c)
	step1, peers, err := g.mgr.Attach(ctx, docID)
	if err != nil {
		r.conns.Delete(c.ID())
		return err
	}
	c.Send(protocol.SyncFrame(protocol.SyncStep1, step1))
	if peers != nil {
		c.Send(protocol.AwarenessFrame(peers))
	}
	g.log.DebugCtx(ctx, "connection joined", "doc", docID, "conn", c.ID())
	return nil
}

// HandleFrame processes one inbound binary frame. A frame that does not
// decode is answered with an error notification and mutates nothing; a
// valid mutation is applied once and rebroadcast verbatim to the rest
// of the room.
func (g *Gateway) HandleFrame(ctx context.Context, docID string, c Conn, data []byte) {
	f, err := protocol.ParseFrame(data)
	if err != nil {
		c.SendError("bad frame: " + err.Error())
		return
	}
	switch f.Outer {
	case protocol.MsgSync:
		g.handleSync(ctx, docID, c, f, data)
	case protocol.MsgAwareness:
		g.handleAwareness(ctx, docID, c, f, data)
	}
}

func (g *Gateway) handleSync(ctx context.Context, docID string, c Conn, f protocol.Frame, raw []byte) {
	switch f.Inner {
	case protocol.SyncStep1:
		diff, err := g.mgr.SyncStep2(ctx, docID, f.Payload)
		if err != nil {
			c.SendError("bad state vector: " + err.Error())
			return
		}
		c.Send(protocol.SyncFrame(protocol.SyncStep2, diff))
	case protocol.SyncStep2, protocol.SyncUpdate:
		if err := g.mgr.ApplyUpdate(ctx, docID, f.Payload); err != nil {
			c.SendError("bad update: " + err.Error())
			return
		}
		g.BroadcastFrame(docID, raw, c.ID())
	}
}

func (g *Gateway) handleAwareness(ctx context.Context, docID string, c Conn, f protocol.Frame, raw []byte) {
	// Remember which replica this connection speaks for, so its state
	// can be tombstoned on disconnect.
	if upd, err := awareness.ParseUpdate(f.Payload); err == nil {
		for _, rec := range upd {
			if !rec.Tombstone && rec.Client != 0 {
				if wc, ok := c.(*wsConn); ok {
					wc.setClient(rec.Client)
				}
				break
			}
		}
	}
	if err := g.mgr.ApplyAwareness(ctx, docID, f.Payload); err != nil {
		c.SendError("bad awareness: " + err.Error())
		return
	}
	g.BroadcastFrame(docID, raw, c.ID())
}

// Leave detaches the connection, tombstones its awareness state and
// tells the remaining room members.
func (g *Gateway) Leave(ctx context.Context, docID string, c Conn) {
	if r, ok := g.rooms.Load(docID); ok {
		r.conns.Delete(c.ID())
		empty := true
		r.conns.Range(func(string, Conn) bool {
			empty = false
			return false
		})
		if empty {
			g.rooms.Delete(docID)
		}
	}
	payload, err := g.mgr.Leave(ctx, docID, c.ClientID())
	if err != nil {
		if err != editor.ErrNoSession {
			g.log.ErrorCtx(ctx, "leave failed", "doc", docID, "conn", c.ID(), "err", err)
		}
		return
	}
	if payload != nil {
		g.BroadcastFrame(docID, protocol.AwarenessFrame(payload), c.ID())
	}
	g.log.DebugCtx(ctx, "connection left", "doc", docID, "conn", c.ID())
}

// ServeWS upgrades the request and runs the connection's read loop
// until the peer goes away.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request, docID string) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warn("websocket upgrade failed", "err", err)
		return
	}
	c := newWSConn(ws, g.log)
	ctx := r.Context()
	if err := g.Join(ctx, docID, c); err != nil {
		g.log.ErrorCtx(ctx, "join failed", "doc", docID, "err", err)
		_ = c.Close()
		return
	}
	defer func() {
		g.Leave(context.Background(), docID, c)
		_ = c.Close()
	}()
	for {
		kind, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		g.HandleFrame(ctx, docID, c, data)
	}
}
