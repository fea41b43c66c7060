package gateway

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/KumarDhananjaya/Real-Time-Collaborative-Text-Editor/utils"
)

const sendQueue = 64

// Conn is one attached editor connection. ClientID is the replica id
// the connection claims through its awareness traffic; zero until the
// first awareness update arrives.
type Conn interface {
	ID() string
	ClientID() uint32
	Send(frame []byte)
	SendError(msg string)
	Close() error
}

type outMsg struct {
	text bool
	data []byte
}

type wsConn struct {
	id     string
	client atomic.Uint32
	ws     *websocket.Conn
	out    chan outMsg
	done   chan struct{}
	closed atomic.Bool
	once   sync.Once
	log    utils.Logger
}

func newWSConn(ws *websocket.Conn, log utils.Logger) *wsConn {
	c := &wsConn{
		id:   "conn-" + uuid.NewString(),
		ws:   ws,
		out:  make(chan outMsg, sendQueue),
		done: make(chan struct{}),
		log:  log,
	}
	go c.writeLoop()
	return c
}

func (c *wsConn) ID() string {
	return c.id
}

func (c *wsConn) ClientID() uint32 {
	return c.client.Load()
}

func (c *wsConn) setClient(id uint32) {
	c.client.Store(id)
}

// Send queues a binary frame; a connection that cannot drain its queue
// loses frames rather than stalling the whole room. The next full sync
// exchange repairs the gap.
func (c *wsConn) Send(frame []byte) {
	c.enqueue(outMsg{data: frame})
}

// SendError notifies the peer of a rejected frame as a small JSON text
// message, out of band of the binary protocol.
func (c *wsConn) SendError(msg string) {
	body, _ := json.Marshal(map[string]string{"error": msg})
	c.enqueue(outMsg{text: true, data: body})
}

func (c *wsConn) enqueue(m outMsg) {
	if c.closed.Load() {
		return
	}
	select {
	case c.out <- m:
	default:
		c.log.Warn("dropping frame for slow connection", "conn", c.id)
	}
}

func (c *wsConn) Close() error {
	c.once.Do(func() {
		c.closed.Store(true)
		close(c.done)
	})
	return c.ws.Close()
}

// writeLoop is the sole writer on the socket.
func (c *wsConn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case m := <-c.out:
			kind := websocket.BinaryMessage
			if m.text {
				kind = websocket.TextMessage
			}
			if err := c.ws.WriteMessage(kind, m.data); err != nil {
				return
			}
		}
	}
}
