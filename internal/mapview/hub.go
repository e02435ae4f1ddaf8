package mapview

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/signalsfoundry/orbit-tracker/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendQueue      = 16
)

// serverMessage is pushed to every websocket client after the layer changes.
type serverMessage struct {
	Type        string          `json:"type"`
	Attribution string          `json:"attribution,omitempty"`
	Markers     []MarkerView    `json:"markers"`
	Orbit       json.RawMessage `json:"orbit"`
}

// clientMessage is what browsers send: select or deselect.
type clientMessage struct {
	Type  string `json:"type"`
	Index *int   `json:"index,omitempty"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// hub fans layer snapshots out to websocket clients and feeds their
// select/deselect messages back into the layer.
type hub struct {
	layer    *Layer
	log      logging.Logger
	upgrader websocket.Upgrader
	attrib   func() string

	mu      sync.Mutex
	clients map[*client]struct{}
}

func newHub(layer *Layer, log logging.Logger, attrib func() string) *hub {
	return &hub{
		layer:   layer,
		log:     log,
		attrib:  attrib,
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

// run broadcasts a snapshot each time the layer signals a change.
func (h *hub) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-h.layer.Changed():
			msg, err := h.snapshot()
			if err != nil {
				h.log.Warn(ctx, "encode map snapshot", logging.Err(err))
				continue
			}
			h.broadcast(msg)
		}
	}
}

func (h *hub) snapshot() ([]byte, error) {
	orbit := h.layer.OrbitJSON()
	if orbit == nil {
		orbit = json.RawMessage("null")
	}
	return json.Marshal(serverMessage{
		Type:        "markers",
		Attribution: h.attrib(),
		Markers:     h.layer.Markers(),
		Orbit:       orbit,
	})
}

func (h *hub) broadcast(msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			// Drop clients that cannot keep up.
			delete(h.clients, c)
			close(c.send)
		}
	}
}

func (h *hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

func (h *hub) closeAll() {
	h.mu.Lock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// serveWS upgrades the request and starts the client's pumps. The first
// snapshot is sent immediately.
func (h *hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug(r.Context(), "websocket upgrade failed", logging.Err(err))
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendQueue)}
	if msg, err := h.snapshot(); err == nil {
		c.send <- msg
	}
	h.register(c)

	go h.writePump(c)
	go h.readPump(c)
}

func (h *hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg clientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug(context.Background(), "websocket read failed", logging.Err(err))
			}
			return
		}
		h.dispatch(msg)
	}
}

func (h *hub) dispatch(msg clientMessage) {
	switch msg.Type {
	case "select":
		if msg.Index == nil {
			return
		}
		if err := h.layer.Select(*msg.Index); err != nil {
			h.log.Debug(context.Background(), "ignoring select", logging.Int("index", *msg.Index), logging.Err(err))
		}
	case "deselect":
		h.layer.Deselect()
	default:
		h.log.Debug(context.Background(), "unknown websocket message", logging.String("type", msg.Type))
	}
}

func (h *hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
