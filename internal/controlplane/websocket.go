package controlplane

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/autopack-dev/autopack/internal/events"
)

// Grounded on randalmurphal-orc's internal/api/websocket.go: a
// read/write-pump pair per connection with ping/pong keepalive. Simplified
// from the teacher's subscribe/unsubscribe message protocol since each
// stream URL already names the run_id it wants (GET
// /runs/{run_id}/stream, spec §6.2): the connection subscribes once on
// upgrade and forwards until either side closes.
const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsMaxMessage = 512 * 1024
)

// wsHandler upgrades GET /runs/{run_id}/stream into a live event feed.
type wsHandler struct {
	upgrader  websocket.Upgrader
	publisher events.Publisher
	logger    *slog.Logger

	mu    sync.Mutex
	conns map[*websocket.Conn]*wsConnection
}

type wsConnection struct {
	conn        *websocket.Conn
	runID       string
	send        chan []byte
	done        chan struct{}
	unsubscribe func()
}

func newWSHandler(pub events.Publisher, logger *slog.Logger) *wsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &wsHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		publisher: pub,
		logger:    logger,
		conns:     map[*websocket.Conn]*wsConnection{},
	}
}

// serveHTTP upgrades the request and starts streaming events.Publish'd
// events for r.PathValue("run_id") to the client.
func (h *wsHandler) serveHTTP(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "run_id", runID, "error", err)
		return
	}

	ch, unsubscribe := h.publisher.Subscribe(runID)
	c := &wsConnection{
		conn:        conn,
		runID:       runID,
		send:        make(chan []byte, 256),
		done:        make(chan struct{}),
		unsubscribe: unsubscribe,
	}

	h.mu.Lock()
	h.conns[conn] = c
	h.mu.Unlock()

	go h.writePump(c)
	go h.forwardEvents(c, ch)
	go h.readPump(c)
}

// readPump only drains the connection to notice peer-initiated closes and
// respond to control pongs; the stream is server-to-client only.
func (h *wsHandler) readPump(c *wsConnection) {
	defer h.closeConnection(c)

	c.conn.SetReadLimit(wsMaxMessage)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *wsHandler) writePump(c *wsConnection) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *wsHandler) forwardEvents(c *wsConnection, ch <-chan events.Event) {
	for {
		select {
		case <-c.done:
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				h.logger.Error("failed to marshal event", "run_id", c.runID, "error", err)
				continue
			}
			select {
			case c.send <- data:
			default:
				h.logger.Warn("websocket send buffer full, dropping event", "run_id", c.runID)
			}
		}
	}
}

func (h *wsHandler) closeConnection(c *wsConnection) {
	h.mu.Lock()
	_, exists := h.conns[c.conn]
	if exists {
		delete(h.conns, c.conn)
	}
	h.mu.Unlock()
	if !exists {
		return
	}

	c.unsubscribe()
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	_ = c.conn.Close()
}

// closeAll closes every live stream connection, used on server shutdown.
func (h *wsHandler) closeAll() {
	h.mu.Lock()
	conns := make([]*wsConnection, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		h.closeConnection(c)
	}
}
