// Package trade — WebSocket hub for real-time quote broadcasting.
package trade

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/stocksim/trading-engine/internal/metrics"
	"github.com/stocksim/trading-engine/internal/model"
)

const (
	pingInterval     = 30 * time.Second
	readWait         = 60 * time.Second
	snapshotWait     = 5 * time.Second
	defaultWriteWait = 10 * time.Second
)

// WSMessage is the JSON envelope sent to WebSocket clients. The initial
// message on connect and every tick broadcast use the same schema.
type WSMessage struct {
	Type string             `json:"type"` // always "stock_update"
	Data []model.Instrument `json:"data"`
}

// SnapshotFunc supplies the current quote snapshot for newly connected
// clients.
type SnapshotFunc func(ctx context.Context) ([]model.Instrument, error)

// WSHub manages WebSocket connections and fans out quote snapshots after
// every price tick. The client set is owned exclusively by the Run loop, so
// all writes to a connection are serialized and each subscriber sees ticks
// in order.
type WSHub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	snapshot   SnapshotFunc
	writeWait  time.Duration
}

// NewWSHub creates a hub. snapshot is called once per new connection to
// build the initial stock_update message.
func NewWSHub(snapshot SnapshotFunc) *WSHub {
	return &WSHub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		snapshot:   snapshot,
		writeWait:  defaultWriteWait,
	}
}

// Run starts the hub's event loop. Must be called in a goroutine.
func (h *WSHub) Run(ctx context.Context) {
	pinger := time.NewTicker(pingInterval)
	defer pinger.Stop()

	for {
		select {
		case <-ctx.Done():
			close(h.done)
			for conn := range h.clients {
				conn.Close()
			}
			return

		case conn := <-h.register:
			h.clients[conn] = true
			metrics.WebSocketClients.Set(float64(len(h.clients)))
			slog.Info("ws client connected", "total", len(h.clients))
			h.sendSnapshot(ctx, conn)

		case conn := <-h.unregister:
			h.drop(conn)

		case msg := <-h.broadcast:
			for conn := range h.clients {
				if err := h.write(conn, websocket.TextMessage, msg); err != nil {
					h.drop(conn)
				}
			}

		case <-pinger.C:
			for conn := range h.clients {
				if err := h.write(conn, websocket.PingMessage, nil); err != nil {
					h.drop(conn)
				}
			}
		}
	}
}

// BroadcastQuotes queues the post-tick snapshot for delivery to every
// connected client. Drops the message if the buffer is full so a pile-up of
// slow deliveries can never stall the price feed.
func (h *WSHub) BroadcastQuotes(instruments []model.Instrument) {
	data, err := json.Marshal(WSMessage{Type: "stock_update", Data: instruments})
	if err != nil {
		return
	}
	select {
	case h.broadcast <- data:
	default:
	}
}

// sendSnapshot delivers the initial state to one freshly registered client.
func (h *WSHub) sendSnapshot(ctx context.Context, conn *websocket.Conn) {
	sctx, cancel := context.WithTimeout(ctx, snapshotWait)
	defer cancel()

	instruments, err := h.snapshot(sctx)
	if err != nil {
		slog.Error("ws initial snapshot failed", "err", err)
		return
	}
	data, err := json.Marshal(WSMessage{Type: "stock_update", Data: instruments})
	if err != nil {
		return
	}
	if err := h.write(conn, websocket.TextMessage, data); err != nil {
		h.drop(conn)
	}
}

// write bounds every connection write so a peer that stopped reading errors
// out instead of stalling the Run loop, and gets dropped by the caller.
func (h *WSHub) write(conn *websocket.Conn, messageType int, data []byte) error {
	conn.SetWriteDeadline(time.Now().Add(h.writeWait))
	return conn.WriteMessage(messageType, data)
}

func (h *WSHub) drop(conn *websocket.Conn) {
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
		metrics.WebSocketClients.Set(float64(len(h.clients)))
		slog.Info("ws client disconnected", "total", len(h.clients))
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // Allow all origins during development.
	},
}

// HandleWS handles WebSocket upgrade requests at GET /api/v1/ws.
func (h *WSHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	select {
	case h.register <- conn:
	case <-h.done:
		conn.Close()
		return
	}

	// Read pump: keep the connection alive and detect disconnects.
	go func() {
		defer func() {
			select {
			case h.unregister <- conn:
			case <-h.done:
			}
		}()
		conn.SetReadDeadline(time.Now().Add(readWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(readWait))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}
