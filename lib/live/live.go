// Package live streams acquired samples to browsers over WebSocket.
package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/skgsergio/visalog/lib/acquire"
)

// WSMessage represents a message sent by a client
type WSMessage struct {
	Command string          `json:"command"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// WSResponse represents a message sent to clients
type WSResponse struct {
	Command string      `json:"command"`
	Success bool        `json:"success"`
	Error   string      `json:"error,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// Info describes the running acquisition, sent to every new client.
type Info struct {
	Resource string    `json:"resource"`
	Identity string    `json:"identity"`
	File     string    `json:"file"`
	Started  time.Time `json:"started"`
}

// SampleData is the payload of a "sample" message.
type SampleData struct {
	Time      time.Time `json:"time"`
	Timestamp string    `json:"timestamp"`
	Value     float64   `json:"value"`
}

// Hub fans samples out to connected WebSocket clients. It implements
// acquire.Sink.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *log.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	info    *Info
	closed  bool

	samples  uint64
	failures uint64
	last     SampleData
}

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex // Serializes writes
}

func (c *client) send(resp WSResponse) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteJSON(resp)
}

// NewHub returns a hub logging connection events to logger.
func NewHub(logger *log.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins, the stream is read-only
			},
		},
		logger:  logger,
		clients: make(map[*client]struct{}),
	}
}

// SetInfo records the acquisition description and sends it to clients.
func (h *Hub) SetInfo(info Info) {
	h.mu.Lock()
	h.info = &info
	h.mu.Unlock()
	h.broadcast(WSResponse{Command: "info", Success: true, Data: info})
}

// ServeHTTP upgrades the connection and keeps the client registered until
// it disconnects or sends "close".
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	c := &client{conn: conn}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	info := h.info
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		conn.Close()
	}()

	h.logger.Printf("WebSocket client connected from %s", r.RemoteAddr)
	if info != nil {
		c.send(WSResponse{Command: "info", Success: true, Data: *info})
	}

	for {
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Printf("WebSocket error: %v", err)
			}
			break
		}

		switch msg.Command {
		case "info":
			h.mu.Lock()
			info := h.info
			h.mu.Unlock()
			if info == nil {
				c.send(WSResponse{Command: "info", Success: false, Error: "acquisition not started"})
			} else {
				c.send(WSResponse{Command: "info", Success: true, Data: *info})
			}
		case "close":
			c.send(WSResponse{Command: "close", Success: true})
			h.logger.Printf("WebSocket client disconnected from %s", r.RemoteAddr)
			return
		default:
			c.send(WSResponse{Command: msg.Command, Success: false, Error: fmt.Sprintf("unknown command: %s", msg.Command)})
		}
	}

	h.logger.Printf("WebSocket client disconnected from %s", r.RemoteAddr)
}

func (h *Hub) broadcast(resp WSResponse) {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		if err := c.send(resp); err != nil {
			h.logger.Printf("Failed to send WebSocket response: %v", err)
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// WriteSample broadcasts s. Slow or broken clients never fail acquisition.
func (h *Hub) WriteSample(s acquire.Sample) error {
	data := SampleData{Time: s.Time, Timestamp: s.Timestamp(), Value: s.Value}

	h.mu.Lock()
	h.samples++
	h.last = data
	h.mu.Unlock()

	h.broadcast(WSResponse{Command: "sample", Success: true, Data: data})
	return nil
}

// ReportError broadcasts a per-sample error.
func (h *Hub) ReportError(err error) {
	h.mu.Lock()
	h.failures++
	h.mu.Unlock()

	h.broadcast(WSResponse{Command: "sample", Success: false, Error: err.Error()})
}

// Close tells clients the acquisition stopped and disconnects them.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	h.broadcast(WSResponse{Command: "stopped", Success: true})

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.mu.Lock()
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "acquisition stopped"),
			time.Now().Add(time.Second))
		c.mu.Unlock()
		c.conn.Close()
	}
	return nil
}

// Serve listens on addr and serves the hub on /ws and its metrics on
// /metrics until ctx is done. The bound address is sent on ready once
// listening.
func Serve(ctx context.Context, addr string, h *Hub, ready chan<- net.Addr) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start live server: %w", err)
	}
	if ready != nil {
		ready <- ln.Addr()
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", h)
	mux.Handle("/metrics", h.MetricsHandler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
