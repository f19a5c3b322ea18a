// Package gateway is the WebSocket Progress Gateway: clients subscribe
// to individual jobs or whole queues and receive progress/completed/
// failed/queue-to-start events as they're published on the Event Bus.
// Grounded on the teacher's Hub/Client/per-client-writer-goroutine shape
// (internal/api/websocket.go), generalized from one global broadcast
// channel to per-client, per-pattern subscription sets.
package gateway

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"walletanalytics/internal/eventbus"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Gateway owns the broker subscription lifecycle for every connected
// client; it has no state of its own beyond that.
type Gateway struct {
	broker eventbus.Subscriber
}

func New(broker eventbus.Subscriber) *Gateway {
	return &Gateway{broker: broker}
}

// ServeHTTP upgrades the connection and runs the client's read/write
// loops until it disconnects.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("gateway: upgrade error:", err)
		return
	}

	c := &client{
		gateway: g,
		conn:    conn,
		send:    make(chan []byte, 256),
		subs:    make(map[string]chan eventbus.Event),
	}

	go c.writeLoop()
	c.readLoop()
}

type client struct {
	gateway *Gateway
	conn    *websocket.Conn
	send    chan []byte
	mu      sync.Mutex
	closed  bool
	subs    map[string]chan eventbus.Event // pattern -> forwarding channel
}

// rpcRequest is the inbound client message shape.
type rpcRequest struct {
	Action    string `json:"action"`
	JobID     string `json:"jobId,omitempty"`
	QueueName string `json:"queueName,omitempty"`
}

type rpcResponse struct {
	Type      string   `json:"type"`
	Pattern   string   `json:"pattern,omitempty"`
	Patterns  []string `json:"patterns,omitempty"`
	Message   string   `json:"message,omitempty"`
}

type eventMessage struct {
	Type      string      `json:"type"`
	Channel   string      `json:"channel"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

func (c *client) readLoop() {
	defer c.close()
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var req rpcRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			c.writeJSON(rpcResponse{Type: "error", Message: "malformed request"})
			continue
		}
		c.handle(req)
	}
}

func (c *client) handle(req rpcRequest) {
	switch req.Action {
	case "subscribe-to-job":
		if req.JobID == "" {
			c.writeJSON(rpcResponse{Type: "error", Message: "jobId required"})
			return
		}
		pattern := eventbus.JobPattern(req.JobID)
		c.subscribe(pattern)
		c.writeJSON(rpcResponse{Type: "subscribed", Pattern: pattern})

	case "unsubscribe-from-job":
		if req.JobID == "" {
			c.writeJSON(rpcResponse{Type: "error", Message: "jobId required"})
			return
		}
		pattern := eventbus.JobPattern(req.JobID)
		c.unsubscribe(pattern)
		c.writeJSON(rpcResponse{Type: "unsubscribed", Pattern: pattern})

	case "subscribe-to-queue":
		if req.QueueName == "" {
			c.writeJSON(rpcResponse{Type: "error", Message: "queueName required"})
			return
		}
		pattern := eventbus.QueuePattern(req.QueueName)
		c.subscribe(pattern)
		c.writeJSON(rpcResponse{Type: "subscribed", Pattern: pattern})

	case "unsubscribe-from-queue":
		if req.QueueName == "" {
			c.writeJSON(rpcResponse{Type: "error", Message: "queueName required"})
			return
		}
		pattern := eventbus.QueuePattern(req.QueueName)
		c.unsubscribe(pattern)
		c.writeJSON(rpcResponse{Type: "unsubscribed", Pattern: pattern})

	case "get-subscriptions":
		c.mu.Lock()
		patterns := make([]string, 0, len(c.subs))
		for p := range c.subs {
			patterns = append(patterns, p)
		}
		c.mu.Unlock()
		c.writeJSON(rpcResponse{Type: "subscriptions", Patterns: patterns})

	default:
		c.writeJSON(rpcResponse{Type: "error", Message: "unknown action " + req.Action})
	}
}

func (c *client) subscribe(pattern string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[pattern]; ok {
		return
	}
	ch := make(chan eventbus.Event, 32)
	c.gateway.broker.Subscribe(pattern, ch)
	c.subs[pattern] = ch
	go c.pump(ch)
}

func (c *client) unsubscribe(pattern string) {
	c.mu.Lock()
	ch, ok := c.subs[pattern]
	if ok {
		delete(c.subs, pattern)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	c.gateway.broker.Unsubscribe(ch)
	close(ch)
}

// pump forwards one subscription's events to the client's writer. It
// exits when ch is closed by unsubscribe or close.
func (c *client) pump(ch chan eventbus.Event) {
	for evt := range ch {
		// job:progress:<queue>:<jobId> is delivered as "job.progress", etc.
		name := "event"
		if parts := strings.SplitN(evt.Channel, ":", 3); len(parts) == 3 {
			name = parts[0] + "." + parts[1]
		}
		data, err := json.Marshal(eventMessage{Type: name, Channel: evt.Channel, Timestamp: evt.Timestamp, Data: evt.Data})
		if err != nil {
			continue
		}
		c.trySend(data)
	}
}

func (c *client) writeJSON(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.trySend(data)
}

// trySend enqueues data for the write loop, dropping it if the client is
// slow or has disconnected. Holding mu across the closed check and the
// channel send serializes against close(), which also holds mu while
// closing c.send -- otherwise a pump goroutine racing close() could send
// on an already-closed channel and panic.
func (c *client) trySend(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		// slow client: drop rather than block the bus fan-out.
	}
}

func (c *client) writeLoop() {
	for msg := range c.send {
		w, err := c.conn.NextWriter(websocket.TextMessage)
		if err != nil {
			return
		}
		w.Write(msg)
		w.Close()
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

func (c *client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	subs := c.subs
	c.subs = make(map[string]chan eventbus.Event)
	c.mu.Unlock()

	for _, ch := range subs {
		c.gateway.broker.Unsubscribe(ch)
		close(ch)
	}
	close(c.send)
	c.conn.Close()
}
