// ws/hub.go
package ws

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/ViniZap4/ytnotes-server/events"
)

// Hub fans Store change events out to every subscriber of the change
// feed. Subscribers that identify as a peer server never get back events
// that originated on that server.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*client]struct{}
	receiver func([]byte)
	log      zerolog.Logger
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
		log:     log.With().Str("component", "hub").Logger(),
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Info().Str("server_id", c.serverID).Int("subscribers", n).Msg("subscriber connected")
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		c.close()
		h.log.Info().Str("server_id", c.serverID).Msg("subscriber disconnected")
	}
}

// OnPeerMessage sets where events sent by peer subscribers go.
func (h *Hub) OnPeerMessage(fn func([]byte)) {
	h.mu.Lock()
	h.receiver = fn
	h.mu.Unlock()
}

// Len reports the number of connected subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish implements events.Publisher. Subscribers whose buffer is full
// are disconnected.
func (h *Hub) Publish(ctx context.Context, evt events.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}

	var slow []*client
	h.mu.RLock()
	for c := range h.clients {
		if c.serverID != "" && c.serverID == evt.Origin {
			continue
		}
		if !c.enqueue(data) {
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.log.Warn().Str("server_id", c.serverID).Msg("subscriber too slow, dropping")
		h.unregister(c)
	}
	return nil
}

// ServeEvents runs the change feed for an upgraded fiber connection. Peers
// pass their server_id as a query parameter.
func (h *Hub) ServeEvents(c *websocket.Conn) {
	h.Serve(c, c.Query("server_id"))
}

// Serve runs the change feed on conn until it closes. Messages from a
// subscriber that named a server_id go to the peer receiver.
func (h *Hub) Serve(conn Conn, serverID string) {
	var onMessage func([]byte)
	if serverID != "" {
		h.mu.RLock()
		onMessage = h.receiver
		h.mu.RUnlock()
	}
	h.Attach(conn, serverID, onMessage)
}

// Attach subscribes conn to the change feed and hands every inbound
// message to onMessage. It blocks until the connection closes. Outbound
// peer connections use it so local changes flow back over the same socket.
func (h *Hub) Attach(conn Conn, serverID string, onMessage func([]byte)) {
	cl := newClient(conn, serverID, h.log)
	h.register(cl)
	defer h.unregister(cl)

	go cl.writePump()
	cl.readPump(onMessage)
}
