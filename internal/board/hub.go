// Package board pushes token and order events to the kitchen and bar screens over websockets.
package board

import (
	"context"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"net/http"
	"os"
	"restaurant-service/internal/entity"
	"sync"
	"time"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Str("component", "board").Logger()

const (
	writeWait = 5 * time.Second
	// sendBuffer is how many events a screen may fall behind before it is dropped.
	sendBuffer = 64
)

// client is one connected screen. Its writer goroutine is the only one that writes to conn.
type client struct {
	station entity.Station
	conn    *websocket.Conn
	send    chan entity.Event
}

func newClient(station entity.Station, conn *websocket.Conn, buffer int) *client {
	return &client{station: station, conn: conn, send: make(chan entity.Event, buffer)}
}

// Hub keeps the connected screens per station. It implements events.Publisher so it can sit
// next to the Kafka publisher.
type Hub struct {
	mu      sync.Mutex
	clients map[entity.Station]map[*client]bool
}

func NewHub() *Hub {
	return &Hub{clients: map[entity.Station]map[*client]bool{}}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Serve upgrades the request and keeps the connection registered until the client leaves.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, station entity.Station) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error().Err(err).Msg("ws upgrade error")
		return err
	}
	c := newClient(station, conn, sendBuffer)
	h.register(c)
	go h.write(c)
	go h.listen(c)
	return nil
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c.station] == nil {
		h.clients[c.station] = map[*client]bool{}
	}
	h.clients[c.station][c] = true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

// removeLocked closes the client's queue and connection once; callers hold h.mu.
func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c.station][c]; !ok {
		return
	}
	delete(h.clients[c.station], c)
	close(c.send)
	c.conn.Close()
}

// write drains the client's queue until it is closed or a write fails.
func (h *Hub) write(c *client) {
	for event := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(event); err != nil {
			logger.Warn().Err(err).Msgf("ws write error on %s board", c.station)
			h.unregister(c)
			return
		}
	}
}

// listen drains client frames; screens only receive, so reading serves to notice disconnects.
func (h *Hub) listen(c *client) {
	defer h.unregister(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Clients returns how many screens are connected for station.
func (h *Hub) Clients(station entity.Station) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients[station])
}

// Publish queues token events for their station and order level events for every station. It
// never waits on a socket: a screen whose queue is full is dropped and has to reconnect.
func (h *Hub) Publish(ctx context.Context, event entity.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for station, clients := range h.clients {
		if event.Station != "" && event.Station != station {
			continue
		}
		for c := range clients {
			select {
			case c.send <- event:
			default:
				logger.Warn().Msgf("Dropping slow screen on %s board", station)
				h.removeLocked(c)
			}
		}
	}
	return nil
}

func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, clients := range h.clients {
		for c := range clients {
			h.removeLocked(c)
		}
	}
	return nil
}
