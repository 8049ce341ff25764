package telemetry

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lance13c/casepilot/internal/logging"
	"github.com/lance13c/casepilot/internal/runner"
	"github.com/lance13c/casepilot/internal/types"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 64
)

// Message is one event as sent to stream clients
type Message struct {
	Type      runner.EventName `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
	Case      *types.Case      `json:"case,omitempty"`
	Step      *types.Step      `json:"step,omitempty"`
}

// Stream fans orchestrator events out to websocket clients. Slow clients
// miss messages rather than block the run.
type Stream struct {
	upgrader websocket.Upgrader
	now      func() time.Time

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	conn *websocket.Conn
	send chan Message
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// NewStream creates an empty stream
func NewStream() *Stream {
	return &Stream{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		now:     time.Now,
		clients: map[*client]struct{}{},
	}
}

// Attach forwards every event of o to the stream
func (s *Stream) Attach(o *runner.Orchestrator) {
	for _, name := range runner.EventNames() {
		o.On(name, func(ev runner.Event) {
			s.Publish(Message{Type: ev.Name, Timestamp: s.now(), Case: ev.Case, Step: ev.Step})
		})
	}
}

// Publish queues msg for every connected client
func (s *Stream) Publish(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.send <- msg:
		default:
			logging.Warn("Event stream client %s is behind, dropping %s", c.conn.RemoteAddr(), msg.Type)
		}
	}
}

// Clients returns the number of connected clients
func (s *Stream) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// ServeHTTP upgrades the request and streams events until the client leaves
func (s *Stream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("Failed to upgrade event stream connection: %v", err)
		return
	}
	c := &client{conn: conn, send: make(chan Message, sendBuffer)}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	logging.Info("Event stream client connected: %s", r.RemoteAddr)

	go s.writePump(c)
	s.readPump(c)
}

// readPump discards client messages and notices disconnects
func (s *Stream) readPump(c *client) {
	defer s.remove(c)
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Debug("Event stream read error: %v", err)
			}
			return
		}
	}
}

func (s *Stream) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Stream) remove(c *client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
	c.close()
}

// Close disconnects every client
func (s *Stream) Close() {
	s.mu.Lock()
	s.closed = true
	clients := s.clients
	s.clients = map[*client]struct{}{}
	s.mu.Unlock()
	for c := range clients {
		c.close()
	}
}
