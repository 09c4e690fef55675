// Package ws exposes debug sessions to remote controllers over
// websockets. Each binary message carries raw protocol frames; the
// hub pipes inbound bytes from the controlling connection into the
// session and broadcasts every outbound event frame to all attached
// connections.
package ws

import (
	"io"
	"log"
	"sync"
	"time"

	"github.com/vdbgsuite/vdbg/internal/device"
	"github.com/vdbgsuite/vdbg/internal/session"
)

const (
	connSendBufferSize = 256
	eventBufferSize    = 256
	hubTickerInterval  = 1 * time.Minute
)

// Hub owns one debug session and the websocket connections attached
// to it. The first connection to register becomes the controller; any
// later connections only observe the outbound event stream, keeping
// the inbound channel single-controller.
type Hub struct {
	sessionID   string
	connections map[*Connection]struct{}
	controller  *Connection

	register   chan *Connection
	unregister chan *Connection
	events     chan []byte

	onShutdown func(sessionID string)

	idleTimeout  time.Duration
	lastActivity time.Time

	sess    *session.Session
	inbound *io.PipeWriter
	done    chan struct{}
	stopped chan struct{}

	mu sync.RWMutex
}

// eventTap feeds the session's outbound frames into the hub. Each
// Write is one atomically emitted event.
type eventTap struct {
	h *Hub
}

func (t eventTap) Write(p []byte) (int, error) {
	frames := make([]byte, len(p))
	copy(frames, p)
	select {
	case t.h.events <- frames:
	case <-t.h.stopped:
		// Hub already gone; the session is winding down too.
	}
	return len(p), nil
}

func NewHub(sessionID string, idleTimeout time.Duration, dev device.Device) *Hub {
	inR, inW := io.Pipe()
	h := &Hub{
		sessionID:    sessionID,
		connections:  make(map[*Connection]struct{}),
		register:     make(chan *Connection),
		unregister:   make(chan *Connection),
		events:       make(chan []byte, eventBufferSize),
		idleTimeout:  idleTimeout,
		lastActivity: time.Now(),
		inbound:      inW,
		done:         make(chan struct{}),
		stopped:      make(chan struct{}),
	}
	h.sess = session.New(dev, inR, eventTap{h})
	return h
}

// Run owns the hub state. The session runs on its own goroutine and
// terminates the hub when it ends.
func (h *Hub) Run() {
	go func() {
		defer close(h.done)
		if err := h.sess.Run(); err != nil {
			log.Printf("[Hub] Session %s ended with error: %v", h.sessionID, err)
		}
	}()

	ticker := time.NewTicker(hubTickerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if h.idleTimeout > 0 && len(h.connections) == 0 {
				if time.Since(h.lastActivity) > h.idleTimeout {
					log.Printf("[Hub] Session %s idle for %v, shutting down", h.sessionID, h.idleTimeout)
					h.shutdown()
					return
				}
			}

		case conn := <-h.register:
			h.mu.Lock()
			h.connections[conn] = struct{}{}
			if h.controller == nil {
				h.controller = conn
			}
			h.lastActivity = time.Now()
			role := "observer"
			if h.controller == conn {
				role = "controller"
			}
			h.mu.Unlock()
			log.Printf("[Hub] Connection %s joined session %s as %s (%d total)", conn.id, h.sessionID, role, len(h.connections))

		case conn := <-h.unregister:
			if h.dropConnection(conn) {
				log.Printf("[Hub] Session %s has no connections, shutting down", h.sessionID)
				h.shutdown()
				return
			}

		case frames := <-h.events:
			h.lastActivity = time.Now()
			h.mu.RLock()
			var slow []*Connection
			for conn := range h.connections {
				select {
				case conn.send <- frames:
				default: // consuming too slowly, discard the connection
					slow = append(slow, conn)
				}
			}
			h.mu.RUnlock()
			// Dropped inline: Unregister sends back to this loop and
			// would block it against itself.
			for _, conn := range slow {
				log.Printf("[Hub] Connection %s is slow; dropping from session %s", conn.id, h.sessionID)
				if h.dropConnection(conn) {
					log.Printf("[Hub] Session %s has no connections, shutting down", h.sessionID)
					h.shutdown()
					return
				}
			}

		case <-h.done:
			log.Printf("[Hub] Session %s finished, shutting down hub", h.sessionID)
			h.drainEvents()
			h.shutdown()
			return
		}
	}
}

// dropConnection detaches conn and reports whether the hub is now
// empty. Safe to call from the Run loop itself.
func (h *Hub) dropConnection(conn *Connection) (empty bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.connections[conn]; !ok {
		return false
	}
	delete(h.connections, conn)
	conn.CloseSend()
	log.Printf("[Hub] Connection %s left session %s (%d remaining)", conn.id, h.sessionID, len(h.connections))
	if h.controller == conn {
		// Controller gone: the session sees EOF on its inbound stream
		// and winds down.
		h.controller = nil
		h.inbound.CloseWithError(io.EOF)
	}
	return len(h.connections) == 0
}

// drainEvents flushes frames the session emitted just before ending.
func (h *Hub) drainEvents() {
	for {
		select {
		case frames := <-h.events:
			h.mu.RLock()
			for conn := range h.connections {
				select {
				case conn.send <- frames:
				default:
				}
			}
			h.mu.RUnlock()
		default:
			return
		}
	}
}

func (h *Hub) Register(conn *Connection) {
	select {
	case h.register <- conn:
	case <-h.stopped:
	}
}

func (h *Hub) Unregister(conn *Connection) {
	select {
	case h.unregister <- conn:
	case <-h.stopped:
	}
}

// Deliver forwards inbound bytes to the session when they come from
// the controlling connection. Observer bytes are dropped so the
// single ordered inbound channel stays single-writer.
func (h *Hub) Deliver(conn *Connection, data []byte) {
	h.mu.Lock()
	if h.controller == nil {
		// Commands can race ahead of the register handshake; the
		// first connection to speak claims the controller role.
		h.controller = conn
	}
	isController := h.controller == conn
	h.mu.Unlock()
	if !isController {
		log.Printf("[Hub] Dropping %d bytes from observer %s (session %s)", len(data), conn.id, h.sessionID)
		return
	}
	if _, err := h.inbound.Write(data); err != nil {
		log.Printf("[Hub] Session %s inbound write failed: %v", h.sessionID, err)
	}
}

func (h *Hub) shutdown() {
	close(h.stopped)
	h.inbound.CloseWithError(io.EOF)
	h.mu.Lock()
	for conn := range h.connections {
		delete(h.connections, conn)
		conn.CloseSend()
	}
	h.mu.Unlock()
	if h.onShutdown != nil {
		h.onShutdown(h.sessionID)
	}
}
