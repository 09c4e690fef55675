package ws

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vdbgsuite/vdbg/config"
	"github.com/vdbgsuite/vdbg/internal/device"
)

// Server accepts websocket controllers and gives each new session a
// fresh reference machine loaded with the configured program image.
type Server struct {
	addr   string
	image  []byte
	hubs   map[string]*Hub
	config config.WebSocketConfig
	mux    *http.ServeMux
	mu     sync.RWMutex
}

func NewServer(addr string, cfg *config.WebSocketConfig, image []byte) *Server {
	if cfg == nil {
		cfg = &config.Default().WebSocket
	}
	s := &Server{
		addr:   addr,
		image:  image,
		hubs:   make(map[string]*Hub),
		config: *cfg,
		mux:    http.NewServeMux(),
	}
	s.mux.HandleFunc("/ws/", s.getOrCreateSession)
	s.mux.HandleFunc("/sessions", s.getSessions)
	return s
}

// Handler exposes the mux, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) Serve() error {
	log.Printf("[Server] vdbg websocket server on %s", s.addr)
	return http.ListenAndServe(s.addr, s.mux)
}

func (s *Server) getSessions(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := make([]string, 0, len(s.hubs))
	for sessionID := range s.hubs {
		sessions = append(sessions, sessionID)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(sessions); err != nil {
		log.Printf("[Server] Error encoding sessions: %v", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

func (s *Server) getOrCreateSession(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Server] WebSocket upgrade failed: %v", err)
		return
	}

	sessionID := r.URL.Query().Get("session")
	sessionProvided := sessionID != ""
	if !sessionProvided {
		sessionID = uuid.New().String()
		log.Printf("[Server] No session ID provided, starting new session %v", sessionID)
	}

	var hub *Hub
	if sessionProvided {
		// Join an existing session as an observer of its event stream.
		hub, err = s.GetHub(sessionID)
		if err != nil {
			log.Printf("[Server] Session %s not found: %v", sessionID, err)
			if err := conn.Close(); err != nil {
				log.Printf("[Server] WebSocket close error: %v", err)
			}
			return
		}
	} else {
		hub, err = s.CreateHub(sessionID)
		if err != nil {
			log.Printf("[Server] Unable to create hub for session %s: %v", sessionID, err)
			if err := conn.Close(); err != nil {
				log.Printf("[Server] WebSocket close error: %v", err)
			}
			return
		}
	}

	client := NewConnection(conn, hub, r.RemoteAddr)
	go client.ReadPump()
	go client.WritePump()
	hub.Register(client)
}

// GetHub retrieves an existing hub for the given session ID.
func (s *Server) GetHub(sessionID string) (*Hub, error) {
	s.mu.RLock()
	hub, exists := s.hubs[sessionID]
	s.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("session not found: %s", sessionID)
	}
	return hub, nil
}

// CreateHub creates a hub with a fresh device for the given session.
func (s *Server) CreateHub(sessionID string) (*Hub, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.hubs[sessionID]; exists {
		return nil, fmt.Errorf("session already exists: %s", sessionID)
	}
	if s.config.MaxSessions > 0 && len(s.hubs) >= s.config.MaxSessions {
		log.Printf("[Server] Max sessions (%d) reached, rejecting session: %s", s.config.MaxSessions, sessionID)
		return nil, fmt.Errorf("max sessions (%d) reached", s.config.MaxSessions)
	}

	mach := device.NewMachine()
	if err := mach.Load(s.image); err != nil {
		return nil, fmt.Errorf("load image: %w", err)
	}

	hub := NewHub(sessionID, s.config.IdleTimeout, mach)
	hub.onShutdown = s.removeHub
	s.hubs[sessionID] = hub
	go hub.Run()
	log.Printf("[Server] Created hub for session: %s", sessionID)

	return hub, nil
}

func (s *Server) removeHub(sessionID string) {
	s.mu.Lock()
	delete(s.hubs, sessionID)
	s.mu.Unlock()
	log.Printf("[Server] Removed hub for session: %s", sessionID)
}
