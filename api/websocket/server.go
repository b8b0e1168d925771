package websocket

import (
	"net/http"

	"github.com/0xmhha/explorer-indexer/internal/constants"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Options configures the WebSocket server
type Options struct {
	// AllowedOrigins limits cross-origin upgrades; empty or "*" allows all
	AllowedOrigins []string

	// MaxClients caps concurrent connections (0 = default)
	MaxClients int

	// SendBuffer is the per-client queue length
	SendBuffer int

	// BroadcastBuffer is the hub queue length
	BroadcastBuffer int
}

// Server handles WebSocket connections
type Server struct {
	hub      *Hub
	upgrader websocket.Upgrader
	opts     Options
	logger   *zap.Logger
}

// NewServer creates a WebSocket server and starts its hub
func NewServer(opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxClients <= 0 {
		opts.MaxClients = constants.DefaultMaxClients
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = constants.DefaultClientSendBuffer
	}

	hub := NewHub(opts.BroadcastBuffer, logger)
	go hub.Run()

	s := &Server{
		hub:    hub,
		opts:   opts,
		logger: logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.opts.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range s.opts.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// ServeHTTP handles WebSocket upgrade requests
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.hub.ClientCount() >= s.opts.MaxClients {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}

	client := NewClient(s.hub, conn, s.opts.SendBuffer, s.logger)
	if !s.hub.Register(client) {
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()

	s.logger.Info("new websocket connection",
		zap.String("remote_addr", r.RemoteAddr))
}

// Hub returns the underlying hub (for publishing records)
func (s *Server) Hub() *Hub {
	return s.hub
}

// Stop stops the WebSocket server
func (s *Server) Stop() {
	s.hub.Stop()
}
