package websocket

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Cix-16/opencti/application/ports"
	"github.com/Cix-16/opencti/pkg/auth"
	"github.com/Cix-16/opencti/pkg/errors"
)

// ServerConfig holds WebSocket server configuration
type ServerConfig struct {
	ReadBufferSize   int
	WriteBufferSize  int
	AllowedOrigins   []string
	MaxConnections   int // per user
	MaxSubscriptions int // per connection
}

// DefaultServerConfig returns default WebSocket server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		AllowedOrigins:   []string{"*"},
		MaxConnections:   10,
		MaxSubscriptions: 64,
	}
}

// Server upgrades authenticated requests and relays bus topics to clients
type Server struct {
	subscriber       ports.TopicSubscriber
	topics           map[string]bool
	upgrader         websocket.Upgrader
	maxConnections   int
	maxSubscriptions int
	errors           *errors.ErrorHandler
	logger           *zap.Logger

	mu      sync.Mutex
	clients map[string]map[*Client]struct{}
}

// NewServer creates a websocket server. Clients may only subscribe to topics.
func NewServer(subscriber ports.TopicSubscriber, topics []string, config ServerConfig, errHandler *errors.ErrorHandler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	known := make(map[string]bool, len(topics))
	for _, t := range topics {
		known[t] = true
	}
	s := &Server{
		subscriber:       subscriber,
		topics:           known,
		maxConnections:   config.MaxConnections,
		maxSubscriptions: config.MaxSubscriptions,
		errors:           errHandler,
		logger:           logger,
		clients:          make(map[string]map[*Client]struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  config.ReadBufferSize,
		WriteBufferSize: config.WriteBufferSize,
		CheckOrigin:     originChecker(config.AllowedOrigins),
	}
	return s
}

// ServeHTTP expects the auth middleware to have put the user in the context
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, err := auth.GetUserFromContext(r.Context())
	if err != nil {
		s.errors.HandleError(w, r, errors.NewUnauthorizedError(""))
		return
	}

	s.mu.Lock()
	if len(s.clients[user.UserID]) >= s.maxConnections {
		s.mu.Unlock()
		s.errors.HandleError(w, r, errors.NewRateLimitError(s.maxConnections, "user connections"))
		return
	}
	s.mu.Unlock()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Info("websocket upgrade failed", zap.Error(err))
		return
	}

	client := newClient(user.UserID, s, conn)
	s.mu.Lock()
	if s.clients[user.UserID] == nil {
		s.clients[user.UserID] = make(map[*Client]struct{})
	}
	s.clients[user.UserID][client] = struct{}{}
	s.mu.Unlock()

	s.logger.Info("websocket connected", zap.String("user_id", user.UserID), zap.String("connection_id", client.id))
	client.start()
}

// ConnectionCount returns the open connections of a user
func (s *Server) ConnectionCount(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients[userID])
}

func (s *Server) knownTopic(topic string) bool {
	return s.topics[topic]
}

func (s *Server) unregister(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if set, ok := s.clients[c.userID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(s.clients, c.userID)
		}
	}
	c.logger.Info("websocket disconnected")
}

func originChecker(allowed []string) func(r *http.Request) bool {
	origins := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		origins[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || origins[origin]
	}
}
