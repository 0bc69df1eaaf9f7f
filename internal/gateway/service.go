package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/markmastop/waedo-dohockey-live/internal/feed"
	"github.com/markmastop/waedo-dohockey-live/internal/follower"
)

// Service is the presenter boundary: it owns the viewer WebSocket pools, the
// per-key follower registry, and the HTTP read handlers.
type Service struct {
	connectionManager *ConnectionManager
	registry          *Registry
	wsHandler         *WebSocketHandler
	stateHandler      *StateHandler
}

// Config holds configuration for the gateway service.
type Config struct {
	ConnectionConfig ConnectionConfig

	// ResubscribeWait is the backoff followers use between feed
	// resubscription attempts after a disconnect.
	ResubscribeWait time.Duration
}

// DefaultConfig returns default gateway configuration.
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
		ResubscribeWait:  2 * time.Second,
	}
}

// NewService wires the gateway over a match lookup and a change feed.
func NewService(config Config, lookup follower.Lookup, f feed.Feed, clock clockwork.Clock) *Service {
	connectionManager := NewConnectionManager(config.ConnectionConfig)
	registry := NewRegistry(lookup, f, connectionManager, clock, config.ResubscribeWait)
	connectionManager.SetViewerGoneHandler(func(matchKey string) {
		registry.Release(context.Background(), matchKey)
	})

	return &Service{
		connectionManager: connectionManager,
		registry:          registry,
		wsHandler:         NewWebSocketHandler(connectionManager, registry, clock),
		stateHandler:      NewStateHandler(registry, follower.NewKeyResolver(lookup), clock),
	}
}

// Start runs the gateway until ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	log.Info().Msg("starting live match gateway")
	s.connectionManager.Start(ctx)
	log.Info().Msg("live match gateway stopped")
}

// RegisterRoutes registers the gateway's HTTP routes.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/matches", s.wsHandler.HandleMatchConnection)
	mux.HandleFunc("GET /ws/stats", s.wsHandler.HandleConnectionStats)
	mux.HandleFunc("GET /api/matches/{key}", s.stateHandler.HandleGetMatch)
	mux.HandleFunc("GET /api/matches/{key}/timeline", s.stateHandler.HandleGetTimeline)
	mux.HandleFunc("GET /live-match", s.stateHandler.HandleShareLink)
	log.Info().Msg("gateway routes registered")
}

// Registry exposes the follower registry (used by tests and stats).
func (s *Service) Registry() *Registry {
	return s.registry
}

// GetStats returns statistics about the gateway service.
func (s *Service) GetStats() map[string]interface{} {
	stats := s.connectionManager.GetConnectionStats()
	stats["service"] = "live_match_gateway"
	stats["followed_keys"] = s.registry.Size()
	return stats
}
