// Package api provides the operator-facing HTTP REST API for the hub.
//
// It exposes the device registry, command dispatch and registration token
// management to operator tooling, and mounts the device WebSocket channel.
// Operators authenticate with a JWT obtained from the admin key; devices
// authenticate inside the channel with registration tokens, so the channel
// endpoint sits outside the JWT middleware.
//
// The server follows the usual lifecycle:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/edgehub-core/internal/auth"
	"github.com/nerrad567/edgehub-core/internal/device"
	"github.com/nerrad567/edgehub-core/internal/hub"
	"github.com/nerrad567/edgehub-core/internal/infrastructure/config"
	"github.com/nerrad567/edgehub-core/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// CommandDispatcher is the dispatch surface the API drives. Implemented by
// hub.Dispatcher.
type CommandDispatcher interface {
	Dispatch(ctx context.Context, logicalID, name string, params map[string]any) (hub.Ack, error)
	AssignConfiguration(ctx context.Context, logicalID, configID string) (hub.Ack, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config        config.APIConfig
	Security      config.SecurityConfig
	Logger        *logging.Logger
	Repo          device.Repository
	Tokens        auth.TokenRepository
	Dispatcher    CommandDispatcher
	Index         *hub.ConnectionIndex
	DeviceChannel http.Handler // WebSocket device channel; mounted outside JWT auth
	ChannelPath   string
	Version       string
}

// Server is the operator HTTP API server.
type Server struct {
	cfg         config.APIConfig
	secCfg      config.SecurityConfig
	logger      *logging.Logger
	repo        device.Repository
	tokens      auth.TokenRepository
	dispatcher  CommandDispatcher
	index       *hub.ConnectionIndex
	channel     http.Handler
	channelPath string
	version     string
	server      *http.Server
}

// New creates an API server. The server is not listening until Start().
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Repo == nil {
		return nil, fmt.Errorf("device repository is required")
	}
	if deps.Tokens == nil {
		return nil, fmt.Errorf("token repository is required")
	}
	if deps.Dispatcher == nil {
		return nil, fmt.Errorf("command dispatcher is required")
	}
	if deps.Index == nil {
		return nil, fmt.Errorf("connection index is required")
	}

	return &Server{
		cfg:         deps.Config,
		secCfg:      deps.Security,
		logger:      deps.Logger.With("component", "api"),
		repo:        deps.Repo,
		tokens:      deps.Tokens,
		dispatcher:  deps.Dispatcher,
		index:       deps.Index,
		channel:     deps.DeviceChannel,
		channelPath: deps.ChannelPath,
		version:     deps.Version,
	}, nil
}

// Start launches the HTTP listener in a background goroutine.
func (s *Server) Start(_ context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the server, waiting for in-flight requests.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}
