// Package api provides the HTTP REST API and WebSocket server for pyde1-core.
//
// It exposes DE1/scale availability, profile upload/selection, per-mode
// control settings, scanning, and log retrieval to user interfaces, and
// mirrors every bus event to WebSocket clients.
//
// The server follows the same lifecycle pattern as other infrastructure
// components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple
// goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/pyde1-core/internal/ble"
	"github.com/nerrad567/pyde1-core/internal/domain"
	"github.com/nerrad567/pyde1-core/internal/eventbus"
	"github.com/nerrad567/pyde1-core/internal/flowsequencer"
	"github.com/nerrad567/pyde1-core/internal/infrastructure/config"
	"github.com/nerrad567/pyde1-core/internal/infrastructure/logging"
	"github.com/nerrad567/pyde1-core/internal/mbd"
	"github.com/nerrad567/pyde1-core/internal/profile"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// VersionInfo is the triple semver tag scheme spec §6/SPEC_FULL.md §10's
// `/version` endpoint returns.
type VersionInfo struct {
	RequestMapping string `json:"request_mapping"`
	ResourceSet    string `json:"resource_set"`
	Module         string `json:"module"`
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.HTTPConfig
	Logger  *logging.Logger
	Bus     *eventbus.Bus
	Devices map[domain.DeviceRole]*mbd.Handle
	Scanner ble.Scanner
	Seq     *flowsequencer.Sequencer
	Profile *profile.Registry
	LogDir  string
	Version VersionInfo
}

// Server is the HTTP API server for pyde1-core.
type Server struct {
	cfg     config.HTTPConfig
	logger  *logging.Logger
	bus     *eventbus.Bus
	devices map[domain.DeviceRole]*mbd.Handle
	scanner ble.Scanner
	seq     *flowsequencer.Sequencer
	profile *profile.Registry
	logDir  string
	version VersionInfo

	server *http.Server
	hub    *Hub
	cancel context.CancelFunc

	stateMu  chan struct{} // guards state/substate below (buffered 1, acts as a mutex)
	state    domain.MachineState
	substate domain.Substate
	stateSub eventbus.Subscription
}

// New creates a new API server with the given dependencies.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Bus == nil {
		return nil, fmt.Errorf("event bus is required")
	}

	s := &Server{
		cfg:     deps.Config,
		logger:  deps.Logger,
		bus:     deps.Bus,
		devices: deps.Devices,
		scanner: deps.Scanner,
		seq:     deps.Seq,
		profile: deps.Profile,
		logDir:  deps.LogDir,
		version: deps.Version,
		stateMu: make(chan struct{}, 1),
	}
	s.stateMu <- struct{}{}
	return s, nil
}

func (s *Server) lockState() { <-s.stateMu }
func (s *Server) unlockState() { s.stateMu <- struct{}{} }

// cachedState returns the last observed {state, substate}.
func (s *Server) cachedState() (domain.MachineState, domain.Substate) {
	s.lockState()
	defer s.unlockState()
	return s.state, s.substate
}

func (s *Server) onStateUpdate(ev domain.Event) {
	payload, ok := ev.Payload.(domain.StateUpdatePayload)
	if !ok {
		return
	}
	s.lockState()
	s.state, s.substate = payload.State, payload.Substate
	s.unlockState()
}

// Start begins listening for HTTP connections.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	s.stateSub = s.bus.Subscribe(domain.KindStateUpdate, s.onStateUpdate)

	s.hub = NewHub(s.cfg.WebSocket, s.logger)
	go s.hub.Run(srvCtx)
	s.hub.subscribeBus(s.bus)

	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.ServerHost, s.cfg.ServerPort),
		Handler:           router,
		ReadTimeout:       httpTimeout(s.cfg),
		ReadHeaderTimeout: httpTimeout(s.cfg),
		WriteTimeout:      httpTimeout(s.cfg),
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS", "address", s.server.Addr, "cert", s.cfg.TLS.CertFile)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
func (s *Server) Close() error {
	if s.stateSub != (eventbus.Subscription{}) {
		s.bus.Unsubscribe(s.stateSub)
	}
	if s.hub != nil {
		s.hub.unsubscribeBus()
	}
	if s.cancel != nil {
		s.cancel()
	}
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

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}

// httpTimeout returns cfg.AsyncTimeout as a Duration, or a sane default
// when unset.
func httpTimeout(cfg config.HTTPConfig) time.Duration {
	if cfg.AsyncTimeout == 0 {
		return 30 * time.Second
	}
	return time.Duration(cfg.AsyncTimeout) * time.Second
}
