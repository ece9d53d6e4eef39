// Package controlplane implements the ControlPlane HTTP API (spec §6.2):
// the closed set of operations external Builder/Auditor clients and
// dashboards use to drive a Run. Grounded on randalmurphal-orc's
// internal/api package: a plain net/http.ServeMux with Go 1.22+
// method-pattern routing, a CORS wrapper applied uniformly to every
// handler, and JSONResponse/HandleError helpers shared across handlers.
package controlplane

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/autopack-dev/autopack/internal/events"
	"github.com/autopack-dev/autopack/internal/issuetracker"
	"github.com/autopack-dev/autopack/internal/supervisor"
)

// Server is the Autopack ControlPlane API server.
type Server struct {
	addr            string
	maxPortAttempts int
	mux             *http.ServeMux
	logger          *slog.Logger

	supervisor *supervisor.Supervisor
	issues     *issuetracker.Tracker
	publisher  events.Publisher
	runsDir    string

	ws *wsHandler
}

// Config holds ControlPlane server configuration.
type Config struct {
	Addr            string
	RunsDir         string // autonomous_runs_dir root, for GET /reports/run_summary/{run_id}
	Logger          *slog.Logger
	MaxPortAttempts int // number of ports to try if Addr is busy (default: 10)

	Supervisor *supervisor.Supervisor
	Issues     *issuetracker.Tracker
	Publisher  events.Publisher
}

// New creates a ControlPlane API server wired to the given Supervisor.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxPortAttempts := cfg.MaxPortAttempts
	if maxPortAttempts <= 0 {
		maxPortAttempts = 10
	}
	pub := cfg.Publisher
	if pub == nil {
		pub = events.NopPublisher{}
	}

	s := &Server{
		addr:            cfg.Addr,
		maxPortAttempts: maxPortAttempts,
		mux:             http.NewServeMux(),
		logger:          logger,
		supervisor:      cfg.Supervisor,
		issues:          cfg.Issues,
		publisher:       pub,
		runsDir:         cfg.RunsDir,
	}
	s.ws = newWSHandler(pub, logger)
	s.registerRoutes()
	return s
}

// cors wraps a handler with the permissive CORS headers the pack's
// dashboards expect during local development.
func cors(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		h(w, r)
	}
}

// registerRoutes wires every spec §6.2 operation plus the websocket event
// stream and the JSON /metrics/* and report endpoints onto s.mux. Prometheus
// metrics are not served here; autopackd exposes them on a separate listener.
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /api/health", cors(s.handleHealth))

	s.mux.HandleFunc("POST /runs/start", cors(s.handleStartRun))
	s.mux.HandleFunc("GET /runs/{run_id}", cors(s.handleGetRun))
	s.mux.HandleFunc("POST /runs/{run_id}/cancel", cors(s.handleCancelRun))
	s.mux.HandleFunc("GET /runs/{run_id}/integration_status", cors(s.handleGetIntegrationStatus))
	s.mux.HandleFunc("GET /runs/{run_id}/stream", s.ws.serveHTTP)

	s.mux.HandleFunc("POST /runs/{run_id}/phases/{phase_id}/update_status", cors(s.handleUpdatePhaseStatus))
	s.mux.HandleFunc("POST /runs/{run_id}/phases/{phase_id}/builder_result", cors(s.handleSubmitBuilderResult))
	s.mux.HandleFunc("POST /runs/{run_id}/phases/{phase_id}/auditor_request", cors(s.handleAuditorRequest))
	s.mux.HandleFunc("POST /runs/{run_id}/phases/{phase_id}/auditor_result", cors(s.handleSubmitAuditorResult))

	s.mux.HandleFunc("GET /project/{project_id}/issues/backlog", cors(s.handleProjectBacklog))

	s.mux.HandleFunc("GET /metrics/runs", cors(s.handleRunMetrics))
	s.mux.HandleFunc("GET /metrics/tiers/{run_id}", cors(s.handleTierMetrics))
	s.mux.HandleFunc("GET /reports/run_summary/{run_id}", cors(s.handleRunSummaryReport))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	JSONResponse(w, map[string]string{"status": "ok"})
}

// parseAddr extracts host and port from an address string like ":8090" or
// "127.0.0.1:8090".
func parseAddr(addr string) (host string, port int, err error) {
	if strings.HasPrefix(addr, ":") {
		port, err = strconv.Atoi(addr[1:])
		return "", port, err
	}
	h, p, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	port, err = strconv.Atoi(p)
	return h, port, err
}

// findAvailablePort tries basePort, then basePort+1, ... up to maxAttempts
// times, returning a listener bound to whichever succeeds first.
func findAvailablePort(host string, basePort, maxAttempts int) (net.Listener, int, error) {
	for i := 0; i < maxAttempts; i++ {
		port := basePort + i
		addr := net.JoinHostPort(host, strconv.Itoa(port))
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			return ln, port, nil
		}
	}
	return nil, 0, fmt.Errorf("no available port in range %d-%d", basePort, basePort+maxAttempts-1)
}

// Start runs the ControlPlane API server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	host, basePort, err := parseAddr(s.addr)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", s.addr, err)
	}

	ln, actualPort, err := findAvailablePort(host, basePort, s.maxPortAttempts)
	if err != nil {
		return err
	}
	if actualPort != basePort {
		s.logger.Info("port in use, using alternative", "requested", basePort, "actual", actualPort)
	}

	httpServer := &http.Server{Handler: s.mux}

	go func() {
		<-ctx.Done()
		s.ws.closeAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("controlplane shutdown error", "error", err)
		}
	}()

	s.logger.Info("starting controlplane API server", "addr", ln.Addr().String())
	return httpServer.Serve(ln)
}
