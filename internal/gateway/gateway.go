// Package gateway exposes baton's HTTP surface: health and metrics
// probes, an authenticated admin API over jobs, runs, and artifacts, a
// trigger webhook, and a websocket stream of run events. It binds to
// loopback by default.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/flemzord/baton/internal/artifact"
	"github.com/flemzord/baton/internal/config"
	"github.com/flemzord/baton/internal/engine"
	"github.com/flemzord/baton/internal/event"
	"github.com/flemzord/baton/internal/history"
	"github.com/flemzord/baton/internal/metrics"
	"github.com/flemzord/baton/internal/security"
)

// Params wires the gateway to the rest of the daemon.
type Params struct {
	Config  config.GatewayConfig
	DataDir string

	Engine  *engine.Engine
	Store   artifact.Store
	History *history.Store
	Hub     *event.Hub
	Metrics *metrics.Metrics

	Audit   *security.AuditLogger
	Limiter *security.RateLimiter
	Logger  *slog.Logger

	// RunContext parents webhook- and API-triggered runs so they outlive
	// the HTTP request and end with the daemon, not with the response.
	RunContext context.Context
}

// Gateway is the HTTP server. It is a leaf component; nothing imports it.
type Gateway struct {
	cfg     config.GatewayConfig
	dataDir string

	engine  *engine.Engine
	store   artifact.Store
	history *history.Store
	hub     *event.Hub
	metrics *metrics.Metrics

	audit   *security.AuditLogger
	limiter *security.RateLimiter
	logger  *slog.Logger

	runCtx    context.Context
	server    *http.Server
	startedAt time.Time
}

// New validates the wiring and returns a gateway ready to Start.
func New(p Params) (*Gateway, error) {
	if p.Engine == nil {
		return nil, errors.New("gateway: engine is required")
	}
	if p.Store == nil {
		return nil, errors.New("gateway: artifact store is required")
	}
	if p.Metrics == nil {
		p.Metrics = metrics.New()
	}
	if p.Hub == nil {
		p.Hub = event.NewHub()
	}
	if p.Limiter == nil {
		p.Limiter = security.NewRateLimiter(0, 0)
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	if p.RunContext == nil {
		p.RunContext = context.Background()
	}
	if p.Config.Bind == "" {
		return nil, errors.New("gateway: bind address is required")
	}

	return &Gateway{
		cfg:     p.Config,
		dataDir: p.DataDir,
		engine:  p.Engine,
		store:   p.Store,
		history: p.History,
		hub:     p.Hub,
		metrics: p.Metrics,
		audit:   p.Audit,
		limiter: p.Limiter,
		logger:  p.Logger,
		runCtx:  p.RunContext,
	}, nil
}

// Start binds the listener and serves in the background.
func (g *Gateway) Start() error {
	g.startedAt = time.Now()

	mux := g.buildRouter()

	g.server = &http.Server{
		Addr:         g.cfg.Bind,
		Handler:      mux,
		ReadTimeout:  g.cfg.ParsedReadTimeout(),
		WriteTimeout: g.cfg.ParsedWriteTimeout(),
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", g.cfg.Bind)
	if err != nil {
		return errors.New("gateway: listen failed: " + err.Error())
	}

	go func() {
		g.logger.Info("gateway listening", "addr", g.cfg.Bind)
		if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway serve error", "error", err)
		}
	}()

	return nil
}

// Stop shuts the server down gracefully within the configured timeout.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, g.cfg.ParsedShutdownTimeout())
	defer cancel()

	g.logger.Info("gateway shutting down")
	return g.server.Shutdown(shutdownCtx)
}
