package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/SkynetNext/game-server/internal/admission"
	"github.com/SkynetNext/game-server/internal/config"
	"github.com/SkynetNext/game-server/internal/dispatch"
	"github.com/SkynetNext/game-server/internal/logger"
	"github.com/SkynetNext/game-server/internal/metrics"
	"github.com/SkynetNext/game-server/internal/middleware"
	"github.com/SkynetNext/game-server/internal/notify"
	"github.com/SkynetNext/game-server/internal/presence"
	"github.com/SkynetNext/game-server/internal/protocol"
	"github.com/SkynetNext/game-server/internal/session"
	"github.com/SkynetNext/game-server/internal/store"
	"github.com/SkynetNext/game-server/internal/tracing"
)

// Deps are the shared components a gateway serves connections with
type Deps struct {
	Registry   *session.Registry
	Dispatcher *dispatch.Dispatcher
	Notifier   *notify.Notifier

	// optional
	Presence presence.Tracker
	Store    store.Pinger
}

// Gateway accepts websocket connections and runs one read loop per connection
type Gateway struct {
	config   *config.Config
	configMu sync.RWMutex // Protects config updates

	// live tunables, readable without configMu
	latencyThreshold atomic.Int64 // nanoseconds
	maxMessageSize   atomic.Int64

	// Admission
	limiter   *admission.Limiter
	ipLimiter *admission.IPLimiter

	registry   *session.Registry
	dispatcher *dispatch.Dispatcher
	notifier   *notify.Notifier
	presence   presence.Tracker
	store      store.Pinger

	upgrader websocket.Upgrader

	// Network
	listener      net.Listener
	server        *http.Server
	metricsServer *http.Server

	// parent of every connection context; cancelled on shutdown
	connCtx    context.Context
	cancelConn context.CancelFunc

	connSeq   atomic.Uint64
	startedAt time.Time

	// State
	draining int32 // Atomic: 0=Running, 1=Draining
	wg       sync.WaitGroup
}

// New creates a gateway. Nothing listens until Start.
func New(cfg *config.Config, deps Deps) *Gateway {
	if deps.Presence == nil {
		deps.Presence = presence.Nop{}
	}

	connCtx, cancel := context.WithCancel(context.Background())
	g := &Gateway{
		config:     cfg,
		limiter:    admission.NewLimiter(int64(cfg.Admission.MaxConnections)),
		ipLimiter:  admission.NewIPLimiter(cfg.Admission.MaxConnectionsPerIP, cfg.Admission.ConnectionRateLimit),
		registry:   deps.Registry,
		dispatcher: deps.Dispatcher,
		notifier:   deps.Notifier,
		presence:   deps.Presence,
		store:      deps.Store,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// game clients are not browsers
			CheckOrigin: func(*http.Request) bool { return true },
		},
		connCtx:    connCtx,
		cancelConn: cancel,
		startedAt:  time.Now(),
	}
	g.latencyThreshold.Store(int64(cfg.Admission.LatencyThreshold()))
	g.maxMessageSize.Store(int64(cfg.Admission.MaxMessageSize))
	return g
}

// Start starts the websocket listener and the health/metrics server
func (g *Gateway) Start(ctx context.Context) error {
	// Batch 100 access logs or flush every 5 seconds
	middleware.InitAccessLogger(100, 5*time.Second)

	if err := g.startMetricsServer(ctx); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	if err := g.startListener(ctx); err != nil {
		return fmt.Errorf("failed to start listener: %w", err)
	}

	return nil
}

// Addr returns the websocket listener address once started
func (g *Gateway) Addr() net.Addr {
	if g.listener == nil {
		return nil
	}
	return g.listener.Addr()
}

// Handler serves the websocket upgrade on the configured path
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(g.GetConfig().Server.WebsocketPath, g.serveWebSocket)
	return mux
}

// AdminHandler serves /health, /ready, /status and /metrics
func (g *Gateway) AdminHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", g.healthHandler)
	mux.HandleFunc("/ready", g.readyHandler)
	mux.HandleFunc("/status", g.statusHandler)
	mux.Handle("/metrics", promhttp.Handler()) // Prometheus metrics endpoint
	return mux
}

// Shutdown stops accepting connections, tells connected players, then
// closes every connection and waits for their teardown until ctx expires.
func (g *Gateway) Shutdown(ctx context.Context) error {
	// 1. Enter drain mode
	if !atomic.CompareAndSwapInt32(&g.draining, 0, 1) {
		return nil
	}

	// 2. Stop accepting new connections. Upgraded connections are hijacked
	// and not tracked by the http server.
	var shutdownErr error
	if g.server != nil {
		if err := g.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("failed to shutdown websocket server: %w", err)
		}
	}

	// 3. Tell everyone still online
	g.notifier.Broadcast(ctx, protocol.MustEncode(protocol.TypeServerShutdown, protocol.ServerShutdown{
		Reason: "server is shutting down",
	}))

	// 4. End every read loop and wait for teardown (with timeout)
	g.cancelConn()
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		logger.L.Warn("shutdown timed out waiting for connections",
			zap.Int64("active_connections", g.limiter.Current()),
		)
	}

	// 5. Shutdown metrics server
	if g.metricsServer != nil {
		metricsCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := g.metricsServer.Shutdown(metricsCtx); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("failed to shutdown metrics server: %w", err))
		}
	}

	// 6. Shutdown access logger
	middleware.ShutdownAccessLogger()

	return shutdownErr
}

func (g *Gateway) startMetricsServer(_ context.Context) error {
	port := g.GetConfig().Server.HealthCheckPort
	if port <= 0 {
		return nil
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	g.metricsServer = &http.Server{
		Handler:           g.AdminHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := g.metricsServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.L.Error("metrics server error",
				zap.Error(err),
			)
		}
	}()

	logger.L.Info("metrics server started",
		zap.Int("port", port),
	)
	return nil
}

func (g *Gateway) startListener(_ context.Context) error {
	cfg := g.GetConfig()

	var err error
	g.listener, err = net.Listen("tcp", cfg.Server.ListenAddr)
	if err != nil {
		return err
	}
	g.server = &http.Server{
		Handler:           g.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := g.server.Serve(g.listener); err != nil && err != http.ErrServerClosed {
			logger.L.Error("websocket server error",
				zap.Error(err),
			)
		}
	}()

	logger.L.Info("websocket listener started",
		zap.String("addr", g.listener.Addr().String()),
		zap.String("path", cfg.Server.WebsocketPath),
	)
	return nil
}

// serveWebSocket admits, upgrades and then serves one connection on the
// request goroutine
func (g *Gateway) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	remoteAddr := r.RemoteAddr
	startTime := time.Now()
	ctx := r.Context()

	reject := func(reason, msg string) {
		logger.DebugWithTrace(ctx, "connection rejected",
			zap.String("remote_addr", remoteAddr),
			zap.String("reason", reason),
		)
		metrics.IncConnectionRejected(reason)
		middleware.LogAccess(ctx, &middleware.AccessLogEntry{
			RemoteAddr: remoteAddr,
			DurationMs: time.Since(startTime).Milliseconds(),
			Status:     middleware.StatusRejected,
			Error:      msg,
		})
		http.Error(w, msg, http.StatusServiceUnavailable)
	}

	if atomic.LoadInt32(&g.draining) == 1 {
		reject("draining", "server is shutting down")
		return
	}

	// IP limiter may be swapped by a reload; release to the one that admitted
	g.configMu.RLock()
	ipLimiter := g.ipLimiter
	g.configMu.RUnlock()

	ip := extractIP(remoteAddr)
	if !ipLimiter.Allow(ip) {
		reject("ip_limit", "too many connections from this address")
		return
	}

	if !g.limiter.TryAdmit() {
		ipLimiter.Release(ip)
		reject("max_connections", "server is at capacity")
		return
	}

	// hijacked connections are invisible to server.Shutdown, so count this
	// one before Upgrade takes it over
	g.wg.Add(1)
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		g.wg.Done()
		g.limiter.Release()
		ipLimiter.Release(ip)
		metrics.IncConnectionRejected("upgrade")
		middleware.LogAccess(ctx, &middleware.AccessLogEntry{
			RemoteAddr: remoteAddr,
			DurationMs: time.Since(startTime).Milliseconds(),
			Status:     middleware.StatusError,
			Error:      err.Error(),
		})
		return
	}
	defer g.wg.Done()

	cfg := g.GetConfig()
	conn := newConnection(g.connSeq.Add(1), remoteAddr, ws, connOptions{
		readTimeout:    cfg.Server.ReadTimeout,
		writeTimeout:   cfg.Server.WriteTimeout,
		maxMessageSize: g.maxMessageSize.Load,
	})

	g.handleConnection(conn, func() {
		g.limiter.Release()
		ipLimiter.Release(ip)
	})
}

// handleConnection runs the read loop of conn until it ends, then tears the
// connection down. release returns the admission permits.
func (g *Gateway) handleConnection(conn *Connection, release func()) {
	ctx, cancel := context.WithCancel(g.connCtx)
	defer cancel()

	// unblock a pending read when the connection context ends
	stop := context.AfterFunc(ctx, func() {
		_ = conn.ws.SetReadDeadline(time.Now())
	})
	defer stop()

	ctx, span := tracing.StartSpan(ctx, "gateway.handle_connection")
	defer span.End()

	startTime := time.Now()
	metrics.TotalConnections.Inc()
	metrics.ActiveConnections.Inc()

	logger.DebugWithTrace(ctx, "new connection",
		zap.String("remote_addr", conn.RemoteAddr()),
		zap.Uint64("conn_id", conn.ID()),
	)

	entry := &middleware.AccessLogEntry{
		RemoteAddr: conn.RemoteAddr(),
		ConnID:     conn.ID(),
		Status:     middleware.StatusClosed,
	}

	defer func() {
		if r := recover(); r != nil {
			logger.ErrorWithTrace(ctx, "connection loop panic",
				zap.Uint64("conn_id", conn.ID()),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			entry.Status = middleware.StatusError
			entry.Error = fmt.Sprint(r)
		}

		g.teardown(ctx, conn, entry, release)
		metrics.ActiveConnections.Dec()

		entry.DurationMs = time.Since(startTime).Milliseconds()
		entry.BytesIn = conn.bytesIn.Load()
		entry.BytesOut = conn.bytesOut.Load()
		middleware.LogAccess(ctx, entry)
	}()

	for {
		data, err := conn.ReceiveMessage(ctx)
		if err != nil {
			g.recordReadEnd(ctx, conn, entry, err)
			return
		}

		msgType := g.dispatcher.Dispatch(ctx, conn, data)
		entry.Messages++
		if msgType != "" {
			g.observeLatency(ctx, conn, msgType, len(data), time.Since(conn.readStart))
		}
	}
}

func (g *Gateway) recordReadEnd(ctx context.Context, conn *Connection, entry *middleware.AccessLogEntry, err error) {
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, context.Canceled):
		entry.Status = middleware.StatusClosed
	case errors.Is(err, ErrMessageTooLarge):
		entry.Status = middleware.StatusTooLarge
		entry.Error = err.Error()
		logger.WarnWithTrace(ctx, "message too large, closing connection",
			zap.Uint64("conn_id", conn.ID()),
			zap.String("remote_addr", conn.RemoteAddr()),
			zap.Int64("max_message_size", g.maxMessageSize.Load()),
		)
	default:
		entry.Status = middleware.StatusError
		entry.Error = err.Error()
		logger.DebugWithTrace(ctx, "connection read ended",
			zap.Uint64("conn_id", conn.ID()),
			zap.Error(err),
		)
	}
}

func (g *Gateway) observeLatency(ctx context.Context, conn *Connection, msgType string, size int, elapsed time.Duration) {
	metrics.MessageLatency.WithLabelValues(msgType).Observe(elapsed.Seconds())

	threshold := time.Duration(g.latencyThreshold.Load())
	if threshold > 0 && elapsed > threshold {
		metrics.SlowMessages.Inc()
		logger.WarnWithTrace(ctx, "slow message processing",
			zap.Uint64("conn_id", conn.ID()),
			zap.String("type", msgType),
			zap.Int("size", size),
			zap.Duration("latency", elapsed),
			zap.Duration("threshold", threshold),
		)
	}
}

// teardown deregisters the session, closes the socket and returns the
// admission permits. Each step runs even if an earlier one panics.
func (g *Gateway) teardown(ctx context.Context, conn *Connection, entry *middleware.AccessLogEntry, release func()) {
	// presence writes must outlive a cancelled connection context
	bg := context.WithoutCancel(ctx)

	guarded(ctx, "deregister session", func() {
		if playerID, ok := g.registry.RemoveByConnection(conn); ok {
			entry.PlayerID = playerID.String()
			g.presence.Offline(bg, playerID)
			logger.InfoWithTrace(ctx, "player disconnected",
				zap.String("player_id", playerID.String()),
				zap.Uint64("conn_id", conn.ID()),
			)
		}
		metrics.ActiveSessions.Set(float64(g.registry.Count()))
	})

	guarded(ctx, "close connection", func() {
		code, reason := websocket.CloseNormalClosure, ""
		if atomic.LoadInt32(&g.draining) == 1 {
			code, reason = websocket.CloseGoingAway, "server shutting down"
		}
		if err := conn.Close(code, reason); err != nil {
			logger.DebugWithTrace(ctx, "close connection",
				zap.Uint64("conn_id", conn.ID()),
				zap.Error(err),
			)
		}
	})

	guarded(ctx, "release admission", release)
}

func guarded(ctx context.Context, step string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorWithTrace(ctx, "connection teardown step failed",
				zap.String("step", step),
				zap.Any("panic", r),
			)
		}
	}()
	fn()
}

// StatusReport is the /status response
type StatusReport struct {
	ActiveConnections int64     `json:"activeConnections"`
	OnlinePlayers     int       `json:"onlinePlayers"`
	UptimeSeconds     int64     `json:"uptimeSeconds"`
	StartedAt         time.Time `json:"startedAt"`
}

// Status reports live connection counts and uptime
func (g *Gateway) Status() StatusReport {
	return StatusReport{
		ActiveConnections: g.limiter.Current(),
		OnlinePlayers:     g.registry.Count(),
		UptimeSeconds:     int64(time.Since(g.startedAt).Seconds()),
		StartedAt:         g.startedAt.UTC(),
	}
}

func extractIP(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

func (g *Gateway) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (g *Gateway) readyHandler(w http.ResponseWriter, r *http.Request) {
	if atomic.LoadInt32(&g.draining) == 1 {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("Draining"))
		return
	}
	if g.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := g.store.Ping(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("Store unavailable"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}

func (g *Gateway) statusHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(g.Status()); err != nil {
		logger.L.Debug("failed to write status", zap.Error(err))
	}
}
