// Package transport implements the Transport Listener: it is the only
// component that touches the network listen socket. It accepts inbound
// connections, performs the WebSocket upgrade, and spawns one Session per
// accepted connection.
package transport

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-contrib/cors"
	"github.com/gorilla/websocket"
	"github.com/groundwire/ptt-signal/internal/auth"
	"github.com/groundwire/ptt-signal/internal/health"
	"github.com/groundwire/ptt-signal/internal/logging"
	"github.com/groundwire/ptt-signal/internal/middleware"
	"github.com/groundwire/ptt-signal/internal/ratelimit"
	"github.com/groundwire/ptt-signal/internal/session"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

// verifierAdapter narrows an auth.Verifier (which returns *auth.CustomClaims)
// down to the session.Verifier surface the Session package depends on,
// keeping session free of any JWT-specific import.
type verifierAdapter struct {
	v auth.Verifier
}

func (a verifierAdapter) ValidateToken(token string) (session.Claims, error) {
	claims, err := a.v.ValidateToken(token)
	if err != nil {
		return session.Claims{}, err
	}
	name := claims.Name
	if name == "" {
		name = claims.Email
	}
	return session.Claims{UserID: claims.Subject, DisplayName: name}, nil
}

// Listener owns the HTTP server, the WebSocket upgrade endpoint, and the
// ambient HTTP surface (health, metrics).
type Listener struct {
	engine     *gin.Engine
	httpServer *http.Server

	verifier session.Verifier
	router   session.Router
	limiter  *ratelimit.Limiter
	health   *health.Handler

	authTimeout time.Duration
	idleTimeout time.Duration

	upgrader websocket.Upgrader
}

// Config bundles everything the Listener needs to be constructed, mirroring
// the Transport Listener's dependency list in the component map.
type Config struct {
	ListenAddress  string
	AllowedOrigins []string
	AuthTimeout    time.Duration
	IdleTimeout    time.Duration
	Verifier       auth.Verifier
	Router         session.Router
	RateLimiter    *ratelimit.Limiter
	Health         *health.Handler
}

// New builds a Listener ready to Run.
func New(cfg Config) *Listener {
	l := &Listener{
		verifier:    verifierAdapter{v: cfg.Verifier},
		router:      cfg.Router,
		limiter:     cfg.RateLimiter,
		health:      cfg.Health,
		authTimeout: cfg.AuthTimeout,
		idleTimeout: cfg.IdleTimeout,
		upgrader: websocket.Upgrader{
			CheckOrigin: checkOriginFunc(cfg.AllowedOrigins),
			WriteBufferPool: &sync.Pool{
				New: func() any { return make([]byte, 4096) },
			},
		},
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(otelgin.Middleware("ptt-signal"))
	engine.Use(middleware.CorrelationID())

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowOrigins = cfg.AllowedOrigins
	engine.Use(cors.New(corsCfg))

	engine.GET("/ws", l.serveWS)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	engine.GET("/health/live", l.health.Liveness)
	engine.GET("/health/ready", l.health.Readiness)

	l.engine = engine
	l.httpServer = &http.Server{
		Addr:    cfg.ListenAddress,
		Handler: engine,
	}
	return l
}

func checkOriginFunc(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		originURL, err := url.Parse(origin)
		if err != nil {
			return false
		}
		for _, a := range allowed {
			allowedURL, err := url.Parse(a)
			if err != nil {
				continue
			}
			if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
				return true
			}
		}
		return false
	}
}

func (l *Listener) serveWS(c *gin.Context) {
	if l.limiter != nil && !l.limiter.CheckIP(c) {
		return
	}

	correlationID := c.GetString(string(logging.CorrelationIDKey))

	conn, err := l.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Error(c.Request.Context(), "failed to upgrade connection", zap.Error(err), zap.String("correlation_id", correlationID))
		return
	}

	// A fresh background context, not c.Request.Context(): the HTTP handler
	// returns as soon as the upgrade completes, but the Session it hands off
	// to outlives this request by the lifetime of the connection.
	sessionCtx := context.WithValue(context.Background(), logging.CorrelationIDKey, correlationID)

	s := session.New(conn, l.verifier, l.router, l.authTimeout, l.idleTimeout)
	go s.Run(sessionCtx)
}

// Run starts the HTTP server and blocks until ctx is cancelled, at which
// point it shuts the server down gracefully.
func (l *Listener) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logging.Info(ctx, "transport listener starting", zap.String("addr", l.httpServer.Addr))
		if err := l.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return l.httpServer.Shutdown(shutdownCtx)
	}
}
