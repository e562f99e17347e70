package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/groundwire/ptt-signal/internal/auth"
	"github.com/groundwire/ptt-signal/internal/config"
	"github.com/groundwire/ptt-signal/internal/directory"
	"github.com/groundwire/ptt-signal/internal/floor"
	"github.com/groundwire/ptt-signal/internal/health"
	"github.com/groundwire/ptt-signal/internal/logging"
	"github.com/groundwire/ptt-signal/internal/push"
	"github.com/groundwire/ptt-signal/internal/ratelimit"
	"github.com/groundwire/ptt-signal/internal/registry"
	"github.com/groundwire/ptt-signal/internal/router"
	"github.com/groundwire/ptt-signal/internal/transport"
	"github.com/groundwire/ptt-signal/internal/tracing"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// pusherAdapter narrows floor.Controller's plain-string Pusher surface onto
// push.Dispatcher's typed Kind, the one place the two packages meet.
type pusherAdapter struct {
	d *push.Dispatcher
}

func (a pusherAdapter) Notify(ctx context.Context, kind, roomID, speakerID, speakerName string) {
	a.d.Notify(ctx, push.Kind(kind), roomID, speakerID, speakerName)
}

func loadEnvFiles() {
	for _, path := range []string{".env.local", ".env"} {
		if err := godotenv.Load(path); err == nil {
			logging.Info(context.Background(), "loaded environment file", zap.String("path", path))
			return
		}
	}
}

func buildVerifier(cfg *config.Config) auth.Verifier {
	if cfg.AllowDevAuth {
		logging.Warn(context.Background(), "ALLOW_DEV_AUTH is enabled; using DevValidator, never do this in production")
		return &auth.DevValidator{}
	}
	v, err := auth.NewValidator(context.Background(), cfg.JWTIssuerDomain, cfg.JWTAudience)
	if err != nil {
		logging.Error(context.Background(), "failed to build JWT validator", zap.Error(err))
		os.Exit(1)
	}
	return v
}

func main() {
	loadEnvFiles()

	cfg, err := config.ValidateEnv()
	if err != nil {
		logging.Error(context.Background(), "invalid configuration", zap.Error(err))
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.GoEnv != "production"); err != nil {
		logging.Error(context.Background(), "failed to initialize logger", zap.Error(err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if collector := os.Getenv("OTEL_COLLECTOR_ADDR"); collector != "" {
		tp, err := tracing.InitTracer(ctx, "ptt-signal", collector)
		if err != nil {
			logging.Warn(ctx, "tracing disabled: failed to initialize tracer", zap.Error(err))
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tp.Shutdown(shutdownCtx)
			}()
		}
	}

	dirAdapter, err := directory.NewAdapter(cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		logging.Error(ctx, "failed to connect to directory store", zap.Error(err))
		os.Exit(1)
	}
	defer dirAdapter.Close()

	dispatcher, err := push.NewDispatcher(ctx, cfg.FirebaseCredentialsFile, dirAdapter)
	if err != nil {
		logging.Warn(ctx, "push notifications disabled", zap.Error(err))
	}

	reg := registry.New()
	floorCtrl := floor.New(reg, pusherAdapter{d: dispatcher}, time.Duration(cfg.FloorMaxDurationMs)*time.Millisecond)
	rtr := router.New(reg, floorCtrl, cfg.MaxConnectionsPerRoom)

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	}
	limiter, err := ratelimit.New(cfg.RateLimitWsIp, cfg.RateLimitWsUser, rdb)
	if err != nil {
		logging.Error(ctx, "failed to build rate limiter", zap.Error(err))
		os.Exit(1)
	}

	healthHandler := health.NewHandler(dirAdapter)

	allowedOrigins := auth.GetAllowedOriginsFromEnv("ALLOWED_ORIGINS", []string{"http://localhost:3000"})

	listener := transport.New(transport.Config{
		ListenAddress:  cfg.ListenAddress,
		AllowedOrigins: allowedOrigins,
		AuthTimeout:    time.Duration(cfg.AuthTimeoutMs) * time.Millisecond,
		IdleTimeout:    time.Duration(cfg.IdleTimeoutMs) * time.Millisecond,
		Verifier:       buildVerifier(cfg),
		Router:         rtr,
		RateLimiter:    limiter,
		Health:         healthHandler,
	})

	logging.Info(ctx, "ptt-signal starting", zap.String("listen_address", cfg.ListenAddress))
	if err := listener.Run(ctx); err != nil {
		logging.Error(ctx, "listener exited with error", zap.Error(err))
		os.Exit(1)
	}
	logging.Info(ctx, "ptt-signal stopped")
}
