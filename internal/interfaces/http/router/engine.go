package router

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/buildops/backend/internal/infrastructure/auth"
	"github.com/buildops/backend/internal/infrastructure/config"
	"github.com/buildops/backend/internal/infrastructure/logger"
	"github.com/buildops/backend/internal/infrastructure/ratelimit"
	"github.com/buildops/backend/internal/interfaces/http/handler"
	"github.com/buildops/backend/internal/interfaces/http/middleware"
)

// EngineConfig wires the middleware chain
type EngineConfig struct {
	HTTP       config.HTTPConfig
	Production bool
	Logger     *zap.Logger
	Tracing    middleware.TracingConfig
	// Meter records HTTP metrics; nil disables them
	Meter     metric.Meter
	Profiling bool
	// RateLimiter limits requests per client IP; nil disables it
	RateLimiter *ratelimit.KeyedLimiter
	JWTService  *auth.JWTService
}

// NewEngine builds the gin engine. Middleware order:
//
//  1. RequestID
//  2. Recovery
//  3. request logger
//  4. otelgin tracing (when enabled)
//  5. security headers
//  6. CORS
//  7. body limit
//  8. per-IP rate limit (when enabled)
//  9. JWT on /api/v1, then span attributes, metrics and profiling labels
//
// Route permissions are checked by each route group.
func NewEngine(cfg EngineConfig, system *handler.SystemHandler, registrars ...RouteRegistrar) (*gin.Engine, error) {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Production {
		gin.SetMode(gin.ReleaseMode)
	}
	middleware.SetupValidator()

	engine := gin.New()
	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Warn("Failed to set trusted proxies", zap.Error(err))
		}
	}

	engine.Use(middleware.RequestID())
	engine.Use(logger.Recovery(log))
	engine.Use(logger.GinMiddleware(log))
	if cfg.Tracing.Enabled {
		engine.Use(middleware.TracingWithConfig(cfg.Tracing))
		engine.Use(middleware.SpanErrorMarker())
	}

	security := middleware.DefaultSecurityConfig()
	security.HSTSEnabled = cfg.Production
	engine.Use(middleware.SecureWithConfig(security))

	engine.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     cfg.HTTP.CORSAllowOrigins,
		AllowMethods:     cfg.HTTP.CORSAllowMethods,
		AllowHeaders:     cfg.HTTP.CORSAllowHeaders,
		ExposeHeaders:    []string{middleware.RequestIDHeader, "X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	engine.Use(middleware.BodyLimit(cfg.HTTP.MaxBodySize))

	if cfg.RateLimiter != nil {
		engine.Use(middleware.RateLimit(cfg.RateLimiter))
	}
	if cfg.Meter != nil {
		m, err := middleware.HTTPMetrics(cfg.Meter)
		if err != nil {
			return nil, err
		}
		engine.Use(m)
	}
	if cfg.Profiling {
		engine.Use(middleware.Profiling())
	}

	if system != nil {
		HealthRoute(engine, system)
	}

	jwtConfig := middleware.DefaultJWTConfig(cfg.JWTService)
	jwtConfig.Logger = log
	r := NewRouter(engine, WithAPIVersion("v1"))
	r.Use(middleware.JWTAuthMiddlewareWithConfig(jwtConfig))
	if cfg.Tracing.Enabled {
		r.Use(middleware.TracingAttributeInjector())
	}
	for _, reg := range registrars {
		r.Register(reg)
		if g, ok := reg.(*DomainGroup); ok {
			log.Debug("Route group registered", zap.String("group", g.Name()), zap.Int("routes", g.RouteCount()))
		}
	}
	r.Setup()

	return engine, nil
}
