package router

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/jwalitptl/caregem-api/internal/handler/health"
	"github.com/jwalitptl/caregem-api/internal/middleware"
	"github.com/jwalitptl/caregem-api/pkg/metrics"
	pkgvalidator "github.com/jwalitptl/caregem-api/pkg/validator"
)

type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

type Config struct {
	RequestTimeout   time.Duration
	MaxBodyBytes     int64
	RateLimitEnabled bool
	RateLimit        middleware.RateLimiterConfig
	CORS             middleware.CORSConfig
	Security         middleware.SecurityConfig
}

func DefaultConfig() Config {
	return Config{
		RequestTimeout:   middleware.DefaultTimeoutConfig().Duration,
		MaxBodyBytes:     1 << 20,
		RateLimitEnabled: true,
		RateLimit:        middleware.RateLimiterConfig{Rate: 20, Burst: 40},
		CORS:             middleware.DefaultCORSConfig(),
		Security:         middleware.DefaultSecurityConfig(),
	}
}

type Router struct {
	engine   *gin.Engine
	auth     *middleware.AuthMiddleware
	health   *health.Handler
	handlers []Handler
}

var registerOnce sync.Once

// registerValidators adds the custom tags (imei, icd10, dial_code) to the
// validator gin uses for binding.
func registerValidators() {
	registerOnce.Do(func() {
		if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
			pkgvalidator.Register(v)
		}
	})
}

func NewRouter(auth *middleware.AuthMiddleware, healthH *health.Handler, m *metrics.Metrics, config Config, handlers ...Handler) *Router {
	registerValidators()

	engine := gin.New()
	engine.Use(
		middleware.RequestID(),
		middleware.Recovery(),
		middleware.Logger(),
		middleware.SecurityHeaders(config.Security),
		middleware.CORS(config.CORS),
	)
	if m != nil {
		engine.Use(middleware.Metrics(m))
	}
	if config.RateLimitEnabled {
		engine.Use(middleware.NewRateLimiter(config.RateLimit).RateLimit())
	}
	engine.Use(
		middleware.SizeLimit(config.MaxBodyBytes),
		middleware.Timeout(middleware.TimeoutConfig{Duration: config.RequestTimeout}),
		middleware.ErrorHandler(),
	)

	return &Router{
		engine:   engine,
		auth:     auth,
		health:   healthH,
		handlers: handlers,
	}
}

// Setup registers health routes without authentication and every resource
// handler behind it.
func (r *Router) Setup() *gin.Engine {
	if r.health != nil {
		r.health.RegisterRoutes(r.engine)
	}

	protected := r.engine.Group("")
	protected.Use(r.auth.Authenticate())
	for _, h := range r.handlers {
		h.RegisterRoutes(protected)
	}
	return r.engine
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
