package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"vashsender/internal/billing"
	"vashsender/internal/config"
	"vashsender/internal/db"
	"vashsender/internal/handlers"
	"vashsender/internal/services"
	"vashsender/internal/utils/logger"
)

var log = logger.New("API")

// CustomValidator adapts go-playground/validator to echo.
type CustomValidator struct {
	validator *validator.Validate
}

func NewValidator() *CustomValidator {
	return &CustomValidator{validator: validator.New()}
}

func (cv *CustomValidator) Validate(i interface{}) error {
	return cv.validator.Struct(i)
}

// Deps are the services the HTTP layer serves.
type Deps struct {
	Auth      *services.AuthService
	Campaigns *services.CampaignService
	Tracking  *services.TrackingService
	Templates *services.TemplateService
	Lists     *services.ContactListService
	Contacts  *services.ContactService
	Imports   *services.ImportService
	Domains   *services.DomainService
	SMTP      *services.SMTPConfigService
	Billing   *billing.Service
	Provider  *billing.Provider
	Prober    handlers.Prober
	// Redis backs the rate limiter and the health check; nil keeps limits
	// in memory.
	Redis *redis.Client
}

type Server struct {
	echo   *echo.Echo
	config *config.Config
	db     *gorm.DB
	deps   Deps
}

func NewServer(cfg *config.Config, gdb *gorm.DB, deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = NewValidator()

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.Server.AllowedOrigins,
		AllowHeaders:  []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
		ExposeHeaders: []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After", echo.HeaderXRequestID},
	}))
	if cfg.Server.BodyLimit != "" {
		e.Use(echomw.BodyLimit(cfg.Server.BodyLimit))
	}
	e.Use(requestLogger())

	s := &Server{echo: e, config: cfg, db: gdb, deps: deps}
	s.registerRoutes()
	return s
}

// requestLogger writes one structured line per request.
func requestLogger() echo.MiddlewareFunc {
	zl := log.Zap()
	return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:    true,
		LogURIPath:   true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogRemoteIP:  true,
		LogError:     true,
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/health"
		},
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("path", v.URIPath),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.String("request_id", v.RequestID),
				zap.String("ip", v.RemoteIP),
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
			}
			if v.Status >= http.StatusInternalServerError {
				zl.Error("request", fields...)
			} else {
				zl.Info("request", fields...)
			}
			return nil
		},
	})
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// 🩺 healthCheck reports database and Redis reachability
// @Summary Health check
// @Tags system
// @Produce json
// @Success 200 {object} map[string]string "Healthy"
// @Failure 503 {object} map[string]string "A dependency is down"
// @Router /health [get]
func (s *Server) healthCheck(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()

	status := map[string]string{"status": "ok", "database": "ok", "redis": "disabled"}
	code := http.StatusOK
	if err := db.Ping(ctx, s.db); err != nil {
		status["database"] = err.Error()
		code = http.StatusServiceUnavailable
	}
	if s.deps.Redis != nil {
		status["redis"] = "ok"
		if err := s.deps.Redis.Ping(ctx).Err(); err != nil {
			status["redis"] = err.Error()
			code = http.StatusServiceUnavailable
		}
	}
	if code != http.StatusOK {
		status["status"] = "degraded"
	}
	return c.JSON(code, status)
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	log.Success("🚀 API listening on %s", addr)
	if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
