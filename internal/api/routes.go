package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echoSwagger "github.com/swaggo/echo-swagger"

	"vashsender/internal/api/middleware"
	"vashsender/internal/api/registry"
	_ "vashsender/internal/docs"
	"vashsender/internal/handlers"
	"vashsender/internal/routes"
)

func (s *Server) registerRoutes() {
	d := s.deps

	s.echo.GET("/", func(c echo.Context) error {
		return c.String(http.StatusOK, "VashSender API")
	})
	// Health check
	s.echo.GET("/health", s.healthCheck)
	s.echo.GET("/swagger/*", echoSwagger.WrapHandler)

	limiter := middleware.RateLimiter(middleware.RateLimitConfig{
		RedisClient:   d.Redis,
		DefaultLimit:  s.config.Server.RateLimit,
		DefaultWindow: time.Minute,
	})

	// API v1 group
	api := s.echo.Group("/api/v1")
	auth := middleware.NewAuthMiddleware(s.config.JWT.Secret)
	api.Use(auth.Middleware(), limiter)

	// Register CRUD routes for all generic resources
	registry.RegisterCRUDRoutes(api, registry.CRUDServices{
		Templates: d.Templates,
		Lists:     d.Lists,
		Contacts:  d.Contacts,
		SMTP:      d.SMTP,
	})

	tracking := handlers.NewTrackingHandler(d.Tracking)

	routes.SetupAuthRoutes(s.echo, api, handlers.NewAuthHandler(d.Auth), limiter)
	routes.SetupCampaignRoutes(api, handlers.NewCampaignHandler(d.Campaigns, d.Tracking), tracking)
	routes.SetupContactRoutes(api, handlers.NewContactHandler(d.Lists, d.Contacts, d.Imports), handlers.NewTemplateHandler(d.Templates))
	routes.SetupDomainRoutes(api, handlers.NewDomainHandler(d.Domains))
	routes.SetupSMTPRoutes(api, handlers.NewSMTPHandler(d.SMTP, d.Prober, s.config.Mail.HeloName))
	routes.SetupSubscriptionRoutes(s.echo, api, handlers.NewSubscriptionHandler(d.Billing, d.Provider))
	routes.RegisterTrackingRoutes(s.echo, tracking)
}
