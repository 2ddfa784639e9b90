package server

import (
	"github.com/gin-contrib/cors"
	"go.uber.org/fx"

	"github.com/switchyardai/switchyard/internal/server/api"
	"github.com/switchyardai/switchyard/internal/server/biz"
	"github.com/switchyardai/switchyard/internal/server/middleware"
)

type Handlers struct {
	fx.In

	System      *api.SystemHandlers
	Health      *api.HealthHandlers
	Circuits    *api.CircuitHandlers
	Credentials *api.CredentialHandlers
	Rate        *api.RateHandlers
	Resolve     *api.ResolveHandlers
}

type Services struct {
	fx.In

	AuthService *biz.AuthService
}

func SetupRoutes(server *Server, handlers Handlers, services Services) {
	server.Use(middleware.AccessLog())
	server.Use(middleware.WithLoggingTracing(server.Config.Trace))

	if server.Config.CORS.Enabled {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowOrigins = server.Config.CORS.AllowedOrigins
		corsConfig.AllowMethods = server.Config.CORS.AllowedMethods
		corsConfig.AllowHeaders = server.Config.CORS.AllowedHeaders
		corsConfig.ExposeHeaders = server.Config.CORS.ExposedHeaders
		corsConfig.AllowCredentials = server.Config.CORS.AllowCredentials
		corsConfig.MaxAge = server.Config.CORS.MaxAge

		corsHandler := cors.New(corsConfig)
		server.Use(corsHandler)
		server.OPTIONS("*any", corsHandler)
	}

	publicGroup := server.Group("", middleware.WithTimeout(server.Config.RequestTimeout))
	{
		// Liveness and build info - DO NOT AUTH
		publicGroup.GET("/healthz", handlers.System.Healthz)
		publicGroup.GET("/version", handlers.System.Version)
	}

	adminGroup := server.Group("/admin",
		middleware.WithTimeout(server.Config.RequestTimeout),
		middleware.WithAdminAuth(services.AuthService),
	)
	{
		adminGroup.GET("/health/credentials/:id", handlers.Health.KeyHealth)
		adminGroup.GET("/health/summary", handlers.Health.Summary)

		adminGroup.GET("/circuits", handlers.Circuits.History)
		adminGroup.POST("/circuits/:id/reset", handlers.Circuits.Reset)

		adminGroup.GET("/credentials", handlers.Credentials.List)
		adminGroup.POST("/credentials/:id/enable", handlers.Credentials.Enable)
		adminGroup.POST("/credentials/:id/disable", handlers.Credentials.Disable)

		adminGroup.POST("/rate/reset", handlers.Rate.ResetAll)
		adminGroup.POST("/rate/:id/reset", handlers.Rate.ResetCredential)
		adminGroup.POST("/rate/:id/limit", handlers.Rate.SetLimit)

		adminGroup.POST("/resolve", handlers.Resolve.Resolve)
	}
}
