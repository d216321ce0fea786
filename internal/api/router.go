package api

import (
	"actsasversioned/internal/metrics"
	"actsasversioned/internal/middleware"

	"github.com/gin-gonic/gin"
)

func RegisterRoutes(libraryHandler *LibraryHandler) *gin.Engine {
	r := gin.New()

	// Global Middleware
	r.Use(
		middleware.CorsMiddleware(),
		middleware.RequestID(),
		middleware.GinZapLogger(),
		middleware.GinZapRecovery(),
		middleware.HttpMiddleware(),
		middleware.TraceMiddleware(),
	)
	r.SetTrustedProxies(nil)

	r.GET("/health", libraryHandler.HealthCheck)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := r.Group("/v1")
	{
		v1.GET("/schemas", libraryHandler.Schemas)

		v1.POST("/authors", libraryHandler.CreateAuthor)
		v1.GET("/authors/:id", libraryHandler.GetAuthor)
		v1.PUT("/authors/:id", libraryHandler.UpdateAuthor)

		v1.POST("/books", libraryHandler.CreateBook)
		v1.GET("/books/:id", libraryHandler.GetBook)
		v1.PUT("/books/:id", libraryHandler.UpdateBook)
		v1.DELETE("/books/:id", libraryHandler.DeleteBook)

		v1.GET("/history/:entity/:id", libraryHandler.History)
	}
	return r
}
