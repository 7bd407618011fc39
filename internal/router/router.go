package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/quizrun/quizrun-backend/internal/config"
	"github.com/quizrun/quizrun-backend/internal/handler"
	"github.com/quizrun/quizrun-backend/internal/middleware"
	"github.com/quizrun/quizrun-backend/internal/response"
	"github.com/quizrun/quizrun-backend/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Attempt *handler.AttemptHandler
	WS      *handler.WSHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	tokenService *service.TokenService,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Apply brotli middleware globally.
	router.Use(middleware.Brotli())

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// Rate limiter for mutating attempt routes (120 requests per minute per
	// IP; an attempt answering once a second stays well under it).
	attemptLimiter := middleware.NewRateLimiter(120, time.Minute)

	// ─── 1. Attempt Group (Student JWT) ────────────────────────────────
	api := router.Group("/api/v1")
	api.Use(middleware.RequireStudentJWT(tokenService))
	{
		api.POST("/quizzes/:quiz_id/attempts", attemptLimiter.Middleware(), handlers.Attempt.Start)

		attempts := api.Group("/attempts")
		{
			attempts.GET("/:attempt_id", handlers.Attempt.GetSession)
			attempts.POST("/:attempt_id/answers", attemptLimiter.Middleware(), handlers.Attempt.SubmitAnswer)
			attempts.POST("/:attempt_id/pause", attemptLimiter.Middleware(), handlers.Attempt.Pause)
			attempts.POST("/:attempt_id/resume", attemptLimiter.Middleware(), handlers.Attempt.Resume)
			attempts.POST("/:attempt_id/submit", attemptLimiter.Middleware(), handlers.Attempt.Submit)
		}
	}

	// ─── 2. WebSocket Group (Student WS Auth) ──────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireStudentWSAuth(tokenService))
	{
		ws.GET("/attempts/:attempt_id/stream", handlers.WS.AttemptStream)
	}

	return router
}
