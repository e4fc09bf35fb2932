package routes

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cppla/socialfeed/config"
	"github.com/cppla/socialfeed/controllers"
	"github.com/cppla/socialfeed/middleware"
	"github.com/cppla/socialfeed/utils"
)

const postDetailRoute = "/api/v1/posts/:id"

// Service is everything the router needs from feed.Service.
type Service interface {
	controllers.FeedService
	middleware.ViewRecorder
}

// SetupRouter wires routes, middlewares, and controllers.
func SetupRouter(cfg config.AppConfig, svc Service, logger *zap.Logger) *gin.Engine {
	switch strings.ToLower(cfg.GinMode) {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := gin.New()
	r.Use(middleware.RequestID())

	// access log goes to its own rolling file when one is configured
	accessLog := logger
	if cfg.GinPath != "" {
		gl, err := utils.NewRollingFileLogger(cfg.GinPath, cfg.LogLevel, cfg.LogMaxSizeMB, cfg.LogMaxBackups, cfg.LogMaxAgeDays, cfg.LogCompress)
		if err == nil {
			accessLog = gl
		} else {
			logger.Warn("gin log file unavailable, using app logger", zap.String("path", cfg.GinPath), zap.Error(err))
		}
	}
	r.Use(utils.GinZap(accessLog, time.RFC3339, true))
	r.Use(utils.RecoveryWithZap(accessLog, true))

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposeHeaders:    []string{"Content-Length", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*" {
		corsCfg.AllowAllOrigins = true
		// credentials cannot be combined with a wildcard origin
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))

	r.GET("/health", func(ctx *gin.Context) {
		utils.Success(ctx, gin.H{"status": "ok"})
	})

	feedController := controllers.NewFeedController(svc, logger)

	api := r.Group("/api/v1")

	postsGroup := api.Group("/posts")
	postsGroup.GET("", feedController.ListPosts)
	postsGroup.GET("/:id", middleware.ViewCounter(svc, postDetailRoute, logger), feedController.GetPost)

	api.GET("/users/:id/posts", feedController.ListUserPosts)

	feedGroup := api.Group("/feed")
	feedGroup.GET("/categories", feedController.Categories)
	feedGroup.GET("/tags/popular", feedController.PopularTags)

	protected := api.Group("")
	protected.Use(middleware.AuthRequired(cfg.JWTSecret), middleware.RateLimitMiddleware(cfg.RateLimitPerMinute))
	protected.POST("/posts", feedController.CreatePost)
	protected.POST("/posts/:id/like", feedController.LikePost)

	r.NoRoute(func(ctx *gin.Context) {
		utils.Error(ctx, http.StatusNotFound, 40400, "api route not found")
	})

	return r
}
