package router

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"pomodoro/timerd/internal/handler"
	"pomodoro/timerd/internal/middleware"
	"pomodoro/timerd/internal/service"
)

func New(
	authService *service.AuthService,
	authHandler *handler.AuthHandler,
	timerHandler *handler.TimerHandler,
	corsOrigins []string,
	logger *slog.Logger,
) *gin.Engine {
	engine := gin.New()
	engine.Use(middleware.RequestLogger(logger), gin.Recovery(), middleware.CORS(corsOrigins))

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := engine.Group("/api")
	auth := api.Group("/auth")
	auth.POST("/register", authHandler.Register)
	auth.POST("/login", authHandler.Login)

	timer := api.Group("/timer")
	timer.Use(middleware.Auth(authService))
	timer.GET("/state", timerHandler.GetState)
	timer.POST("/start", timerHandler.Start)
	timer.POST("/pause", timerHandler.Pause)
	timer.POST("/reset", timerHandler.Reset)
	timer.POST("/complete", timerHandler.Complete)
	timer.POST("/mode", timerHandler.SwitchMode)
	timer.POST("/profile", timerHandler.SetActiveProfile)
	timer.GET("/profiles", timerHandler.ListProfiles)
	timer.POST("/profiles", timerHandler.AddProfile)
	timer.DELETE("/profiles/:id", timerHandler.DeleteProfile)
	timer.GET("/history", timerHandler.GetHistory)

	return engine
}
