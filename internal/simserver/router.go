package simserver

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/stemsi/exstem-session/internal/validator"
)

// Router builds the gin engine exposing the exam API under /api/v1.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	validator.Setup()

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	v1 := router.Group("/api/v1")
	{
		attempts := v1.Group("/attempts/:attempt_id")
		{
			attempts.GET("", s.handleGetAttempt)
			attempts.POST("/answers", s.handleSaveAnswers)
			attempts.POST("/submit", s.handleSubmit)
			attempts.POST("/beacon", s.handleBeacon)
			attempts.GET("/package-status", s.handlePackageStatus)
			attempts.POST("/cleanup", s.handleCleanup)
		}
	}

	return router
}
