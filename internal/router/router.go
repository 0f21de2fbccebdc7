package router

import (
	"fmt"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/handler"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	ExamSession *handler.ExamSessionHandler
	Certificate *handler.CertificateHandler
	WS          *handler.WSHandler
	Monitor     *handler.MonitorHandler
	Proctor     *handler.ProctorHandler
	System      *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	cfg *config.Config,
) (*gin.Engine, error) {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ClientIP keys the per-IP limits, so forwarding headers are only read
	// from configured proxies.
	if err := router.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}

	if cfg.OTelEnabled {
		router.Use(otelgin.Middleware(cfg.OTelServiceName))
	}

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	router.GET("/health", handlers.System.Health)

	// ─── 0. Public Group (No Auth) ─────────────────────────────────────
	publicAPI := router.Group("/api/v1/public")
	publicAPI.Use(middleware.NoStore())
	{
		publicAPI.GET("/certificates/verify", handlers.Certificate.Verify)
	}

	// ─── 1. Student Group (Student JWT) ────────────────────────────────
	student := router.Group("/api/v1/student")
	student.Use(middleware.RequireStudentJWT(authService), middleware.NoStore())
	{
		student.POST("/exams/:exam_id/session", handlers.ExamSession.StartSession)
		student.GET("/exams/:exam_id/session", handlers.ExamSession.GetSession)
		student.POST("/exams/:exam_id/sessions/:session_id/submit", handlers.ExamSession.Submit)
		student.PUT("/sessions/:session_id/snapshot", handlers.ExamSession.AutoSave)
		student.POST("/sessions/:session_id/flags", handlers.ExamSession.ReportFlag)
	}

	// ─── 2. Student WebSocket (token in query) ─────────────────────────
	wsGroup := router.Group("/ws/v1/student")
	wsGroup.Use(middleware.RequireStudentWSAuth(authService))
	{
		wsGroup.GET("/exams/:exam_id/stream", handlers.WS.ExamWebSocketStream)
	}

	// ─── 3. Admin Group (Admin JWT + permissions) ──────────────────────
	admin := router.Group("/api/v1/admin")
	admin.Use(middleware.RequireAdminJWT(authService))
	{
		proctor := admin.Group("")
		proctor.Use(middleware.RequirePermission(service.PermissionExamsProctor))
		{
			proctor.GET("/exams/:exam_id/monitor", handlers.Monitor.MonitorExamSSE)
			proctor.GET("/exams/:exam_id/students/:student_id/lock", handlers.Proctor.LockStatus)
			proctor.POST("/sessions/:session_id/pause", handlers.Proctor.PauseSession)
		}

		grading := admin.Group("")
		grading.Use(middleware.RequirePermission(service.PermissionExamsGrade))
		{
			grading.POST("/sessions/:session_id/ai-grade", handlers.Proctor.RequestAIGrading)
		}
	}

	return router, nil
}
