package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/scribelink/scribelink-api/internal/middleware"
	"github.com/scribelink/scribelink-api/internal/models"
	"github.com/scribelink/scribelink-api/internal/repository"
	"github.com/scribelink/scribelink-api/internal/service"
	"github.com/scribelink/scribelink-api/pkg/config"
	"github.com/scribelink/scribelink-api/pkg/logger"
	corsmiddleware "github.com/scribelink/scribelink-api/pkg/middleware/cors"
	reqidmiddleware "github.com/scribelink/scribelink-api/pkg/middleware/requestid"
)

// RouterDeps carries everything the HTTP layer needs.
type RouterDeps struct {
	Config  *config.Config
	Logger  *zap.Logger
	DB      *sqlx.DB
	Cache   *repository.CacheRepository
	Metrics *service.MetricsService

	Auth          *AuthHandler
	Students      *StudentHandler
	Volunteers    *VolunteerHandler
	Requests      *RequestHandler
	Notifications *NotificationHandler
	Admin         *AdminHandler

	AuthService *service.AuthService
}

// NewRouter builds the gin engine with middleware and all route groups.
func NewRouter(deps RouterDeps) *gin.Engine {
	if deps.Config.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(deps.Logger))
	r.Use(corsmiddleware.New(deps.Config.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(deps.Metrics))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		checks := gin.H{"database": "ok", "cache": "ok"}
		status := http.StatusOK
		if err := deps.DB.PingContext(ctx); err != nil {
			checks["database"] = err.Error()
			status = http.StatusServiceUnavailable
		}
		if err := deps.Cache.Ping(ctx); err != nil {
			checks["cache"] = err.Error()
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, checks)
	})

	r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))

	if deps.Config.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	authRequired := middleware.JWT(deps.AuthService)
	studentOnly := middleware.RequireRoles(models.RoleStudent)
	volunteerOnly := middleware.RequireRoles(models.RoleVolunteer)
	adminOnly := middleware.RequireRoles(models.RoleAdmin)

	v1 := r.Group("/api/v1")

	auth := v1.Group("/auth")
	{
		auth.POST("/register/student", deps.Auth.RegisterStudent)
		auth.POST("/register/volunteer", deps.Auth.RegisterVolunteer)
		auth.POST("/login", deps.Auth.Login)
		auth.POST("/refresh", deps.Auth.Refresh)
		auth.POST("/logout", authRequired, deps.Auth.Logout)
		auth.PUT("/password", authRequired, deps.Auth.ChangePassword)
		auth.GET("/me", authRequired, deps.Auth.Me)
	}

	students := v1.Group("/students", authRequired, studentOnly)
	{
		students.GET("/me", deps.Students.GetProfile)
		students.PUT("/me", deps.Students.UpdateProfile)
	}

	volunteers := v1.Group("/volunteers")
	{
		volunteers.GET("", deps.Volunteers.Directory)
		volunteers.GET("/me", authRequired, volunteerOnly, deps.Volunteers.GetProfile)
		volunteers.PUT("/me", authRequired, volunteerOnly, deps.Volunteers.UpdateProfile)
		volunteers.GET("/me/matches", authRequired, volunteerOnly, deps.Volunteers.Matches)
		volunteers.GET("/:id", deps.Volunteers.GetByID)
	}

	requests := v1.Group("/requests", authRequired)
	{
		requests.POST("", studentOnly, deps.Requests.Create)
		requests.GET("", deps.Requests.ListMine)
		requests.GET("/:id", deps.Requests.Get)
		requests.POST("/:id/accept", volunteerOnly, deps.Requests.Accept)
		requests.POST("/:id/start", volunteerOnly, deps.Requests.Start)
		requests.POST("/:id/complete", volunteerOnly, deps.Requests.Complete)
		requests.POST("/:id/cancel", studentOnly, deps.Requests.Cancel)
		requests.POST("/:id/rating", studentOnly, deps.Requests.SubmitRating)
		requests.POST("/:id/materials", studentOnly, deps.Requests.UploadMaterial)
		requests.GET("/:id/materials/:materialId/url", deps.Requests.MaterialURL)
	}

	// The signed token in the query string is the credential here.
	v1.GET("/materials/download", deps.Requests.DownloadMaterial)

	notifications := v1.Group("/notifications", authRequired)
	{
		notifications.GET("", deps.Notifications.List)
		notifications.GET("/unread-count", deps.Notifications.UnreadCount)
		notifications.POST("/read-all", deps.Notifications.MarkAllRead)
		notifications.POST("/:id/read", deps.Notifications.MarkRead)
	}

	admin := v1.Group("/admin", authRequired, adminOnly)
	{
		admin.GET("/stats", deps.Admin.Stats)
		admin.GET("/metrics", deps.Admin.SystemMetrics)
		admin.GET("/users", deps.Admin.ListUsers)
		admin.PUT("/users/:id/active", deps.Admin.SetUserActive)
		admin.PUT("/volunteers/:id/verify", deps.Admin.VerifyVolunteer)
		admin.GET("/exports/completed", deps.Admin.ExportCompleted)
	}

	return r
}
