package app

import (
	"gradeglide_backend/docs"
	"gradeglide_backend/internal/config"
	"gradeglide_backend/internal/middleware"
	"gradeglide_backend/pkg/monitoring"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func (a *App) registerRoutes(router *gin.Engine, c *controllers, cfg *config.Config) {
	docs.SwaggerInfo.BasePath = "/api"
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/swagger/doc.json")))

	router.GET("/metrics", monitoring.PrometheusHandler())

	// 1. 公共路由(无需登录)
	a.registerPublicRoutes(router, c)

	// 2. 阅卷路由，开启鉴权时需要教师登录
	api := router.Group("/api")
	if cfg.Auth.Enabled {
		api.Use(middleware.AuthMiddleware(cfg.JWT.Secret))
		api.GET("/auth/profile", c.auth.Profile)
	}
	{
		a.registerSessionRoutes(api, c)
		a.registerAnswerKeyRoutes(api, c)
	}
}

func (a *App) registerPublicRoutes(router *gin.Engine, c *controllers) {
	public := router.Group("/api")
	{
		public.GET("/health", c.health.HealthCheck)

		if a.Config.Auth.Enabled {
			public.POST("/auth/register", c.auth.Register)
			public.POST("/auth/login", c.auth.Login)
		}
	}
}

func (a *App) registerSessionRoutes(api *gin.RouterGroup, c *controllers) {
	api.POST("/upload/session", c.upload.UploadSheet)

	sessions := api.Group("/sessions")
	{
		sessions.GET("", c.session.List)
		sessions.GET("/stats", c.session.Stats)
		sessions.GET("/:id", c.session.Get)
		sessions.DELETE("/:id", c.session.Delete)
		sessions.PATCH("/:id/marks", c.session.UpdateMarks)
		sessions.POST("/:id/finalise", c.session.Finalise)
		sessions.GET("/:id/export", c.session.Export)
		sessions.GET("/:id/pages/:page", c.session.Page)
		sessions.GET("/:id/pages/:page/annotated", c.session.AnnotatedPage)
	}
}

func (a *App) registerAnswerKeyRoutes(api *gin.RouterGroup, c *controllers) {
	keys := api.Group("/answer-keys")
	{
		keys.GET("", c.answerKey.List)
		keys.POST("", c.answerKey.Create)
		keys.POST("/extract", c.answerKey.Extract)
		keys.GET("/:id", c.answerKey.Get)
		keys.DELETE("/:id", c.answerKey.Delete)
	}
}
