package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/medreminder/internal/config"
	"github.com/medreminder/internal/handler"
	"go.uber.org/zap"
)

// SetupRouter 配置 Gin 引擎和路由
func SetupRouter(api *handler.API, cfg config.AppConfig, logger *zap.Logger) *gin.Engine {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := gin.New()
	r.Use(handler.RequestID())
	r.Use(handler.RequestLogger(logger))
	r.Use(handler.Recovery(logger))

	corsCfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Content-Type", "Accept-Language", "X-Request-ID"},
		ExposeHeaders: []string{"Content-Length", "X-Request-ID"},
		MaxAge:        12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 0 || (len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*") {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))
	r.Use(handler.LocaleMiddleware())

	r.GET("/ping", api.Ping)

	apiGroup := r.Group("/api")
	apiGroup.Use(handler.NewRateLimiter(cfg.RateLimitPerMinute).Middleware())
	{
		apiGroup.POST("/medications", api.CreateMedication)
		apiGroup.GET("/medications/:id", api.GetMedication)
		apiGroup.PUT("/medications/:id", api.UpdateMedication)
		apiGroup.DELETE("/medications/:id", api.DeleteMedication)
		apiGroup.POST("/medications/:id/reminders", api.CreateReminders)

		apiGroup.POST("/reminders/:id/take", api.TakeDose)

		patients := apiGroup.Group("/patients/:patientId")
		{
			patients.GET("/reminders/today", api.ListTodayReminders)
			patients.GET("/taken", api.ListTaken)
			patients.GET("/points", api.GetPoints)
			patients.POST("/points/deduct", api.DeductPoints)
			patients.GET("/effects", api.ListEffects)
			patients.POST("/effects", api.ActivateEffect)
			patients.POST("/effects/purchase", api.PurchaseEffect)
			patients.POST("/streak/evaluate", api.EvaluateStreak)
		}
	}

	return r
}
