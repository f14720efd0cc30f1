package http

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"med-eval/internal/service"
)

// RouterOptions agrupa lo que el router necesita además de los handlers.
type RouterOptions struct {
	AllowedOrigins []string
	ServiceName    string
	Tracing        bool
}

// NewRouter configura el router de Gin con middlewares y rutas.
func NewRouter(
	logger *zap.Logger,
	opts RouterOptions,
	jwtSvc *service.JWTService,
	evalH *EvaluationHandler,
	analyticsH *AnalyticsHandler,
	authH *AuthHandler,
	schemaH *SchemaHandler,
) *gin.Engine {
	r := gin.New()

	if opts.Tracing {
		r.Use(otelgin.Middleware(opts.ServiceName))
	}
	// Middlewares basicos: logging, recovery, CORS y JSON content-type.
	r.Use(zapLoggerMiddleware(logger), gin.Recovery(), corsMiddleware(opts.AllowedOrigins), jsonContentTypeMiddleware())

	r.GET("/healthz", Health)
	r.GET("/schema", schemaH.GetSchema)

	r.POST("/admin/login", authH.AdminLogin)
	auth := r.Group("/auth")
	auth.POST("/refresh", authH.RefreshToken)
	auth.POST("/logout", authH.Logout)

	// El autosave del cliente usa este endpoint sin token: se autentica con credencial.
	r.POST("/evaluation", evalH.Submit)

	authed := r.Group("", JWTAuthMiddleware(jwtSvc))

	evaluation := authed.Group("/evaluation")
	evaluation.GET("", RequireAdmin(), evalH.List)
	evaluation.GET("/:id", RequireAdminOrSelf("id"), evalH.Get)
	evaluation.GET("/:id/export", RequireAdminOrSelf("id"), evalH.Export)
	evaluation.PUT("/:id", RequireAdmin(), evalH.Update)
	evaluation.DELETE("/:id", RequireAdmin(), evalH.Delete)

	analytics := authed.Group("/analytics", RequireAdmin())
	analytics.GET("/indicators", analyticsH.Indicators)
	analytics.GET("/overview", analyticsH.Overview)
	analytics.GET("/evaluators", analyticsH.Evaluators)
	analytics.GET("/dashboard", analyticsH.Dashboard)

	return r
}

// zapLoggerMiddleware crea un middleware simple de logging con zap.
func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", latency),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	return cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		ExposeHeaders:    []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

// jsonContentTypeMiddleware fuerza Content-Type: application/json en responses.
func jsonContentTypeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Content-Type", "application/json")
		c.Next()
	}
}
