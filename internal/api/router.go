package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/akylbek/payment-system/payment-reconciler/internal/auth"
	"github.com/akylbek/payment-system/payment-reconciler/internal/handlers"
	"github.com/akylbek/payment-system/payment-reconciler/internal/interfaces"
	"github.com/akylbek/payment-system/payment-reconciler/internal/service"
	"github.com/akylbek/payment-system/payment-reconciler/internal/telemetry"
)

const serviceName = "payment-reconciler"

type Dependencies struct {
	Store         interfaces.Store
	Authenticator auth.Authenticator
	Reconciler    *service.Reconciler
	Operations    *service.Operations
	Maintenance   *service.Maintenance
}

type Options struct {
	AllowedOrigins    []string
	MaintenanceSecret string
}

func NewRouter(deps Dependencies, opts Options) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Recovery())
	r.Use(telemetry.TracingMiddleware())
	r.Use(CORS(opts.AllowedOrigins))

	// Prometheus metrics
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": serviceName})
	})

	// Gateway 3D return
	webhookHandler := handlers.NewWebhookHandler(deps.Reconciler)
	r.POST("/bakiyem-3d-return", webhookHandler.HandleReturn)
	r.GET("/bakiyem-3d-return", webhookHandler.HandleReturn)

	requireUser := auth.RequireUser(deps.Authenticator)
	requireAdmin := auth.RequireAdmin(deps.Store)

	// Admin payment operations
	adminHandler := handlers.NewAdminHandler(deps.Operations)
	r.POST("/bakiyem-capture", requireUser, requireAdmin, adminHandler.Capture)
	r.POST("/bakiyem-refund", requireUser, requireAdmin, adminHandler.Refund)
	r.POST("/bakiyem-void", requireUser, requireAdmin, adminHandler.Void)
	r.POST("/bakiyem-tokenize-card", requireUser, adminHandler.TokenizeCard)

	stateHandler := handlers.NewPaymentStateHandler(deps.Store)
	r.GET("/payments/:id/state", requireUser, requireAdmin, stateHandler.GetPaymentState)

	maintenanceHandler := handlers.NewMaintenanceHandler(deps.Maintenance, opts.MaintenanceSecret)
	r.POST("/payment-maintenance", maintenanceHandler.Sweep)

	// Preflight is answered by the CORS middleware.
	for _, path := range []string{"/bakiyem-3d-return", "/bakiyem-capture", "/bakiyem-refund", "/bakiyem-void", "/bakiyem-tokenize-card", "/payment-maintenance"} {
		r.OPTIONS(path, func(c *gin.Context) {})
	}

	return r
}
