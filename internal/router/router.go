package router

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"khoaugment/internal/handler"
	"khoaugment/internal/handler/api"
	"khoaugment/internal/metrics"
	"khoaugment/internal/middleware"
	"khoaugment/internal/orchestrator"
	"khoaugment/internal/payment"
)

// Deps are the components the HTTP surface is built on.
type Deps struct {
	Orchestrator *orchestrator.Orchestrator
	Gateways     *payment.Registry
	Metrics      *metrics.Payments
	// MetricsHandler serves /metrics; promhttp.Handler() when nil.
	MetricsHandler http.Handler
	Logger         *zap.Logger
	APIKey         string
}

// Setup configures all routes for the Echo server.
func Setup(e *echo.Echo, deps Deps) {
	// Global middleware
	e.Use(echomw.Recover())
	e.Use(middleware.CORS())

	paymentHandler := api.NewPaymentHandler(deps.Orchestrator, deps.Logger)
	callbackHandler := handler.NewPaymentCallbackHandler(deps.Gateways, deps.Orchestrator, deps.Metrics, deps.Logger)

	// API group with logging + auth middleware
	apiGroup := e.Group("/api")
	apiGroup.Use(middleware.APILogger(deps.Logger.Named("http")))
	apiGroup.Use(middleware.APIAuth(deps.APIKey))
	apiGroup.POST("/payments", paymentHandler.Handle)
	apiGroup.GET("/payments", paymentHandler.Handle)

	// Provider callbacks, authenticated by their signatures
	paymentGroup := e.Group("/payment")
	paymentGroup.GET("/vnpay/callback", callbackHandler.VNPayCallback)
	paymentGroup.POST("/vnpay/callback", callbackHandler.VNPayCallback)
	paymentGroup.GET("/vnpay/return", callbackHandler.VNPayReturn)
	paymentGroup.POST("/momo/callback", callbackHandler.MoMoCallback)
	paymentGroup.POST("/zalopay/callback", callbackHandler.ZaloPayCallback)

	metricsHandler := deps.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	e.GET("/metrics", echo.WrapHandler(metricsHandler))

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
}
