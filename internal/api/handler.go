package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"printshop-orders/internal/admin"
	"printshop-orders/internal/auth"
	"printshop-orders/internal/cart"
	"printshop-orders/internal/payment"
	"printshop-orders/internal/service"
	"printshop-orders/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Identity headers set by the upstream auth proxy
const (
	HeaderUserID         = "X-User-ID"
	HeaderUserEmail      = "X-User-Email"
	HeaderUserName       = "X-User-Name"
	HeaderIdempotencyKey = "Idempotency-Key"
)

// Tracker fetches the carrier's tracking document
type Tracker interface {
	Track(ctx context.Context, shipmentID, orderID string) (json.RawMessage, error)
}

// PingFunc reports whether a backing service is reachable
type PingFunc func(ctx context.Context) error

// Deps groups everything the HTTP layer calls into
type Deps struct {
	Carts       *cart.Service
	Checkout    *service.CheckoutService
	Ledger      *service.Ledger
	Profiles    *service.ProfileService
	Tickets     *service.TicketService
	Admin       *admin.ViewModel
	Auth        *auth.Authenticator
	Coordinator *payment.Coordinator
	Rates       service.RateSource
	Tracker     Tracker
	WeightKg    float64
	Ready       map[string]PingFunc
}

// Handler contains HTTP handlers
type Handler struct {
	d      Deps
	logger *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(d Deps) *Handler {
	return &Handler{d: d, logger: util.Named("api")}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/cart/:session", h.getCart)
		v1.POST("/cart/:session/items", h.addCartItem)
		v1.PATCH("/cart/:session/items/:product", h.updateCartItem)
		v1.DELETE("/cart/:session/items/:product", h.removeCartItem)
		v1.DELETE("/cart/:session", h.clearCart)

		v1.GET("/shipping/rates", h.shippingRates)

		v1.POST("/checkout/quote", h.quote)
		v1.GET("/checkout/return", h.redirectReturn)
		v1.POST("/payments/verify", h.verifyPayment)

		v1.GET("/orders/:orderId", h.getOrder)
		v1.GET("/orders/:orderId/tracking", h.trackOrder)

		v1.POST("/tickets", h.createTicket)

		v1.POST("/admin/login", h.adminLogin)
	}

	user := v1.Group("", requireUser())
	{
		user.GET("/checkout/prefill", h.prefill)
		user.POST("/checkout", h.placeOrder)
		user.POST("/checkout/intent", h.createIntent)
		user.POST("/checkout/confirm", h.confirmPayment)

		user.GET("/me/orders", h.myOrders)
		user.GET("/me/tickets", h.myTickets)
		user.GET("/me/profile", h.getProfile)
		user.PUT("/me/profile", h.updateProfile)
		user.POST("/me/addresses", h.addAddress)
		user.PUT("/me/addresses/:index", h.updateAddress)
		user.DELETE("/me/addresses/:index", h.deleteAddress)
		user.POST("/me/addresses/:index/default", h.setDefaultAddress)
	}

	ops := v1.Group("/admin", h.d.Auth.RequireAdmin(HeaderUserEmail))
	{
		ops.GET("/orders", h.adminOrders)
		ops.POST("/orders/:id/status", h.adminTransitionOrder)
		ops.GET("/tickets", h.adminTickets)
		ops.POST("/tickets/:id/status", h.adminTransitionTicket)
		ops.GET("/stats", h.adminStats)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every backing service
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := gin.H{}
	ready := true
	for name, ping := range h.d.Ready {
		if err := ping(ctx); err != nil {
			h.logger.Warn("Readiness check failed", zap.String("dependency", name), zap.Error(err))
			checks[name] = "unavailable"
			ready = false
			continue
		}
		checks[name] = "ok"
	}

	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not ready", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status": status,
		"checks": checks,
		"time":   time.Now().Unix(),
	})
}

// requireUser rejects requests without the upstream user id
func requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader(HeaderUserID) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "sign in required"})
			return
		}
		c.Next()
	}
}

func userID(c *gin.Context) string {
	return c.GetHeader(HeaderUserID)
}

func bindJSON(c *gin.Context, v interface{}) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return false
	}
	return true
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			path,
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			path,
			status,
		).Inc()
	}
}
