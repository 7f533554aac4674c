package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"storefront-core/internal/models"
	"storefront-core/internal/service"
	"storefront-core/internal/store"
	"storefront-core/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler contains HTTP handlers
type Handler struct {
	carts          *service.CartService
	checkout       *service.CheckoutService
	lifecycle      *service.LifecycleService
	payments       *service.PaymentService
	reconciliation *service.ReconciliationService
	stock          *service.StockService
}

// NewHandler creates a new HTTP handler
func NewHandler(
	carts *service.CartService,
	checkout *service.CheckoutService,
	lifecycle *service.LifecycleService,
	payments *service.PaymentService,
	reconciliation *service.ReconciliationService,
	stock *service.StockService,
) *Handler {
	return &Handler{
		carts:          carts,
		checkout:       checkout,
		lifecycle:      lifecycle,
		payments:       payments,
		reconciliation: reconciliation,
		stock:          stock,
	}
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
		v1.GET("/variants/:id/stock", h.getVariantStock)

		v1.GET("/cart", h.getCart)
		v1.POST("/cart/items", h.reserve)
		v1.PATCH("/cart/items/:id", h.adjust)
		v1.DELETE("/cart/items/:id", h.release)
		v1.DELETE("/cart", h.releaseAll)

		v1.POST("/checkout", h.checkoutOrder)
		v1.GET("/orders/:id", h.getOrder)
		v1.POST("/orders/:id/status", h.transitionOrder)
		v1.POST("/orders/:id/confirm-delivery", h.confirmDelivery)
		v1.POST("/orders/:id/pay", h.payAgain)
		v1.POST("/orders/:id/payment/confirm", h.confirmCashPayment)
		v1.POST("/orders/:id/payment/reject", h.rejectPayment)
		v1.POST("/orders/:id/payment/finalize", h.finalizePayment)

		v1.GET("/payment/return", h.gatewayReturn)

		v1.POST("/reconciliation", h.reconcile)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// userID pulls the authenticated user from the header set by the edge; auth
// itself is outside this service.
func userID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.GetHeader("X-User-ID"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid user"})
		return 0, false
	}
	return id, true
}

func actor(c *gin.Context) string {
	if a := c.GetHeader("X-Actor"); a != "" {
		return a
	}
	return "system"
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

// writeError maps the business error taxonomy onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	if ise, ok := service.AsInsufficientStock(err); ok {
		c.JSON(http.StatusConflict, gin.H{
			"error":     "insufficient stock",
			"field":     "quantity",
			"available": ise.Available,
			"requested": ise.Requested,
		})
		return
	}

	var ve *service.ValidationError
	if errors.As(err, &ve) {
		c.JSON(http.StatusBadRequest, gin.H{"error": ve.Message, "field": ve.Field})
		return
	}

	switch {
	case errors.Is(err, service.ErrEmptySelection):
		c.JSON(http.StatusBadRequest, gin.H{"error": "no cart lines selected", "field": "items"})
	case errors.Is(err, service.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidSignature):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

type reserveRequest struct {
	VariantID int64 `json:"variant_id" binding:"required"`
	Quantity  int   `json:"quantity" binding:"required,min=1"`
}

func (h *Handler) reserve(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}

	var req reserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	line, err := h.carts.Reserve(c.Request.Context(), uid, req.VariantID, req.Quantity)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, line)
}

type adjustRequest struct {
	Quantity int `json:"quantity" binding:"gte=0"`
}

func (h *Handler) adjust(c *gin.Context) {
	if _, ok := userID(c); !ok {
		return
	}
	lineID, ok := pathID(c)
	if !ok {
		return
	}

	var req adjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	line, err := h.carts.Adjust(c.Request.Context(), lineID, req.Quantity)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, line)
}

func (h *Handler) release(c *gin.Context) {
	if _, ok := userID(c); !ok {
		return
	}
	lineID, ok := pathID(c)
	if !ok {
		return
	}

	if err := h.carts.Release(c.Request.Context(), lineID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) releaseAll(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}

	cart, _, err := h.carts.GetCart(c.Request.Context(), uid)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := h.carts.ReleaseAll(c.Request.Context(), cart.ID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) getCart(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}

	cart, lines, err := h.carts.GetCart(c.Request.Context(), uid)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cart": cart, "lines": lines})
}

func (h *Handler) getVariantStock(c *gin.Context) {
	variantID, ok := pathID(c)
	if !ok {
		return
	}

	available, err := h.stock.AvailableQuantity(c.Request.Context(), variantID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"variant_id": variantID, "available": available})
}

func (h *Handler) checkoutOrder(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}

	var req service.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}
	req.UserID = uid
	req.ClientIP = c.ClientIP()

	resp, err := h.checkout.Checkout(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) getOrder(c *gin.Context) {
	orderID, ok := pathID(c)
	if !ok {
		return
	}

	order, lines, history, err := h.lifecycle.GetOrderDetail(c.Request.Context(), orderID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order, "lines": lines, "history": history})
}

type transitionRequest struct {
	Status string `json:"status" binding:"required"`
	Note   string `json:"note,omitempty"`
}

func (h *Handler) transitionOrder(c *gin.Context) {
	orderID, ok := pathID(c)
	if !ok {
		return
	}

	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	order, err := h.lifecycle.Transition(c.Request.Context(), orderID, req.Status, actor(c), req.Note)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) confirmDelivery(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	orderID, ok := pathID(c)
	if !ok {
		return
	}

	order, err := h.lifecycle.ConfirmDelivery(c.Request.Context(), orderID, uid)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) payAgain(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	orderID, ok := pathID(c)
	if !ok {
		return
	}

	payURL, err := h.payments.BuildPaymentURLForOrder(c.Request.Context(), orderID, uid, c.ClientIP())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payment_url": payURL})
}

func (h *Handler) confirmCashPayment(c *gin.Context) {
	orderID, ok := pathID(c)
	if !ok {
		return
	}

	payment, err := h.payments.ConfirmCashPayment(c.Request.Context(), orderID, actor(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

func (h *Handler) rejectPayment(c *gin.Context) {
	orderID, ok := pathID(c)
	if !ok {
		return
	}

	payment, err := h.payments.RejectPayment(c.Request.Context(), orderID, actor(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

func (h *Handler) finalizePayment(c *gin.Context) {
	orderID, ok := pathID(c)
	if !ok {
		return
	}

	payment, err := h.payments.FinalizePayment(c.Request.Context(), orderID, actor(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

// gatewayReturn handles the gateway's signed callback. Verification happens
// before any state change; a bad signature is logged as a security event and
// nothing mutates. Redelivery of an applied reference is a no-op success.
func (h *Handler) gatewayReturn(c *gin.Context) {
	cb, err := h.payments.VerifyCallback(c.Request.URL.RawQuery)
	if err != nil {
		util.GatewayCallbacksTotal.WithLabelValues("invalid_signature").Inc()
		util.GetLogger().Warn("Gateway callback failed signature verification")
		writeError(c, err)
		return
	}

	payment, err := h.payments.HandleGatewayCallback(c.Request.Context(), cb)
	if err != nil {
		writeError(c, err)
		return
	}
	if payment == nil {
		c.JSON(http.StatusOK, gin.H{"status": "already_processed", "txn_ref": cb.TxnRef})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": payment.Status, "txn_ref": cb.TxnRef, "order_id": payment.OrderID})
}

type reconcileRequest struct {
	From         time.Time                   `json:"from" binding:"required"`
	To           time.Time                   `json:"to" binding:"required"`
	Transactions []models.GatewayTransaction `json:"transactions"`
}

func (h *Handler) reconcile(c *gin.Context) {
	var req reconcileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}
	if !req.To.After(req.From) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty date range", "field": "to"})
		return
	}

	report, err := h.reconciliation.Reconcile(c.Request.Context(), req.From, req.To, req.Transactions)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
