package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"commerce-service/internal/service"
	"commerce-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler contains HTTP handlers
type Handler struct {
	orders        *service.OrderService
	cancellations *service.CancellationService
	subscriptions *service.SubscriptionService
}

// NewHandler creates a new HTTP handler
func NewHandler(
	orders *service.OrderService,
	cancellations *service.CancellationService,
	subscriptions *service.SubscriptionService,
) *Handler {
	return &Handler{
		orders:        orders,
		cancellations: cancellations,
		subscriptions: subscriptions,
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
		v1.POST("/orders", h.createOrder)
		v1.GET("/orders", h.listOrders)
		v1.GET("/orders/:id", h.getOrder)
		v1.PUT("/orders/:id/status", h.updateOrderStatus)

		cancellation := v1.Group("/cancellation")
		{
			cancellation.GET("/details/:orderId", h.cancellationDetails)
			cancellation.POST("/request-cancellation/:userId", h.requestCancellation)
			cancellation.POST("/request-return/:userId", h.requestReturn)
			cancellation.GET("/history/:userId", h.cancellationHistory)
			cancellation.GET("/refund-status/:orderId", h.refundStatus)
			cancellation.GET("/admin/requests", h.listCancellationRequests)
			cancellation.POST("/admin/approve", h.approveCancellation)
		}

		v1.POST("/subscriptions/:userId", h.activateSubscription)
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

func (h *Handler) createOrder(c *gin.Context) {
	userID, ok := queryID(c, "userId")
	if !ok {
		return
	}

	var req service.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid request body", "details": err.Error()})
		return
	}

	order, err := h.orders.CreateOrder(c.Request.Context(), userID, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": "Order placed successfully", "order": order})
}

func (h *Handler) listOrders(c *gin.Context) {
	userID, ok := queryID(c, "userId")
	if !ok {
		return
	}

	orders, err := h.orders.ListOrders(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (h *Handler) getOrder(c *gin.Context) {
	orderID, ok := paramID(c, "id")
	if !ok {
		return
	}

	order, items, err := h.orders.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": order, "items": items})
}

type updateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

func (h *Handler) updateOrderStatus(c *gin.Context) {
	orderID, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid request body", "details": err.Error()})
		return
	}

	order, err := h.orders.UpdateOrderStatus(c.Request.Context(), orderID, req.Status)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Order status updated", "order": order})
}

func (h *Handler) cancellationDetails(c *gin.Context) {
	orderID, ok := paramID(c, "orderId")
	if !ok {
		return
	}

	details, err := h.cancellations.GetCancellationDetails(c.Request.Context(), orderID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, details)
}

func (h *Handler) requestCancellation(c *gin.Context) {
	userID, ok := paramID(c, "userId")
	if !ok {
		return
	}

	var req service.CancellationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid request body", "details": err.Error()})
		return
	}

	result, err := h.cancellations.RequestCancellation(c.Request.Context(), userID, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Order cancellation requested successfully",
		"order":   result.Order,
		"refund":  result.Refund,
	})
}

func (h *Handler) requestReturn(c *gin.Context) {
	userID, ok := paramID(c, "userId")
	if !ok {
		return
	}

	var req service.ReturnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid request body", "details": err.Error()})
		return
	}

	result, err := h.cancellations.RequestReturn(c.Request.Context(), userID, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":      "Return request submitted successfully",
		"order":        result.Order,
		"refund":       result.Refund,
		"refundAmount": result.RefundAmount,
	})
}

func (h *Handler) cancellationHistory(c *gin.Context) {
	userID, ok := paramID(c, "userId")
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
	skip, _ := strconv.Atoi(c.DefaultQuery("skip", "0"))

	page, err := h.cancellations.CancellationHistory(c.Request.Context(), userID, service.HistoryQuery{
		Status: c.Query("status"),
		Reason: c.Query("reason"),
		Limit:  limit,
		Skip:   skip,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, page)
}

func (h *Handler) refundStatus(c *gin.Context) {
	orderID, ok := paramID(c, "orderId")
	if !ok {
		return
	}

	var userID int64
	if raw := c.Query("userId"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid user ID format"})
			return
		}
		userID = parsed
	}

	timeline, err := h.cancellations.RefundStatus(c.Request.Context(), orderID, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, timeline)
}

func (h *Handler) listCancellationRequests(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	skip, _ := strconv.Atoi(c.DefaultQuery("skip", "0"))

	page, err := h.cancellations.ListCancellationRequests(c.Request.Context(), c.Query("status"), limit, skip)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, page)
}

func (h *Handler) approveCancellation(c *gin.Context) {
	var req service.ApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid request body", "details": err.Error()})
		return
	}

	order, err := h.cancellations.ApproveCancellation(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	message := "Cancellation rejected"
	if req.Approved {
		message = "Cancellation approved"
	}
	c.JSON(http.StatusOK, gin.H{"message": message, "order": order})
}

func (h *Handler) activateSubscription(c *gin.Context) {
	userID, ok := paramID(c, "userId")
	if !ok {
		return
	}

	var req service.ActivateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid request body", "details": err.Error()})
		return
	}

	sub, err := h.subscriptions.ActivateSubscription(c.Request.Context(), userID, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message":      "Subscription created successfully",
		"subscription": sub,
	})
}

// respondError maps service errors onto HTTP statuses
func respondError(c *gin.Context, err error) {
	var (
		validation *service.ValidationError
		notFound   *service.NotFoundError
		authz      *service.AuthorizationError
		transition *service.InvalidTransitionError
		window     *service.WindowExpiredError
		refund     *service.RefundError
	)

	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"message": validation.Error()})
	case errors.As(err, &transition):
		c.JSON(http.StatusBadRequest, gin.H{"message": transition.Error()})
	case errors.As(err, &window):
		c.JSON(http.StatusBadRequest, gin.H{"message": window.Error()})
	case errors.As(err, &authz):
		c.JSON(http.StatusForbidden, gin.H{"message": "Unauthorized access"})
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"message": notFound.Error()})
	case errors.As(err, &refund):
		c.JSON(http.StatusBadGateway, gin.H{"message": refund.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Internal Server Error"})
	}
}

func paramID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid " + name + " format"})
		return 0, false
	}
	return id, true
}

func queryID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Query(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid " + name + " format"})
		return 0, false
	}
	return id, true
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
