package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"purchase-service/internal/finance"
	"purchase-service/internal/inventory"
	"purchase-service/internal/models"
	"purchase-service/internal/saga"
	"purchase-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DecisionPublisher queues manual approval decisions on the
// approval-decision channel, where the decision worker is the single
// applier.
type DecisionPublisher interface {
	PublishApprovalDecision(ctx context.Context, event *models.ApprovalDecisionEvent) error
}

// Handler contains HTTP handlers
type Handler struct {
	coordinator *saga.Coordinator
	engine      *inventory.Engine
	correlator  *finance.Correlator
	automation  *finance.Automation
	decisions   DecisionPublisher
}

// NewHandler creates a new HTTP handler
func NewHandler(
	coordinator *saga.Coordinator,
	engine *inventory.Engine,
	correlator *finance.Correlator,
	automation *finance.Automation,
	decisions DecisionPublisher,
) *Handler {
	return &Handler{
		coordinator: coordinator,
		engine:      engine,
		correlator:  correlator,
		automation:  automation,
		decisions:   decisions,
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
		v1.POST("/purchases", h.processPurchase)

		inv := v1.Group("/inventory")
		{
			inv.POST("", h.createInventory)
			inv.GET("/:productCode", h.getInventory)
			inv.GET("/:productCode/availability", h.getAvailability)
			inv.POST("/:productCode/restock", h.restock)
			inv.GET("/:productCode/reservations", h.listReservationsByProduct)
		}

		res := v1.Group("/reservations")
		{
			res.POST("", h.reserve)
			res.GET("/:id", h.getReservation)
			res.POST("/:id/confirm", h.confirmReservation)
			res.POST("/:id/cancel", h.cancelReservation)
			res.POST("/release-expired", h.releaseExpired)
			res.GET("", h.listReservationsByStatus)
		}

		fin := v1.Group("/finance")
		{
			fin.POST("/requests", h.createFinanceRequest)
			fin.GET("/requests/:id", h.getFinanceRequest)
			fin.GET("/requests", h.listFinanceRequests)
			fin.POST("/requests/:id/approve", h.approveRequest)
			fin.POST("/requests/:id/decline", h.declineRequest)
			fin.POST("/requests/reprocess", h.reprocessPending)

			fin.GET("/automation", h.getAutomationConfig)
			fin.PUT("/automation", h.updateAutomationConfig)
		}
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

// processPurchase runs the full purchase workflow
func (h *Handler) processPurchase(c *gin.Context) {
	var req saga.PurchaseRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	outcome := h.coordinator.ProcessPurchase(c.Request.Context(), &req)
	if !outcome.Success {
		// Failed sagas still return a structured outcome so the caller
		// sees the pricing breakdown accumulated before the failure.
		c.JSON(http.StatusUnprocessableEntity, outcome)
		return
	}

	c.JSON(http.StatusOK, outcome)
}

type createInventoryRequest struct {
	ProductCode       string `json:"product_code" binding:"required"`
	StoreID           string `json:"store_id"`
	Quantity          int    `json:"quantity" binding:"min=0"`
	LowStockThreshold int    `json:"low_stock_threshold"`
}

// createInventory registers a new product's stock record
func (h *Handler) createInventory(c *gin.Context) {
	var req createInventoryRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	inv, err := h.engine.CreateInventory(c.Request.Context(), req.ProductCode, req.StoreID, req.Quantity, req.LowStockThreshold)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, inv)
}

// getInventory returns the stock record for a product
func (h *Handler) getInventory(c *gin.Context) {
	inv, err := h.engine.GetInventory(c.Request.Context(), c.Param("productCode"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, inv)
}

// getAvailability returns the available (unreserved) quantity for a product
func (h *Handler) getAvailability(c *gin.Context) {
	productCode := c.Param("productCode")

	available, err := h.engine.Available(c.Request.Context(), productCode)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"product_code": productCode,
		"available":    available,
	})
}

type restockRequest struct {
	Quantity int `json:"quantity" binding:"required,min=1"`
}

// restock adds stock to a product
func (h *Handler) restock(c *gin.Context) {
	var req restockRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	inv, err := h.engine.Restock(c.Request.Context(), c.Param("productCode"), req.Quantity)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, inv)
}

type reserveRequest struct {
	ProductCode string `json:"product_code" binding:"required"`
	Quantity    int    `json:"quantity" binding:"required,min=1"`
	Notes       string `json:"notes"`
}

// reserve places a hold on stock
func (h *Handler) reserve(c *gin.Context) {
	var req reserveRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	reservation, err := h.engine.Reserve(c.Request.Context(), req.ProductCode, req.Quantity, req.Notes)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, reservation)
}

// getReservation returns one reservation by ID
func (h *Handler) getReservation(c *gin.Context) {
	reservation, err := h.engine.GetReservation(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, reservation)
}

type reservationActionRequest struct {
	Notes  string `json:"notes"`
	Reason string `json:"reason"`
}

// confirmReservation turns a hold into a deduction
func (h *Handler) confirmReservation(c *gin.Context) {
	var req reservationActionRequest
	_ = c.ShouldBindJSON(&req)

	notes := req.Notes
	if notes == "" {
		notes = "Confirmed via API"
	}

	reservation, err := h.engine.Confirm(c.Request.Context(), c.Param("id"), notes)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, reservation)
}

// cancelReservation releases a hold without deducting stock
func (h *Handler) cancelReservation(c *gin.Context) {
	var req reservationActionRequest
	_ = c.ShouldBindJSON(&req)

	reason := req.Reason
	if reason == "" {
		reason = "Cancelled via API"
	}

	reservation, err := h.engine.Cancel(c.Request.Context(), c.Param("id"), reason)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, reservation)
}

// releaseExpired triggers an immediate expiry sweep
func (h *Handler) releaseExpired(c *gin.Context) {
	released, err := h.engine.SweepExpired(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"released": released,
	})
}

// listReservationsByProduct lists reservations for one product
func (h *Handler) listReservationsByProduct(c *gin.Context) {
	reservations, err := h.engine.ListReservationsByProduct(c.Request.Context(), c.Param("productCode"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reservations": reservations})
}

// listReservationsByStatus lists reservations filtered by status
func (h *Handler) listReservationsByStatus(c *gin.Context) {
	status := c.DefaultQuery("status", models.ReservationStatusPending)

	reservations, err := h.engine.ListReservationsByStatus(c.Request.Context(), status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reservations": reservations})
}

type createFinanceRequestBody struct {
	CustomerID string  `json:"customer_id" binding:"required"`
	Amount     float64 `json:"amount" binding:"required,gt=0"`
	Purpose    string  `json:"purpose"`
}

// createFinanceRequest submits a new approval request
func (h *Handler) createFinanceRequest(c *gin.Context) {
	var req createFinanceRequestBody

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	request, err := h.correlator.RequestApproval(c.Request.Context(), req.CustomerID, req.Amount, req.Purpose)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, request)
}

// getFinanceRequest returns one finance request by ID
func (h *Handler) getFinanceRequest(c *gin.Context) {
	request, err := h.correlator.GetRequest(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, request)
}

// listFinanceRequests lists requests by status or customer
func (h *Handler) listFinanceRequests(c *gin.Context) {
	if customerID := c.Query("customer_id"); customerID != "" {
		requests, err := h.correlator.ListRequestsByCustomer(c.Request.Context(), customerID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"requests": requests})
		return
	}

	status := c.DefaultQuery("status", models.FinanceStatusPending)
	requests, err := h.correlator.ListRequestsByStatus(c.Request.Context(), status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": requests})
}

type decisionRequestBody struct {
	DecidedBy string `json:"decided_by"`
	Notes     string `json:"notes"`
}

// approveRequest queues a manual approval decision
func (h *Handler) approveRequest(c *gin.Context) {
	h.queueDecision(c, models.DecisionApproved)
}

// declineRequest queues a manual decline decision
func (h *Handler) declineRequest(c *gin.Context) {
	h.queueDecision(c, models.DecisionDeclined)
}

// queueDecision publishes the decision on the approval-decision channel
// rather than applying it inline; the decision worker is the single applier,
// so a manual decision can never race one arriving on the channel. The
// response carries the request's current status, which is still PENDING
// until the worker gets to it.
func (h *Handler) queueDecision(c *gin.Context, decision string) {
	var req decisionRequestBody
	_ = c.ShouldBindJSON(&req)

	decidedBy := req.DecidedBy
	if decidedBy == "" {
		decidedBy = "MANUAL"
	}

	request, err := h.correlator.GetRequest(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	event := &models.ApprovalDecisionEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeApprovalDecision,
			Timestamp: time.Now(),
		},
		RequestID: request.RequestID,
		Decision:  decision,
		DecidedBy: decidedBy,
		Notes:     req.Notes,
	}
	if err := h.decisions.PublishApprovalDecision(c.Request.Context(), event); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, request)
}

// reprocessPending republishes every pending request for re-evaluation
func (h *Handler) reprocessPending(c *gin.Context) {
	count, err := h.correlator.ReprocessPending(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"reprocessed": count,
	})
}

// getAutomationConfig returns the current auto-approval policy
func (h *Handler) getAutomationConfig(c *gin.Context) {
	cfg := h.automation.Config()
	c.JSON(http.StatusOK, gin.H{
		"enabled":             cfg.Enabled,
		"threshold":           cfg.Threshold,
		"processing_delay_ms": cfg.ProcessingDelay.Milliseconds(),
	})
}

type automationConfigBody struct {
	Enabled           *bool    `json:"enabled"`
	Threshold         *float64 `json:"threshold"`
	ProcessingDelayMs *int64   `json:"processing_delay_ms"`
}

// updateAutomationConfig adjusts the auto-approval policy at runtime
func (h *Handler) updateAutomationConfig(c *gin.Context) {
	var req automationConfigBody

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	cfg := h.automation.Config()
	if req.Enabled != nil {
		cfg.Enabled = *req.Enabled
	}
	if req.Threshold != nil {
		cfg.Threshold = *req.Threshold
	}
	if req.ProcessingDelayMs != nil {
		cfg.ProcessingDelay = time.Duration(*req.ProcessingDelayMs) * time.Millisecond
	}
	h.automation.SetConfig(cfg)

	c.JSON(http.StatusOK, gin.H{
		"enabled":             cfg.Enabled,
		"threshold":           cfg.Threshold,
		"processing_delay_ms": cfg.ProcessingDelay.Milliseconds(),
	})
}

// respondError maps domain error types to HTTP statuses
func respondError(c *gin.Context, err error) {
	var insufficient *models.InsufficientStockError
	var notFound *models.NotFoundError
	var conflict *models.StateConflictError
	var expired *models.ExpiredError

	switch {
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &insufficient):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &expired):
		c.JSON(http.StatusGone, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrServiceUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Internal error",
			"details": err.Error(),
		})
	}
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
