package onboarding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/propline/onboarding/internal/billing"
	"github.com/propline/onboarding/internal/logging"
)

// TokenHeader carries the session token on read requests.
const TokenHeader = "X-Onboarding-Token"

// ContextKeyUserID is set by upstream authentication when the visitor is
// already signed in.
const ContextKeyUserID = "authUserId"

// SessionRequest is the wizard's single mutation payload.
type SessionRequest struct {
	Action       string          `json:"action"`
	SessionToken string          `json:"sessionToken"`
	Step         int             `json:"step"`
	Data         json.RawMessage `json:"data"`
}

// PaymentIntentRequest asks for a payment intent for the session's plan.
type PaymentIntentRequest struct {
	SessionToken string `json:"sessionToken" binding:"required"`
	Tier         string `json:"tier" binding:"required"`
	BillingCycle string `json:"billingCycle"`
}

// Handler provides HTTP endpoints for the onboarding wizard.
type Handler struct {
	service *Service
	bridge  *Bridge
}

// NewHandler creates a new onboarding handler.
func NewHandler(service *Service, bridge *Bridge) *Handler {
	return &Handler{service: service, bridge: bridge}
}

// RegisterRoutes sets up the wizard routes. They are authenticated by the
// session token alone.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/onboarding/session", h.Session)
	r.GET("/onboarding/session", h.GetSession)
	r.POST("/onboarding/payment-intent", h.CreatePaymentIntent)
}

// Session handles POST /v1/onboarding/session
func (h *Handler) Session(c *gin.Context) {
	var req SessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Invalid request body"})
		return
	}

	ctx := c.Request.Context()
	switch req.Action {
	case "create":
		sess, err := h.service.Create(ctx, c.GetString(ContextKeyUserID))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"session": sess})

	case "update":
		if req.SessionToken == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "sessionToken is required"})
			return
		}
		sess, err := h.service.UpdateStep(ctx, req.SessionToken, req.Step, req.Data)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"session": sess})

	case "complete":
		if req.SessionToken == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "sessionToken is required"})
			return
		}
		done, err := h.service.Complete(ctx, req.SessionToken)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, done)

	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "action must be one of create, update, complete",
		})
	}
}

// GetSession handles GET /v1/onboarding/session
func (h *Handler) GetSession(c *gin.Context) {
	token := c.GetHeader(TokenHeader)
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": TokenHeader + " header is required"})
		return
	}
	sess, err := h.service.Get(c.Request.Context(), token)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": sess})
}

// CreatePaymentIntent handles POST /v1/onboarding/payment-intent
func (h *Handler) CreatePaymentIntent(c *gin.Context) {
	var req PaymentIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "sessionToken and tier are required"})
		return
	}

	tier, ok := billing.ParseTier(req.Tier)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_data", "message": "Unknown tier", "field": "tier"})
		return
	}
	var cycle billing.BillingCycle
	if req.BillingCycle != "" {
		if cycle, ok = billing.ParseCycle(req.BillingCycle); !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_data", "message": "billingCycle must be MONTHLY or YEARLY", "field": "billingCycle"})
			return
		}
	}

	pi, err := h.bridge.CreatePaymentIntent(c.Request.Context(), req.SessionToken, tier, cycle)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, pi)
}

// writeError maps domain errors to status codes. Anything unrecognised is
// an infrastructure failure and is logged, not echoed.
func writeError(c *gin.Context, err error) {
	var (
		verr *ValidationError
		perr *billing.ProcessorError
	)
	switch {
	case errors.Is(err, ErrInvalidToken):
		c.JSON(http.StatusNotFound, gin.H{"error": "invalid_token", "message": "Invalid session token"})
	case errors.Is(err, ErrSessionExpired):
		c.JSON(http.StatusGone, gin.H{"error": "session_expired", "message": "Onboarding session has expired"})
	case errors.Is(err, ErrSessionAlreadyCompleted):
		c.JSON(http.StatusConflict, gin.H{"error": "session_completed", "message": "Onboarding session already completed"})
	case errors.Is(err, ErrInvalidStep):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_step", "message": "step must be 1, 2 or 3"})
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_data", "message": verr.Error(), "field": verr.Field})
	case errors.Is(err, ErrOrgNameRequired):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_data", "message": "Organization name is required", "field": "orgName"})
	case errors.Is(err, ErrTierRequired):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_data", "message": "Subscription tier is required", "field": "selectedTier"})
	case errors.Is(err, ErrPaymentRequired):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": "payment_required", "message": "Payment required to complete onboarding"})
	case errors.Is(err, billing.ErrTierNotPurchasable):
		c.JSON(http.StatusBadRequest, gin.H{"error": "tier_not_purchasable", "message": "This tier does not take an upfront payment"})
	case errors.Is(err, billing.ErrUnknownTier), errors.Is(err, billing.ErrUnknownCycle):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_data", "message": err.Error()})
	case errors.Is(err, ErrPlanMismatch):
		c.JSON(http.StatusConflict, gin.H{"error": "plan_mismatch", "message": "Plan differs from the selected or paid plan"})
	case errors.Is(err, ErrPlanLocked):
		c.JSON(http.StatusConflict, gin.H{"error": "plan_locked", "message": "Plan cannot change after payment succeeded"})
	case errors.Is(err, ErrPaymentAlreadySucceeded):
		c.JSON(http.StatusConflict, gin.H{"error": "payment_succeeded", "message": "Payment for this session already succeeded"})
	case errors.As(err, &perr), errors.Is(err, context.DeadlineExceeded):
		logging.L(c.Request.Context()).Error("payment processor call failed", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "processor_error", "message": "Payment processor unavailable, try again"})
	default:
		logging.L(c.Request.Context()).Error("onboarding request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Internal error"})
	}
}
