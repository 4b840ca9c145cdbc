package tenant

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/propline/onboarding/internal/logging"
	"github.com/propline/onboarding/internal/validation"
)

// AdminHeader carries the operator secret on admin routes.
const AdminHeader = "X-Admin-Secret"

// RequireAdmin rejects requests whose X-Admin-Secret does not match secret.
// With no secret configured every request is rejected.
func RequireAdmin(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(AdminHeader)
		if secret == "" || got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": "admin access required"})
			return
		}
		c.Next()
	}
}

// Handler provides admin HTTP endpoints for tenants.
type Handler struct {
	service *Service
}

// NewHandler creates a new tenant handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterAdminRoutes sets up the admin tenant routes. The caller applies
// RequireAdmin to the group.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/tenants/:id", h.GetTenant)
	r.GET("/tenants/:id/subscription", h.GetSubscription)
	r.PUT("/tenants/:id/billing", h.UpdateBilling)
}

// GetTenant handles GET /v1/admin/tenants/:id
func (h *Handler) GetTenant(c *gin.Context) {
	t, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenant": t})
}

// GetSubscription handles GET /v1/admin/tenants/:id/subscription
func (h *Handler) GetSubscription(c *gin.Context) {
	sub, err := h.service.Subscription(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscription": sub})
}

// UpdateBilling handles PUT /v1/admin/tenants/:id/billing
func (h *Handler) UpdateBilling(c *gin.Context) {
	var req struct {
		StripeCustomerID string `json:"stripeCustomerId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "stripeCustomerId required"})
		return
	}
	ref := validation.SanitizeString(req.StripeCustomerID, 255)
	if !strings.HasPrefix(ref, "cus_") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "stripeCustomerId must start with cus_"})
		return
	}

	t, err := h.service.LinkCustomer(c.Request.Context(), c.Param("id"), ref)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenant": t})
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrTenantNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "tenant not found"})
	case errors.Is(err, ErrSubscriptionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "subscription not found"})
	case errors.Is(err, ErrCustomerRefTaken):
		c.JSON(http.StatusConflict, gin.H{"error": "customer_taken", "message": "customer is linked to another tenant"})
	default:
		logging.L(c.Request.Context()).Error("tenant request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Internal error"})
	}
}
