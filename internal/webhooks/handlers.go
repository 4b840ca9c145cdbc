package webhooks

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/propline/onboarding/internal/logging"
)

// MaxPayloadBytes bounds a webhook body.
const MaxPayloadBytes = 1 << 20

// SignatureHeader carries the processor's payload signature.
const SignatureHeader = "Stripe-Signature"

// Handler provides the processor-facing webhook endpoint.
type Handler struct {
	processor *Processor
}

// NewHandler creates a new webhook handler.
func NewHandler(processor *Processor) *Handler {
	return &Handler{processor: processor}
}

// RegisterRoutes sets up webhook routes. The body must reach Receive
// unread, so the group must not bind or rewrite it.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/webhooks/stripe", h.Receive)
}

// Receive handles POST /webhooks/stripe
func (h *Handler) Receive(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, MaxPayloadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload_too_large", "message": "Webhook payload too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Failed to read request body"})
		return
	}

	res, err := h.processor.Handle(c.Request.Context(), body, c.GetHeader(SignatureHeader))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"received": true, "outcome": res.Outcome})
	case errors.Is(err, ErrInvalidSignature):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_signature", "message": "Invalid signature"})
	case errors.Is(err, ErrMalformedPayload):
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed_payload", "message": "Malformed event payload"})
	default:
		logging.L(c.Request.Context()).Error("webhook processing failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "processing_failed", "message": "Webhook processing failed"})
	}
}
