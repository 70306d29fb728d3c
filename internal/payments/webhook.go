package payments

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"formation-backend/internal/shared/server/respond"
	"formation-backend/internal/shared/telemetry"
	"formation-backend/internal/workflow"
)

const maxWebhookBody = 64 << 10

const (
	eventCheckoutCompleted     = "checkout.session.completed"
	eventAsyncPaymentSucceeded = "checkout.session.async_payment_succeeded"
)

// Provisioner creates the dossier for a paid order.
type Provisioner interface {
	ProvisionDossier(ctx context.Context, req workflow.ProvisionRequest) (workflow.ProvisionResult, error)
}

// Handler receives Stripe webhooks and provisions a dossier per paid checkout.
type Handler struct {
	Provisioner Provisioner
	Secret      string
}

func NewHandler(p Provisioner, secret string) *Handler {
	return &Handler{Provisioner: p, Secret: secret}
}

// RegisterRoutes attaches the webhook route. The route is public; the Stripe
// signature authenticates the caller.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/webhooks/stripe", h.stripe)
}

func (h *Handler) stripe(c *gin.Context) {
	if strings.TrimSpace(h.Secret) == "" {
		respond.Error(c, http.StatusServiceUnavailable, "webhook_disabled", "stripe webhook secret not configured", nil)
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "unable to read body", nil)
		return
	}

	event, err := webhook.ConstructEventWithOptions(payload, c.GetHeader("Stripe-Signature"), h.Secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "invalid_signature", "signature verification failed", nil)
		return
	}

	switch string(event.Type) {
	case eventCheckoutCompleted, eventAsyncPaymentSucceeded:
	default:
		respond.OK(c, gin.H{"received": true, "ignored": true})
		return
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid checkout session", nil)
		return
	}
	if session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		// Async methods settle later with async_payment_succeeded.
		respond.OK(c, gin.H{"received": true, "ignored": true})
		return
	}

	userID := strings.TrimSpace(session.Metadata["user_id"])
	if userID == "" {
		userID = strings.TrimSpace(session.ClientReferenceID)
	}
	productID := strings.TrimSpace(session.Metadata["product_id"])
	if userID == "" || productID == "" {
		telemetry.Warn("payments.checkout_missing_metadata", map[string]any{
			"event_id":   event.ID,
			"session_id": session.ID,
		})
		respond.Error(c, http.StatusBadRequest, "validation_error", "checkout session lacks user_id or product_id", nil)
		return
	}

	res, err := h.Provisioner.ProvisionDossier(c.Request.Context(), workflow.ProvisionRequest{
		UserID:    userID,
		ProductID: productID,
		OrderID:   session.ID,
		IsTest:    !session.Livemode,
		Source:    workflow.SourcePayment,
	})
	if err != nil {
		// 4xx tells Stripe not to retry a request that can never succeed.
		switch {
		case errors.Is(err, workflow.ErrNotFound), errors.Is(err, workflow.ErrInvalidInput), errors.Is(err, workflow.ErrFailedPrecondition):
			respond.Error(c, http.StatusUnprocessableEntity, "provision_rejected", err.Error(), nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to provision dossier", nil)
		}
		return
	}

	telemetry.Info("payments.checkout_provisioned", map[string]any{
		"event_id":   event.ID,
		"session_id": session.ID,
		"dossier_id": res.Dossier.ID,
		"created":    res.Created,
	})
	respond.OK(c, gin.H{"received": true, "dossierId": res.Dossier.ID, "created": res.Created})
}
