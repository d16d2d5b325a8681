package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/4xmen/payveil/internal/payment"
)

const maxWebhookBody = 64 << 10

type WebhookHandler struct {
	payments *payment.Service
}

func NewWebhookHandler(payments *payment.Service) *WebhookHandler {
	return &WebhookHandler{payments: payments}
}

// Stripe records paid checkouts. Any non-2xx answer makes Stripe retry, so
// only signature problems are answered with 400.
func (h *WebhookHandler) Stripe(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		badRequest(c, "failed to read body")
		return
	}

	err = h.payments.HandleWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"received": true})
	case errors.Is(err, payment.ErrNotConfigured):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case payment.IsClientError(err):
		badRequest(c, err.Error())
	default:
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process webhook"})
	}
}
