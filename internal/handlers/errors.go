package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/4xmen/payveil/internal/auth"
	"github.com/4xmen/payveil/internal/message"
	"github.com/4xmen/payveil/internal/partner"
	"github.com/4xmen/payveil/internal/payment"
	"github.com/4xmen/payveil/internal/payout"
	"github.com/4xmen/payveil/internal/push"
	"github.com/4xmen/payveil/internal/storage"
)

// respondError writes the JSON error envelope for err. Unknown errors are
// attached to the context for serverErrorLogger and answered with 500.
func respondError(c *gin.Context, err error) {
	var (
		gone     *message.GoneError
		invalid  *message.ValidationError
		procErr  *payment.ProcessorError
		upstream *payout.APIError
	)

	switch {
	case errors.As(err, &invalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": invalid.Msg})
	case errors.As(err, &gone):
		c.JSON(http.StatusGone, gin.H{"error": "message has disappeared", "reason": gone.Reason, "disappeared": true})
	case errors.Is(err, message.ErrLocked):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": "payment required to view this message"})
	case errors.Is(err, message.ErrAlreadyUnlocked), errors.Is(err, message.ErrExpired):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, message.ErrNotFound), errors.Is(err, storage.ErrNotFound), errors.Is(err, storage.ErrInvalidKey):
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
	case errors.Is(err, partner.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": partner.ErrNotFound.Error()})
	case errors.Is(err, message.ErrViewContention):
		c.Header("Retry-After", "1")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.Is(err, payment.ErrInvalidSignature), errors.Is(err, payment.ErrSessionMismatch):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.As(err, &procErr):
		c.Error(err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "payment provider unavailable"})
	case errors.Is(err, auth.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, auth.ErrEmailTaken):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, auth.ErrUserNotFound), errors.Is(err, payout.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
	case errors.Is(err, payout.ErrNoPayoutMethod), errors.Is(err, payout.ErrInvalidAmount), errors.Is(err, payout.ErrExceedsBalance):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, payout.ErrNOWPaymentsDisabled), errors.Is(err, payment.ErrNotConfigured):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.As(err, &upstream):
		c.Error(err)
		c.JSON(http.StatusBadGateway, gin.H{"error": upstream.Message})
	case errors.Is(err, push.ErrInvalidSubscription):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}
