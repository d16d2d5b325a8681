package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/4xmen/payveil/internal/push"
)

type PushHandler struct {
	notifier *push.Notifier
}

func NewPushHandler(notifier *push.Notifier) *PushHandler {
	return &PushHandler{notifier: notifier}
}

func (h *PushHandler) VAPIDPublicKey(c *gin.Context) {
	key := h.notifier.VAPIDPublicKey()
	c.JSON(http.StatusOK, gin.H{"public_key": key, "enabled": key != ""})
}

func (h *PushHandler) Subscribe(c *gin.Context) {
	if h.notifier == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "push notifications are disabled"})
		return
	}
	var sub push.Subscription
	if err := c.ShouldBindJSON(&sub); err != nil {
		badRequest(c, "invalid request")
		return
	}
	if err := h.notifier.Subscribe(c.Request.Context(), currentUserID(c), sub); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "subscribed"})
}

func (h *PushHandler) Unsubscribe(c *gin.Context) {
	if h.notifier == nil {
		c.JSON(http.StatusOK, gin.H{"message": "unsubscribed"})
		return
	}
	var req struct {
		Endpoint string `json:"endpoint" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "endpoint is required")
		return
	}
	if err := h.notifier.Unsubscribe(c.Request.Context(), currentUserID(c), req.Endpoint); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "unsubscribed"})
}
