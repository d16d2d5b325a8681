package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/4xmen/payveil/internal/partner"
)

// PartnerHandler serves the /v1 API used by partner widgets.
type PartnerHandler struct {
	svc    *partner.Service
	limits *partner.Limits
}

func NewPartnerHandler(svc *partner.Service, limits *partner.Limits) *PartnerHandler {
	return &PartnerHandler{svc: svc, limits: limits}
}

// take counts the request against scope/key and writes the 429 when the
// window is exhausted.
func (h *PartnerHandler) take(c *gin.Context, scope, key string) bool {
	lc, err := h.limits.Take(c.Request.Context(), scope, key)
	if err != nil {
		// counters are advisory; a broken store must not take the API down
		c.Error(err)
		return true
	}
	setRateLimitHeaders(c, lc)
	if lc.Reached {
		tooManyRequests(c, scope, lc)
		return false
	}
	return true
}

// LimitIP applies the per-client-IP limit to every /v1 route.
func (h *PartnerHandler) LimitIP() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions || !h.take(c, partner.ScopeIP, c.ClientIP()) {
			return
		}
		c.Next()
	}
}

func (h *PartnerHandler) WidgetConfig(c *gin.Context) {
	cfg, err := h.svc.WidgetConfig(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("Cache-Control", "public, max-age=300")
	c.JSON(http.StatusOK, cfg)
}

func (h *PartnerHandler) CreateMessage(c *gin.Context) {
	var req struct {
		PartnerID   string          `json:"partner_id" binding:"required"`
		Content     string          `json:"content"`
		SenderEmail string          `json:"sender_email"`
		Price       decimal.Decimal `json:"price"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}

	partnerID := strings.TrimSpace(req.PartnerID)
	if !h.take(c, partner.ScopePartner, partnerID) {
		return
	}

	created, err := h.svc.CreateMessage(c.Request.Context(), partner.CreateRequest{
		PartnerID:   partnerID,
		Content:     req.Content,
		SenderEmail: req.SenderEmail,
		Price:       req.Price,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *PartnerHandler) Status(c *gin.Context) {
	status, err := h.svc.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}
