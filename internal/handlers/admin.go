package handlers

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/4xmen/payveil/internal/auth"
	"github.com/4xmen/payveil/internal/models"
	"github.com/4xmen/payveil/internal/partner"
	"github.com/4xmen/payveil/internal/payout"
)

var partnerIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{2,63}$`)

type AdminHandler struct {
	authSvc  *auth.Service
	payouts  *payout.Service
	nowp     *payout.NOWPayments
	partners *partner.Store
}

func NewAdminHandler(authSvc *auth.Service, payouts *payout.Service, nowp *payout.NOWPayments, partners *partner.Store) *AdminHandler {
	return &AdminHandler{authSvc: authSvc, payouts: payouts, nowp: nowp, partners: partners}
}

func (h *AdminHandler) ListUsers(c *gin.Context) {
	users, err := h.authSvc.ListUsers(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

func (h *AdminHandler) Balances(c *gin.Context) {
	balances, err := h.payouts.Balances(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"balances": balances})
}

func (h *AdminHandler) CreatePayout(c *gin.Context) {
	var req payout.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}

	record, err := h.payouts.Create(c.Request.Context(), req, currentUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, record)
}

func (h *AdminHandler) ListPayouts(c *gin.Context) {
	var userID int64
	if s := c.Query("user_id"); s != "" {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			badRequest(c, "invalid user_id")
			return
		}
		userID = id
	}

	history, err := h.payouts.History(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payouts": history})
}

func (h *AdminHandler) NOWPaymentsBalance(c *gin.Context) {
	raw, err := h.nowp.Balance(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", raw)
}

func (h *AdminHandler) NOWPaymentsVerify(c *gin.Context) {
	var req struct {
		Code string `json:"code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "code is required")
		return
	}

	raw, err := h.nowp.VerifyPayout(c.Request.Context(), c.Param("id"), req.Code)
	if err != nil {
		respondError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", raw)
}

func (h *AdminHandler) NOWPaymentsStatus(c *gin.Context) {
	raw, err := h.nowp.PayoutStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", raw)
}

type createPartnerRequest struct {
	ID          string              `json:"id" binding:"required"`
	Name        string              `json:"name" binding:"required,max=100"`
	OwnerUserID int64               `json:"owner_user_id" binding:"required"`
	MinPrice    decimal.Decimal     `json:"min_price"`
	MaxPrice    decimal.Decimal     `json:"max_price"`
	Currency    string              `json:"currency"`
	Theme       models.PartnerTheme `json:"theme"`
}

func (h *AdminHandler) CreatePartner(c *gin.Context) {
	var req createPartnerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}

	id := strings.ToLower(strings.TrimSpace(req.ID))
	if !partnerIDPattern.MatchString(id) {
		badRequest(c, "partner id must be 3-64 lowercase letters, digits, '-' or '_'")
		return
	}
	if !req.MinPrice.IsPositive() || req.MaxPrice.LessThan(req.MinPrice) {
		badRequest(c, "min_price must be positive and not above max_price")
		return
	}
	if _, err := h.authSvc.UserByID(c.Request.Context(), req.OwnerUserID); err != nil {
		respondError(c, err)
		return
	}

	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "usd"
	}
	p := &models.Partner{
		ID:          id,
		Name:        strings.TrimSpace(req.Name),
		OwnerUserID: req.OwnerUserID,
		MinPrice:    req.MinPrice.Round(2),
		MaxPrice:    req.MaxPrice.Round(2),
		Currency:    currency,
		Theme:       req.Theme,
		Active:      true,
	}
	if err := h.partners.Create(c.Request.Context(), p); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h *AdminHandler) ListPartners(c *gin.Context) {
	partners, err := h.partners.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"partners": partners})
}
