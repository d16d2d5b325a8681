package handlers

import (
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/4xmen/payveil/internal/message"
	"github.com/4xmen/payveil/internal/models"
	"github.com/4xmen/payveil/internal/payment"
)

// ObjectStore holds uploaded files and rendered previews.
type ObjectStore interface {
	message.FileStore
	Open(key string) (*os.File, error)
}

// LinkSender emails a recipient the link to a locked message.
type LinkSender interface {
	SendUnlockLink(ctx context.Context, m *models.Message, to string) error
}

type MessageHandler struct {
	msgs      *message.Service
	payments  *payment.Service
	files     ObjectStore
	links     LinkSender
	baseURL   string
	maxUpload int64
}

func NewMessageHandler(msgs *message.Service, payments *payment.Service, files ObjectStore, links LinkSender, baseURL string, maxUpload int64) *MessageHandler {
	return &MessageHandler{
		msgs:      msgs,
		payments:  payments,
		files:     files,
		links:     links,
		baseURL:   strings.TrimRight(baseURL, "/"),
		maxUpload: maxUpload,
	}
}

// ownerMessage is the dashboard view of a message.
type ownerMessage struct {
	*models.Message
	Price    string `json:"price"`
	Kind     string `json:"kind"`
	ShareURL string `json:"share_url"`
}

func (h *MessageHandler) ownerView(m *models.Message) ownerMessage {
	return ownerMessage{
		Message:  m,
		Price:    m.Price.StringFixed(2),
		Kind:     m.Kind(),
		ShareURL: h.baseURL + "/m/" + m.Slug,
	}
}

type createMessageRequest struct {
	Title              string          `json:"title"`
	RecipientLabel     string          `json:"recipient_label"`
	Body               string          `json:"body"`
	Price              decimal.Decimal `json:"price"`
	ExpiresAt          *time.Time      `json:"expires_at"`
	MaxViews           *int            `json:"max_views"`
	DeleteAfterMinutes *int            `json:"delete_after_minutes"`
	DeleteAt           *time.Time      `json:"delete_at"`
}

func (r createMessageRequest) params(userID int64) message.CreateParams {
	return message.CreateParams{
		UserID:             userID,
		Title:              r.Title,
		RecipientLabel:     r.RecipientLabel,
		Body:               r.Body,
		Price:              r.Price,
		ExpiresAt:          r.ExpiresAt,
		MaxViews:           r.MaxViews,
		DeleteAfterMinutes: r.DeleteAfterMinutes,
		DeleteAt:           r.DeleteAt,
	}
}

// CreateMessage accepts JSON for text messages and multipart forms for files.
func (h *MessageHandler) CreateMessage(c *gin.Context) {
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		h.createFileMessage(c)
		return
	}

	var req createMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}

	m, err := h.msgs.Create(c.Request.Context(), req.params(currentUserID(c)))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, h.ownerView(m))
}

func (h *MessageHandler) createFileMessage(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload+1<<20)

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
			return
		}
		badRequest(c, "file is required")
		return
	}
	defer file.Close()

	if header.Size > h.maxUpload {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}

	req, err := formRequest(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	p := req.params(currentUserID(c))
	p.File = &message.FileRef{Name: header.Filename, ContentType: contentType(header)}
	// reject bad input before touching storage
	if err := p.Validate(h.msgs.Now()); err != nil {
		respondError(c, err)
		return
	}

	key, err := h.files.Save(header.Filename, file)
	if err != nil {
		respondError(c, err)
		return
	}
	p.File.Key = key

	m, err := h.msgs.Create(c.Request.Context(), p)
	if err != nil {
		h.files.Delete(key)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, h.ownerView(m))
}

func contentType(header *multipart.FileHeader) string {
	if ct := header.Header.Get("Content-Type"); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func formRequest(c *gin.Context) (createMessageRequest, error) {
	req := createMessageRequest{
		Title:          c.PostForm("title"),
		RecipientLabel: c.PostForm("recipient_label"),
	}

	price, err := decimal.NewFromString(strings.TrimSpace(c.PostForm("price")))
	if err != nil {
		return req, errors.New("invalid price")
	}
	req.Price = price

	if req.MaxViews, err = optionalInt(c.PostForm("max_views")); err != nil {
		return req, errors.New("invalid max_views")
	}
	if req.DeleteAfterMinutes, err = optionalInt(c.PostForm("delete_after_minutes")); err != nil {
		return req, errors.New("invalid delete_after_minutes")
	}
	if req.ExpiresAt, err = optionalTime(c.PostForm("expires_at")); err != nil {
		return req, errors.New("invalid expires_at")
	}
	if req.DeleteAt, err = optionalTime(c.PostForm("delete_at")); err != nil {
		return req, errors.New("invalid delete_at")
	}
	return req, nil
}

func optionalInt(s string) (*int, error) {
	if s = strings.TrimSpace(s); s == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func optionalTime(s string) (*time.Time, error) {
	if s = strings.TrimSpace(s); s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func messageID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		badRequest(c, "invalid message id")
		return 0, false
	}
	return id, true
}

// ListMessages lists the current user's messages, newest first
func (h *MessageHandler) ListMessages(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit < 1 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	list, err := h.msgs.Store().ListByUser(c.Request.Context(), currentUserID(c), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}

	out := make([]ownerMessage, 0, len(list))
	for _, m := range list {
		out = append(out, h.ownerView(m))
	}
	c.JSON(http.StatusOK, gin.H{"messages": out})
}

// GetMessage shows a message to its owner. It never consumes a view.
func (h *MessageHandler) GetMessage(c *gin.Context) {
	id, ok := messageID(c)
	if !ok {
		return
	}
	m, err := h.msgs.Store().ByOwner(c.Request.Context(), id, currentUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.ownerView(m))
}

func (h *MessageHandler) SetActive(c *gin.Context) {
	id, ok := messageID(c)
	if !ok {
		return
	}
	var req struct {
		Active *bool `json:"active" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "active is required")
		return
	}

	store := h.msgs.Store()
	if err := store.SetActive(c.Request.Context(), id, currentUserID(c), *req.Active, h.msgs.Now()); err != nil {
		respondError(c, err)
		return
	}
	m, err := store.ByOwner(c.Request.Context(), id, currentUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.ownerView(m))
}

func (h *MessageHandler) DeleteMessage(c *gin.Context) {
	id, ok := messageID(c)
	if !ok {
		return
	}
	if err := h.msgs.Delete(c.Request.Context(), id, currentUserID(c)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "message deleted"})
}

func (h *MessageHandler) ListPayments(c *gin.Context) {
	id, ok := messageID(c)
	if !ok {
		return
	}
	payments, err := h.payments.ByMessage(c.Request.Context(), id, currentUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payments": payments})
}

// Notify emails the unlock link to a recipient. Delivery errors are reported
// to the owner.
func (h *MessageHandler) Notify(c *gin.Context) {
	id, ok := messageID(c)
	if !ok {
		return
	}
	var req struct {
		Email string `json:"email" binding:"required,email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "a valid email address is required")
		return
	}

	m, err := h.msgs.Store().ByOwner(c.Request.Context(), id, currentUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	if err := h.msgs.CheckAvailable(c.Request.Context(), m); err != nil {
		respondError(c, err)
		return
	}
	if !m.Active {
		badRequest(c, "message is inactive")
		return
	}

	if err := h.links.SendUnlockLink(c.Request.Context(), m, req.Email); err != nil {
		c.Error(err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to send email"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "notification sent"})
}

func (h *MessageHandler) Stats(c *gin.Context) {
	stats, err := h.msgs.Store().Stats(c.Request.Context(), currentUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
