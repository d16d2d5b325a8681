package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/4xmen/payveil/internal/message"
	"github.com/4xmen/payveil/internal/models"
	"github.com/4xmen/payveil/internal/payment"
)

// PublicHandler serves recipients who hold a message link.
type PublicHandler struct {
	msgs     *message.Service
	payments *payment.Service
	files    ObjectStore
}

func NewPublicHandler(msgs *message.Service, payments *payment.Service, files ObjectStore) *PublicHandler {
	return &PublicHandler{msgs: msgs, payments: payments, files: files}
}

type publicMessage struct {
	Slug               string     `json:"slug"`
	Title              string     `json:"title"`
	RecipientLabel     string     `json:"recipient_label"`
	Kind               string     `json:"kind"`
	FileName           *string    `json:"file_name,omitempty"`
	FileType           *string    `json:"file_type,omitempty"`
	PreviewURL         *string    `json:"preview_url,omitempty"`
	Price              string     `json:"price"`
	Currency           string     `json:"currency"`
	Unlocked           bool       `json:"unlocked"`
	Expired            bool       `json:"expired"`
	MaxViews           *int       `json:"max_views,omitempty"`
	ViewsRemaining     *int       `json:"views_remaining,omitempty"`
	DeleteAfterMinutes *int       `json:"delete_after_minutes,omitempty"`
	DeleteAt           *time.Time `json:"delete_at,omitempty"`
}

func publicView(m *models.Message, now time.Time) publicMessage {
	v := publicMessage{
		Slug:               m.Slug,
		Title:              m.Title,
		RecipientLabel:     m.RecipientLabel,
		Kind:               m.Kind(),
		FileName:           m.FileName,
		FileType:           m.FileType,
		PreviewURL:         m.PreviewURL,
		Price:              m.Price.StringFixed(2),
		Currency:           m.Currency,
		Unlocked:           m.Unlocked,
		Expired:            !m.Unlocked && m.Expired(now),
		MaxViews:           m.MaxViews,
		DeleteAfterMinutes: m.DeleteAfterMinutes,
		DeleteAt:           m.DeleteAt,
	}
	if m.MaxViews != nil {
		left := max(0, *m.MaxViews-m.ViewCount)
		v.ViewsRemaining = &left
	}
	return v
}

// lookup loads an active message by slug, answering 404/410 itself.
func (h *PublicHandler) lookup(c *gin.Context) (*models.Message, bool) {
	m, err := h.msgs.Store().BySlug(c.Request.Context(), c.Param("slug"))
	if err == nil && !m.Active {
		err = message.ErrNotFound
	}
	if err == nil {
		err = h.msgs.CheckAvailable(c.Request.Context(), m)
	}
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	return m, true
}

// GetMessage returns what a recipient may see before paying.
func (h *PublicHandler) GetMessage(c *gin.Context) {
	m, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, publicView(m, h.msgs.Now()))
}

func (h *PublicHandler) Checkout(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"omitempty,email"`
	}
	// The body is optional; an empty one, chunked or not, decodes to io.EOF.
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, "invalid email address")
		return
	}

	session, err := h.payments.StartCheckout(c.Request.Context(), c.Param("slug"), req.Email)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

// Verify polls the payment provider for a checkout the webhook may not have
// reported yet.
func (h *PublicHandler) Verify(c *gin.Context) {
	var req struct {
		SessionID string `json:"session_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "session_id is required")
		return
	}

	unlocked, err := h.payments.Verify(c.Request.Context(), c.Param("slug"), req.SessionID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unlocked": unlocked})
}

// GetContent reveals a paid message and consumes one view.
func (h *PublicHandler) GetContent(c *gin.Context) {
	m, decision, err := h.msgs.View(c.Request.Context(), c.Param("slug"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("Cache-Control", "no-store")
	resp := gin.H{
		"kind":            m.Kind(),
		"title":           m.Title,
		"view_count":      m.ViewCount,
		"views_remaining": decision.ViewsRemaining,
	}
	if m.DeleteAt != nil {
		resp["delete_at"] = m.DeleteAt
	}
	if m.DeleteAfterMinutes != nil && m.FirstViewedAt != nil {
		resp["delete_at_timed"] = m.FirstViewedAt.Add(time.Duration(*m.DeleteAfterMinutes) * time.Minute)
	}
	if m.Kind() == models.KindFile {
		resp["file_url"] = "/api/files/" + derefString(m.FileKey)
		resp["file_name"] = m.FileName
		resp["file_type"] = m.FileType
	} else {
		resp["body"] = derefString(m.Body)
	}
	c.JSON(http.StatusOK, resp)
}

// GetFile streams a stored object after the message gate allows it.
func (h *PublicHandler) GetFile(c *gin.Context) {
	key := c.Param("key")
	m, err := h.msgs.AuthorizeFile(c.Request.Context(), key, currentUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	f, err := h.files.Open(key)
	if err != nil {
		respondError(c, err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		respondError(c, err)
		return
	}

	name := key
	if m == nil {
		c.Header("Cache-Control", "public, max-age=3600")
	} else {
		c.Header("Cache-Control", "private, no-store")
		if m.FileName != nil {
			name = *m.FileName
		}
		if m.FileType != nil {
			c.Header("Content-Type", *m.FileType)
		}
		c.Header("Content-Disposition", `attachment; filename="`+strings.ReplaceAll(name, `"`, "")+`"`)
	}
	http.ServeContent(c.Writer, c.Request, name, info.ModTime(), f)
}
