package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/4xmen/payveil/internal/auth"
	"github.com/4xmen/payveil/internal/models"
)

type AuthHandler struct {
	authSvc *auth.Service
}

func NewAuthHandler(authSvc *auth.Service) *AuthHandler {
	return &AuthHandler{authSvc: authSvc}
}

type RegisterRequest struct {
	Email       string `json:"email" binding:"required"`
	Password    string `json:"password" binding:"required"`
	DisplayName string `json:"display_name"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type AuthResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

// Register creates a new user account
func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}

	user, err := h.authSvc.Register(c.Request.Context(), req.Email, req.Password, req.DisplayName)
	if err != nil {
		if errors.Is(err, auth.ErrEmailTaken) {
			respondError(c, err)
			return
		}
		badRequest(c, err.Error())
		return
	}

	token, err := h.authSvc.GenerateToken(user)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}

	c.JSON(http.StatusCreated, AuthResponse{Token: token, User: user})
}

// Login authenticates a user and returns a token
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}

	token, user, err := h.authSvc.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, AuthResponse{Token: token, User: user})
}

func bearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if token, ok := strings.CutPrefix(authHeader, "Bearer "); ok {
		return token
	}
	// browsers cannot set headers on websocket upgrades
	if c.Request.URL.Path == "/ws" {
		return c.Query("token")
	}
	return ""
}

// authenticate resolves the bearer token to a user and stores it on the
// context. It reports false when no valid token was sent.
func (h *AuthHandler) authenticate(c *gin.Context) (bool, error) {
	token := bearerToken(c)
	if token == "" {
		return false, nil
	}

	claims, err := h.authSvc.ValidateToken(token)
	if err != nil {
		return false, nil
	}

	user, err := h.authSvc.UserByID(c.Request.Context(), claims.UserID)
	if errors.Is(err, auth.ErrUserNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	c.Set("user_id", user.ID)
	c.Set("email", user.Email)
	c.Set("is_admin", user.IsAdmin)
	return true, nil
}

// AuthMiddleware validates JWT token
func (h *AuthHandler) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, err := h.authenticate(c)
		if err != nil {
			c.Error(err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to validate user"})
			return
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing authorization token"})
			return
		}
		c.Next()
	}
}

// OptionalAuth identifies the caller when a valid token is present and lets
// anonymous requests through.
func (h *AuthHandler) OptionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := h.authenticate(c); err != nil {
			c.Error(err)
		}
		c.Next()
	}
}

// AdminMiddleware must run after AuthMiddleware. The admin flag is read from
// the database, so revoking it takes effect immediately.
func (h *AuthHandler) AdminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !c.GetBool("is_admin") {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin access required"})
			return
		}
		c.Next()
	}
}

func currentUserID(c *gin.Context) int64 {
	return c.GetInt64("user_id")
}

// GetProfile returns the current user's profile
func (h *AuthHandler) GetProfile(c *gin.Context) {
	user, err := h.authSvc.UserByID(c.Request.Context(), currentUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// UpdateProfile updates the current user's profile
func (h *AuthHandler) UpdateProfile(c *gin.Context) {
	var req struct {
		DisplayName string `json:"display_name" binding:"max=100"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}

	if err := h.authSvc.UpdateDisplayName(c.Request.Context(), currentUserID(c), req.DisplayName); err != nil {
		respondError(c, err)
		return
	}
	h.GetProfile(c)
}

// UpdatePayout sets where the current user's earnings are paid.
func (h *AuthHandler) UpdatePayout(c *gin.Context) {
	var req struct {
		Method          string `json:"method" binding:"required"`
		Address         string `json:"address"`
		StripeAccountID string `json:"stripe_account_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}

	if err := h.authSvc.UpdatePayout(c.Request.Context(), currentUserID(c), req.Method, req.Address, req.StripeAccountID); err != nil {
		badRequest(c, err.Error())
		return
	}
	h.GetProfile(c)
}
