package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/4xmen/payveil/internal/auth"
	"github.com/4xmen/payveil/internal/message"
	"github.com/4xmen/payveil/internal/metrics"
	"github.com/4xmen/payveil/internal/partner"
	"github.com/4xmen/payveil/internal/payment"
	"github.com/4xmen/payveil/internal/payout"
	"github.com/4xmen/payveil/internal/push"
	"github.com/4xmen/payveil/internal/ws"
	"github.com/4xmen/payveil/pkg/config"
)

// Services is everything the HTTP layer calls into.
type Services struct {
	Auth        *auth.Service
	Messages    *message.Service
	Payments    *payment.Service
	Partners    *partner.Service
	Limits      *partner.Limits
	Payouts     *payout.Service
	NOWPayments *payout.NOWPayments
	Files       ObjectStore
	Links       LinkSender
	Push        *push.Notifier
	Hub         *ws.Hub
}

// NewRouter builds the HTTP API.
func NewRouter(cfg *config.Config, log logrus.FieldLogger, s Services) *gin.Engine {
	authHandler := NewAuthHandler(s.Auth)
	msgHandler := NewMessageHandler(s.Messages, s.Payments, s.Files, s.Links, cfg.BaseURL, cfg.MaxUploadSize)
	publicHandler := NewPublicHandler(s.Messages, s.Payments, s.Files)
	webhookHandler := NewWebhookHandler(s.Payments)
	partnerHandler := NewPartnerHandler(s.Partners, s.Limits)
	adminHandler := NewAdminHandler(s.Auth, s.Payouts, s.NOWPayments, s.Partners.Partners())
	pushHandler := NewPushHandler(s.Push)

	router := gin.New()
	router.Use(serverErrorLogger(log))
	router.Use(gin.Logger())
	router.Use(panicRecovery(log))
	router.Use(metrics.Middleware())
	router.Use(cors(cfg.CORSOrigins))
	router.MaxMultipartMemory = 8 << 20

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	// Partner widget API
	v1 := router.Group("/v1", partnerHandler.LimitIP())
	{
		v1.GET("/partners/:id/widget-config", partnerHandler.WidgetConfig)
		v1.POST("/messages", partnerHandler.CreateMessage)
		v1.GET("/messages/:id/status", partnerHandler.Status)
	}

	api := router.Group("/api")
	{
		loginLimiter := limiter.New(memory.NewStore(), limiter.Rate{Period: time.Minute, Limit: 5})
		registerLimiter := limiter.New(memory.NewStore(), limiter.Rate{Period: time.Minute, Limit: 2})

		api.POST("/auth/register", rateLimitMiddleware("register", registerLimiter), authHandler.Register)
		api.POST("/auth/login", rateLimitMiddleware("login", loginLimiter), authHandler.Login)

		// Recipient surface
		api.GET("/m/:slug", publicHandler.GetMessage)
		api.POST("/m/:slug/checkout", publicHandler.Checkout)
		api.POST("/m/:slug/verify", publicHandler.Verify)
		api.GET("/m/:slug/content", publicHandler.GetContent)
		api.GET("/files/:key", authHandler.OptionalAuth(), publicHandler.GetFile)

		api.POST("/webhooks/stripe", webhookHandler.Stripe)
		api.GET("/push/vapid-public-key", pushHandler.VAPIDPublicKey)
	}

	protected := api.Group("")
	protected.Use(authHandler.AuthMiddleware())
	{
		// Profile
		protected.GET("/profile", authHandler.GetProfile)
		protected.PUT("/profile", authHandler.UpdateProfile)
		protected.PUT("/profile/payout", authHandler.UpdatePayout)

		// Messages
		protected.POST("/messages", msgHandler.CreateMessage)
		protected.GET("/messages", msgHandler.ListMessages)
		protected.GET("/messages/:id", msgHandler.GetMessage)
		protected.PUT("/messages/:id/active", msgHandler.SetActive)
		protected.DELETE("/messages/:id", msgHandler.DeleteMessage)
		protected.GET("/messages/:id/payments", msgHandler.ListPayments)
		protected.POST("/messages/:id/notify", msgHandler.Notify)
		protected.GET("/dashboard/stats", msgHandler.Stats)

		// Push
		protected.POST("/push/subscribe", pushHandler.Subscribe)
		protected.DELETE("/push/subscribe", pushHandler.Unsubscribe)
	}

	admin := protected.Group("/admin")
	admin.Use(authHandler.AdminMiddleware())
	{
		admin.GET("/users", adminHandler.ListUsers)
		admin.GET("/balances", adminHandler.Balances)
		admin.GET("/payouts", adminHandler.ListPayouts)
		admin.POST("/payouts", adminHandler.CreatePayout)
		admin.GET("/nowpayments/balance", adminHandler.NOWPaymentsBalance)
		admin.GET("/nowpayments/payouts/:id", adminHandler.NOWPaymentsStatus)
		admin.POST("/nowpayments/payouts/:id/verify", adminHandler.NOWPaymentsVerify)
		admin.GET("/partners", adminHandler.ListPartners)
		admin.POST("/partners", adminHandler.CreatePartner)
	}

	// Owner dashboard events
	router.GET("/ws", authHandler.AuthMiddleware(), s.Hub.HandleWebSocket)

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	return router
}
