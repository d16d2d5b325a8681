package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/4xmen/payveil/internal/auth"
	"github.com/4xmen/payveil/internal/db"
	"github.com/4xmen/payveil/internal/handlers"
	"github.com/4xmen/payveil/internal/logging"
	"github.com/4xmen/payveil/internal/message"
	"github.com/4xmen/payveil/internal/notify"
	"github.com/4xmen/payveil/internal/partner"
	"github.com/4xmen/payveil/internal/payment"
	"github.com/4xmen/payveil/internal/payout"
	"github.com/4xmen/payveil/internal/push"
	"github.com/4xmen/payveil/internal/render"
	"github.com/4xmen/payveil/internal/storage"
	"github.com/4xmen/payveil/internal/ws"
	"github.com/4xmen/payveil/pkg/config"
)

const sweepInterval = time.Minute

func main() {
	cfg := config.Load()
	log := logging.New(cfg.Environment, cfg.LogLevel)

	if len(os.Args) > 1 {
		if err := runCommand(cfg, log, os.Args[1:]); err != nil {
			log.Fatalf("%v", err)
		}
		return
	}

	if err := runServer(cfg, log); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

func runCommand(cfg *config.Config, log *logrus.Logger, args []string) error {
	command := args[0]

	switch command {
	case "status":
		return runStatus(cfg, os.Stdout, args[1:])
	case "migrate":
		return runMigrate(cfg, os.Stdout, args[1:])
	case "sweep":
		return runSweep(cfg, log, os.Stdout)
	case "-h", "--help", "help":
		printUsage(os.Stdout)
		return nil
	default:
		printUsage(os.Stderr)
		return fmt.Errorf("unknown command: %s", command)
	}
}

func printUsage(out io.Writer) {
	fmt.Fprintln(out, "Usage:")
	fmt.Fprintln(out, "  payveil           Start the web server")
	fmt.Fprintln(out, "  payveil status    Show application statistics")
	fmt.Fprintln(out, "  payveil status --json")
	fmt.Fprintln(out, "  payveil migrate payment-providers [--dry-run] [--database path]")
	fmt.Fprintln(out, "  payveil sweep     Disappear messages whose timers have fired")
}

func openDatabase(cfg *config.Config) (*db.DB, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	if err := ensurePaymentProvidersMigrated(cfg.DatabasePath); err != nil {
		return nil, err
	}
	database, err := db.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return database, nil
}

func runSweep(cfg *config.Config, log logrus.FieldLogger, out io.Writer) error {
	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	files, err := storage.NewLocal(cfg.FileStoragePath)
	if err != nil {
		return err
	}

	svc := message.NewService(message.NewStore(database.GetConn()), files, log)
	swept, err := svc.Sweep(context.Background())
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Swept %d messages.\n", swept)
	return nil
}

func runServer(cfg *config.Config, log *logrus.Logger) error {
	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()
	conn := database.GetConn()

	files, err := storage.NewLocal(cfg.FileStoragePath)
	if err != nil {
		return err
	}

	feePercent, err := decimal.NewFromString(cfg.PlatformFeePercent)
	if err != nil || feePercent.IsNegative() || feePercent.GreaterThanOrEqual(decimal.NewFromInt(100)) {
		return fmt.Errorf("invalid PLATFORM_FEE_PERCENT %q", cfg.PlatformFeePercent)
	}

	authSvc := auth.New(conn, cfg.JWTSecret)

	hub := ws.NewHub(log)
	go hub.Run()

	pushSvc := push.NewNotifier(conn, cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey, "mailto:"+cfg.SMTPFrom, log)

	var mailer notify.Mailer = notify.LogMailer{Log: log}
	if cfg.SMTPHost != "" {
		mailer = notify.NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPFrom)
	}
	dispatcher := notify.NewDispatcher(mailer, authSvc, hub, pushSvc, cfg.BaseURL, log)
	defer dispatcher.Wait()

	// Interfaces stay nil when a provider is unconfigured.
	var (
		processor  payment.Processor
		transferer payment.Transferer
		crypto     payout.CryptoPayer
	)
	if cfg.StripeSecretKey != "" {
		stripeProcessor := payment.NewStripeProcessor(cfg.StripeSecretKey, cfg.StripeWebhookSecret)
		processor = stripeProcessor
		transferer = stripeProcessor
	} else {
		log.Warn("STRIPE_SECRET_KEY is not set; checkout is disabled")
	}
	nowPayments := payout.NewNOWPayments(payout.NOWPaymentsConfig{
		BaseURL:  cfg.NowPaymentsBaseURL,
		APIKey:   cfg.NowPaymentsAPIKey,
		Email:    cfg.NowPaymentsEmail,
		Password: cfg.NowPaymentsPassword,
	})
	if nowPayments != nil {
		crypto = nowPayments
	}

	store := message.NewStore(conn)
	msgSvc := message.NewService(store, files, log,
		message.WithPreviewer(render.Card{}),
		message.WithListener(dispatcher),
	)
	paymentSvc := payment.NewService(store, payment.NewLedger(conn), processor, feePercent, cfg.BaseURL, log,
		payment.WithUnlockListener(dispatcher),
		payment.WithAvailability(msgSvc),
	)

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
	}
	limits, err := partner.NewLimits(cfg.PartnerIPLimit, cfg.PartnerLimit, redisClient)
	if err != nil {
		return err
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := handlers.NewRouter(cfg, log, handlers.Services{
		Auth:        authSvc,
		Messages:    msgSvc,
		Payments:    paymentSvc,
		Partners:    partner.NewService(partner.NewStore(conn), msgSvc, cfg.BaseURL),
		Limits:      limits,
		Payouts:     payout.NewService(conn, transferer, crypto, cfg.Currency, log),
		NOWPayments: nowPayments,
		Files:       files,
		Links:       dispatcher,
		Push:        pushSvc,
		Hub:         hub,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go sweepLoop(ctx, msgSvc, log)

	srv := &http.Server{
		Addr:              fmt.Sprintf("0.0.0.0:%s", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("Starting server on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// sweepLoop retires messages whose clock rules fired without anyone viewing.
func sweepLoop(ctx context.Context, msgs *message.Service, log logrus.FieldLogger) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := msgs.Sweep(ctx)
			if err != nil {
				log.WithError(err).Warn("sweep failed")
				continue
			}
			if n > 0 {
				log.WithField("count", n).Info("swept disappeared messages")
			}
		}
	}
}
