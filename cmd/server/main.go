package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"printshop-orders/config"
	"printshop-orders/internal/admin"
	"printshop-orders/internal/api"
	"printshop-orders/internal/auth"
	"printshop-orders/internal/broker"
	"printshop-orders/internal/cart"
	"printshop-orders/internal/docstore"
	"printshop-orders/internal/memstore"
	"printshop-orders/internal/notify"
	"printshop-orders/internal/payment"
	"printshop-orders/internal/pricing"
	"printshop-orders/internal/redisclient"
	"printshop-orders/internal/service"
	"printshop-orders/internal/shipping"
	"printshop-orders/internal/store"
	"printshop-orders/internal/util"
	"printshop-orders/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// repository is what every storage backend provides
type repository interface {
	service.OrderRepository
	service.TicketRepository
	service.UserRepository
	Ping(ctx context.Context) error
	Close() error
}

// keyValue backs carts, submission locks and pending intents
type keyValue interface {
	service.KeyValueStore
	cart.Storage
}

// carrier is the shipping aggregator surface the service uses
type carrier interface {
	service.RateSource
	worker.Shipper
	api.Tracker
}

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting printshop orders service", zap.String("env", cfg.Server.Env))

	tp, err := util.InitTracer("printshop-orders", cfg.Observ.JaegerEndpoint, cfg.Server.Env)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	ctx := context.Background()
	ready := map[string]api.PingFunc{}

	repo, err := openRepository(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to open order store", zap.String("driver", cfg.Store.Driver), zap.Error(err))
	}
	defer repo.Close()
	ready["store"] = repo.Ping
	logger.Info("Order store ready", zap.String("driver", cfg.Store.Driver))

	var kv keyValue
	if cfg.Store.Driver == "memory" {
		kv = memstore.NewKV()
	} else {
		redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.CartTTL)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close()
		ready["redis"] = redisClient.Ping
		kv = redisClient
		logger.Info("Redis connected")
	}

	var events service.EventPublisher = service.NopPublisher{}
	kafkaEnabled := len(cfg.Kafka.Brokers) > 0 && strings.TrimSpace(cfg.Kafka.Brokers[0]) != ""
	if kafkaEnabled {
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
		defer producer.Close()
		events = broker.NewEventPublisher(producer)
		logger.Info("Kafka producer initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
	} else {
		logger.Warn("Kafka disabled, order events are not published")
	}

	rules := pricing.Rules{
		TaxRate:               cfg.Business.TaxRate,
		FreeShippingThreshold: cfg.Business.FreeShippingThreshold,
		FlatShippingFee:       cfg.Business.FlatShippingFee,
	}
	ledger := service.NewLedger(repo, events, rules)

	mailer := notify.NewMailer(notify.MailerConfig{
		BaseURL:      cfg.Mail.BaseURL,
		APIKey:       cfg.Mail.APIKey,
		From:         cfg.Mail.From,
		OperatorCopy: cfg.Mail.OperatorCopy,
		Timeout:      10 * time.Second,
	})
	dispatcher := notify.NewDispatcher(mailer, cfg.Mail.OperatorCopy, cfg.Server.SiteURL)

	ship := newCarrier(cfg)
	coordinator := newCoordinator(cfg, ledger)

	carts := cart.NewService(kv)
	profiles := service.NewProfileService(repo)
	tickets := service.NewTicketService(repo, events, dispatcher)
	checkout := service.NewCheckoutService(service.CheckoutDeps{
		Carts:       carts,
		Coordinator: coordinator,
		Ledger:      ledger,
		Profiles:    profiles,
		Guard: service.NewSubmissionGuard(kv,
			time.Duration(cfg.Business.CheckoutLockSeconds)*time.Second,
			time.Duration(cfg.Business.IdempotencyTTLHours)*time.Hour),
		KV:       kv,
		Rates:    ship,
		Notifier: dispatcher,
		WeightKg: cfg.Business.DefaultParcelWeightKg,
	})

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	var fulfillmentWorker *worker.FulfillmentWorker
	var notificationWorker *worker.NotificationWorker
	if kafkaEnabled {
		fulfillmentConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, cfg.Kafka.ConsumerGroup+"-fulfillment")
		fulfillmentWorker = worker.NewFulfillmentWorker(fulfillmentConsumer, ledger, ship)
		go func() {
			if err := fulfillmentWorker.Start(workerCtx); err != nil {
				logger.Error("Fulfillment worker error", zap.Error(err))
			}
		}()

		notificationConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, cfg.Kafka.ConsumerGroup+"-notifications")
		notificationWorker = worker.NewNotificationWorker(notificationConsumer, dispatcher)
		go func() {
			if err := notificationWorker.Start(workerCtx); err != nil {
				logger.Error("Notification worker error", zap.Error(err))
			}
		}()
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(api.Deps{
		Carts:       carts,
		Checkout:    checkout,
		Ledger:      ledger,
		Profiles:    profiles,
		Tickets:     tickets,
		Admin:       admin.NewViewModel(ledger, tickets),
		Auth: auth.NewAuthenticator(auth.Config{
			Username:    cfg.Admin.Username,
			Password:    cfg.Admin.Password,
			Email:       cfg.Admin.Email,
			TokenSecret: cfg.Admin.TokenSecret,
			TokenTTL:    cfg.Admin.TokenTTL,

			TrustEmailHeader: cfg.Admin.TrustEmailHeader,
		}),
		Coordinator: coordinator,
		Rates:       ship,
		Tracker:     ship,
		WeightKg:    cfg.Business.DefaultParcelWeightKg,
		Ready:       ready,
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if fulfillmentWorker != nil {
		fulfillmentWorker.Stop()
	}
	if notificationWorker != nil {
		notificationWorker.Stop()
	}

	logger.Info("Server exited")
}

// openRepository connects the configured storage backend and prepares its schema
func openRepository(ctx context.Context, cfg *config.Config) (repository, error) {
	switch cfg.Store.Driver {
	case "postgres":
		db, err := store.NewStore(cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
		return db, nil
	case "mongo":
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		docs, err := docstore.Connect(connectCtx, cfg.Mongo.URI, cfg.Mongo.Database)
		if err != nil {
			return nil, err
		}
		if err := docs.EnsureIndexes(connectCtx); err != nil {
			docs.Close()
			return nil, err
		}
		return docs, nil
	case "memory":
		util.GetLogger().Warn("Using in-memory order store, data is lost on restart")
		return memstore.New(), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

// newCoordinator wires the three payment methods. Simulated gateways stand
// in for the real ones when PAYMENTS_SIMULATE is set.
func newCoordinator(cfg *config.Config, ledger *service.Ledger) *payment.Coordinator {
	var (
		instant  payment.InstantGateway
		redirect payment.RedirectGateway
	)
	if cfg.Payments.Simulate {
		util.GetLogger().Warn("Payments are simulated, no money moves")
		instant = payment.NewSimulatedInstant()
		redirect = payment.NewSimulatedRedirect()
	} else {
		timeout := time.Duration(cfg.Payments.TimeoutSeconds) * time.Second
		instant = payment.NewRazorpayClient(cfg.Payments.RazorpayKeyID, cfg.Payments.RazorpayKeySecret, cfg.Payments.RazorpayBaseURL, timeout)
		redirect = payment.NewStripeClient(cfg.Payments.StripeSecretKey, cfg.Payments.StripeBaseURL, timeout)
	}
	return payment.NewCoordinator(
		payment.NewInstant(instant, ledger, cfg.Business.Currency),
		payment.NewRedirect(redirect, ledger, cfg.Server.SiteURL, cfg.Business.Currency),
		payment.NewOffline(ledger),
	)
}

// newCarrier returns the aggregator client, or the simulated carrier when
// no account is configured
func newCarrier(cfg *config.Config) carrier {
	if cfg.Shipping.AccountEmail == "" || cfg.Shipping.AccountSecret == "" {
		util.GetLogger().Warn("Shipping account not configured, using simulated carrier")
		return shipping.NewSimulated(time.Now)
	}
	return shipping.NewClient(shipping.Config{
		BaseURL:          cfg.Shipping.BaseURL,
		AccountEmail:     cfg.Shipping.AccountEmail,
		AccountSecret:    cfg.Shipping.AccountSecret,
		PickupPostalCode: cfg.Shipping.PickupPostalCode,
		TokenLifetime:    cfg.Shipping.TokenLifetime,
		TokenMargin:      cfg.Shipping.TokenMargin,
		TaxRate:          cfg.Business.TaxRate,
		ParcelWeightKg:   cfg.Business.DefaultParcelWeightKg,
		Timeout:          15 * time.Second,
	}, time.Now)
}
