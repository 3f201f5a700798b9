package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/ignatzorin/helper-escrow/internal/auth"
	"github.com/ignatzorin/helper-escrow/internal/config"
	"github.com/ignatzorin/helper-escrow/internal/db"
	"github.com/ignatzorin/helper-escrow/internal/domain/policy"
	"github.com/ignatzorin/helper-escrow/internal/http/handlers"
	"github.com/ignatzorin/helper-escrow/internal/http/middleware"
	httpRouter "github.com/ignatzorin/helper-escrow/internal/http/router"
	"github.com/ignatzorin/helper-escrow/internal/infrastructure/cache"
	"github.com/ignatzorin/helper-escrow/internal/infrastructure/events"
	"github.com/ignatzorin/helper-escrow/internal/infrastructure/gateway"
	"github.com/ignatzorin/helper-escrow/internal/infrastructure/persistence"
	"github.com/ignatzorin/helper-escrow/internal/logger"
	"github.com/ignatzorin/helper-escrow/internal/scheduler"
	"github.com/ignatzorin/helper-escrow/internal/storage"
	"github.com/ignatzorin/helper-escrow/internal/usecase/escrow"
	"github.com/ignatzorin/helper-escrow/internal/usecase/lifecycle"
	"github.com/ignatzorin/helper-escrow/internal/usecase/payment"
	"github.com/ignatzorin/helper-escrow/internal/usecase/reconcile"
	"github.com/ignatzorin/helper-escrow/internal/usecase/settlement"
	"github.com/ignatzorin/helper-escrow/internal/ws"
)

func main() {
	// Готовим контекст для graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("main: ошибка загрузки конфигурации: %v", err)
	}

	if cfg.Env == "development" {
		logger.Init("debug")
		logger.SetTextFormatter()
	} else {
		logger.Init("info")
	}

	// Подключение к базе и миграции.
	dbConn, err := db.NewPostgres(ctx, cfg.DatabaseURL, db.DefaultPool())
	if err != nil {
		logger.Log.Fatalf("main: ошибка подключения к базе: %v", err)
	}
	defer safeClose(dbConn)

	if err := db.RunMigrations(ctx, dbConn, cfg.MigrationsPath); err != nil {
		logger.Log.Fatalf("main: ошибка миграций: %v", err)
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Log.Fatalf("main: некорректный REDIS_URL: %v", err)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
	}
	limiterStore, err := middleware.NewLimiterStore(redisClient)
	if err != nil {
		logger.Log.Fatalf("main: не удалось подготовить хранилище лимитера: %v", err)
	}

	receipts, err := storage.NewReceiptStorage(cfg.ReceiptStoragePath, cfg.MaxUploadSizeMB)
	if err != nil {
		logger.Log.Fatalf("main: не удалось подготовить хранилище чеков: %v", err)
	}

	// Репозитории и транзакции.
	tx := persistence.NewTransactor(dbConn)
	requestRepo := persistence.NewRequestRepository(dbConn)
	paymentRepo := persistence.NewPaymentRepository(dbConn)
	disputeRepo := persistence.NewDisputeRepository(dbConn)
	historyRepo := persistence.NewHistoryRepository(dbConn)
	withdrawalRepo := persistence.NewWithdrawalRepository(dbConn)

	gateways := buildGateways(cfg)

	// Шина событий и её подписчики.
	bus := events.NewBus()
	defer bus.Close()

	hub := ws.NewHub()
	go hub.Run()
	defer hub.Stop()

	dashboardCache := cache.NewDashboardCache(cfg.DashboardCacheTTL)

	subscribe(ctx, bus, "ws-notifier", events.Notifier(hub))
	subscribe(ctx, bus, "dashboard-cache", dashboardCache.Invalidator())
	if broker := buildBroker(cfg); broker != nil {
		defer broker.Close()
		subscribe(ctx, bus, "broker-forwarder", events.Forwarder(broker))
	}

	// Ядро.
	ledger := escrow.NewLedger(tx, requestRepo, paymentRepo, disputeRepo, historyRepo, gateways, bus)
	engine := lifecycle.NewEngine(tx, requestRepo, disputeRepo, historyRepo, ledger, bus, policy.NewCancellationPolicy(cfg.CancelWindow))
	payments := payment.NewService(requestRepo, paymentRepo, gateways, ledger, receipts, cfg.PaymentCurrency)
	dashboards := settlement.NewDashboardService(paymentRepo, disputeRepo, withdrawalRepo, dashboardCache)
	withdrawals := settlement.NewWithdrawalService(tx, paymentRepo, withdrawalRepo, dashboardCache)
	sweeper := reconcile.NewSweeper(paymentRepo, ledger, bus, cfg.ReconcileReleaseGrace)

	sched := scheduler.New(sweeper, cfg.ReconcileSchedule, 5*time.Minute)
	if err := sched.Start(); err != nil {
		logger.Log.Fatalf("main: %v", err)
	}
	defer func() {
		<-sched.Stop().Done()
	}()

	tokens := auth.NewTokenVerifier(cfg.JWTSecret)
	rails := make([]string, 0, 3)
	for _, rail := range gateways.Rails() {
		rails = append(rails, string(rail))
	}

	router := httpRouter.SetupRouter(cfg, httpRouter.Handlers{
		Requests:    handlers.NewRequestHandler(engine),
		Payments:    handlers.NewPaymentHandler(payments),
		Webhooks:    handlers.NewWebhookHandler(payments),
		Admin:       handlers.NewAdminHandler(ledger, sweeper),
		Dashboards:  handlers.NewDashboardHandler(dashboards),
		Withdrawals: handlers.NewWithdrawalHandler(withdrawals),
		Health:      handlers.NewHealthHandler(dbConn, redisClient, rails),
		WS:          handlers.NewWSHandler(hub, tokens, cfg.AllowedOrigins),
	}, tokens, limiterStore)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Log.Errorf("main: ошибка остановки http сервера: %v", err)
		}
	}()

	logger.Log.WithField("rails", rails).Infof("main: HTTP сервер запущен на порту %s", cfg.HTTPPort)

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Log.Fatalf("main: сервер завершился с ошибкой: %v", err)
	}
}

// buildGateways подключает только каналы, для которых заданы ключи.
func buildGateways(cfg *config.Config) *gateway.Registry {
	adapters := make([]gateway.Adapter, 0, 3)
	if cfg.StripeSecretKey != "" {
		adapters = append(adapters, gateway.NewCardAdapter(cfg.StripeSecretKey, cfg.StripeWebhookSecret, cfg.GatewayTimeout))
	}
	if cfg.MidtransServerKey != "" {
		adapters = append(adapters, gateway.NewRegionalAdapter(cfg.MidtransServerKey, cfg.MidtransIsProduction, cfg.GatewayTimeout))
	}
	if cfg.ManualPayeeAccount != "" {
		adapters = append(adapters, gateway.NewManualAdapter(cfg.ManualPayeeAccount, cfg.ManualPayeeName))
	}
	if len(adapters) == 0 {
		logger.Log.Warn("main: не настроен ни один платёжный канал")
	}
	return gateway.NewRegistry(adapters...)
}

func buildBroker(cfg *config.Config) events.BrokerPublisher {
	switch cfg.EventBroker {
	case "amqp":
		p, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			logger.Log.WithError(err).Warn("main: AMQP недоступен, события остаются внутри процесса")
			return nil
		}
		return p
	case "nats":
		p, err := events.NewNATSPublisher(cfg.NATSURL)
		if err != nil {
			logger.Log.WithError(err).Warn("main: NATS недоступен, события остаются внутри процесса")
			return nil
		}
		return p
	default:
		return nil
	}
}

func subscribe(ctx context.Context, bus *events.Bus, name string, h events.Handler) {
	if err := bus.Subscribe(ctx, name, h); err != nil {
		logger.Log.Fatalf("main: не удалось подписать %s на шину: %v", name, err)
	}
}

func safeClose(db *sqlx.DB) {
	if err := db.Close(); err != nil {
		logger.Log.Errorf("main: ошибка закрытия базы: %v", err)
	}
}
