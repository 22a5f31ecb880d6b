package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/JOMO418/furniture-hub-backend/internal/config"
	"github.com/JOMO418/furniture-hub-backend/internal/mpesa"
	"github.com/JOMO418/furniture-hub-backend/internal/notification"
	"github.com/JOMO418/furniture-hub-backend/internal/notification/email"
	"github.com/JOMO418/furniture-hub-backend/internal/repository"
	"github.com/JOMO418/furniture-hub-backend/internal/service"
	httpTransport "github.com/JOMO418/furniture-hub-backend/internal/transport/http"
	"github.com/JOMO418/furniture-hub-backend/internal/transport/http/handler"
	kafkaTransport "github.com/JOMO418/furniture-hub-backend/internal/transport/kafka"
	"github.com/JOMO418/furniture-hub-backend/pkg/db"
	"github.com/JOMO418/furniture-hub-backend/pkg/kafka"
	"github.com/JOMO418/furniture-hub-backend/pkg/mylogger"
	outboxRepository "github.com/JOMO418/furniture-hub-backend/pkg/outbox/repository"
	"github.com/JOMO418/furniture-hub-backend/pkg/outbox/worker"
	"github.com/JOMO418/furniture-hub-backend/pkg/utils"
	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf(".env not found: %v\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.MustLoad()

	tp, err := utils.InitTracer(ctx, "furniture-hub")
	if err != nil {
		log.Fatalf("failed to init tracer: %v", err)
	}

	pool, err := db.NewPostgresDB(cfg.Postgres.URL)
	if err != nil {
		log.Fatalf("failed to create pool: %v", err)
	}

	logger, err := config.NewLogger(config.LoggerConfig{
		Level: "info",
		Env:   cfg.Env,
	})
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})

	productRepo := repository.NewProductRepository(pool, logger)
	orderRepo := repository.NewOrderRepository(pool, logger)
	attemptRepo := repository.NewPaymentAttemptRepository(pool, logger)
	outboxRepo := outboxRepository.NewOutboxRepository(pool, logger)

	gateway := mpesa.NewClient(cfg.Mpesa, logger)

	catalogService := service.NewCachedCatalogService(
		service.NewCatalogService(logger, productRepo),
		redisClient,
	)
	orderService := service.NewOrderService(
		pool, logger, orderRepo, productRepo, outboxRepo,
		cfg.Kafka.OrderTopic, cfg.Orders.DeliveryFee,
	)
	paymentService := service.NewPaymentService(
		pool, logger, orderRepo, attemptRepo, outboxRepo, gateway,
		cfg.Kafka.OrderTopic, cfg.Mpesa.PendingWindow,
	)

	kafkaProducer, err := kafka.NewProducer(cfg.Kafka.Brokers)
	if err != nil {
		log.Fatalf("error creating kafka producer: %v", err)
	}

	outboxProcessor := worker.NewOutboxProcessor(pool, outboxRepo, kafkaProducer, logger)
	go outboxProcessor.Start(ctx)

	sweeper := service.NewReservationSweeper(
		logger, orderRepo, orderService,
		cfg.Orders.ReservationTTL, cfg.Orders.SweepInterval,
	)
	go sweeper.Start(ctx)

	emailSender := email.NewSMTPSender(cfg.SMTP, logger)
	notificationService := notification.NewService(emailSender, logger, pool)
	consumer := kafkaTransport.NewConsumer(notificationService, logger, cfg.Kafka.GroupID, cfg.Kafka.OrderTopic)
	go consumer.Start(ctx, cfg.Kafka.Brokers)

	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	go func() {
		http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{
			Registry: reg,
		}))
		log.Println("Metrics server is listening on 9091 📈")

		if err := http.ListenAndServe(":9091", nil); err != nil {
			log.Printf("Metrics serving failed: %v", err)
		}
	}()

	app := fiber.New()

	app.Use(otelfiber.Middleware())

	app.Use(limiter.New(limiter.Config{
		Max:        cfg.Limiter.Max,
		Expiration: cfg.Limiter.Expiration,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests. Try again later.",
			})
		},
	}))

	handlers := &httpTransport.Handlers{
		Product: handler.NewProductHandler(catalogService, logger),
		Order:   handler.NewOrderHandler(orderService, logger),
		Payment: handler.NewPaymentHandler(paymentService, logger),
	}

	httpTransport.RegisterRoutes(app, handlers, cfg.Auth.AccessSecret)

	go func() {
		log.Println("HTTP service listening on: " + cfg.HTTP.Port)
		if err := app.Listen(cfg.HTTP.Port); err != nil {
			log.Fatalf("error listening on HTTP port %v: %v\n", cfg.HTTP.Port, err)
		}
	}()

	logger.Info("Furniture hub backend started")

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	mylogger.Info(shutdownCtx, logger, "Shutting down server")

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("error shutting down HTTP app: %v\n", err)
	}

	if err := tp.Shutdown(shutdownCtx); err != nil {
		mylogger.Warn(
			shutdownCtx,
			logger,
			"Failed to shut down telemetry",
			zap.Error(err),
		)
	}

	if err := redisClient.Close(); err != nil {
		log.Printf("error closing redis client: %v\n", err)
	}

	pool.Close()
}
