package main

import (
	"context"
	"net/http"
	"time"

	"github.com/mvbr/payflow/libs/config"
	"github.com/mvbr/payflow/libs/db"
	"github.com/mvbr/payflow/libs/httpx"
	"github.com/mvbr/payflow/libs/kafkax"
	otelx "github.com/mvbr/payflow/libs/otel"
	"github.com/mvbr/payflow/libs/runtime"
	"github.com/mvbr/payflow/services/payment-service/internal/events"
	"github.com/mvbr/payflow/services/payment-service/internal/handlers"
	"github.com/mvbr/payflow/services/payment-service/internal/outbox"
	"github.com/mvbr/payflow/services/payment-service/internal/payments"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "payment-service")
	port, err := config.Port("PORT", "8081")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	kafkaBrokers := config.String("KAFKA_BROKERS", "")
	brokers := kafkax.SplitBrokers(kafkaBrokers)
	if len(brokers) == 0 {
		panic("KAFKA_BROKERS is required")
	}
	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers:  brokers,
		Balancer: &kafka.Hash{},
	})
	defer writer.Close()

	outboxRepo := outbox.NewRepository(pool)
	outboxWriter := outbox.NewWriter(outboxRepo, logger)
	registry := events.NewRegistry()

	publisher := outbox.NewPublisher(outboxRepo, writer, registry, logger, outbox.PublisherConfig{
		PollEvery:  time.Duration(config.Int("OUTBOX_POLL_SECONDS", 5)) * time.Second,
		BatchSize:  config.Int("OUTBOX_BATCH_SIZE", 100),
		MaxRetries: config.Int("OUTBOX_MAX_RETRIES", 3),
	})
	go publisher.Run(ctx)

	paymentRepo := payments.NewRepository(pool)
	svc := payments.NewService(pool, paymentRepo, outboxWriter, logger, payments.Topics{
		Approved:     config.String("KAFKA_TOPIC_PAYMENT_APPROVED", "payment.approved.v1"),
		Notification: config.String("KAFKA_TOPIC_PAYMENT_NOTIFICATION", "payment.notification.v1"),
	})

	httpHandler := handlers.New(svc, outboxRepo)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(kafkaBrokers)},
	)
	mux.HandleFunc("/api/v1/payments", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			httpHandler.CreatePayment(w, r)
			return
		}
		if r.Method == http.MethodGet {
			httpHandler.GetPayment(w, r)
			return
		}
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	})
	mux.HandleFunc("/api/v1/payments/approve", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			httpHandler.ApprovePayment(w, r)
			return
		}
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	})
	mux.HandleFunc("/api/v1/payments/cancel", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			httpHandler.CancelPayment(w, r)
			return
		}
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	})
	mux.HandleFunc("/api/v1/payments/notify", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			httpHandler.NotifyPayment(w, r)
			return
		}
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	})
	mux.HandleFunc("/statsz", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			httpHandler.Stats(w, r)
			return
		}
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	})

	rateLimit := config.Int("RATE_LIMIT_PER_MINUTE", 120)
	var rateLimiter httpx.Middleware
	if redisAddr := config.String("REDIS_ADDR", ""); redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
		defer rdb.Close()
		rateLimiter = httpx.NewRedisRateLimiter(rdb, rateLimit, time.Minute, "payments").Middleware(logger, true)
	} else {
		rateLimiter = httpx.NewRateLimiter(rateLimit, time.Minute).Middleware()
	}

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(1<<20),
		rateLimiter,
	)
	handler = otelhttp.NewHandler(handler, "payments")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
