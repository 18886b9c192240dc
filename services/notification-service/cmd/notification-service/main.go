package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/mvbr/payflow/libs/config"
	"github.com/mvbr/payflow/libs/db"
	"github.com/mvbr/payflow/libs/httpx"
	"github.com/mvbr/payflow/libs/kafkax"
	otelx "github.com/mvbr/payflow/libs/otel"
	"github.com/mvbr/payflow/libs/runtime"
	"github.com/mvbr/payflow/services/notification-service/internal/consumer"
	"github.com/mvbr/payflow/services/notification-service/internal/ledger"
	"github.com/mvbr/payflow/services/notification-service/internal/notifications"
	"github.com/mvbr/payflow/services/notification-service/internal/recoverer"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "notification-service")
	port, err := config.Port("PORT", "8082")
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
	approvedTopic := config.String("KAFKA_TOPIC_PAYMENT_APPROVED", "payment.approved.v1")
	notificationTopic := config.String("KAFKA_TOPIC_PAYMENT_NOTIFICATION", "payment.notification.v1")

	ledgerRepo := ledger.NewRepository(pool)
	store := notifications.NewStore(pool, ledgerRepo)
	processor := notifications.NewProcessor(store, logger)
	dlqWriter := consumer.NewDLQWriter(brokers, logger)

	retry := consumer.RetryConfig{
		MaxAttempts:    config.Int("CONSUMER_MAX_ATTEMPTS", 5),
		InitialBackoff: time.Duration(config.Int("CONSUMER_BACKOFF_INITIAL_MS", 1000)) * time.Millisecond,
		Multiplier:     2,
		MaxBackoff:     time.Duration(config.Int("CONSUMER_BACKOFF_MAX_MS", 10000)) * time.Millisecond,
	}
	groupID := config.String("KAFKA_GROUP_ID", "notification-service")

	approvalConsumer := consumer.New(logger, processor, dlqWriter, consumer.Config{
		Brokers: kafkaBrokers,
		GroupID: groupID,
		Topic:   approvedTopic,
		Retry:   retry,
	})
	go approvalConsumer.Run(ctx)

	notificationProcessor := notifications.NewNotificationProcessor(store, logger)
	notificationConsumer := consumer.New(logger, notificationProcessor, dlqWriter, consumer.Config{
		Brokers: kafkaBrokers,
		GroupID: groupID,
		Topic:   notificationTopic,
		Retry:   retry,
	})
	go notificationConsumer.Run(ctx)

	var replayPolicy recoverer.Policy = recoverer.ReplayAlways{}
	if config.String("DLQ_REPLAY_POLICY", "always") == "transient" {
		replayPolicy = recoverer.ReplayTransient{}
	}
	dlqRecoverer := recoverer.New(logger, replayPolicy, recoverer.Config{
		Enabled: config.Bool("DLQ_RECOVERER_ENABLED", false),
		Brokers: kafkaBrokers,
		Topics:  []string{kafkax.DLQTopic(approvedTopic), kafkax.DLQTopic(notificationTopic)},
		GroupID: config.String("DLQ_GROUP_ID", "dlq-reprocessing-group"),
	})
	go dlqRecoverer.Run(ctx)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(kafkaBrokers)},
	)
	mux.HandleFunc("/statsz", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		processed, err := ledgerRepo.Count(r.Context())
		if err != nil {
			http.Error(w, "failed to count processed events", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"processed_events": processed,
			"dead_lettered":    approvalConsumer.DeadLettered() + notificationConsumer.DeadLettered(),
		})
	})

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithTimeout(10*time.Second),
	)
	handler = otelhttp.NewHandler(handler, "notifications")
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
