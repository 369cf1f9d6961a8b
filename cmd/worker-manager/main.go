// cmd/worker-manager/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"receipt-workers/internal/account"
	"receipt-workers/internal/audit"
	commonaws "receipt-workers/internal/common/aws"
	"receipt-workers/internal/common/camunda"
	"receipt-workers/internal/common/config"
	"receipt-workers/internal/common/database"
	commonhttp "receipt-workers/internal/common/http"
	"receipt-workers/internal/common/lock"
	"receipt-workers/internal/common/logger"
	"receipt-workers/internal/common/observability"
	"receipt-workers/internal/common/validation"
	"receipt-workers/internal/donations"
	"receipt-workers/internal/notification"
	rrr "receipt-workers/internal/workers/donations/receipt-request-response"
	"receipt-workers/internal/zkreceipt"
	"receipt-workers/pkg/registry"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(logger.Options{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Output:  cfg.Logging.Output,
		Service: cfg.Observability.ServiceName,
	})
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting worker manager...", zap.String("environment", cfg.App.Environment))

	obs := observability.New(cfg.Observability.ServiceName, cfg.Observability.JaegerEndpoint, log)
	defer obs.Shutdown()

	ctx := context.Background()

	// --- Zeebe ---
	var zeebe *camunda.Client
	err = retryWithBackoff(func() error {
		var err error
		zeebe, err = camunda.NewClientWithConfig(&camunda.ClientConfig{
			GatewayAddress:         cfg.Camunda.BrokerAddress,
			UsePlaintextConnection: true,
			ConnectionTimeout:      10 * time.Second,
			RequestTimeout:         config.GetDuration(cfg.Camunda.RequestTimeout),
		})
		return err
	}, 10, 2*time.Second, zapLog, "Zeebe client initialization")
	if err != nil {
		zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
	}
	zapLog.Info("Zeebe client connected successfully")

	// --- PostgreSQL: account key-value store ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	if err := pg.Migrate(ctx); err != nil {
		zapLog.Fatal("postgres migration failed", zap.Error(err))
	}
	zapLog.Info("PostgreSQL connected successfully")

	// --- Redis: job state checkpoints and the distributed lock ---
	var rdb *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		rdb, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return rdb.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")
	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer rdb.Close()
	zapLog.Info("Redis connected successfully")

	// --- Elasticsearch: attempt audit trail (optional) ---
	recorder := audit.Nop()
	if cfg.Database.Elasticsearch.Enabled() {
		var esClient *database.ElasticsearchClient
		err = retryWithBackoff(func() error {
			var err error
			esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			if err := esClient.Ping(); err != nil {
				return err
			}
			return esClient.EnsureIndex(ctx, cfg.Receipts.AuditIndex, audit.Mapping)
		}, 15, 2*time.Second, zapLog, "Elasticsearch connection")
		if err != nil {
			zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
		}
		recorder = audit.NewElasticsearchRecorder(esClient.Client, cfg.Receipts.AuditIndex)
		zapLog.Info("Elasticsearch connected successfully", zap.String("index", cfg.Receipts.AuditIndex))
	}

	notifier := buildNotifier(ctx, cfg, log, zapLog)

	// --- Activity contract ---
	reg, err := registry.Load(cfg.Registry.Path)
	if err != nil {
		zapLog.Fatal("failed to load activity registry", zap.Error(err))
	}
	activity, ok := reg.Find(rrr.TaskType)
	if !ok {
		zapLog.Fatal("activity missing from registry", zap.String("taskType", rrr.TaskType))
	}
	schema, err := validation.Compile(activity.InputSchema)
	if err != nil {
		zapLog.Fatal("invalid input schema", zap.String("taskType", rrr.TaskType), zap.Error(err))
	}

	// --- Receipt request worker ---
	var workers []*camunda.CamundaWorker
	if config.IsWorkerEnabled(cfg, rrr.TaskType) {
		wcfg := config.GetWorkerConfig(cfg, rrr.TaskType)
		handlerCfg := rrr.LoadConfig(cfg)
		if _, configured := cfg.Workers[rrr.TaskType]; !configured {
			handlerCfg.Timeout = activity.TimeoutDuration(handlerCfg.Timeout)
		}
		handlerCfg.FitActivation(config.GetDuration(wcfg.Timeout))

		svc := donations.NewService(
			commonhttp.NewClient(cfg.Donations.BaseURL, config.GetDuration(cfg.Donations.Timeout), cfg.Donations.UserAgent),
			log,
		)
		ops := zkreceipt.NewRemoteOperations(
			commonhttp.NewClient(cfg.ZK.SidecarURL, config.GetDuration(cfg.ZK.Timeout), cfg.Donations.UserAgent),
		)
		accounts := account.NewPostgresStore(pg.DB)

		var locker lock.Locker = lock.NewLocal()
		if cfg.Receipts.DistributedLock {
			locker = lock.Chain{locker, lock.NewRedis(rdb.Client, config.GetDuration(cfg.Receipts.LockTTL), log)}
		}

		handler := rrr.NewHandler(handlerCfg, rrr.Dependencies{
			Engine:   rrr.NewEngine(svc, ops, accounts, log),
			Ops:      ops,
			Store:    rrr.NewRedisStateStore(rdb.Client, handlerCfg.StateTTL),
			Locker:   locker,
			Notifier: notifier,
			Recorder: recorder,
			Schema:   schema,
			Obs:      obs,
		}, log)

		workers = append(workers, camunda.NewWorker(zeebe.GetClient(), rrr.TaskType, camunda.WorkerOptions{
			MaxJobsActive: wcfg.MaxJobsActive,
			Timeout:       config.GetDuration(wcfg.Timeout),
		}, handler, log))
	} else {
		zapLog.Info("worker disabled", zap.String("taskType", rrr.TaskType))
	}
	zapLog.Info("Workers registered", zap.Int("count", len(workers)))

	// --- Health & Metrics Server ---
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, "healthy")
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := zeebe.HealthCheck(r.Context()); err != nil {
			writeStatus(w, http.StatusServiceUnavailable, "zeebe unavailable")
			return
		}
		if err := rdb.Ping(r.Context()); err != nil {
			writeStatus(w, http.StatusServiceUnavailable, "redis unavailable")
			return
		}
		writeStatus(w, http.StatusOK, "ready")
	})
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{Addr: cfg.App.HTTPAddress, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		zapLog.Info("Health/Metrics server listening", zap.String("address", cfg.App.HTTPAddress))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLog.Error("Health/Metrics server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping workers...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, w := range workers {
		w.Stop()
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error stopping Health/Metrics server", zap.Error(err))
	}
	if err := zeebe.Close(); err != nil {
		zapLog.Error("Error closing Zeebe client", zap.Error(err))
	}

	zapLog.Info("Worker manager stopped gracefully")
}

func buildNotifier(ctx context.Context, cfg *config.Config, log logger.Logger, zapLog *zap.Logger) notification.Notifier {
	notifiers := notification.Multi{notification.NewLogNotifier(log)}
	region := cfg.Notifications.AWS.Region

	if cfg.Notifications.SNS.Enabled {
		client, err := commonaws.NewSNSClient(ctx, region)
		if err != nil {
			zapLog.Fatal("failed to create SNS client", zap.Error(err))
		}
		notifiers = append(notifiers, notification.NewSNSNotifier(client, cfg.Notifications.SNS.TopicARN))
	}
	if cfg.Notifications.Email.Enabled {
		client, err := commonaws.NewSESClient(ctx, region)
		if err != nil {
			zapLog.Fatal("failed to create SES client", zap.Error(err))
		}
		notifiers = append(notifiers, notification.NewSESNotifier(client, cfg.Notifications.Email.FromEmail, cfg.Notifications.Email.ToEmail))
	}
	return notifiers
}

func writeStatus(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{
		"status": status,
		"time":   time.Now().Format(time.RFC3339),
	})
}
