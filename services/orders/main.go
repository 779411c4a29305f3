package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/matheusmosca/tenant-order-engine/internal/billing"
	"github.com/matheusmosca/tenant-order-engine/internal/checkout"
	"github.com/matheusmosca/tenant-order-engine/internal/inventory"
	"github.com/matheusmosca/tenant-order-engine/internal/notify"
	"github.com/matheusmosca/tenant-order-engine/internal/store"
	"github.com/matheusmosca/tenant-order-engine/internal/store/memory"
	mongostore "github.com/matheusmosca/tenant-order-engine/internal/store/mongo"
	"github.com/matheusmosca/tenant-order-engine/internal/store/postgres"
	"github.com/matheusmosca/tenant-order-engine/internal/telemetry"
	"github.com/matheusmosca/tenant-order-engine/internal/tenant"
)

func main() {
	cfg := loadConfig()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize OpenTelemetry
	providers, err := telemetry.Init(ctx, telemetry.Config{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: cfg.ServiceName,
	})
	if err != nil {
		log.Fatalf("Failed to initialize telemetry: %v", err)
	}
	defer func() {
		if err := providers.Shutdown(context.Background()); err != nil {
			log.Printf("Error shutting down telemetry: %v", err)
		}
	}()

	// Initialize storage
	driver, err := openDriver(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer driver.Close(context.Background())

	registry := tenant.NewRegistry(driver)

	// Setup notifier
	notifier, closeNotifier := newNotifier(cfg)
	defer closeNotifier()

	// a bill is only flagged when something was actually delivered
	var delivered notify.DeliveredFunc
	if _, nop := notifier.(notify.NopNotifier); !nop {
		delivered = func(ctx context.Context, c notify.Confirmation) error {
			h, err := registry.Lookup(ctx, c.TenantID)
			if err != nil {
				return err
			}
			return h.MarkBillEmailSent(ctx, c.BillID)
		}
	}
	dispatcher := notify.NewDispatcher(notifier, cfg.NotifyTimeout, delivered)

	// Setup use cases
	coordinator := checkout.NewCoordinator(billing.NewIssuer(), dispatcher, checkout.Options{
		TxTimeout:     cfg.TxTimeout,
		VerifyBaseURL: cfg.PublicBaseURL,
	})
	verifier := billing.NewVerifier(registry)
	inventoryUseCase := inventory.NewInventoryUseCase()

	handler := NewOrderHandler(registry, coordinator, verifier, inventoryUseCase)

	// Setup Gin router
	r := gin.Default()
	r.Use(otelgin.Middleware(cfg.ServiceName))
	registerRoutes(r, handler)

	log.Printf("🚀 Orders Service listening on port %s (store=%s, notify=%s)", cfg.Port, cfg.StoreDriver, cfg.NotifyDriver)
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("🛑 Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error shutting down server: %v", err)
	}

	// confirmações em andamento terminam antes de fechar o storage
	dispatcher.Wait()
}

func openDriver(ctx context.Context, cfg Config) (store.Driver, error) {
	var driver store.Driver

	switch cfg.StoreDriver {
	case "memory":
		log.Println("⚠️ Using in-memory storage, data is lost on restart")
		return memory.New(), nil
	case "postgres":
		pool, err := newPool(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		driver = postgres.New(pool)
	case "mongo":
		client, err := mongo.Connect(options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, fmt.Errorf("failed to create mongo client: %w", err)
		}
		driver = mongostore.New(client)
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}

	if err := waitForStorage(ctx, driver, 30); err != nil {
		_ = driver.Close(context.Background())
		return nil, err
	}
	return driver, nil
}

func newPool(ctx context.Context, db DatabaseConfig) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(db.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	// Configure connection pool
	config.MaxConns = 25
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	config.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	return pool, nil
}

// waitForStorage pings until the storage answers or attempts run out
func waitForStorage(ctx context.Context, driver store.Driver, attempts int) error {
	for i := 0; i < attempts; i++ {
		if err := driver.Ping(ctx); err == nil {
			log.Println("✅ Connected to storage")
			return nil
		}
		log.Printf("⏳ Waiting for storage... (%d/%d)", i+1, attempts)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(1 * time.Second):
		}
	}
	return fmt.Errorf("failed to connect to storage after %d attempts", attempts)
}

func newNotifier(cfg Config) (notify.Notifier, func()) {
	switch cfg.NotifyDriver {
	case "webhook":
		if cfg.WebhookURL == "" {
			log.Println("⚠️ NOTIFY_WEBHOOK_URL is empty, confirmations disabled")
			return notify.NopNotifier{}, func() {}
		}
		return notify.NewWebhookNotifier(cfg.WebhookURL, cfg.NotifyTimeout), func() {}
	case "kafka":
		k := notify.NewKafkaNotifier(cfg.KafkaBrokers, cfg.KafkaTopic)
		return k, func() {
			if err := k.Close(); err != nil {
				log.Printf("Error closing kafka writer: %v", err)
			}
		}
	default:
		return notify.NopNotifier{}, func() {}
	}
}
