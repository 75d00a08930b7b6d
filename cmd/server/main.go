package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/redis/go-redis/v9"

	"github.com/goshop/goshop/internal/cart"
	"github.com/goshop/goshop/internal/checkout"
	"github.com/goshop/goshop/internal/httpapi"
	"github.com/goshop/goshop/internal/outbox"
	"github.com/goshop/goshop/internal/payment"
	"github.com/goshop/goshop/internal/repository"
	"github.com/goshop/goshop/internal/webhook"
)

type Config struct {
	HTTPPort        string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration

	Postgres repository.Credentials
	MongoURI string
	MongoDB  string
	Redis    string

	KafkaBrokers []string

	Stripe payment.StripeConfig
	PayPal payment.PayPalConfig
}

func loadConfig() *Config {
	frontendURL := getEnv("FRONTEND_URL", "http://localhost:3000")

	return &Config{
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		RequestTimeout:  30 * time.Second,
		ShutdownTimeout: 10 * time.Second,

		Postgres: repository.Credentials{
			Host:              getEnv("POSTGRES_HOST", "localhost"),
			Port:              getEnvInt("POSTGRES_PORT", 5432),
			User:              getEnv("POSTGRES_USER", "postgres"),
			Password:          getEnv("POSTGRES_PASSWORD", "postgres"),
			DBName:            getEnv("POSTGRES_DB", "goshop"),
			MigrationsDirPath: getEnv("MIGRATIONS_DIR", "internal/repository/migrations"),
		},
		MongoURI: getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:  getEnv("MONGO_DB_NAME", "cartdb"),
		Redis:    getEnv("REDIS_ADDR", "localhost:6379"),

		KafkaBrokers: strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),

		Stripe: payment.StripeConfig{
			SecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
			WebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
			FrontendURL:   frontendURL,
		},
		PayPal: payment.PayPalConfig{
			ClientID:     getEnv("PAYPAL_CLIENT_ID", ""),
			ClientSecret: getEnv("PAYPAL_CLIENT_SECRET", ""),
			WebhookID:    getEnv("PAYPAL_WEBHOOK_ID", ""),
			Mode:         getEnv("PAYPAL_MODE", "sandbox"),
			FrontendURL:  frontendURL,
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func main() {
	cfg := loadConfig()
	ctx := context.Background()

	// Postgres: orders, products, discounts, audit log, outbox
	repo, err := repository.NewRepository(&cfg.Postgres)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer repo.Close()

	if err := repo.RunMigrations(&cfg.Postgres); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	log.Printf("Connected to Postgres at %s:%d", cfg.Postgres.Host, cfg.Postgres.Port)

	// MongoDB: carts
	mongoDB, err := cart.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDB)
	if err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	if err := cart.EnsureIndexes(ctx, mongoDB); err != nil {
		log.Fatalf("Failed to create cart indexes: %v", err)
	}
	log.Printf("Connected to MongoDB at %s", cfg.MongoURI)

	// Redis: cart read cache
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis,
		Password: getEnv("REDIS_PASSWORD", ""),
		DB:       0,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal("Redis connection failed:", err)
	}
	log.Printf("Redis ping succeeded")

	cartRepo := cart.NewMongoRepository(mongoDB)
	cartCache := cart.NewRedisCache(redisClient)
	cartService := cart.NewCartService(cartRepo, cartCache, repo)

	stripeProvider := payment.NewStripeProvider(cfg.Stripe)
	paypalProvider := payment.NewPayPalProvider(cfg.PayPal)
	providers := map[string]payment.Provider{
		stripeProvider.Name(): stripeProvider,
		paypalProvider.Name(): paypalProvider,
	}

	checkoutService := checkout.NewService(cartService, repo, repo, providers)

	reconciler := webhook.NewReconciler(repo)
	reconciler.RegisterStripe(stripeProvider)
	reconciler.RegisterPayPal(paypalProvider)

	// Outbox poller ships completed-order events to Kafka
	pollerCtx, stopPoller := context.WithCancel(ctx)
	poller := outbox.NewPoller(repo, cfg.KafkaBrokers...)
	go poller.Run(pollerCtx)
	defer poller.Close()

	router := httpapi.NewRouter(httpapi.RouterConfig{
		Carts:          cartService,
		Checkouts:      checkoutService,
		Reconciler:     reconciler,
		Orders:         repo,
		Products:       repo,
		RequestTimeout: cfg.RequestTimeout,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down server...")
	stopPoller()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("server forced to shutdown: %v", err)
	}

	if err := mongoDB.Client().Disconnect(ctx); err != nil {
		log.Printf("failed to disconnect MongoDB: %v", err)
	}

	log.Println("server exited")
}
