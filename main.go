package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"

	"momo-gateway/internal/config"
	"momo-gateway/internal/handlers"
	"momo-gateway/internal/kafka"
	"momo-gateway/internal/logger"
	"momo-gateway/internal/middleware"
	"momo-gateway/internal/providers"
	rediswrap "momo-gateway/internal/redis"
	"momo-gateway/internal/services"
	"momo-gateway/internal/storage"
	"momo-gateway/internal/tokencache"
	"momo-gateway/internal/transport"

	"github.com/gin-gonic/gin"
)

// Global logger instance
var log *logger.Logger

func main() {
	log = logger.NewLogger()
	defer log.Close()

	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Warn("ENV", "Error loading .env file, using environment variables")
	}

	log.LogProcess("STARTUP", "Mobile Money Gateway starting up...")

	cfg := config.Load()
	log.Info("CONFIG", "Configuration loaded successfully")

	log.LogProcess("DATABASE", "Initializing MySQL database...")
	store, err := storage.NewMySQLStore(cfg.Database, log)
	if err != nil {
		log.Fatal("DATABASE", "Failed to initialize MySQL: "+err.Error())
	}
	defer store.Close()
	log.LogDatabase("INIT", "mysql", "MySQL storage initialized successfully")

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	redisStore := rediswrap.NewRedis(redisClient)
	log.LogProcess("SERVICE", "Redis connection configured")

	log.LogProcess("KAFKA", "Initializing Kafka producer...")
	kafkaProducer, err := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.MockMode, log)
	if err != nil {
		log.Fatal("KAFKA", "Failed to create Kafka producer: "+err.Error())
	}
	defer kafkaProducer.Close()
	log.LogKafka("INIT", "producer", "Kafka producer initialized successfully")

	// Provider adapters share one retrying HTTP client and the Redis
	// backed token cache.
	httpClient := transport.NewClient(cfg.Transport, log)
	tokens := tokencache.New(redisStore)

	mtn := providers.NewMTN(cfg.MTN, httpClient, tokens, log)
	airtel := providers.NewAirtel(cfg.Airtel, httpClient, tokens, log)
	provs := map[string]providers.Provider{
		mtn.Name():    mtn,
		airtel.Name(): airtel,
	}

	paymentService := services.NewPaymentService(store, provs, kafkaProducer, log)
	log.LogProcess("SERVICE", "Payment service initialized")

	webhookRules := map[string]config.WebhookRule{
		mtn.Name():    cfg.MTN.Webhook,
		airtel.Name(): cfg.Airtel.Webhook,
	}
	webhookService := services.NewWebhookService(store, redisStore, kafkaProducer, webhookRules, log)
	log.LogProcess("SERVICE", "Webhook service initialized")

	reconciler := services.NewReconciler(store, provs, kafkaProducer, cfg.Reconciler, log)
	go reconciler.Run(context.Background(), cfg.Reconciler.Interval)
	log.LogProcess("SERVICE", "Reconciler started")

	if !cfg.Kafka.MockMode {
		kafkaConsumer, err := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, log)
		if err != nil {
			log.Fatal("KAFKA", "Failed to create Kafka consumer: "+err.Error())
		}
		defer kafkaConsumer.Close()

		go func() {
			log.LogKafka("START", "consumer", "Starting notification consumer goroutine")
			if err := kafkaConsumer.ConsumePayments(context.Background(), kafka.NotificationHandler(log)); err != nil {
				log.Error("KAFKA", "Consumer error: "+err.Error())
			}
		}()
	}

	paymentHandler := handlers.NewPaymentHandler(paymentService)
	webhookHandler := handlers.NewWebhookHandler(webhookService)
	log.LogProcess("HANDLER", "All handlers initialized")

	router := setupRouter(store, paymentHandler, webhookHandler)
	log.LogProcess("ROUTER", "HTTP router configured")

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.LogProcess("SERVER", "Starting HTTP server on port "+cfg.Server.Port)
		log.Info("STARTUP", "Mobile Money Gateway is ready to accept requests")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("SERVER", "Server failed to start: "+err.Error())
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Warn("SHUTDOWN", "Received shutdown signal, initiating graceful shutdown...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("SHUTDOWN", "Server forced to shutdown: "+err.Error())
	}

	log.Info("SHUTDOWN", "Mobile Money Gateway shutdown completed successfully")
}

func setupRouter(store storage.Store, paymentHandler *handlers.PaymentHandler, webhookHandler *handlers.WebhookHandler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.Recovery(log))
	router.Use(middleware.CORS())
	router.Use(middleware.RateLimit(log))
	router.Use(middleware.SecurityHeaders(log))

	router.GET("/health", func(c *gin.Context) {
		if err := store.HealthCheck(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now().UTC(),
			"service":   "momo-gateway",
			"version":   "1.0.0",
		})
	})

	v1 := router.Group("/api/v1")
	{
		payments := v1.Group("/payments")
		{
			payments.POST("/initiate", paymentHandler.InitiatePayment)
			payments.GET("/:id/status", paymentHandler.GetPaymentStatus)
			payments.GET("/:id/verify", paymentHandler.VerifyPayment)
		}

		webhooks := v1.Group("/webhooks")
		{
			webhooks.POST("/mtn-momo", webhookHandler.HandleMTNCallback)
			webhooks.POST("/airtel-money", webhookHandler.HandleAirtelCallback)
		}
	}

	log.LogProcess("ROUTER", "All routes registered successfully")
	return router
}
