package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/imboss96/storefront/internal/config"
	"github.com/imboss96/storefront/internal/es"
	"github.com/imboss96/storefront/internal/handlers"
	"github.com/imboss96/storefront/internal/handlers/cart"
	"github.com/imboss96/storefront/internal/handlers/checkout"
	"github.com/imboss96/storefront/internal/handlers/order"
	"github.com/imboss96/storefront/internal/logging"
	"github.com/imboss96/storefront/internal/metrics"
	"github.com/imboss96/storefront/internal/mykafka"
	"github.com/imboss96/storefront/internal/notify"
	"github.com/imboss96/storefront/internal/payment"
	"github.com/imboss96/storefront/internal/redisstore"
	"github.com/imboss96/storefront/internal/service/token"
	httpserver "github.com/imboss96/storefront/internal/transport/http"
)

func main() {
	configuration, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	logger := logging.New(configuration.LOG_LEVEL)

	db, err := config.InitDB()
	if err != nil {
		log.Fatalf("database init failed: %v", err)
	}
	if err := config.Migrate(db); err != nil {
		log.Fatalf("migration failed: %v", err)
	}

	jwtSecret := []byte(configuration.JWT_SECRET)
	refreshSecret := []byte(configuration.REFRESH_SECRET)

	prod := mykafka.NewProducer([]string{configuration.KAFKA_ADDRESS})

	esClient, err := es.NewClient(configuration)
	if err != nil {
		log.Fatalf("elasticsearch init failed: %v", err)
	}

	redisStore := redisstore.New(configuration.REDIS_ADDR, configuration.REDIS_PASSWORD)
	if err := redisStore.Ping(context.Background()); err != nil {
		log.Fatalf("redis init failed: %v", err)
	}

	storeMetrics := metrics.NewStoreMetrics()

	relay := notify.NewRelayClient(configuration.EMAIL_RELAY_URL)
	dispatcher := notify.NewDispatcher(relay, configuration.STORE_NAME, logger,
		notify.WithDeliveryCounter(storeMetrics.EmailsDelivered))

	payments := payment.NewClient(configuration)

	e := echo.New()
	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover(), middleware.RequestID())

	deps := httpserver.Deps{
		DB:             db,
		AuthHandler:    &handlers.AuthHandler{DB: db, JWTSecret: jwtSecret, RefreshSecret: refreshSecret, Producer: prod},
		ProductHandler: &handlers.ProductHandler{DB: db, Producer: prod, ES: esClient, Index: es.ProductIndex},
		SearchHandler:  &handlers.SearchHandler{ES: esClient, Index: es.ProductIndex},
		VendorHandler:  &handlers.VendorHandler{DB: db, Producer: prod, Dispatcher: dispatcher},
		CartHandler:    &cart.CartHandler{DB: db, Producer: prod},
		CheckoutHandler: &checkout.CheckoutHandler{
			DB:                    db,
			Producer:              prod,
			Payments:              payments,
			Dispatcher:            dispatcher,
			Idem:                  redisStore,
			Metrics:               storeMetrics,
			FreeShippingThreshold: configuration.FREE_SHIPPING_THRESHOLD,
			ShippingFee:           configuration.SHIPPING_FEE,
		},
		OrderHandler: &order.OrderHandler{DB: db, Producer: prod, Dispatcher: dispatcher, Metrics: storeMetrics},
		TokenService: &token.TokenService{DB: db, RefreshSecret: refreshSecret, JWTSecret: jwtSecret},
	}

	httpserver.Register(e, &deps)

	srv := &http.Server{
		Addr:         ":8080",
		Handler:      e,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("http server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}

	dispatcher.Close()

	if sqlDB, err := db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			log.Printf("db close error: %v", err)
		}
	} else {
		log.Printf("db() error: %v", err)
	}

	if err := redisStore.Close(); err != nil {
		log.Printf("redis close error: %v", err)
	}
	if err := prod.Close(); err != nil {
		log.Printf("kafka close error: %v", err)
	}

	log.Println("shutdown complete")
}
