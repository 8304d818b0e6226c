package config

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/imboss96/storefront/internal/models"
)

type Config struct {
	DB_HOST     string
	DB_PORT     string
	DB_USER     string
	DB_PASSWORD string
	DB_NAME     string

	ES_URL      string
	ES_USER     string
	ES_PASSWORD string

	REDIS_ADDR     string
	REDIS_PASSWORD string

	JWT_SECRET     string
	REFRESH_SECRET string

	KAFKA_ADDRESS string

	MPESA_BASE_URL        string
	MPESA_CONSUMER_KEY    string
	MPESA_CONSUMER_SECRET string
	MPESA_SHORTCODE       string
	MPESA_PASSKEY         string
	MPESA_CALLBACK_URL    string

	EMAIL_RELAY_URL string
	EMAIL_FROM      string
	STORE_NAME      string

	// Shipping is free above the threshold, otherwise the flat fee applies.
	FREE_SHIPPING_THRESHOLD float64
	SHIPPING_FEE            float64

	LOG_LEVEL string
}

func LoadConfig() (*Config, error) {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Notice: .env file not found: %v. Using system environment variables", err)
	}

	config := &Config{
		DB_HOST:     os.Getenv("DB_HOST"),
		DB_PORT:     os.Getenv("DB_PORT"),
		DB_USER:     os.Getenv("DB_USER"),
		DB_PASSWORD: os.Getenv("DB_PASSWORD"),
		DB_NAME:     os.Getenv("DB_NAME"),

		ES_URL:      os.Getenv("ES_URL"),
		ES_USER:     os.Getenv("ES_USER"),
		ES_PASSWORD: os.Getenv("ES_PASSWORD"),

		REDIS_ADDR:     os.Getenv("REDIS_ADDR"),
		REDIS_PASSWORD: os.Getenv("REDIS_PASSWORD"),

		JWT_SECRET:     os.Getenv("JWT_SECRET"),
		REFRESH_SECRET: os.Getenv("REFRESH_SECRET"),

		KAFKA_ADDRESS: os.Getenv("KAFKA_ADDRESS"),

		MPESA_BASE_URL:        os.Getenv("MPESA_BASE_URL"),
		MPESA_CONSUMER_KEY:    os.Getenv("MPESA_CONSUMER_KEY"),
		MPESA_CONSUMER_SECRET: os.Getenv("MPESA_CONSUMER_SECRET"),
		MPESA_SHORTCODE:       os.Getenv("MPESA_SHORTCODE"),
		MPESA_PASSKEY:         os.Getenv("MPESA_PASSKEY"),
		MPESA_CALLBACK_URL:    os.Getenv("MPESA_CALLBACK_URL"),

		EMAIL_RELAY_URL: os.Getenv("EMAIL_RELAY_URL"),
		EMAIL_FROM:      os.Getenv("EMAIL_FROM"),
		STORE_NAME:      os.Getenv("STORE_NAME"),

		FREE_SHIPPING_THRESHOLD: envFloat("FREE_SHIPPING_THRESHOLD", 5000),
		SHIPPING_FEE:            envFloat("SHIPPING_FEE", 300),

		LOG_LEVEL: os.Getenv("LOG_LEVEL"),
	}

	return config, nil
}

func envFloat(key string, def float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		log.Printf("Notice: invalid %s=%q, using %v", key, raw, def)
		return def
	}
	return v
}

func InitDB() (*gorm.DB, error) {
	configuration, _ := LoadConfig()

	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		configuration.DB_USER, configuration.DB_PASSWORD,
		configuration.DB_HOST, configuration.DB_PORT, configuration.DB_NAME,
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := Migrate(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return db, nil
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Product{},
		&models.User{},
		&models.RefreshToken{},
		&models.CartItem{},
		&models.Order{},
		&models.OrderItem{},
		&models.VendorApplication{},
	)
}
