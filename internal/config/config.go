package config

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"catalog-import-service/internal/models"
)

type Config struct {
	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis
	RedisURL string

	// Server
	Port        string
	Environment string

	// JWT
	JWTSecret string

	// Import pipeline tuning
	BatchSize      int
	MaxImportRows  int
	MaxImportBytes int64

	// Progress transport
	HeartbeatIntervalSec int
	HeartbeatTimeoutSec  int
}

func Load() *Config {
	dbPort, _ := strconv.Atoi(getEnv("DB_PORT", "5432"))
	batchSize, _ := strconv.Atoi(getEnv("BATCH_SIZE", "100"))
	maxRows, _ := strconv.Atoi(getEnv("MAX_IMPORT_ROWS", "50000"))
	maxBytes, _ := strconv.ParseInt(getEnv("MAX_IMPORT_BYTES", "5368709120"), 10, 64)
	hbInterval, _ := strconv.Atoi(getEnv("HEARTBEAT_INTERVAL_SEC", "30"))
	hbTimeout, _ := strconv.Atoi(getEnv("HEARTBEAT_TIMEOUT_SEC", "90"))

	return &Config{
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     dbPort,
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "catalog_import_db"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		RedisURL: getEnv("REDIS_URL", "redis://localhost:6379/0"),

		Port:        getEnv("PORT", "8093"),
		Environment: getEnv("ENVIRONMENT", "development"),

		JWTSecret: getEnv("JWT_SECRET", "your-secret-key"),

		BatchSize:      batchSize,
		MaxImportRows:  maxRows,
		MaxImportBytes: maxBytes,

		HeartbeatIntervalSec: hbInterval,
		HeartbeatTimeoutSec:  hbTimeout,
	}
}

func InitDB(cfg *Config) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBSSLMode)

	var logLevel logger.LogLevel
	if cfg.Environment == "production" {
		logLevel = logger.Error
	} else {
		logLevel = logger.Info
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Auto-migrate models to keep schema up to date
	log.Println("Running auto-migrations...")
	if err := db.AutoMigrate(
		&models.ImportJob{},
		&models.ImportRow{},
		&models.StagingProduct{},
		&models.StagingVariant{},
		&models.Product{},
		&models.ProductVariant{},
	); err != nil {
		return nil, fmt.Errorf("failed to run auto-migrations: %w", err)
	}
	log.Println("Auto-migrations completed successfully")

	return db, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
