package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq" // PostgreSQL driver

	"example.com/epiforecast/forecast"
	"example.com/epiforecast/ingestion"
	"example.com/epiforecast/pipeline"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables.")
	}

	// --- Database Connection ---
	dbHost := getEnv("DB_HOST", "localhost")
	dbPort := getEnv("DB_PORT", "5432")
	dbUser := getEnv("DB_USER", "admin")
	dbPassword := getEnv("DB_PASSWORD", "password")
	dbName := getEnv("DB_NAME", "forecast_db")
	dbSSLMode := getEnv("DB_SSLMODE", "disable")

	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		dbHost, dbPort, dbUser, dbPassword, dbName, dbSSLMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping PostgreSQL: %v", err)
	}
	log.Println("Successfully connected to the database for the forecast pipeline.")

	store, err := pipeline.NewStore(db)
	if err != nil {
		log.Fatalf("Failed to initialize run store: %v", err)
	}

	// --- Optional NATS run events ---
	var publisher pipeline.EventPublisher
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		natsPublisher, err := pipeline.NewNATSPublisher(natsURL)
		if err != nil {
			log.Fatalf("Failed to connect to NATS: %v", err)
		}
		defer natsPublisher.Close()
		publisher = natsPublisher
		log.Printf("Publishing run events to NATS at %s", natsURL)
	}

	// --- Pipeline Service ---
	service := pipeline.NewService(
		ingestion.NewService(db),
		store,
		publisher,
		pipeline.LogRenderer{},
		forecast.DefaultConfig(),
	)

	// --- Optional scheduled retraining ---
	if spec := os.Getenv("RETRAIN_CRON"); spec != "" {
		source := ingestion.SourceConfig{
			Type:     ingestion.SourceType(getEnv("SOURCE_TYPE", string(ingestion.SourceCSV))),
			Filepath: os.Getenv("SOURCE_FILEPATH"),
			Table:    os.Getenv("SOURCE_TABLE"),
		}
		scheduler := pipeline.NewScheduler(service, source, spec)
		if err := scheduler.Start(); err != nil {
			log.Fatalf("Failed to start retraining scheduler: %v", err)
		}
		defer scheduler.Stop()
	}

	// --- HTTP Server Setup ---
	router := gin.Default()
	pipeline.NewAPI(service, store).RegisterRoutes(router)

	serverPort := ":" + getEnv("PORT", "8084")
	log.Printf("Starting Forecast Pipeline Service on port %s", serverPort)
	if err := router.Run(serverPort); err != nil {
		log.Fatalf("Failed to start Forecast Pipeline Service: %v", err)
	}
}

// getEnv reads an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}
