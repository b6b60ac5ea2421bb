package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config carries every external coordinate the job needs: Braze REST
// endpoint and token, BigQuery project/dataset/tables, and the schema
// file used to bootstrap absent tables. It is constructed once in main
// and passed into every component; nothing reads the environment after
// startup.
type Config struct {
	BrazeRESTURL string
	BrazeAPIKey  string

	GCPProject      string
	CredentialsFile string
	Dataset         string
	DirectoryTable  string
	AnalyticsTable  string
	JoinedTable     string
	GADataset       string
	GATablePrefix   string
	BITable         string
	SchemaFile      string

	Port          string
	LogLevel      string
	HTTPTimeout   time.Duration
	RetryAttempts int
}

func Load() *Config {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		logrus.Warn("No .env file found, using environment variables")
	}

	timeout, _ := time.ParseDuration(getEnv("HTTP_TIMEOUT", "30s"))
	retryAttempts, _ := strconv.Atoi(getEnv("RETRY_ATTEMPTS", "3"))

	return &Config{
		BrazeRESTURL: getEnv("BRAZE_REST_URL", "https://rest.iad-06.braze.com"),
		BrazeAPIKey:  getEnv("BRAZE_API_KEY", ""),

		GCPProject:      getEnv("GCP_PROJECT", ""),
		CredentialsFile: getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),
		Dataset:         getEnv("BQ_DATASET", "braze_campaigns"),
		DirectoryTable:  getEnv("BQ_DIRECTORY_TABLE", "campaigns_list"),
		AnalyticsTable:  getEnv("BQ_ANALYTICS_TABLE", "campaign_analytics"),
		JoinedTable:     getEnv("BQ_JOINED_TABLE", "ga_bi_joined_analytics"),
		GADataset:       getEnv("GA_DATASET", ""),
		GATablePrefix:   getEnv("GA_TABLE_PREFIX", "ga_sessions_"),
		BITable:         getEnv("BI_TABLE", "braze_campaigns.internal_bi"),
		SchemaFile:      getEnv("BQ_SCHEMA_FILE", "bq_schemas.json"),

		Port:          getEnv("PORT", "8080"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		HTTPTimeout:   timeout,
		RetryAttempts: retryAttempts,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
