package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/outflowhq/outflow/pkg/models"
)

// Defaults per task type. Scrapers are capped lower because each run fans
// out a headless browser; email polls fastest because sends are cheap and
// latency-sensitive.
var defaults = map[models.TaskType]models.QueueConfig{
	models.WorkflowTaskType: {MaxConcurrent: 5, PollInterval: 2 * time.Second, MaxRetries: 3},
	models.ScraperTaskType:  {MaxConcurrent: 2, PollInterval: 5 * time.Second, MaxRetries: 2},
	models.EmailTaskType:    {MaxConcurrent: 10, PollInterval: 1 * time.Second, MaxRetries: 3},
	models.SocialTaskType:   {MaxConcurrent: 5, PollInterval: 3 * time.Second, MaxRetries: 3},
}

// Config is the process-level configuration assembled from the
// environment.
type Config struct {
	Queues    map[models.TaskType]models.QueueConfig
	DBConnStr string
	RedisAddr string
	HTTPPort  string
}

// QueueConfigs returns the per-type queue settings, with
// QUEUE_<TYPE>_MAX_CONCURRENT, QUEUE_<TYPE>_POLL_INTERVAL_MS and
// QUEUE_<TYPE>_MAX_RETRIES environment overrides on top of the defaults.
func QueueConfigs() map[models.TaskType]models.QueueConfig {
	configs := make(map[models.TaskType]models.QueueConfig, len(defaults))
	for taskType, cfg := range defaults {
		prefix := "QUEUE_" + strings.ToUpper(string(taskType)) + "_"
		cfg.MaxConcurrent = envInt(prefix+"MAX_CONCURRENT", cfg.MaxConcurrent)
		cfg.MaxRetries = envInt(prefix+"MAX_RETRIES", cfg.MaxRetries)
		if ms := envInt(prefix+"POLL_INTERVAL_MS", 0); ms > 0 {
			cfg.PollInterval = time.Duration(ms) * time.Millisecond
		}
		configs[taskType] = cfg
	}
	return configs
}

// FromEnv builds the full process configuration.
func FromEnv() Config {
	return Config{
		Queues:    QueueConfigs(),
		DBConnStr: dbConnStr(),
		RedisAddr: os.Getenv("REDIS_ADDR"),
		HTTPPort:  envString("PORT", "8080"),
	}
}

func dbConnStr() string {
	if conn := os.Getenv("DATABASE_URL"); conn != "" {
		return conn
	}
	username := os.Getenv("DB_USERNAME")
	password := os.Getenv("DB_PASSWORD")
	host := os.Getenv("DB_HOST")
	port := envString("DB_PORT", "5432")
	name := os.Getenv("DB_NAME")
	if username == "" || host == "" || name == "" {
		return ""
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", username, password, host, port, name)
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
