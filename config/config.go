package config

import (
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

type Config struct {
	AppName                       string   `env:"APP_NAME" env-default:"balsam"`
	Version                       string   `env:"APP_VERSION" env-default:"dev"`
	Port                          int      `env:"PORT" env-default:"3000"`
	LogLevel                      string   `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs                    bool     `env:"PRETTY_LOGS" env-default:"false"`
	HttpServerWriteTimeoutSeconds int      `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" env-default:"30"`
	HttpServerReadTimeoutSeconds  int      `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerIdleTimeoutSeconds  int      `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" env-default:"10"`
	MaxHeaderBytes                int      `env:"HTTP_SERVER_MAX_HEADER_BYTES" env-default:"64000"` // 64KB
	ReadHeaderTimeoutSeconds      int      `env:"HTTP_SERVER_READ_HEADER_TIMEOUT_SECONDS" env-default:"10"`
	AllowOrigins                  []string `env:"HTTP_SERVER_ALLOW_ORIGINS" env-default:"*"`
	AllowMethods                  []string `env:"HTTP_SERVER_ALLOW_METHODS" env-default:"GET,POST,PUT,DELETE"`
	StartupMaxAttempts            int      `env:"STARTUP_MAX_ATTEMPTS" env-default:"5"`

	// Graceful shutdown budget
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" env-default:"30s"`

	// Database driver
	DatabaseDriver string `env:"DB_DRIVER" env-default:"postgres"`
	// Database host
	DatabaseHost string `env:"DB_HOST" env-default:""`
	// Database port
	DatabasePort string `env:"DB_PORT" env-default:"5432"`
	// Database user
	DatabaseUserName string `env:"DB_USER_NAME" env-default:""`
	// Database user password
	DatabasePassword string `env:"DB_PASSWORD" env-default:""`
	// Database name
	DatabaseName string `env:"DB_NAME" env-default:"balsam"`
	// Database SSL Mode
	DatabaseSSLMode string `env:"DB_SSL_MODE" env-default:"disable"`
	// Max Open Conns
	DatabaseMaxOpenConns int `env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	// Max Idle Conns
	DatabaseMaxIdleConns int `env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	// Conn Max Lifetime
	DatabaseConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"10s"`
	// Migration Folder Path
	DatabaseMigrationFolderPath string `env:"DB_MIGRATION_FOLDER_PATH" env-default:"db/pg"`
	// Database Migration Version
	DatabaseMigrationVersion uint `env:"DB_MIGRATION_VERSION" env-default:"0"`
	// Database Migration Force
	DatabaseMigrationForce int `env:"DB_MIGRATION_FORCE" env-default:"0"`

	// Lock backend: postgres or redis
	LockBackend string `env:"LOCK_BACKEND" env-default:"postgres"`
	// Redis host
	RedisHost string `env:"REDIS_HOST" env-default:"localhost"`
	// Redis port
	RedisPort int `env:"REDIS_PORT" env-default:"6379"`
	// Redis password
	RedisPassword string `env:"REDIS_PASSWORD" env-default:""`
	// Redis database number
	RedisDB int `env:"REDIS_DB" env-default:"0"`
	// Redis lock key prefix
	RedisLockPrefix string `env:"REDIS_LOCK_PREFIX" env-default:"balsam:lock:"`

	// Kafka brokers (comma-separated). Empty disables event publishing.
	KafkaBrokers string `env:"KAFKA_BROKERS" env-default:""`
	// Kafka topic for job progress and key status events
	KafkaEventsTopic string `env:"KAFKA_EVENTS_TOPIC" env-default:"balsam.events"`

	// Reconciliation settings
	// Lock lease length
	LockTTL time.Duration `env:"LOCK_TTL" env-default:"5m"`
	// Heartbeat interval, zero means a third of LOCK_TTL
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" env-default:"0s"`
	// Records normalized between cancellation checks
	NormalizeChunkSize int `env:"NORMALIZE_CHUNK_SIZE" env-default:"500"`
	// Key buckets joined between cancellation checks
	MatchBucketCheckEvery int `env:"MATCH_BUCKET_CHECK_EVERY" env-default:"256"`
	// Holder identity for locks, defaults to hostname
	HolderID string `env:"HOLDER_ID" env-default:""`
	// CSV delimiter, empty sniffs it from the header
	CSVDelimiter string `env:"CSV_DELIMITER" env-default:""`

	// Scheduler settings
	// Enable/disable the scheduler
	SchedulerEnabled bool `env:"SCHEDULER_ENABLED" env-default:"true"`
	// Scheduler poll interval
	SchedulerPollInterval time.Duration `env:"SCHEDULER_POLL_INTERVAL" env-default:"10s"`
	// Jobs run concurrently by one instance
	SchedulerWorkers int `env:"SCHEDULER_WORKERS" env-default:"4"`
	// Contention retries before a job waits for the next poll
	SchedulerRetryAttempts int `env:"SCHEDULER_RETRY_ATTEMPTS" env-default:"3"`

	// Tracing settings
	// Enable OTLP tracing export (set to true to send traces to collector)
	OTLPEnabled bool `env:"OTLP_ENABLED" env-default:"false"`
	// OTLP collector endpoint
	OTLPEndpoint string `env:"OTLP_ENDPOINT" env-default:"localhost:4317"`
	// OTLP protocol (grpc or http)
	OTLPProtocol string `env:"OTLP_PROTOCOL" env-default:"grpc"`
	// Disable TLS for OTLP (for local development)
	OTLPInsecure bool `env:"OTLP_INSECURE" env-default:"true"`
}

// Load reads an optional .env file, then the environment.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	// a missing .env is normal outside local development
	_ = godotenv.Load(envFiles...)

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to read configuration")
	}
	return &cfg, nil
}

// Usage describes every environment variable.
func Usage() string {
	var cfg Config
	text, err := cleanenv.GetDescription(&cfg, nil)
	if err != nil {
		return err.Error()
	}
	return text
}
