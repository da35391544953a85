package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type Config struct {
	ServerHost string
	ServerPort string

	// Origins allowed for CORS and websocket upgrades. "*" allows any.
	AllowedOrigins []string

	LogLevel  string
	LogFormat string

	// Room lifecycle
	RoomGracePeriod time.Duration

	// Sandboxed execution
	ExecutionTimeout     time.Duration
	ExecutionMemoryMB    int
	ExecutionMaxOutputKB int
	ExecutionWorkers     int
	ExecutionQueueSize   int
	ExecutionBroadcast   bool

	// Persistence
	DBDriver   string
	DBDSN      string
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	SnapshotInterval time.Duration
	SnapshotKeep     int

	// Observability
	JaegerEndpoint string
}

func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		ServerHost: getEnv("SERVER_HOST", "0.0.0.0"),
		ServerPort: getEnv("SERVER_PORT", "8000"),

		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:3456")),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		RoomGracePeriod: getEnvDuration("ROOM_GRACE_PERIOD", 30*time.Second),

		ExecutionTimeout:     getEnvDuration("EXECUTION_TIMEOUT", 5*time.Second),
		ExecutionMemoryMB:    getEnvInt("EXECUTION_MEMORY_MB", 128),
		ExecutionMaxOutputKB: getEnvInt("EXECUTION_MAX_OUTPUT_KB", 256),
		ExecutionWorkers:     getEnvInt("EXECUTION_WORKERS", defaultWorkers()),
		ExecutionQueueSize:   getEnvInt("EXECUTION_QUEUE_SIZE", 64),
		ExecutionBroadcast:   getEnvBool("EXECUTION_BROADCAST", true),

		DBDriver:   strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
		DBDSN:      getEnv("DB_DSN", ""),
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "collabcode"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		SnapshotInterval: getEnvDuration("SNAPSHOT_INTERVAL", 30*time.Second),
		SnapshotKeep:     getEnvInt("SNAPSHOT_KEEP", 20),

		JaegerEndpoint: getEnv("JAEGER_ENDPOINT", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects limits that would disable the guarantees the server relies on.
func (c *Config) Validate() error {
	if c.RoomGracePeriod <= 0 {
		return fmt.Errorf("ROOM_GRACE_PERIOD must be positive")
	}
	if c.ExecutionTimeout <= 0 {
		return fmt.Errorf("EXECUTION_TIMEOUT must be positive")
	}
	if c.ExecutionMemoryMB <= 0 {
		return fmt.Errorf("EXECUTION_MEMORY_MB must be positive")
	}
	if c.ExecutionMaxOutputKB <= 0 {
		return fmt.Errorf("EXECUTION_MAX_OUTPUT_KB must be positive")
	}
	if c.ExecutionWorkers <= 0 || c.ExecutionQueueSize <= 0 {
		return fmt.Errorf("EXECUTION_WORKERS and EXECUTION_QUEUE_SIZE must be positive")
	}
	switch c.DBDriver {
	case "sqlite", "postgres", "none":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q (want sqlite, postgres or none)", c.DBDriver)
	}
	if c.DBDriver != "none" && (c.SnapshotInterval <= 0 || c.SnapshotKeep <= 0) {
		return fmt.Errorf("SNAPSHOT_INTERVAL and SNAPSHOT_KEEP must be positive")
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%s", c.ServerHost, c.ServerPort)
}

// DatabaseURL returns the DSN for the configured driver.
func (c *Config) DatabaseURL() string {
	if c.DBDSN != "" {
		return c.DBDSN
	}
	if c.DBDriver == "sqlite" {
		return "./data/collabcode.db"
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

// PersistenceEnabled reports whether snapshots are written anywhere.
func (c *Config) PersistenceEnabled() bool {
	return c.DBDriver != "none"
}

// OriginAllowed reports whether a browser origin may connect.
func (c *Config) OriginAllowed(origin string) bool {
	if origin == "" {
		return true
	}
	for _, allowed := range c.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

func defaultWorkers() int {
	n := 2 * runtime.NumCPU()
	if n < 4 {
		n = 4
	}
	return n
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		logrus.WithField("key", key).Warnf("invalid integer %q, using default %d", value, defaultValue)
		return defaultValue
	}
	return n
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		logrus.WithField("key", key).Warnf("invalid boolean %q, using default %t", value, defaultValue)
		return defaultValue
	}
	return b
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		logrus.WithField("key", key).Warnf("invalid duration %q, using default %s", value, defaultValue)
		return defaultValue
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
