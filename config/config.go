package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// DefaultPath is where Load looks for the optional JSON config file.
var DefaultPath = filepath.Join("config", "config.json")

// Supported EVENT_BUS values.
const (
	EventBusNone  = "none"
	EventBusRedis = "redis"
	EventBusNats  = "nats"
)

// AppConfig holds file and environment driven configuration values.
// Sensitive data has no defaults in code and must come from the file or the environment.
// Values are read from the JSON file first; environment variables override them.
type AppConfig struct {
	AppSection      `json:"app"`
	GinSection      `json:"gin"`
	DatabaseSection `json:"database"`
	RedisSection    `json:"redis"`
	EventsSection   `json:"events"`
	FeedSection     `json:"feed"`
	LogSection      `json:"log"`
	TracingSection  `json:"tracing"`
}

type AppSection struct {
	AppPort            string   `json:"AppPort" env:"APP_PORT" env-default:"8080"`
	JWTSecret          string   `json:"JWTSecret" env:"JWT_SECRET"`
	RateLimitPerMinute int      `json:"RateLimitPerMinute" env:"RATE_LIMIT_PER_MINUTE" env-default:"60"`
	AllowedOrigins     []string `json:"AllowedOrigins" env:"CORS_ALLOWED_ORIGINS" env-default:"*"`
	// InstanceID names this replica on the event bus. Empty means hostname.
	InstanceID string `json:"InstanceID" env:"INSTANCE_ID"`
}

type GinSection struct {
	GinMode string `json:"Mode" env:"GIN_MODE" env-default:"release"`
	GinPath string `json:"LogPath" env:"GIN_PATH" env-default:"logs/go_gin.log"`
}

type DatabaseSection struct {
	// DBDriver is one of mysql, postgres or sqlite.
	DBDriver    string `json:"DBDriver" env:"DB_DRIVER" env-default:"mysql"`
	DatabaseURI string `json:"DatabaseURI" env:"DATABASE_URI"`
	DBHost      string `json:"DBHost" env:"DB_HOST" env-default:"127.0.0.1"`
	DBPort      string `json:"DBPort" env:"DB_PORT"`
	DBUser      string `json:"DBUser" env:"DB_USER" env-default:"root"`
	DBPassword  string `json:"DBPassword" env:"DB_PASSWORD"`
	DBName      string `json:"DBName" env:"DB_NAME" env-default:"socialfeed"`
}

type RedisSection struct {
	RedisHost     string `json:"RedisHost" env:"REDIS_HOST" env-default:"127.0.0.1"`
	RedisPort     int    `json:"RedisPort" env:"REDIS_PORT" env-default:"6379"`
	RedisDB       int    `json:"RedisDB" env:"REDIS_DB"`
	RedisPassword string `json:"RedisPassword" env:"REDIS_PASSWORD"`
}

type EventsSection struct {
	// EventBus is none, redis or nats.
	EventBus string `json:"Bus" env:"EVENT_BUS" env-default:"none"`
	NatsURL  string `json:"NatsURL" env:"NATS_URL" env-default:"nats://127.0.0.1:4222"`
}

type FeedSection struct {
	FeedCacheTTLSec int `json:"CacheTTLSec" env:"FEED_CACHE_TTL_SEC" env-default:"300"`
	MaxPageSize     int `json:"MaxPageSize" env:"FEED_MAX_PAGE_SIZE" env-default:"100"`
}

type LogSection struct {
	LogLevel      string `json:"Level" env:"LOG_LEVEL" env-default:"info"`
	LogPath       string `json:"Path" env:"LOG_PATH"`
	LogMaxSizeMB  int    `json:"MaxSizeMB" env:"LOG_MAX_SIZE_MB" env-default:"100"`
	LogMaxBackups int    `json:"MaxBackups" env:"LOG_MAX_BACKUPS" env-default:"3"`
	LogMaxAgeDays int    `json:"MaxAgeDays" env:"LOG_MAX_AGE_DAYS" env-default:"7"`
	LogCompress   bool   `json:"Compress" env:"LOG_COMPRESS"`
}

type TracingSection struct {
	// OtelEndpoint is the OTLP gRPC collector address. Empty disables export.
	OtelEndpoint string `json:"OtelEndpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	Env          string `json:"Env" env:"APP_ENV" env-default:"production"`
}

// FeedCacheTTL returns the metadata cache TTL.
func (c AppConfig) FeedCacheTTL() time.Duration {
	return time.Duration(c.FeedCacheTTLSec) * time.Second
}

var (
	cfg    AppConfig
	loaded bool
	mu     sync.Mutex
)

// Read loads configuration from path, when the file exists, then from the
// environment.
func Read(path string) (AppConfig, error) {
	var c AppConfig
	var err error
	if _, statErr := os.Stat(path); statErr == nil {
		err = cleanenv.ReadConfig(path, &c)
	} else {
		err = cleanenv.ReadEnv(&c)
	}
	if err != nil {
		return c, fmt.Errorf("read config: %w", err)
	}
	normalize(&c)
	if err := validate(c); err != nil {
		return c, err
	}
	return c, nil
}

// Load loads the application configuration. It should be called once during boot.
func Load() AppConfig {
	mu.Lock()
	defer mu.Unlock()
	if loaded {
		return cfg
	}
	c, err := Read(DefaultPath)
	if err != nil {
		log.Fatal(err)
	}
	cfg = c
	loaded = true
	return cfg
}

// Get returns the cached configuration, loading it if necessary.
func Get() AppConfig {
	mu.Lock()
	done := loaded
	c := cfg
	mu.Unlock()
	if !done {
		return Load()
	}
	return c
}

// Set replaces the cached configuration. Tests use it to avoid touching the environment.
func Set(c AppConfig) {
	mu.Lock()
	cfg = c
	loaded = true
	mu.Unlock()
}

func normalize(c *AppConfig) {
	c.DBDriver = strings.ToLower(strings.TrimSpace(c.DBDriver))
	c.EventBus = strings.ToLower(strings.TrimSpace(c.EventBus))
	if c.DBPort == "" {
		switch c.DBDriver {
		case "postgres":
			c.DBPort = "5432"
		default:
			c.DBPort = "3306"
		}
	}
	origins := c.AllowedOrigins[:0]
	for _, o := range c.AllowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	c.AllowedOrigins = origins
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"*"}
	}
	if c.InstanceID == "" {
		c.InstanceID, _ = os.Hostname()
	}
}

func validate(c AppConfig) error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET must be set in config file or environment")
	}
	switch c.DBDriver {
	case "mysql", "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	switch c.EventBus {
	case EventBusNone, EventBusRedis, EventBusNats:
	default:
		return fmt.Errorf("unsupported EVENT_BUS %q", c.EventBus)
	}
	if c.FeedCacheTTLSec <= 0 {
		return fmt.Errorf("FEED_CACHE_TTL_SEC must be positive, got %d", c.FeedCacheTTLSec)
	}
	return nil
}
