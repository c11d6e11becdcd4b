package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	HTTPAddr  string
	JWTSecret string

	// upstream generative-BI backend
	BackendURL   string
	BackendWSURL string
	// static upstream token for processes without an interactive user
	BackendAccessToken string

	// identity sent with every query
	UserID      string
	Username    string
	ProfileName string

	// local session cache
	DBDriver string
	DBDSN    string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// rabbitMQ (feedback queue)
	RabbitURL         string
	RabbitQueue       string
	WorkerConcurrency int

	// upstream socket
	WSMaxRetries     int
	WSInitialBackoff time.Duration
	WSMaxBackoff     time.Duration
	WSHeartbeat      time.Duration
	QueryTimeout     time.Duration

	LogLevel string
	LogDev   bool
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("JWT_SECRET", "")

	v.SetDefault("BACKEND_URL", "http://127.0.0.1:8000/")
	v.SetDefault("BACKEND_WS_URL", "ws://127.0.0.1:8000/qa/ws")
	v.SetDefault("BACKEND_ACCESS_TOKEN", "")

	v.SetDefault("USER_ID", "admin")
	v.SetDefault("USERNAME", "admin")
	v.SetDefault("PROFILE_NAME", "")

	v.SetDefault("DB_DRIVER", "sqlite")
	v.SetDefault("DB_DSN", "genbi.db")

	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("RABBIT_URL", "")
	v.SetDefault("RABBIT_QUEUE", "genbi_feedback")
	v.SetDefault("WORKER_CONCURRENCY", 2)

	v.SetDefault("WS_MAX_RETRIES", 8)
	v.SetDefault("WS_INITIAL_BACKOFF", 500*time.Millisecond)
	v.SetDefault("WS_MAX_BACKOFF", 30*time.Second)
	v.SetDefault("WS_HEARTBEAT", 0)
	v.SetDefault("QUERY_TIMEOUT", 0)

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_DEV", false)
}

// Load reads configuration from defaults, an optional config file named by
// GENBI_CONFIG, a .env file and the process environment (highest priority).
func Load() Config {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if path := v.GetString("GENBI_CONFIG"); path != "" {
		v.SetConfigFile(path)
		// a missing or broken file falls back to env + defaults
		_ = v.ReadInConfig()
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) Config {
	concurrency := v.GetInt("WORKER_CONCURRENCY")
	if concurrency <= 0 {
		concurrency = 2
	}
	if concurrency > 50 {
		concurrency = 50
	}

	retries := v.GetInt("WS_MAX_RETRIES")
	if retries < 0 {
		retries = 0
	}

	return Config{
		HTTPAddr:  v.GetString("HTTP_ADDR"),
		JWTSecret: v.GetString("JWT_SECRET"),

		BackendURL:   v.GetString("BACKEND_URL"),
		BackendWSURL: v.GetString("BACKEND_WS_URL"),

		BackendAccessToken: v.GetString("BACKEND_ACCESS_TOKEN"),

		UserID:      v.GetString("USER_ID"),
		Username:    v.GetString("USERNAME"),
		ProfileName: v.GetString("PROFILE_NAME"),

		DBDriver: strings.ToLower(strings.TrimSpace(v.GetString("DB_DRIVER"))),
		DBDSN:    v.GetString("DB_DSN"),

		RedisAddr:     v.GetString("REDIS_ADDR"),
		RedisPassword: v.GetString("REDIS_PASSWORD"),
		RedisDB:       v.GetInt("REDIS_DB"),

		RabbitURL:         v.GetString("RABBIT_URL"),
		RabbitQueue:       v.GetString("RABBIT_QUEUE"),
		WorkerConcurrency: concurrency,

		WSMaxRetries:     retries,
		WSInitialBackoff: v.GetDuration("WS_INITIAL_BACKOFF"),
		WSMaxBackoff:     v.GetDuration("WS_MAX_BACKOFF"),
		WSHeartbeat:      v.GetDuration("WS_HEARTBEAT"),
		QueryTimeout:     v.GetDuration("QUERY_TIMEOUT"),

		LogLevel: v.GetString("LOG_LEVEL"),
		LogDev:   v.GetBool("LOG_DEV"),
	}
}
