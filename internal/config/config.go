package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port          string
	AllowedOrigin string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	AuthSecret            string
	AccessTokenTTLMinutes int

	LogLevel  string
	LogFormat string

	InvoiceCacheTTL      time.Duration
	InvoiceUpstreamURL   string
	InvoiceUpstreamToken string
	BreakerFailures      int
	BreakerTimeout       time.Duration

	BackendURL               string
	ReferenceCheckDelay      time.Duration
	SearchDelay              time.Duration
	RequestTimeout           time.Duration
	ReferenceCheckFailClosed bool
	PageSize                 int
}

// LoadDotEnv reads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))

	return Config{
		Port:          getEnv("PORT", "8080"),
		AllowedOrigin: getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       redisDB,

		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: getPositiveInt("ACCESS_TOKEN_TTL_MINUTES", 480),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		InvoiceCacheTTL:      getMillis("INVOICE_CACHE_TTL_MS", 60_000),
		InvoiceUpstreamURL:   strings.TrimSpace(os.Getenv("INVOICE_UPSTREAM_URL")),
		InvoiceUpstreamToken: strings.TrimSpace(os.Getenv("INVOICE_UPSTREAM_TOKEN")),
		BreakerFailures:      getPositiveInt("INVOICE_BREAKER_FAILURES", 5),
		BreakerTimeout:       getMillis("INVOICE_BREAKER_TIMEOUT_MS", 30_000),

		BackendURL:               getEnv("BACKEND_URL", "http://127.0.0.1:8080"),
		ReferenceCheckDelay:      getMillis("REFERENCE_CHECK_DELAY_MS", 500),
		SearchDelay:              getMillis("SEARCH_DELAY_MS", 300),
		RequestTimeout:           getMillis("REQUEST_TIMEOUT_MS", 10_000),
		ReferenceCheckFailClosed: getBool("REFERENCE_CHECK_FAIL_CLOSED", false),
		PageSize:                 getPositiveInt("PAGE_SIZE", 20),
	}
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getPositiveInt(key string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil || n < 1 {
		return fallback
	}
	return n
}

func getMillis(key string, fallback int) time.Duration {
	return time.Duration(getPositiveInt(key, fallback)) * time.Millisecond
}

func getBool(key string, fallback bool) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return fallback
	}
	return b
}
