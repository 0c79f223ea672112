package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/clinic-booking/internal/scheduling"
)

const (
	LockBackendRedis = "redis"
	LockBackendLocal = "local"
)

// MinBookingLookback must cover the legacy appointment length and the
// longest catalog appointment type (45 minutes).
const MinBookingLookback = time.Hour

type Config struct {
	Env             string        // dev, prod
	HTTPPort        string        // default 8080
	PostgresDSN     string        // required
	RedisAddr       string        // host:port
	RedisUsername   string        // redis username
	RedisPassword   string        // redis password
	RedisDB         int           // logical database from REDIS_URL
	RedisTLS        bool          // rediss:// scheme
	LockBackend     string        // redis or local
	LockTTL         time.Duration // how long a Redis doctor lock lives
	LockWait        time.Duration // how long a booking waits for the doctor lock
	JWTSecret       string        // HS256 secret for the auth cookie
	SlotGranularity time.Duration // grid used when listing slots
	BookingLookback time.Duration // lower bound of the booking conflict query
	TimezoneName    string        // wall-clock location for working hours
	Location        *time.Location
	DefaultDayStart string // used when a doctor has no working hours stored
	DefaultDayEnd   string
	CORSOrigins     []string
	RateLimitRPS    float64
	RateLimitBurst  int
	ShutdownTimeout time.Duration // graceful shutdown timeout
	SweepInterval   time.Duration // how often the sweeper runs
}

func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Env:             getEnv("APP_ENV", "dev"),
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		PostgresDSN:     os.Getenv("POSTGRES_DSN"),
		LockBackend:     getEnv("LOCK_BACKEND", LockBackendRedis),
		LockTTL:         getDuration("LOCK_TTL", 5*time.Second),
		LockWait:        getDuration("LOCK_WAIT", 3*time.Second),
		JWTSecret:       os.Getenv("JWT_SECRET"),
		SlotGranularity: getDuration("SLOT_GRANULARITY", scheduling.DefaultGranularity),
		BookingLookback: getDuration("BOOKING_LOOKBACK", 24*time.Hour),
		TimezoneName:    getEnv("CLINIC_TIMEZONE", "Local"),
		DefaultDayStart: getEnv("DEFAULT_WORKDAY_START", "09:00"),
		DefaultDayEnd:   getEnv("DEFAULT_WORKDAY_END", "17:00"),
		CORSOrigins:     getList("CORS_ORIGINS", []string{"http://localhost:3000"}),
		RateLimitRPS:    getFloat("RATE_LIMIT_RPS", 2),
		RateLimitBurst:  getInt("RATE_LIMIT_BURST", 5),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		SweepInterval:   getDuration("SWEEP_INTERVAL", time.Minute),
	}

	if cfg.PostgresDSN == "" {
		return Config{}, errors.New("POSTGRES_DSN is required")
	}

	redisURL := os.Getenv("REDIS_URL")
	if redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			return Config{}, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		cfg.RedisAddr = opts.Addr
		cfg.RedisUsername = opts.Username
		cfg.RedisPassword = opts.Password
		cfg.RedisDB = opts.DB
		cfg.RedisTLS = opts.TLSConfig != nil
	} else {
		cfg.RedisAddr = getEnv("REDIS_ADDR", "127.0.0.1:6379")
		cfg.RedisUsername = getEnv("REDIS_USERNAME", "")
		cfg.RedisPassword = getEnv("REDIS_PASSWORD", "")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks values that would otherwise fail deep inside a request.
// It also resolves Location from TimezoneName.
func (c *Config) Validate() error {
	if c.LockBackend != LockBackendRedis && c.LockBackend != LockBackendLocal {
		return fmt.Errorf("LOCK_BACKEND must be %q or %q, got %q", LockBackendRedis, LockBackendLocal, c.LockBackend)
	}
	if c.SlotGranularity <= 0 {
		return errors.New("SLOT_GRANULARITY must be > 0")
	}
	if c.BookingLookback < MinBookingLookback {
		return fmt.Errorf("BOOKING_LOOKBACK must be at least %s, got %s", MinBookingLookback, c.BookingLookback)
	}
	if c.LockWait <= 0 || c.LockTTL <= 0 {
		return errors.New("LOCK_WAIT and LOCK_TTL must be > 0")
	}
	if _, err := scheduling.ParseWorkingHours(c.DefaultDayStart, c.DefaultDayEnd); err != nil {
		return fmt.Errorf("invalid default working hours: %w", err)
	}

	loc, err := time.LoadLocation(c.TimezoneName)
	if err != nil {
		return fmt.Errorf("invalid CLINIC_TIMEZONE %q: %w", c.TimezoneName, err)
	}
	c.Location = loc

	return nil
}

// RequireJWTSecret is called by binaries that verify or mint tokens.
func (c Config) RequireJWTSecret() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	return nil
}

func (c Config) IsProduction() bool {
	return c.Env == "prod"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		fmt.Fprintf(os.Stderr, "invalid duration for %s=%q, using default %s\n", key, v, def)
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		fmt.Fprintf(os.Stderr, "invalid integer for %s=%q, using default %d\n", key, v, def)
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		fmt.Fprintf(os.Stderr, "invalid number for %s=%q, using default %g\n", key, v, def)
	}
	return def
}

func getList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
