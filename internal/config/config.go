package config

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Addr string `yaml:"addr"`
		// TrustProxy honours X-Forwarded-For and X-Real-IP. Enable only
		// behind a proxy that overwrites them.
		TrustProxy bool `yaml:"trust_proxy"`
	} `yaml:"server"`
	DB struct {
		DSN string `yaml:"dsn"`
	} `yaml:"db"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Payments struct {
		BaseURL        string `yaml:"base_url"`
		APIKey         string `yaml:"api_key"`
		WebhookURL     string `yaml:"webhook_url"`
		RedirectURL    string `yaml:"redirect_url"`
		Currency       string `yaml:"currency"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"payments"`
	Mail struct {
		BaseURL        string `yaml:"base_url"`
		APIKey         string `yaml:"api_key"`
		From           string `yaml:"from"`
		ShopName       string `yaml:"shop_name"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"mail"`
	Kafka struct {
		Brokers []string `yaml:"brokers"`
		Topic   string   `yaml:"topic"`
	} `yaml:"kafka"`
	RateLimit struct {
		Backend       string `yaml:"backend"`
		RedisAddr     string `yaml:"redis_addr"`
		Requests      int    `yaml:"requests"`
		WindowSeconds int    `yaml:"window_seconds"`
	} `yaml:"ratelimit"`
	Worker struct {
		IntervalSeconds int `yaml:"interval_seconds"`
		MinAgeSeconds   int `yaml:"min_age_seconds"`
		BatchSize       int `yaml:"batch_size"`
	} `yaml:"worker"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes raw YAML, applies env overrides and defaults, and validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if cfg.Server.Addr == "" {
		return nil, errors.New("server.addr is required")
	}
	if cfg.DB.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	if cfg.Payments.BaseURL == "" || cfg.Payments.APIKey == "" {
		return nil, errors.New("payments config is incomplete")
	}
	switch cfg.RateLimit.Backend {
	case "memory":
	case "redis":
		if cfg.RateLimit.RedisAddr == "" {
			return nil, errors.New("ratelimit.redis_addr is required for redis backend")
		}
	default:
		return nil, errors.New("ratelimit.backend must be memory or redis")
	}
	return &cfg, nil
}

func (c *Config) PaymentTimeout() time.Duration {
	return time.Duration(c.Payments.TimeoutSeconds) * time.Second
}

func (c *Config) MailTimeout() time.Duration {
	return time.Duration(c.Mail.TimeoutSeconds) * time.Second
}

func (c *Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimit.WindowSeconds) * time.Second
}

func (c *Config) WorkerInterval() time.Duration {
	return time.Duration(c.Worker.IntervalSeconds) * time.Second
}

func (c *Config) WorkerMinAge() time.Duration {
	return time.Duration(c.Worker.MinAgeSeconds) * time.Second
}

// LogLevel maps log.level onto slog; unknown values fall back to info.
func (c *Config) LogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Payments.Currency == "" {
		cfg.Payments.Currency = "EUR"
	}
	if cfg.Payments.TimeoutSeconds <= 0 {
		cfg.Payments.TimeoutSeconds = 10
	}
	if cfg.Mail.TimeoutSeconds <= 0 {
		cfg.Mail.TimeoutSeconds = 10
	}
	if cfg.Mail.ShopName == "" {
		cfg.Mail.ShopName = "Boba Bar"
	}
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "orders"
	}
	if cfg.RateLimit.Backend == "" {
		cfg.RateLimit.Backend = "memory"
	}
	if cfg.RateLimit.Requests <= 0 {
		cfg.RateLimit.Requests = 60
	}
	if cfg.RateLimit.WindowSeconds <= 0 {
		cfg.RateLimit.WindowSeconds = 60
	}
	if cfg.Worker.IntervalSeconds <= 0 {
		cfg.Worker.IntervalSeconds = 60
	}
	if cfg.Worker.MinAgeSeconds <= 0 {
		cfg.Worker.MinAgeSeconds = 300
	}
	if cfg.Worker.BatchSize <= 0 {
		cfg.Worker.BatchSize = 50
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("SERVER_TRUST_PROXY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Server.TrustProxy = b
		}
	}
	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.DB.DSN = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("PAYMENT_BASE_URL"); v != "" {
		cfg.Payments.BaseURL = v
	}
	if v := os.Getenv("PAYMENT_API_KEY"); v != "" {
		cfg.Payments.APIKey = v
	}
	if v := os.Getenv("PAYMENT_WEBHOOK_URL"); v != "" {
		cfg.Payments.WebhookURL = v
	}
	if v := os.Getenv("PAYMENT_REDIRECT_URL"); v != "" {
		cfg.Payments.RedirectURL = v
	}
	if v := os.Getenv("PAYMENT_TIMEOUT_SECONDS"); v != "" {
		cfg.Payments.TimeoutSeconds = atoiOr(cfg.Payments.TimeoutSeconds, v)
	}
	if v := os.Getenv("MAIL_BASE_URL"); v != "" {
		cfg.Mail.BaseURL = v
	}
	if v := os.Getenv("MAIL_API_KEY"); v != "" {
		cfg.Mail.APIKey = v
	}
	if v := os.Getenv("MAIL_FROM"); v != "" {
		cfg.Mail.From = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = splitCommaList(v)
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		cfg.Kafka.Topic = v
	}
	if v := os.Getenv("RATELIMIT_BACKEND"); v != "" {
		cfg.RateLimit.Backend = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RateLimit.RedisAddr = v
	}
	if v := os.Getenv("RATELIMIT_REQUESTS"); v != "" {
		cfg.RateLimit.Requests = atoiOr(cfg.RateLimit.Requests, v)
	}
	if v := os.Getenv("RATELIMIT_WINDOW_SECONDS"); v != "" {
		cfg.RateLimit.WindowSeconds = atoiOr(cfg.RateLimit.WindowSeconds, v)
	}
	if v := os.Getenv("WORKER_INTERVAL_SECONDS"); v != "" {
		cfg.Worker.IntervalSeconds = atoiOr(cfg.Worker.IntervalSeconds, v)
	}
	if v := os.Getenv("WORKER_MIN_AGE_SECONDS"); v != "" {
		cfg.Worker.MinAgeSeconds = atoiOr(cfg.Worker.MinAgeSeconds, v)
	}
	if v := os.Getenv("WORKER_BATCH_SIZE"); v != "" {
		cfg.Worker.BatchSize = atoiOr(cfg.Worker.BatchSize, v)
	}
}

func splitCommaList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func atoiOr(fallback int, v string) int {
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

// NewLogger builds the process logger: JSON unless log.format is "text".
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel()}
	if strings.EqualFold(c.Log.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
