package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type WatchEntry struct {
	OrderID string `yaml:"order_id"`
	Kind    string `yaml:"kind"`
}

type Config struct {
	Env    string `yaml:"env"`
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
	DB struct {
		// Empty DSN disables the trade journal; the desk runs without it.
		DSN string `yaml:"dsn"`
	} `yaml:"db"`
	Backend struct {
		BaseURL        string   `yaml:"base_url"`
		PushEndpoints  []string `yaml:"push_endpoints"`
		TimeoutSeconds int      `yaml:"timeout_seconds"`
	} `yaml:"backend"`
	Auth struct {
		// The long-lived refresh token stays in the environment, never in the
		// yaml file.
		RefreshToken string `yaml:"-"`
	} `yaml:"auth"`
	Identity struct {
		TTLSeconds int `yaml:"ttl_seconds"`
	} `yaml:"identity"`
	Sync struct {
		PollIntervalSeconds    int `yaml:"poll_interval_seconds"`
		PollMaxIntervalSeconds int `yaml:"poll_max_interval_seconds"`
		PushRetrySeconds       int `yaml:"push_retry_seconds"`
		PushFailoverThreshold  int `yaml:"push_failover_threshold"`
	} `yaml:"sync"`
	Orders struct {
		WindowSeconds int          `yaml:"window_seconds"`
		Watch         []WatchEntry `yaml:"watch"`
	} `yaml:"orders"`
}

func Load(path string) (*Config, error) {
	_ = godotenv.Load()

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

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	if cfg.Server.Addr == "" {
		return nil, errors.New("server.addr is required")
	}
	if cfg.Backend.BaseURL == "" {
		return nil, errors.New("backend.base_url is required")
	}
	for _, w := range cfg.Orders.Watch {
		if w.OrderID == "" || (w.Kind != "deposit" && w.Kind != "withdraw") {
			return nil, errors.New("orders.watch entries need order_id and kind deposit|withdraw")
		}
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Env == "" {
		cfg.Env = "local"
	}
	if cfg.Backend.TimeoutSeconds <= 0 {
		cfg.Backend.TimeoutSeconds = 10
	}
	if cfg.Identity.TTLSeconds <= 0 {
		cfg.Identity.TTLSeconds = 300
	}
	if cfg.Sync.PollIntervalSeconds <= 0 {
		cfg.Sync.PollIntervalSeconds = 10
	}
	if cfg.Sync.PollMaxIntervalSeconds <= 0 {
		cfg.Sync.PollMaxIntervalSeconds = 120
	}
	if cfg.Sync.PushRetrySeconds <= 0 {
		cfg.Sync.PushRetrySeconds = 3
	}
	if cfg.Sync.PushFailoverThreshold <= 0 {
		cfg.Sync.PushFailoverThreshold = 3
	}
	if cfg.Orders.WindowSeconds <= 0 {
		cfg.Orders.WindowSeconds = 900
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.Env = v
	}
	if v := os.Getenv("SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.DB.DSN = v
	}
	if v := os.Getenv("BACKEND_BASE_URL"); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v := os.Getenv("PUSH_ENDPOINTS"); v != "" {
		cfg.Backend.PushEndpoints = splitCommaList(v)
	}
	if v := os.Getenv("BACKEND_TIMEOUT_SECONDS"); v != "" {
		cfg.Backend.TimeoutSeconds = atoiOr(cfg.Backend.TimeoutSeconds, v)
	}
	if v := os.Getenv("REFRESH_TOKEN"); v != "" {
		cfg.Auth.RefreshToken = v
	}
	if v := os.Getenv("IDENTITY_TTL_SECONDS"); v != "" {
		cfg.Identity.TTLSeconds = atoiOr(cfg.Identity.TTLSeconds, v)
	}
	if v := os.Getenv("POLL_INTERVAL_SECONDS"); v != "" {
		cfg.Sync.PollIntervalSeconds = atoiOr(cfg.Sync.PollIntervalSeconds, v)
	}
	if v := os.Getenv("POLL_MAX_INTERVAL_SECONDS"); v != "" {
		cfg.Sync.PollMaxIntervalSeconds = atoiOr(cfg.Sync.PollMaxIntervalSeconds, v)
	}
	if v := os.Getenv("PUSH_RETRY_SECONDS"); v != "" {
		cfg.Sync.PushRetrySeconds = atoiOr(cfg.Sync.PushRetrySeconds, v)
	}
	if v := os.Getenv("PUSH_FAILOVER_THRESHOLD"); v != "" {
		cfg.Sync.PushFailoverThreshold = atoiOr(cfg.Sync.PushFailoverThreshold, v)
	}
	if v := os.Getenv("ORDER_WINDOW_SECONDS"); v != "" {
		cfg.Orders.WindowSeconds = atoiOr(cfg.Orders.WindowSeconds, v)
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
