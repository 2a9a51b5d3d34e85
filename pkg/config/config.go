package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"CrashPilot/internal/domain/models"
	"CrashPilot/pkg/util"
)

// Source is one monitored game page, reached through its automation agent.
type Source struct {
	ID       string `yaml:"id"`
	ProbeURL string `yaml:"probe_url"`
}

type Config struct {
	Environment string `yaml:"environment"`
	Log         struct {
		Level      string `yaml:"level"`
		Format     string `yaml:"format"`
		Output     string `yaml:"output"`
		TimeFormat string `yaml:"time_format"`
	} `yaml:"log"`
	Server struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`
	Detector struct {
		PollInterval      time.Duration `yaml:"poll_interval"`
		PollTimeout       time.Duration `yaml:"poll_timeout"`
		DedupCooldown     time.Duration `yaml:"dedup_cooldown"`
		TransitionGrace   time.Duration `yaml:"transition_grace"`
		MinHiddenInterval time.Duration `yaml:"min_hidden_interval"`
		MaxHiddenInterval time.Duration `yaml:"max_hidden_interval"`
		ReloadBackoff     time.Duration `yaml:"reload_backoff"`
		HistorySize       int           `yaml:"history_size"`
	} `yaml:"detector"`
	Analyzer struct {
		LowThreshold float64 `yaml:"low_threshold"`
		ModerateAt   int     `yaml:"moderate_at"`
		StrongAt     int     `yaml:"strong_at"`
		Window       int     `yaml:"window"`
	} `yaml:"analyzer"`
	Sources       []Source           `yaml:"sources"`
	Bots          []models.BotConfig `yaml:"bots"`
	// BotsAutostart starts the configured bots once their sources run.
	BotsAutostart bool               `yaml:"bots_autostart"`
	Persistence   struct {
		// Backend is clickhouse, postgres or none.
		Backend string `yaml:"backend"`
		// RoundsVia is direct or kafka.
		RoundsVia    string        `yaml:"rounds_via"`
		BatchSize    int           `yaml:"batch_size"`
		BatchTimeout time.Duration `yaml:"batch_timeout"`
		BetQueue     struct {
			Enabled    bool          `yaml:"enabled"`
			Name       string        `yaml:"name"`
			MaxRetries int           `yaml:"max_retries"`
			Workers    int           `yaml:"workers"`
			RetryDelay time.Duration `yaml:"retry_delay"`
		} `yaml:"bet_queue"`
	} `yaml:"persistence"`
	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers"`
		Topic        string   `yaml:"topic"`
		RequiredAcks int      `yaml:"required_acks"`
		Compression  string   `yaml:"compression"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			Linger       time.Duration `yaml:"linger"`
			BatchBytes   int           `yaml:"batch_bytes"`
			BatchSize    int           `yaml:"batch_size"`
			WriteTimeout time.Duration `yaml:"write_timeout"`
			ReadTimeout  time.Duration `yaml:"read_timeout"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id"`
			Workers    int           `yaml:"workers"`
			BufferSize int           `yaml:"buffer_size"`
			RetryMax   int           `yaml:"retry_max"`
			BackoffMin time.Duration `yaml:"backoff_min"`
			BackoffMax time.Duration `yaml:"backoff_max"`
			DLQTopic   string        `yaml:"dlq_topic"`
			MinBytes   int           `yaml:"min_bytes"`
			MaxBytes   int           `yaml:"max_bytes"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port"`
		Database         string        `yaml:"database"`
		User             string        `yaml:"user"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout"`
		ReadTimeout      time.Duration `yaml:"read_timeout"`
		WriteTimeout     time.Duration `yaml:"write_timeout"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time"`
	} `yaml:"clickhouse"`
	Postgres struct {
		DSN             string        `yaml:"dsn"`
		MaxOpenConns    int           `yaml:"max_open_conns"`
		MaxIdleConns    int           `yaml:"max_idle_conns"`
		ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	} `yaml:"postgres"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Cache struct {
		Enabled  bool          `yaml:"enabled"`
		TTL      time.Duration `yaml:"ttl"`
		MaxItems int           `yaml:"max_items"`
	} `yaml:"cache"`
	Prediction struct {
		// Mode is redis, http or off.
		Mode       string        `yaml:"mode"`
		Channel    string        `yaml:"channel"`
		ServiceURL string        `yaml:"service_url"`
		Timeout    time.Duration `yaml:"timeout"`
		MaxAge     time.Duration `yaml:"max_age"`
	} `yaml:"prediction"`
	Executor struct {
		AgentURL string        `yaml:"agent_url"`
		Timeout  time.Duration `yaml:"timeout"`
	} `yaml:"executor"`
	RateLimit struct {
		Enabled bool    `yaml:"enabled"`
		Rate    float64 `yaml:"rate"`
		Burst   int     `yaml:"burst"`
	} `yaml:"ratelimit"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes, defaults and validates a YAML document.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	c.applyDefaults()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	c.applyEnv(os.Getenv)
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("CRASHPILOT_ENV"); v != "" {
		c.Environment = v
	}
	if v := getenv("SERVER_PORT"); v != "" {
		c.Server.Port = util.Clamp(util.ParseIntDefault(v, c.Server.Port), 1, 65535)
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := getenv("KAFKA_TOPIC"); v != "" {
		c.Kafka.Topic = v
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := getenv("POSTGRES_DSN"); v != "" {
		c.Postgres.DSN = v
	}
	if v := getenv("ML_SERVICE_URL"); v != "" {
		c.Prediction.ServiceURL = v
	}
	if v := getenv("EXECUTOR_AGENT_URL"); v != "" {
		c.Executor.AgentURL = v
	}
	// PROBE_URLS is a comma separated list of id=url pairs.
	if v := getenv("PROBE_URLS"); v != "" {
		var sources []Source
		for _, pair := range strings.Split(v, ",") {
			id, url, ok := strings.Cut(strings.TrimSpace(pair), "=")
			if ok && id != "" && url != "" {
				sources = append(sources, Source{ID: id, ProbeURL: url})
			}
		}
		if len(sources) > 0 {
			c.Sources = sources
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Persistence.Backend == "" {
		c.Persistence.Backend = "none"
	}
	if c.Persistence.RoundsVia == "" {
		c.Persistence.RoundsVia = "direct"
	}
	if c.Persistence.BetQueue.Name == "" {
		c.Persistence.BetQueue.Name = "bot_bets"
	}
	if c.Persistence.BatchSize <= 0 {
		c.Persistence.BatchSize = 100
	}
	if c.Persistence.BatchTimeout == 0 {
		c.Persistence.BatchTimeout = time.Second
	}
	if c.Persistence.BetQueue.Workers <= 0 {
		c.Persistence.BetQueue.Workers = 2
	}
	if c.Persistence.BetQueue.MaxRetries == 0 {
		c.Persistence.BetQueue.MaxRetries = 3
	}
	if c.Persistence.BetQueue.RetryDelay == 0 {
		c.Persistence.BetQueue.RetryDelay = 5 * time.Second
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = 2 * time.Second
	}
	if c.Cache.MaxItems <= 0 {
		c.Cache.MaxItems = 1000
	}
	if c.RateLimit.Rate <= 0 {
		c.RateLimit.Rate = 2
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = 10
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "crash.events"
	}
	if c.Prediction.Mode == "" {
		c.Prediction.Mode = "off"
	}
	if c.Prediction.Channel == "" {
		c.Prediction.Channel = "ml_predictions"
	}
	if c.Prediction.MaxAge == 0 {
		c.Prediction.MaxAge = 30 * time.Second
	}
	if c.Executor.Timeout == 0 {
		c.Executor.Timeout = 5 * time.Second
	}
	for i := range c.Bots {
		if c.Bots[i].SourceID == "" && len(c.Sources) == 1 {
			c.Bots[i].SourceID = c.Sources[0].ID
		}
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	switch c.Persistence.Backend {
	case "clickhouse", "postgres", "none":
	default:
		return fmt.Errorf("persistence.backend must be 'clickhouse', 'postgres' or 'none', got '%s'", c.Persistence.Backend)
	}
	switch c.Persistence.RoundsVia {
	case "direct":
	case "kafka":
		if !c.Kafka.Enabled {
			return fmt.Errorf("persistence.rounds_via=kafka requires kafka.enabled")
		}
	default:
		return fmt.Errorf("persistence.rounds_via must be 'direct' or 'kafka', got '%s'", c.Persistence.RoundsVia)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty")
	}
	if c.Persistence.Backend == "postgres" && c.Postgres.DSN == "" {
		return fmt.Errorf("postgres.dsn is required")
	}
	switch c.Prediction.Mode {
	case "off":
	case "redis":
		if !c.Redis.Enabled {
			return fmt.Errorf("prediction.mode=redis requires redis.enabled")
		}
	case "http":
		if c.Prediction.ServiceURL == "" {
			return fmt.Errorf("prediction.service_url is required")
		}
	default:
		return fmt.Errorf("prediction.mode must be 'redis', 'http' or 'off', got '%s'", c.Prediction.Mode)
	}
	if c.Persistence.BetQueue.Enabled && !c.Redis.Enabled {
		return fmt.Errorf("persistence.bet_queue requires redis.enabled")
	}

	seen := make(map[string]bool, len(c.Sources))
	for _, s := range c.Sources {
		if s.ID == "" || s.ProbeURL == "" {
			return fmt.Errorf("sources: id and probe_url are required")
		}
		if seen[s.ID] {
			return fmt.Errorf("sources: duplicate id %q", s.ID)
		}
		seen[s.ID] = true
	}
	for _, b := range c.Bots {
		if b.ID == "" {
			return fmt.Errorf("bots: id is required")
		}
		if !seen[b.SourceID] {
			return fmt.Errorf("bot %s: unknown source %q", b.ID, b.SourceID)
		}
		if b.Live && c.Executor.AgentURL == "" {
			return fmt.Errorf("bot %s: live bots require executor.agent_url", b.ID)
		}
	}
	return nil
}
