package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "arbiter.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// The YAML file is optional; a missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "ARBITER_PORT")
	setString(&cfg.Server.CORSOrigin, "ARBITER_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "ARBITER_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "ARBITER_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "ARBITER_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "ARBITER_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "ARBITER_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.OpenRouter.BaseURL, "OPENROUTER_BASE_URL")
	setString(&cfg.OpenRouter.APIKey, "OPENROUTER_API_KEY")
	setString(&cfg.Logging.Level, "ARBITER_LOG_LEVEL")
	setString(&cfg.Logging.Service, "ARBITER_LOG_SERVICE")
	setInt(&cfg.Breaker.MaxFailures, "ARBITER_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "ARBITER_BREAKER_TIMEOUT")

	setFloat64(&cfg.Thresholds.AutoApproveUSD, "ARBITER_AUTO_APPROVE_USD")
	setFloat64(&cfg.Thresholds.HumanRequiredUSD, "ARBITER_HUMAN_REQUIRED_USD")

	setFloat64(&cfg.Council.ConsensusThreshold, "ARBITER_CONSENSUS_THRESHOLD")
	setInt(&cfg.Council.MinQuorum, "ARBITER_COUNCIL_MIN_QUORUM")
	setString(&cfg.Council.ChairmanID, "ARBITER_COUNCIL_CHAIRMAN")
	setDuration(&cfg.Council.SourceTimeout, "ARBITER_COUNCIL_SOURCE_TIMEOUT")
	setDuration(&cfg.Council.DeliberationTimeout, "ARBITER_COUNCIL_TIMEOUT")
	setBool(&cfg.Council.EscalateNoConsensus, "ARBITER_COUNCIL_ESCALATE")

	setDuration(&cfg.Approval.Timeout, "ARBITER_APPROVAL_TIMEOUT")
	setDuration(&cfg.Approval.ReminderAfter, "ARBITER_APPROVAL_REMINDER_AFTER")

	setFloat64(&cfg.Spending.PerTxUSD, "ARBITER_SPEND_PER_TX_USD")
	setFloat64(&cfg.Spending.DailyUSD, "ARBITER_SPEND_DAILY_USD")
	setFloat64(&cfg.Spending.WeeklyUSD, "ARBITER_SPEND_WEEKLY_USD")
	setFloat64(&cfg.Spending.MultiSigThresholdUSD, "ARBITER_SPEND_MULTISIG_USD")
	setStrings(&cfg.Spending.Whitelist, "ARBITER_SPEND_WHITELIST")

	setString(&cfg.Notifications.Telegram.BotToken, "TELEGRAM_BOT_TOKEN")
	setString(&cfg.Notifications.Telegram.ChatID, "TELEGRAM_CHAT_ID")
	setString(&cfg.Notifications.Discord.WebhookURL, "DISCORD_WEBHOOK_URL")
	setString(&cfg.Notifications.Slack.WebhookURL, "SLACK_WEBHOOK_URL")
	setString(&cfg.Notifications.Email.Host, "ARBITER_SMTP_HOST")
	setInt(&cfg.Notifications.Email.Port, "ARBITER_SMTP_PORT")
	setString(&cfg.Notifications.Email.From, "ARBITER_SMTP_FROM")
	setString(&cfg.Notifications.Email.Password, "ARBITER_SMTP_PASSWORD")
	setStrings(&cfg.Notifications.Email.To, "ARBITER_SMTP_TO")

	setInt64(&cfg.Cache.AuditMaxSizeMB, "ARBITER_CACHE_AUDIT_SIZE_MB")
	setDuration(&cfg.Cache.AuditTTL, "ARBITER_CACHE_AUDIT_TTL")

	setString(&cfg.Telemetry.OTLPEndpoint, "ARBITER_OTLP_ENDPOINT")
}

// validate checks that required fields are set and consistent.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Thresholds.AutoApproveUSD < 0 || cfg.Thresholds.HumanRequiredUSD < cfg.Thresholds.AutoApproveUSD {
		return errors.New("thresholds must satisfy 0 <= auto_approve_usd <= human_required_usd")
	}
	if cfg.Council.ConsensusThreshold <= 0 || cfg.Council.ConsensusThreshold > 1 {
		return errors.New("council.consensus_threshold must be in (0, 1]")
	}
	if len(cfg.Council.Members) == 0 {
		return errors.New("council.members must not be empty")
	}
	if cfg.Council.MinQuorum > len(cfg.Council.Members) {
		return errors.New("council.min_quorum exceeds member count")
	}
	seen := make(map[string]bool, len(cfg.Council.Members))
	for _, m := range cfg.Council.Members {
		if m.ID == "" || m.Model == "" {
			return errors.New("council members require id and model")
		}
		if seen[m.ID] {
			return fmt.Errorf("duplicate council member id %q", m.ID)
		}
		seen[m.ID] = true
	}
	if cfg.Approval.Timeout <= 0 {
		return errors.New("approval.timeout must be positive")
	}
	for action, tier := range cfg.Thresholds.DefaultTiers {
		switch tier {
		case "autonomous", "council", "human":
		default:
			return fmt.Errorf("default tier for %q must be autonomous, council, or human", action)
		}
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setStrings(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		*dst = out
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
