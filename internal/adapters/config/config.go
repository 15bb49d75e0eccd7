package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config represents application configuration
type Config struct {
	AccountID string `envconfig:"ACCOUNT_ID" default:"primary"`

	Estimator  EstimatorConfig  `envconfig:"ESTIMATOR"`
	Exit       ExitConfig       `envconfig:"EXIT"`
	Risk       RiskConfig       `envconfig:"RISK"`
	Sizing     SizingConfig     `envconfig:"SIZING"`
	Training   TrainingConfig   `envconfig:"TRAINING"`
	Database   DatabaseConfig   `envconfig:"DATABASE"`
	ClickHouse ClickHouseConfig `envconfig:"CLICKHOUSE"`
	Telegram   TelegramConfig   `envconfig:"TELEGRAM"`
	Redis      RedisConfig      `envconfig:"REDIS"`
	Logging    LoggingConfig    `envconfig:"LOGGING"`
}

// EstimatorConfig selects and tunes the value estimator backend
type EstimatorConfig struct {
	Backend      string  `envconfig:"ESTIMATOR_BACKEND" default:"tabular"` // tabular or linear
	StateDim     int     `envconfig:"ESTIMATOR_STATE_DIM" default:"16"`
	Gamma        float64 `envconfig:"ESTIMATOR_GAMMA" default:"0.95"`
	LearningRate float64 `envconfig:"ESTIMATOR_LEARNING_RATE" default:"0.05"`
	EpsilonStart float64 `envconfig:"ESTIMATOR_EPSILON_START" default:"1.0"`
	EpsilonDecay float64 `envconfig:"ESTIMATOR_EPSILON_DECAY" default:"0.995"`
	EpsilonFloor float64 `envconfig:"ESTIMATOR_EPSILON_FLOOR" default:"0.05"`
	BufferSize   int     `envconfig:"ESTIMATOR_BUFFER_SIZE" default:"10000"`
	BatchSize    int     `envconfig:"ESTIMATOR_BATCH_SIZE" default:"64"`
}

// ExitConfig tunes the exit decision combiner. Every blend weight and
// override threshold is configurable so they can be backtested instead of
// living as inline literals.
type ExitConfig struct {
	// Override 1: profit protection
	PeakMinPoints       float64 `envconfig:"EXIT_PEAK_MIN_POINTS" default:"20.0"`
	MaxAdverseExcursion float64 `envconfig:"EXIT_MAX_ADVERSE_EXCURSION" default:"0.30"`
	// Override 2: time-decay agreement
	TimeDecayBars        int     `envconfig:"EXIT_TIME_DECAY_BARS" default:"12"`
	TimeDecayProfitFloor float64 `envconfig:"EXIT_TIME_DECAY_PROFIT_FLOOR" default:"5.0"`
	AgreementBonus       float64 `envconfig:"EXIT_AGREEMENT_BONUS" default:"0.15"`
	// Adaptive blend
	BaseBlendWeight float64 `envconfig:"EXIT_BASE_BLEND_WEIGHT" default:"0.35"`
	ConfidenceFloor float64 `envconfig:"EXIT_CONFIDENCE_FLOOR" default:"0.30"`
	SpreadScale     float64 `envconfig:"EXIT_SPREAD_SCALE" default:"2.0"`
}

// RiskConfig represents circuit breaker parameters
type RiskConfig struct {
	MaxDailyLossPercent  float64 `envconfig:"RISK_MAX_DAILY_LOSS_PERCENT" default:"5.0"`
	MaxConsecutiveLosses int     `envconfig:"RISK_MAX_CONSECUTIVE_LOSSES" default:"5"`
	MaxDrawdownPercent   float64 `envconfig:"RISK_MAX_DRAWDOWN_PERCENT" default:"15.0"`
}

// SizingConfig represents position sizing parameters
type SizingConfig struct {
	BaseRiskPercent     float64 `envconfig:"SIZING_BASE_RISK_PERCENT" default:"0.25"`
	MaxRiskPercent      float64 `envconfig:"SIZING_MAX_RISK_PERCENT" default:"0.75"`
	RewardRiskBonusCap  float64 `envconfig:"SIZING_REWARD_RISK_BONUS_CAP" default:"1.5"`
	VolatilityThreshold float64 `envconfig:"SIZING_VOLATILITY_THRESHOLD" default:"0.70"`
	VolatilityDampener  float64 `envconfig:"SIZING_VOLATILITY_DAMPENER" default:"0.70"`
	BaseRewardRisk      float64 `envconfig:"SIZING_BASE_REWARD_RISK" default:"2.0"`
	MaxRewardRisk       float64 `envconfig:"SIZING_MAX_REWARD_RISK" default:"2.5"`

	ScaleInMinProfitPoints float64 `envconfig:"SIZING_SCALE_IN_MIN_PROFIT_POINTS" default:"10.0"`
	ScaleInMinMomentum     float64 `envconfig:"SIZING_SCALE_IN_MIN_MOMENTUM" default:"0.60"`
	RecoveryMinLossPoints  float64 `envconfig:"SIZING_RECOVERY_MIN_LOSS_POINTS" default:"15.0"`
	RecoveryMinProbability float64 `envconfig:"SIZING_RECOVERY_MIN_PROBABILITY" default:"0.60"`
}

// TrainingConfig controls the offline training worker
type TrainingConfig struct {
	Enabled  bool          `envconfig:"TRAINING_ENABLED" default:"true"`
	Interval time.Duration `envconfig:"TRAINING_INTERVAL" default:"1h"`
	Batches  int           `envconfig:"TRAINING_BATCHES" default:"50"`
}

// DatabaseConfig represents postgres connection parameters
type DatabaseConfig struct {
	Host     string `envconfig:"DB_HOST" default:"localhost"`
	Port     int    `envconfig:"DB_PORT" default:"5432"`
	Name     string `envconfig:"DB_NAME" default:"exitengine"`
	User     string `envconfig:"DB_USER" required:"true"`
	Password string `envconfig:"DB_PASSWORD" required:"true"`
	SSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
}

// ClickHouseConfig represents the decision-audit sink
type ClickHouseConfig struct {
	Enabled       bool          `envconfig:"CLICKHOUSE_ENABLED" default:"false"`
	Addr          string        `envconfig:"CLICKHOUSE_ADDR" default:"localhost:9000"`
	Database      string        `envconfig:"CLICKHOUSE_DATABASE" default:"exitengine"`
	User          string        `envconfig:"CLICKHOUSE_USER" default:"default"`
	Password      string        `envconfig:"CLICKHOUSE_PASSWORD" required:"false"`
	BatchSize     int           `envconfig:"CLICKHOUSE_BATCH_SIZE" default:"100"`
	FlushInterval time.Duration `envconfig:"CLICKHOUSE_FLUSH_INTERVAL" default:"10s"`
}

// TelegramConfig represents halt/resume alerting
type TelegramConfig struct {
	BotToken     string `envconfig:"TELEGRAM_BOT_TOKEN" required:"false"`
	ChatID       int64  `envconfig:"TELEGRAM_CHAT_ID" required:"false"`
	AlertOnHalts bool   `envconfig:"TELEGRAM_ALERT_ON_HALTS" default:"true"`
}

// RedisConfig represents the optional distributed account lock
type RedisConfig struct {
	LockEnabled bool     `envconfig:"REDIS_LOCK_ENABLED" default:"false"`
	Addrs       []string `envconfig:"REDIS_ADDRS" default:"localhost:6379"`
	LockTTL     int      `envconfig:"REDIS_LOCK_TTL_MS" default:"30000"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level string `envconfig:"LOG_LEVEL" default:"info"`
	File  string `envconfig:"LOG_FILE" required:"false"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Estimator.Backend != "tabular" && c.Estimator.Backend != "linear" {
		return fmt.Errorf("unknown estimator backend: %s", c.Estimator.Backend)
	}
	if c.Estimator.StateDim < 6 {
		return fmt.Errorf("state_dim must be at least 6 (5 position features + 1)")
	}
	if c.Estimator.Gamma <= 0 || c.Estimator.Gamma > 1 {
		return fmt.Errorf("gamma must be in (0, 1]")
	}
	if c.Estimator.EpsilonFloor < 0 || c.Estimator.EpsilonFloor > c.Estimator.EpsilonStart {
		return fmt.Errorf("epsilon floor must be in [0, epsilon_start]")
	}
	if c.Estimator.BufferSize < 1 || c.Estimator.BatchSize < 1 {
		return fmt.Errorf("buffer_size and batch_size must be positive")
	}

	if c.Exit.MaxAdverseExcursion <= 0 || c.Exit.MaxAdverseExcursion >= 1 {
		return fmt.Errorf("max_adverse_excursion must be in (0, 1)")
	}
	if c.Exit.BaseBlendWeight < 0 || c.Exit.BaseBlendWeight > 1 {
		return fmt.Errorf("base_blend_weight must be in [0, 1]")
	}
	if c.Exit.ConfidenceFloor <= 0 || c.Exit.ConfidenceFloor >= 1 {
		return fmt.Errorf("confidence_floor must be in (0, 1)")
	}
	if c.Exit.SpreadScale <= 0 {
		return fmt.Errorf("spread_scale must be positive")
	}

	if c.Risk.MaxDailyLossPercent <= 0 {
		return fmt.Errorf("max_daily_loss_percent must be positive")
	}
	if c.Risk.MaxConsecutiveLosses < 1 {
		return fmt.Errorf("max_consecutive_losses must be at least 1")
	}
	if c.Risk.MaxDrawdownPercent <= 0 {
		return fmt.Errorf("max_drawdown_percent must be positive")
	}

	if c.Sizing.BaseRiskPercent <= 0 || c.Sizing.MaxRiskPercent < c.Sizing.BaseRiskPercent {
		return fmt.Errorf("risk percent range invalid: base=%.3f max=%.3f",
			c.Sizing.BaseRiskPercent, c.Sizing.MaxRiskPercent)
	}
	if c.Sizing.RewardRiskBonusCap < 1.0 {
		return fmt.Errorf("reward_risk_bonus_cap must be at least 1.0")
	}
	if c.Sizing.VolatilityDampener <= 0 || c.Sizing.VolatilityDampener > 1 {
		return fmt.Errorf("volatility_dampener must be in (0, 1]")
	}
	if c.Sizing.MaxRewardRisk < c.Sizing.BaseRewardRisk {
		return fmt.Errorf("max_reward_risk must be >= base_reward_risk")
	}

	return nil
}

// GetDSN returns PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// GetDSN returns ClickHouse connection string
func (c *ClickHouseConfig) GetDSN() string {
	return fmt.Sprintf(
		"clickhouse://%s:%s@%s/%s",
		c.User, c.Password, c.Addr, c.Database,
	)
}
