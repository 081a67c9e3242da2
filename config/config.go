package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so config files can use strings like "24h"
type Duration time.Duration

// Duration returns the wrapped time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Seconds returns the duration in whole seconds
func (d Duration) Seconds() int64 {
	return int64(time.Duration(d).Seconds())
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %v", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %v", s, err)
	}
	*d = Duration(parsed)
	return nil
}

type Config struct {
	// Node configuration
	NodeID   string `json:"node_id" yaml:"node_id"`
	DataDir  string `json:"data_dir" yaml:"data_dir"`
	LogLevel string `json:"log_level" yaml:"log_level"`

	// Reward configuration
	Rewards RewardConfig `json:"rewards" yaml:"rewards"`

	// Slashing configuration
	Slashing SlashingConfig `json:"slashing" yaml:"slashing"`

	// Guard configuration (rate limits, timelock, anomaly detection)
	Guard GuardConfig `json:"guard" yaml:"guard"`
}

type RewardConfig struct {
	// Score weights, must sum to 100
	UptimeWeight      int64 `json:"uptime_weight" yaml:"uptime_weight"`
	PerformanceWeight int64 `json:"performance_weight" yaml:"performance_weight"`
	QualityWeight     int64 `json:"quality_weight" yaml:"quality_weight"`

	// Amount bounds in base token units
	MinRewardAmount int64 `json:"min_reward_amount" yaml:"min_reward_amount"`
	MaxRewardAmount int64 `json:"max_reward_amount" yaml:"max_reward_amount"`

	// Per-operator period caps
	MaxDailyRewards   int64 `json:"max_daily_rewards" yaml:"max_daily_rewards"`
	MaxMonthlyRewards int64 `json:"max_monthly_rewards" yaml:"max_monthly_rewards"`

	// Minimum spacing between reward calculations per operator
	MinRewardInterval Duration `json:"min_reward_interval" yaml:"min_reward_interval"`

	// Maximum items per batch call
	MaxBatchSize int `json:"max_batch_size" yaml:"max_batch_size"`
}

type SlashingConfig struct {
	// Operators scoring at or above this are not slashable
	Threshold int64 `json:"threshold" yaml:"threshold"`

	// Maximum slash as a percentage of lifetime distributed rewards
	MaxPercentage int64 `json:"max_percentage" yaml:"max_percentage"`

	// Reward eligibility cooldown after a slash
	Cooldown Duration `json:"cooldown" yaml:"cooldown"`
}

type GuardConfig struct {
	// Sliding-window call budgets per (caller, operation)
	CalculationRateLimit  int64    `json:"calculation_rate_limit" yaml:"calculation_rate_limit"`
	DistributionRateLimit int64    `json:"distribution_rate_limit" yaml:"distribution_rate_limit"`
	RateLimitWindow       Duration `json:"rate_limit_window" yaml:"rate_limit_window"`

	// Timelock delay bounds for privileged admin commands
	MinTimelockDelay Duration `json:"min_timelock_delay" yaml:"min_timelock_delay"`
	MaxTimelockDelay Duration `json:"max_timelock_delay" yaml:"max_timelock_delay"`

	// Percentage increase over baseline that counts as anomalous
	AnomalyThreshold int64 `json:"anomaly_threshold" yaml:"anomaly_threshold"`
}

// Load returns the default configuration
func Load() (*Config, error) {
	return &Config{
		NodeID:   "quikdb-nodes",
		DataDir:  "./data",
		LogLevel: "info",
		Rewards: RewardConfig{
			UptimeWeight:      40,
			PerformanceWeight: 35,
			QualityWeight:     25,
			MinRewardAmount:   1_000_000,         // 0.001 QDB
			MaxRewardAmount:   1_000_000_000_000, // 1000 QDB
			MaxDailyRewards:   10_000_000_000,    // 10 QDB per operator per day
			MaxMonthlyRewards: 100_000_000_000,   // 100 QDB per operator per month
			MinRewardInterval: Duration(time.Hour),
			MaxBatchSize:      100,
		},
		Slashing: SlashingConfig{
			Threshold:     70,
			MaxPercentage: 50,
			Cooldown:      Duration(24 * time.Hour),
		},
		Guard: GuardConfig{
			CalculationRateLimit:  100,
			DistributionRateLimit: 200,
			RateLimitWindow:       Duration(time.Hour),
			MinTimelockDelay:      Duration(time.Hour),
			MaxTimelockDelay:      Duration(30 * 24 * time.Hour),
			AnomalyThreshold:      50,
		},
	}, nil
}

// LoadFile loads defaults and overlays values from a YAML file
func LoadFile(path string) (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %v", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks internal consistency of the configuration
func (c *Config) Validate() error {
	r := c.Rewards
	if r.UptimeWeight+r.PerformanceWeight+r.QualityWeight != 100 {
		return fmt.Errorf("score weights must sum to 100, got %d",
			r.UptimeWeight+r.PerformanceWeight+r.QualityWeight)
	}
	if r.MinRewardAmount <= 0 || r.MaxRewardAmount <= r.MinRewardAmount {
		return fmt.Errorf("invalid reward amount bounds [%d, %d]", r.MinRewardAmount, r.MaxRewardAmount)
	}
	if r.MaxDailyRewards <= 0 || r.MaxMonthlyRewards < r.MaxDailyRewards {
		return fmt.Errorf("invalid period caps: daily %d, monthly %d", r.MaxDailyRewards, r.MaxMonthlyRewards)
	}
	if r.MaxBatchSize <= 0 {
		return fmt.Errorf("max batch size must be positive, got %d", r.MaxBatchSize)
	}
	if c.Slashing.Threshold < 0 || c.Slashing.Threshold > 100 {
		return fmt.Errorf("slashing threshold must be in [0, 100], got %d", c.Slashing.Threshold)
	}
	if c.Slashing.MaxPercentage <= 0 || c.Slashing.MaxPercentage > 100 {
		return fmt.Errorf("max slashing percentage must be in (0, 100], got %d", c.Slashing.MaxPercentage)
	}
	if c.Guard.MinTimelockDelay <= 0 || c.Guard.MaxTimelockDelay <= c.Guard.MinTimelockDelay {
		return fmt.Errorf("invalid timelock delay bounds [%s, %s]",
			c.Guard.MinTimelockDelay, c.Guard.MaxTimelockDelay)
	}
	return nil
}
