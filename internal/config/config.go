package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// TierConfig selects the provider endpoint and model for one classifier tier.
type TierConfig struct {
	Model   string `yaml:"model"`
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"` // empty = provider default
}

// ModelPrice is the per-1K-token price of a model in cost units.
type ModelPrice struct {
	InputPer1K  float64 `yaml:"input_per_1k"`
	OutputPer1K float64 `yaml:"output_per_1k"`
}

// LLMConfig configures the classifier providers for all tiers.
type LLMConfig struct {
	RequestTimeoutSeconds int                   `yaml:"request_timeout_seconds"`
	RequestsPerMinute     int                   `yaml:"requests_per_minute"`
	Small                 TierConfig            `yaml:"small"`
	Smart                 TierConfig            `yaml:"smart"`
	Fallback              TierConfig            `yaml:"fallback"`
	Prices                map[string]ModelPrice `yaml:"prices"`
}

// BudgetConfig holds the per-subject monthly spend policy.
type BudgetConfig struct {
	SoftLimit        float64 `yaml:"soft_limit"`
	HardLimit        float64 `yaml:"hard_limit"`
	MaxFallbackCalls int     `yaml:"max_fallback_calls"`
}

// SchedulerConfig holds the adaptive scan cadence policy.
type SchedulerConfig struct {
	TickMinutes               int    `yaml:"tick_minutes"`
	TightIntervalMinutes      int    `yaml:"tight_interval_minutes"`
	NormalIntervalMinutes     int    `yaml:"normal_interval_minutes"`
	WideIntervalMinutes       int    `yaml:"wide_interval_minutes"`
	InactivityMinutes         int    `yaml:"inactivity_minutes"`
	HeartbeatIntervalMinutes  int    `yaml:"heartbeat_interval_minutes"`
	HeartbeatLookbackMinutes  int    `yaml:"heartbeat_lookback_minutes"`
	ActiveHoursStart          string `yaml:"active_hours_start"` // "07:00"
	ActiveHoursEnd            string `yaml:"active_hours_end"`   // "22:00"
	MaxParallelConversations  int    `yaml:"max_parallel_conversations"`
}

// APIClient is a pre-shared credential for a service calling this API.
type APIClient struct {
	Name       string `yaml:"name"`
	Role       string `yaml:"role"` // "ingest" or "guardian"
	SecretHash string `yaml:"secret_hash"`
}

// Config holds the application's configuration.
type Config struct {
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Auth struct {
		JWTSecret string      `yaml:"jwt_secret"`
		Clients   []APIClient `yaml:"clients"`
	} `yaml:"auth"`
	Encryption struct {
		KeyBase64 string `yaml:"key_base64"` // 32-byte AES key, base64
	} `yaml:"encryption"`
	MediaService struct {
		URL            string `yaml:"url"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"media_service"`
	Notifier struct {
		URL string `yaml:"url"`
	} `yaml:"notifier"`
	LLM       LLMConfig       `yaml:"llm"`
	Budget    BudgetConfig    `yaml:"budget"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

var envRef = regexp.MustCompile(`\$\{(\w+)\}`)

// LoadConfig reads configuration from the specified YAML file. ${VAR}
// references in the file are expanded from the environment so secrets stay
// out of the checked-in config.
func LoadConfig(configPath string) (*Config, error) {
	config := &Config{}

	raw, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Only the ${VAR} form is expanded; bare $ stays literal so values like
	// argon2 hashes survive.
	expanded := envRef.ReplaceAllStringFunc(string(raw), func(m string) string {
		return os.Getenv(m[2 : len(m)-1])
	})
	if err := yaml.Unmarshal([]byte(expanded), config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	config.applyDefaults()
	return config, nil
}

func (c *Config) applyDefaults() {
	if c.LLM.RequestTimeoutSeconds == 0 {
		c.LLM.RequestTimeoutSeconds = 45
	}
	if c.LLM.RequestsPerMinute == 0 {
		c.LLM.RequestsPerMinute = 60
	}
	if c.Budget.SoftLimit == 0 {
		c.Budget.SoftLimit = 4.50
	}
	if c.Budget.HardLimit == 0 {
		c.Budget.HardLimit = 5.00
	}
	if c.Budget.MaxFallbackCalls == 0 {
		c.Budget.MaxFallbackCalls = 30
	}
	s := &c.Scheduler
	if s.TickMinutes == 0 {
		s.TickMinutes = 3
	}
	if s.TightIntervalMinutes == 0 {
		s.TightIntervalMinutes = 5
	}
	if s.NormalIntervalMinutes == 0 {
		s.NormalIntervalMinutes = 15
	}
	if s.WideIntervalMinutes == 0 {
		s.WideIntervalMinutes = 60
	}
	if s.InactivityMinutes == 0 {
		s.InactivityMinutes = 30
	}
	if s.HeartbeatIntervalMinutes == 0 {
		s.HeartbeatIntervalMinutes = 60
	}
	if s.HeartbeatLookbackMinutes == 0 {
		s.HeartbeatLookbackMinutes = 120
	}
	if s.ActiveHoursStart == "" {
		s.ActiveHoursStart = "07:00"
	}
	if s.ActiveHoursEnd == "" {
		s.ActiveHoursEnd = "22:00"
	}
	if s.MaxParallelConversations == 0 {
		s.MaxParallelConversations = 8
	}
	if c.MediaService.TimeoutSeconds == 0 {
		c.MediaService.TimeoutSeconds = 20
	}
}
