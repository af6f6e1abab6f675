package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrMissingCredentials is returned by Validate when a portal login is not
// configured.
var ErrMissingCredentials = errors.New("missing credentials")

type Config struct {
	Env string `mapstructure:"ENV"`

	RevUsername       string `mapstructure:"REV_USERNAME"`
	RevPassword       string `mapstructure:"REV_PASSWORD"`
	VSPUsername       string `mapstructure:"VSP_USERNAME"`
	VSPBorgerUsername string `mapstructure:"VSP_BORGER_USERNAME"`
	VSPPassword       string `mapstructure:"VSP_PASSWORD"`
	VSPLocation       string `mapstructure:"VSP_LOCATION"`

	OpenAIAPIKey  string `mapstructure:"OPENAI_API_KEY"`
	TelegramToken string `mapstructure:"TELEGRAM_TOKEN"`
	ChatID        string `mapstructure:"CHAT_ID"`
	TelegramURL   string `mapstructure:"TELEGRAM_URL"`

	DataDir       string `mapstructure:"DATA_DIR"`
	ArtifactDir   string `mapstructure:"ARTIFACT_DIR"`
	SelectorsFile string `mapstructure:"SELECTORS_FILE"`
	RevURL        string `mapstructure:"REV_URL"`
	VSPURL        string `mapstructure:"VSP_URL"`

	Headless       bool          `mapstructure:"HEADLESS"`
	ChromeDataDir  string        `mapstructure:"CHROME_DATA_DIR"`
	DriverTimeout  time.Duration `mapstructure:"DRIVER_TIMEOUT"`
	ProbeTimeout   time.Duration `mapstructure:"PROBE_TIMEOUT"`
	InvoiceTimeout time.Duration `mapstructure:"INVOICE_TIMEOUT"`

	LLMURL              string `mapstructure:"LLM_URL"`
	LLMModel            string `mapstructure:"LLM_MODEL"`
	LLMInstructionsFile string `mapstructure:"LLM_INSTRUCTIONS_FILE"`

	ArtifactBucket string `mapstructure:"ARTIFACT_BUCKET"`
	ArtifactPrefix string `mapstructure:"ARTIFACT_PREFIX"`
	AWSRegion      string `mapstructure:"AWS_REGION"`
	AWSEndpoint    string `mapstructure:"AWS_ENDPOINT_URL"`

	MetricsAddr string `mapstructure:"METRICS_ADDR"`
}

// keys lists every setting. Each is bound to its upper-case environment
// variable and to the lower-case spelling the practice's .env files use.
var keys = []string{
	"ENV",
	"REV_USERNAME", "REV_PASSWORD",
	"VSP_USERNAME", "VSP_BORGER_USERNAME", "VSP_PASSWORD", "VSP_LOCATION",
	"OPENAI_API_KEY", "TELEGRAM_TOKEN", "CHAT_ID", "TELEGRAM_URL",
	"DATA_DIR", "ARTIFACT_DIR", "SELECTORS_FILE", "REV_URL", "VSP_URL",
	"HEADLESS", "CHROME_DATA_DIR", "DRIVER_TIMEOUT", "PROBE_TIMEOUT", "INVOICE_TIMEOUT",
	"LLM_URL", "LLM_MODEL", "LLM_INSTRUCTIONS_FILE",
	"ARTIFACT_BUCKET", "ARTIFACT_PREFIX", "AWS_REGION", "AWS_ENDPOINT_URL",
	"METRICS_ADDR",
}

// Load reads .env from the working directory, if any, and the environment.
func Load() (*Config, error) {
	return LoadFile(".env")
}

// LoadFile is Load with an explicit dotenv path.
func LoadFile(envFile string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(envFile)
	v.SetConfigType("env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("ENV", "production")
	v.SetDefault("VSP_LOCATION", "primary")
	v.SetDefault("DATA_DIR", "./data")
	v.SetDefault("ARTIFACT_DIR", "./artifacts")
	v.SetDefault("SELECTORS_FILE", "./selectors.yaml")
	v.SetDefault("HEADLESS", true)
	v.SetDefault("DRIVER_TIMEOUT", "10s")
	v.SetDefault("PROBE_TIMEOUT", "4s")
	v.SetDefault("INVOICE_TIMEOUT", "10m")
	v.SetDefault("LLM_MODEL", "llama3.1")
	v.SetDefault("TELEGRAM_URL", "https://api.telegram.org")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k, k, strings.ToLower(k))
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// LLMEnabled reports whether the candidate filter is configured.
func (c *Config) LLMEnabled() bool {
	return c.LLMURL != "" && c.LLMInstructionsFile != ""
}

// TelegramEnabled reports whether run summaries can be sent.
func (c *Config) TelegramEnabled() bool {
	return c.TelegramToken != "" && c.ChatID != ""
}

// Validate checks that both portals can be logged into and the runtime
// settings are usable.
func (c *Config) Validate() error {
	var missing []string
	if c.RevUsername == "" {
		missing = append(missing, "rev_username")
	}
	if c.RevPassword == "" {
		missing = append(missing, "rev_password")
	}
	switch strings.ToLower(c.VSPLocation) {
	case "primary", "":
		if c.VSPUsername == "" {
			missing = append(missing, "vsp_username")
		}
	case "borger":
		if c.VSPBorgerUsername == "" {
			missing = append(missing, "vsp_borger_username")
		}
	default:
		return fmt.Errorf("VSP_LOCATION must be \"primary\" or \"borger\", got %q", c.VSPLocation)
	}
	if c.VSPPassword == "" {
		missing = append(missing, "vsp_password")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingCredentials, strings.Join(missing, ", "))
	}

	if c.DataDir == "" {
		return fmt.Errorf("DATA_DIR is required")
	}
	if c.SelectorsFile == "" {
		return fmt.Errorf("SELECTORS_FILE is required")
	}
	if c.DriverTimeout <= 0 {
		return fmt.Errorf("DRIVER_TIMEOUT must be positive, got %s", c.DriverTimeout)
	}
	if c.ArtifactBucket != "" && c.AWSRegion == "" {
		return fmt.Errorf("AWS_REGION is required when ARTIFACT_BUCKET is set")
	}
	return nil
}
