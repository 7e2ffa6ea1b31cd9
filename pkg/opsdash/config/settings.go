package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. OPSDASH_HTTP_LISTEN.
const EnvPrefix = "OPSDASH"

// Settings is the process configuration. Every field has a default in
// DefaultSettings.
type Settings struct {
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`

	HTTP struct {
		Listen          string        `mapstructure:"listen"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	} `mapstructure:"http"`

	Catalog struct {
		// Dir holds catalog YAML files. Empty means the embedded catalog.
		Dir string `mapstructure:"dir"`
	} `mapstructure:"catalog"`

	// Dashboards restricts the served dashboards. Empty means all.
	Dashboards []string `mapstructure:"dashboards"`

	Runner struct {
		Timeout time.Duration `mapstructure:"timeout"`
		Strict  bool          `mapstructure:"strict"`
		Shell   string        `mapstructure:"shell"`
	} `mapstructure:"runner"`

	Collect struct {
		IntervalScale float64       `mapstructure:"interval_scale"`
		MinInterval   time.Duration `mapstructure:"min_interval"`
	} `mapstructure:"collect"`

	Stream struct {
		Poll      time.Duration `mapstructure:"poll"`
		Heartbeat time.Duration `mapstructure:"heartbeat"`
	} `mapstructure:"stream"`

	LogCapacity int `mapstructure:"log_capacity"`

	Insight struct {
		Provider string        `mapstructure:"provider"`
		Timeout  time.Duration `mapstructure:"timeout"`
		Ollama   struct {
			BaseURL string `mapstructure:"base_url"`
			Model   string `mapstructure:"model"`
		} `mapstructure:"ollama"`
		OpenAI struct {
			BaseURL string `mapstructure:"base_url"`
			Model   string `mapstructure:"model"`
			APIKey  string `mapstructure:"api_key"`
		} `mapstructure:"openai"`
	} `mapstructure:"insight"`

	Journal struct {
		Enabled    bool   `mapstructure:"enabled"`
		Dir        string `mapstructure:"dir"`
		MaxBytes   int64  `mapstructure:"max_bytes"`
		MaxBackups int    `mapstructure:"max_backups"`
	} `mapstructure:"journal"`

	Trigger struct {
		// Rate is accepted trigger requests per second. Zero disables the
		// limit.
		Rate  float64 `mapstructure:"rate"`
		Burst int     `mapstructure:"burst"`
	} `mapstructure:"trigger"`

	SNMP struct {
		TrapListen string `mapstructure:"trap_listen"`
		Community  string `mapstructure:"community"`
	} `mapstructure:"snmp"`

	// Preflight probes docker and kubectl once at start.
	Preflight bool `mapstructure:"preflight"`
}

// defaults lists every key with its default value.
var defaults = map[string]any{
	"log.level":               "info",
	"log.format":              "json",
	"http.listen":             ":5001",
	"http.shutdown_timeout":   10 * time.Second,
	"catalog.dir":             "",
	"dashboards":              []string{},
	"runner.timeout":          10 * time.Second,
	"runner.strict":           false,
	"runner.shell":            "",
	"collect.interval_scale":  1.0,
	"collect.min_interval":    time.Second,
	"stream.poll":             time.Second,
	"stream.heartbeat":        15 * time.Second,
	"log_capacity":            1000,
	"insight.provider":        "random",
	"insight.timeout":         30 * time.Second,
	"insight.ollama.base_url": "http://localhost:11434",
	"insight.ollama.model":    "deepseek-r1:1.5b",
	"insight.openai.base_url": "",
	"insight.openai.model":    "gpt-4o-mini",
	"insight.openai.api_key":  "",
	"journal.enabled":         true,
	"journal.dir":             ".",
	"journal.max_bytes":       int64(10 << 20),
	"journal.max_backups":     3,
	"trigger.rate":            0.0,
	"trigger.burst":           10,
	"snmp.trap_listen":        "",
	"snmp.community":          "",
	"preflight":               true,
}

// legacyEnv maps well-known variables of the model backends onto settings.
var legacyEnv = map[string]string{
	"insight.ollama.base_url": "OLLAMA_BASE_URL",
	"insight.ollama.model":    "OLLAMA_MODEL",
	"insight.openai.api_key":  "OPENAI_API_KEY",
	"insight.openai.base_url": "OPENAI_BASE_URL",
}

// NewViper returns a viper instance with defaults and environment overrides
// registered. Flags are bound by the caller.
func NewViper() *viper.Viper {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		// BindEnv only fails without a key.
		_ = v.BindEnv(key, EnvPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env)
	}
	return v
}

// LoadSettings reads the optional config file and decodes v into Settings.
func LoadSettings(v *viper.Viper, file string) (*Settings, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("config: file %s not found", file)
			}
			return nil, fmt.Errorf("config: read %s: %w", file, err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("config: decode settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// DefaultSettings returns the settings with nothing overridden.
func DefaultSettings() *Settings {
	s, err := LoadSettings(NewViper(), "")
	if err != nil {
		panic(err)
	}
	return s
}

// Validate reports every invalid value together.
func (s *Settings) Validate() error {
	var errs []string
	switch s.Insight.Provider {
	case "random", "ollama", "openai":
	default:
		errs = append(errs, fmt.Sprintf("insight.provider: unknown provider %q", s.Insight.Provider))
	}
	switch s.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Sprintf("log.format: must be json or text, got %q", s.Log.Format))
	}
	if s.Collect.IntervalScale <= 0 {
		errs = append(errs, "collect.interval_scale: must be positive")
	}
	if s.Stream.Poll <= 0 {
		errs = append(errs, "stream.poll: must be positive")
	}
	if s.Trigger.Rate < 0 {
		errs = append(errs, "trigger.rate: must not be negative")
	}
	if s.LogCapacity <= 0 {
		errs = append(errs, "log_capacity: must be positive")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %d error(s):\n  %s", len(errs), strings.Join(errs, "\n  "))
	}
	return nil
}
