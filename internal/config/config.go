// Package config loads the proxy's configuration per spec.md §6, using
// viper to merge defaults, an optional YAML file, and K2PROXY_-prefixed
// environment variables, the way the reference gateway's conf package
// layers its own configuration sources.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/openrelay/k2think-proxy/internal/apperr"
)

// Config is the immutable, fully-resolved configuration passed to the
// constructors of the Pool, Refresher and Dispatcher (spec.md §9).
type Config struct {
	Host string
	Port int

	ValidAPIKey   string
	AllowAnyAPIKey bool

	UpstreamChatURL   string
	UpstreamLoginURL  string
	UpstreamModelID   string
	ModelOverride     bool

	TokensFile   string
	AccountsFile string
	AdminKey     string

	MaxTokenFailures int

	EnableTokenAutoUpdate     bool
	TokenUpdateIntervalSeconds int

	ToolSupport     bool
	ScanLimit       int
	OutputThinking  bool

	RequestTimeoutSeconds int

	DebugLogging bool
	LogFile      string
}

func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

func (c Config) TokenUpdateInterval() time.Duration {
	return time.Duration(c.TokenUpdateIntervalSeconds) * time.Second
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8080)
	v.SetDefault("allow_any_api_key", false)
	v.SetDefault("model_override", false)
	v.SetDefault("tokens_file", "tokens.txt")
	v.SetDefault("accounts_file", "accounts.txt")
	v.SetDefault("max_token_failures", 3)
	v.SetDefault("enable_token_auto_update", false)
	v.SetDefault("token_update_interval_seconds", 3600)
	v.SetDefault("tool_support", true)
	v.SetDefault("scan_limit", 200000)
	v.SetDefault("output_thinking", true)
	v.SetDefault("request_timeout_seconds", 120)
	v.SetDefault("debug_logging", false)
}

// Load builds a Config from defaults, the optional file at path (if it
// exists), and environment variables prefixed K2PROXY_.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("K2PROXY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)

		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
				return nil, apperr.ConfigError("failed to read config file %s: %v", path, err)
			}
		}
	}

	cfg := &Config{
		Host:                       v.GetString("host"),
		Port:                       v.GetInt("port"),
		ValidAPIKey:                v.GetString("valid_api_key"),
		AllowAnyAPIKey:             v.GetBool("allow_any_api_key"),
		UpstreamChatURL:            v.GetString("upstream_chat_url"),
		UpstreamLoginURL:           v.GetString("upstream_login_url"),
		UpstreamModelID:            v.GetString("upstream_model_id"),
		ModelOverride:              v.GetBool("model_override"),
		TokensFile:                 v.GetString("tokens_file"),
		AccountsFile:               v.GetString("accounts_file"),
		AdminKey:                   v.GetString("admin_key"),
		MaxTokenFailures:           v.GetInt("max_token_failures"),
		EnableTokenAutoUpdate:      v.GetBool("enable_token_auto_update"),
		TokenUpdateIntervalSeconds: v.GetInt("token_update_interval_seconds"),
		ToolSupport:                v.GetBool("tool_support"),
		ScanLimit:                  v.GetInt("scan_limit"),
		OutputThinking:             v.GetBool("output_thinking"),
		RequestTimeoutSeconds:      v.GetInt("request_timeout_seconds"),
		DebugLogging:               v.GetBool("debug_logging"),
		LogFile:                    v.GetString("log_file"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c Config) validate() error {
	var missing []string

	if c.UpstreamChatURL == "" {
		missing = append(missing, "upstream_chat_url")
	}

	if c.EnableTokenAutoUpdate && c.UpstreamLoginURL == "" {
		missing = append(missing, "upstream_login_url")
	}

	if !c.AllowAnyAPIKey && c.ValidAPIKey == "" {
		missing = append(missing, "valid_api_key (or set allow_any_api_key)")
	}

	if len(missing) > 0 {
		return apperr.ConfigError("missing required configuration: %s", strings.Join(missing, ", "))
	}

	if c.MaxTokenFailures <= 0 {
		return apperr.ConfigError("max_token_failures must be positive, got %d", c.MaxTokenFailures)
	}

	return nil
}
