package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of environment variables overriding file settings.
// Sections are separated by a double underscore: CALSRC_SERVICE__LOG_LEVEL.
const EnvPrefix = "CALSRC_"

// Config holds the application configuration
type Config struct {
	App     AppConfig     `koanf:"app"`
	Source  SourceConfig  `koanf:"source"`
	Service ServiceConfig `koanf:"service"`
	Sink    SinkConfig    `koanf:"sink"`
	Google  GoogleConfig  `koanf:"google"`
	OAuth   *OAuthConfig  `koanf:"-"` // From environment
}

// AppConfig holds the HTTP endpoint configuration
type AppConfig struct {
	Port        int    `koanf:"port"`
	PublicURL   string `koanf:"public_url"`
	WebhookPath string `koanf:"webhook_path"`
}

// SourceConfig holds the watched calendars and channel lifecycle parameters
type SourceConfig struct {
	CalendarIDs     []string      `koanf:"calendar_ids"`
	NewOnly         bool          `koanf:"new_only"`
	RenewalInterval time.Duration `koanf:"renewal_interval"`
	ChannelTTL      time.Duration `koanf:"channel_ttl"`
	ChannelToken    string        `koanf:"channel_token"`
}

// ServiceConfig holds the process-level configuration
type ServiceConfig struct {
	StateDSN             string `koanf:"state_dsn"`
	LogLevel             string `koanf:"log_level"`
	DeactivateOnShutdown bool   `koanf:"deactivate_on_shutdown"`
}

// SinkConfig selects where emitted events go
type SinkConfig struct {
	Log         bool   `koanf:"log"`
	Signal      bool   `koanf:"signal"`
	Dedupe      bool   `koanf:"dedupe"`
	RedisURL    string `koanf:"redis_url"`
	RedisStream string `koanf:"redis_stream"`
}

// GoogleConfig holds Calendar API client tuning
type GoogleConfig struct {
	RequestsPerSecond float64 `koanf:"requests_per_second"`
	Burst             int     `koanf:"burst"`
}

// OAuthConfig holds the Google OAuth configuration from environment
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
}

// HasRefreshToken reports whether a complete user credential was supplied
func (o *OAuthConfig) HasRefreshToken() bool {
	return o != nil && o.ClientID != "" && o.ClientSecret != "" && o.RefreshToken != ""
}

// CallbackAddress returns the externally reachable webhook address registered on channels
func (c *Config) CallbackAddress() string {
	return strings.TrimRight(c.App.PublicURL, "/") + c.App.WebhookPath
}

func defaults() map[string]any {
	return map[string]any{
		"app.port":                       8080,
		"app.webhook_path":               "/api/webhook/calendar",
		"source.new_only":                false,
		"source.renewal_interval":        "1h",
		"source.channel_ttl":             "168h",
		"service.state_dsn":              "sqlite://data/state.db",
		"service.log_level":              "info",
		"service.deactivate_on_shutdown": true,
		"sink.log":                       true,
		"sink.signal":                    true,
		"sink.dedupe":                    true,
		"sink.redis_stream":              "calendar-source:events",
		"google.requests_per_second":     5.0,
		"google.burst":                   10,
	}
}

// Load reads defaults, the TOML configuration file and environment overrides
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load default configuration: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(".", env.Opt{
		Prefix:        EnvPrefix,
		TransformFunc: transformEnv,
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}

	var cfg Config
	err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
			Result:           &cfg,
			WeaklyTypedInput: true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	cfg.Source.CalendarIDs = normalizeIDs(cfg.Source.CalendarIDs)

	cfg.OAuth = &OAuthConfig{
		ClientID:     os.Getenv("GOOGLE_OAUTH_CLIENT_ID"),
		ClientSecret: os.Getenv("GOOGLE_OAUTH_CLIENT_SECRET"),
		RefreshToken: os.Getenv("GOOGLE_OAUTH_REFRESH_TOKEN"),
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	cfg.Service.StateDSN = resolveStateDSN(cfg.Service.StateDSN, path)

	return &cfg, nil
}

// transformEnv maps CALSRC_SOURCE__CALENDAR_IDS to source.calendar_ids
func transformEnv(key, value string) (string, any) {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	return strings.ReplaceAll(key, "__", "."), value
}

// normalizeIDs trims and de-duplicates calendar ids while preserving order
func normalizeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// resolveStateDSN makes relative sqlite paths relative to the config file location
func resolveStateDSN(dsn, configPath string) string {
	const prefix = "sqlite://"
	if !strings.HasPrefix(dsn, prefix) || configPath == "" {
		return dsn
	}
	p := strings.TrimPrefix(dsn, prefix)
	if p == "" || filepath.IsAbs(p) {
		return dsn
	}
	return prefix + filepath.Join(filepath.Dir(configPath), "..", p)
}

// validate checks if the configuration is valid
func validate(cfg *Config) error {
	if len(cfg.Source.CalendarIDs) == 0 {
		return fmt.Errorf("at least one calendar id is required in source.calendar_ids")
	}

	if cfg.App.PublicURL == "" {
		return fmt.Errorf("app.public_url is required to register push channels")
	}
	u, err := url.Parse(cfg.App.PublicURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("invalid app.public_url: %q", cfg.App.PublicURL)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("app.public_url must use http or https, got %q", u.Scheme)
	}
	if !strings.HasPrefix(cfg.App.WebhookPath, "/") {
		return fmt.Errorf("app.webhook_path must start with '/'")
	}

	if cfg.App.Port <= 0 || cfg.App.Port > 65535 {
		return fmt.Errorf("invalid app.port: %d", cfg.App.Port)
	}

	if cfg.Source.RenewalInterval <= 0 {
		return fmt.Errorf("source.renewal_interval must be positive")
	}
	if cfg.Source.ChannelTTL <= cfg.Source.RenewalInterval {
		return fmt.Errorf("source.channel_ttl (%s) must exceed source.renewal_interval (%s)", cfg.Source.ChannelTTL, cfg.Source.RenewalInterval)
	}

	if cfg.Service.StateDSN == "" {
		return fmt.Errorf("service.state_dsn is required")
	}
	if strings.HasPrefix(cfg.Service.StateDSN, "sqlite://:memory:") {
		return fmt.Errorf("service.state_dsn: in-memory sqlite is not supported, use memory://")
	}

	if cfg.Google.RequestsPerSecond <= 0 {
		return fmt.Errorf("google.requests_per_second must be positive")
	}
	if cfg.Google.Burst < 1 {
		return fmt.Errorf("google.burst must be at least 1")
	}

	return nil
}
