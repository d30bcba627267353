package config

import (
	"strings"
	"time"

	"github.com/yndnr/cfenv-go/internal/core/domain"
	"github.com/yndnr/cfenv-go/internal/core/service"
	"github.com/yndnr/cfenv-go/internal/infra/confloader"
	"github.com/yndnr/cfenv-go/internal/storage/cloudflare"
)

// Settings are the tool-wide settings. Precedence, lowest first: built-in
// defaults, the settings file, CFENV_<SECTION>__<KEY> environment variables.
type Settings struct {
	API   APISettings   `koanf:"api"`
	Sync  SyncSettings  `koanf:"sync"`
	Watch WatchSettings `koanf:"watch"`
	Log   LogSettings   `koanf:"log"`
	Local LocalSettings `koanf:"local"`
}

// APISettings configure the Cloudflare client.
type APISettings struct {
	BaseURL        string        `koanf:"base_url"`
	UserAgent      string        `koanf:"user_agent"`
	Timeout        time.Duration `koanf:"timeout"`
	MaxRetries     int           `koanf:"max_retries"`
	RetryBaseDelay time.Duration `koanf:"retry_base_delay"`
	MaxRetryDelay  time.Duration `koanf:"max_retry_delay"`
	RateLimit      float64       `koanf:"rate_limit"` // requests per second, 0 = unlimited
	RateBurst      int           `koanf:"rate_burst"`
}

// SyncSettings are defaults for new links.
type SyncSettings struct {
	KeyPrefix string `koanf:"key_prefix"`
	Mode      string `koanf:"mode"`
}

// WatchSettings configure polling and file watching.
type WatchSettings struct {
	Interval    time.Duration `koanf:"interval"`
	MaxInterval time.Duration `koanf:"max_interval"`
	Debounce    time.Duration `koanf:"debounce"`
}

// LogSettings configure the logger.
type LogSettings struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// LocalSettings configure the offline backend.
type LocalSettings struct {
	DataDir string `koanf:"data_dir"`
}

// Defaults returns the built-in settings as dotted koanf keys.
func Defaults() map[string]any {
	return map[string]any{
		"api.base_url":         cloudflare.DefaultBaseURL,
		"api.user_agent":       "",
		"api.timeout":          cloudflare.DefaultTimeout,
		"api.max_retries":      cloudflare.DefaultMaxRetries,
		"api.retry_base_delay": cloudflare.DefaultRetryBaseDelay,
		"api.max_retry_delay":  cloudflare.DefaultMaxRetryDelay,
		"api.rate_limit":       0.0,
		"api.rate_burst":       1,
		"sync.key_prefix":      domain.DefaultKeyPrefix,
		"sync.mode":            string(domain.ModeFlat),
		"watch.interval":       service.DefaultPollInterval,
		"watch.max_interval":   service.DefaultPollMaxInterval,
		"watch.debounce":       200 * time.Millisecond,
		"log.level":            "warn",
		"log.format":           "text",
		"local.data_dir":       "",
	}
}

// LoadSettings loads settings. An empty path means the default settings
// file, which may be absent; an explicit path must exist.
func LoadSettings(path string) (*Settings, error) {
	fileOpt := confloader.WithConfigFile(path)
	if path == "" {
		fileOpt = confloader.WithOptionalConfigFile(SettingsPath())
	}

	loader := confloader.NewLoader(
		confloader.WithDefaults(Defaults()),
		fileOpt,
	)

	var s Settings
	if err := loader.Load(&s); err != nil {
		return nil, err
	}
	if s.Local.DataDir == "" {
		s.Local.DataDir = DataDir()
	}
	if err := s.Verify(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Verify rejects settings that cannot work.
func (s *Settings) Verify() error {
	switch {
	case strings.TrimSpace(s.API.BaseURL) == "":
		return domain.ErrInvalidArgument.WithDetails("api.base_url is required")
	case s.API.Timeout <= 0:
		return domain.ErrInvalidArgument.WithDetails("api.timeout must be positive")
	case s.API.MaxRetries < 0:
		return domain.ErrInvalidArgument.WithDetails("api.max_retries must not be negative")
	case s.API.RetryBaseDelay < 0 || s.API.MaxRetryDelay < s.API.RetryBaseDelay:
		return domain.ErrInvalidArgument.WithDetails("api.max_retry_delay must be at least api.retry_base_delay")
	case s.API.RateLimit < 0:
		return domain.ErrInvalidArgument.WithDetails("api.rate_limit must not be negative")
	case s.Watch.Interval < service.MinPollInterval:
		return domain.ErrInvalidArgument.WithDetailsf("watch.interval must be at least %s", service.MinPollInterval)
	case s.Watch.MaxInterval < s.Watch.Interval:
		return domain.ErrInvalidArgument.WithDetails("watch.max_interval must be at least watch.interval")
	}
	if _, err := domain.ParseStorageMode(s.Sync.Mode, domain.ModeFlat); err != nil {
		return err
	}
	return nil
}

// ClientConfig builds a Cloudflare client configuration from the settings.
func (s *Settings) ClientConfig(accountID, apiToken string) cloudflare.Config {
	cfg := cloudflare.DefaultConfig(accountID, apiToken)
	cfg.BaseURL = s.API.BaseURL
	if s.API.UserAgent != "" {
		cfg.UserAgent = s.API.UserAgent
	}
	cfg.Timeout = s.API.Timeout
	cfg.MaxRetries = s.API.MaxRetries
	cfg.RetryBaseDelay = s.API.RetryBaseDelay
	cfg.MaxRetryDelay = s.API.MaxRetryDelay
	cfg.RateLimit = s.API.RateLimit
	cfg.RateBurst = s.API.RateBurst
	return cfg
}
