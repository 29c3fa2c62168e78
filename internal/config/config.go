// Package config loads and validates demoshot configuration via Viper.
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/demoshot/internal/artifact"
	"github.com/JakeFAU/demoshot/internal/capture"
	"github.com/JakeFAU/demoshot/internal/perms"
	"github.com/JakeFAU/demoshot/internal/variants"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Capture     CaptureConfig     `mapstructure:"capture"`
	Strategies  StrategiesConfig  `mapstructure:"strategies"`
	Variants    VariantsConfig    `mapstructure:"variants"`
	Permissions PermissionsConfig `mapstructure:"permissions"`
	Catalog     CatalogConfig     `mapstructure:"catalog"`
	Storage     StorageConfig     `mapstructure:"storage"`
	PubSub      PubSubConfig      `mapstructure:"pubsub"`
	Batch       BatchConfig       `mapstructure:"batch"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CaptureConfig governs browser captures and the artifact tree.
type CaptureConfig struct {
	ScreenshotsDir string  `mapstructure:"screenshots_dir"`
	PublicBaseURL  string  `mapstructure:"public_base_url"`
	ViewportWidth  int     `mapstructure:"viewport_width"`
	ViewportHeight int     `mapstructure:"viewport_height"`
	FullPage       bool    `mapstructure:"full_page"`
	MaxParallel    int     `mapstructure:"max_parallel"`
	HostQPS        float64 `mapstructure:"host_qps"`
	UserAgent      string  `mapstructure:"user_agent"`
	ChromePath     string  `mapstructure:"chrome_path"`
	ProfileRoot    string  `mapstructure:"profile_root"`
}

// StrategyConfig holds the tunable parts of one attempt policy.
type StrategyConfig struct {
	TimeoutSeconds  int      `mapstructure:"timeout_seconds"`
	PostLoadDelayMs int      `mapstructure:"post_load_delay_ms"`
	BlockedDomains  []string `mapstructure:"blocked_domains"`
}

// StrategiesConfig tunes the ranked strategies.
type StrategiesConfig struct {
	Primary     StrategyConfig `mapstructure:"primary"`
	Fallback    StrategyConfig `mapstructure:"fallback"`
	Problematic StrategyConfig `mapstructure:"problematic"`
}

// VariantsConfig controls derived sizes.
type VariantsConfig struct {
	Breakpoints []int `mapstructure:"breakpoints"`
	WebpQuality int   `mapstructure:"webp_quality"`
}

// PermissionsConfig controls ownership normalization.
type PermissionsConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	User          string `mapstructure:"user"`
	Group         string `mapstructure:"group"`
	ReferencePath string `mapstructure:"reference_path"`
	DefaultUser   string `mapstructure:"default_user"`
	DefaultGroup  string `mapstructure:"default_group"`
	Escalate      bool   `mapstructure:"escalate"`
}

// CatalogConfig selects the target catalog backend.
type CatalogConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
	DSN    string `mapstructure:"dsn"`
	Table  string `mapstructure:"table"`
}

// StorageConfig configures the optional GCS artifact mirror.
type StorageConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for capture notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// BatchConfig governs the batch runner.
type BatchConfig struct {
	Workers            int  `mapstructure:"workers"`
	QueueDepth         int  `mapstructure:"queue_depth"`
	StopOnFirstFailure bool `mapstructure:"stop_on_first_failure"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Catalog drivers.
const (
	CatalogFile     = "file"
	CatalogPostgres = "postgres"
	CatalogMemory   = "memory"
)

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DEMOSHOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	primary := capture.PrimaryStrategy()
	fallback := capture.FallbackStrategy()
	problematic := capture.ProblematicStrategy()

	v.SetDefault("server.port", 8080)
	v.SetDefault("capture.screenshots_dir", "public")
	v.SetDefault("capture.public_base_url", "/")
	v.SetDefault("capture.viewport_width", capture.DefaultViewportWidth)
	v.SetDefault("capture.viewport_height", capture.DefaultViewportHeight)
	v.SetDefault("capture.max_parallel", capture.DefaultMaxParallel)
	v.SetDefault("capture.host_qps", 0)
	v.SetDefault("capture.user_agent", "demoshot/0.1")
	v.SetDefault("strategies.primary.timeout_seconds", int(primary.Timeout/time.Second))
	v.SetDefault("strategies.primary.post_load_delay_ms", primary.PostLoadDelay.Milliseconds())
	v.SetDefault("strategies.fallback.timeout_seconds", int(fallback.Timeout/time.Second))
	v.SetDefault("strategies.fallback.post_load_delay_ms", fallback.PostLoadDelay.Milliseconds())
	v.SetDefault("strategies.fallback.blocked_domains", capture.DefaultTrackerDomains)
	v.SetDefault("strategies.problematic.timeout_seconds", int(problematic.Timeout/time.Second))
	v.SetDefault("strategies.problematic.post_load_delay_ms", problematic.PostLoadDelay.Milliseconds())
	v.SetDefault("strategies.problematic.blocked_domains", capture.DefaultTrackerDomains)
	v.SetDefault("variants.breakpoints", variants.DefaultBreakpoints)
	v.SetDefault("variants.webp_quality", variants.DefaultWebpQuality)
	v.SetDefault("permissions.enabled", true)
	v.SetDefault("permissions.default_user", perms.DefaultUser)
	v.SetDefault("permissions.default_group", perms.DefaultGroup)
	v.SetDefault("permissions.escalate", true)
	v.SetDefault("catalog.driver", CatalogFile)
	v.SetDefault("catalog.path", "sites.yaml")
	v.SetDefault("catalog.table", "sites")
	v.SetDefault("storage.prefix", "screenshots")
	v.SetDefault("batch.workers", capture.DefaultMaxParallel)
	v.SetDefault("batch.queue_depth", 64)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Capture.ScreenshotsDir == "" {
		return fmt.Errorf("capture.screenshots_dir must be set")
	}
	if c.Capture.MaxParallel <= 0 {
		return fmt.Errorf("capture.max_parallel must be > 0")
	}
	if c.Capture.HostQPS < 0 {
		return fmt.Errorf("capture.host_qps must be >= 0")
	}
	for name, s := range map[string]StrategyConfig{
		"primary":     c.Strategies.Primary,
		"fallback":    c.Strategies.Fallback,
		"problematic": c.Strategies.Problematic,
	} {
		if s.TimeoutSeconds <= 0 {
			return fmt.Errorf("strategies.%s.timeout_seconds must be > 0", name)
		}
		if s.PostLoadDelayMs < 0 {
			return fmt.Errorf("strategies.%s.post_load_delay_ms must be >= 0", name)
		}
	}
	seen := make(map[int]bool, len(c.Variants.Breakpoints))
	for _, bp := range c.Variants.Breakpoints {
		if !slices.Contains(variants.DefaultBreakpoints, bp) {
			return fmt.Errorf("variants.breakpoints must be drawn from %v, got %d", variants.DefaultBreakpoints, bp)
		}
		if seen[bp] {
			return fmt.Errorf("variants.breakpoints lists %d twice", bp)
		}
		seen[bp] = true
	}
	if c.Variants.WebpQuality < 0 || c.Variants.WebpQuality > 100 {
		return fmt.Errorf("variants.webp_quality must be within 0..100")
	}
	switch c.Catalog.Driver {
	case CatalogFile:
		if c.Catalog.Path == "" {
			return fmt.Errorf("catalog.path must be set for the file driver")
		}
	case CatalogPostgres:
		if c.Catalog.DSN == "" {
			return fmt.Errorf("catalog.dsn must be set for the postgres driver")
		}
	case CatalogMemory:
	default:
		return fmt.Errorf("catalog.driver %q is not one of file, postgres, memory", c.Catalog.Driver)
	}
	if c.Batch.Workers <= 0 {
		return fmt.Errorf("batch.workers must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
	}
	return nil
}

// Layout returns the artifact layout rooted at the screenshots directory.
func (c Config) Layout() artifact.Layout {
	return artifact.Layout{Root: c.Capture.ScreenshotsDir, PublicBaseURL: c.Capture.PublicBaseURL}
}

// CaptureOptions returns the default per-capture options.
func (c Config) CaptureOptions() capture.Options {
	return capture.Options{
		Width:    c.Capture.ViewportWidth,
		Height:   c.Capture.ViewportHeight,
		FullPage: c.Capture.FullPage,
	}
}

// Orchestrator converts strategy tuning into orchestrator settings.
func (c Config) Orchestrator() capture.OrchestratorConfig {
	return capture.OrchestratorConfig{
		Primary:     c.Strategies.Primary.apply(capture.PrimaryStrategy()),
		Fallback:    c.Strategies.Fallback.apply(capture.FallbackStrategy()),
		Problematic: c.Strategies.Problematic.apply(capture.ProblematicStrategy()),
		MaxParallel: c.Capture.MaxParallel,
		HostQPS:     c.Capture.HostQPS,
	}
}

func (s StrategyConfig) apply(base capture.StrategyConfig) capture.StrategyConfig {
	if s.TimeoutSeconds > 0 {
		base.Timeout = time.Duration(s.TimeoutSeconds) * time.Second
	}
	if s.PostLoadDelayMs >= 0 {
		base.PostLoadDelay = time.Duration(s.PostLoadDelayMs) * time.Millisecond
	}
	if s.BlockedDomains != nil {
		base.BlockedDomains = append([]string(nil), s.BlockedDomains...)
	}
	return base
}

// VariantSettings returns the generator configuration.
func (c Config) VariantSettings() variants.Config {
	return variants.Config{Breakpoints: c.Variants.Breakpoints, WebpQuality: c.Variants.WebpQuality}
}

// PermissionSettings returns normalizer inputs; escalation also requires
// the host to allow it.
func (c Config) PermissionSettings(canEscalate bool) perms.Settings {
	return perms.Settings{
		Explicit:      perms.OwnershipPolicy{User: c.Permissions.User, Group: c.Permissions.Group},
		ReferencePath: c.Permissions.ReferencePath,
		Fallback:      perms.OwnershipPolicy{User: c.Permissions.DefaultUser, Group: c.Permissions.DefaultGroup},
		Escalate:      c.Permissions.Escalate && canEscalate,
	}
}
