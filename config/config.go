// Package config - File, .env and environment configuration for the tileinfer binary.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/nvr-ai/go-tileinfer/capture"
	"github.com/nvr-ai/go-tileinfer/controller"
	"github.com/nvr-ai/go-tileinfer/inference"
	"github.com/nvr-ai/go-tileinfer/inference/providers"
)

// EnvPrefix prefixes every environment override, e.g. TILEINFER_SESSION_MODEL.
const EnvPrefix = "TILEINFER"

// Change detector names.
const (
	ChangeNone       = "none"
	ChangeChecksum   = "checksum"
	ChangeDifference = "difference"
)

// Config is the complete application configuration.
type Config struct {
	Log       LogConfig                 `mapstructure:"log"`
	Server    ServerConfig              `mapstructure:"server"`
	Catalog   CatalogConfig             `mapstructure:"catalog"`
	Session   SessionConfig             `mapstructure:"session"`
	Loop      controller.Config         `mapstructure:"loop"`
	Change    ChangeConfig              `mapstructure:"change"`
	Capture   capture.Config            `mapstructure:"capture"`
	Provider  providers.Config          `mapstructure:"provider"`
	Segmenter inference.SegmenterConfig `mapstructure:"segmenter"`
	Profiler  ProfilerConfig            `mapstructure:"profiler"`
}

// LogConfig selects the logger.
type LogConfig struct {
	// Mode is "development" or "release".
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

// ServerConfig configures the HTTP and websocket front end.
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	// Mode is the gin mode.
	Mode string `mapstructure:"mode"`
}

// CatalogConfig locates the model registry.
type CatalogConfig struct {
	Path string `mapstructure:"path"`
	// CacheDir holds downloaded remote models.
	CacheDir string `mapstructure:"cache_dir"`
}

// SessionConfig is the run started at launch.
type SessionConfig struct {
	Model string `mapstructure:"model"`
	// MinConf is kept raw; absent or non-numeric values mean no filtering.
	MinConf string         `mapstructure:"min_conf"`
	Region  capture.Region `mapstructure:"region"`
}

// Inference returns the per-session inference settings.
func (s SessionConfig) Inference() inference.Config {
	return inference.Config{MinConf: inference.ParseMinConf(s.MinConf)}
}

// ChangeConfig selects the change gate detector.
type ChangeConfig struct {
	// Detector is none, checksum or difference.
	Detector   string                           `mapstructure:"detector"`
	Difference controller.FrameDifferenceConfig `mapstructure:"difference"`
}

// ProfilerConfig controls stage timing reports.
type ProfilerConfig struct {
	// ReportInterval is how often timings are logged. Zero disables reports.
	ReportInterval time.Duration `mapstructure:"report_interval"`
	MaxSamples     int           `mapstructure:"max_samples"`
}

// Load reads configuration from path (optional), a .env file in the working directory
// (optional) and TILEINFER_* environment variables, in increasing precedence.
//
// Arguments:
//   - path: A YAML or JSON file. Empty skips the file.
//
// Returns:
//   - *Config: The merged configuration.
//   - error: An error if the file exists but cannot be parsed, or a value is invalid.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "failed to read .env")
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate normalises enumerations and rejects unknown ones.
func (c *Config) Validate() error {
	policy, err := controller.ParseFailurePolicy(string(c.Loop.Failure))
	if err != nil {
		return err
	}
	c.Loop.Failure = policy

	switch c.Change.Detector = strings.ToLower(c.Change.Detector); c.Change.Detector {
	case "", ChangeNone, ChangeChecksum, ChangeDifference:
	default:
		return errors.Errorf("unknown change detector %q", c.Change.Detector)
	}
	if c.Change.Detector != "" && c.Change.Detector != ChangeNone && c.Loop.MinChange <= 0 {
		return errors.Errorf("change detector %q needs loop.min_change > 0", c.Change.Detector)
	}
	return nil
}

// ChangeDetector builds the configured change gate detector, or nil.
func (c *Config) ChangeDetector() controller.ChangeDetector {
	switch c.Change.Detector {
	case ChangeChecksum:
		return &controller.ChecksumChange{}
	case ChangeDifference:
		return controller.NewFrameDifference(c.Change.Difference)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.mode", "development")
	v.SetDefault("log.level", "")

	v.SetDefault("server.enabled", false)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.mode", "release")

	v.SetDefault("catalog.path", "models/catalog.yaml")
	v.SetDefault("catalog.cache_dir", "models/cache")

	v.SetDefault("session.model", "")
	v.SetDefault("session.min_conf", "")
	v.SetDefault("session.region.left", 0)
	v.SetDefault("session.region.top", 0)
	v.SetDefault("session.region.width", 0)
	v.SetDefault("session.region.height", 0)

	v.SetDefault("loop.interval", controller.DefaultInterval)
	v.SetDefault("loop.failure_policy", string(controller.FailFast))
	v.SetDefault("loop.min_change", 0.0)

	diff := controller.DefaultFrameDifferenceConfig()
	v.SetDefault("change.detector", ChangeNone)
	v.SetDefault("change.difference.difference_threshold", diff.DifferenceThreshold)
	v.SetDefault("change.difference.blur_kernel_size", diff.BlurKernelSize)

	v.SetDefault("capture.kind", capture.KindScreen)
	v.SetDefault("capture.source", "")
	v.SetDefault("capture.loop", false)

	v.SetDefault("provider.backend", "cpu")
	v.SetDefault("provider.library_path", "")
	v.SetDefault("provider.intra_op_threads", 0)
	v.SetDefault("provider.inter_op_threads", 0)

	seg := inference.DefaultSegmenterConfig()
	v.SetDefault("segmenter.conf_threshold", seg.ConfThreshold)
	v.SetDefault("segmenter.iou_threshold", seg.IoUThreshold)
	v.SetDefault("segmenter.max_instances", seg.MaxInstances)
	v.SetDefault("segmenter.mask_threshold", seg.MaskThreshold)
	v.SetDefault("segmenter.workers", seg.Workers)

	v.SetDefault("profiler.report_interval", 30*time.Second)
	v.SetDefault("profiler.max_samples", 600)
}
