package config

import (
	"errors"
	"fmt"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	configName = "uvc-gadget"
	configDir  = "/etc/uvc-gadget"
	envPrefix  = "UVC_GADGET"
)

type Config struct {
	Width          int    `mapstructure:"width" yaml:"width"`
	Height         int    `mapstructure:"height" yaml:"height"`
	FPS            int    `mapstructure:"fps" yaml:"fps"`
	PixelFormat    string `mapstructure:"pixel_format" yaml:"pixel_format"`
	CaptureBuffers int    `mapstructure:"capture_buffers" yaml:"capture_buffers"`
	SinkBuffers    int    `mapstructure:"sink_buffers" yaml:"sink_buffers"`

	EncoderWorkers   int  `mapstructure:"encoder_workers" yaml:"encoder_workers"`
	QueueCapacity    int  `mapstructure:"queue_capacity" yaml:"queue_capacity"`
	JPEGQuality      int  `mapstructure:"jpeg_quality" yaml:"jpeg_quality"`
	WaitIntervalMs   int  `mapstructure:"wait_interval_ms" yaml:"wait_interval_ms"`
	EnqueueTimeoutMs int  `mapstructure:"enqueue_timeout_ms" yaml:"enqueue_timeout_ms"` // 0 rejects a full queue at once
	OrderedDelivery  bool `mapstructure:"ordered_delivery" yaml:"ordered_delivery"`

	PreviewAddr          string `mapstructure:"preview_addr" yaml:"preview_addr"`
	SnapshotDir          string `mapstructure:"snapshot_dir" yaml:"snapshot_dir"`
	SnapshotEvery        int    `mapstructure:"snapshot_every" yaml:"snapshot_every"`
	StatsIntervalSeconds int    `mapstructure:"stats_interval_seconds" yaml:"stats_interval_seconds"`

	LogLevel      string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat     string `mapstructure:"log_format" yaml:"log_format"`
	LogFile       string `mapstructure:"log_file" yaml:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb" yaml:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups" yaml:"log_max_backups"`
}

func Default() *Config {
	return &Config{
		Width:                640,
		Height:               480,
		FPS:                  30,
		PixelFormat:          "mjpeg",
		CaptureBuffers:       4,
		SinkBuffers:          4,
		EncoderWorkers:       4,
		QueueCapacity:        8,
		JPEGQuality:          50,
		WaitIntervalMs:       200,
		EnqueueTimeoutMs:     200,
		SnapshotEvery:        30,
		StatsIntervalSeconds: 10,
		LogLevel:             "info",
		LogFormat:            "text",
		LogMaxSizeMB:         50,
		LogMaxBackups:        3,
	}
}

// Load reads cfgFile, or uvc-gadget.yaml from /etc/uvc-gadget or the working
// directory, over the defaults. UVC_GADGET_* environment variables override
// both. A missing config file is not an error.
func Load(cfgFile string) (*Config, error) {
	cfg := Default()
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir)
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	setDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	return cfg, nil
}

// setDefaults registers every key so environment overrides apply even when
// the file does not mention it.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("width", cfg.Width)
	v.SetDefault("height", cfg.Height)
	v.SetDefault("fps", cfg.FPS)
	v.SetDefault("pixel_format", cfg.PixelFormat)
	v.SetDefault("capture_buffers", cfg.CaptureBuffers)
	v.SetDefault("sink_buffers", cfg.SinkBuffers)
	v.SetDefault("encoder_workers", cfg.EncoderWorkers)
	v.SetDefault("queue_capacity", cfg.QueueCapacity)
	v.SetDefault("jpeg_quality", cfg.JPEGQuality)
	v.SetDefault("wait_interval_ms", cfg.WaitIntervalMs)
	v.SetDefault("enqueue_timeout_ms", cfg.EnqueueTimeoutMs)
	v.SetDefault("ordered_delivery", cfg.OrderedDelivery)
	v.SetDefault("preview_addr", cfg.PreviewAddr)
	v.SetDefault("snapshot_dir", cfg.SnapshotDir)
	v.SetDefault("snapshot_every", cfg.SnapshotEvery)
	v.SetDefault("stats_interval_seconds", cfg.StatsIntervalSeconds)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_format", cfg.LogFormat)
	v.SetDefault("log_file", cfg.LogFile)
	v.SetDefault("log_max_size_mb", cfg.LogMaxSizeMB)
	v.SetDefault("log_max_backups", cfg.LogMaxBackups)
}

// Marshal renders the effective configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
