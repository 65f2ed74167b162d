// Package config loads runtime settings from an optional h5vol.yaml file and
// the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/scigolib/h5vol/internal/utils"
)

// Storage backends.
const (
	BackendFile  = "file"
	BackendRedis = "redis"
)

// Config holds every setting the runtime consumes.
type Config struct {
	VOL     VOLConfig     `mapstructure:"vol"`
	Plugin  PluginConfig  `mapstructure:"plugin"`
	Link    LinkConfig    `mapstructure:"link"`
	Storage StorageConfig `mapstructure:"storage"`
	Log     LogConfig     `mapstructure:"log"`
}

// VOLConfig selects the default connector.
type VOLConfig struct {
	// Connector is "<name> [info]"; empty selects the native connector.
	Connector string `mapstructure:"connector"`
}

// PluginConfig controls dynamic loading.
type PluginConfig struct {
	Path    string `mapstructure:"path"`    // directories separated by os.PathListSeparator
	Preload string `mapstructure:"preload"` // "::" disables loading
}

// LinkConfig controls traversal.
type LinkConfig struct {
	ExtPrefix string `mapstructure:"ext_prefix"`
	NLinks    int    `mapstructure:"nlinks"`
}

// StorageConfig selects where the native connector keeps files.
type StorageConfig struct {
	Backend  string `mapstructure:"backend"`
	RedisURL string `mapstructure:"redis_url"`
}

// LogConfig sets the log level name (debug, info, warn, error).
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// envBindings maps keys to the environment variables HDF5 tools already use.
var envBindings = map[string]string{
	"vol.connector":     "HDF5_VOL_CONNECTOR",
	"plugin.path":       "HDF5_PLUGIN_PATH",
	"plugin.preload":    "HDF5_PLUGIN_PRELOAD",
	"link.ext_prefix":   "HDF5_EXT_PREFIX",
	"storage.backend":   "H5VOL_STORAGE_BACKEND",
	"storage.redis_url": "H5VOL_REDIS_URL",
}

// New returns a viper instance with defaults, environment bindings and the
// config file applied. cfgFile may be empty, in which case h5vol.yaml is
// searched for in the working directory and in ~/.h5vol. A missing file is
// not an error.
func New(cfgFile string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".h5vol"))
		}
		v.SetConfigType("yaml")
		v.SetConfigName("h5vol")
	}

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, utils.WrapError("binding "+env, err)
		}
	}
	v.SetEnvPrefix("H5VOL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", errors.Join(utils.ErrInvalidArgument, err))
		}
	}
	return v, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("vol.connector", "")
	v.SetDefault("plugin.path", "")
	v.SetDefault("plugin.preload", "")
	v.SetDefault("link.ext_prefix", "")
	v.SetDefault("link.nlinks", 16)
	v.SetDefault("storage.backend", BackendFile)
	v.SetDefault("storage.redis_url", "redis://localhost:6379/0")
	v.SetDefault("log.level", "info")
}

// Decode validates the settings held by v.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", errors.Join(utils.ErrInvalidArgument, err))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load is New followed by Decode.
func Load(cfgFile string) (*Config, error) {
	v, err := New(cfgFile)
	if err != nil {
		return nil, err
	}
	return Decode(v)
}

// Default returns the settings used when nothing is configured.
func Default() *Config {
	return &Config{
		Link:    LinkConfig{NLinks: 16},
		Storage: StorageConfig{Backend: BackendFile},
		Log:     LogConfig{Level: "info"},
	}
}

// Validate checks the settings for values the runtime cannot use.
func (c *Config) Validate() error {
	if c.Link.NLinks <= 0 {
		return fmt.Errorf("link.nlinks must be positive, got %d: %w", c.Link.NLinks, utils.ErrInvalidArgument)
	}
	switch c.Storage.Backend {
	case BackendFile:
	case BackendRedis:
		if c.Storage.RedisURL == "" {
			return fmt.Errorf("storage.redis_url is required for the redis backend: %w", utils.ErrInvalidArgument)
		}
	default:
		return fmt.Errorf("unknown storage backend %q: %w", c.Storage.Backend, utils.ErrInvalidArgument)
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	return nil
}

// LogLevel parses Log.Level. An empty level is info.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if c.Log.Level == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("log.level %q: %w", c.Log.Level, utils.ErrInvalidArgument)
	}
	return level, nil
}
