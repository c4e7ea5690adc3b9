// Package config loads the messaging core's settings from the
// environment (optionally seeded by a .env file) with an optional YAML
// overlay for hosts that prefer a config file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config aggregates the core's tunables.
type Config struct {
	// DataDir holds the key store and blob store databases.
	DataDir string `yaml:"data_dir"`
	// TypingWindow is the presence debounce window.
	TypingWindow time.Duration `yaml:"typing_window"`
	// DeliveredAfter and ReadAfter drive the simulated delivery signal.
	DeliveredAfter time.Duration `yaml:"delivered_after"`
	ReadAfter      time.Duration `yaml:"read_after"`
	// MaxFileSize bounds file attachments, in bytes.
	MaxFileSize int64 `yaml:"max_file_size"`
	// KeyScope names the symmetric key used for payloads.
	KeyScope string `yaml:"key_scope"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		DataDir:        "./data",
		TypingWindow:   1000 * time.Millisecond,
		DeliveredAfter: 1500 * time.Millisecond,
		ReadAfter:      4 * time.Second,
		MaxFileSize:    10 * 1024 * 1024,
		KeyScope:       "device",
	}
}

// Load builds the configuration: defaults, then an optional YAML file,
// then environment variables (highest precedence). A .env file in the
// working directory is honored when present.
func Load(yamlPath string) (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logrus.WithFields(logrus.Fields{
			"function": "Load",
			"error":    err.Error(),
		}).Debug("No .env file loaded")
	}

	cfg := Default()

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("MSGCORE_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("MSGCORE_KEY_SCOPE"); v != "" {
		c.KeyScope = v
	}

	durations := []struct {
		env    string
		target *time.Duration
	}{
		{"MSGCORE_TYPING_WINDOW", &c.TypingWindow},
		{"MSGCORE_DELIVERED_AFTER", &c.DeliveredAfter},
		{"MSGCORE_READ_AFTER", &c.ReadAfter},
	}
	for _, d := range durations {
		v := os.Getenv(d.env)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s value %q: %w", d.env, v, err)
		}
		*d.target = parsed
	}

	if v := os.Getenv("MSGCORE_MAX_FILE_SIZE"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil || parsed <= 0 {
			return fmt.Errorf("invalid MSGCORE_MAX_FILE_SIZE value %q", v)
		}
		c.MaxFileSize = parsed
	}

	return nil
}
