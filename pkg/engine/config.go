// Package engine wires the kernel's collaborators (catalog, WAL pool,
// dispatcher, checkpoint/recovery) into a single composition root and
// exposes the logical-plan entrypoints.
package engine

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config is the kernel's ambient configuration, loadable from a config
// file, environment variables (OTTERBRIX_ prefix), or left at its
// defaults for embedding in a single process.
type Config struct {
	DataDir string `mapstructure:"data_dir"`

	WALPartitions     int    `mapstructure:"wal_partitions"`
	WALSyncPolicy     string `mapstructure:"wal_sync_policy"` // "every_write" | "interval" | "batch"
	WALMaxSegmentSize int64  `mapstructure:"wal_max_segment_size"`

	ActorPoolSize int `mapstructure:"actor_pool_size"`

	LogDebug  bool   `mapstructure:"log_debug"`
	SentryDSN string `mapstructure:"sentry_dsn"`
}

// DefaultConfig mirrors wal.DefaultOptions' choices so a Kernel started
// with no configuration at all behaves the same as one built by hand.
func DefaultConfig() Config {
	return Config{
		DataDir:           "./otterbrix_data",
		WALPartitions:     4,
		WALSyncPolicy:     "interval",
		WALMaxSegmentSize: 64 * 1024 * 1024,
		ActorPoolSize:     8,
	}
}

// LoadConfig reads configPath (if non-empty and present) and overlays
// OTTERBRIX_-prefixed environment variables on top: an explicit config
// file is optional, environment variables always win.
func LoadConfig(configPath string) (Config, error) {
	cfg := DefaultConfig()
	v := viper.New()
	v.SetConfigFile(configPathOrDefault(configPath))
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configPath != "" {
			return cfg, fmt.Errorf("engine: read config: %w", err)
		}
	}

	const prefix = "OTTERBRIX_"
	for _, envStr := range os.Environ() {
		pair := strings.SplitN(envStr, "=", 2)
		if len(pair) != 2 || !strings.HasPrefix(pair[0], prefix) {
			continue
		}
		key := strings.ToLower(strings.TrimPrefix(pair[0], prefix))
		v.Set(key, pair[1])
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("engine: unmarshal config: %w", err)
	}
	return cfg, nil
}

func configPathOrDefault(path string) string {
	if path != "" {
		return path
	}
	return "otterbrix.yaml"
}
