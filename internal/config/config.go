// Package config loads server configuration with viper: defaults,
// optional yaml file, NOVAPG_* environment variables, then command
// line flags, in increasing precedence.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Server struct {
		Host string `mapstructure:"host"`
		Port int    `mapstructure:"port"`
	} `mapstructure:"server"`

	Storage struct {
		DataDir  string `mapstructure:"data_dir"`
		PoolSize int    `mapstructure:"pool_size"`
	} `mapstructure:"storage"`

	Bootstrap struct {
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Database string `mapstructure:"database"`
	} `mapstructure:"bootstrap"`

	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Flags defines the command line surface. Call before Load.
func Flags(fs *pflag.FlagSet) {
	fs.String("config", "", "path to yaml config file")
	fs.String("host", "", "listen address")
	fs.Int("port", 0, "listen port")
	fs.String("data-dir", "", "data directory")
	fs.String("bootstrap-user", "", "initial superuser (fresh data dir only)")
	fs.String("bootstrap-password", "", "initial superuser password")
	fs.String("bootstrap-database", "", "database name (fresh data dir only)")
	fs.String("log-level", "", "log level (debug, info, warn, error)")
}

// Load resolves the final configuration from defaults, the optional
// config file, environment and parsed flags.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 5433)
	v.SetDefault("storage.data_dir", "./data")
	v.SetDefault("storage.pool_size", 256)
	v.SetDefault("bootstrap.user", "postgres")
	v.SetDefault("bootstrap.password", "postgres")
	v.SetDefault("bootstrap.database", "novapg")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetEnvPrefix("NOVAPG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path, _ := fs.GetString("config"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	for flagName, key := range map[string]string{
		"host":               "server.host",
		"port":               "server.port",
		"data-dir":           "storage.data_dir",
		"bootstrap-user":     "bootstrap.user",
		"bootstrap-password": "bootstrap.password",
		"bootstrap-database": "bootstrap.database",
		"log-level":          "log.level",
	} {
		if f := fs.Lookup(flagName); f != nil && f.Changed {
			v.Set(key, f.Value.String())
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
