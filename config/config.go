// Package config loads server settings from defaults, an optional config
// file, a .env file and MDM_* environment variables, in increasing order of
// precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const EnvPrefix = "MDM"

type Config struct {
	HTTP  HTTPConfig
	DB    DBConfig
	Log   LogConfig
	Redis RedisConfig
	Lock  LockConfig
	CORS  CORSConfig
}

type HTTPConfig struct {
	Port int
}

func (c HTTPConfig) Addr() string { return fmt.Sprintf(":%d", c.Port) }

type DBConfig struct {
	// Path is a SQLite file path or ":memory:".
	Path string
}

type LogConfig struct {
	Mode string
}

// RedisConfig enables the distributed month lock when Addr is set.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func (c RedisConfig) Enabled() bool { return c.Addr != "" }

type LockConfig struct {
	TTL time.Duration
}

type CORSConfig struct {
	Origins []string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.port", 8080)
	v.SetDefault("db.path", "ledger.db")
	v.SetDefault("log.mode", "development")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("lock.ttl", 30*time.Second)
	v.SetDefault("cors.origins", []string{"*"})
}

// Load reads the configuration. file may be empty. A missing .env file is
// not an error.
func Load(file string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	cfg := Config{
		HTTP: HTTPConfig{Port: v.GetInt("http.port")},
		DB:   DBConfig{Path: v.GetString("db.path")},
		Log:  LogConfig{Mode: v.GetString("log.mode")},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Lock: LockConfig{TTL: v.GetDuration("lock.ttl")},
		CORS: CORSConfig{Origins: v.GetStringSlice("cors.origins")},
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port %d out of range", c.HTTP.Port)
	}
	if c.DB.Path == "" {
		return errors.New("db.path is required")
	}
	if c.Lock.TTL <= 0 {
		return fmt.Errorf("lock.ttl must be positive, got %s", c.Lock.TTL)
	}
	return nil
}
