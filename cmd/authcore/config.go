package main

import (
	"fmt"
	"os"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/ofn-labs/authcore"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// appConfig is the merged result of the config file and command-line flags.
// Flags set explicitly win over the file; the file wins over flag defaults.
type appConfig struct {
	Redis struct {
		Addr     string `koanf:"addr"`
		Password string `koanf:"password"`
		DB       int    `koanf:"db"`
	} `koanf:"redis"`

	Database struct {
		DSN string `koanf:"dsn"`
	} `koanf:"database"`

	Log struct {
		Format string `koanf:"format"`
		Level  string `koanf:"level"`
	} `koanf:"log"`

	JWT struct {
		Method  string `koanf:"method"`
		Secret  string `koanf:"secret"`
		KeyFile string `koanf:"key_file"`
		Issuer  string `koanf:"issuer"`
	} `koanf:"jwt"`

	Login struct {
		RequireConfirmed bool `koanf:"require_confirmed"`
		MaxAttempts      int  `koanf:"max_attempts"`
	} `koanf:"login"`

	Dispatch struct {
		Shards int `koanf:"shards"`
	} `koanf:"dispatch"`

	Metrics struct {
		Addr string `koanf:"addr"`
	} `koanf:"metrics"`
}

// flagKeys maps flag names to config keys. Flags not listed here are not
// configuration.
var flagKeys = map[string]string{
	"redis-addr":         "redis.addr",
	"redis-password":     "redis.password",
	"redis-db":           "redis.db",
	"database":           "database.dsn",
	"log-format":         "log.format",
	"log-level":          "log.level",
	"jwt-method":         "jwt.method",
	"jwt-secret":         "jwt.secret",
	"jwt-key-file":       "jwt.key_file",
	"jwt-issuer":         "jwt.issuer",
	"require-confirmed":  "login.require_confirmed",
	"max-login-attempts": "login.max_attempts",
	"dispatch-shards":    "dispatch.shards",
	"metrics-addr":       "metrics.addr",
}

func registerConfigFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "YAML config file")
	fs.String("redis-addr", "localhost:6379", "redis address")
	fs.String("redis-password", "", "redis password")
	fs.Int("redis-db", 0, "redis database number")
	fs.String("database", "authcore.db", "account database: postgres:// URL or sqlite path")
	fs.String("log-format", "json", "log format (json or console)")
	fs.String("log-level", "info", "log level")
	fs.String("jwt-method", "hs256", "session token signing method (hs256 or ed25519)")
	fs.String("jwt-secret", "", "hs256 signing secret, at least 32 bytes")
	fs.String("jwt-key-file", "", "ed25519 private key file (PEM or raw)")
	fs.String("jwt-issuer", "authcore", "session token issuer")
	fs.Bool("require-confirmed", false, "refuse logins of unconfirmed accounts")
	fs.Int("max-login-attempts", 10, "failed logins allowed per window")
	fs.Int("dispatch-shards", 8, "delivery queue shards")
	fs.String("metrics-addr", "", "worker metrics listen address (empty disables)")
}

// loadConfig merges the file named by --config with the flags in fs.
func loadConfig(fs *pflag.FlagSet) (*appConfig, error) {
	k := koanf.New(".")

	path, err := fs.GetString("config")
	if err != nil {
		return nil, oops.Code("CONFIG_INVALID").Wrap(err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_INVALID").With("path", path).Wrap(err)
		}
	}

	provider := posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, interface{}) {
		key, ok := flagKeys[f.Name]
		if !ok {
			return "", nil
		}
		return key, posflag.FlagVal(fs, f)
	})
	if err := k.Load(provider, nil); err != nil {
		return nil, oops.Code("CONFIG_INVALID").Wrap(err)
	}

	var cfg appConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_INVALID").Wrap(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, oops.Code("CONFIG_INVALID").Wrap(err)
	}
	return &cfg, nil
}

func (c *appConfig) Validate() error {
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		return fmt.Errorf("log.format must be 'json' or 'console', got %q", c.Log.Format)
	}
	switch c.JWT.Method {
	case "hs256":
		if len(c.JWT.Secret) < 32 {
			return fmt.Errorf("jwt.secret must be at least 32 bytes for hs256")
		}
	case "ed25519":
		if c.JWT.KeyFile == "" {
			return fmt.Errorf("jwt.key_file is required for ed25519")
		}
	default:
		return fmt.Errorf("jwt.method must be 'hs256' or 'ed25519', got %q", c.JWT.Method)
	}
	return nil
}

// engineConfig translates the CLI settings onto authcore defaults.
func (c *appConfig) engineConfig() (authcore.Config, error) {
	cfg := authcore.DefaultConfig()
	cfg.JWT.SigningMethod = c.JWT.Method
	cfg.JWT.Issuer = c.JWT.Issuer
	switch c.JWT.Method {
	case "hs256":
		cfg.JWT.PrivateKey = []byte(c.JWT.Secret)
	case "ed25519":
		key, err := os.ReadFile(c.JWT.KeyFile)
		if err != nil {
			return cfg, oops.Code("CONFIG_INVALID").With("path", c.JWT.KeyFile).Wrap(err)
		}
		cfg.JWT.PrivateKey = key
	}
	cfg.Login.RequireConfirmed = c.Login.RequireConfirmed
	if c.Login.MaxAttempts > 0 {
		cfg.Security.MaxLoginAttempts = c.Login.MaxAttempts
	}
	if c.Dispatch.Shards > 0 {
		cfg.Dispatch.Shards = c.Dispatch.Shards
	}
	cfg.Metrics.Enabled = c.Metrics.Addr != ""
	cfg.Metrics.EnableLatencyHistograms = cfg.Metrics.Enabled
	cfg.Audit.Enabled = true
	cfg.JWT.Leeway = 30 * time.Second
	return cfg, nil
}

func newLogger(c *appConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, oops.Code("CONFIG_INVALID").With("level", c.Log.Level).Wrap(err)
	}

	zc := zap.NewProductionConfig()
	zc.EncoderConfig.TimeKey = "timestamp"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if c.Log.Format == "console" {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
