package authcore

import (
	"errors"
	"time"
)

// Config holds every Engine setting. Start from DefaultConfig and override
// fields; Build validates the result.
type Config struct {
	JWT      JWTConfig
	Session  SessionConfig
	Password PasswordConfig
	Tokens   TokenConfig
	Login    LoginConfig
	Dispatch DispatchConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
	Security SecurityConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls signing of the session token returned by Login.
type JWTConfig struct {
	SigningMethod string // "ed25519" (default), "hs256" optional
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
}

/*
====================================
SESSION CONFIG
====================================
*/

type SessionConfig struct {
	RedisPrefix string
	Lifetime    time.Duration
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds the password policy and Argon2id parameters.
type PasswordConfig struct {
	MinLength      int
	MaxLength      int
	Memory         uint32 // in KB
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	UpgradeOnLogin bool
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig sets the lifetime of single-use tokens per purpose.
type TokenConfig struct {
	RedisPrefix string
	ConfirmTTL  time.Duration
	ResetTTL    time.Duration
}

/*
====================================
LOGIN CONFIG
====================================
*/

type LoginConfig struct {
	// RequireConfirmed refuses logins of unconfirmed accounts with
	// ErrUnconfirmed. Off by default: unconfirmed accounts may log in.
	RequireConfirmed bool
}

/*
====================================
DISPATCH CONFIG
====================================
*/

// DispatchConfig shapes the delivery queue created when the builder is not
// given one.
type DispatchConfig struct {
	RedisPrefix string
	Shards      int
}

type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig holds the throttles. EnableIPThrottle applies to both the
// login and the instruction request throttle.
type SecurityConfig struct {
	EnableLoginThrottle bool
	EnableIPThrottle    bool
	MaxLoginAttempts    int
	LoginCooldown       time.Duration

	// EnableRequestThrottle caps confirmation and reset emails per address
	// (and per IP) within InstructionRequestWindow. Signup counts as one
	// confirmation request.
	EnableRequestThrottle    bool
	MaxInstructionRequests   int
	InstructionRequestWindow time.Duration
}

// DefaultConfig returns the baseline configuration.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			SigningMethod: "ed25519",
			Issuer:        "authcore",
		},
		Session: SessionConfig{
			RedisPrefix: "as",
			Lifetime:    14 * 24 * time.Hour,
		},
		Password: PasswordConfig{
			MinLength:      6,
			MaxLength:      128,
			Memory:         65536,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			UpgradeOnLogin: true,
		},
		Tokens: TokenConfig{
			RedisPrefix: "atk",
			ConfirmTTL:  72 * time.Hour,
			ResetTTL:    6 * time.Hour,
		},
		Login: LoginConfig{
			RequireConfirmed: false,
		},
		Dispatch: DispatchConfig{
			RedisPrefix: "dq",
			Shards:      8,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
		Security: SecurityConfig{
			EnableLoginThrottle: true,
			EnableIPThrottle:    false,
			MaxLoginAttempts:    10,
			LoginCooldown:       15 * time.Minute,

			EnableRequestThrottle:    true,
			MaxInstructionRequests:   5,
			InstructionRequestWindow: time.Hour,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	// JWT
	switch c.JWT.SigningMethod {
	case "ed25519":
		if len(c.JWT.PrivateKey) == 0 {
			return errors.New("ed25519 requires PrivateKey")
		}
	case "hs256":
		if len(c.JWT.PrivateKey) < 32 {
			return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
		}
	default:
		return errors.New("unsupported JWT signing method")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be between 0 and 2m")
	}

	// Session
	if c.Session.RedisPrefix == "" {
		return errors.New("Session RedisPrefix must be set")
	}
	if c.Session.Lifetime <= 0 {
		return errors.New("Session Lifetime must be > 0")
	}

	// Password
	if c.Password.MinLength < 1 {
		return errors.New("Password MinLength must be >= 1")
	}
	if c.Password.MaxLength < c.Password.MinLength {
		return errors.New("Password MaxLength must be >= MinLength")
	}
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}

	// Tokens
	if c.Tokens.RedisPrefix == "" {
		return errors.New("Tokens RedisPrefix must be set")
	}
	if c.Tokens.RedisPrefix == c.Session.RedisPrefix || c.Tokens.RedisPrefix == c.Dispatch.RedisPrefix {
		return errors.New("Tokens RedisPrefix must differ from Session and Dispatch prefixes")
	}
	if c.Tokens.ConfirmTTL <= 0 {
		return errors.New("Tokens ConfirmTTL must be > 0")
	}
	if c.Tokens.ResetTTL <= 0 {
		return errors.New("Tokens ResetTTL must be > 0")
	}

	// Dispatch
	if c.Dispatch.RedisPrefix == "" {
		return errors.New("Dispatch RedisPrefix must be set")
	}
	if c.Dispatch.Shards < 1 {
		return errors.New("Dispatch Shards must be >= 1")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}

	// Security
	if c.Security.EnableLoginThrottle {
		if c.Security.MaxLoginAttempts <= 0 {
			return errors.New("Security MaxLoginAttempts must be > 0")
		}
		if c.Security.LoginCooldown <= 0 {
			return errors.New("Security LoginCooldown must be > 0")
		}
	}
	if c.Security.EnableRequestThrottle {
		if c.Security.MaxInstructionRequests <= 0 {
			return errors.New("Security MaxInstructionRequests must be > 0")
		}
		if c.Security.InstructionRequestWindow <= 0 {
			return errors.New("Security InstructionRequestWindow must be > 0")
		}
	}

	return nil
}
