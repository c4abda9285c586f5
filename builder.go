package authcore

import (
	"errors"
	"time"

	"github.com/ofn-labs/authcore/dispatch"
	internalaudit "github.com/ofn-labs/authcore/internal/audit"
	"github.com/ofn-labs/authcore/internal/limiters"
	"github.com/ofn-labs/authcore/internal/rate"
	"github.com/ofn-labs/authcore/internal/stores"
	"github.com/ofn-labs/authcore/jwt"
	"github.com/ofn-labs/authcore/password"
	"github.com/ofn-labs/authcore/session"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Builder assembles an Engine. A Builder is single use.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	accounts  AccountProvider
	queue     JobQueue
	auditSink AuditSink
	logger    *zap.Logger

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client backing sessions, tokens, the login throttle and,
// unless WithQueue is used, the delivery queue.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithAccountProvider(p AccountProvider) *Builder {
	b.accounts = p
	return b
}

// WithQueue replaces the Redis delivery queue the Engine would otherwise
// create from Config.Dispatch.
func (b *Builder) WithQueue(q JobQueue) *Builder {
	b.queue = q
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.accounts == nil {
		return nil, errors.New("account provider required")
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	engine := &Engine{
		config:       cloneConfig(cfg),
		accounts:     b.accounts,
		tokens:       stores.NewTokenStore(b.redis, cfg.Tokens.RedisPrefix),
		sessionStore: session.NewStore(b.redis, cfg.Session.RedisPrefix),
		queue:        b.queue,
		metrics:      NewMetrics(cfg.Metrics),
		logger:       logger.Named("authcore"),
		now:          time.Now,
	}

	if engine.queue == nil {
		engine.queue = dispatch.NewQueue(b.redis, dispatch.Config{
			Prefix: cfg.Dispatch.RedisPrefix,
			Shards: cfg.Dispatch.Shards,
		})
	}

	if cfg.Security.EnableLoginThrottle {
		engine.rateLimiter = rate.New(b.redis, rate.Config{
			EnableIPThrottle:      cfg.Security.EnableIPThrottle,
			MaxLoginAttempts:      cfg.Security.MaxLoginAttempts,
			LoginCooldownDuration: cfg.Security.LoginCooldown,
		})
	}

	if cfg.Security.EnableRequestThrottle {
		engine.requestLimiter = limiters.NewRequestLimiter(b.redis, limiters.RequestConfig{
			EnableIPThrottle: cfg.Security.EnableIPThrottle,
			MaxRequests:      cfg.Security.MaxInstructionRequests,
			Window:           cfg.Security.InstructionRequestWindow,
		})
	}

	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)

	ph, err := password.NewArgon2(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		engine.Close()
		return nil, err
	}
	engine.passwordHash = ph

	jm, err := jwt.NewManager(jwt.Config{
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
	})
	if err != nil {
		engine.Close()
		return nil, err
	}
	engine.jwtManager = jm

	b.built = true

	return engine, nil
}
