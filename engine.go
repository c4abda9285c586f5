package authcore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ofn-labs/authcore/dispatch"
	"github.com/ofn-labs/authcore/internal"
	internalaudit "github.com/ofn-labs/authcore/internal/audit"
	internalflows "github.com/ofn-labs/authcore/internal/flows"
	"github.com/ofn-labs/authcore/internal/limiters"
	"github.com/ofn-labs/authcore/internal/rate"
	"github.com/ofn-labs/authcore/internal/stores"
	"github.com/ofn-labs/authcore/jwt"
	"github.com/ofn-labs/authcore/password"
	"github.com/ofn-labs/authcore/session"
	"github.com/samber/oops"
	"go.uber.org/zap"
)

// Engine runs the account workflows: login, signup, confirmation and
// password reset. Build one with New().…Build(); it is safe for concurrent
// use and should be closed on shutdown to flush audit events.
type Engine struct {
	config         Config
	accounts       AccountProvider
	tokens         *stores.TokenStore
	sessionStore   *session.Store
	rateLimiter    *rate.Limiter
	requestLimiter *limiters.RequestLimiter
	queue          JobQueue
	audit          *internalaudit.Dispatcher
	metrics        *Metrics
	passwordHash   *password.Argon2
	jwtManager     *jwt.Manager
	logger         *zap.Logger
	now            func() time.Time
}

// Close flushes pending audit events. It does not close the Redis client or
// the account provider.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
	_ = e.logger.Sync()
}

// AuditDropped reports how many audit events were dropped because the buffer
// was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a point-in-time copy of the engine's counters and histograms.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Queue returns the job queue deliveries are handed to.
func (e *Engine) Queue() JobQueue {
	if e == nil {
		return nil
	}
	return e.queue
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) metricObserve(id MetricID, d time.Duration) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Observe(id, d)
}

func (e *Engine) warn(msg string, kv ...any) {
	if e == nil || e.logger == nil {
		return
	}
	e.logger.Sugar().Warnw(msg, kv...)
}

// Login verifies email and password and opens a session. Unknown emails and
// wrong passwords both return ErrInvalidCredentials. Unconfirmed accounts may
// log in unless Config.Login.RequireConfirmed is set.
func (e *Engine) Login(ctx context.Context, email, password string) (*Session, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	result, err := internalflows.RunLogin(ctx, normalizeEmail(email), password, e.loginFlowDeps())
	if err != nil {
		return nil, err
	}
	return &Session{
		ID:        result.SessionID,
		AccountID: result.AccountID,
		Token:     result.Token,
		CreatedAt: result.CreatedAt,
		ExpiresAt: result.ExpiresAt,
	}, nil
}

// ValidateSession resolves a session token returned by Login. Unknown,
// expired, revoked and tampered tokens return ErrSessionInvalid.
func (e *Engine) ValidateSession(ctx context.Context, token string) (*Session, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	view, err := internalflows.RunValidateSession(ctx, token, e.sessionFlowDeps())
	if err != nil {
		return nil, err
	}
	return &Session{
		ID:        view.SessionID,
		AccountID: view.AccountID,
		Token:     token,
		CreatedAt: view.CreatedAt,
		ExpiresAt: view.ExpiresAt,
	}, nil
}

// Logout ends the session named by token.
func (e *Engine) Logout(ctx context.Context, token string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	return internalflows.RunLogout(ctx, token, e.sessionFlowDeps())
}

// LogoutAll ends every session of an account and reports how many ended.
func (e *Engine) LogoutAll(ctx context.Context, accountID string) (int, error) {
	if e == nil || e.sessionStore == nil {
		return 0, ErrEngineNotReady
	}
	n, err := e.sessionStore.DeleteAllForAccount(ctx, accountID)
	if err != nil {
		return 0, e.unavailable("SESSION_STORE_UNAVAILABLE", err)
	}
	if n > 0 {
		e.metricInc(MetricSessionInvalidated)
		e.emitAudit(ctx, auditEventSessionsRevoked, true, accountID, "", nil, func() map[string]string {
			return map[string]string{"reason": "logout_all"}
		})
	}
	return n, nil
}

func (e *Engine) loginFlowDeps() internalflows.LoginDeps {
	deps := internalflows.LoginDeps{
		RequireConfirmed:       e.config.Login.RequireConfirmed,
		PasswordUpgradeOnLogin: e.config.Password.UpgradeOnLogin,
		ClientIPFromContext:    clientIPFromContext,
		GetAccountByEmail:      e.accountByEmail,
		UpdatePasswordHash:     e.updatePasswordHash,
		VerifyPassword:         e.passwordHash.Verify,
		VerifyDummy:            e.passwordHash.VerifyDummy,
		PasswordNeedsUpgrade:   e.passwordHash.NeedsUpgrade,
		HashPassword:           e.passwordHash.Hash,
		CreateSession:          e.createSession,
		MetricInc: func(id int) {
			e.metricInc(MetricID(id))
		},
		EmitAudit: e.emitAudit,
		Warn:      e.warn,
		Metrics: internalflows.LoginMetrics{
			LoginSuccess:     int(MetricLoginSuccess),
			LoginFailure:     int(MetricLoginFailure),
			LoginRateLimited: int(MetricLoginRateLimited),
			LoginUnconfirmed: int(MetricLoginUnconfirmed),
			SessionCreated:   int(MetricSessionCreated),
		},
		Events: internalflows.LoginEvents{
			LoginSuccess:     auditEventLoginSuccess,
			LoginFailure:     auditEventLoginFailure,
			LoginRateLimited: auditEventLoginRateLimited,
		},
		Errors: internalflows.LoginErrors{
			EngineNotReady:     ErrEngineNotReady,
			InvalidCredentials: ErrInvalidCredentials,
			RateLimited:        ErrRateLimited,
			Unconfirmed:        ErrUnconfirmed,
			AccountNotFound:    ErrAccountNotFound,
		},
	}
	if e.rateLimiter != nil && e.config.Security.EnableLoginThrottle {
		deps.CheckLoginRate = func(ctx context.Context, email, ip string) error {
			return e.mapLimiterError(e.rateLimiter.CheckLogin(ctx, email, ip))
		}
		deps.IncrementLoginRate = func(ctx context.Context, email, ip string) error {
			return e.mapLimiterError(e.rateLimiter.IncrementLogin(ctx, email, ip))
		}
		deps.ResetLoginRate = func(ctx context.Context, email, ip string) error {
			return e.mapLimiterError(e.rateLimiter.ResetLogin(ctx, email, ip))
		}
	}
	return deps
}

func (e *Engine) sessionFlowDeps() internalflows.SessionDeps {
	return internalflows.SessionDeps{
		ParseToken: func(token string) (string, string, error) {
			claims, err := e.jwtManager.ParseSession(token)
			if err != nil {
				return "", "", err
			}
			if _, err := internal.ParseSessionID(claims.SID); err != nil {
				return "", "", err
			}
			return claims.SID, claims.Subject, nil
		},
		LoadSession: func(ctx context.Context, sid string) (internalflows.SessionView, error) {
			sess, err := e.sessionStore.Get(ctx, sid)
			if err != nil {
				if errors.Is(err, session.ErrSessionNotFound) {
					return internalflows.SessionView{}, ErrSessionInvalid
				}
				return internalflows.SessionView{}, e.unavailable("SESSION_STORE_UNAVAILABLE", err)
			}
			return internalflows.SessionView{
				SessionID: sess.SessionID,
				AccountID: sess.AccountID,
				CreatedAt: time.Unix(sess.CreatedAt, 0).UTC(),
				ExpiresAt: time.Unix(sess.ExpiresAt, 0).UTC(),
			}, nil
		},
		DeleteSession: func(ctx context.Context, sid string) error {
			if err := e.sessionStore.Delete(ctx, sid); err != nil {
				return e.unavailable("SESSION_STORE_UNAVAILABLE", err)
			}
			return nil
		},
		Now:     e.now,
		Observe: func(id int, d time.Duration) { e.metricObserve(MetricID(id), d) },
		MetricInc: func(id int) {
			e.metricInc(MetricID(id))
		},
		EmitAudit: e.emitAudit,
		Metrics: internalflows.SessionMetrics{
			Logout:          int(MetricLogout),
			ValidateLatency: int(MetricValidateLatency),
		},
		Events: internalflows.SessionEvents{
			Logout: auditEventLogout,
		},
		Errors: internalflows.SessionErrors{
			EngineNotReady: ErrEngineNotReady,
			SessionInvalid: ErrSessionInvalid,
		},
	}
}

// createSession stores a new session record and signs the token that
// refers to it.
func (e *Engine) createSession(ctx context.Context, account internalflows.AccountRecord) (*internalflows.LoginResult, error) {
	sid, err := internal.NewSessionID()
	if err != nil {
		return nil, oops.Code("SESSION_ID_FAILED").Wrap(err)
	}

	now := e.now().UTC()
	lifetime := e.config.Session.Lifetime
	expiresAt := now.Add(lifetime)

	sess := &session.Session{
		SessionID: sid.String(),
		AccountID: account.ID,
		IPHash:    internal.HashIP(clientIPFromContext(ctx)),
		CreatedAt: now.Unix(),
		ExpiresAt: expiresAt.Unix(),
	}
	if err := e.sessionStore.Save(ctx, sess, lifetime); err != nil {
		return nil, e.unavailable("SESSION_STORE_UNAVAILABLE", err)
	}

	token, err := e.jwtManager.CreateSession(account.ID, sess.SessionID, expiresAt)
	if err != nil {
		if delErr := e.sessionStore.Delete(context.WithoutCancel(ctx), sess.SessionID); delErr != nil {
			e.warn("authcore: session cleanup after signing failure", "error", delErr)
		}
		return nil, oops.Code("SESSION_SIGN_FAILED").Wrap(err)
	}

	return &internalflows.LoginResult{
		AccountID: account.ID,
		SessionID: sess.SessionID,
		Token:     token,
		CreatedAt: now,
		ExpiresAt: expiresAt,
	}, nil
}

func (e *Engine) mapLimiterError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, rate.ErrRateLimited):
		return ErrRateLimited
	default:
		return e.unavailable("RATE_LIMITER_UNAVAILABLE", err)
	}
}

// unavailable wraps an infrastructure failure so that it matches
// ErrUnavailable and carries a stable oops code.
func (e *Engine) unavailable(code string, err error) error {
	return oops.Code(code).Wrap(fmt.Errorf("%w: %w", ErrUnavailable, err))
}

func toAccountRecord(a Account) internalflows.AccountRecord {
	return internalflows.AccountRecord{
		ID:           a.ID,
		Email:        a.Email,
		PasswordHash: a.PasswordHash,
		Confirmed:    a.Status == AccountConfirmed,
	}
}

func (e *Engine) enqueue(ctx context.Context, kind dispatch.Kind, account internalflows.AccountRecord, grant internalflows.TokenGrant) (dispatch.Handle, error) {
	handle, err := e.queue.Enqueue(ctx, dispatch.Job{
		Kind:           kind,
		AccountID:      account.ID,
		Email:          account.Email,
		Token:          grant.Value,
		TokenExpiresAt: grant.ExpiresAt,
	})
	if err != nil {
		return dispatch.Handle{}, oops.Code("DISPATCH_FAILED").
			With("kind", string(kind)).
			With("account_id", account.ID).
			Wrap(fmt.Errorf("%w: %w", ErrDispatch, err))
	}
	e.metricInc(MetricDispatchEnqueued)
	return handle, nil
}
