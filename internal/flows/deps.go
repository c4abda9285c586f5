package flows

import (
	"context"
	"time"
)

// AccountRecord is the flow-local account model.
type AccountRecord struct {
	ID           string
	Email        string
	PasswordHash string
	Confirmed    bool
}

// TokenGrant is a freshly issued single-use token value and its expiry.
type TokenGrant struct {
	Value     string
	ExpiresAt time.Time
}

// AuditFunc emits one audit event. meta is evaluated only when auditing is on.
type AuditFunc func(ctx context.Context, event string, success bool, accountID, sessionID string, err error, meta func() map[string]string)

func noopAudit(context.Context, string, bool, string, string, error, func() map[string]string) {}

func noopMetric(int) {}

func noopWarn(string, ...any) {}
