package session

// Session is the stored record behind an opaque session reference.
type Session struct {
	SessionID string
	AccountID string
	IPHash    [32]byte

	CreatedAt int64
	ExpiresAt int64
}
