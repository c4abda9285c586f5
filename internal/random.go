package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
)

type SessionID [16]byte

const tokenSecretSize = 32

func NewSessionID() (SessionID, error) {
	var sid SessionID
	_, err := rand.Read(sid[:])
	return sid, err
}

func (s SessionID) String() string {
	// base64url, no padding, compact
	return base64.RawURLEncoding.EncodeToString(s[:])
}

func ParseSessionID(sessionID string) (SessionID, error) {
	var sid SessionID

	raw, err := base64.RawURLEncoding.DecodeString(sessionID)
	if err != nil {
		return sid, err
	}
	if len(raw) != len(sid) {
		return sid, errors.New("invalid session id size")
	}

	copy(sid[:], raw)
	return sid, nil
}

// NewToken returns a fresh opaque token value and the digest that is stored
// in its place.
func NewToken() (string, [32]byte, error) {
	var secret [tokenSecretSize]byte
	if _, err := rand.Read(secret[:]); err != nil {
		return "", [32]byte{}, err
	}
	value := base64.RawURLEncoding.EncodeToString(secret[:])
	return value, sha256.Sum256(secret[:]), nil
}

// HashToken recomputes the stored digest of a token value. Values that are not
// well-formed tokens are rejected without touching storage.
func HashToken(value string) ([32]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return [32]byte{}, err
	}
	if len(raw) != tokenSecretSize {
		return [32]byte{}, errors.New("invalid token size")
	}
	return sha256.Sum256(raw), nil
}

// HashIP returns the SHA-256 of ip, or the zero digest when ip is empty.
func HashIP(ip string) [32]byte {
	if ip == "" {
		return [32]byte{}
	}
	return sha256.Sum256([]byte(ip))
}
