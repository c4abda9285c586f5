package password

import (
	"errors"
	"strings"
	"testing"
)

func fastConfig() Config {
	return Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func newHasher(t *testing.T, cfg Config) *Argon2 {
	t.Helper()
	h, err := NewArgon2(cfg)
	if err != nil {
		t.Fatalf("NewArgon2 error: %v", err)
	}
	return h
}

func TestHashAndVerify(t *testing.T) {
	hasher := newHasher(t, fastConfig())

	hash, err := hasher.Hash("test12345")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected PHC prefix: %s", hash)
	}
	if strings.Contains(hash, "test12345") {
		t.Fatal("hash must not contain the plaintext")
	}

	ok, err := hasher.Verify("test12345", hash)
	if err != nil || !ok {
		t.Fatalf("expected verification to succeed: ok=%v err=%v", ok, err)
	}

	ok, err = hasher.Verify("test12346", hash)
	if err != nil || ok {
		t.Fatalf("expected wrong password to fail: ok=%v err=%v", ok, err)
	}
}

func TestHashAcceptsShortPasswords(t *testing.T) {
	// length policy is the caller's
	hasher := newHasher(t, fastConfig())
	if _, err := hasher.Hash("short"); err != nil {
		t.Fatalf("Hash error: %v", err)
	}
}

func TestHashRejectsEmptyAndOversized(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxPasswordBytes = 64
	hasher := newHasher(t, cfg)

	if _, err := hasher.Hash(""); !errors.Is(err, ErrEmptyPassword) {
		t.Fatalf("expected ErrEmptyPassword, got %v", err)
	}
	if _, err := hasher.Hash(strings.Repeat("a", 65)); !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("expected ErrPasswordTooLong, got %v", err)
	}
	if _, err := hasher.Hash(strings.Repeat("b", 64)); err != nil {
		t.Fatalf("expected exactly-max password to hash: %v", err)
	}
	if _, err := hasher.Verify(strings.Repeat("c", 65), "$argon2id$"); !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("expected Verify to reject oversized input, got %v", err)
	}
}

func TestDefaultMaxPasswordBytesApplied(t *testing.T) {
	hasher := newHasher(t, fastConfig())

	if _, err := hasher.Hash(strings.Repeat("d", DefaultMaxPasswordBytes+1)); err == nil {
		t.Fatalf("expected password > %d bytes to be rejected", DefaultMaxPasswordBytes)
	}
}

func TestNeedsUpgrade(t *testing.T) {
	oldHasher := newHasher(t, fastConfig())
	hash, err := oldHasher.Hash("password")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	stronger := fastConfig()
	stronger.Time = 2
	newHasher := newHasher(t, stronger)

	needs, err := newHasher.NeedsUpgrade(hash)
	if err != nil || !needs {
		t.Fatalf("expected upgrade for weaker hash: needs=%v err=%v", needs, err)
	}

	needs, err = oldHasher.NeedsUpgrade(hash)
	if err != nil || needs {
		t.Fatalf("expected no upgrade for current parameters: needs=%v err=%v", needs, err)
	}
}

func TestVerifyMalformedHash(t *testing.T) {
	hasher := newHasher(t, fastConfig())

	if _, err := hasher.Verify("password", "not-a-phc-hash"); err == nil {
		t.Fatal("expected malformed hash verification to fail")
	}

	hash, err := hasher.Hash("version-test")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	wrongVersion := strings.Replace(hash, "$v=19$", "$v=18$", 1)
	if _, err := hasher.Verify("version-test", wrongVersion); err == nil {
		t.Fatal("expected unsupported version verification to fail")
	}
}

func TestVerifyDummyDoesNotPanic(t *testing.T) {
	hasher := newHasher(t, fastConfig())
	hasher.VerifyDummy("anything")
	hasher.VerifyDummy("")
}

func TestNewArgon2RejectsWeakParameters(t *testing.T) {
	cases := []Config{
		{Memory: 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32},
		{Memory: 8192, Time: 0, Parallelism: 1, SaltLength: 16, KeyLength: 32},
		{Memory: 8192, Time: 1, Parallelism: 1, SaltLength: 8, KeyLength: 32},
		{Memory: 8192, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32, MaxPasswordBytes: -1},
	}
	for i, cfg := range cases {
		if _, err := NewArgon2(cfg); err == nil {
			t.Fatalf("case %d: expected config error", i)
		}
	}
}
