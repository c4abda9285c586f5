package authcore

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/ofn-labs/authcore/dispatch"
	"github.com/redis/go-redis/v9"
)

type mockAccountProvider struct {
	mu       sync.Mutex
	accounts map[string]Account
	byEmail  map[string]string

	getErr    error
	createErr error
	updateErr error

	createCalls int
	deleteCalls int
}

func newMockAccountProvider() *mockAccountProvider {
	return &mockAccountProvider{
		accounts: map[string]Account{},
		byEmail:  map[string]string{},
	}
}

func (m *mockAccountProvider) GetAccountByEmail(_ context.Context, email string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return Account{}, m.getErr
	}
	id, ok := m.byEmail[strings.ToLower(email)]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return m.accounts[id], nil
}

func (m *mockAccountProvider) GetAccountByID(_ context.Context, accountID string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return Account{}, m.getErr
	}
	a, ok := m.accounts[accountID]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return a, nil
}

func (m *mockAccountProvider) CreateAccount(_ context.Context, input CreateAccountInput) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++
	if m.createErr != nil {
		return Account{}, m.createErr
	}
	key := strings.ToLower(input.Email)
	if _, ok := m.byEmail[key]; ok {
		return Account{}, ErrDuplicate
	}
	a := Account{
		ID:           uuid.NewString(),
		Email:        input.Email,
		PasswordHash: input.PasswordHash,
		Status:       AccountUnconfirmed,
		CreatedAt:    time.Now().UTC(),
	}
	m.accounts[a.ID] = a
	m.byEmail[key] = a.ID
	return a, nil
}

func (m *mockAccountProvider) UpdatePasswordHash(_ context.Context, accountID, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	a, ok := m.accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	a.PasswordHash = hash
	m.accounts[accountID] = a
	return nil
}

func (m *mockAccountProvider) MarkConfirmed(_ context.Context, accountID string, at time.Time) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[accountID]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	if a.Status != AccountConfirmed {
		a.Status = AccountConfirmed
		a.ConfirmedAt = &at
		m.accounts[accountID] = a
	}
	return a, nil
}

func (m *mockAccountProvider) DeleteAccount(_ context.Context, accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteCalls++
	a, ok := m.accounts[accountID]
	if !ok {
		return nil
	}
	delete(m.byEmail, strings.ToLower(a.Email))
	delete(m.accounts, accountID)
	return nil
}

// seed stores an account directly, bypassing signup.
func (m *mockAccountProvider) seed(t *testing.T, e *Engine, email, password string, status AccountStatus) Account {
	t.Helper()

	hash, err := e.passwordHash.Hash(password)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	a := Account{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		Status:       status,
		CreatedAt:    time.Now().UTC(),
	}
	m.accounts[a.ID] = a
	m.byEmail[strings.ToLower(email)] = a.ID
	return a
}

func (m *mockAccountProvider) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.accounts)
}

// recordingQueue keeps enqueued jobs in memory.
type recordingQueue struct {
	mu   sync.Mutex
	jobs []dispatch.Job
	err  error
}

func (q *recordingQueue) Enqueue(_ context.Context, job dispatch.Job) (dispatch.Handle, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return dispatch.Handle{}, q.err
	}
	job.ID = uuid.NewString()
	q.jobs = append(q.jobs, job)
	return dispatch.Handle{ID: job.ID, Kind: job.Kind}, nil
}

func (q *recordingQueue) Jobs() []dispatch.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]dispatch.Job, len(q.jobs))
	copy(out, q.jobs)
	return out
}

func (q *recordingQueue) last(t *testing.T) dispatch.Job {
	t.Helper()
	jobs := q.Jobs()
	if len(jobs) == 0 {
		t.Fatal("expected a queued job")
	}
	return jobs[len(jobs)-1]
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Security.MaxLoginAttempts = 5
	cfg.Security.LoginCooldown = time.Minute
	cfg.Metrics.Enabled = true
	return cfg
}

type testEngine struct {
	*Engine
	mr       *miniredis.Miniredis
	rdb      *redis.Client
	accounts *mockAccountProvider
	queue    *recordingQueue
}

func newTestEngine(t *testing.T, mutate func(*Config)) *testEngine {
	t.Helper()

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	mr, rdb := newTestRedis(t)
	accounts := newMockAccountProvider()
	queue := &recordingQueue{}

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithAccountProvider(accounts).
		WithQueue(queue).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return &testEngine{Engine: engine, mr: mr, rdb: rdb, accounts: accounts, queue: queue}
}

var errBoom = errors.New("boom")
