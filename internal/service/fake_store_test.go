package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/faucetdb/keysmith/internal/config"
	"github.com/faucetdb/keysmith/internal/model"
)

// fakeStore is an in-memory CredentialStore with failure injection.
type fakeStore struct {
	mu     sync.Mutex
	users  map[int64]*model.User
	keys   map[int64]*model.APIKey
	tokens map[string]*model.AccessToken
	usage  []model.UsageLogEntry
	nextID int64

	calls map[string]int

	// failures maps a method name to the number of times it should fail
	// with errFakeStore before succeeding again.
	failures map[string]int
	// block makes the named method wait for its context to end.
	block map[string]bool
	// beforeRotate runs inside RotateAPIKey before the store is changed.
	beforeRotate func(oldID int64)
}

var errFakeStore = errors.New("fake store failure")

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:    make(map[int64]*model.User),
		keys:     make(map[int64]*model.APIKey),
		tokens:   make(map[string]*model.AccessToken),
		calls:    make(map[string]int),
		failures: make(map[string]int),
		block:    make(map[string]bool),
	}
}

func (f *fakeStore) enter(ctx context.Context, method string) error {
	f.mu.Lock()
	f.calls[method]++
	blocked := f.block[method]
	fail := f.failures[method] > 0
	if fail {
		f.failures[method]--
	}
	f.mu.Unlock()

	if blocked {
		<-ctx.Done()
		return ctx.Err()
	}
	if fail {
		return errFakeStore
	}
	return nil
}

func (f *fakeStore) callCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *fakeStore) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeStore) failNext(method string, times int) {
	f.mu.Lock()
	f.failures[method] = times
	f.mu.Unlock()
}

func (f *fakeStore) addUser(name string) *model.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	u := &model.User{ID: f.nextID, Username: name, Email: name + "@example.com"}
	f.users[u.ID] = u
	return u
}

func (f *fakeStore) key(id int64) model.APIKey {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.keys[id]
}

func (f *fakeStore) usageEntries() []model.UsageLogEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.UsageLogEntry, len(f.usage))
	copy(out, f.usage)
	return out
}

func (f *fakeStore) FindKeyByHash(ctx context.Context, keyHash string) (*model.APIKey, error) {
	if err := f.enter(ctx, "FindKeyByHash"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range f.keys {
		if k.KeyHash == keyHash {
			cp := *k
			cp.Scopes = k.Scopes.Clone()
			return &cp, nil
		}
	}
	return nil, config.ErrNotFound
}

func (f *fakeStore) IncrementUsage(ctx context.Context, keyID int64, at time.Time) error {
	if err := f.enter(ctx, "IncrementUsage"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	k, ok := f.keys[keyID]
	if !ok {
		return config.ErrNotFound
	}
	k.UsageCount++
	k.LastUsedAt = &at
	return nil
}

func (f *fakeStore) FindTokenRevocation(ctx context.Context, tokenHash string) (*model.TokenRevocation, error) {
	if err := f.enter(ctx, "FindTokenRevocation"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tokens[tokenHash]
	if !ok {
		return nil, config.ErrNotFound
	}
	return &model.TokenRevocation{TokenHash: t.TokenHash, IsRevoked: t.IsRevoked, ExpiresAt: t.ExpiresAt}, nil
}

func (f *fakeStore) InsertTokenRecord(ctx context.Context, tok *model.AccessToken) error {
	if err := f.enter(ctx, "InsertTokenRecord"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tokens[tok.TokenHash]; ok {
		return config.ErrConflict
	}
	f.nextID++
	tok.ID = f.nextID
	cp := *tok
	f.tokens[tok.TokenHash] = &cp
	return nil
}

func (f *fakeStore) RevokeToken(ctx context.Context, tokenHash string) (bool, error) {
	if err := f.enter(ctx, "RevokeToken"); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tokens[tokenHash]
	if !ok {
		return false, nil
	}
	t.IsRevoked = true
	return true, nil
}

func (f *fakeStore) AppendUsageLog(ctx context.Context, entry *model.UsageLogEntry) error {
	if err := f.enter(ctx, "AppendUsageLog"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.usage = append(f.usage, *entry)
	return nil
}

func (f *fakeStore) GetUser(ctx context.Context, id int64) (*model.User, error) {
	if err := f.enter(ctx, "GetUser"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, config.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeStore) CreateAPIKey(ctx context.Context, key *model.APIKey) error {
	if err := f.enter(ctx, "CreateAPIKey"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	key.ID = f.nextID
	cp := *key
	cp.Scopes = key.Scopes.Clone()
	f.keys[key.ID] = &cp
	return nil
}

func (f *fakeStore) RotateAPIKey(ctx context.Context, oldID int64, next *model.APIKey) error {
	if err := f.enter(ctx, "RotateAPIKey"); err != nil {
		return err
	}
	if f.beforeRotate != nil {
		f.beforeRotate(oldID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	old, ok := f.keys[oldID]
	if !ok || !old.IsActive {
		return config.ErrNotFound
	}
	old.IsActive = false
	f.nextID++
	next.ID = f.nextID
	cp := *next
	cp.Scopes = next.Scopes.Clone()
	f.keys[next.ID] = &cp
	return nil
}

// setKey mutates a stored key.
func (f *fakeStore) setKey(id int64, fn func(*model.APIKey)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f.keys[id])
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
