package billing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nutricoach/mfaauth/credential"
	"github.com/nutricoach/mfaauth/store/gormstore"
)

type fakeClient struct {
	mu        sync.Mutex
	customers map[string]*Customer
	updates   map[string]map[string]string
	creates   int
	failWith  error
}

func newFakeClient() *fakeClient {
	return &fakeClient{customers: map[string]*Customer{}, updates: map[string]map[string]string{}}
}

func (f *fakeClient) FindCustomerByEmail(_ context.Context, email string) (*Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	return f.customers[email], nil
}

func (f *fakeClient) CreateCustomer(_ context.Context, email string, md map[string]string) (*Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	c := &Customer{ID: "cus_" + email, Email: email, Metadata: md}
	f.customers[email] = c
	return c, nil
}

func (f *fakeClient) UpdateCustomerMetadata(_ context.Context, id string, md map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates[id] = md
	return nil
}

func newTestStore(t *testing.T) *gormstore.Store {
	t.Helper()
	db, err := gormstore.OpenSQLite(":memory:", gormstore.Options{})
	require.NoError(t, err)
	return gormstore.New(db)
}

func seed(t *testing.T, s *gormstore.Store, tier string) *credential.Account {
	t.Helper()
	acc := &credential.Account{Email: "client@example.com", Role: "client", MFARequired: true, SubscriptionTier: tier}
	require.NoError(t, s.CreateAccount(context.Background(), acc))
	return acc
}

func TestSyncLocksPaidAccountWithoutMFAAndRevokesUnlocks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	acc := seed(t, s, "premium")
	require.NoError(t, s.GrantContentUnlock(ctx, acc.ID, "plan-1", true, time.Now()))
	require.NoError(t, s.GrantContentUnlock(ctx, acc.ID, "free-plan", false, time.Now()))

	client := newFakeClient()
	a := NewAdapter(client, s, s, Config{}, nil)

	res, err := a.SyncMFAState(ctx, acc.ID, acc.Email, false)
	require.NoError(t, err)
	assert.True(t, res.Synced)
	assert.True(t, res.PremiumLocked)
	assert.Equal(t, int64(1), res.RevokedGrants)
	assert.Equal(t, "cus_client@example.com", res.CustomerID)
	assert.Equal(t, "false", client.updates[res.CustomerID][MetadataMFAEnabled])

	got, _ := s.GetAccount(ctx, acc.ID)
	assert.True(t, got.PremiumLocked)
	assert.Equal(t, LockReasonMFARequired, got.PremiumLockReason)
	assert.Equal(t, res.CustomerID, got.BillingCustomerID)

	// A second sync while already locked does not revoke again.
	require.NoError(t, s.GrantContentUnlock(ctx, acc.ID, "plan-2", true, time.Now()))
	res, err = a.SyncMFAState(ctx, acc.ID, acc.Email, false)
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.RevokedGrants)
	assert.Equal(t, 1, client.creates, "stored customer id must be reused")
}

func TestSyncUnlocksWhenMFAActive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	acc := seed(t, s, "premium")
	_, _ = s.SetPremiumLock(ctx, acc.ID, true, LockReasonMFARequired)

	a := NewAdapter(newFakeClient(), s, s, Config{}, nil)
	res, err := a.SyncMFAState(ctx, acc.ID, acc.Email, true)
	require.NoError(t, err)
	assert.False(t, res.PremiumLocked)

	got, _ := s.GetAccount(ctx, acc.ID)
	assert.False(t, got.PremiumLocked)
	assert.Empty(t, got.PremiumLockReason)
}

func TestSyncFreeTierNeverLocked(t *testing.T) {
	s := newTestStore(t)
	acc := seed(t, s, "free")
	a := NewAdapter(nil, s, s, Config{}, nil)

	res, err := a.SyncMFAState(context.Background(), acc.ID, acc.Email, false)
	require.NoError(t, err)
	assert.False(t, res.PremiumLocked)
}

func TestSyncLocalOnlyWithoutClient(t *testing.T) {
	s := newTestStore(t)
	acc := seed(t, s, "premium")
	a := NewAdapter(nil, s, s, Config{}, nil)
	assert.False(t, a.RemoteEnabled())

	res, err := a.SyncMFAState(context.Background(), acc.ID, acc.Email, false)
	require.NoError(t, err)
	assert.False(t, res.Synced)
	assert.Empty(t, res.CustomerID)
	assert.True(t, res.PremiumLocked)
}

func TestSyncProviderFailureDegrades(t *testing.T) {
	s := newTestStore(t)
	acc := seed(t, s, "premium")
	client := newFakeClient()
	client.failWith = errors.New("provider down")
	a := NewAdapter(client, s, s, Config{}, nil)

	res, err := a.SyncMFAState(context.Background(), acc.ID, acc.Email, true)
	require.NoError(t, err)
	assert.False(t, res.Synced)
	assert.False(t, res.PremiumLocked)
}

func TestSyncUnknownAccountIsError(t *testing.T) {
	s := newTestStore(t)
	a := NewAdapter(nil, s, s, Config{}, nil)
	_, err := a.SyncMFAState(context.Background(), "missing", "", true)
	assert.ErrorIs(t, err, credential.ErrNotFound)
}

func TestSyncStampsInjectedClock(t *testing.T) {
	s := newTestStore(t)
	acc := seed(t, s, "premium")
	client := newFakeClient()
	at := time.Date(2026, 3, 14, 9, 30, 0, 0, time.FixedZone("CET", 3600))
	a := NewAdapter(client, s, s, Config{Now: func() time.Time { return at }}, nil)

	res, err := a.SyncMFAState(context.Background(), acc.ID, acc.Email, true)
	require.NoError(t, err)
	require.True(t, res.Synced)
	assert.Equal(t, "2026-03-14T08:30:00Z", client.updates[res.CustomerID][MetadataMFASyncedAt])
}

// gatedClient holds FindCustomerByEmail open until release is closed and
// records the context error it saw at that point.
type gatedClient struct {
	*fakeClient
	entered  chan struct{}
	release  chan struct{}
	once     sync.Once
	mu       sync.Mutex
	observed []error
}

func (g *gatedClient) FindCustomerByEmail(ctx context.Context, email string) (*Customer, error) {
	g.once.Do(func() { close(g.entered) })
	<-g.release
	g.mu.Lock()
	g.observed = append(g.observed, ctx.Err())
	g.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return g.fakeClient.FindCustomerByEmail(ctx, email)
}

func TestCustomerLookupOutlivesCanceledCaller(t *testing.T) {
	s := newTestStore(t)
	acc := seed(t, s, "premium")
	client := &gatedClient{fakeClient: newFakeClient(), entered: make(chan struct{}), release: make(chan struct{})}
	a := NewAdapter(client, s, s, Config{Timeout: 5 * time.Second}, nil)

	first, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = a.SyncMFAState(first, acc.ID, acc.Email, true)
	}()
	<-client.entered

	var second *Result
	var secondErr error
	go func() {
		defer wg.Done()
		second, secondErr = a.SyncMFAState(context.Background(), acc.ID, acc.Email, true)
	}()

	cancel()
	close(client.release)
	wg.Wait()

	require.NoError(t, secondErr)
	assert.True(t, second.Synced)
	assert.Equal(t, "cus_client@example.com", second.CustomerID)
	client.mu.Lock()
	defer client.mu.Unlock()
	for _, err := range client.observed {
		assert.NoError(t, err, "lookup must not inherit the first caller's cancellation")
	}
	assert.Equal(t, 1, client.creates)
}
