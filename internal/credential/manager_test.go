package credential

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ralphx/ralphx/internal/config"
	"github.com/ralphx/ralphx/internal/domain"
)

type fakeStore struct {
	records map[string]*domain.Credential // key: accountID+"|"+projectDir
}

func newFakeStore() *fakeStore { return &fakeStore{records: map[string]*domain.Credential{}} }

func (f *fakeStore) key(accountID, projectDir string) string { return accountID + "|" + projectDir }

func (f *fakeStore) FindCredential(ctx context.Context, accountID, projectDir string) (*domain.Credential, error) {
	if projectDir != "" {
		if c, ok := f.records[f.key(accountID, projectDir)]; ok {
			return c, nil
		}
	}
	if c, ok := f.records[f.key(accountID, "")]; ok {
		return c, nil
	}
	return nil, nil
}

func (f *fakeStore) UpsertCredential(ctx context.Context, cred *domain.Credential) error {
	cp := *cred
	f.records[f.key(cred.AccountID, cred.ProjectDir)] = &cp
	return nil
}

func (f *fakeStore) ListCredentials(ctx context.Context) ([]*domain.Credential, error) {
	out := make([]*domain.Credential, 0, len(f.records))
	for _, c := range f.records {
		out = append(out, c)
	}
	return out, nil
}

type fakeRefresher struct {
	calls int
	next  *domain.Credential
	err   error
}

func (f *fakeRefresher) Refresh(ctx context.Context, accountID, refreshToken string) (*domain.Credential, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.next, nil
}

func testConfig() config.CredentialConfig {
	return config.CredentialConfig{RefreshWindow: time.Hour, RefreshInterval: time.Minute}
}

func TestResolveToken_NoRecordIsAuthRequired(t *testing.T) {
	m := NewManager(newFakeStore(), nil, testConfig(), "/proj", nil)
	_, err := m.ResolveToken(context.Background(), "")
	require.Error(t, err)
}

func TestResolveToken_ReturnsStoredTokenWhenFresh(t *testing.T) {
	store := newFakeStore()
	require.NoError(t, store.UpsertCredential(context.Background(), &domain.Credential{
		AccountID: defaultAccountID, AccessToken: "tok-1", ExpiresAt: time.Now().Add(24 * time.Hour),
	}))

	m := NewManager(store, nil, testConfig(), "/proj", nil)
	token, err := m.ResolveToken(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, "tok-1", token)
}

func TestResolveToken_RefreshesWithinWindow(t *testing.T) {
	store := newFakeStore()
	require.NoError(t, store.UpsertCredential(context.Background(), &domain.Credential{
		AccountID: defaultAccountID, AccessToken: "stale", RefreshToken: "refresh-1",
		ExpiresAt: time.Now().Add(time.Minute), // inside the 1h refresh window
	}))
	refresher := &fakeRefresher{next: &domain.Credential{AccessToken: "fresh", ExpiresAt: time.Now().Add(24 * time.Hour)}}

	m := NewManager(store, refresher, testConfig(), "/proj", nil)
	token, err := m.ResolveToken(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, "fresh", token)
	require.Equal(t, 1, refresher.calls)
}

func TestResolveToken_ProjectScopeTakesPrecedenceOverGlobal(t *testing.T) {
	store := newFakeStore()
	require.NoError(t, store.UpsertCredential(context.Background(), &domain.Credential{
		AccountID: defaultAccountID, AccessToken: "global-tok", ExpiresAt: time.Now().Add(24 * time.Hour),
	}))
	require.NoError(t, store.UpsertCredential(context.Background(), &domain.Credential{
		AccountID: defaultAccountID, ProjectDir: "/proj", AccessToken: "project-tok", ExpiresAt: time.Now().Add(24 * time.Hour),
	}))

	m := NewManager(store, nil, testConfig(), "/proj", nil)
	token, err := m.ResolveToken(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, "project-tok", token)
}

func TestResolveToken_ExpiredWithFailedRefreshIsAuthRequired(t *testing.T) {
	store := newFakeStore()
	require.NoError(t, store.UpsertCredential(context.Background(), &domain.Credential{
		AccountID: defaultAccountID, AccessToken: "expired", RefreshToken: "r",
		ExpiresAt: time.Now().Add(-time.Minute),
	}))
	m := NewManager(store, nil, testConfig(), "/proj", nil) // nil refresher: refresh always fails
	_, err := m.ResolveToken(context.Background(), "")
	require.Error(t, err)
}
