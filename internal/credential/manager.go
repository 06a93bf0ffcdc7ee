// Package credential implements the Credential Store: per-scope (global,
// project) OAuth token records with expiry-aware lookup and refresh
// orchestration (spec §4, "Credential Store"). The happy path injects a
// token into the subprocess environment; the deprecated legacy path
// (legacy.go) swaps the LLM CLI's on-disk credentials file under an
// exclusive advisory lock and is kept only for compatibility.
package credential

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ralphx/ralphx/internal/config"
	"github.com/ralphx/ralphx/internal/domain"
	"github.com/ralphx/ralphx/pkg/apperrors"
	"github.com/ralphx/ralphx/pkg/safego"
)

const defaultAccountID = "default"

// Store is the subset of the Project Store the Credential Store needs.
type Store interface {
	FindCredential(ctx context.Context, accountID, projectDir string) (*domain.Credential, error)
	UpsertCredential(ctx context.Context, cred *domain.Credential) error
	ListCredentials(ctx context.Context) ([]*domain.Credential, error)
}

// Refresher exchanges a refresh token for a new access token. The OAuth
// browser flow that first mints a refresh token is out of scope (spec §1);
// this seam only covers the headless renewal a running loop needs.
type Refresher interface {
	Refresh(ctx context.Context, accountID, refreshToken string) (*domain.Credential, error)
}

// Manager resolves and refreshes credentials for one project. It keeps no
// cache: every ResolveToken call reads the store.
// It implements llmadapter.CredentialResolver.
type Manager struct {
	store      Store
	refresher  Refresher // nil disables refresh; stale tokens are used as-is until they expire
	cfg        config.CredentialConfig
	projectDir string
	logger     *zap.Logger
}

func NewManager(store Store, refresher Refresher, cfg config.CredentialConfig, projectDir string, logger *zap.Logger) *Manager {
	return &Manager{store: store, refresher: refresher, cfg: cfg, projectDir: projectDir, logger: logger}
}

// ResolveToken implements llmadapter.CredentialResolver: look up the most
// specific record for accountID, refreshing it first if it falls inside
// the refresh window, and failing with AUTH_REQUIRED if nothing usable
// exists (spec §7 "Auth").
func (m *Manager) ResolveToken(ctx context.Context, accountID string) (string, error) {
	if accountID == "" {
		accountID = defaultAccountID
	}

	cred, err := m.store.FindCredential(ctx, accountID, m.projectDir)
	if err != nil {
		return "", err
	}
	if cred == nil {
		return "", apperrors.NewAuthRequiredError("no credential record for account " + accountID)
	}

	if time.Until(cred.ExpiresAt) < m.cfg.RefreshWindow {
		refreshed, err := m.refresh(ctx, cred)
		switch {
		case err == nil:
			return refreshed.AccessToken, nil
		case time.Now().After(cred.ExpiresAt):
			return "", apperrors.NewAuthRequiredError("credential for account " + accountID + " expired and refresh failed: " + err.Error())
		default:
			if m.logger != nil {
				m.logger.Warn("credential refresh failed, using not-yet-expired token",
					zap.String("account_id", accountID), zap.Error(err))
			}
		}
	}

	return cred.AccessToken, nil
}

func (m *Manager) refresh(ctx context.Context, cred *domain.Credential) (*domain.Credential, error) {
	if m.refresher == nil || cred.RefreshToken == "" {
		return nil, apperrors.NewAuthRequiredError("no refresher configured for account " + cred.AccountID)
	}
	updated, err := m.refresher.Refresh(ctx, cred.AccountID, cred.RefreshToken)
	if err != nil {
		return nil, err
	}
	updated.AccountID = cred.AccountID
	updated.ProjectDir = cred.ProjectDir
	if err := m.store.UpsertCredential(ctx, updated); err != nil {
		return nil, err
	}
	return updated, nil
}

// RunBackgroundRefresh ticks every cfg.RefreshInterval, proactively
// refreshing every stored credential within the refresh window (spec §5
// "Token refresh every 30 minutes: refresh any credentials within 4h of
// expiry"). It blocks until ctx is canceled.
func (m *Manager) RunBackgroundRefresh(ctx context.Context) {
	interval := m.cfg.RefreshInterval
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			safego.Go(m.logger, "credential-refresh-sweep", func() { m.sweepDueCredentials(ctx) })
		}
	}
}

func (m *Manager) sweepDueCredentials(ctx context.Context) {
	creds, err := m.store.ListCredentials(ctx)
	if err != nil {
		if m.logger != nil {
			m.logger.Error("list credentials for refresh sweep", zap.Error(err))
		}
		return
	}
	for _, cred := range creds {
		if time.Until(cred.ExpiresAt) >= m.cfg.RefreshWindow {
			continue
		}
		if _, err := m.refresh(ctx, cred); err != nil && m.logger != nil {
			m.logger.Warn("background credential refresh failed",
				zap.String("account_id", cred.AccountID), zap.Error(err))
		}
	}
}
