package credential

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"github.com/ralphx/ralphx/internal/domain"
)

const (
	envOAuthToken  = "RALPHX_OAUTH_TOKEN"
	envRefreshTok  = "RALPHX_REFRESH_TOKEN"
	envAccountID   = "RALPHX_ACCOUNT_ID"
	bootstrapTTL   = 24 * time.Hour // dev-seeded tokens aren't expiry-tracked upstream; assume a generous window
)

// BootstrapFromDotenv seeds the global-scope credential from a .env file
// for local development, when no OAuth browser flow is wired up. No command
// calls it on its own; config.CredentialConfig.DotenvBootstrap is not
// consulted. It is a no-op, returning (nil, nil), when
// envPath doesn't exist or carries no token.
func BootstrapFromDotenv(ctx context.Context, store Store, envPath string) (*domain.Credential, error) {
	if _, err := os.Stat(envPath); err != nil {
		return nil, nil
	}
	vars, err := godotenv.Read(envPath)
	if err != nil {
		return nil, err
	}

	token := vars[envOAuthToken]
	if token == "" {
		return nil, nil
	}
	accountID := vars[envAccountID]
	if accountID == "" {
		accountID = defaultAccountID
	}

	cred := &domain.Credential{
		AccountID:    accountID,
		AccessToken:  token,
		RefreshToken: vars[envRefreshTok],
		ExpiresAt:    time.Now().UTC().Add(bootstrapTTL),
	}
	if err := store.UpsertCredential(ctx, cred); err != nil {
		return nil, err
	}
	return cred, nil
}

// DefaultDotenvPath is the conventional bootstrap file location relative
// to a project directory: <projectDir>/.ralphx/.env.
func DefaultDotenvPath(projectDir string) string {
	return filepath.Join(projectDir, ".ralphx", ".env")
}
