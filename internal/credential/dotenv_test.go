package credential

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBootstrapFromDotenv_SeedsGlobalCredential(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("RALPHX_OAUTH_TOKEN=tok-123\nRALPHX_ACCOUNT_ID=dev\n"), 0600))

	store := newFakeStore()
	cred, err := BootstrapFromDotenv(context.Background(), store, envPath)
	require.NoError(t, err)
	require.NotNil(t, cred)
	require.Equal(t, "dev", cred.AccountID)
	require.Equal(t, "tok-123", cred.AccessToken)

	found, err := store.FindCredential(context.Background(), "dev", "")
	require.NoError(t, err)
	require.Equal(t, "tok-123", found.AccessToken)
}

func TestBootstrapFromDotenv_MissingFileIsNoop(t *testing.T) {
	store := newFakeStore()
	cred, err := BootstrapFromDotenv(context.Background(), store, filepath.Join(t.TempDir(), "absent.env"))
	require.NoError(t, err)
	require.Nil(t, cred)
}
