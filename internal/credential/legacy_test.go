package credential

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLegacyCredentialsFile_SwapAndRestoreExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "credentials.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"token":"original"}`), 0600))

	lf := NewLegacyCredentialsFile(path)
	restore, err := lf.Swap(context.Background(), []byte(`{"token":"swapped"}`))
	require.NoError(t, err)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, `{"token":"swapped"}`, string(got))

	require.NoError(t, restore())

	got, err = os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, `{"token":"original"}`, string(got))
}

func TestLegacyCredentialsFile_RestoreRemovesWhenFileDidNotExist(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "credentials.json")

	lf := NewLegacyCredentialsFile(path)
	restore, err := lf.Swap(context.Background(), []byte(`{"token":"swapped"}`))
	require.NoError(t, err)

	_, err = os.Stat(path)
	require.NoError(t, err)

	require.NoError(t, restore())
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
}
