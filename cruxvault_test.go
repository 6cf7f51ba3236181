package cruxvault

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cruxvault/cruxvault/cipher"
	"github.com/cruxvault/cruxvault/secret"
	"github.com/cruxvault/cruxvault/vaultconfig"
)

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	key, err := cipher.GenerateKey()
	require.NoError(t, err)

	dir := t.TempDir()
	cfg := vaultconfig.Config{
		Storage: vaultconfig.StorageConfig{Path: dir + "/store.db"},
		Audit:   vaultconfig.AuditConfig{Enabled: true, Path: dir + "/audit.log"},
	}

	v, err := Open(cfg, key)
	require.NoError(t, err)
	t.Cleanup(func() { _ = v.Close() })
	return v
}

// S1: set then get round-trips the plaintext.
func TestScenarioSetGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	v := newTestVault(t)

	_, err := v.Secrets.Set(ctx, "db/password", "hunter2", secret.TypeSecret, []string{"prod"})
	require.NoError(t, err)

	got, err := v.Secrets.Get(ctx, "db/password")
	require.NoError(t, err)
	require.Equal(t, "hunter2", got.Value)
}

// S2: successive sets build a readable history.
func TestScenarioHistoryAccumulates(t *testing.T) {
	ctx := context.Background()
	v := newTestVault(t)

	_, err := v.Secrets.Set(ctx, "api/key", "v1", secret.TypeSecret, nil)
	require.NoError(t, err)
	_, err = v.Secrets.Set(ctx, "api/key", "v2", secret.TypeSecret, nil)
	require.NoError(t, err)
	_, err = v.Secrets.Set(ctx, "api/key", "v3", secret.TypeSecret, nil)
	require.NoError(t, err)

	history, err := v.Secrets.History(ctx, "api/key")
	require.NoError(t, err)
	require.Len(t, history, 3)
	require.Equal(t, "v3", history[0].Value)
}

// S3: rollback restores an earlier value as a new version.
func TestScenarioRollbackRestoresEarlierValue(t *testing.T) {
	ctx := context.Background()
	v := newTestVault(t)

	_, err := v.Secrets.Set(ctx, "feature/flag", "off", secret.TypeFlag, nil)
	require.NoError(t, err)
	_, err = v.Secrets.Set(ctx, "feature/flag", "on", secret.TypeFlag, nil)
	require.NoError(t, err)

	restored, err := v.Secrets.Rollback(ctx, "feature/flag", 1)
	require.NoError(t, err)
	require.Equal(t, "off", restored.Value)
	require.Equal(t, 3, restored.Version)
}

// S4: the value on disk is never the plaintext.
func TestScenarioEncryptionAtRest(t *testing.T) {
	ctx := context.Background()
	v := newTestVault(t)

	_, err := v.Secrets.Set(ctx, "db/password", "hunter2", secret.TypeSecret, nil)
	require.NoError(t, err)

	var encryptedValue string
	err = v.db.Raw().QueryRow(`SELECT encrypted_value FROM secrets WHERE path = ?`, "db/password").Scan(&encryptedValue)
	require.NoError(t, err)
	require.NotEqual(t, "hunter2", encryptedValue)
	require.NotContains(t, encryptedValue, "hunter2")
}

// S5: branch, commit, checkout round-trips a snapshot.
func TestScenarioBranchCommitCheckout(t *testing.T) {
	ctx := context.Background()
	v := newTestVault(t)
	require.NoError(t, v.EnsureMainBranch(ctx))

	_, err := v.Secrets.Set(ctx, "db/password", "v1", secret.TypeSecret, nil)
	require.NoError(t, err)
	_, err = v.VCS.Commit(ctx, "main", "initial secrets", "alice")
	require.NoError(t, err)

	_, err = v.VCS.CreateBranch(ctx, "feature", "main")
	require.NoError(t, err)
	require.NoError(t, v.VCS.CheckoutBranch(ctx, "feature"))

	_, err = v.Secrets.Set(ctx, "db/password", "v2-on-feature", secret.TypeSecret, nil)
	require.NoError(t, err)
	_, err = v.VCS.Commit(ctx, "feature", "update on feature", "bob")
	require.NoError(t, err)

	require.NoError(t, v.VCS.CheckoutBranch(ctx, "main"))
	got, err := v.Secrets.Get(ctx, "db/password")
	require.NoError(t, err)
	require.Equal(t, "v1", got.Value)

	require.NoError(t, v.VCS.CheckoutBranch(ctx, "feature"))
	got, err = v.Secrets.Get(ctx, "db/password")
	require.NoError(t, err)
	require.Equal(t, "v2-on-feature", got.Value)
}

// S6: merging two branches that changed the same path conflicts.
func TestScenarioMergeConflict(t *testing.T) {
	ctx := context.Background()
	v := newTestVault(t)
	require.NoError(t, v.EnsureMainBranch(ctx))

	_, err := v.Secrets.Set(ctx, "shared", "base", secret.TypeSecret, nil)
	require.NoError(t, err)
	_, err = v.VCS.Commit(ctx, "main", "baseline", "alice")
	require.NoError(t, err)

	_, err = v.VCS.CreateBranch(ctx, "feature", "main")
	require.NoError(t, err)
	require.NoError(t, v.VCS.CheckoutBranch(ctx, "feature"))
	_, err = v.Secrets.Set(ctx, "shared", "feature-value", secret.TypeSecret, nil)
	require.NoError(t, err)
	_, err = v.VCS.Commit(ctx, "feature", "change on feature", "bob")
	require.NoError(t, err)

	require.NoError(t, v.VCS.CheckoutBranch(ctx, "main"))
	_, err = v.Secrets.Set(ctx, "shared", "main-value", secret.TypeSecret, nil)
	require.NoError(t, err)
	_, err = v.VCS.Commit(ctx, "main", "change on main", "alice")
	require.NoError(t, err)

	result, err := v.VCS.Merge(ctx, "main", "feature")
	require.NoError(t, err)
	require.False(t, result.Merged)
	require.Len(t, result.Conflicts, 1)
	require.Equal(t, "shared", result.Conflicts[0].Path)
}
