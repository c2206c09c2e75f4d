package paths

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeJoin(t *testing.T) {
	base := t.TempDir()

	got, err := SafeJoin(base, "audit_spool")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "audit_spool"), got)

	_, err = SafeJoin(base, "..", "etc")
	assert.Error(t, err)

	_, err = SafeJoin(base, "/etc/passwd")
	assert.Error(t, err)

	// Sibling sharing the prefix is still outside.
	_, err = SafeJoin(base, "..", filepath.Base(base)+"-evil")
	assert.Error(t, err)
}

func TestEnsureDirs(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, EnsureDirs(root))

	for _, sub := range []string{"config", "audit_spool"} {
		info, err := os.Stat(filepath.Join(root, sub))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv("LICENSE_DATA_ROOT", "/srv/lic")
	assert.Equal(t, "/srv/lic/config/default.yaml", ResolveConfigPath(""))
	assert.Equal(t, "x.yaml", ResolveConfigPath("x.yaml"))
}
