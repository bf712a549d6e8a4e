package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSecret(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "secret.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestResolveSecret_EnvOnly(t *testing.T) {
	t.Setenv("TEST_SECRET_ENV_ONLY", "env-value")

	value, err := ResolveSecret("TEST_SECRET_ENV_ONLY")
	require.NoError(t, err)
	assert.Equal(t, "env-value", value)
}

func TestResolveSecret_FileOnly(t *testing.T) {
	t.Setenv("TEST_SECRET_FILE_ONLY_FILE", writeSecret(t, "file-value\n"))

	value, err := ResolveSecret("TEST_SECRET_FILE_ONLY")
	require.NoError(t, err)
	assert.Equal(t, "file-value", value)
}

func TestResolveSecret_FileWinsOverEnv(t *testing.T) {
	t.Setenv("TEST_SECRET_FILE_WINS", "env-value")
	t.Setenv("TEST_SECRET_FILE_WINS_FILE", writeSecret(t, "file-value"))

	value, err := ResolveSecret("TEST_SECRET_FILE_WINS")
	require.NoError(t, err)
	assert.Equal(t, "file-value", value)
}

func TestResolveSecret_MissingFile(t *testing.T) {
	t.Setenv("TEST_SECRET_MISSING_FILE", "/nonexistent/path/secret.txt")

	_, err := ResolveSecret("TEST_SECRET_MISSING")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TEST_SECRET_MISSING_FILE")
}

func TestResolveSecret_NeitherSet(t *testing.T) {
	value, err := ResolveSecret("TEST_SECRET_NEVER_SET")
	require.NoError(t, err)
	assert.Empty(t, value)
}

func TestLoadCredentials(t *testing.T) {
	t.Setenv(EnvAdminUser, "admin")
	t.Setenv(EnvAdminPass+"_FILE", writeSecret(t, "s3cret\n"))
	t.Setenv(EnvOperatorUser, "")
	t.Setenv(EnvOperatorPass, "")

	c, err := LoadCredentials()
	require.NoError(t, err)
	assert.Equal(t, "admin", c.AdminUser)
	assert.Equal(t, "s3cret", c.AdminPass)
	assert.True(t, c.AuthEnabled())
}

func TestLoadCredentials_Incomplete(t *testing.T) {
	t.Setenv(EnvAdminUser, "")
	t.Setenv(EnvAdminPass, "")
	t.Setenv(EnvOperatorUser, "op")
	t.Setenv(EnvOperatorPass, "")

	_, err := LoadCredentials()
	assert.Error(t, err)
}

func TestLoadCredentials_None(t *testing.T) {
	for _, env := range []string{EnvAdminUser, EnvAdminPass, EnvOperatorUser, EnvOperatorPass} {
		t.Setenv(env, "")
	}
	c, err := LoadCredentials()
	require.NoError(t, err)
	assert.False(t, c.AuthEnabled())
}
