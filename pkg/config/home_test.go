package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withHome(t *testing.T, dir string) {
	t.Helper()
	ResetHome()
	t.Setenv(envHome, dir)
	t.Cleanup(ResetHome)
}

func TestGetHome_EnvVar(t *testing.T) {
	withHome(t, "/custom/path")
	assert.Equal(t, "/custom/path", GetHome())
}

func TestGetHome_FallbackIsNotEmpty(t *testing.T) {
	withHome(t, "")
	assert.NotEmpty(t, GetHome())
}

func TestGetHome_Cached(t *testing.T) {
	withHome(t, "/first")
	first := GetHome()

	t.Setenv(envHome, "/second")
	assert.Equal(t, first, GetHome())
}

func TestHomeSubdirectories(t *testing.T) {
	withHome(t, "/test/home")

	assert.Equal(t, filepath.Join("/test/home", "data"), GetDataDir())
	assert.Equal(t, filepath.Join("/test/home", "drivers", "android"), GetDriversDir("android"))
}

func TestGetHome_UsesExistingDirectory(t *testing.T) {
	withHome(t, t.TempDir())

	info, err := os.Stat(GetHome())
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestDefault_OutputsUnderDataDir(t *testing.T) {
	home := t.TempDir()
	withHome(t, home)

	cfg := Default()
	assert.Equal(t, filepath.Join(home, "data", "app-explorer.db"), cfg.Store.Path)
	assert.Equal(t, filepath.Join(home, "data", "report"), cfg.Report.Dir)

	t.Setenv("APP_EXPLORER_STORE_PATH", "elsewhere.db")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "elsewhere.db", cfg.Store.Path)
	assert.Equal(t, filepath.Join(home, "data", "report"), cfg.Report.Dir)
}
