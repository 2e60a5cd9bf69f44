package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsWhenNothingConfigured(t *testing.T) {
	t.Setenv(EnvLibPath, "")
	os.Unsetenv(EnvLibPath)
	t.Setenv(EnvGCGrowthFactor, "")
	os.Unsetenv(EnvGCGrowthFactor)

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "", cfg.LibPath)
	assert.Equal(t, 2.0, cfg.GCGrowthFactor)
}

func TestProjectFileLayer(t *testing.T) {
	dir := t.TempDir()
	data := "lib_path = \"/opt/lib\"\ngc_growth_factor = 3.5\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ProjectFile), []byte(data), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "/opt/lib", cfg.LibPath)
	assert.Equal(t, 3.5, cfg.GCGrowthFactor)
}

func TestEnvironmentWinsOverFile(t *testing.T) {
	dir := t.TempDir()
	data := "lib_path = \"/opt/lib\"\ngc_growth_factor = 3.5\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ProjectFile), []byte(data), 0o644))
	t.Setenv(EnvLibPath, "/env/lib")
	t.Setenv(EnvGCGrowthFactor, "4")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "/env/lib", cfg.LibPath)
	assert.Equal(t, 4.0, cfg.GCGrowthFactor)
}

func TestBadEnvValuesIgnored(t *testing.T) {
	t.Setenv(EnvGCGrowthFactor, "not-a-number")
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 2.0, cfg.GCGrowthFactor)

	t.Setenv(EnvGCGrowthFactor, "-1")
	cfg, err = Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 2.0, cfg.GCGrowthFactor, "a non-positive factor is rejected")
}

func TestMalformedProjectFileSurfacesError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ProjectFile), []byte("not toml ==="), 0o644))
	_, err := Load(dir)
	assert.Error(t, err)
}
