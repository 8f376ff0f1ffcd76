package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })
}

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
	require.NoError(t, cfg.Validate())
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deepmrm.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
model_dir: /opt/models
score_thresh: 0.2
workers: 4
tolerance: 0.5
tolerance_unit: da
`), 0o644))
	t.Setenv("DEEPMRM_WORKERS", "8")
	t.Setenv("DEEPMRM_USE_RT", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/opt/models", cfg.ModelDir)
	require.Equal(t, 0.2, cfg.ScoreThresh)
	require.Equal(t, 8, cfg.Workers)
	require.True(t, cfg.UseRT)
	require.Equal(t, "da", cfg.ToleranceUnit)
	require.Equal(t, 0.3, cfg.NMSThresh)
	require.NoError(t, cfg.Validate())
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	require.ErrorIs(t, err, os.ErrNotExist)

	path := filepath.Join(t.TempDir(), "bad.yml")
	require.NoError(t, os.WriteFile(path, []byte("workers: [1, 2\n"), 0o644))
	_, err = Load(path)
	require.Error(t, err)

	chdir(t, t.TempDir())
	t.Setenv("DEEPMRM_NMS_THRESH", "high")
	_, err = Load("")
	require.ErrorContains(t, err, "DEEPMRM_NMS_THRESH")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"score", func(c *Config) { c.ScoreThresh = 1.5 }},
		{"unit", func(c *Config) { c.ToleranceUnit = "mmu" }},
		{"workers", func(c *Config) { c.Workers = 0 }},
		{"background", func(c *Config) { c.Background = "median" }},
		{"model", func(c *Config) { c.ModelDir = "" }},
		{"level", func(c *Config) { c.LogLevel = "loud" }},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := Default()
			test.modify(&cfg)
			require.Error(t, cfg.Validate())
		})
	}

	cfg := Default()
	cfg.ToleranceUnit = "Da"
	cfg.Background = "MIN"
	require.NoError(t, cfg.Validate())
	require.Equal(t, "da", cfg.ToleranceUnit)
	require.Equal(t, "min", cfg.Background)
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("DEEPMRM_MODEL_DIR=/from/dotenv\n"), 0o644))
	t.Setenv("DEEPMRM_MODEL_DIR", "")
	os.Unsetenv("DEEPMRM_MODEL_DIR")

	require.NoError(t, LoadDotEnv(path))
	require.Equal(t, "/from/dotenv", os.Getenv("DEEPMRM_MODEL_DIR"))
	require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "none.env")))
}

func TestInitLogger(t *testing.T) {
	var buf bytes.Buffer
	log, err := InitLogger(&buf, "warn", true)
	require.NoError(t, err)
	require.Equal(t, logrus.WarnLevel, log.GetLevel())
	log.Info("hidden")
	log.WithField("peptide", "PEPTIDEK").Warn("shown")
	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), `"peptide":"PEPTIDEK"`)

	_, err = InitLogger(&buf, "loud", false)
	require.Error(t, err)
}
