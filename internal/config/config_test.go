package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentialsFor(t *testing.T) {
	cfg := &Config{
		LiveAppKey:     "live-key",
		LiveAppSecret:  "live-secret",
		LiveBaseURL:    DefaultLiveBaseURL,
		PaperAppKey:    "paper-key",
		PaperAppSecret: "paper-secret",
		PaperBaseURL:   DefaultPaperBaseURL,
	}

	live, err := cfg.CredentialsFor(EnvLive)
	require.NoError(t, err)
	assert.Equal(t, "live-key", live.AppKey)
	assert.Equal(t, DefaultLiveBaseURL, live.BaseURL)

	paper, err := cfg.CredentialsFor(EnvPaper)
	require.NoError(t, err)
	assert.Equal(t, "paper-key", paper.AppKey)
	assert.Equal(t, DefaultPaperBaseURL, paper.BaseURL)
}

func TestCredentialsForMissingNamesVariables(t *testing.T) {
	cfg := &Config{}

	_, err := cfg.CredentialsFor(EnvLive)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KIS_APP_KEY")
	assert.Contains(t, err.Error(), "KIS_APP_SECRET")

	_, err = cfg.CredentialsFor(EnvPaper)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MOK_KIS_APP_KEY")
}

func TestCredentialsForPartialPairIsMissing(t *testing.T) {
	cfg := &Config{LiveAppKey: "key-only"}

	_, err := cfg.CredentialsFor(EnvLive)
	assert.Error(t, err)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8090, cfg.Port)
	assert.Equal(t, DefaultLiveBaseURL, cfg.LiveBaseURL)
	assert.Equal(t, DefaultPaperBaseURL, cfg.PaperBaseURL)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("KIS_APP_KEY", "abc")
	t.Setenv("KIS_APP_SECRET", "def")
	t.Setenv("KIS_BASE_URL", "http://localhost:1234")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Port)
	assert.Equal(t, "http://localhost:1234", cfg.LiveBaseURL)

	creds, err := cfg.CredentialsFor(EnvLive)
	require.NoError(t, err)
	assert.Equal(t, "abc", creds.AppKey)
	assert.Equal(t, "def", creds.AppSecret)
}
