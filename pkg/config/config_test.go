package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *SyncConfig {
	cfg := NewSyncConfig("actigraph-daily")
	cfg.Source.ClientID = "id"
	cfg.Source.ClientSecret = "secret"
	cfg.Source.StudyID = 42
	cfg.Source.SubjectID = 101
	cfg.Source.FromDate = "2024-01-01"
	cfg.Source.ToDate = "2024-12-31"
	cfg.Destination.Type = "s3"
	return cfg
}

func TestDefaultsPointAtProduction(t *testing.T) {
	cfg := NewSyncConfig("x")
	assert.Equal(t, "https://api.actigraphcorp.com/", cfg.Source.BaseURL)
	assert.Equal(t, "https://auth.actigraphcorp.com/connect/token", cfg.Source.TokenURL)
	assert.Equal(t, "CentrePoint DataAccess Analytics DataRetrieval", cfg.Source.Scope)
	assert.False(t, cfg.Source.FullReload)
	assert.Equal(t, 10000, cfg.Destination.BatchSize)
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidateRejectsMissingFields(t *testing.T) {
	cases := map[string]func(*SyncConfig){
		"name":          func(c *SyncConfig) { c.Name = "" },
		"client_id":     func(c *SyncConfig) { c.Source.ClientID = "" },
		"client_secret": func(c *SyncConfig) { c.Source.ClientSecret = "" },
		"study_id":      func(c *SyncConfig) { c.Source.StudyID = 0 },
		"subject_id":    func(c *SyncConfig) { c.Source.SubjectID = -1 },
		"from_date":     func(c *SyncConfig) { c.Source.FromDate = "" },
		"dest_type":     func(c *SyncConfig) { c.Destination.Type = "" },
		"batch_size":    func(c *SyncConfig) { c.Destination.BatchSize = 0 },
	}
	for name, mutate := range cases {
		cfg := validConfig()
		mutate(cfg)
		assert.Error(t, cfg.Validate(), "case %s", name)
	}
}

func TestLoadSubstitutesEnvironmentCredentials(t *testing.T) {
	t.Setenv("CENTREPOINT_CLIENT_ID", "env-client")
	t.Setenv("CENTREPOINT_CLIENT_SECRET", "env-secret")

	path := filepath.Join(t.TempDir(), "sync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: actigraph-daily
source:
  client_id: ${CENTREPOINT_CLIENT_ID}
  client_secret: ${CENTREPOINT_CLIENT_SECRET}
  study_id: 42
  subject_id: 101
  from_date: "2024-01-01"
  to_date: "2024-12-31"
destination:
  type: s3
  options:
    bucket: raw-sensor-data
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "env-client", cfg.Source.ClientID)
	assert.Equal(t, "env-secret", cfg.Source.ClientSecret)
	// Unset fields keep their defaults.
	assert.Equal(t, DefaultBaseURL, cfg.Source.BaseURL)
	assert.Equal(t, "raw-sensor-data", cfg.Destination.Options["bucket"])
	assert.NoError(t, cfg.Validate())
}

func TestSaveRefusesResolvedSecret(t *testing.T) {
	cfg := validConfig()
	err := Save(filepath.Join(t.TempDir(), "sync.yaml"), cfg)
	assert.Error(t, err)
}

func TestSaveKeepsPlaceholderSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.Source.ClientSecret = "${CENTREPOINT_CLIENT_SECRET}"

	path := filepath.Join(t.TempDir(), "sync.yaml")
	require.NoError(t, Save(path, cfg))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "${CENTREPOINT_CLIENT_SECRET}")
	assert.NotContains(t, string(data), "secret\n")
}

func TestWindowAndCredentialsDerivation(t *testing.T) {
	cfg := validConfig()
	cfg.Source.SettingID = "abc-123"

	w := cfg.Window()
	assert.Equal(t, 42, w.StudyID)
	assert.Equal(t, 101, w.SubjectID)
	assert.Equal(t, "abc-123", w.SettingID)

	creds := cfg.Credentials()
	assert.Equal(t, cfg.Source.TokenURL, creds.TokenURL)
	assert.Equal(t, "secret", creds.ClientSecret)
}
