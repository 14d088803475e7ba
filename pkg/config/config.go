// Package config provides the configuration surface for centrepoint-sync.
//
// A single SyncConfig structure describes one sync invocation end to end:
// where to authenticate, which study/subject/date window to fetch, where the
// records go, and where cursor state lives between runs. The orchestrator
// constructs it explicitly and passes it down; nothing in the engine reads
// configuration from globals.
package config

import (
	"fmt"
	"time"

	"github.com/sensorcloud/centrepoint-sync/pkg/models"
)

// Defaults for the CentrePoint production endpoints and OAuth scope.
const (
	DefaultBaseURL  = "https://api.actigraphcorp.com/"
	DefaultTokenURL = "https://auth.actigraphcorp.com/connect/token"
	DefaultScope    = "CentrePoint DataAccess Analytics DataRetrieval"
)

// SyncConfig is the full configuration for one sync invocation.
type SyncConfig struct {
	// Name identifies the pipeline instance
	Name string `yaml:"name" json:"name"`

	// Source describes the CentrePoint API endpoint and query window
	Source SourceConfig `yaml:"source" json:"source"`

	// Destination selects and configures the loader
	Destination DestinationConfig `yaml:"destination" json:"destination"`

	// State locates the persisted cursor between runs
	State StateConfig `yaml:"state" json:"state"`

	// Timeouts define per-request transport timeouts
	Timeouts TimeoutConfig `yaml:"timeouts" json:"timeouts"`

	// Reliability settings for transport retry behavior
	Reliability ReliabilityConfig `yaml:"reliability" json:"reliability"`

	// Observability settings for logging and metrics
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

// SourceConfig describes the CentrePoint API connection and the query window
// for one run. Client credentials are expected to arrive through environment
// substitution (${CENTREPOINT_CLIENT_ID} and friends), never inline.
type SourceConfig struct {
	BaseURL      string `yaml:"base_url" json:"base_url"`
	TokenURL     string `yaml:"token_url" json:"token_url"`
	ClientID     string `yaml:"client_id" json:"client_id"`
	ClientSecret string `yaml:"client_secret" json:"client_secret"`
	Scope        string `yaml:"scope" json:"scope"`

	StudyID   int    `yaml:"study_id" json:"study_id"`
	SubjectID int    `yaml:"subject_id" json:"subject_id"`
	FromDate  string `yaml:"from_date" json:"from_date"`
	ToDate    string `yaml:"to_date" json:"to_date"`
	SettingID string `yaml:"daily_statistics_setting_id" json:"daily_statistics_setting_id"`

	// FullReload ignores persisted cursor state and re-fetches all history
	FullReload bool `yaml:"full_reload" json:"full_reload"`
}

// DestinationConfig selects a loader and carries its options.
type DestinationConfig struct {
	// Type names the registered loader (s3, snowflake)
	Type string `yaml:"type" json:"type"`
	// Options holds loader-specific settings (bucket, prefix, account, ...)
	Options map[string]string `yaml:"options" json:"options"`
	// BatchSize controls records per staged file / load statement
	BatchSize int `yaml:"batch_size" json:"batch_size"`
}

// StateConfig locates persisted cursor state.
type StateConfig struct {
	// Path is the cursor state file location
	Path string `yaml:"path" json:"path"`
}

// TimeoutConfig defines transport timeouts.
type TimeoutConfig struct {
	Request    time.Duration `yaml:"request" json:"request"`
	Connection time.Duration `yaml:"connection" json:"connection"`
}

// ReliabilityConfig defines the transport retry policy.
type ReliabilityConfig struct {
	RetryAttempts   int           `yaml:"retry_attempts" json:"retry_attempts"`
	RetryDelay      time.Duration `yaml:"retry_delay" json:"retry_delay"`
	RetryMultiplier float64       `yaml:"retry_multiplier" json:"retry_multiplier"`
	MaxRetryDelay   time.Duration `yaml:"max_retry_delay" json:"max_retry_delay"`
}

// ObservabilityConfig defines logging and metrics settings.
type ObservabilityConfig struct {
	LogLevel      string `yaml:"log_level" json:"log_level"`
	EnableMetrics bool   `yaml:"enable_metrics" json:"enable_metrics"`
	MetricsAddr   string `yaml:"metrics_addr" json:"metrics_addr"`
}

// NewSyncConfig creates a SyncConfig with production defaults. Callers
// override the query window and destination, which have no sensible defaults.
func NewSyncConfig(name string) *SyncConfig {
	return &SyncConfig{
		Name: name,
		Source: SourceConfig{
			BaseURL:  DefaultBaseURL,
			TokenURL: DefaultTokenURL,
			Scope:    DefaultScope,
		},
		Destination: DestinationConfig{
			BatchSize: 10000,
			Options:   make(map[string]string),
		},
		State: StateConfig{
			Path: ".centrepoint-sync/state.json",
		},
		Timeouts: TimeoutConfig{
			Request:    30 * time.Second,
			Connection: 10 * time.Second,
		},
		Reliability: ReliabilityConfig{
			RetryAttempts:   3,
			RetryDelay:      time.Second,
			RetryMultiplier: 2.0,
			MaxRetryDelay:   60 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel:      "info",
			EnableMetrics: true,
		},
	}
}

// Validate checks required fields and value ranges. Call after loading.
func (c *SyncConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	if c.Source.BaseURL == "" {
		return fmt.Errorf("source.base_url is required")
	}
	if c.Source.TokenURL == "" {
		return fmt.Errorf("source.token_url is required")
	}
	if c.Source.ClientID == "" {
		return fmt.Errorf("source.client_id is required (set CENTREPOINT_CLIENT_ID)")
	}
	if c.Source.ClientSecret == "" {
		return fmt.Errorf("source.client_secret is required (set CENTREPOINT_CLIENT_SECRET)")
	}
	if c.Source.StudyID <= 0 {
		return fmt.Errorf("source.study_id must be positive")
	}
	if c.Source.SubjectID <= 0 {
		return fmt.Errorf("source.subject_id must be positive")
	}
	if c.Source.FromDate == "" || c.Source.ToDate == "" {
		return fmt.Errorf("source.from_date and source.to_date are required")
	}
	if c.Destination.Type == "" {
		return fmt.Errorf("destination.type is required")
	}
	if c.Destination.BatchSize <= 0 {
		return fmt.Errorf("destination.batch_size must be positive")
	}
	if c.Reliability.RetryAttempts < 0 {
		return fmt.Errorf("reliability.retry_attempts cannot be negative")
	}
	return nil
}

// Credentials returns the resolved client-credentials inputs.
func (c *SyncConfig) Credentials() models.Credentials {
	return models.Credentials{
		TokenURL:     c.Source.TokenURL,
		ClientID:     c.Source.ClientID,
		ClientSecret: c.Source.ClientSecret,
		Scope:        c.Source.Scope,
	}
}

// Window returns the query window for this run.
func (c *SyncConfig) Window() models.QueryWindow {
	return models.QueryWindow{
		FromDate:  c.Source.FromDate,
		ToDate:    c.Source.ToDate,
		StudyID:   c.Source.StudyID,
		SubjectID: c.Source.SubjectID,
		SettingID: c.Source.SettingID,
	}
}
