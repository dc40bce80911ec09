package app

import (
	"errors"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Settings represents configuration loaded from config.yaml.
// Field names match snake_case YAML keys. Every field has a safe default
// applied by EffectiveSettings; config.yaml and environment variables only
// need to set what they want to override.
type Settings struct {
	DBPath                    string  `yaml:"db_path"`
	HTTPAddr                  string  `yaml:"http_addr"`
	BearerToken               string  `yaml:"bearer_token"`
	VectorStoreDir            string  `yaml:"vector_store_dir"`
	BackupDir                 string  `yaml:"backup_dir"`
	EmbeddingModel            string  `yaml:"embedding_model"`
	EmbeddingBaseURL          string  `yaml:"embedding_base_url"`
	EmbeddingAPIKeyEnv        string  `yaml:"embedding_api_key_env"`
	LLMAgent                  string  `yaml:"llm_agent"`
	SchedulerIntervalSec      int     `yaml:"scheduler_interval_seconds"`
	RelevanceThreshold        float64 `yaml:"relevance_threshold"`
	EventsRetentionDays       int     `yaml:"events_retention_days"`
	EventsPruneBatch          int     `yaml:"events_prune_batch"`
	EventsSummarizeThreshold  int     `yaml:"events_summarize_threshold"`
	EventsSummarizeKeepRecent int     `yaml:"events_summarize_keep_recent"`

	// ExtractionBackend selects the batch processor's LLM backend: "cli"
	// (shell out via internal/llm.Runner, keyed off llm_agent) or "http" (a
	// direct OpenAI-compatible chat-completions client).
	ExtractionBackend     string `yaml:"extraction_backend"`
	ExtractionModel       string `yaml:"extraction_model"`
	ExtractionBaseURL     string `yaml:"extraction_base_url"`
	ExtractionAPIKeyEnv   string `yaml:"extraction_api_key_env"`
	MaxActivitiesPerBatch int    `yaml:"max_activities_per_batch"`
	MaxUserPromptChars    int    `yaml:"max_user_prompt_chars"`
	MaxContextChars       int    `yaml:"max_context_chars"`
	MinOutputTokens       int    `yaml:"min_output_tokens"`
	ContextTokens         int    `yaml:"context_tokens"`
	MaxObservationsPerBatch int  `yaml:"max_observations_per_batch"`

	// SchedulerStopTimeoutSec bounds how long the background loop waits for
	// an in-flight cycle to finish on shutdown before returning anyway.
	SchedulerStopTimeoutSec int `yaml:"scheduler_stop_timeout_seconds"`
	// WatchdogBufferSec / WatchdogDefaultTimeoutSec feed recover_stale_runs:
	// a run is considered abandoned once started_at + default_timeout +
	// buffer has passed and it is still 'running'.
	WatchdogBufferSec         int `yaml:"watchdog_buffer_seconds"`
	WatchdogDefaultTimeoutSec int `yaml:"watchdog_default_timeout_seconds"`

	// Instances lists the agent instances the scheduler runs on cron
	// expressions. Each entry names the prompt template it runs and which
	// CLI agent (claude/opencode) executes it.
	Instances []AgentInstanceConfig `yaml:"instances"`

	// CloudRelayEnabled turns on internal/relay.Client: a persistent
	// WebSocket connection to CloudRelayWorkerURL that forwards tool_call
	// messages from a remote agent to this daemon's own /tools/<name>
	// endpoints. Off by default.
	CloudRelayEnabled         bool   `yaml:"cloud_relay_enabled"`
	CloudRelayWorkerURL       string `yaml:"cloud_relay_worker_url"`
	CloudRelayTokenEnv        string `yaml:"cloud_relay_token_env"`
	CloudRelayToolTimeoutSec  int    `yaml:"cloud_relay_tool_timeout_seconds"`
	CloudRelayReconnectMaxSec int    `yaml:"cloud_relay_reconnect_max_seconds"`

	// TunnelEnabled turns on internal/tunnel: exposing HTTPAddr at a public
	// URL via a tunnel subprocess. Off by default.
	TunnelEnabled    bool   `yaml:"tunnel_enabled"`
	TunnelProvider   string `yaml:"tunnel_provider"`
	TunnelBinaryPath string `yaml:"tunnel_binary_path"`
}

// AgentInstanceConfig describes one scheduled agent instance: a cron
// expression, the prompt template it runs, and which CLI agent runs it.
type AgentInstanceConfig struct {
	Name     string `yaml:"name"`
	CronExpr string `yaml:"cron_expr"`
	Template string `yaml:"template"`
	Agent    string `yaml:"agent"`
}

// EventMaintenanceSettings are effective runtime values used by checkpoint/session-end
// pruning of old activities and observations.
type EventMaintenanceSettings struct {
	RetentionDays       int `json:"retention_days"`
	PruneBatch          int `json:"prune_batch"`
	SummarizeThreshold  int `json:"summarize_threshold"`
	SummarizeKeepRecent int `json:"summarize_keep_recent"`
}

const (
	defaultHTTPAddr             = "127.0.0.1:8751"
	defaultVectorStoreDirName   = "vectors"
	defaultBackupDirName        = "backups"
	defaultEmbeddingModel       = "text-embedding-3-small"
	defaultEmbeddingBaseURL     = "https://api.openai.com/v1"
	defaultEmbeddingAPIKeyEnv   = "OPENAI_API_KEY"
	defaultLLMAgent             = "claude"
	defaultSchedulerIntervalSec = 30
	defaultRelevanceThreshold   = 0.3

	defaultEventsRetentionDays   = 30
	defaultEventsPruneBatch      = 500
	defaultEventsSummarizeThresh = 200
	defaultEventsSummarizeKeep   = 50

	defaultExtractionBackend       = "cli"
	defaultExtractionModel         = "gpt-4o-mini"
	defaultExtractionAPIKeyEnv     = "OPENAI_API_KEY"
	defaultMaxActivitiesPerBatch   = 60
	defaultMaxUserPromptChars      = 10000
	defaultMaxContextChars         = 6000
	defaultMinOutputTokens         = 512
	defaultContextTokens           = 8000
	defaultMaxObservationsPerBatch = 20

	defaultSchedulerStopTimeoutSec   = 10
	defaultWatchdogBufferSec         = 300
	defaultWatchdogDefaultTimeoutSec = 7200

	defaultCloudRelayTokenEnv        = "OAKD_CLOUD_RELAY_TOKEN"
	defaultCloudRelayToolTimeoutSec  = 30
	defaultCloudRelayReconnectMaxSec = 60

	defaultTunnelProvider = "cloudflared"
)

// EffectiveEventMaintenanceSettings returns validated maintenance settings with defaults.
// Invalid or missing config values fall back to safe defaults.
func EffectiveEventMaintenanceSettings() EventMaintenanceSettings {
	cfg := EventMaintenanceSettings{
		RetentionDays:       defaultEventsRetentionDays,
		PruneBatch:          defaultEventsPruneBatch,
		SummarizeThreshold:  defaultEventsSummarizeThresh,
		SummarizeKeepRecent: defaultEventsSummarizeKeep,
	}

	s, err := LoadSettings()
	if err != nil {
		return cfg
	}

	if s.EventsRetentionDays > 0 {
		cfg.RetentionDays = s.EventsRetentionDays
	}
	if s.EventsPruneBatch > 0 {
		cfg.PruneBatch = s.EventsPruneBatch
	}
	if s.EventsSummarizeThreshold > 0 {
		cfg.SummarizeThreshold = s.EventsSummarizeThreshold
	}
	if s.EventsSummarizeKeepRecent > 0 {
		cfg.SummarizeKeepRecent = s.EventsSummarizeKeepRecent
	}

	if cfg.RetentionDays > 3650 {
		cfg.RetentionDays = 3650
	}
	if cfg.PruneBatch > 10000 {
		cfg.PruneBatch = 10000
	}
	if cfg.SummarizeThreshold < 20 {
		cfg.SummarizeThreshold = 20
	}
	return cfg
}

// EffectiveSettings returns Settings with every unset field filled from
// defaults relative to the config directory. Invalid or missing config
// values fall back to safe defaults, matching the CLI's "never fail to
// start over a malformed config" posture.
func EffectiveSettings() Settings {
	s, err := LoadSettings()
	if err != nil {
		s = Settings{}
	}

	if s.HTTPAddr == "" {
		s.HTTPAddr = defaultHTTPAddr
	}
	if s.EmbeddingModel == "" {
		s.EmbeddingModel = defaultEmbeddingModel
	}
	if s.EmbeddingBaseURL == "" {
		s.EmbeddingBaseURL = defaultEmbeddingBaseURL
	}
	if s.EmbeddingAPIKeyEnv == "" {
		s.EmbeddingAPIKeyEnv = defaultEmbeddingAPIKeyEnv
	}
	if s.LLMAgent == "" {
		s.LLMAgent = defaultLLMAgent
	}
	if s.SchedulerIntervalSec <= 0 {
		s.SchedulerIntervalSec = defaultSchedulerIntervalSec
	}
	if s.RelevanceThreshold <= 0 {
		s.RelevanceThreshold = defaultRelevanceThreshold
	}
	if s.ExtractionBackend == "" {
		s.ExtractionBackend = defaultExtractionBackend
	}
	if s.ExtractionModel == "" {
		s.ExtractionModel = defaultExtractionModel
	}
	if s.ExtractionBaseURL == "" {
		s.ExtractionBaseURL = defaultEmbeddingBaseURL
	}
	if s.ExtractionAPIKeyEnv == "" {
		s.ExtractionAPIKeyEnv = defaultExtractionAPIKeyEnv
	}
	if s.MaxActivitiesPerBatch <= 0 {
		s.MaxActivitiesPerBatch = defaultMaxActivitiesPerBatch
	}
	if s.MaxUserPromptChars <= 0 {
		s.MaxUserPromptChars = defaultMaxUserPromptChars
	}
	if s.MaxContextChars <= 0 {
		s.MaxContextChars = defaultMaxContextChars
	}
	if s.MinOutputTokens <= 0 {
		s.MinOutputTokens = defaultMinOutputTokens
	}
	if s.ContextTokens <= 0 {
		s.ContextTokens = defaultContextTokens
	}
	if s.MaxObservationsPerBatch <= 0 {
		s.MaxObservationsPerBatch = defaultMaxObservationsPerBatch
	}
	if s.SchedulerStopTimeoutSec <= 0 {
		s.SchedulerStopTimeoutSec = defaultSchedulerStopTimeoutSec
	}
	if s.WatchdogBufferSec <= 0 {
		s.WatchdogBufferSec = defaultWatchdogBufferSec
	}
	if s.WatchdogDefaultTimeoutSec <= 0 {
		s.WatchdogDefaultTimeoutSec = defaultWatchdogDefaultTimeoutSec
	}
	if s.CloudRelayTokenEnv == "" {
		s.CloudRelayTokenEnv = defaultCloudRelayTokenEnv
	}
	if s.CloudRelayToolTimeoutSec <= 0 {
		s.CloudRelayToolTimeoutSec = defaultCloudRelayToolTimeoutSec
	}
	if s.CloudRelayReconnectMaxSec <= 0 {
		s.CloudRelayReconnectMaxSec = defaultCloudRelayReconnectMaxSec
	}
	if s.TunnelProvider == "" {
		s.TunnelProvider = defaultTunnelProvider
	}

	if dir, err := ConfigDir(); err == nil {
		if s.VectorStoreDir == "" {
			s.VectorStoreDir = filepath.Join(dir, defaultVectorStoreDirName)
		}
		if s.BackupDir == "" {
			s.BackupDir = filepath.Join(dir, defaultBackupDirName)
		}
	}

	return s
}

// settingsOnce, settings, settingsErr implement the sync.Once lazy-load singleton for config.
// dbPathOverrideMu and dbPathOverride implement a mutex-protected process-wide override for CLI --db-path.
// These globals are required by the sync.Once pattern and the RWMutex pattern; they cannot be avoided.
//
//nolint:gochecknoglobals // sync.Once singleton + RWMutex override are intentional process-wide state
var (
	settingsOnce sync.Once
	settings     Settings
	settingsErr  error

	dbPathOverrideMu sync.RWMutex
	dbPathOverride   string
)

// SetDBPathOverride sets a process-wide database path override.
// Intended for CLI flag support (e.g. --db-path).
func SetDBPathOverride(path string) {
	dbPathOverrideMu.Lock()
	dbPathOverride = path
	dbPathOverrideMu.Unlock()
}

func getDBPathOverride() string {
	dbPathOverrideMu.RLock()
	v := dbPathOverride
	dbPathOverrideMu.RUnlock()
	return v
}

// LoadSettings loads configuration once using the documented lookup order.
// Lookup order (first found wins):
// 1) ~/.config/oakd/config.yaml
// 2) /etc/oakd/config.yaml
// 3) ./config.yaml (lowest priority; allows repo-local overrides if desired)
// Environment variables are handled separately.
func LoadSettings() (Settings, error) {
	settingsOnce.Do(func() {
		settings = Settings{}

		dir, err := ConfigDir()
		if err != nil {
			settingsErr = err
			return
		}
		if s, err := loadSettingsFile(filepath.Join(dir, "config.yaml")); err == nil {
			settings = s
			return
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			settingsErr = err
			return
		}

		if s, err := loadSettingsFile(filepath.Join(string(os.PathSeparator), "etc", "oakd", "config.yaml")); err == nil {
			settings = s
			return
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			settingsErr = err
			return
		}

		if s, err := loadSettingsFile("config.yaml"); err == nil {
			settings = s
			return
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			settingsErr = err
			return
		}
	})

	return settings, settingsErr
}

func loadSettingsFile(path string) (Settings, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, err
	}

	var s Settings
	if err := yaml.Unmarshal(b, &s); err != nil {
		return Settings{}, err
	}
	return s, nil
}
