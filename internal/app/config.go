package app

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// ConfigDir returns ~/.config/oakd/ on all platforms.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "oakd"), nil
}

// EnsureConfigDir creates the config directory and default config.yaml if missing.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return err
	}

	configFile := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		return os.WriteFile(configFile, []byte(defaultConfig), 0600)
	}
	return nil
}

// LoadDotEnv loads a .env file from the config directory into the process
// environment, if present. Uses standard dotenv comment/quote rules and never
// overrides variables already set in the environment.
func LoadDotEnv() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	path := filepath.Join(dir, ".env")
	if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
		return nil
	}
	return godotenv.Load(path)
}

const defaultConfig = `# oakd configuration
# Run: oakd --help

# Optional: override the SQLite database location.
# Can also be set via OAKD_DB_PATH or --db-path.
# db_path: ~/.config/oakd/oakd.db

# HTTP address for the hook/tool-call surface.
# http_addr: 127.0.0.1:8751

# Bearer token required on inbound hook requests. Generated on first run if unset.
# bearer_token: ""

# Directory holding the on-disk vector store collections.
# vector_store_dir: ~/.config/oakd/vectors

# Directory for cross-machine backup SQL files.
# backup_dir: ~/.config/oakd/backups

# Embedding provider: openai-compatible HTTP endpoint by default.
# embedding_model: text-embedding-3-small
# embedding_base_url: https://api.openai.com/v1
# embedding_api_key_env: OPENAI_API_KEY

# LLM extraction backend: claude (CLI subprocess) or opencode (CLI subprocess).
# llm_agent: claude

# scheduler_interval_seconds: 30

# Minimum relevance score (0.0-1.0) for a search/context result to be included.
# relevance_threshold: 0.3

# Retention for raw activities/observations pruning (checkpoint maintenance).
# events_retention_days: 30
# events_prune_batch: 500
# events_summarize_threshold: 200
# events_summarize_keep_recent: 50

# Batch processor extraction backend: "cli" (shell out via llm_agent) or
# "http" (direct OpenAI-compatible chat-completions call).
# extraction_backend: cli
# extraction_model: gpt-4o-mini
# extraction_base_url: https://api.openai.com/v1
# extraction_api_key_env: OPENAI_API_KEY

# Extraction prompt budget.
# max_activities_per_batch: 60
# max_user_prompt_chars: 10000
# max_context_chars: 6000
# min_output_tokens: 512
# context_tokens: 8000
# max_observations_per_batch: 20

# Scheduler shutdown and watchdog tuning.
# scheduler_stop_timeout_seconds: 10
# watchdog_buffer_seconds: 300
# watchdog_default_timeout_seconds: 7200

# Agent instances the scheduler runs on cron expressions. Each needs a cron_expr
# and a template (prompt text); agent selects the CLI (claude/opencode), defaulting
# to llm_agent when omitted.
# instances:
#   - name: nightly-retro
#     cron_expr: "0 2 * * *"
#     template: "Review today's sessions for this project and summarize open threads."
#     agent: claude

# Cloud relay: forward tool-call requests from a remote agent through a
# Cloudflare Worker to this daemon's local tool-call surface. Off by default;
# the worker URL and token are operator-provisioned out of band.
# cloud_relay_enabled: false
# cloud_relay_worker_url: wss://your-worker.workers.dev
# cloud_relay_token_env: OAKD_CLOUD_RELAY_TOKEN
# cloud_relay_tool_timeout_seconds: 30
# cloud_relay_reconnect_max_seconds: 60

# Tunnel: expose http_addr at a public URL via a cloudflared quick tunnel.
# Off by default; requires the cloudflared binary on PATH.
# tunnel_enabled: false
# tunnel_provider: cloudflared
# tunnel_binary_path: ""
`
