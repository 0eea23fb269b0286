// Package config loads runtime configuration from a YAML file, with a fixed
// set of fields overlaid from environment variables (see Load).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds every environment switch named by the external interfaces of
// the runtime: upload/history storage location, transport mode, MCP remote
// endpoint, usage sinks, and provider/persistence credentials.
type Config struct {
	// DataDir is the base directory for uploads, history, and logs.
	DataDir string `yaml:"data_dir"`

	// UseMCP selects the remote MCP transport when true; otherwise the
	// Orchestrator dispatches through the in-process Tool Registry.
	UseMCP            bool   `yaml:"use_mcp"`
	MCPURL            string `yaml:"mcp_url"`
	MCPTimeoutSeconds int    `yaml:"mcp_timeout_seconds"`

	TokensLogFile     string `yaml:"tokens_log_file"`
	TokensSummaryFile string `yaml:"tokens_summary_file"`

	ModelProvider  string `yaml:"model_provider"` // anthropic | openai | bedrock
	AnthropicModel string `yaml:"anthropic_model"`
	OpenAIModel    string `yaml:"openai_model"`
	BedrockModel   string `yaml:"bedrock_model"`
	BedrockRegion  string `yaml:"bedrock_region"`

	RateLimitInitialTPM float64 `yaml:"rate_limit_initial_tpm"`
	RateLimitMaxTPM     float64 `yaml:"rate_limit_max_tpm"`

	MongoURI string `yaml:"mongo_uri"`
	MongoDB  string `yaml:"mongo_db"`

	RedisAddr string `yaml:"redis_addr"`

	PulseRedisAddr string `yaml:"pulse_redis_addr"`
}

// Default returns a Config with conservative defaults for local/single-process
// use (in-memory stores, direct transport).
func Default() *Config {
	return &Config{
		DataDir:             "./data",
		UseMCP:              false,
		MCPTimeoutSeconds:   30,
		TokensLogFile:       "./data/tokens.log.json",
		TokensSummaryFile:   "./data/tokens.summary.json",
		ModelProvider:       "anthropic",
		AnthropicModel:      "claude-sonnet-4-5",
		OpenAIModel:         "gpt-4.1",
		BedrockModel:        "anthropic.claude-sonnet-4-5-v1:0",
		BedrockRegion:       "us-east-1",
		RateLimitInitialTPM: 60000,
		RateLimitMaxTPM:     240000,
		MongoDB:             "flowforge",
	}
}

// Load reads path (if non-empty and present) as YAML into a Config seeded with
// Default, then overlays these environment variables, each named after its
// field's upper-cased yaml tag: DATA_DIR, USE_MCP, MCP_URL,
// MCP_TIMEOUT_SECONDS, TOKENS_LOG_FILE, TOKENS_SUMMARY_FILE, MODEL_PROVIDER,
// MONGO_URI, REDIS_ADDR and PULSE_REDIS_ADDR. The model names, Bedrock
// region, rate-limit rates and MongoDB database name are not read from the
// environment; they come only from the YAML file or Default.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %q: %w", path, err)
			}
		} else if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse config %q: %w", path, err)
		}
	}
	overlayEnv(cfg)
	return cfg, nil
}

func overlayEnv(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("USE_MCP"); v != "" {
		cfg.UseMCP = truthy(v)
	}
	if v := os.Getenv("MCP_URL"); v != "" {
		cfg.MCPURL = v
	}
	if v := os.Getenv("MCP_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MCPTimeoutSeconds = n
		}
	}
	if v := os.Getenv("TOKENS_LOG_FILE"); v != "" {
		cfg.TokensLogFile = v
	}
	if v := os.Getenv("TOKENS_SUMMARY_FILE"); v != "" {
		cfg.TokensSummaryFile = v
	}
	if v := os.Getenv("MODEL_PROVIDER"); v != "" {
		cfg.ModelProvider = v
	}
	if v := os.Getenv("MONGO_URI"); v != "" {
		cfg.MongoURI = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("PULSE_REDIS_ADDR"); v != "" {
		cfg.PulseRedisAddr = v
	}
}

// truthy mirrors the source's environment-flag parsing: "1", "true", "yes"
// (case-insensitive) are truthy, everything else is not.
func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}
