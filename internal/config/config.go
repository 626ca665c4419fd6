// Package config handles gpagent configuration loading, validation, and
// path expansion.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/waddadaa/gpagent/internal/errkind"
	"github.com/waddadaa/gpagent/internal/paths"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/gpagent/config.yaml, /etc/gpagent/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "gpagent", "config.yaml"))
	}

	paths = append(paths, "/etc/gpagent/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all gpagent configuration.
type Config struct {
	Agent         AgentConfig         `yaml:"agent"`
	LLM           LLMConfig           `yaml:"llm"`
	APIKeys       APIKeysConfig       `yaml:"api_keys"`
	Search        SearchConfig        `yaml:"search"`
	Memory        MemoryConfig        `yaml:"memory"`
	Context       ContextConfig       `yaml:"context"`
	TRM           TRMConfig           `yaml:"trm"`
	Tools         ToolsConfig         `yaml:"tools"`
	Training      TrainingConfig      `yaml:"training"`
	Concurrency   ConcurrencyConfig   `yaml:"concurrency"`
	Security      SecurityConfig      `yaml:"security"`
	Observability ObservabilityConfig `yaml:"observability"`
	Pricing       map[string]PricingEntry `yaml:"pricing"`
	LogLevel      string              `yaml:"log_level"`
}

// AgentConfig bounds the Orchestrator's turn loop and its use of TRM
// recommendations.
type AgentConfig struct {
	MaxTurnsPerTask        int    `yaml:"max_turns_per_task"`
	MaxRetries             int    `yaml:"max_retries"`
	AutoTrainTRM           bool   `yaml:"auto_train_trm"`
	UseTRMRecommendations  bool   `yaml:"use_trm_recommendations"`
	SystemPrompt           string `yaml:"system_prompt"`
}

// LLMConfig selects the Gateway's provider trio and shared completion
// parameters.
type LLMConfig struct {
	PrimaryProvider    string  `yaml:"primary_provider"`
	PrimaryModel       string  `yaml:"primary_model"`
	FallbackProvider   string  `yaml:"fallback_provider"`
	FallbackModel      string  `yaml:"fallback_model"`
	SummarizationModel string  `yaml:"summarization_model"`
	MaxRetries         int     `yaml:"max_retries"`
	TimeoutMS          int     `yaml:"timeout_ms"`
	Temperature        float64 `yaml:"temperature"`
}

// APIKeysConfig holds provider credentials, normally populated from
// environment variables rather than the config file directly.
type APIKeysConfig struct {
	Anthropic         string `yaml:"anthropic"`
	Google            string `yaml:"google"`
	OpenAI            string `yaml:"openai"`
	Tavily            string `yaml:"tavily"`
	Perplexity        string `yaml:"perplexity"`
	GoogleSearch      string `yaml:"google_search"`
	GoogleSearchCX    string `yaml:"google_cx"`
	Brave             string `yaml:"brave"`
}

// SearchConfig configures the web_search external tool handler.
type SearchConfig struct {
	Provider   string `yaml:"provider"` // perplexity, google, brave, searxng
	MaxResults int    `yaml:"max_results"`
	TimeoutMS  int    `yaml:"timeout_ms"`
	SafeSearch bool   `yaml:"safe_search"`
}

// MemoryConfig configures the Memory Manager's persistence root and
// auto-checkpoint behavior.
type MemoryConfig struct {
	StoragePath        string `yaml:"storage_path"`
	DataDir            string `yaml:"data_dir"`
	MaxEpisodes        int    `yaml:"max_episodes"`
	CheckpointInterval int    `yaml:"checkpoint_interval"` // turns
	AutoCheckpoint     bool   `yaml:"auto_checkpoint"`
}

// ContextConfig configures the Context Builder's token budget and
// compaction thresholds.
type ContextConfig struct {
	MaxTokens           int `yaml:"max_tokens"`
	CompactionThreshold int `yaml:"compaction_threshold"`
	KeepRawTurns        int `yaml:"keep_raw_turns"`
	SummarizeBatch      int `yaml:"summarize_batch"`
	ReservedForResponse int `yaml:"reserved_for_response"`
}

// TRMLossWeights weights the four self-supervised losses the trainer sums.
type TRMLossWeights struct {
	Contrastive float64 `yaml:"contrastive"`
	NextAction  float64 `yaml:"next_action"`
	Outcome     float64 `yaml:"outcome"`
	Masked      float64 `yaml:"masked"`
}

// TRMConfig configures the tool-selection recommender and its trainer.
type TRMConfig struct {
	Enabled                 bool           `yaml:"enabled"`
	Mode                    string         `yaml:"mode"` // unsupervised | supervised
	ModelPath               string         `yaml:"model_path"`
	MinEpisodesBeforeTraining int          `yaml:"min_episodes_before_training"`
	HiddenSize              int            `yaml:"hidden_size"`
	NumLayers               int            `yaml:"num_layers"`
	T                       int            `yaml:"t"`
	N                       int            `yaml:"n"`
	NSup                    int            `yaml:"n_sup"`
	Epochs                  int            `yaml:"epochs"`
	LearningRate            float64        `yaml:"learning_rate"`
	EMADecay                float64        `yaml:"ema_decay"`
	RetrainIntervalHours    int            `yaml:"retrain_interval_hours"`
	FallbackMode            string         `yaml:"fallback_mode"` // rules | keyword | disabled
	LossWeights             TRMLossWeights `yaml:"loss_weights"`
}

// ToolConfig is a single builtin tool's per-tool settings.
type ToolConfig struct {
	Enabled         bool `yaml:"enabled"`
	MaxLines        int  `yaml:"max_lines"`
	RequireConfirm  bool `yaml:"require_confirm"`
	TimeoutMS       int  `yaml:"timeout_ms"`
}

// MCPServerConfig describes one external MCP server to connect at startup.
type MCPServerConfig struct {
	Name    string   `yaml:"name"`
	Command string   `yaml:"command,omitempty"`
	Args    []string `yaml:"args,omitempty"`
	URL     string   `yaml:"url,omitempty"`
}

// ToolsConfig configures the Tool Registry's builtin tool set and any MCP
// servers to register tools from.
type ToolsConfig struct {
	Builtin    map[string]ToolConfig `yaml:"builtin"`
	MCPServers []MCPServerConfig     `yaml:"mcp_servers"`
}

// TrainingConfig configures when the Orchestrator should start a TRM
// training run.
type TrainingConfig struct {
	AutoCollect           bool    `yaml:"auto_collect"`
	MinEpisodesForTraining int    `yaml:"min_episodes_for_training"`
	TrainIntervalHours    int     `yaml:"train_interval_hours"`
	LearningRate          float64 `yaml:"learning_rate"`
	BatchSize             int     `yaml:"batch_size"`
}

// ConcurrencyConfig sizes the Tool Executor's worker pool.
type ConcurrencyConfig struct {
	ThreadPoolSize   int  `yaml:"thread_pool_size"`
	MaxParallelTools int  `yaml:"max_parallel_tools"`
	AsyncLLM         bool `yaml:"async_llm"`
}

// SecurityConfig bounds file and shell tool access.
type SecurityConfig struct {
	BashSandbox     bool     `yaml:"bash_sandbox"`
	AllowedPaths    []string `yaml:"allowed_paths"`
	BlockedCommands []string `yaml:"blocked_commands"`
	MaxFileSizeMB   int      `yaml:"max_file_size_mb"`
}

// ObservabilityConfig configures logging and metrics export.
type ObservabilityConfig struct {
	LogLevel      string `yaml:"log_level"`
	LogPath       string `yaml:"log_path"`
	MetricsEnabled bool  `yaml:"metrics_enabled"`
	MetricsPort   int    `yaml:"metrics_port"`
	TraceEnabled  bool   `yaml:"trace_enabled"`
}

// PricingEntry is the per-million-token USD rate for one model, used by
// internal/usage to cost a Gateway completion.
type PricingEntry struct {
	InputPerMillion  float64 `yaml:"input_per_million"`
	OutputPerMillion float64 `yaml:"output_per_million"`
}

// Load reads configuration from a YAML file, expanding environment
// variables before parsing, then expands ~/env references in paths and
// populates API keys from the environment where not set explicitly.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errkind.Wrap(errkind.ConfigNotFound, err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, errkind.Wrap(errkind.ConfigParseFailed, err)
	}

	cfg.expandPaths()
	cfg.fillAPIKeysFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadOrDefault loads configuration from path, falling back to Default()
// if the file does not exist. A parse failure on an existing file is still
// returned as an error — only a missing file is non-fatal.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		cfg := Default()
		cfg.expandPaths()
		cfg.fillAPIKeysFromEnv()
		return cfg, nil
	}
	return Load(path)
}

// fillAPIKeysFromEnv populates any unset API key fields from the
// corresponding environment variable, matching the original's
// ANTHROPIC_API_KEY/GOOGLE_API_KEY/OPENAI_API_KEY/TAVILY_API_KEY/
// PERPLEXITY_API_KEY/GOOGLE_SEARCH_API_KEY convention.
func (c *Config) fillAPIKeysFromEnv() {
	setIfEmpty := func(dst *string, envVar string) {
		if *dst == "" {
			*dst = os.Getenv(envVar)
		}
	}
	setIfEmpty(&c.APIKeys.Anthropic, "ANTHROPIC_API_KEY")
	setIfEmpty(&c.APIKeys.Google, "GOOGLE_API_KEY")
	setIfEmpty(&c.APIKeys.OpenAI, "OPENAI_API_KEY")
	setIfEmpty(&c.APIKeys.Tavily, "TAVILY_API_KEY")
	setIfEmpty(&c.APIKeys.Perplexity, "PERPLEXITY_API_KEY")
	setIfEmpty(&c.APIKeys.GoogleSearch, "GOOGLE_SEARCH_API_KEY")
	setIfEmpty(&c.APIKeys.Brave, "BRAVE_API_KEY")
}

// expandPaths expands ~ and ${VAR}/$VAR references in every path-shaped
// config field.
func (c *Config) expandPaths() {
	c.Memory.StoragePath = expandPath(c.Memory.StoragePath)
	c.Memory.DataDir = expandPath(c.Memory.DataDir)
	c.TRM.ModelPath = expandPath(c.TRM.ModelPath)
	c.Observability.LogPath = expandPath(c.Observability.LogPath)
	for i, p := range c.Security.AllowedPaths {
		c.Security.AllowedPaths[i] = expandPath(p)
	}
}

func expandPath(p string) string {
	p = os.ExpandEnv(p)
	if !strings.HasPrefix(p, "~") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if strings.HasPrefix(p, "~/") {
		return filepath.Join(home, p[2:])
	}
	return p
}

// Validate checks required fields and internal consistency. A missing
// primary LLM provider, a worker-pool size (max_parallel_tools) below 1,
// a non-positive context max_tokens, and a compaction_threshold above
// max_tokens are validation failures; everything else that can reasonably
// default is defaulted by Default() before Validate runs.
func (c *Config) Validate() error {
	if c.LLM.PrimaryProvider == "" {
		return errkind.New(errkind.ConfigValidationFailed).WithContext("llm.primary_provider is required")
	}
	if c.Concurrency.MaxParallelTools <= 0 {
		return errkind.New(errkind.ConfigValidationFailed).WithContext("concurrency.max_parallel_tools must be positive")
	}
	if c.Context.MaxTokens <= 0 {
		return errkind.New(errkind.ConfigValidationFailed).WithContext("context.max_tokens must be positive")
	}
	if c.Context.CompactionThreshold > c.Context.MaxTokens {
		return errkind.New(errkind.ConfigValidationFailed).WithContext("context.compaction_threshold must not exceed context.max_tokens")
	}
	return nil
}

// Save writes the configuration back to path as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// PathResolver builds a paths.Resolver from the security-allowed path
// prefixes, letting file tool handlers resolve kb:/scratchpad:-style
// prefixed paths against the configured roots.
func (c *Config) PathResolver() *paths.Resolver {
	prefixes := make(map[string]string, len(c.Security.AllowedPaths))
	for _, p := range c.Security.AllowedPaths {
		name := filepath.Base(strings.TrimRight(p, "/"))
		if name == "" || name == "." {
			continue
		}
		prefixes[name] = p
	}
	return paths.New(prefixes)
}

// Default returns a default configuration mirroring the original's
// struct-literal defaults field for field.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			MaxTurnsPerTask:       50,
			MaxRetries:            3,
			AutoTrainTRM:          true,
			UseTRMRecommendations: true,
			SystemPrompt:          "You are gpagent, an autonomous AI agent. Use the available tools to complete the user's task, and be concise in your final response.",
		},
		LLM: LLMConfig{
			PrimaryProvider:    "anthropic",
			PrimaryModel:       "claude-opus-4-5-20251101",
			FallbackProvider:   "gemini",
			FallbackModel:      "gemini-3-pro-preview",
			SummarizationModel: "claude-3-5-haiku-20241022",
			MaxRetries:         3,
			TimeoutMS:          120000,
			Temperature:        0.7,
		},
		Search: SearchConfig{
			Provider:   "perplexity",
			MaxResults: 10,
			TimeoutMS:  30000,
			SafeSearch: true,
		},
		Memory: MemoryConfig{
			StoragePath:        "~/.gpagent/storage",
			DataDir:            "~/.gpagent/data",
			MaxEpisodes:        10000,
			CheckpointInterval: 10,
			AutoCheckpoint:     true,
		},
		Context: ContextConfig{
			MaxTokens:           180000,
			CompactionThreshold: 150000,
			KeepRawTurns:        10,
			SummarizeBatch:      21,
			ReservedForResponse: 30000,
		},
		TRM: TRMConfig{
			Enabled:                   true,
			Mode:                      "unsupervised",
			ModelPath:                 "~/.gpagent/models/trm_tool_selector.pt",
			MinEpisodesBeforeTraining: 5,
			HiddenSize:                512,
			NumLayers:                 2,
			T:                         3,
			N:                         6,
			NSup:                      16,
			Epochs:                    10,
			LearningRate:              0.001,
			EMADecay:                  0.999,
			RetrainIntervalHours:      24,
			FallbackMode:              "rules",
			LossWeights: TRMLossWeights{
				Contrastive: 1.0,
				NextAction:  0.5,
				Outcome:     0.3,
				Masked:      0.2,
			},
		},
		Tools: ToolsConfig{
			Builtin: map[string]ToolConfig{
				"file_read":  {Enabled: true, MaxLines: 2000, TimeoutMS: 60000},
				"file_write": {Enabled: true, RequireConfirm: true, TimeoutMS: 60000},
				"file_edit":  {Enabled: true, RequireConfirm: true, TimeoutMS: 60000},
				"bash":       {Enabled: true, TimeoutMS: 120000},
				"grep":       {Enabled: true, TimeoutMS: 60000},
				"glob":       {Enabled: true, TimeoutMS: 60000},
				"web_search": {Enabled: true, TimeoutMS: 30000},
				"web_fetch":  {Enabled: true, TimeoutMS: 30000},
			},
		},
		Training: TrainingConfig{
			AutoCollect:            true,
			MinEpisodesForTraining: 100,
			TrainIntervalHours:     24,
			LearningRate:           1e-4,
			BatchSize:              64,
		},
		Concurrency: ConcurrencyConfig{
			ThreadPoolSize:   4,
			MaxParallelTools: 4,
			AsyncLLM:         true,
		},
		Security: SecurityConfig{
			BashSandbox:     true,
			AllowedPaths:    []string{"${HOME}", "${PWD}", "/tmp"},
			BlockedCommands: []string{"rm -rf /", "sudo", "> /dev/sd", "dd if=/dev/zero"},
			MaxFileSizeMB:   100,
		},
		Observability: ObservabilityConfig{
			LogLevel:       "info",
			LogPath:        "~/.gpagent/logs",
			MetricsEnabled: true,
			MetricsPort:    9090,
		},
		Pricing: map[string]PricingEntry{
			"claude-opus-4-5-20251101":   {InputPerMillion: 15.0, OutputPerMillion: 75.0},
			"claude-3-5-haiku-20241022":  {InputPerMillion: 0.8, OutputPerMillion: 4.0},
			"gemini-3-pro-preview":       {InputPerMillion: 2.0, OutputPerMillion: 12.0},
		},
		LogLevel: "info",
	}
}
