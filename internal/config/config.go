package config

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix prefixes every environment override, e.g. OPTIMUS_LLM_MODEL.
const EnvPrefix = "OPTIMUS_"

type Config struct {
	DataDir       string `json:"data_dir" env:"DATA_DIR"`
	LogLevel      string `json:"log_level" env:"LOG_LEVEL"`
	LogFormat     string `json:"log_format" env:"LOG_FORMAT"`
	LogFile       string `json:"log_file" env:"LOG_FILE"`
	TraceFile     string `json:"trace_file" env:"TRACE_FILE"`
	MaxConcurrent int    `json:"max_concurrent" env:"MAX_CONCURRENT"`
	MaxToolRounds int    `json:"max_tool_rounds" env:"MAX_TOOL_ROUNDS"`

	HTTP struct {
		Listen    string  `json:"listen" env:"LISTEN"`
		RateLimit float64 `json:"rate_limit" env:"RATE_LIMIT"`
		RateBurst int     `json:"rate_burst" env:"RATE_BURST"`
	} `json:"http" envPrefix:"HTTP_"`

	LLM struct {
		Provider            string  `json:"provider" env:"PROVIDER"`
		BaseURL             string  `json:"base_url" env:"BASE_URL"`
		APIKey              string  `json:"api_key" env:"API_KEY"`
		Model               string  `json:"model" env:"MODEL"`
		Temperature         float64 `json:"temperature" env:"TEMPERATURE"`
		TimeoutSeconds      int     `json:"timeout_seconds" env:"TIMEOUT_SECONDS"`
		RetryAttempts       int     `json:"retry_attempts" env:"RETRY_ATTEMPTS"`
		MaxToolResultTokens int     `json:"max_tool_result_tokens" env:"MAX_TOOL_RESULT_TOKENS"`
		Encoding            string  `json:"encoding" env:"ENCODING"`
	} `json:"llm" envPrefix:"LLM_"`

	MCP struct {
		URL              string `json:"url" env:"URL"`
		TimeoutSeconds   int    `json:"timeout_seconds" env:"TIMEOUT_SECONDS"`
		ClientName       string `json:"client_name" env:"CLIENT_NAME"`
		ClientVersion    string `json:"client_version" env:"CLIENT_VERSION"`
		ExposeIndexTools bool   `json:"expose_index_tools" env:"EXPOSE_INDEX_TOOLS"`
	} `json:"mcp" envPrefix:"MCP_"`

	ToolServer struct {
		Listen          string `json:"listen" env:"LISTEN"`
		Name            string `json:"name" env:"NAME"`
		Version         string `json:"version" env:"VERSION"`
		IndexPath       string `json:"index_path" env:"INDEX_PATH"`
		RefreshSchedule string `json:"refresh_schedule" env:"REFRESH_SCHEDULE"`
		Watch           bool   `json:"watch" env:"WATCH"`
	} `json:"tool_server" envPrefix:"TOOL_SERVER_"`

	// DSNs come from the file only: connection strings contain the
	// separators env uses for maps.
	Database struct {
		Driver  string            `json:"driver" env:"DRIVER"`
		Default string            `json:"default" env:"DEFAULT"`
		DSNs    map[string]string `json:"dsns"`
	} `json:"database" envPrefix:"DATABASE_"`

	Telegram struct {
		Token string `json:"token" env:"TOKEN"`
		Model string `json:"model" env:"MODEL"`
	} `json:"telegram" envPrefix:"TELEGRAM_"`

	Transcripts struct {
		Enabled bool `json:"enabled" env:"ENABLED"`
	} `json:"transcripts" envPrefix:"TRANSCRIPTS_"`
}

// Defaults returns a Config holding every default value.
func Defaults() *Config {
	cfg := &Config{
		DataDir:       filepath.Join(os.Getenv("HOME"), ".optimus"),
		LogLevel:      "info",
		LogFormat:     "text",
		MaxConcurrent: 8,
		MaxToolRounds: 20,
	}
	cfg.HTTP.Listen = ":8000"
	cfg.HTTP.RateBurst = 10

	cfg.LLM.Provider = "ollama"
	cfg.LLM.BaseURL = "http://localhost:11434"
	cfg.LLM.Model = "ministral-3:8b"
	cfg.LLM.Temperature = 0.7
	cfg.LLM.TimeoutSeconds = 60
	cfg.LLM.RetryAttempts = 2
	cfg.LLM.Encoding = "cl100k_base"

	cfg.MCP.URL = "http://localhost:8001/mcp"
	cfg.MCP.TimeoutSeconds = 60
	cfg.MCP.ClientName = "optimus-api"
	cfg.MCP.ClientVersion = "2.0.0"

	cfg.ToolServer.Listen = ":8001"
	cfg.ToolServer.Name = "Company SQL Database MCP"
	cfg.ToolServer.Version = "1.0.0"

	cfg.Database.Driver = "sqlserver"
	cfg.Database.Default = "BoltAtom"
	cfg.Database.DSNs = map[string]string{}
	return cfg
}

// DefaultPath returns ~/.optimus/config.json.
func DefaultPath() string {
	return filepath.Join(os.Getenv("HOME"), ".optimus", "config.json")
}

// Load reads the config at path, creating it with defaults when missing,
// then applies OPTIMUS_ environment overrides.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	// Environment has the highest precedence.
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate checks values that would otherwise fail later at startup.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "ollama", "openai":
	default:
		return fmt.Errorf("llm.provider must be ollama or openai, got %q", c.LLM.Provider)
	}
	switch c.Database.Driver {
	case "sqlserver", "sqlite":
	default:
		return fmt.Errorf("database.driver must be sqlserver or sqlite, got %q", c.Database.Driver)
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("log_format must be text or json, got %q", c.LogFormat)
	}
	if c.MaxToolRounds < 0 || c.MaxConcurrent < 0 {
		return fmt.Errorf("max_tool_rounds and max_concurrent must not be negative")
	}
	return nil
}

// LLMTimeout returns llm.timeout_seconds as a duration.
func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLM.TimeoutSeconds) * time.Second
}

// MCPTimeout returns mcp.timeout_seconds as a duration.
func (c *Config) MCPTimeout() time.Duration {
	return time.Duration(c.MCP.TimeoutSeconds) * time.Second
}

// Databases returns the configured database names: the switch allow-list.
func (c *Config) Databases() []string {
	return slices.Sorted(maps.Keys(c.Database.DSNs))
}

// Save writes cfg to path atomically, creating the directory if needed.
func Save(path string, cfg *Config) error {
	m, err := ToMap(cfg)
	if err != nil {
		return err
	}
	return saveMap(path, m)
}

func saveMap(path string, m map[string]any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}
