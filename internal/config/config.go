// Package config handles Klix configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Provider names selectable via config or the /model command.
const (
	ProviderGemini = "gemini"
	ProviderOllama = "ollama"
)

// Config is the root configuration for Klix.
type Config struct {
	Provider string       `yaml:"provider"` // gemini | ollama
	Gemini   GeminiConfig `yaml:"gemini"`
	Ollama   OllamaConfig `yaml:"ollama"`
	User     UserConfig   `yaml:"user"`
	Memory   MemoryConfig `yaml:"memory"`
	Search   SearchConfig `yaml:"search"`
	Window   WindowConfig `yaml:"window"`
	Server   ServerConfig `yaml:"server"`
	Shell    ShellConfig  `yaml:"shell"`

	ProjectRoot string `yaml:"projectRoot"`
	LogLevel    string `yaml:"logLevel"`
}

type GeminiConfig struct {
	APIKey  string `yaml:"apiKey"`
	APIBase string `yaml:"apiBase,omitempty"`
	Model   string `yaml:"model"`
}

type OllamaConfig struct {
	Host  string `yaml:"host"`
	Model string `yaml:"model"`
}

type UserConfig struct {
	Name string `yaml:"name"`
	Org  string `yaml:"org"`
}

type MemoryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	DBPath      string `yaml:"dbPath"`
	UserID      string `yaml:"userId"`
	SearchLimit int    `yaml:"searchLimit"`
	AutoExtract bool   `yaml:"autoExtract"`
}

type SearchConfig struct {
	TavilyAPIKey string `yaml:"tavilyApiKey"`
}

type WindowConfig struct {
	MaxMessages int `yaml:"maxMessages"`
	WindowSize  int `yaml:"windowSize"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type ShellConfig struct {
	TimeoutSeconds int `yaml:"timeoutSeconds"`
	MaxOutputBytes int `yaml:"maxOutputBytes"`
}

// DefaultConfigDir returns the default config directory (~/.config/klix).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".klix"
	}
	return filepath.Join(home, ".config", "klix")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// SearchPaths returns the config file search order. An explicit path (from
// the --config flag) is honored by Load directly.
func SearchPaths() []string {
	return []string{"klix.yaml", DefaultConfigPath()}
}

// Defaults returns a configuration with built-in defaults applied.
func Defaults() *Config {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	return &Config{
		Provider: ProviderGemini,
		Gemini: GeminiConfig{
			Model: "gemini-2.5-flash",
		},
		Ollama: OllamaConfig{
			Host:  "http://localhost:11434",
			Model: "qwen2.5:latest",
		},
		User: UserConfig{
			Name: "default",
			Org:  "personal",
		},
		Memory: MemoryConfig{
			Enabled:     true,
			DBPath:      filepath.Join(DefaultConfigDir(), "memory.db"),
			UserID:      "default",
			SearchLimit: 10,
			AutoExtract: true,
		},
		Window: WindowConfig{
			MaxMessages: 50,
			WindowSize:  20,
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8080,
		},
		Shell: ShellConfig{
			TimeoutSeconds: 30,
			MaxOutputBytes: 65536,
		},
		ProjectRoot: cwd,
		LogLevel:    "info",
	}
}

// Load reads configuration: a .env file when present, then the YAML config
// file (explicit path, or the first search path that exists), then
// environment overrides. A missing config file is not an error; defaults
// plus environment apply.
func Load(explicit string) (*Config, error) {
	_ = godotenv.Load() // best-effort; absence of .env is normal

	cfg := Defaults()

	path := explicit
	if path == "" {
		for _, p := range SearchPaths() {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
		}
		data = []byte(ExpandEnvVars(string(data)))
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.Memory.DBPath = expandPath(cfg.Memory.DBPath)
	cfg.ProjectRoot = expandPath(cfg.ProjectRoot)
	return cfg, nil
}

// applyEnv applies environment variable overrides on top of file values.
func (c *Config) applyEnv() {
	if v := os.Getenv("GOOGLE_API_KEY"); v != "" {
		c.Gemini.APIKey = v
	}
	if v := os.Getenv("GEMINI_MODEL"); v != "" {
		c.Gemini.Model = v
	}
	if v := os.Getenv("OLLAMA_HOST"); v != "" {
		c.Ollama.Host = v
	}
	if v := os.Getenv("OLLAMA_MODEL"); v != "" {
		c.Ollama.Model = v
	}
	if v := os.Getenv("TAVILY_API_KEY"); v != "" {
		c.Search.TavilyAPIKey = v
	}
	if v := os.Getenv("USER_NAME"); v != "" {
		c.User.Name = v
		if c.Memory.UserID == "" || c.Memory.UserID == "default" {
			c.Memory.UserID = v
		}
	}
	if v := os.Getenv("ORG_NAME"); v != "" {
		c.User.Org = v
	}
	if v := os.Getenv("MEMORY_ENABLED"); v != "" {
		c.Memory.Enabled = strings.EqualFold(v, "true")
	}
	// DEFAULT_MODEL selects both provider and model: gemini-prefixed names
	// route to the cloud provider, everything else to Ollama.
	if v := os.Getenv("DEFAULT_MODEL"); v != "" {
		if strings.HasPrefix(v, "gemini") {
			c.Provider = ProviderGemini
			c.Gemini.Model = v
		} else {
			c.Provider = ProviderOllama
			c.Ollama.Model = v
		}
	}
}

// CurrentModel returns the model name for the active provider.
func (c *Config) CurrentModel() string {
	if c.Provider == ProviderOllama {
		return c.Ollama.Model
	}
	return c.Gemini.Model
}

// SwitchProvider changes the active provider. Only known names are accepted.
func (c *Config) SwitchProvider(name string) error {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case ProviderGemini, ProviderOllama:
		c.Provider = name
		return nil
	default:
		return fmt.Errorf("invalid provider: %s (valid: gemini, ollama)", name)
	}
}

// SwitchModel changes the model within the active provider.
func (c *Config) SwitchModel(model string) {
	if c.Provider == ProviderOllama {
		c.Ollama.Model = model
		return
	}
	c.Gemini.Model = model
}

// Validate returns non-fatal configuration warnings. A missing credential
// does not stop the session; the provider call will fail when invoked.
func (c *Config) Validate() []string {
	var issues []string
	if c.Provider == ProviderGemini && c.Gemini.APIKey == "" {
		issues = append(issues, "GOOGLE_API_KEY is not set; Gemini calls will fail until it is configured")
	}
	if c.Window.MaxMessages > 0 && c.Window.WindowSize > c.Window.MaxMessages {
		issues = append(issues, "window.windowSize exceeds window.maxMessages; eviction will never shrink the window")
	}
	return issues
}

// Save writes the configuration as YAML.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset
// or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		name := groups[1]
		def := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			def = groups[2]
		}
		val, exists := os.LookupEnv(name)
		if !exists || val == "" {
			if hasDefault {
				return def
			}
			return match
		}
		return val
	})
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
