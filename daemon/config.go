package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/piyushagarwal-55/flowforge/core"
	"github.com/piyushagarwal-55/flowforge/graph"
	"github.com/piyushagarwal-55/flowforge/server"
)

const (
	projectConfigName = "flowforge.yaml"
	homeConfigDir     = ".flowforge"
	homeConfigName    = "config.yaml"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config is the flowforge.yaml file shape.
type Config struct {
	HTTP           HTTPConfig              `yaml:"http"`
	Storage        StorageConfig           `yaml:"storage"`
	Events         EventsConfig            `yaml:"events"`
	Ledger         LedgerConfig            `yaml:"ledger"`
	Runtime        RuntimeConfig           `yaml:"runtime"`
	Telemetry      TelemetryConfig         `yaml:"telemetry"`
	LLM            LLMConfig               `yaml:"llm"`
	DefinitionsDir string                  `yaml:"definitions_dir,omitempty"`
	Servers        []core.ServerDefinition `yaml:"servers,omitempty"`
	Workflows      []WorkflowConfig        `yaml:"workflows,omitempty"`
	Schedules      []server.Schedule       `yaml:"schedules,omitempty"`
}

// HTTPConfig controls the API listener.
type HTTPConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	CORSOrigin string `yaml:"cors_origin,omitempty"`
	MaxBody    int64  `yaml:"max_body,omitempty"`

	// AllowAnonymous admits tool calls without an X-Agent-ID header on the
	// invoke and MCP routes.
	AllowAnonymous bool `yaml:"allow_anonymous,omitempty"`
}

// Addr returns host:port.
func (c HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// StorageConfig selects the definition and workflow store. For sqlite the
// DSN is a file path; for postgres it is a connection string.
type StorageConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn,omitempty"`
}

// EventsConfig sizes the runtime event ring buffer.
type EventsConfig struct {
	Capacity int `yaml:"capacity"`
}

// LedgerConfig bounds the invocation ledger. Zero keeps every invocation.
type LedgerConfig struct {
	MaxInvocations int `yaml:"max_invocations"`
}

// RuntimeConfig holds runtime manager options.
type RuntimeConfig struct {
	InvokeTimeout time.Duration `yaml:"invoke_timeout,omitempty"`
}

// TelemetryConfig controls OpenTelemetry export.
type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty"`
	ServiceName  string `yaml:"service_name,omitempty"`
	MaxInFlight  int    `yaml:"max_in_flight,omitempty"`
}

// LLMConfig selects the provider behind the ai.complete tool. The API key is
// read from the environment variable named by APIKeyEnv.
type LLMConfig struct {
	Provider  string `yaml:"provider,omitempty"`
	APIKeyEnv string `yaml:"api_key_env,omitempty"`
	Model     string `yaml:"model,omitempty"`
}

// APIKey resolves the configured key from the environment.
func (c LLMConfig) APIKey() string {
	if c.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.APIKeyEnv)
}

// WorkflowConfig declares a saved workflow. The graph is either inline or
// read from File, relative to the config file.
type WorkflowConfig struct {
	ID          string            `yaml:"id,omitempty"`
	Name        string            `yaml:"name,omitempty"`
	Description string            `yaml:"description,omitempty"`
	ServerID    string            `yaml:"server,omitempty"`
	File        string            `yaml:"file,omitempty"`
	Graph       *graph.Definition `yaml:"graph,omitempty"`
}

// DefaultConfig returns the configuration used when no file is found.
func DefaultConfig() Config {
	var cfg Config
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.HTTP.Host == "" {
		c.HTTP.Host = "127.0.0.1"
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = DriverMemory
	}
	if c.Events.Capacity <= 0 {
		c.Events.Capacity = 1000
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "flowforge"
	}
	if c.Telemetry.MaxInFlight <= 0 {
		c.Telemetry.MaxInFlight = 64
	}
}

// Validate reports configuration errors that defaults cannot repair.
func (c Config) Validate() error {
	var errs []error
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverSQLite, DriverPostgres:
		if strings.TrimSpace(c.Storage.DSN) == "" {
			errs = append(errs, fmt.Errorf("storage: %s driver requires dsn", c.Storage.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("storage: unsupported driver %q", c.Storage.Driver))
	}
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("http: invalid port %d", c.HTTP.Port))
	}
	if c.Ledger.MaxInvocations < 0 {
		errs = append(errs, errors.New("ledger: max_invocations must not be negative"))
	}
	for i, wf := range c.Workflows {
		if wf.Graph == nil && wf.File == "" {
			errs = append(errs, fmt.Errorf("workflows[%d]: graph or file is required", i))
		}
	}
	return errors.Join(errs...)
}

// DiscoverConfigPath resolves the config location with first-match
// semantics: the explicit path, ./flowforge.yaml, ~/.flowforge/config.yaml.
func DiscoverConfigPath(explicitPath string) (string, bool, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", false, fmt.Errorf("resolve working directory: %w", err)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", false, fmt.Errorf("resolve user home: %w", err)
	}
	return DiscoverConfigPathFrom(explicitPath, cwd, homeDir)
}

// DiscoverConfigPathFrom is a testable variant of DiscoverConfigPath.
func DiscoverConfigPathFrom(explicitPath, cwd, homeDir string) (string, bool, error) {
	candidates := make([]string, 0, 2)
	if clean := strings.TrimSpace(explicitPath); clean != "" {
		candidates = append(candidates, filepath.Clean(clean))
	} else {
		candidates = append(candidates, filepath.Join(cwd, projectConfigName))
		candidates = append(candidates, filepath.Join(homeDir, homeConfigDir, homeConfigName))
	}

	for i, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, true, nil
		}
		if errors.Is(err, os.ErrNotExist) {
			// If explicit path is set, not found is an error.
			if i == 0 && strings.TrimSpace(explicitPath) != "" {
				return "", false, fmt.Errorf("config file %q not found", candidate)
			}
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("checking config path %q: %w", candidate, err)
		}
	}
	return "", false, nil
}

// LoadConfig reads a config file, applies defaults and resolves paths
// relative to the file's directory. An empty path yields DefaultConfig.
func LoadConfig(path string) (Config, error) {
	clean := strings.TrimSpace(path)
	if clean == "" {
		return DefaultConfig(), nil
	}

	// #nosec G304 -- path resolved from explicit local config discovery.
	data, err := os.ReadFile(clean)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %q: %w", clean, err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return Config{}, fmt.Errorf("parsing config %q: %w", clean, err)
	}

	baseDir := filepath.Dir(clean)
	if cfg.DefinitionsDir != "" {
		cfg.DefinitionsDir = resolveConfigRelative(baseDir, cfg.DefinitionsDir)
	}
	if cfg.Storage.Driver == DriverSQLite && cfg.Storage.DSN != "" && !strings.HasPrefix(cfg.Storage.DSN, "file:") {
		cfg.Storage.DSN = resolveConfigRelative(baseDir, cfg.Storage.DSN)
	}
	for i := range cfg.Workflows {
		if cfg.Workflows[i].File != "" {
			cfg.Workflows[i].File = resolveConfigRelative(baseDir, cfg.Workflows[i].File)
		}
	}
	return cfg, nil
}

// ParseConfig decodes YAML config data and applies defaults. Environment
// references in the storage DSN and definitions directory are expanded.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	cfg.Storage.Driver = strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	cfg.Storage.DSN = expandEnvValue(cfg.Storage.DSN)
	cfg.DefinitionsDir = expandEnvValue(cfg.DefinitionsDir)
	cfg.Telemetry.OTLPEndpoint = expandEnvValue(cfg.Telemetry.OTLPEndpoint)
	cfg.applyDefaults()
	return cfg, nil
}

func expandEnvValue(value string) string {
	return os.ExpandEnv(strings.TrimSpace(value))
}

func resolveConfigRelative(baseDir, p string) string {
	clean := filepath.Clean(p)
	if filepath.IsAbs(clean) {
		return clean
	}
	return filepath.Join(baseDir, clean)
}
