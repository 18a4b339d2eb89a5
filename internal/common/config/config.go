// Package config provides configuration management for A4S.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for A4S.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	API        APIConfig        `mapstructure:"api"`
	Database   DatabaseConfig   `mapstructure:"database"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Docker     DockerConfig     `mapstructure:"docker"`
	Registry   RegistryConfig   `mapstructure:"registry"`
	Embeddings EmbeddingsConfig `mapstructure:"embeddings"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Backbone   BackboneConfig   `mapstructure:"backbone"`
	Channels   ChannelsConfig   `mapstructure:"channels"`
	Skills     SkillsConfig     `mapstructure:"skills"`
	Memory     MemoryConfig     `mapstructure:"memory"`
	Templates  TemplatesConfig  `mapstructure:"templates"`
	MCP        MCPConfig        `mapstructure:"mcp"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	ReadTimeout int    `mapstructure:"readTimeout"` // in seconds
	// WriteTimeout must stay above the proxy ceiling; proxied agent calls
	// can legitimately run for five minutes. Zero disables the deadline.
	WriteTimeout int `mapstructure:"writeTimeout"` // in seconds
}

// APIConfig holds settings for the public API surface.
type APIConfig struct {
	// BaseURL is the externally reachable URL of this API. It is injected
	// into every spawned agent container as A4S_API_URL.
	BaseURL string `mapstructure:"baseUrl"`

	// GatewayURL is the base URL agents are addressed through from outside
	// the agent network. Each container receives it as A4S_AGENT_URL with
	// its own path appended. Empty means same as BaseURL.
	GatewayURL string `mapstructure:"gatewayUrl"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
// When Host is empty the channel and skill stores fall back to SQLite.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbName"`
	SSLMode  string `mapstructure:"sslMode"`
	MaxConns int    `mapstructure:"maxConns"`
	MinConns int    `mapstructure:"minConns"`
}

// NATSConfig holds NATS messaging configuration.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClusterID     string `mapstructure:"clusterId"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// DockerConfig holds Docker client configuration for the agent runtime.
type DockerConfig struct {
	Host       string `mapstructure:"host"`
	APIVersion string `mapstructure:"apiVersion"`
	TLSVerify  bool   `mapstructure:"tlsVerify"`

	// Network is the bridge network agent containers are attached to.
	// Agents resolve each other by container name on this network.
	Network string `mapstructure:"network"`

	// AgentPort is the port agents listen on inside their container
	// unless the spawn config of a specific agent overrides it.
	AgentPort int `mapstructure:"agentPort"`
}

// RegistryConfig holds Redis connection settings for the agent registry.
type RegistryConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	Namespace string `mapstructure:"namespace"`
}

// EmbeddingsConfig selects and configures the embedding provider used for
// semantic agent and skill search.
type EmbeddingsConfig struct {
	// Provider is "local" for the built-in hashing embedder or "openai"
	// for an OpenAI-compatible /embeddings endpoint.
	Provider   string `mapstructure:"provider"`
	BaseURL    string `mapstructure:"baseUrl"`
	APIKey     string `mapstructure:"apiKey"`
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions"`
	Timeout    int    `mapstructure:"timeout"` // in seconds
}

// SchedulerConfig holds lifecycle scheduling configuration.
type SchedulerConfig struct {
	// IdleTimeout is how long a serverless agent may stay idle before the
	// reaper stops its container. In seconds.
	IdleTimeout int `mapstructure:"idleTimeout"`
	// ReaperInterval is how often the reaper scans for idle agents. In seconds.
	ReaperInterval int `mapstructure:"reaperInterval"`
}

// BackboneConfig describes the built-in backbone agent that is registered
// at startup and kept permanently running.
type BackboneConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	ID            string `mapstructure:"id"`
	Name          string `mapstructure:"name"`
	Description   string `mapstructure:"description"`
	Image         string `mapstructure:"image"`
	Version       string `mapstructure:"version"`
	ModelProvider string `mapstructure:"modelProvider"`
	ModelID       string `mapstructure:"modelId"`
	Instruction   string `mapstructure:"instruction"`
	MCPToolFilter string `mapstructure:"mcpToolFilter"`
}

// ChannelsConfig holds channel store configuration.
type ChannelsConfig struct {
	// DBPath is the SQLite database file used when database.host is unset.
	DBPath string `mapstructure:"dbPath"`
}

// SkillsConfig holds skill registry configuration.
type SkillsConfig struct {
	DBPath string `mapstructure:"dbPath"`
}

// MemoryConfig holds the connection settings for the external memory
// service. An empty BaseURL disables the memory API.
type MemoryConfig struct {
	BaseURL string `mapstructure:"baseUrl"`
	APIKey  string `mapstructure:"apiKey"`
	Timeout int    `mapstructure:"timeout"` // in seconds
}

// TemplatesConfig holds the template agent catalog configuration.
type TemplatesConfig struct {
	// Path points to a YAML catalog of template agents. Empty means the
	// built-in catalog.
	Path string `mapstructure:"path"`
}

// MCPConfig holds the embedded MCP server configuration.
type MCPConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
	// RequesterID rides as X-Requester-Id on every API call the MCP tools
	// make, identifying who owns memories written through the server.
	RequesterID string `mapstructure:"requesterId"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// IdleTimeoutDuration returns the idle timeout as a time.Duration.
func (s *SchedulerConfig) IdleTimeoutDuration() time.Duration {
	return time.Duration(s.IdleTimeout) * time.Second
}

// ReaperIntervalDuration returns the reaper interval as a time.Duration.
func (s *SchedulerConfig) ReaperIntervalDuration() time.Duration {
	return time.Duration(s.ReaperInterval) * time.Second
}

// TimeoutDuration returns the request timeout as a time.Duration.
func (e *EmbeddingsConfig) TimeoutDuration() time.Duration {
	return time.Duration(e.Timeout) * time.Second
}

// TimeoutDuration returns the request timeout as a time.Duration.
func (m *MemoryConfig) TimeoutDuration() time.Duration {
	return time.Duration(m.Timeout) * time.Second
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
// Returns "json" if running in Kubernetes or other production environments.
// Returns "text" for terminal/development use (human-readable console format).
func detectDefaultLogFormat() string {
	// Check if running in Kubernetes
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}

	// Check for explicit production environment
	if env := os.Getenv("A4S_ENV"); env == "production" || env == "prod" {
		return "json"
	}

	// Default to text format for terminal use (more readable than JSON)
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 360)

	// API defaults
	v.SetDefault("api.baseUrl", "http://localhost:8000")
	v.SetDefault("api.gatewayUrl", "")

	// Database defaults - empty host means SQLite stores
	v.SetDefault("database.host", "")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "a4s")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbName", "a4s")
	v.SetDefault("database.sslMode", "disable")
	v.SetDefault("database.maxConns", 25)
	v.SetDefault("database.minConns", 5)

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clusterId", "a4s-cluster")
	v.SetDefault("nats.clientId", "a4s-client")
	v.SetDefault("nats.maxReconnects", 10)

	// Docker defaults
	v.SetDefault("docker.host", "unix:///var/run/docker.sock")
	v.SetDefault("docker.apiVersion", "1.41")
	v.SetDefault("docker.tlsVerify", false)
	v.SetDefault("docker.network", "a4s-network")
	v.SetDefault("docker.agentPort", 8000)

	// Registry defaults
	v.SetDefault("registry.addr", "localhost:6379")
	v.SetDefault("registry.password", "")
	v.SetDefault("registry.db", 0)
	v.SetDefault("registry.namespace", "a4s")

	// Embeddings defaults - local hashing embedder needs no credentials
	v.SetDefault("embeddings.provider", "local")
	v.SetDefault("embeddings.baseUrl", "https://api.openai.com/v1")
	v.SetDefault("embeddings.apiKey", "")
	v.SetDefault("embeddings.model", "text-embedding-3-small")
	v.SetDefault("embeddings.dimensions", 256)
	v.SetDefault("embeddings.timeout", 30)

	// Scheduler defaults
	v.SetDefault("scheduler.idleTimeout", 300)
	v.SetDefault("scheduler.reaperInterval", 30)

	// Backbone defaults
	v.SetDefault("backbone.enabled", true)
	v.SetDefault("backbone.id", "backbone")
	v.SetDefault("backbone.name", "backbone")
	v.SetDefault("backbone.description", "Channel backbone agent that routes messages to the best-suited agents")
	v.SetDefault("backbone.image", "a4s-backbone:latest")
	v.SetDefault("backbone.version", "0.1.0")
	v.SetDefault("backbone.modelProvider", "google")
	v.SetDefault("backbone.modelId", "gemini-3-flash-preview")
	v.SetDefault("backbone.instruction", "")
	v.SetDefault("backbone.mcpToolFilter", "search_agents,send_a2a_message")

	// Channel store defaults
	v.SetDefault("channels.dbPath", "channels.db")

	// Skill registry defaults
	v.SetDefault("skills.dbPath", "skills.db")

	// Memory defaults - empty base URL disables the memory API
	v.SetDefault("memory.baseUrl", "")
	v.SetDefault("memory.apiKey", "")
	v.SetDefault("memory.timeout", 30)

	// Template catalog defaults - empty path means built-in catalog
	v.SetDefault("templates.path", "")

	// MCP server defaults
	v.SetDefault("mcp.enabled", true)
	v.SetDefault("mcp.port", 9090)
	v.SetDefault("mcp.requesterId", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix A4S_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory or /etc/a4s/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults first
	setDefaults(v)

	// Configure environment variables
	v.SetEnvPrefix("A4S")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for snake_case env vars (camelCase config keys)
	// AutomaticEnv does not handle camelCase to SNAKE_CASE conversion,
	// so we explicitly bind keys where env var naming differs from config key naming.
	_ = v.BindEnv("api.baseUrl", "A4S_API_BASE_URL")
	_ = v.BindEnv("api.gatewayUrl", "A4S_API_GATEWAY_URL", "AGENT_GATEWAY_URL")
	_ = v.BindEnv("docker.agentPort", "A4S_DOCKER_AGENT_PORT")
	_ = v.BindEnv("registry.addr", "A4S_REGISTRY_ADDR", "REDIS_ADDR")
	_ = v.BindEnv("embeddings.apiKey", "A4S_EMBEDDINGS_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("embeddings.baseUrl", "A4S_EMBEDDINGS_BASE_URL")
	_ = v.BindEnv("scheduler.idleTimeout", "A4S_SCHEDULER_IDLE_TIMEOUT")
	_ = v.BindEnv("scheduler.reaperInterval", "A4S_SCHEDULER_REAPER_INTERVAL")
	_ = v.BindEnv("backbone.modelProvider", "A4S_BACKBONE_MODEL_PROVIDER")
	_ = v.BindEnv("backbone.modelId", "A4S_BACKBONE_MODEL_ID")
	_ = v.BindEnv("backbone.mcpToolFilter", "A4S_BACKBONE_MCP_TOOL_FILTER")
	_ = v.BindEnv("channels.dbPath", "A4S_CHANNELS_DB_PATH")
	_ = v.BindEnv("skills.dbPath", "A4S_SKILLS_DB_PATH")
	_ = v.BindEnv("memory.baseUrl", "A4S_MEMORY_BASE_URL")
	_ = v.BindEnv("memory.apiKey", "A4S_MEMORY_API_KEY")
	_ = v.BindEnv("mcp.requesterId", "A4S_MCP_REQUESTER_ID")

	// Configure config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/a4s/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
// In development mode (default), most fields are optional.
func validate(cfg *Config) error {
	var errs []string

	// Server validation - always required
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	// Database validation - only if host is set (SQLite mode otherwise)
	if cfg.Database.Host != "" {
		if cfg.Database.Port <= 0 || cfg.Database.Port > 65535 {
			errs = append(errs, "database.port must be between 1 and 65535")
		}
		if cfg.Database.User == "" {
			errs = append(errs, "database.user is required when database.host is set")
		}
		if cfg.Database.DBName == "" {
			errs = append(errs, "database.dbName is required when database.host is set")
		}
	}

	// Docker validation
	if cfg.Docker.Network == "" {
		errs = append(errs, "docker.network is required")
	}
	if cfg.Docker.AgentPort <= 0 || cfg.Docker.AgentPort > 65535 {
		errs = append(errs, "docker.agentPort must be between 1 and 65535")
	}

	// Registry validation
	if cfg.Registry.Addr == "" {
		errs = append(errs, "registry.addr is required")
	}
	if cfg.Registry.Namespace == "" {
		errs = append(errs, "registry.namespace is required")
	}

	// Embeddings validation
	switch strings.ToLower(cfg.Embeddings.Provider) {
	case "local":
		if cfg.Embeddings.Dimensions <= 0 {
			errs = append(errs, "embeddings.dimensions must be positive")
		}
	case "openai":
		if cfg.Embeddings.APIKey == "" {
			errs = append(errs, "embeddings.apiKey is required when embeddings.provider is openai")
		}
	default:
		errs = append(errs, "embeddings.provider must be one of: local, openai")
	}

	// Scheduler validation
	if cfg.Scheduler.IdleTimeout <= 0 {
		errs = append(errs, "scheduler.idleTimeout must be positive")
	}
	if cfg.Scheduler.ReaperInterval <= 0 {
		errs = append(errs, "scheduler.reaperInterval must be positive")
	}

	// Backbone validation - only if enabled
	if cfg.Backbone.Enabled {
		if cfg.Backbone.ID == "" {
			errs = append(errs, "backbone.id is required when backbone.enabled is set")
		}
		if cfg.Backbone.Image == "" {
			errs = append(errs, "backbone.image is required when backbone.enabled is set")
		}
	}

	// MCP validation - only if enabled
	if cfg.MCP.Enabled {
		if cfg.MCP.Port <= 0 || cfg.MCP.Port > 65535 {
			errs = append(errs, "mcp.port must be between 1 and 65535")
		}
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}
