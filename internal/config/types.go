package config

import (
	"fmt"
	"time"
)

// Config holds all configuration for the adapter
type Config struct {
	ConnectionURLs        *[]string       `yaml:"connection_urls,omitempty" mapstructure:"connection_urls"`
	Filename              string          `yaml:"-" mapstructure:"-"`
	Connection            string          `yaml:"connection" mapstructure:"connection"`
	BaseURL               string          `yaml:"base_url" mapstructure:"base_url"`
	DefaultModel          string          `yaml:"default_model" mapstructure:"default_model"`
	Logging               LoggingConfig   `yaml:"logging" mapstructure:"logging"`
	Paths                 PathsConfig     `yaml:"paths" mapstructure:"paths"`
	Discovery             DiscoveryConfig `yaml:"discovery" mapstructure:"discovery"`
	Cache                 CacheConfig     `yaml:"cache" mapstructure:"cache"`
	Server                ServerConfig    `yaml:"server" mapstructure:"server"`
	RequiredModels        []string        `yaml:"required_models" mapstructure:"required_models"`
	Readiness             ReadinessConfig `yaml:"readiness" mapstructure:"readiness"`
	Probe                 ProbeConfig     `yaml:"probe" mapstructure:"probe"`
	MaxConcurrentRequests int             `yaml:"max_concurrent_requests" mapstructure:"max_concurrent_requests"`
	RemediationTimeout    time.Duration   `yaml:"remediation_timeout" mapstructure:"remediation_timeout"`
	AutoRemediate         bool            `yaml:"auto_remediate" mapstructure:"auto_remediate"`
}

// ReadinessConfig controls how long callers wait and whether Degraded counts as usable
type ReadinessConfig struct {
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
	Strict  bool          `yaml:"strict" mapstructure:"strict"`
}

// ProbeConfig bounds candidate probing
type ProbeConfig struct {
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"`
	Concurrency int           `yaml:"concurrency" mapstructure:"concurrency"`
}

// PathsConfig holds the backend API paths, relative to the resolved endpoint
type PathsConfig struct {
	Probe       string `yaml:"probe" mapstructure:"probe"`
	Install     string `yaml:"install" mapstructure:"install"`
	Remove      string `yaml:"remove" mapstructure:"remove"`
	Generate    string `yaml:"generate" mapstructure:"generate"`
	Chat        string `yaml:"chat" mapstructure:"chat"`
	Embed       string `yaml:"embed" mapstructure:"embed"`
	CatalogPath string `yaml:"catalog_path" mapstructure:"catalog_path"`
}

// DiscoveryConfig holds topology heuristics used when connection is auto
type DiscoveryConfig struct {
	ServiceName   string           `yaml:"service_name" mapstructure:"service_name"`
	ContainerHost string           `yaml:"container_host" mapstructure:"container_host"`
	HostGateway   string           `yaml:"host_gateway" mapstructure:"host_gateway"`
	Kubernetes    KubernetesConfig `yaml:"kubernetes" mapstructure:"kubernetes"`
	DefaultPort   int              `yaml:"default_port" mapstructure:"default_port"`
}

// KubernetesConfig enables in-cluster service lookups through the API server
type KubernetesConfig struct {
	Service   string `yaml:"service" mapstructure:"service"`
	Namespace string `yaml:"namespace" mapstructure:"namespace"`
	PortName  string `yaml:"port_name" mapstructure:"port_name"`
	Enabled   bool   `yaml:"enabled" mapstructure:"enabled"`
}

// CacheConfig controls the on-disk capability cache
type CacheConfig struct {
	Dir     string        `yaml:"dir" mapstructure:"dir"`
	TTL     time.Duration `yaml:"ttl" mapstructure:"ttl"`
	Enabled bool          `yaml:"enabled" mapstructure:"enabled"`
}

// ServerConfig holds the status server configuration
type ServerConfig struct {
	Host            string        `yaml:"host" mapstructure:"host"`
	Port            int           `yaml:"port" mapstructure:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// GetAddress returns the server address in host:port format
func (s *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `yaml:"level" mapstructure:"level"`
	Dir        string `yaml:"dir" mapstructure:"dir"`
	Theme      string `yaml:"theme" mapstructure:"theme"`
	MaxSize    int    `yaml:"max_size" mapstructure:"max_size"` // megabytes
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`
	MaxAge     int    `yaml:"max_age" mapstructure:"max_age"` // days
	FileOutput bool   `yaml:"file_output" mapstructure:"file_output"`
}
