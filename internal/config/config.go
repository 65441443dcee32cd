package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/thushan/olla-link/internal/core/constants"
	"github.com/thushan/olla-link/internal/core/domain"
)

const (
	DefaultPort = 19842
	DefaultHost = "localhost"

	EnvPrefix         = "OLLA_LINK"
	EnvConfigFile     = "OLLA_LINK_CONFIG_FILE"
	EnvConnectionURLs = "OLLA_LINK_CONNECTION_URLS"

	DefaultMaxConcurrentRequests = 4
	DefaultProbeConcurrency      = 4
)

// ConnectionMode is the three-way reading of the connection setting.
// "auto" and "not set" are deliberately different things.
type ConnectionMode int

const (
	ConnectionUnset ConnectionMode = iota
	ConnectionAuto
	ConnectionExplicit
)

func (m ConnectionMode) String() string {
	switch m {
	case ConnectionAuto:
		return "auto"
	case ConnectionExplicit:
		return "explicit"
	default:
		return "unset"
	}
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		MaxConcurrentRequests: DefaultMaxConcurrentRequests,
		AutoRemediate:         true,
		RemediationTimeout:    constants.DefaultRemediationTimeout,
		Readiness: ReadinessConfig{
			Timeout: constants.DefaultReadinessTimeout,
			Strict:  false,
		},
		Probe: ProbeConfig{
			Timeout:     constants.DefaultProbeTimeout,
			Concurrency: DefaultProbeConcurrency,
		},
		Paths: PathsConfig{
			Probe:       constants.PathProbe,
			Install:     constants.PathInstall,
			Remove:      constants.PathRemove,
			Generate:    constants.PathGenerate,
			Chat:        constants.PathChat,
			Embed:       constants.PathEmbed,
			CatalogPath: constants.DefaultCatalogPath,
		},
		Discovery: DiscoveryConfig{
			ServiceName:   constants.DefaultContainerHost,
			ContainerHost: constants.DefaultContainerHost,
			HostGateway:   constants.DefaultHostGateway,
			DefaultPort:   constants.DefaultBackendPort,
			Kubernetes: KubernetesConfig{
				Enabled:  true,
				Service:  constants.DefaultContainerHost,
				PortName: "http",
			},
		},
		Cache: CacheConfig{
			Enabled: true,
			Dir:     defaultCacheDir(),
			TTL:     constants.DefaultCacheTTL,
		},
		Server: ServerConfig{
			Host:            DefaultHost,
			Port:            DefaultPort,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Dir:        "./logs",
			Theme:      "default",
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
			FileOutput: false,
		},
	}
}

func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil && dir != "" {
		return filepath.Join(dir, "olla-link")
	}
	return filepath.Join(os.TempDir(), "olla-link")
}

// Load loads configuration from file and environment variables
func Load() (*Config, error) {
	cfg, _, err := load()
	return cfg, err
}

// LoadAndWatch loads configuration and calls onChange with a freshly loaded
// copy whenever the config file changes on disk
func LoadAndWatch(onChange func(fsnotify.Event, *Config, error)) (*Config, error) {
	cfg, v, err := load()
	if err != nil {
		return nil, err
	}

	if v.ConfigFileUsed() == "" || onChange == nil {
		return cfg, nil
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		fresh := DefaultConfig()
		if err := decode(v, fresh); err != nil {
			onChange(e, nil, err)
			return
		}
		fresh.Filename = v.ConfigFileUsed()
		onChange(e, fresh, fresh.Validate())
	})
	v.WatchConfig()

	return cfg, nil
}

func load() (*Config, *viper.Viper, error) {
	config := DefaultConfig()
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, config)

	if configFile := os.Getenv(EnvConfigFile); configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
		}
	} else if err := v.ReadInConfig(); err != nil {
		// It's okay if config file doesn't exist
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := decode(v, config); err != nil {
		return nil, nil, err
	}
	config.Filename = v.ConfigFileUsed()

	if err := config.Validate(); err != nil {
		return nil, nil, err
	}

	return config, v, nil
}

func decode(v *viper.Viper, config *Config) error {
	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("unable to decode config: %w", err)
	}

	// viper can't tell an empty list from a missing one, so look at the
	// sources directly: a set-but-empty list is a configuration error later on
	if raw, ok := os.LookupEnv(EnvConnectionURLs); ok {
		urls := splitList(raw)
		config.ConnectionURLs = &urls
	} else if v.InConfig("connection_urls") && config.ConnectionURLs == nil {
		config.ConnectionURLs = &[]string{}
	}

	return nil
}

// setDefaults registers every key so AutomaticEnv can see it during Unmarshal
func setDefaults(v *viper.Viper, c *Config) {
	v.SetDefault("connection", c.Connection)
	v.SetDefault("base_url", c.BaseURL)
	v.SetDefault("default_model", c.DefaultModel)
	v.SetDefault("required_models", append([]string{}, c.RequiredModels...))
	v.SetDefault("max_concurrent_requests", c.MaxConcurrentRequests)
	v.SetDefault("auto_remediate", c.AutoRemediate)
	v.SetDefault("remediation_timeout", c.RemediationTimeout)

	v.SetDefault("readiness.timeout", c.Readiness.Timeout)
	v.SetDefault("readiness.strict", c.Readiness.Strict)
	v.SetDefault("probe.timeout", c.Probe.Timeout)
	v.SetDefault("probe.concurrency", c.Probe.Concurrency)

	v.SetDefault("paths.probe", c.Paths.Probe)
	v.SetDefault("paths.install", c.Paths.Install)
	v.SetDefault("paths.remove", c.Paths.Remove)
	v.SetDefault("paths.generate", c.Paths.Generate)
	v.SetDefault("paths.chat", c.Paths.Chat)
	v.SetDefault("paths.embed", c.Paths.Embed)
	v.SetDefault("paths.catalog_path", c.Paths.CatalogPath)

	v.SetDefault("discovery.service_name", c.Discovery.ServiceName)
	v.SetDefault("discovery.container_host", c.Discovery.ContainerHost)
	v.SetDefault("discovery.host_gateway", c.Discovery.HostGateway)
	v.SetDefault("discovery.default_port", c.Discovery.DefaultPort)
	v.SetDefault("discovery.kubernetes.enabled", c.Discovery.Kubernetes.Enabled)
	v.SetDefault("discovery.kubernetes.service", c.Discovery.Kubernetes.Service)
	v.SetDefault("discovery.kubernetes.namespace", c.Discovery.Kubernetes.Namespace)
	v.SetDefault("discovery.kubernetes.port_name", c.Discovery.Kubernetes.PortName)

	v.SetDefault("cache.enabled", c.Cache.Enabled)
	v.SetDefault("cache.dir", c.Cache.Dir)
	v.SetDefault("cache.ttl", c.Cache.TTL)

	v.SetDefault("server.host", c.Server.Host)
	v.SetDefault("server.port", c.Server.Port)
	v.SetDefault("server.shutdown_timeout", c.Server.ShutdownTimeout)

	v.SetDefault("logging.level", c.Logging.Level)
	v.SetDefault("logging.dir", c.Logging.Dir)
	v.SetDefault("logging.theme", c.Logging.Theme)
	v.SetDefault("logging.max_size", c.Logging.MaxSize)
	v.SetDefault("logging.max_backups", c.Logging.MaxBackups)
	v.SetDefault("logging.max_age", c.Logging.MaxAge)
	v.SetDefault("logging.file_output", c.Logging.FileOutput)
}

func splitList(raw string) []string {
	out := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ConnectionMode reads the connection setting as unset, auto or explicit
func (c *Config) ConnectionMode() ConnectionMode {
	value := strings.TrimSpace(c.Connection)
	switch {
	case value == "":
		return ConnectionUnset
	case strings.EqualFold(value, constants.ConnectionAuto):
		return ConnectionAuto
	default:
		return ConnectionExplicit
	}
}

// ExplicitURLs returns the configured endpoints when discovery must not run.
// A nil slice with a nil error means "discover". An explicitly empty list is
// an error rather than a silent fallback to discovery.
func (c *Config) ExplicitURLs() ([]string, error) {
	switch c.ConnectionMode() {
	case ConnectionExplicit:
		return []string{strings.TrimSpace(c.Connection)}, nil
	case ConnectionAuto:
		return nil, nil
	}

	if c.ConnectionURLs != nil {
		urls := *c.ConnectionURLs
		if len(urls) == 0 {
			return nil, domain.NewConfigValidationError("connection_urls", "[]", "explicit endpoint list is empty")
		}
		return urls, nil
	}

	if base := strings.TrimSpace(c.BaseURL); base != "" {
		return []string{base}, nil
	}

	return nil, nil
}

// AllRequiredModels merges the default model into the required list without duplicates
func (c *Config) AllRequiredModels() []string {
	seen := make(map[string]struct{}, len(c.RequiredModels)+1)
	out := make([]string, 0, len(c.RequiredModels)+1)
	add := func(name string) {
		name = strings.TrimSpace(name)
		if name == "" {
			return
		}
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}

	add(c.DefaultModel)
	for _, m := range c.RequiredModels {
		add(m)
	}
	return out
}

// Validate catches mistakes that would otherwise surface as confusing runtime failures
func (c *Config) Validate() error {
	urls, err := c.ExplicitURLs()
	if err != nil {
		return err
	}
	for _, raw := range urls {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return domain.NewConfigValidationError("connection", raw, "must be an absolute URL")
		}
	}

	if c.Probe.Timeout <= 0 {
		return domain.NewConfigValidationError("probe.timeout", c.Probe.Timeout, "must be positive")
	}
	if c.Cache.Enabled && c.Cache.TTL <= 0 {
		return domain.NewConfigValidationError("cache.ttl", c.Cache.TTL, "must be positive when the cache is enabled")
	}
	if c.Discovery.DefaultPort <= 0 || c.Discovery.DefaultPort > 65535 {
		return domain.NewConfigValidationError("discovery.default_port", c.Discovery.DefaultPort, "must be a valid port")
	}
	return nil
}
