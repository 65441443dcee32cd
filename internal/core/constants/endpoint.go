package constants

import "time"

const (
	DefaultBackendPort   = 11434
	DefaultBackendScheme = "http"

	DefaultLocalHost     = "localhost"
	DefaultContainerHost = "ollama"
	DefaultHostGateway   = "host.docker.internal"

	// ConnectionAuto is the sentinel that turns on discovery
	ConnectionAuto = "auto"

	DefaultHealthCheckEndpoint = "/internal/health"
	DefaultReadinessEndpoint   = "/internal/ready"
	DefaultStatusEndpoint      = "/internal/status"
	DefaultVersionEndpoint     = "/internal/version"
	DefaultMetricsEndpoint     = "/metrics"
)

// Backend API paths, overridable through config.paths
const (
	PathProbe    = "/api/tags"
	PathInstall  = "/api/pull"
	PathRemove   = "/api/delete"
	PathGenerate = "/api/generate"
	PathChat     = "/api/chat"
	PathEmbed    = "/api/embeddings"

	DefaultCatalogPath = "$.models[*]"
)

// Candidate priorities, lower wins
const (
	PriorityExplicit     = 0
	PriorityOrchestrator = 1
	PriorityContainer    = 2
	PriorityHostLocal    = 2
	PriorityHostGateway  = 3
)

const (
	DefaultProbeTimeout       = 2 * time.Second
	DefaultReadinessTimeout   = 60 * time.Second
	DefaultRemediationTimeout = 30 * time.Minute
	DefaultCacheTTL           = 24 * time.Hour
	SlowAcquireThreshold      = time.Second
)
