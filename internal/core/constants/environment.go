package constants

// Environment markers used by topology detection
const (
	EnvKubernetesServiceHost = "KUBERNETES_SERVICE_HOST"
	EnvPodNamespace          = "POD_NAMESPACE"
	EnvDotnetInContainer     = "DOTNET_RUNNING_IN_CONTAINER"
	EnvContainer             = "container"
	EnvKoanInContainer       = "KOAN_IN_CONTAINER"

	DockerEnvFile           = "/.dockerenv"
	ProcCgroupFile          = "/proc/1/cgroup"
	ServiceAccountNamespace = "/var/run/secrets/kubernetes.io/serviceaccount/namespace"
)
