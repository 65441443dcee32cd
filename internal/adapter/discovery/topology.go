package discovery

import (
	"os"
	"strings"

	"github.com/thushan/olla-link/internal/core/constants"
)

// Environment is the slice of the OS topology detection looks at, swapped
// out in tests
type Environment struct {
	LookupEnv func(key string) (string, bool)
	ReadFile  func(name string) ([]byte, error)
	Stat      func(name string) (os.FileInfo, error)
	Environ   func() []string
}

func SystemEnvironment() Environment {
	return Environment{
		LookupEnv: os.LookupEnv,
		ReadFile:  os.ReadFile,
		Stat:      os.Stat,
		Environ:   os.Environ,
	}
}

func (e Environment) Getenv(key string) string {
	if e.LookupEnv == nil {
		return ""
	}
	v, _ := e.LookupEnv(key)
	return v
}

func (e Environment) has(key string) bool {
	if e.LookupEnv == nil {
		return false
	}
	v, ok := e.LookupEnv(key)
	return ok && v != ""
}

// Topology is where this process runs relative to the backend
type Topology struct {
	Reason     string
	Container  bool
	Kubernetes bool
}

func (t Topology) String() string {
	switch {
	case t.Kubernetes:
		return "kubernetes"
	case t.Container:
		return "container"
	default:
		return "host"
	}
}

var cgroupMarkers = []string{"docker", "kubepods", "containerd"}

// DetectTopology looks for the usual container markers: /.dockerenv, a
// container runtime in /proc/1/cgroup, or one of the env flags images set
func DetectTopology(env Environment) Topology {
	t := Topology{Kubernetes: env.has(constants.EnvKubernetesServiceHost)}

	switch {
	case t.Kubernetes:
		t.Container = true
		t.Reason = "env:" + constants.EnvKubernetesServiceHost
	case env.Stat != nil && statOK(env, constants.DockerEnvFile):
		t.Container = true
		t.Reason = "file:" + constants.DockerEnvFile
	case cgroupMentionsContainer(env):
		t.Container = true
		t.Reason = "file:" + constants.ProcCgroupFile
	default:
		for _, key := range []string{constants.EnvDotnetInContainer, constants.EnvContainer, constants.EnvKoanInContainer} {
			if env.has(key) {
				t.Container = true
				t.Reason = "env:" + key
				break
			}
		}
	}

	return t
}

func statOK(env Environment, name string) bool {
	_, err := env.Stat(name)
	return err == nil
}

func cgroupMentionsContainer(env Environment) bool {
	if env.ReadFile == nil {
		return false
	}
	data, err := env.ReadFile(constants.ProcCgroupFile)
	if err != nil {
		return false
	}
	content := string(data)
	for _, marker := range cgroupMarkers {
		if strings.Contains(content, marker) {
			return true
		}
	}
	return false
}
