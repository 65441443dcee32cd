package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/thushan/olla-link/internal/core/constants"
)

func TestDetectTopology(t *testing.T) {
	tests := []struct {
		vars       map[string]string
		files      map[string]string
		name       string
		expected   string
		container  bool
		kubernetes bool
	}{
		{name: "bare_host", expected: "host"},
		{name: "dockerenv", files: map[string]string{constants.DockerEnvFile: ""}, expected: "container", container: true},
		{name: "cgroup_kubepods", files: map[string]string{constants.ProcCgroupFile: "0::/kubepods/burstable/pod1"}, expected: "container", container: true},
		{name: "cgroup_plain", files: map[string]string{constants.ProcCgroupFile: "0::/init.scope"}, expected: "host"},
		{name: "dotnet_flag", vars: map[string]string{constants.EnvDotnetInContainer: "true"}, expected: "container", container: true},
		{name: "podman_flag", vars: map[string]string{constants.EnvContainer: "podman"}, expected: "container", container: true},
		{name: "empty_flag_ignored", vars: map[string]string{constants.EnvContainer: ""}, expected: "host"},
		{name: "kubernetes", vars: map[string]string{constants.EnvKubernetesServiceHost: "10.0.0.1"}, expected: "kubernetes", container: true, kubernetes: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			topo := DetectTopology(fakeEnv(tt.vars, tt.files))
			assert.Equal(t, tt.container, topo.Container)
			assert.Equal(t, tt.kubernetes, topo.Kubernetes)
			assert.Equal(t, tt.expected, topo.String())
			if tt.container {
				assert.NotEmpty(t, topo.Reason)
			}
		})
	}
}
