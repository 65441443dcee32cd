package discovery

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thushan/olla-link/internal/config"
	"github.com/thushan/olla-link/internal/core/constants"
	"github.com/thushan/olla-link/internal/core/domain"
	"github.com/thushan/olla-link/internal/core/ports"
	"github.com/thushan/olla-link/internal/logger"
)

var (
	_ ports.CandidateResolver = (*Resolver)(nil)
	_ ports.ServiceResolver   = (*EnvServiceResolver)(nil)
	_ ports.ServiceResolver   = (*KubernetesResolver)(nil)
)

var containerFiles = map[string]string{constants.DockerEnvFile: ""}

func addresses(candidates []domain.Candidate) []string {
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.AddressString
	}
	return out
}

func TestResolve_ExplicitSkipsDiscovery(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Connection = "http://fixed:9999"
	orchestrator := &countingResolver{name: "test", addrs: []string{"http://other:1"}}

	r := NewResolver(cfg, fakeEnv(nil, containerFiles), logger.NewDiscard(), orchestrator)
	candidates, err := r.Resolve(context.Background())
	require.NoError(t, err)

	require.Len(t, candidates, 1)
	assert.Equal(t, "http://fixed:9999", candidates[0].AddressString)
	assert.Equal(t, domain.OriginExplicitConfig, candidates[0].Origin)
	assert.True(t, r.IsExplicit())
	assert.Zero(t, orchestrator.calls.Load())
}

func TestResolve_ExplicitListKeepsOrder(t *testing.T) {
	cfg := config.DefaultConfig()
	urls := []string{"http://b:2", "http://a:1", "http://B:2/"}
	cfg.ConnectionURLs = &urls

	candidates, err := NewResolver(cfg, fakeEnv(nil, nil), logger.NewDiscard()).Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"http://b:2", "http://a:1"}, addresses(candidates))
}

func TestResolve_ExplicitEmptyListFailsFast(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.ConnectionURLs = &[]string{}

	r := NewResolver(cfg, fakeEnv(nil, nil), logger.NewDiscard())
	_, err := r.Resolve(context.Background())

	var cfgErr *domain.ConfigValidationError
	require.ErrorAs(t, err, &cfgErr)
	assert.True(t, r.IsExplicit())
}

func TestResolve_HostTopology(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Connection = "auto"

	r := NewResolver(cfg, fakeEnv(nil, nil), logger.NewDiscard())
	candidates, err := r.Resolve(context.Background())
	require.NoError(t, err)

	require.Len(t, candidates, 1)
	assert.Equal(t, "http://localhost:11434", candidates[0].AddressString)
	assert.Equal(t, domain.OriginHostFallback, candidates[0].Origin)
	assert.Equal(t, constants.PriorityHostLocal, candidates[0].Priority)
	assert.False(t, r.IsExplicit())
}

func TestResolve_ContainerTopology(t *testing.T) {
	cfg := config.DefaultConfig()

	candidates, err := NewResolver(cfg, fakeEnv(nil, containerFiles), logger.NewDiscard()).Resolve(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"http://ollama:11434", "http://host.docker.internal:11434"}, addresses(candidates))
	assert.Equal(t, domain.OriginContainerLocal, candidates[0].Origin)
	assert.Equal(t, domain.OriginHostFallback, candidates[1].Origin)
}

func TestResolve_OrchestratorFirstAndDeduplicated(t *testing.T) {
	cfg := config.DefaultConfig()
	env := fakeEnv(map[string]string{"services__ollama__http__0": "HTTP://Ollama:11434/"}, containerFiles)

	r := NewResolver(cfg, env, logger.NewDiscard(), NewEnvServiceResolver(env, 0))
	candidates, err := r.Resolve(context.Background())
	require.NoError(t, err)

	require.Len(t, candidates, 2)
	assert.Equal(t, "http://ollama:11434", candidates[0].AddressString)
	assert.Equal(t, domain.OriginOrchestratorManaged, candidates[0].Origin)
	assert.Equal(t, "env", candidates[0].Source)
	assert.Equal(t, domain.OriginHostFallback, candidates[1].Origin)
}

func TestResolve_FailingOrchestratorIsSkipped(t *testing.T) {
	cfg := config.DefaultConfig()
	broken := &countingResolver{name: "broken", err: errResolverBroken}

	candidates, err := NewResolver(cfg, fakeEnv(nil, nil), logger.NewDiscard(), broken).Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), broken.calls.Load())
	assert.Len(t, candidates, 1)
}

func TestResolve_AlwaysSorted(t *testing.T) {
	envs := []Environment{
		fakeEnv(nil, nil),
		fakeEnv(nil, containerFiles),
		fakeEnv(map[string]string{constants.EnvContainer: "docker"}, nil),
	}
	resolverSets := [][]ports.ServiceResolver{
		nil,
		{&countingResolver{name: "a", addrs: []string{"http://svc-a:1", "http://svc-b:2"}}},
		{&countingResolver{name: "b", addrs: []string{"http://localhost:11434"}}},
	}

	for _, env := range envs {
		for _, set := range resolverSets {
			candidates, err := NewResolver(config.DefaultConfig(), env, logger.NewDiscard(), set...).Resolve(context.Background())
			require.NoError(t, err)
			assert.True(t, sort.SliceIsSorted(candidates, func(i, j int) bool {
				return candidates[i].Less(candidates[j])
			}))

			seen := map[string]bool{}
			for _, c := range candidates {
				assert.False(t, seen[c.AddressString], "duplicate %s", c.AddressString)
				seen[c.AddressString] = true
			}
		}
	}
}

func TestNewDefaultResolvers(t *testing.T) {
	cfg := config.DefaultConfig().Discovery
	assert.Len(t, NewDefaultResolvers(cfg, fakeEnv(nil, nil), logger.NewDiscard()), 2)

	cfg.Kubernetes.Enabled = false
	assert.Len(t, NewDefaultResolvers(cfg, fakeEnv(nil, nil), logger.NewDiscard()), 1)
}
