package health

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thushan/olla-link/internal/adapter/cache"
	"github.com/thushan/olla-link/internal/adapter/capability"
	"github.com/thushan/olla-link/internal/config"
	"github.com/thushan/olla-link/internal/core/domain"
	"github.com/thushan/olla-link/internal/core/ports"
	"github.com/thushan/olla-link/internal/logger"
	"github.com/thushan/olla-link/internal/testutil"
	"github.com/thushan/olla-link/internal/util"
)

var _ ports.HealthValidator = (*Validator)(nil)

type testClock struct {
	now time.Time
	mu  sync.Mutex
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	validator *Validator
	cache     *cache.FileCache
	clock     *testClock
}

func newFixture(t *testing.T, autoRemediate bool) *fixture {
	t.Helper()
	log := logger.NewDiscard()
	paths := config.DefaultConfig().Paths

	remediator, err := capability.NewRemediator(paths, time.Minute, log)
	require.NoError(t, err)

	clock := &testClock{now: time.Now()}
	store := cache.New(t.TempDir(), 24*time.Hour, log, cache.WithClock(clock.Now))

	v := NewValidator(Config{ProbeTimeout: time.Second, AutoRemediate: autoRemediate},
		NewProbeClient(nil, paths.Probe), remediator.Parser(), remediator, store, log)

	return &fixture{validator: v, cache: store, clock: clock}
}

func candidateFor(t *testing.T, raw string, origin domain.CandidateOrigin, priority int) domain.Candidate {
	t.Helper()
	u, err := util.ParseEndpoint(raw)
	require.NoError(t, err)
	return domain.Candidate{Address: u, AddressString: u.String(), Origin: origin, Priority: priority}
}

func TestValidate_ReachableNoRequirements(t *testing.T) {
	backend := testutil.NewFakeOllama()
	defer backend.Close()
	f := newFixture(t, false)

	result, err := f.validator.Validate(context.Background(), candidateFor(t, backend.URL(), domain.OriginHostFallback, 2), 0, nil)
	require.NoError(t, err)
	assert.True(t, result.Reachable)
	assert.True(t, result.Capable)
}

func TestValidate_Unreachable(t *testing.T) {
	f := newFixture(t, false)

	result, err := f.validator.Validate(context.Background(), candidateFor(t, "http://127.0.0.1:1", domain.OriginHostFallback, 2), 200*time.Millisecond, []string{"llama3"})
	var hcErr *domain.HealthCheckError
	require.ErrorAs(t, err, &hcErr)
	assert.Equal(t, checkTypeProbe, hcErr.CheckType)
	assert.False(t, result.Reachable)
	assert.False(t, result.Capable)
}

func TestValidate_MissingModelRemediatedOnce(t *testing.T) {
	backend := testutil.NewFakeOllama()
	defer backend.Close()
	f := newFixture(t, true)

	result, err := f.validator.Validate(context.Background(), candidateFor(t, backend.URL(), domain.OriginHostFallback, 2), 0, []string{"llama3"})
	require.NoError(t, err)
	assert.True(t, result.Capable)
	assert.Equal(t, []string{"llama3"}, result.Remediated)
	assert.Equal(t, int64(1), backend.Pulls.Load())

	// the refreshed catalog was cached
	cached, ok := f.cache.Get(backend.URL())
	require.True(t, ok)
	_, found := capability.FindMatch("llama3", cached)
	assert.True(t, found)
}

func TestValidate_RemediationFailureIsNotRetried(t *testing.T) {
	backend := testutil.NewFakeOllama()
	defer backend.Close()
	backend.SetPullStatus(http.StatusInternalServerError)
	f := newFixture(t, true)

	result, err := f.validator.Validate(context.Background(), candidateFor(t, backend.URL(), domain.OriginHostFallback, 2), 0, []string{"llama3"})
	require.ErrorIs(t, err, domain.ErrCapabilityMissing)
	assert.True(t, result.Reachable)
	assert.False(t, result.Capable)
	assert.Equal(t, []string{"llama3"}, result.Missing)
	assert.Equal(t, int64(1), backend.Pulls.Load())
}

func TestValidate_NoRemediationWhenDisabled(t *testing.T) {
	backend := testutil.NewFakeOllama()
	defer backend.Close()
	f := newFixture(t, false)

	result, err := f.validator.Validate(context.Background(), candidateFor(t, backend.URL(), domain.OriginHostFallback, 2), 0, []string{"llama3"})
	var hcErr *domain.HealthCheckError
	require.ErrorAs(t, err, &hcErr)
	assert.Equal(t, []string{"llama3"}, hcErr.Missing)
	assert.False(t, result.Capable)
	assert.Zero(t, backend.Pulls.Load())
}

func TestValidate_FreshCacheIsTrusted(t *testing.T) {
	backend := testutil.NewFakeOllama()
	defer backend.Close()
	f := newFixture(t, false)

	require.NoError(t, f.cache.Put(backend.URL(), []domain.CapabilityDescriptor{{Name: "llama3:latest", Installed: true}}))
	f.clock.Advance(time.Hour)

	result, err := f.validator.Validate(context.Background(), candidateFor(t, backend.URL(), domain.OriginHostFallback, 2), 0, []string{"llama3"})
	require.NoError(t, err)
	assert.True(t, result.FromCache)
	assert.True(t, result.Capable)
}

func TestValidate_StaleCacheIsReintrospected(t *testing.T) {
	backend := testutil.NewFakeOllama()
	defer backend.Close()
	f := newFixture(t, false)

	// claims llama3 is installed but is 25 hours old
	require.NoError(t, f.cache.Put(backend.URL(), []domain.CapabilityDescriptor{{Name: "llama3:latest", Installed: true}}))
	f.clock.Advance(25 * time.Hour)

	result, err := f.validator.Validate(context.Background(), candidateFor(t, backend.URL(), domain.OriginHostFallback, 2), 0, []string{"llama3"})
	require.ErrorIs(t, err, domain.ErrCapabilityMissing)
	assert.False(t, result.FromCache)
	assert.False(t, result.Capable)
}

func TestSelectHealthy_PicksBestReachable(t *testing.T) {
	first := testutil.NewFakeOllama()
	defer first.Close()
	second := testutil.NewFakeOllama()
	defer second.Close()
	f := newFixture(t, false)

	candidates := []domain.Candidate{
		candidateFor(t, "http://127.0.0.1:1", domain.OriginContainerLocal, 2),
		candidateFor(t, first.URL(), domain.OriginHostFallback, 3),
		candidateFor(t, second.URL(), domain.OriginHostFallback, 4),
	}

	result, err := f.validator.SelectHealthy(context.Background(), candidates, nil)
	require.NoError(t, err)
	assert.Equal(t, candidates[1].AddressString, result.Candidate.AddressString)
}

func TestSelectHealthy_OnlyWinnerIsRemediated(t *testing.T) {
	first := testutil.NewFakeOllama()
	defer first.Close()
	second := testutil.NewFakeOllama()
	defer second.Close()
	f := newFixture(t, true)

	candidates := []domain.Candidate{
		candidateFor(t, first.URL(), domain.OriginContainerLocal, 2),
		candidateFor(t, second.URL(), domain.OriginHostFallback, 3),
	}

	result, err := f.validator.SelectHealthy(context.Background(), candidates, []string{"llama3"})
	require.NoError(t, err)
	assert.True(t, result.Capable)
	assert.Equal(t, int64(1), first.Pulls.Load())
	assert.Zero(t, second.Pulls.Load())
}

func TestSelectHealthy_NoneReachable(t *testing.T) {
	f := newFixture(t, false)

	candidates := []domain.Candidate{
		candidateFor(t, "http://127.0.0.1:1", domain.OriginContainerLocal, 2),
		candidateFor(t, "http://127.0.0.1:2", domain.OriginHostFallback, 3),
	}

	_, err := f.validator.SelectHealthy(context.Background(), candidates, nil)
	var discErr *domain.DiscoveryError
	require.True(t, errors.As(err, &discErr))
	assert.ErrorIs(t, err, domain.ErrNoEndpointFound)
	assert.Len(t, discErr.Candidates, 2)
	assert.False(t, discErr.Explicit)
}

func TestSelectHealthy_Empty(t *testing.T) {
	f := newFixture(t, false)
	_, err := f.validator.SelectHealthy(context.Background(), nil, nil)
	assert.ErrorIs(t, err, domain.ErrNoCandidates)
}
