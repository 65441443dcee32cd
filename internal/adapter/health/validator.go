package health

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/thushan/olla-link/internal/adapter/capability"
	"github.com/thushan/olla-link/internal/core/constants"
	"github.com/thushan/olla-link/internal/core/domain"
	"github.com/thushan/olla-link/internal/core/ports"
	"github.com/thushan/olla-link/internal/logger"
	"github.com/thushan/olla-link/pkg/format"
)

// Validator decides whether a candidate is usable: it answers the probe and
// carries the required models. A missing model gets exactly one remediation
// pass followed by one re-check.
type Validator struct {
	probe         *ProbeClient
	parser        CatalogParser
	remediator    ports.CapabilityRemediator
	cache         ports.CapabilityCache
	logger        logger.StyledLogger
	probeTimeout  time.Duration
	concurrency   int
	autoRemediate bool
}

type Config struct {
	ProbeTimeout  time.Duration
	Concurrency   int
	AutoRemediate bool
}

func NewValidator(cfg Config, probe *ProbeClient, parser CatalogParser, remediator ports.CapabilityRemediator, cache ports.CapabilityCache, log logger.StyledLogger) *Validator {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = constants.DefaultProbeTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultProbeConcurrency
	}
	return &Validator{
		probe:         probe,
		parser:        parser,
		remediator:    remediator,
		cache:         cache,
		logger:        log,
		probeTimeout:  cfg.ProbeTimeout,
		concurrency:   cfg.Concurrency,
		autoRemediate: cfg.AutoRemediate,
	}
}

// Validate probes one candidate and checks the required models. The result
// is always returned; the error says why the candidate is not fully usable.
func (v *Validator) Validate(ctx context.Context, candidate domain.Candidate, timeout time.Duration, required []string) (*domain.ValidationResult, error) {
	if timeout <= 0 {
		timeout = v.probeTimeout
	}
	probe := v.probe.Probe(ctx, candidate.AddressString, timeout)
	return v.check(ctx, candidate, probe, required)
}

// SelectHealthy probes every candidate concurrently, keeps the best-ordered
// reachable one and only then runs the capability check on it, so at most one
// endpoint is ever remediated.
func (v *Validator) SelectHealthy(ctx context.Context, candidates []domain.Candidate, required []string) (*domain.ValidationResult, error) {
	if len(candidates) == 0 {
		return nil, domain.ErrNoCandidates
	}

	probes := make([]domain.ProbeResult, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.concurrency)
	for i, c := range candidates {
		g.Go(func() error {
			probes[i] = v.probe.Probe(gctx, c.AddressString, v.probeTimeout)
			v.logProbe(c, probes[i])
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// candidates arrive sorted, the first reachable one wins
	for i, c := range candidates {
		if probes[i].Reachable() {
			return v.check(ctx, c, probes[i], required)
		}
	}

	return nil, domain.NewDiscoveryError(candidates, len(candidates) == 1 && candidates[0].Origin == domain.OriginExplicitConfig, domain.ErrNoEndpointFound)
}

func (v *Validator) logProbe(c domain.Candidate, probe domain.ProbeResult) {
	if probe.Reachable() {
		v.logger.Debug("Candidate reachable", "endpoint", c.AddressString, "origin", c.Origin, "latency", format.Latency(probe.Latency))
		return
	}
	v.logger.Debug("Candidate unreachable", "endpoint", c.AddressString, "origin", c.Origin,
		"error_type", probe.ErrorType.String(), "error", probe.Error, "latency", format.Latency(probe.Latency))
}

func (v *Validator) check(ctx context.Context, candidate domain.Candidate, probe domain.ProbeResult, required []string) (*domain.ValidationResult, error) {
	start := time.Now()
	result := &domain.ValidationResult{
		Candidate: candidate,
		Probe:     probe,
		Reachable: probe.Reachable(),
	}

	if !result.Reachable {
		result.Latency = probe.Latency
		return result, domain.NewHealthCheckError(candidate.AddressString, checkTypeProbe, probe.StatusCode, probe.Latency, probe.Error)
	}

	if len(required) == 0 {
		result.Capable = true
		result.Latency = probe.Latency
		return result, nil
	}

	endpoint := candidate.AddressString
	catalog, fromCache := v.catalog(ctx, endpoint, probe)
	result.FromCache = fromCache
	missing := capability.Missing(required, catalog)

	// a cached "missing" may be out of date, the probe body is the live answer
	if len(missing) > 0 && fromCache {
		if live, err := v.introspect(ctx, endpoint, probe.Body); err == nil {
			catalog = live
			result.FromCache = false
			missing = capability.Missing(required, catalog)
		}
	}

	if len(missing) > 0 && v.autoRemediate {
		result.Remediated = v.remediate(ctx, endpoint, missing)

		v.cache.Invalidate(endpoint)
		if live, err := v.remediator.List(ctx, endpoint); err == nil {
			catalog = live
			v.store(endpoint, catalog)
		} else {
			v.logger.WarnWithEndpoint("Re-introspection after remediation failed", endpoint, "error", err)
		}
		missing = capability.Missing(required, catalog)
	}

	result.Missing = missing
	result.Capable = len(missing) == 0
	result.Latency = probe.Latency + time.Since(start)

	if !result.Capable {
		err := domain.NewHealthCheckError(endpoint, checkTypeCapability, probe.StatusCode, result.Latency, domain.ErrCapabilityMissing)
		err.Missing = missing
		return result, err
	}
	return result, nil
}

// catalog prefers a fresh cache entry and falls back to the probe body
func (v *Validator) catalog(ctx context.Context, endpoint string, probe domain.ProbeResult) ([]domain.CapabilityDescriptor, bool) {
	if cached, ok := v.cache.Get(endpoint); ok {
		return cached, true
	}

	live, err := v.introspect(ctx, endpoint, probe.Body)
	if err != nil {
		v.logger.WarnWithEndpoint("Could not read model catalog from probe", endpoint, "error", err)
		return nil, false
	}
	return live, false
}

func (v *Validator) introspect(ctx context.Context, endpoint string, body []byte) ([]domain.CapabilityDescriptor, error) {
	catalog, err := v.parser.Parse(ctx, body, time.Now())
	if err != nil {
		return nil, err
	}
	v.store(endpoint, catalog)
	return catalog, nil
}

func (v *Validator) store(endpoint string, catalog []domain.CapabilityDescriptor) {
	if err := v.cache.Put(endpoint, catalog); err != nil {
		v.logger.Debug("Failed to cache model catalog", "endpoint", endpoint, "error", err)
	}
}

// remediate makes one install attempt per missing model and returns the ones
// that were actually pulled
func (v *Validator) remediate(ctx context.Context, endpoint string, missing []string) []string {
	var pulled []string
	for _, id := range missing {
		v.logger.InfoWithModel("Required model missing, installing", id, "endpoint", endpoint)
		result := v.remediator.EnsureInstalled(ctx, endpoint, id)
		switch {
		case !result.Success:
			v.logger.WarnWithEndpoint("Model install failed", endpoint, "model", id, "reason", result.Message)
		case result.Performed:
			pulled = append(pulled, id)
		}
		if ctx.Err() != nil {
			break
		}
	}
	return pulled
}
