package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/thushan/olla-link/internal/adapter/cache"
	"github.com/thushan/olla-link/internal/adapter/capability"
	"github.com/thushan/olla-link/internal/adapter/discovery"
	"github.com/thushan/olla-link/internal/adapter/executor"
	"github.com/thushan/olla-link/internal/adapter/gate"
	"github.com/thushan/olla-link/internal/adapter/health"
	"github.com/thushan/olla-link/internal/adapter/readiness"
	"github.com/thushan/olla-link/internal/config"
	"github.com/thushan/olla-link/internal/core/domain"
	"github.com/thushan/olla-link/internal/core/ports"
	"github.com/thushan/olla-link/internal/logger"
)

// Adapter is one connection to a backend: it finds the endpoint, makes sure
// the required models are there and then serves requests through the gate.
// Initialisation runs at most once per Adapter.
type Adapter struct {
	cfg        *config.Config
	logger     logger.StyledLogger
	resolver   ports.CandidateResolver
	validator  ports.HealthValidator
	remediator ports.CapabilityRemediator
	cache      ports.CapabilityCache
	machine    *readiness.Machine
	gate       *gate.Gate
	executor   *executor.Executor
	flight     *readiness.Initializer
	registry   *prometheus.Registry
	metrics    *readinessMetrics
	result     atomic.Pointer[domain.ValidationResult]
	stopWatch  context.CancelFunc
}

type options struct {
	env       discovery.Environment
	registry  *prometheus.Registry
	cache     ports.CapabilityCache
	resolvers []ports.ServiceResolver
	client    *http.Client
	custom    bool
}

type Option func(*options)

// WithEnvironment replaces the process environment used for topology detection
func WithEnvironment(env discovery.Environment) Option {
	return func(o *options) {
		o.env = env
	}
}

// WithServiceResolvers replaces the env and Kubernetes resolvers
func WithServiceResolvers(resolvers ...ports.ServiceResolver) Option {
	return func(o *options) {
		o.resolvers = resolvers
		o.custom = true
	}
}

// WithRegistry registers the adapter collectors on reg instead of a private registry
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) {
		o.registry = reg
	}
}

func WithCache(c ports.CapabilityCache) Option {
	return func(o *options) {
		o.cache = c
	}
}

// WithHTTPClient sets the client used for probes and model management
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		o.client = client
	}
}

func New(cfg *config.Config, log logger.StyledLogger, opts ...Option) (*Adapter, error) {
	o := &options{
		env:    discovery.SystemEnvironment(),
		client: &http.Client{},
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.registry == nil {
		o.registry = prometheus.NewRegistry()
	}
	if o.cache == nil {
		if cfg.Cache.Enabled {
			o.cache = cache.New(cfg.Cache.Dir, cfg.Cache.TTL, log)
		} else {
			o.cache = cache.Noop{}
		}
	}
	if !o.custom {
		o.resolvers = discovery.NewDefaultResolvers(cfg.Discovery, o.env, log)
	}

	remediator, err := capability.NewRemediator(cfg.Paths, cfg.RemediationTimeout, log, capability.WithHTTPClient(o.client))
	if err != nil {
		return nil, fmt.Errorf("failed to create remediator: %w", err)
	}

	validator := health.NewValidator(health.Config{
		ProbeTimeout:  cfg.Probe.Timeout,
		Concurrency:   cfg.Probe.Concurrency,
		AutoRemediate: cfg.AutoRemediate,
	}, health.NewProbeClient(o.client, cfg.Paths.Probe), remediator.Parser(), remediator, o.cache, log)

	machine := readiness.NewMachine(log)
	permits := gate.New(cfg.MaxConcurrentRequests, log, gate.WithRegisterer(o.registry), gate.WithState(machine.State))

	a := &Adapter{
		cfg:        cfg,
		logger:     log,
		resolver:   discovery.NewResolver(cfg, o.env, log, o.resolvers...),
		validator:  validator,
		remediator: remediator,
		cache:      o.cache,
		machine:    machine,
		gate:       permits,
		executor:   executor.New(cfg.Paths, permits, log),
		flight:     readiness.NewInitializer(),
		registry:   o.registry,
		metrics:    newReadinessMetrics(o.registry),
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.stopWatch = cancel
	a.watch(ctx)

	return a, nil
}

// EnsureReady runs initialisation once. Concurrent and later callers share
// the first run's outcome; a cancelled ctx only stops this caller waiting.
func (a *Adapter) EnsureReady(ctx context.Context) error {
	return a.flight.Do(ctx, a.initialise)
}

// WaitReady starts initialisation if needed and waits up to readiness.timeout
// for it to settle. Degraded returns without error; request methods accept it
// unless readiness is strict.
func (a *Adapter) WaitReady(ctx context.Context) (domain.ReadinessState, error) {
	if !a.flight.Started() {
		go func() {
			_ = a.EnsureReady(context.WithoutCancel(ctx))
		}()
	}
	return a.machine.Wait(ctx, a.cfg.Readiness.Timeout)
}

func (a *Adapter) initialise(ctx context.Context) error {
	if _, err := a.machine.TransitionTo(domain.StateInitializing, "initialisation started"); err != nil {
		return err
	}

	candidates, err := a.resolver.Resolve(ctx)
	if err != nil {
		return a.fail("endpoint resolution failed", err)
	}

	required := a.cfg.AllRequiredModels()
	result, err := a.validator.SelectHealthy(ctx, candidates, required)
	if result == nil {
		if err == nil {
			err = domain.ErrNoEndpointFound
		}
		if a.resolver.IsExplicit() {
			return a.fail("configured endpoint unreachable", fmt.Errorf("%w: %w", domain.ErrConfiguredEndpointUnreachable, err))
		}
		return a.fail("no endpoint found", err)
	}

	a.result.Store(result)
	endpoint := result.Candidate.AddressString
	a.executor.SetEndpoint(endpoint)

	if !result.Capable {
		reason := "missing " + strings.Join(result.Missing, ", ")
		if a.cfg.Readiness.Strict {
			return a.fail(reason, err)
		}
		a.logger.WarnWithEndpoint("Endpoint usable without required models", endpoint, "missing", result.Missing)
		_, terr := a.machine.TransitionTo(domain.StateDegraded, reason)
		return terr
	}

	a.logger.InfoWithEndpoint("Endpoint selected", endpoint,
		"origin", result.Candidate.Origin, "remediated", len(result.Remediated), "cached", result.FromCache)
	_, err = a.machine.TransitionTo(domain.StateReady, "endpoint validated")
	return err
}

func (a *Adapter) fail(reason string, cause error) error {
	a.logger.Error("Adapter initialisation failed", "reason", reason, "error", cause)
	if _, err := a.machine.Fail(reason, cause); err != nil {
		return err
	}
	return domain.NewReadinessError(domain.StateFailed, reason, cause)
}

// usable waits for a state requests may run in and returns the endpoint
func (a *Adapter) usable(ctx context.Context) (string, error) {
	state, err := a.WaitReady(ctx)
	if err != nil {
		return "", err
	}
	if !state.IsUsable(!a.cfg.Readiness.Strict) {
		return "", domain.NewReadinessError(state, "adapter not usable", nil)
	}
	endpoint := a.executor.Endpoint()
	if endpoint == "" {
		return "", domain.ErrNoEndpointFound
	}
	return endpoint, nil
}

func (a *Adapter) Generate(ctx context.Context, req executor.GenerateRequest) (*executor.GenerateResponse, error) {
	if _, err := a.usable(ctx); err != nil {
		return nil, err
	}
	return a.executor.Generate(ctx, a.withDefaultModel(req))
}

func (a *Adapter) GenerateStream(ctx context.Context, req executor.GenerateRequest) (*executor.Stream, error) {
	if _, err := a.usable(ctx); err != nil {
		return nil, err
	}
	return a.executor.GenerateStream(ctx, a.withDefaultModel(req))
}

func (a *Adapter) Chat(ctx context.Context, req executor.ChatRequest) (*executor.ChatResponse, error) {
	if _, err := a.usable(ctx); err != nil {
		return nil, err
	}
	if req.Model == "" {
		req.Model = a.cfg.DefaultModel
	}
	return a.executor.Chat(ctx, req)
}

func (a *Adapter) ChatStream(ctx context.Context, req executor.ChatRequest) (*executor.Stream, error) {
	if _, err := a.usable(ctx); err != nil {
		return nil, err
	}
	if req.Model == "" {
		req.Model = a.cfg.DefaultModel
	}
	return a.executor.ChatStream(ctx, req)
}

func (a *Adapter) Embed(ctx context.Context, req executor.EmbedRequest) (*executor.EmbedResponse, error) {
	if _, err := a.usable(ctx); err != nil {
		return nil, err
	}
	if req.Model == "" {
		req.Model = a.cfg.DefaultModel
	}
	return a.executor.Embed(ctx, req)
}

func (a *Adapter) withDefaultModel(req executor.GenerateRequest) executor.GenerateRequest {
	if req.Model == "" {
		req.Model = a.cfg.DefaultModel
	}
	return req
}

// Models lists what the selected endpoint has installed
func (a *Adapter) Models(ctx context.Context) ([]domain.CapabilityDescriptor, error) {
	endpoint, err := a.usable(ctx)
	if err != nil {
		return nil, err
	}
	return a.remediator.List(ctx, endpoint)
}

// Pull installs identifier if it is not already there
func (a *Adapter) Pull(ctx context.Context, identifier string) (domain.OperationResult, error) {
	return a.manage(ctx, identifier, a.remediator.EnsureInstalled)
}

// Refresh pulls identifier even when it is installed
func (a *Adapter) Refresh(ctx context.Context, identifier string) (domain.OperationResult, error) {
	return a.manage(ctx, identifier, a.remediator.Refresh)
}

func (a *Adapter) Remove(ctx context.Context, identifier string) (domain.OperationResult, error) {
	return a.manage(ctx, identifier, a.remediator.Remove)
}

func (a *Adapter) manage(ctx context.Context, identifier string, op func(context.Context, string, string) domain.OperationResult) (domain.OperationResult, error) {
	endpoint, err := a.usable(ctx)
	if err != nil {
		return domain.OperationResult{Identifier: identifier}, err
	}
	result := op(ctx, endpoint, identifier)
	if result.Performed {
		a.cache.Invalidate(endpoint)
	}
	return result, nil
}

func (a *Adapter) State() domain.ReadinessState {
	return a.machine.State()
}

// Subscribe streams readiness changes, starting with the current state
func (a *Adapter) Subscribe(ctx context.Context) (<-chan domain.ReadinessChange, func()) {
	return a.machine.Subscribe(ctx)
}

// Registry holds the gate and readiness collectors
func (a *Adapter) Registry() *prometheus.Registry {
	return a.registry
}

// Status is a point-in-time view of the adapter
type Status struct {
	State     domain.ReadinessState `json:"state"`
	Reason    string                `json:"reason,omitempty"`
	Endpoint  string                `json:"endpoint,omitempty"`
	Origin    string                `json:"origin,omitempty"`
	Missing   []string              `json:"missing,omitempty"`
	Required  []string              `json:"required,omitempty"`
	Gate      gate.Stats            `json:"gate"`
	FromCache bool                  `json:"from_cache"`
}

func (a *Adapter) Status() Status {
	state, reason := a.machine.Snapshot()
	status := Status{
		State:    state,
		Reason:   reason,
		Endpoint: a.executor.Endpoint(),
		Required: a.cfg.AllRequiredModels(),
		Gate:     a.gate.Stats(),
	}
	if result := a.result.Load(); result != nil {
		status.Origin = result.Candidate.Origin.String()
		status.Missing = result.Missing
		status.FromCache = result.FromCache
	}
	return status
}

// watch mirrors readiness changes into the state gauge, the machine logs them
func (a *Adapter) watch(ctx context.Context) {
	changes, cleanup := a.machine.Subscribe(ctx)
	go func() {
		defer cleanup()
		for change := range changes {
			a.metrics.observe(change)
		}
	}()
}

// Close stops the gate and ends readiness subscriptions. Waiters blocked in
// the gate get ErrGateClosed.
func (a *Adapter) Close() {
	a.stopWatch()
	a.gate.Close()
	a.machine.Close()
}

// IsReadinessFailure reports whether err came from a Failed adapter
func IsReadinessFailure(err error) bool {
	var rerr *domain.ReadinessError
	return errors.As(err, &rerr) && rerr.State == domain.StateFailed
}
