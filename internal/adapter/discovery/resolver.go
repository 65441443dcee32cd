package discovery

import (
	"context"

	"github.com/thushan/olla-link/internal/config"
	"github.com/thushan/olla-link/internal/core/constants"
	"github.com/thushan/olla-link/internal/core/domain"
	"github.com/thushan/olla-link/internal/core/ports"
	"github.com/thushan/olla-link/internal/logger"
	"github.com/thushan/olla-link/internal/util"
)

// Resolver builds the ordered candidate list. Explicit configuration short
// circuits everything else; otherwise orchestrator answers come first,
// followed by whatever the detected topology suggests.
type Resolver struct {
	env       Environment
	logger    logger.StyledLogger
	explicit  []string
	explErr   error
	resolvers []ports.ServiceResolver
	discovery config.DiscoveryConfig
}

// NewResolver reads the connection settings once. An explicitly empty list
// is kept as an error and returned by every Resolve call.
func NewResolver(cfg *config.Config, env Environment, log logger.StyledLogger, resolvers ...ports.ServiceResolver) *Resolver {
	explicit, err := cfg.ExplicitURLs()
	return &Resolver{
		env:       env,
		logger:    log,
		explicit:  explicit,
		explErr:   err,
		resolvers: resolvers,
		discovery: cfg.Discovery,
	}
}

// NewDefaultResolvers returns the env and Kubernetes service resolvers
// configured from cfg
func NewDefaultResolvers(cfg config.DiscoveryConfig, env Environment, log logger.StyledLogger) []ports.ServiceResolver {
	resolvers := []ports.ServiceResolver{NewEnvServiceResolver(env, cfg.DefaultPort)}
	if cfg.Kubernetes.Enabled {
		resolvers = append(resolvers, NewKubernetesResolver(KubernetesOptions{
			Service:   cfg.Kubernetes.Service,
			Namespace: cfg.Kubernetes.Namespace,
			PortName:  cfg.Kubernetes.PortName,
		}, env, log))
	}
	return resolvers
}

func (r *Resolver) IsExplicit() bool {
	return r.explErr != nil || len(r.explicit) > 0
}

func (r *Resolver) Resolve(ctx context.Context) ([]domain.Candidate, error) {
	if r.explErr != nil {
		return nil, r.explErr
	}

	if len(r.explicit) > 0 {
		return r.resolveExplicit()
	}

	var candidates []domain.Candidate

	for _, sr := range r.resolvers {
		addrs, err := sr.ResolveService(ctx, r.discovery.ServiceName)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			r.logger.Warn("Service resolver failed, continuing", "resolver", sr.Name(), "error", err)
			continue
		}
		for _, addr := range addrs {
			candidates = r.appendCandidate(candidates, addr, domain.OriginOrchestratorManaged, constants.PriorityOrchestrator, sr.Name())
		}
	}

	topology := DetectTopology(r.env)
	r.logger.Debug("Detected topology", "topology", topology.String(), "reason", topology.Reason)

	port := r.discovery.DefaultPort
	if port <= 0 {
		port = constants.DefaultBackendPort
	}

	if topology.Container {
		candidates = r.appendCandidate(candidates,
			util.BuildEndpoint(constants.DefaultBackendScheme, r.discovery.ContainerHost, port),
			domain.OriginContainerLocal, constants.PriorityContainer, "topology:container")
		candidates = r.appendCandidate(candidates,
			util.BuildEndpoint(constants.DefaultBackendScheme, r.discovery.HostGateway, port),
			domain.OriginHostFallback, constants.PriorityHostGateway, "topology:host-gateway")
	} else {
		candidates = r.appendCandidate(candidates,
			util.BuildEndpoint(constants.DefaultBackendScheme, constants.DefaultLocalHost, port),
			domain.OriginHostFallback, constants.PriorityHostLocal, "topology:host")
	}

	candidates = dedupe(candidates)
	domain.SortCandidates(candidates)

	if len(candidates) == 0 {
		return nil, domain.ErrNoCandidates
	}

	r.logger.InfoWithCount("Resolved endpoint candidates", len(candidates), "topology", topology.String())
	return candidates, nil
}

func (r *Resolver) resolveExplicit() ([]domain.Candidate, error) {
	candidates := make([]domain.Candidate, 0, len(r.explicit))
	for _, raw := range r.explicit {
		u, err := util.ParseEndpoint(raw)
		if err != nil {
			return nil, domain.NewConfigValidationError("connection", raw, err.Error())
		}
		candidates = append(candidates, domain.Candidate{
			Address:       u,
			AddressString: u.String(),
			Origin:        domain.OriginExplicitConfig,
			Priority:      constants.PriorityExplicit,
			Source:        "config",
		})
	}
	candidates = dedupe(candidates)
	r.logger.Debug("Using explicit endpoint configuration, discovery skipped", "endpoints", len(candidates))
	return candidates, nil
}

func (r *Resolver) appendCandidate(list []domain.Candidate, raw string, origin domain.CandidateOrigin, priority int, source string) []domain.Candidate {
	u, err := util.ParseEndpoint(raw)
	if err != nil {
		r.logger.Debug("Skipping unparseable candidate", "address", raw, "source", source, "error", err)
		return list
	}
	return append(list, domain.Candidate{
		Address:       u,
		AddressString: u.String(),
		Origin:        origin,
		Priority:      priority,
		Source:        source,
	})
}

// dedupe keeps the best-ranked candidate for each normalised address
func dedupe(candidates []domain.Candidate) []domain.Candidate {
	best := make(map[string]int, len(candidates))
	out := make([]domain.Candidate, 0, len(candidates))
	for _, c := range candidates {
		key := util.NormaliseAddress(c.AddressString)
		if i, ok := best[key]; ok {
			if c.Less(out[i]) {
				out[i] = c
			}
			continue
		}
		best[key] = len(out)
		out = append(out, c)
	}
	return out
}
