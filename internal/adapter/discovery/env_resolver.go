package discovery

import (
	"context"
	"strconv"
	"strings"

	"github.com/thushan/olla-link/internal/core/constants"
	"github.com/thushan/olla-link/internal/util"
)

const envResolverName = "env"

// EnvServiceResolver reads service references injected as environment
// variables: orchestrator style services__<name>__http__0 and the
// <NAME>_SERVICE_HOST / <NAME>_SERVICE_PORT pair Kubernetes injects
type EnvServiceResolver struct {
	env         Environment
	defaultPort int
}

func NewEnvServiceResolver(env Environment, defaultPort int) *EnvServiceResolver {
	if defaultPort <= 0 {
		defaultPort = constants.DefaultBackendPort
	}
	return &EnvServiceResolver{env: env, defaultPort: defaultPort}
}

func (r *EnvServiceResolver) Name() string {
	return envResolverName
}

func (r *EnvServiceResolver) ResolveService(_ context.Context, service string) ([]string, error) {
	service = strings.TrimSpace(service)
	if service == "" {
		return nil, nil
	}

	var found []string
	for _, scheme := range []string{"https", "http"} {
		for i := 0; ; i++ {
			key := "services__" + service + "__" + scheme + "__" + strconv.Itoa(i)
			v := strings.TrimSpace(r.env.Getenv(key))
			if v == "" {
				break
			}
			found = append(found, v)
		}
	}

	prefix := strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(service))
	if host := strings.TrimSpace(r.env.Getenv(prefix + "_SERVICE_HOST")); host != "" {
		port := r.defaultPort
		if raw := strings.TrimSpace(r.env.Getenv(prefix + "_SERVICE_PORT")); raw != "" {
			if p, err := strconv.Atoi(raw); err == nil && p > 0 {
				port = p
			}
		}
		scheme := constants.DefaultBackendScheme
		if port == 443 {
			scheme = "https"
		}
		found = append(found, util.BuildEndpoint(scheme, host, port))
	}

	return found, nil
}
