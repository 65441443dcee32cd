package discovery

import (
	"context"
	"fmt"
	"strings"
	"sync"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/thushan/olla-link/internal/core/constants"
	"github.com/thushan/olla-link/internal/logger"
	"github.com/thushan/olla-link/internal/util"
)

const (
	kubernetesResolverName = "kubernetes"
	defaultNamespace       = "default"
)

// KubernetesResolver looks the backend Service up through the API server when
// running in a cluster. Outside a cluster it resolves nothing.
type KubernetesResolver struct {
	client    kubernetes.Interface
	built     kubernetes.Interface
	clientErr error
	logger    logger.StyledLogger
	env       Environment
	service   string
	namespace string
	portName  string
	once      sync.Once
}

type KubernetesOptions struct {
	// Client is used as is, otherwise an in-cluster client is built on first use
	Client    kubernetes.Interface
	Service   string
	Namespace string
	PortName  string
}

func NewKubernetesResolver(opts KubernetesOptions, env Environment, log logger.StyledLogger) *KubernetesResolver {
	if opts.PortName == "" {
		opts.PortName = "http"
	}
	return &KubernetesResolver{
		client:    opts.Client,
		service:   opts.Service,
		namespace: opts.Namespace,
		portName:  opts.PortName,
		env:       env,
		logger:    log,
	}
}

func (r *KubernetesResolver) Name() string {
	return kubernetesResolverName
}

func (r *KubernetesResolver) ResolveService(ctx context.Context, service string) ([]string, error) {
	if r.service != "" {
		service = r.service
	}
	if service == "" {
		return nil, nil
	}

	client, err := r.clientset()
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, nil
	}

	ns := r.resolveNamespace()
	svc, err := client.CoreV1().Services(ns).Get(ctx, service, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			r.logger.Debug("Kubernetes service not found", "service", service, "namespace", ns)
			return nil, nil
		}
		return nil, fmt.Errorf("get service %s/%s: %w", ns, service, err)
	}

	address, ok := r.serviceAddress(svc)
	if !ok {
		return nil, nil
	}
	return []string{address}, nil
}

// clientset returns nil when not running in a cluster
func (r *KubernetesResolver) clientset() (kubernetes.Interface, error) {
	if r.client != nil {
		return r.client, nil
	}
	if !r.env.has(constants.EnvKubernetesServiceHost) {
		return nil, nil
	}

	r.once.Do(func() {
		cfg, err := rest.InClusterConfig()
		if err != nil {
			r.clientErr = fmt.Errorf("in-cluster config: %w", err)
			return
		}
		cs, err := kubernetes.NewForConfig(cfg)
		if err != nil {
			r.clientErr = fmt.Errorf("kubernetes client: %w", err)
			return
		}
		r.built = cs
	})
	return r.built, r.clientErr
}

func (r *KubernetesResolver) resolveNamespace() string {
	if r.namespace != "" {
		return r.namespace
	}
	if ns := strings.TrimSpace(r.env.Getenv(constants.EnvPodNamespace)); ns != "" {
		return ns
	}
	if r.env.ReadFile != nil {
		if data, err := r.env.ReadFile(constants.ServiceAccountNamespace); err == nil {
			if ns := strings.TrimSpace(string(data)); ns != "" {
				return ns
			}
		}
	}
	return defaultNamespace
}

func (r *KubernetesResolver) serviceAddress(svc *corev1.Service) (string, bool) {
	if svc.Spec.Type == corev1.ServiceTypeExternalName && svc.Spec.ExternalName != "" {
		return util.BuildEndpoint(constants.DefaultBackendScheme, svc.Spec.ExternalName, portOrDefault(svc, r.portName)), true
	}
	if len(svc.Spec.Ports) == 0 {
		r.logger.Debug("Kubernetes service exposes no ports", "service", svc.Name)
		return "", false
	}

	port := selectPort(svc.Spec.Ports, r.portName)
	scheme := constants.DefaultBackendScheme
	if port.Name == "https" || port.Port == 443 {
		scheme = "https"
	}
	host := svc.Name + "." + svc.Namespace + ".svc"
	return util.BuildEndpoint(scheme, host, int(port.Port)), true
}

// selectPort prefers the named port and falls back to the first one
func selectPort(ports []corev1.ServicePort, name string) corev1.ServicePort {
	for _, p := range ports {
		if p.Name == name {
			return p
		}
	}
	return ports[0]
}

func portOrDefault(svc *corev1.Service, name string) int {
	if len(svc.Spec.Ports) == 0 {
		return constants.DefaultBackendPort
	}
	return int(selectPort(svc.Spec.Ports, name).Port)
}
