package discovery

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/thushan/olla-link/internal/core/constants"
	"github.com/thushan/olla-link/internal/logger"
)

func service(name, namespace string, ports ...corev1.ServicePort) *corev1.Service {
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace},
		Spec:       corev1.ServiceSpec{Ports: ports},
	}
}

func TestKubernetesResolver_NamedPort(t *testing.T) {
	client := fake.NewClientset(service("ollama", "ai",
		corev1.ServicePort{Name: "metrics", Port: 9090},
		corev1.ServicePort{Name: "http", Port: 11434},
	))

	r := NewKubernetesResolver(KubernetesOptions{Client: client, Namespace: "ai"}, fakeEnv(nil, nil), logger.NewDiscard())
	got, err := r.ResolveService(context.Background(), "ollama")
	require.NoError(t, err)
	assert.Equal(t, []string{"http://ollama.ai.svc:11434"}, got)
}

func TestKubernetesResolver_FirstPortFallback(t *testing.T) {
	client := fake.NewClientset(service("ollama", "default", corev1.ServicePort{Name: "api", Port: 8000}))

	r := NewKubernetesResolver(KubernetesOptions{Client: client}, fakeEnv(nil, nil), logger.NewDiscard())
	got, err := r.ResolveService(context.Background(), "ollama")
	require.NoError(t, err)
	assert.Equal(t, []string{"http://ollama.default.svc:8000"}, got)
}

func TestKubernetesResolver_NamespaceSources(t *testing.T) {
	client := fake.NewClientset(
		service("ollama", "from-env", corev1.ServicePort{Name: "http", Port: 1}),
		service("ollama", "from-file", corev1.ServicePort{Name: "http", Port: 2}),
	)

	env := fakeEnv(map[string]string{constants.EnvPodNamespace: "from-env"}, nil)
	got, err := NewKubernetesResolver(KubernetesOptions{Client: client}, env, logger.NewDiscard()).ResolveService(context.Background(), "ollama")
	require.NoError(t, err)
	assert.Equal(t, []string{"http://ollama.from-env.svc:1"}, got)

	env = fakeEnv(nil, map[string]string{constants.ServiceAccountNamespace: "from-file\n"})
	got, err = NewKubernetesResolver(KubernetesOptions{Client: client}, env, logger.NewDiscard()).ResolveService(context.Background(), "ollama")
	require.NoError(t, err)
	assert.Equal(t, []string{"http://ollama.from-file.svc:2"}, got)
}

func TestKubernetesResolver_ServiceOverride(t *testing.T) {
	client := fake.NewClientset(service("llm", "default", corev1.ServicePort{Name: "http", Port: 11434}))

	r := NewKubernetesResolver(KubernetesOptions{Client: client, Service: "llm"}, fakeEnv(nil, nil), logger.NewDiscard())
	got, err := r.ResolveService(context.Background(), "ollama")
	require.NoError(t, err)
	assert.Equal(t, []string{"http://llm.default.svc:11434"}, got)
}

func TestKubernetesResolver_MissingService(t *testing.T) {
	r := NewKubernetesResolver(KubernetesOptions{Client: fake.NewClientset()}, fakeEnv(nil, nil), logger.NewDiscard())
	got, err := r.ResolveService(context.Background(), "ollama")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestKubernetesResolver_OutsideCluster(t *testing.T) {
	r := NewKubernetesResolver(KubernetesOptions{}, fakeEnv(nil, nil), logger.NewDiscard())
	got, err := r.ResolveService(context.Background(), "ollama")
	require.NoError(t, err)
	assert.Empty(t, got)
}
