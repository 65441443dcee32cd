//go:build integration

package app

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/thushan/olla-link/internal/adapter/executor"
	"github.com/thushan/olla-link/internal/config"
	"github.com/thushan/olla-link/internal/core/domain"
	"github.com/thushan/olla-link/internal/logger"
)

const (
	ollamaImage = "ollama/ollama:latest"
	// small enough to pull in CI, and it answers embeddings
	smallModel = "all-minilm"
)

func startOllama(t *testing.T, ctx context.Context) string {
	t.Helper()

	req := tc.ContainerRequest{
		Image:        ollamaImage,
		ExposedPorts: []string{"11434/tcp"},
		WaitingFor:   wait.ForHTTP("/api/tags").WithPort("11434/tcp").WithStartupTimeout(2 * time.Minute),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Skipf("docker unavailable: %v", err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "11434/tcp")
	require.NoError(t, err)

	return fmt.Sprintf("http://%s:%s", host, port.Port())
}

func TestAdapter_AgainstOllamaContainer(t *testing.T) {
	if testing.Short() {
		t.Skip("container test skipped in short mode")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
	defer cancel()

	endpoint := startOllama(t, ctx)

	cfg := config.DefaultConfig()
	cfg.Connection = endpoint
	cfg.DefaultModel = smallModel
	cfg.Cache.Dir = t.TempDir()
	cfg.Readiness.Timeout = 10 * time.Minute
	cfg.RemediationTimeout = 10 * time.Minute

	a, err := New(cfg, logger.NewDiscard())
	require.NoError(t, err)
	defer a.Close()

	state, err := a.WaitReady(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.StateReady, state)
	assert.Equal(t, domain.OriginExplicitConfig.String(), a.Status().Origin)

	models, err := a.Models(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, models)

	resp, err := a.Embed(ctx, executor.EmbedRequest{Prompt: "olla-link"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Embedding)

	// a second adapter finds the model already there and does not pull again
	again, err := New(cfg, logger.NewDiscard())
	require.NoError(t, err)
	defer again.Close()

	require.NoError(t, again.EnsureReady(ctx))
	status := again.Status()
	assert.Empty(t, status.Missing)
	assert.True(t, status.FromCache)
}
