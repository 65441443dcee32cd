package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thushan/olla-link/internal/adapter/gate"
	"github.com/thushan/olla-link/internal/config"
	"github.com/thushan/olla-link/internal/core/constants"
	"github.com/thushan/olla-link/internal/core/domain"
	"github.com/thushan/olla-link/internal/logger"
	"github.com/thushan/olla-link/internal/testutil"
)

func newExecutor(t *testing.T, endpoint string, size int) (*Executor, *gate.Gate) {
	t.Helper()
	permits := gate.New(size, logger.NewDiscard())
	e := New(config.DefaultConfig().Paths, permits, logger.NewDiscard())
	if endpoint != "" {
		e.SetEndpoint(endpoint)
	}
	return e, permits
}

func TestExecutor_Generate(t *testing.T) {
	backend := testutil.NewFakeOllama("llama3:latest")
	defer backend.Close()
	e, permits := newExecutor(t, backend.URL(), 2)

	resp, err := e.Generate(context.Background(), GenerateRequest{Model: "llama3", Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "echo: hi", resp.Response)
	assert.True(t, resp.Done)
	assert.Equal(t, 3, resp.EvalCount)
	assert.Zero(t, permits.Stats().InFlight)
}

func TestExecutor_Chat(t *testing.T) {
	backend := testutil.NewFakeOllama("llama3:latest")
	defer backend.Close()
	e, _ := newExecutor(t, backend.URL(), 2)

	resp, err := e.Chat(context.Background(), ChatRequest{
		Model:    "llama3",
		Messages: []Message{{Role: "user", Content: "hello"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "assistant", resp.Message.Role)
	assert.Equal(t, "echo: hello", resp.Message.Content)
}

func TestExecutor_Embed(t *testing.T) {
	backend := testutil.NewFakeOllama("nomic-embed-text:latest")
	defer backend.Close()
	e, _ := newExecutor(t, backend.URL(), 0)

	resp, err := e.Embed(context.Background(), EmbedRequest{Model: "nomic-embed-text", Prompt: "abcd"})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.2, 4}, resp.Embedding)
}

func TestExecutor_NoEndpoint(t *testing.T) {
	e, permits := newExecutor(t, "", 1)

	_, err := e.Generate(context.Background(), GenerateRequest{Model: "llama3"})
	assert.ErrorIs(t, err, domain.ErrNoEndpointFound)
	assert.Zero(t, permits.Stats().InFlight)
}

func TestExecutor_StatusErrorIsTyped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model 'nope' not found"}`, http.StatusNotFound)
	}))
	defer server.Close()
	e, permits := newExecutor(t, server.URL, 1)

	_, err := e.Generate(context.Background(), GenerateRequest{Model: "nope"})
	var reqErr *domain.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusNotFound, reqErr.StatusCode)
	assert.Equal(t, "generate", reqErr.Operation)
	assert.Contains(t, reqErr.Body, "not found")
	assert.NotEmpty(t, reqErr.RequestID)
	assert.Zero(t, permits.Stats().InFlight)
}

func TestExecutor_SendsRequestID(t *testing.T) {
	var got string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get(constants.HeaderRequestID)
		_, _ = w.Write([]byte(`{"embedding":[1]}`))
	}))
	defer server.Close()
	e, _ := newExecutor(t, server.URL, 1)

	_, err := e.Embed(context.Background(), EmbedRequest{Model: "m", Prompt: "p"})
	require.NoError(t, err)
	assert.Len(t, got, 36)
}

func TestExecutor_GateBoundsConcurrency(t *testing.T) {
	backend := testutil.NewFakeOllama("llama3:latest")
	defer backend.Close()
	backend.GenerateDelay = 20 * time.Millisecond
	e, _ := newExecutor(t, backend.URL(), 2)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Generate(context.Background(), GenerateRequest{Model: "llama3", Prompt: "x"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(10), backend.Generates.Load())
	assert.LessOrEqual(t, backend.MaxInFlight.Load(), int64(2))
}

func TestExecutor_CancelWhileQueued(t *testing.T) {
	backend := testutil.NewFakeOllama("llama3:latest")
	defer backend.Close()
	e, permits := newExecutor(t, backend.URL(), 1)

	held, err := permits.Acquire(context.Background())
	require.NoError(t, err)
	defer held.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = e.Generate(ctx, GenerateRequest{Model: "llama3"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, backend.Generates.Load())
	assert.Equal(t, int64(1), permits.Stats().InFlight)
}

func TestExecutor_QueueDeadlineIsTimeout(t *testing.T) {
	backend := testutil.NewFakeOllama("llama3:latest")
	defer backend.Close()
	e, permits := newExecutor(t, backend.URL(), 1)

	held, err := permits.Acquire(context.Background())
	require.NoError(t, err)
	defer held.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = e.Generate(ctx, GenerateRequest{Model: "llama3"})

	var te *domain.TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "gate acquire", te.Operation)
	assert.Equal(t, int64(1), te.InFlight)
	var reqErr *domain.RequestError
	assert.False(t, errors.As(err, &reqErr))

	_, err = e.GenerateStream(ctx, GenerateRequest{Model: "llama3"})
	require.ErrorAs(t, err, &te)
	assert.Zero(t, backend.Generates.Load())
}

func TestExecutor_BodiesSurviveEarlyResponses(t *testing.T) {
	big := strings.Repeat("x", 256*1024)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		head := make([]byte, 64)
		n, _ := io.ReadFull(r.Body, head)
		head = head[:n]

		var num int
		if i := bytes.Index(head, []byte(`"prompt":"`)); i >= 0 {
			_, _ = fmt.Sscanf(string(head[i+len(`"prompt":"`):]), "prompt-%d-", &num)
		}
		// odd prompts are answered before the body has been read
		if num%2 == 1 {
			http.Error(w, `{"error":"rejected"}`, http.StatusBadRequest)
			return
		}

		var req GenerateRequest
		if err := json.NewDecoder(io.MultiReader(bytes.NewReader(head), r.Body)).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(GenerateResponse{Model: req.Model, Response: "echo: " + req.Prompt, Done: true})
	}))
	defer server.Close()

	e, _ := newExecutor(t, server.URL, 8)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			prompt := fmt.Sprintf("prompt-%d-%s", i, big[:i*8*1024])
			resp, err := e.Generate(context.Background(), GenerateRequest{Model: "llama3", Prompt: prompt})
			if i%2 == 1 {
				assert.Error(t, err)
				return
			}
			if assert.NoError(t, err) {
				assert.Equal(t, "echo: "+prompt, resp.Response)
			}
		}(i)
	}
	wg.Wait()
}

func TestExecutor_GenerateStream(t *testing.T) {
	backend := testutil.NewFakeOllama("llama3:latest")
	defer backend.Close()
	e, permits := newExecutor(t, backend.URL(), 1)

	stream, err := e.GenerateStream(context.Background(), GenerateRequest{Model: "llama3", Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), permits.Stats().InFlight, "stream holds the permit")

	text, err := stream.Text()
	require.NoError(t, err)
	assert.Equal(t, "Hello", text)
	assert.Zero(t, permits.Stats().InFlight, "exhausted stream releases the permit")
	assert.False(t, stream.Next())
}

func TestExecutor_ChatStream(t *testing.T) {
	backend := testutil.NewFakeOllama("llama3:latest")
	defer backend.Close()
	e, _ := newExecutor(t, backend.URL(), 1)

	stream, err := e.ChatStream(context.Background(), ChatRequest{Model: "llama3", Messages: []Message{{Role: "user", Content: "hi"}}})
	require.NoError(t, err)

	var parts []string
	for chunk := range stream.All() {
		parts = append(parts, chunk.Text)
	}
	assert.Equal(t, []string{"Hi", " there", ""}, parts)
}

func TestExecutor_StreamSkipsMalformedLines(t *testing.T) {
	backend := testutil.NewFakeOllama("llama3:latest")
	defer backend.Close()
	backend.StreamLines = []string{
		`{"response":"par`,
		`{"response":"one","done":false}`,
		`{"response":"two","done":true}`,
	}
	e, _ := newExecutor(t, backend.URL(), 1)

	stream, err := e.GenerateStream(context.Background(), GenerateRequest{Model: "llama3"})
	require.NoError(t, err)

	var chunks []Chunk
	for chunk := range stream.All() {
		chunks = append(chunks, chunk)
	}

	require.Len(t, chunks, 2)
	assert.Equal(t, "one", chunks[0].Text)
	assert.Equal(t, "two", chunks[1].Text)
	assert.True(t, chunks[1].Done)
	assert.Equal(t, 1, stream.Skipped())
	assert.NoError(t, stream.Err())
}

func TestExecutor_StreamEarlyBreakReleases(t *testing.T) {
	backend := testutil.NewFakeOllama("llama3:latest")
	defer backend.Close()
	e, permits := newExecutor(t, backend.URL(), 1)

	stream, err := e.GenerateStream(context.Background(), GenerateRequest{Model: "llama3"})
	require.NoError(t, err)

	for range stream.All() {
		break
	}
	assert.Zero(t, permits.Stats().InFlight)

	// Close after the fact is harmless
	assert.NoError(t, stream.Close())
}

func TestExecutor_StreamCancelReleases(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", constants.ContentTypeNDJSON)
		_, _ = w.Write([]byte(`{"response":"a","done":false}` + "\n"))
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer server.Close()
	defer close(release)

	e, permits := newExecutor(t, server.URL, 1)
	ctx, cancel := context.WithCancel(context.Background())

	stream, err := e.GenerateStream(ctx, GenerateRequest{Model: "m"})
	require.NoError(t, err)
	require.True(t, stream.Next())
	assert.Equal(t, "a", stream.Chunk().Text)

	cancel()
	assert.False(t, stream.Next())
	assert.ErrorIs(t, stream.Err(), context.Canceled)
	assert.Zero(t, permits.Stats().InFlight)
}

func TestExecutor_StreamStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()
	e, permits := newExecutor(t, server.URL, 1)

	_, err := e.ChatStream(context.Background(), ChatRequest{Model: "m"})
	var reqErr *domain.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusServiceUnavailable, reqErr.StatusCode)
	assert.Zero(t, permits.Stats().InFlight)
}
