// Package testutil holds a fake backend shared by package tests.
package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// FakeOllama serves the subset of the Ollama API the adapter talks to.
// Counters let tests assert exactly how often each route was hit.
type FakeOllama struct {
	Server *httptest.Server

	// StreamLines overrides the NDJSON body for streaming generate/chat
	StreamLines []string

	models map[string]int64

	Probes    atomic.Int64
	Pulls     atomic.Int64
	Deletes   atomic.Int64
	Generates atomic.Int64
	Chats     atomic.Int64
	Embeds    atomic.Int64

	// InFlight and MaxInFlight track concurrent generate calls
	InFlight    atomic.Int64
	MaxInFlight atomic.Int64

	// GenerateDelay holds each generate call open
	GenerateDelay time.Duration

	mu         sync.Mutex
	pullStatus int
	tagsStatus int
}

func NewFakeOllama(installed ...string) *FakeOllama {
	f := &FakeOllama{
		models:     make(map[string]int64),
		pullStatus: http.StatusOK,
		tagsStatus: http.StatusOK,
	}
	for _, m := range installed {
		f.models[m] = 1_000_000
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/tags", f.tags)
	mux.HandleFunc("POST /api/pull", f.pull)
	mux.HandleFunc("DELETE /api/delete", f.remove)
	mux.HandleFunc("POST /api/generate", f.generate)
	mux.HandleFunc("POST /api/chat", f.chat)
	mux.HandleFunc("POST /api/embeddings", f.embed)

	f.Server = httptest.NewServer(mux)
	return f
}

func (f *FakeOllama) URL() string {
	return f.Server.URL
}

func (f *FakeOllama) Close() {
	f.Server.Close()
}

// SetPullStatus makes pulls answer with the given status
func (f *FakeOllama) SetPullStatus(code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pullStatus = code
}

// SetTagsStatus makes probes answer with the given status
func (f *FakeOllama) SetTagsStatus(code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tagsStatus = code
}

func (f *FakeOllama) Installed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.models))
	for m := range f.models {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

func (f *FakeOllama) tags(w http.ResponseWriter, _ *http.Request) {
	f.Probes.Add(1)

	f.mu.Lock()
	status := f.tagsStatus
	type model struct {
		Name   string `json:"name"`
		Model  string `json:"model"`
		Digest string `json:"digest"`
		Size   int64  `json:"size"`
	}
	models := make([]model, 0, len(f.models))
	for name, size := range f.models {
		models = append(models, model{Name: name, Model: name, Size: size, Digest: "sha256:" + name})
	}
	f.mu.Unlock()

	if status != http.StatusOK {
		w.WriteHeader(status)
		return
	}
	writeJSON(w, map[string]any{"models": models})
}

func (f *FakeOllama) pull(w http.ResponseWriter, r *http.Request) {
	f.Pulls.Add(1)
	var req struct {
		Name   string `json:"name"`
		Stream bool   `json:"stream"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	f.mu.Lock()
	status := f.pullStatus
	if status == http.StatusOK {
		name := req.Name
		if !strings.Contains(name[strings.LastIndex(name, "/")+1:], ":") {
			name += ":latest"
		}
		f.models[name] = 2_000_000
	}
	f.mu.Unlock()

	if status != http.StatusOK {
		http.Error(w, `{"error":"pull failed"}`, status)
		return
	}
	writeJSON(w, map[string]any{"status": "success"})
}

func (f *FakeOllama) remove(w http.ResponseWriter, r *http.Request) {
	f.Deletes.Add(1)
	var req struct {
		Name string `json:"name"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	f.mu.Lock()
	_, ok := f.models[req.Name]
	delete(f.models, req.Name)
	f.mu.Unlock()

	if !ok {
		http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (f *FakeOllama) trackInFlight() func() {
	n := f.InFlight.Add(1)
	for {
		peak := f.MaxInFlight.Load()
		if n <= peak || f.MaxInFlight.CompareAndSwap(peak, n) {
			break
		}
	}
	return func() { f.InFlight.Add(-1) }
}

func (f *FakeOllama) generate(w http.ResponseWriter, r *http.Request) {
	f.Generates.Add(1)
	defer f.trackInFlight()()

	var req struct {
		Model  string `json:"model"`
		Prompt string `json:"prompt"`
		Stream bool   `json:"stream"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"bad request"}`, http.StatusBadRequest)
		return
	}

	if f.GenerateDelay > 0 {
		select {
		case <-time.After(f.GenerateDelay):
		case <-r.Context().Done():
			return
		}
	}

	if req.Stream {
		f.stream(w, []string{
			`{"model":"` + req.Model + `","response":"Hel","done":false}`,
			`{"model":"` + req.Model + `","response":"lo","done":false}`,
			`{"model":"` + req.Model + `","response":"","done":true,"eval_count":2}`,
		})
		return
	}

	writeJSON(w, map[string]any{
		"model":      req.Model,
		"response":   "echo: " + req.Prompt,
		"done":       true,
		"eval_count": 3,
	})
}

func (f *FakeOllama) chat(w http.ResponseWriter, r *http.Request) {
	f.Chats.Add(1)
	var req struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
		Stream bool `json:"stream"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"bad request"}`, http.StatusBadRequest)
		return
	}

	last := ""
	if n := len(req.Messages); n > 0 {
		last = req.Messages[n-1].Content
	}

	if req.Stream {
		f.stream(w, []string{
			`{"model":"` + req.Model + `","message":{"role":"assistant","content":"Hi"},"done":false}`,
			`{"model":"` + req.Model + `","message":{"role":"assistant","content":" there"},"done":false}`,
			`{"model":"` + req.Model + `","message":{"role":"assistant","content":""},"done":true}`,
		})
		return
	}

	writeJSON(w, map[string]any{
		"model":   req.Model,
		"message": map[string]string{"role": "assistant", "content": "echo: " + last},
		"done":    true,
	})
}

func (f *FakeOllama) embed(w http.ResponseWriter, r *http.Request) {
	f.Embeds.Add(1)
	var req struct {
		Model  string `json:"model"`
		Prompt string `json:"prompt"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	writeJSON(w, map[string]any{"embedding": []float64{0.1, 0.2, float64(len(req.Prompt))}})
}

func (f *FakeOllama) stream(w http.ResponseWriter, lines []string) {
	if f.StreamLines != nil {
		lines = f.StreamLines
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	for _, line := range lines {
		_, _ = io.WriteString(w, line+"\n")
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
