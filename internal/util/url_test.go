package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveURLPath(t *testing.T) {
	tests := []struct {
		name      string
		baseURL   string
		pathOrURL string
		expected  string
	}{
		{"plain_base", "http://localhost:11434", "/api/tags", "http://localhost:11434/api/tags"},
		{"base_trailing_slash", "http://localhost:11434/", "/api/tags", "http://localhost:11434/api/tags"},
		{"base_prefix_kept", "http://gateway:8080/ollama/", "/api/pull", "http://gateway:8080/ollama/api/pull"},
		{"relative_path", "http://localhost:11434", "api/tags", "http://localhost:11434/api/tags"},
		{"empty_base", "", "/api/tags", "/api/tags"},
		{"empty_path", "http://localhost:11434", "", "http://localhost:11434"},
		{"absolute_override", "http://localhost:11434", "http://other:9000/api/tags", "http://other:9000/api/tags"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ResolveURLPath(tt.baseURL, tt.pathOrURL))
		})
	}
}

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		raw      string
		expected string
	}{
		{"http://localhost:11434", "http://localhost:11434"},
		{"http://LOCALHOST:11434/", "http://localhost:11434"},
		{"HTTP://Ollama:11434//", "http://ollama:11434"},
		{"localhost:11434", "http://localhost:11434"},
		{"http://ollama", "http://ollama:80"},
		{"https://ollama.example.com/?x=1", "https://ollama.example.com:443"},
		{"http://gateway:8080/ollama/", "http://gateway:8080/ollama"},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			u, err := ParseEndpoint(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, u.String())
		})
	}
}

func TestParseEndpoint_Invalid(t *testing.T) {
	_, err := ParseEndpoint("")
	assert.Error(t, err)

	_, err = ParseEndpoint("http://")
	assert.Error(t, err)
}

func TestNormaliseAddress_SameEndpointSameKey(t *testing.T) {
	assert.Equal(t, NormaliseAddress("http://localhost:11434/"), NormaliseAddress("HTTP://LocalHost:11434"))
	assert.NotEqual(t, NormaliseAddress("http://localhost:11434"), NormaliseAddress("http://localhost:11435"))
}

func TestBuildEndpoint(t *testing.T) {
	assert.Equal(t, "http://ollama:11434", BuildEndpoint("", "ollama", 11434))
	assert.Equal(t, "https://[::1]:443", BuildEndpoint("https", "::1", 443))
}
