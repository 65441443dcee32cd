package domain

import (
	"strings"
	"time"
)

// CapabilityDescriptor describes a named model on a backend
type CapabilityDescriptor struct {
	LastChecked time.Time `json:"lastChecked"`
	Name        string    `json:"name"`
	Digest      string    `json:"digest,omitempty"`
	Size        int64     `json:"size,omitempty"`
	Installed   bool      `json:"installed"`
}

// OperationRequest asks for a model by name with optional version and namespace
type OperationRequest struct {
	CapabilityName string
	Version        string
	Namespace      string
}

// Identifier composes name[:version] with an optional namespace/ prefix.
// Version is only appended if the name carries none, and the namespace is
// only prefixed when absent, so composing twice gives the same result.
func (r OperationRequest) Identifier() string {
	id := strings.TrimSpace(r.CapabilityName)
	if id == "" {
		return ""
	}

	if version := strings.TrimSpace(r.Version); version != "" && !HasVersion(id) {
		id = id + ":" + version
	}

	if ns := strings.Trim(strings.TrimSpace(r.Namespace), "/"); ns != "" && !strings.HasPrefix(id, ns+"/") {
		id = ns + "/" + id
	}

	return id
}

// HasVersion reports whether the identifier has a :tag after its last path segment
func HasVersion(identifier string) bool {
	last := identifier
	if i := strings.LastIndex(identifier, "/"); i >= 0 {
		last = identifier[i+1:]
	}
	return strings.Contains(last, ":")
}

// OperationResult is what every remediation call returns. Performed=false
// with Success=true means the request was already satisfied.
type OperationResult struct {
	Identifier string
	Message    string
	Duration   time.Duration
	Success    bool
	Performed  bool
}

func NewNoopResult(identifier, message string) OperationResult {
	return OperationResult{Identifier: identifier, Message: message, Success: true, Performed: false}
}

func NewPerformedResult(identifier, message string, duration time.Duration) OperationResult {
	return OperationResult{Identifier: identifier, Message: message, Success: true, Performed: true, Duration: duration}
}

func NewFailedResult(identifier, message string, duration time.Duration) OperationResult {
	return OperationResult{Identifier: identifier, Message: message, Success: false, Duration: duration}
}
