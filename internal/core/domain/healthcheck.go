package domain

import (
	"time"
)

// ProbeResult is the outcome of a single bounded probe against a candidate
type ProbeResult struct {
	Error      error
	Body       []byte
	Latency    time.Duration
	ErrorType  HealthCheckErrorType
	StatusCode int
}

func (r ProbeResult) Reachable() bool {
	return r.Error == nil && r.StatusCode >= 200 && r.StatusCode < 300
}

type HealthCheckErrorType int

const (
	ErrorTypeNone HealthCheckErrorType = iota
	ErrorTypeNetwork
	ErrorTypeTimeout
	ErrorTypeHTTPError
	ErrorTypeCancelled
)

func (t HealthCheckErrorType) String() string {
	switch t {
	case ErrorTypeNone:
		return "none"
	case ErrorTypeNetwork:
		return "network"
	case ErrorTypeTimeout:
		return "timeout"
	case ErrorTypeHTTPError:
		return "http"
	case ErrorTypeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ValidationResult summarises a candidate after probe, capability check and
// at most one remediation pass
type ValidationResult struct {
	Candidate  Candidate
	Probe      ProbeResult
	Missing    []string
	Remediated []string
	Latency    time.Duration
	Reachable  bool
	Capable    bool
	FromCache  bool
}
