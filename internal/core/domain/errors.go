package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNoCandidates                  = errors.New("no endpoint candidates resolved")
	ErrNoEndpointFound               = errors.New("no endpoint found")
	ErrConfiguredEndpointUnreachable = errors.New("configured endpoint unreachable")
	ErrCapabilityMissing             = errors.New("required capability missing")
	ErrGateClosed                    = errors.New("concurrency gate closed")
)

// DiscoveryError means no candidate could be reached. It is kept apart from
// HealthCheckError so callers can tell "nothing there" from "there but unusable".
type DiscoveryError struct {
	Err        error
	Candidates []string
	Explicit   bool
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discovery failed after probing %d candidate(s) %v: %v", len(e.Candidates), e.Candidates, e.Err)
}

func (e *DiscoveryError) Unwrap() error {
	return e.Err
}

type HealthCheckError struct {
	Err         error
	EndpointURL string
	CheckType   string
	Missing     []string
	StatusCode  int
	Latency     time.Duration
}

func (e *HealthCheckError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("health check failed for %s (%s): missing %v after %v: %v",
			e.EndpointURL, e.CheckType, e.Missing, e.Latency, e.Err)
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("health check failed for %s (%s): HTTP %d after %v: %v",
			e.EndpointURL, e.CheckType, e.StatusCode, e.Latency, e.Err)
	}
	return fmt.Sprintf("health check failed for %s (%s): %v after %v",
		e.EndpointURL, e.CheckType, e.Err, e.Latency)
}

func (e *HealthCheckError) Unwrap() error {
	return e.Err
}

// ReadinessError carries the state the adapter settled in
type ReadinessError struct {
	Cause   error
	State   ReadinessState
	Message string
}

func (e *ReadinessError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("adapter %s: %s: %v", e.State, e.Message, e.Cause)
	}
	return fmt.Sprintf("adapter %s: %s", e.State, e.Message)
}

func (e *ReadinessError) Unwrap() error {
	return e.Cause
}

// TimeoutError is raised by any bounded wait and records what the caller was
// waiting for versus where things were stuck
type TimeoutError struct {
	Cause     error
	Operation string
	State     ReadinessState
	Waited    time.Duration

	// gate occupancy when the wait gave up, zero for non-gate waits
	Capacity int64
	InFlight int64
	Waiting  int64
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("%s timed out after %v", e.Operation, e.Waited)
	if e.State != "" {
		msg += fmt.Sprintf(" (state: %s)", e.State)
	}
	if e.Capacity > 0 {
		msg += fmt.Sprintf(" [in flight %d/%d, waiting %d]", e.InFlight, e.Capacity, e.Waiting)
	}
	return msg
}

func (e *TimeoutError) Unwrap() error {
	return e.Cause
}

// Timeout lets TimeoutError satisfy net.Error style checks
func (e *TimeoutError) Timeout() bool {
	return true
}

type TransitionError struct {
	From ReadinessState
	To   ReadinessState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid readiness transition %s -> %s", e.From, e.To)
}

// RequestError wraps a failed executor call. It is never retried.
type RequestError struct {
	Err        error
	RequestID  string
	Operation  string
	URL        string
	Body       string
	StatusCode int
	Latency    time.Duration
}

func (e *RequestError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s request failed [%s] %s: HTTP %d after %v: %s",
			e.Operation, e.RequestID, e.URL, e.StatusCode, e.Latency, e.Body)
	}
	return fmt.Sprintf("%s request failed [%s] %s: %v after %v",
		e.Operation, e.RequestID, e.URL, e.Err, e.Latency)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

type ConfigValidationError struct {
	Value  interface{}
	Field  string
	Reason string
}

func (e *ConfigValidationError) Error() string {
	return fmt.Sprintf("invalid configuration for %s=%v: %s", e.Field, e.Value, e.Reason)
}

func NewDiscoveryError(candidates []Candidate, explicit bool, err error) *DiscoveryError {
	addrs := make([]string, 0, len(candidates))
	for _, c := range candidates {
		addrs = append(addrs, c.AddressString)
	}
	return &DiscoveryError{
		Candidates: addrs,
		Explicit:   explicit,
		Err:        err,
	}
}

func NewHealthCheckError(endpointURL, checkType string, statusCode int, latency time.Duration, err error) *HealthCheckError {
	return &HealthCheckError{
		EndpointURL: endpointURL,
		CheckType:   checkType,
		StatusCode:  statusCode,
		Latency:     latency,
		Err:         err,
	}
}

func NewReadinessError(state ReadinessState, message string, cause error) *ReadinessError {
	return &ReadinessError{
		State:   state,
		Message: message,
		Cause:   cause,
	}
}

func NewRequestError(requestID, operation, url string, statusCode int, body string, latency time.Duration, err error) *RequestError {
	return &RequestError{
		RequestID:  requestID,
		Operation:  operation,
		URL:        url,
		StatusCode: statusCode,
		Body:       body,
		Latency:    latency,
		Err:        err,
	}
}

func NewConfigValidationError(field string, value interface{}, reason string) *ConfigValidationError {
	return &ConfigValidationError{
		Field:  field,
		Value:  value,
		Reason: reason,
	}
}
