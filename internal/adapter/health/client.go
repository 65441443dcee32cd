package health

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/thushan/olla-link/internal/core/constants"
	"github.com/thushan/olla-link/internal/core/domain"
	"github.com/thushan/olla-link/internal/util"
	"github.com/thushan/olla-link/internal/version"
)

// ProbeClient issues the bounded GET that decides whether a candidate is alive
type ProbeClient struct {
	client    HTTPClient
	probePath string
}

func NewProbeClient(client HTTPClient, probePath string) *ProbeClient {
	if client == nil {
		client = &http.Client{}
	}
	if probePath == "" {
		probePath = constants.PathProbe
	}
	return &ProbeClient{
		client:    client,
		probePath: probePath,
	}
}

// Probe performs a single probe against baseURL. The body is kept because
// the same response lists the installed models.
func (pc *ProbeClient) Probe(ctx context.Context, baseURL string, timeout time.Duration) domain.ProbeResult {
	start := time.Now()
	result := domain.ProbeResult{}

	if timeout <= 0 {
		timeout = constants.DefaultProbeTimeout
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, util.ResolveURLPath(baseURL, pc.probePath), nil)
	if err != nil {
		result.Latency = time.Since(start)
		result.Error = err
		result.ErrorType = classifyError(ctx, err)
		return result
	}
	req.Header.Set(constants.HeaderAccept, constants.ContentTypeJSON)
	req.Header.Set(constants.HeaderUserAgent, version.UserAgent())

	resp, err := pc.client.Do(req)
	if err != nil {
		result.Latency = time.Since(start)
		result.Error = err
		result.ErrorType = classifyError(ctx, err)
		return result
	}
	defer func(Body io.ReadCloser) {
		_ = Body.Close()
	}(resp.Body)

	result.StatusCode = resp.StatusCode
	if resp.StatusCode < HealthyEndpointStatusRangeStart || resp.StatusCode >= HealthyEndpointStatusRangeEnd {
		result.Latency = time.Since(start)
		result.Error = fmt.Errorf("probe returned HTTP %d", resp.StatusCode)
		result.ErrorType = domain.ErrorTypeHTTPError
		return result
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxProbeBodySize))
	result.Latency = time.Since(start)
	if err != nil {
		result.Error = err
		result.ErrorType = classifyError(ctx, err)
		return result
	}
	result.Body = body

	return result
}

// classifyError determines the type of error that occurred during probing.
// A cancelled parent context is not the endpoint's fault.
func classifyError(parent context.Context, err error) domain.HealthCheckErrorType {
	if parent.Err() != nil && errors.Is(err, context.Canceled) {
		return domain.ErrorTypeCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.ErrorTypeTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return domain.ErrorTypeTimeout
		}
		return domain.ErrorTypeNetwork
	}

	return domain.ErrorTypeHTTPError
}
