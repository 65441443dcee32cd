package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/thushan/olla-link/internal/adapter/gate"
	"github.com/thushan/olla-link/internal/config"
	"github.com/thushan/olla-link/internal/core/constants"
	"github.com/thushan/olla-link/internal/core/domain"
	"github.com/thushan/olla-link/internal/logger"
	"github.com/thushan/olla-link/internal/util"
	"github.com/thushan/olla-link/internal/version"
	"github.com/thushan/olla-link/pkg/format"
)

const (
	maxErrorBodySize    = 4 * 1024
	maxResponseBodySize = 64 * 1024 * 1024

	opGenerate = "generate"
	opChat     = "chat"
	opEmbed    = "embed"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Permits is the part of the gate the executor needs
type Permits interface {
	Acquire(ctx context.Context) (*gate.Lease, error)
}

// Executor sends generate, chat and embedding calls to the resolved endpoint.
// Every call holds a gate permit for its whole duration. Failures are
// returned as RequestError and never retried.
type Executor struct {
	client   *http.Client
	permits  Permits
	logger   logger.StyledLogger
	endpoint atomic.Pointer[string]
	paths    config.PathsConfig
}

func New(paths config.PathsConfig, permits Permits, log logger.StyledLogger) *Executor {
	return &Executor{
		client:  &http.Client{},
		permits: permits,
		logger:  log,
		paths:   paths,
	}
}

// SetEndpoint points the executor at the endpoint readiness settled on
func (e *Executor) SetEndpoint(baseURL string) {
	e.endpoint.Store(&baseURL)
}

func (e *Executor) Endpoint() string {
	if p := e.endpoint.Load(); p != nil {
		return *p
	}
	return ""
}

func (e *Executor) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	req.Stream = false
	var out GenerateResponse
	if err := e.call(ctx, opGenerate, e.paths.Generate, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (e *Executor) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	req.Stream = false
	var out ChatResponse
	if err := e.call(ctx, opChat, e.paths.Chat, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (e *Executor) Embed(ctx context.Context, req EmbedRequest) (*EmbedResponse, error) {
	var out EmbedResponse
	if err := e.call(ctx, opEmbed, e.paths.Embed, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (e *Executor) GenerateStream(ctx context.Context, req GenerateRequest) (*Stream, error) {
	req.Stream = true
	return e.stream(ctx, opGenerate, e.paths.Generate, req)
}

func (e *Executor) ChatStream(ctx context.Context, req ChatRequest) (*Stream, error) {
	req.Stream = true
	return e.stream(ctx, opChat, e.paths.Chat, req)
}

// acquire takes a permit. A gate timeout is returned as is so callers can
// tell a saturated backend from a failed request.
func (e *Executor) acquire(ctx context.Context, op string) (*gate.Lease, error) {
	lease, err := e.permits.Acquire(ctx)
	if err != nil {
		var te *domain.TimeoutError
		if errors.As(err, &te) {
			return nil, te
		}
		return nil, domain.NewRequestError("", op, "", 0, "", 0, err)
	}
	return lease, nil
}

// call runs a single request/response exchange, the permit is held until
// the body has been decoded
func (e *Executor) call(ctx context.Context, op, path string, payload, out any) error {
	lease, err := e.acquire(ctx, op)
	if err != nil {
		return err
	}
	defer lease.Release()

	start := time.Now()
	requestID := uuid.NewString()
	target, err := e.target(path)
	if err != nil {
		return domain.NewRequestError(requestID, op, "", 0, "", 0, err)
	}

	httpReq, err := e.newRequest(ctx, target, requestID, payload)
	if err != nil {
		return domain.NewRequestError(requestID, op, target, 0, "", 0, err)
	}
	log := e.logger.WithRequestID(requestID)

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return domain.NewRequestError(requestID, op, target, 0, "", time.Since(start), err)
	}
	defer func(Body io.ReadCloser) {
		_ = Body.Close()
	}(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return e.statusError(resp, requestID, op, target, start)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBodySize)).Decode(out); err != nil {
		return domain.NewRequestError(requestID, op, target, resp.StatusCode, "", time.Since(start), fmt.Errorf("decode response: %w", err))
	}

	log.Debug("Request completed", "operation", op, "latency", format.Latency(time.Since(start)), "waited", format.Latency(lease.Waited))
	return nil
}

// stream hands the open response to a Stream which owns the permit from then on
func (e *Executor) stream(ctx context.Context, op, path string, payload any) (*Stream, error) {
	lease, err := e.acquire(ctx, op)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	requestID := uuid.NewString()
	target, err := e.target(path)
	if err != nil {
		lease.Release()
		return nil, domain.NewRequestError(requestID, op, "", 0, "", 0, err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	fail := func(status int, body string, err error) (*Stream, error) {
		cancel()
		lease.Release()
		return nil, domain.NewRequestError(requestID, op, target, status, body, time.Since(start), err)
	}

	httpReq, err := e.newRequest(streamCtx, target, requestID, payload)
	if err != nil {
		return fail(0, "", err)
	}
	httpReq.Header.Set(constants.HeaderAccept, constants.ContentTypeNDJSON)

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return fail(0, "", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body := readErrorBody(resp.Body)
		_ = resp.Body.Close()
		return fail(resp.StatusCode, body, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	log := e.logger.WithRequestID(requestID)
	log.Debug("Stream opened", "operation", op, "latency", format.Latency(time.Since(start)))

	return newStream(streamCtx, cancel, resp.Body, lease, requestID, log), nil
}

func (e *Executor) target(path string) (string, error) {
	base := e.Endpoint()
	if base == "" {
		return "", domain.ErrNoEndpointFound
	}
	return util.ResolveURLPath(base, path), nil
}

// newRequest encodes payload into its own slice, the transport may still be
// reading the body after the response has arrived
func (e *Executor) newRequest(ctx context.Context, target, requestID string, payload any) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set(constants.HeaderContentType, constants.ContentTypeJSON)
	req.Header.Set(constants.HeaderAccept, constants.ContentTypeJSON)
	req.Header.Set(constants.HeaderUserAgent, version.UserAgent())
	req.Header.Set(constants.HeaderRequestID, requestID)
	return req, nil
}

func (e *Executor) statusError(resp *http.Response, requestID, op, target string, start time.Time) error {
	body := readErrorBody(resp.Body)
	e.logger.WithRequestID(requestID).Warn("Backend rejected request", "operation", op, "status", resp.StatusCode)
	return domain.NewRequestError(requestID, op, target, resp.StatusCode, body, time.Since(start),
		fmt.Errorf("unexpected status %d", resp.StatusCode))
}

func readErrorBody(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	return string(bytes.TrimSpace(data))
}
