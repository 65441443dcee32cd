package capability

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/thushan/olla-link/internal/config"
	"github.com/thushan/olla-link/internal/core/constants"
	"github.com/thushan/olla-link/internal/core/domain"
	"github.com/thushan/olla-link/internal/logger"
	"github.com/thushan/olla-link/internal/util"
	"github.com/thushan/olla-link/internal/version"
	"github.com/thushan/olla-link/pkg/format"
)

const (
	maxCatalogSize   = 10 * 1024 * 1024
	maxErrorBodySize = 4 * 1024
)

// Remediator lists, installs, refreshes and removes models on a backend.
// Its operations report failure in the result instead of returning errors so
// the caller decides how serious a failed pull is.
type Remediator struct {
	client      *http.Client
	parser      *CatalogParser
	logger      logger.StyledLogger
	paths       config.PathsConfig
	listTimeout time.Duration
	timeout     time.Duration
}

type Option func(*Remediator)

func WithHTTPClient(client *http.Client) Option {
	return func(r *Remediator) {
		r.client = client
	}
}

// WithListTimeout bounds catalog listing, which is much quicker than a pull
func WithListTimeout(d time.Duration) Option {
	return func(r *Remediator) {
		r.listTimeout = d
	}
}

func NewRemediator(paths config.PathsConfig, remediationTimeout time.Duration, log logger.StyledLogger, opts ...Option) (*Remediator, error) {
	parser, err := NewCatalogParser(paths.CatalogPath)
	if err != nil {
		return nil, err
	}
	if remediationTimeout <= 0 {
		remediationTimeout = constants.DefaultRemediationTimeout
	}

	r := &Remediator{
		client:      &http.Client{},
		parser:      parser,
		logger:      log,
		paths:       paths,
		timeout:     remediationTimeout,
		listTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (r *Remediator) Parser() *CatalogParser {
	return r.parser
}

// List fetches the installed catalog from the probe path
func (r *Remediator) List(ctx context.Context, baseURL string) ([]domain.CapabilityDescriptor, error) {
	listCtx, cancel := context.WithTimeout(ctx, r.listTimeout)
	defer cancel()

	target := util.ResolveURLPath(baseURL, r.paths.Probe)
	req, err := http.NewRequestWithContext(listCtx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build list request: %w", err)
	}
	req.Header.Set(constants.HeaderAccept, constants.ContentTypeJSON)
	req.Header.Set(constants.HeaderUserAgent, version.UserAgent())

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list models at %s: %w", target, err)
	}
	defer func(Body io.ReadCloser) {
		_ = Body.Close()
	}(resp.Body)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCatalogSize))
	if err != nil {
		return nil, fmt.Errorf("read catalog from %s: %w", target, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("list models at %s: HTTP %d", target, resp.StatusCode)
	}

	return r.parser.Parse(ctx, body, time.Now())
}

// EnsureInstalled pulls the model only when no catalog entry matches it
func (r *Remediator) EnsureInstalled(ctx context.Context, baseURL, identifier string) domain.OperationResult {
	start := time.Now()

	catalog, err := r.List(ctx, baseURL)
	if err != nil {
		return domain.NewFailedResult(identifier, "listing installed models failed: "+err.Error(), time.Since(start))
	}
	if match, ok := FindMatch(identifier, catalog); ok {
		return domain.NewNoopResult(identifier, "already installed as "+match.Name)
	}

	return r.pull(ctx, baseURL, identifier, start)
}

// Refresh always pulls, which is how updated weights are fetched
func (r *Remediator) Refresh(ctx context.Context, baseURL, identifier string) domain.OperationResult {
	return r.pull(ctx, baseURL, identifier, time.Now())
}

// Remove deletes the installed entry that matches identifier
func (r *Remediator) Remove(ctx context.Context, baseURL, identifier string) domain.OperationResult {
	start := time.Now()

	catalog, err := r.List(ctx, baseURL)
	if err != nil {
		return domain.NewFailedResult(identifier, "listing installed models failed: "+err.Error(), time.Since(start))
	}
	match, ok := FindMatch(identifier, catalog)
	if !ok {
		return domain.NewNoopResult(identifier, "not installed")
	}

	opCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	status, body, err := r.send(opCtx, http.MethodDelete, util.ResolveURLPath(baseURL, r.paths.Remove), map[string]any{
		"name": match.Name,
	})
	if err != nil {
		return domain.NewFailedResult(identifier, "remove failed: "+err.Error(), time.Since(start))
	}
	if status < 200 || status >= 300 {
		return domain.NewFailedResult(identifier, fmt.Sprintf("remove failed: HTTP %d: %s", status, body), time.Since(start))
	}

	r.logger.InfoWithModel("Removed model", match.Name, "endpoint", baseURL)
	return domain.NewPerformedResult(identifier, "removed "+match.Name, time.Since(start))
}

func (r *Remediator) pull(ctx context.Context, baseURL, identifier string, start time.Time) domain.OperationResult {
	opCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	r.logger.InfoWithModel("Pulling model", identifier, "endpoint", baseURL, "timeout", format.Duration(r.timeout))

	status, body, err := r.send(opCtx, http.MethodPost, util.ResolveURLPath(baseURL, r.paths.Install), map[string]any{
		"name":   identifier,
		"stream": false,
	})
	elapsed := time.Since(start)
	if err != nil {
		r.logger.Warn("Model pull failed", "model", identifier, "error", err, "duration", format.Duration(elapsed))
		return domain.NewFailedResult(identifier, "pull failed: "+err.Error(), elapsed)
	}
	if status < 200 || status >= 300 {
		r.logger.Warn("Model pull rejected", "model", identifier, "status", status, "body", body)
		return domain.NewFailedResult(identifier, fmt.Sprintf("pull failed: HTTP %d: %s", status, body), elapsed)
	}

	r.logger.InfoWithModel("Pulled model", identifier, "duration", format.Duration(elapsed))
	return domain.NewPerformedResult(identifier, "pulled "+identifier, elapsed)
}

// send returns the status and a truncated body, errors are transport only
func (r *Remediator) send(ctx context.Context, method, target string, payload any) (int, string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, "", fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(data))
	if err != nil {
		return 0, "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set(constants.HeaderContentType, constants.ContentTypeJSON)
	req.Header.Set(constants.HeaderUserAgent, version.UserAgent())

	resp, err := r.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer func(Body io.ReadCloser) {
		_ = Body.Close()
	}(resp.Body)

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	// drain so the connection can be reused
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode, string(bytes.TrimSpace(body)), nil
}

// LogCatalog prints the catalog with human sizes
func LogCatalog(log logger.StyledLogger, endpoint string, catalog []domain.CapabilityDescriptor) {
	log.InfoWithCount("Installed models", len(catalog), "endpoint", endpoint)
	for _, d := range catalog {
		log.InfoWithModel("Model", d.Name, "size", format.Bytes(d.Size), "digest", shortDigest(d.Digest))
	}
}

func shortDigest(digest string) string {
	const keep = 19 // "sha256:" + 12
	if len(digest) > keep {
		return digest[:keep]
	}
	return digest
}
