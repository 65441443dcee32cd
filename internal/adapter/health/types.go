package health

import (
	"context"
	"net/http"
	"time"

	"github.com/thushan/olla-link/internal/core/domain"
)

const (
	HealthyEndpointStatusRangeStart = 200
	HealthyEndpointStatusRangeEnd   = 300

	// probe bodies double as the model catalog, keep them bounded
	MaxProbeBodySize = 10 * 1024 * 1024

	DefaultProbeConcurrency = 4

	checkTypeProbe      = "probe"
	checkTypeCapability = "capability"
)

type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// CatalogParser turns a probe body into the installed model list
type CatalogParser interface {
	Parse(ctx context.Context, body []byte, checkedAt time.Time) ([]domain.CapabilityDescriptor, error)
}
