package capability

import (
	"context"
	"fmt"
	"time"

	"github.com/PaesslerAG/jsonpath"
	jsoniter "github.com/json-iterator/go"

	"github.com/thushan/olla-link/internal/core/constants"
	"github.com/thushan/olla-link/internal/core/domain"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type evaluable = func(context.Context, interface{}) (interface{}, error)

// CatalogParser pulls model entries out of a probe response using a JSONPath
// expression, so backends that nest their list differently only need config
type CatalogParser struct {
	eval evaluable
	path string
}

func NewCatalogParser(path string) (*CatalogParser, error) {
	if path == "" {
		path = constants.DefaultCatalogPath
	}
	eval, err := jsonpath.New(path)
	if err != nil {
		return nil, fmt.Errorf("invalid catalog path %q: %w", path, err)
	}
	return &CatalogParser{path: path, eval: eval}, nil
}

func (p *CatalogParser) Path() string {
	return p.path
}

// Parse turns a probe body into descriptors stamped with checkedAt. Entries
// without a usable name are skipped.
func (p *CatalogParser) Parse(ctx context.Context, body []byte, checkedAt time.Time) ([]domain.CapabilityDescriptor, error) {
	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("catalog response is not JSON: %w", err)
	}

	selected, err := p.eval(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("catalog path %s: %w", p.path, err)
	}

	var entries []interface{}
	switch v := selected.(type) {
	case []interface{}:
		entries = v
	case map[string]interface{}:
		entries = []interface{}{v}
	case nil:
		return []domain.CapabilityDescriptor{}, nil
	default:
		return nil, fmt.Errorf("catalog path %s selected %T, expected objects", p.path, selected)
	}

	out := make([]domain.CapabilityDescriptor, 0, len(entries))
	for _, raw := range entries {
		obj, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		name := stringField(obj, "name")
		if name == "" {
			name = stringField(obj, "model")
		}
		if name == "" {
			continue
		}
		out = append(out, domain.CapabilityDescriptor{
			Name:        name,
			Installed:   true,
			LastChecked: checkedAt,
			Digest:      stringField(obj, "digest"),
			Size:        int64Field(obj, "size"),
		})
	}
	return out, nil
}

func stringField(obj map[string]interface{}, key string) string {
	if s, ok := obj[key].(string); ok {
		return s
	}
	return ""
}

func int64Field(obj map[string]interface{}, key string) int64 {
	switch n := obj[key].(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return 0
	}
}
