package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"hedgeline/native/oracle"
)

// RateDecimals is the fixed-point precision of ledger rates.
const RateDecimals = 18

// Registry constructs price feeds based on configuration.
type Registry struct {
	HTTPClient *http.Client
}

// NewRegistry builds a registry with sane defaults.
func NewRegistry() *Registry {
	return &Registry{HTTPClient: &http.Client{Timeout: 10 * time.Second}}
}

// Build creates a feed from the supplied configuration.
func (r *Registry) Build(name, typ, endpoint, field, rate string) (oracle.Source, error) {
	switch strings.ToLower(strings.TrimSpace(typ)) {
	case "static":
		parsed, err := ParseRate(rate)
		if err != nil {
			return nil, fmt.Errorf("feed %s: %w", name, err)
		}
		return oracle.NewStaticSource(label(name, "static"), parsed), nil
	case "http":
		if strings.TrimSpace(endpoint) == "" {
			return nil, fmt.Errorf("feed %s: endpoint required", name)
		}
		return &httpSource{
			client:   r.client(),
			name:     label(name, "http"),
			endpoint: strings.TrimSpace(endpoint),
			field:    label(field, "price"),
			now:      time.Now,
		}, nil
	default:
		return nil, fmt.Errorf("unknown feed type %q", typ)
	}
}

func (r *Registry) client() *http.Client {
	if r.HTTPClient != nil {
		return r.HTTPClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

// ParseRate converts a decimal price such as "1.0825" into an 18-decimal
// fixed-point integer. Extra precision is truncated.
func ParseRate(raw string) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("parse rate %q: %w", raw, err)
	}
	if !d.IsPositive() {
		return nil, fmt.Errorf("parse rate %q: %w", raw, oracle.ErrInvalidRate)
	}
	scaled := d.Shift(RateDecimals).Truncate(0)
	if !scaled.IsPositive() {
		return nil, fmt.Errorf("parse rate %q: below precision", raw)
	}
	return scaled.BigInt(), nil
}

// FormatRate renders an 18-decimal fixed-point rate as a decimal string.
func FormatRate(rate *big.Int) string {
	if rate == nil {
		return "0"
	}
	return decimal.NewFromBigInt(rate, -RateDecimals).String()
}

// httpSource reads a JSON document and extracts a decimal from a
// dot-separated field path. An optional sibling "timestamp" (unix seconds)
// overrides the observation time.
type httpSource struct {
	client   *http.Client
	name     string
	endpoint string
	field    string
	now      func() time.Time
}

func (s *httpSource) Name() string { return s.name }

func (s *httpSource) Rate(ctx context.Context) (oracle.Observation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint, nil)
	if err != nil {
		return oracle.Observation{}, fmt.Errorf("%s: build request: %w", s.name, err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return oracle.Observation{}, fmt.Errorf("%s: request: %w", s.name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return oracle.Observation{}, fmt.Errorf("%s: status %d: %s", s.name, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var doc map[string]any
	dec := json.NewDecoder(io.LimitReader(resp.Body, 1<<20))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return oracle.Observation{}, fmt.Errorf("%s: decode: %w", s.name, err)
	}
	raw, parent, err := lookup(doc, s.field)
	if err != nil {
		return oracle.Observation{}, fmt.Errorf("%s: %w", s.name, err)
	}
	rate, err := ParseRate(raw)
	if err != nil {
		return oracle.Observation{}, fmt.Errorf("%s: %w", s.name, err)
	}
	ts := s.now().UTC()
	if v, ok := parent["timestamp"]; ok {
		if n, ok := v.(json.Number); ok {
			if secs, err := n.Int64(); err == nil && secs > 0 {
				ts = time.Unix(secs, 0).UTC()
			}
		}
	}
	return oracle.Observation{Rate: rate, Timestamp: ts, Source: s.name}, nil
}

func lookup(doc map[string]any, path string) (string, map[string]any, error) {
	parts := strings.Split(path, ".")
	current := doc
	for i, part := range parts {
		value, ok := current[part]
		if !ok {
			return "", nil, fmt.Errorf("field %q missing", path)
		}
		if i == len(parts)-1 {
			switch v := value.(type) {
			case json.Number:
				return v.String(), current, nil
			case string:
				return v, current, nil
			default:
				return "", nil, fmt.Errorf("field %q is not numeric", path)
			}
		}
		next, ok := value.(map[string]any)
		if !ok {
			return "", nil, fmt.Errorf("field %q is not an object", strings.Join(parts[:i+1], "."))
		}
		current = next
	}
	return "", nil, fmt.Errorf("field %q missing", path)
}

func label(name, fallback string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed != "" {
		return trimmed
	}
	return fallback
}
