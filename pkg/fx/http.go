package fx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// HTTPResolverConfig configures a Frankfurter-compatible rate API.
type HTTPResolverConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
	Source  string        `yaml:"source"`
}

// DefaultHTTPResolverConfig returns the public Frankfurter endpoint.
func DefaultHTTPResolverConfig() HTTPResolverConfig {
	return HTTPResolverConfig{
		BaseURL: "https://api.frankfurter.app",
		Timeout: 5 * time.Second,
		Source:  "frankfurter",
	}
}

// HTTPResolver fetches daily reference rates with
// GET {base_url}/{yyyy-mm-dd}?from=BASE&to=TARGET.
type HTTPResolver struct {
	client *http.Client
	config HTTPResolverConfig
}

// NewHTTPResolver returns a resolver with its own http.Client.
func NewHTTPResolver(config HTTPResolverConfig) *HTTPResolver {
	return NewHTTPResolverWithClient(config, &http.Client{Timeout: config.Timeout})
}

// NewHTTPResolverWithClient returns a resolver using client.
func NewHTTPResolverWithClient(config HTTPResolverConfig, client *http.Client) *HTTPResolver {
	if config.Source == "" {
		config.Source = "http"
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	return &HTTPResolver{client: client, config: config}
}

type ratesResponse struct {
	Base  string                     `json:"base"`
	Date  string                     `json:"date"`
	Rates map[string]decimal.Decimal `json:"rates"`
}

// requestURL builds the lookup URL; a zero at asks for the latest rates.
func (r *HTTPResolver) requestURL(base, target string, at time.Time) string {
	day := "latest"
	if !at.IsZero() {
		day = at.UTC().Format(time.DateOnly)
	}
	q := url.Values{}
	q.Set("from", base)
	q.Set("to", target)
	return r.config.BaseURL + "/" + day + "?" + q.Encode()
}

// Resolve implements Resolver. Transport failures and server errors are
// ErrUnavailable; an unknown currency is ErrUnsupportedPair.
func (r *HTTPResolver) Resolve(ctx context.Context, base, target string, at time.Time) (Quote, error) {
	base, target = strings.ToUpper(base), strings.ToUpper(target)
	if base == target {
		return Quote{Base: base, Target: target, Rate: decimal.NewFromInt(1), Source: r.config.Source, Timestamp: at}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.requestURL(base, target, at), nil)
	if err != nil {
		return Quote{}, fmt.Errorf("fx: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return Quote{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusUnprocessableEntity:
		return Quote{}, fmt.Errorf("%w: %s/%s", ErrUnsupportedPair, base, target)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Quote{}, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload ratesResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Quote{}, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}

	rate, ok := payload.Rates[target]
	if !ok {
		return Quote{}, fmt.Errorf("%w: %s/%s", ErrUnsupportedPair, base, target)
	}

	timestamp := at
	if day, err := time.Parse(time.DateOnly, payload.Date); err == nil {
		timestamp = day
	}

	q := Quote{Base: base, Target: target, Rate: rate, Source: r.config.Source, Timestamp: timestamp}
	if err := q.Validate(base, target); err != nil {
		return Quote{}, err
	}
	return q, nil
}
