package fx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultEndpoint is the public exchangerate-api USD base endpoint.
	DefaultEndpoint = "https://api.exchangerate-api.com/v4/latest/USD"

	// FallbackIDRRate is used whenever the live rate cannot be fetched.
	FallbackIDRRate = 16000

	requestTimeout = 10 * time.Second
)

// exchangeRates mirrors the relevant part of the endpoint's response.
type exchangeRates struct {
	Rates map[string]float64 `json:"rates"`
}

// Resolver fetches the USD to IDR conversion rate. It degrades to a fixed
// fallback on any failure and never returns an error; callers may treat the
// returned rate as always valid.
type Resolver struct {
	endpoint string
	client   *http.Client
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(client *http.Client) Option {
	return func(r *Resolver) {
		r.client = client
	}
}

// NewResolver creates a rate resolver. An empty endpoint selects the default.
func NewResolver(endpoint string, opts ...Option) *Resolver {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	r := &Resolver{
		endpoint: endpoint,
		client:   &http.Client{Timeout: requestTimeout},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Rate returns the current USD to IDR rate, or FallbackIDRRate when the
// endpoint is unreachable or returns an unusable payload.
func (r *Resolver) Rate(ctx context.Context) float64 {
	logger := log.With().Str("service", "fx").Logger()

	rate, err := r.fetch(ctx)
	if err != nil {
		logger.Warn().
			Err(err).
			Float64("fallback_rate", FallbackIDRRate).
			Msg("failed to fetch IDR rate, using fallback")
		return FallbackIDRRate
	}

	logger.Debug().Float64("idr_rate", rate).Msg("fetched IDR rate")
	return rate
}

func (r *Resolver) fetch(ctx context.Context) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetch rates: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %d from rate endpoint", resp.StatusCode)
	}

	var rates exchangeRates
	if err := json.NewDecoder(resp.Body).Decode(&rates); err != nil {
		return 0, fmt.Errorf("decode rates: %w", err)
	}

	idr, ok := rates.Rates["IDR"]
	if !ok || idr <= 0 {
		return 0, fmt.Errorf("rate response missing usable IDR rate")
	}

	return idr, nil
}
