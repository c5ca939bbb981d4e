package fx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRate_ReturnsLiveRate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"base":"USD","rates":{"IDR":16250.5,"EUR":0.92}}`))
	}))
	defer server.Close()

	resolver := NewResolver(server.URL)
	assert.Equal(t, 16250.5, resolver.Rate(context.Background()))
}

func TestRate_FallsBackOnServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	resolver := NewResolver(server.URL)
	assert.Equal(t, float64(FallbackIDRRate), resolver.Rate(context.Background()))
}

func TestRate_FallsBackOnMalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json at all`))
	}))
	defer server.Close()

	resolver := NewResolver(server.URL)
	assert.Equal(t, float64(FallbackIDRRate), resolver.Rate(context.Background()))
}

func TestRate_FallsBackOnMissingIDR(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"rates":{"EUR":0.92}}`))
	}))
	defer server.Close()

	resolver := NewResolver(server.URL)
	assert.Equal(t, float64(FallbackIDRRate), resolver.Rate(context.Background()))
}

func TestRate_FallsBackOnUnreachableEndpoint(t *testing.T) {
	resolver := NewResolver("http://127.0.0.1:1/latest/USD")
	assert.Equal(t, float64(FallbackIDRRate), resolver.Rate(context.Background()))
}
