package scraper

import (
	"testing"

	"github.com/chromedp/cdproto/network"
	"github.com/ksred/coffee-collateral-api/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchActiveSymbol(t *testing.T) {
	tests := []struct {
		name    string
		heading string
		want    string
		wantErr bool
	}{
		{
			name:    "robusta front month",
			heading: "Robusta Coffee 10-T Mar '26 (RMH26)",
			want:    "RMH26",
		},
		{
			name:    "arabica front month",
			heading: "Coffee Dec '25 (KCZ25)",
			want:    "KCZ25",
		},
		{
			name:    "no parenthesized token",
			heading: "Coffee Futures Prices",
			wantErr: true,
		},
		{
			name:    "wrong exchange code",
			heading: "Cocoa Mar '26 (CCH26)",
			wantErr: true,
		},
		{
			name:    "empty heading",
			heading: "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := matchActiveSymbol(tt.heading)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrSymbolNotFound)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFindQuote(t *testing.T) {
	quotes := &types.QuoteResponse{
		Data: []types.QuoteRow{
			{Symbol: "RMH26", Raw: types.RawQuote{Symbol: "RMH26", DailyLastPrice: 2000}},
			{Symbol: "RMK26", Raw: types.RawQuote{Symbol: "RMK26", DailyLastPrice: 2050}},
			{Symbol: "RMH26", Raw: types.RawQuote{Symbol: "RMH26", DailyLastPrice: 9999}},
		},
	}

	t.Run("returns matching row", func(t *testing.T) {
		quote := findQuote(quotes, "RMK26")
		require.NotNil(t, quote)
		assert.Equal(t, 2050.0, quote.DailyLastPrice)
	})

	t.Run("first match wins on duplicates", func(t *testing.T) {
		quote := findQuote(quotes, "RMH26")
		require.NotNil(t, quote)
		assert.Equal(t, 2000.0, quote.DailyLastPrice)
	})

	t.Run("nil when absent", func(t *testing.T) {
		assert.Nil(t, findQuote(quotes, "KCZ25"))
	})
}

func TestQuoteCaptureReadsOnlyAfterLoadingFinished(t *testing.T) {
	capture := newQuoteCapture()

	responseEvent := &network.EventResponseReceived{
		RequestID: network.RequestID("req-1"),
		Response:  &network.Response{URL: "https://www.barchart.com" + quotesAPIPath + "?fields=..."},
	}

	// Headers arriving does not make the body readable yet.
	_, ready := capture.observe(responseEvent)
	assert.False(t, ready)

	// Loading-finished for an untracked request is someone else's resource.
	_, ready = capture.observe(&network.EventLoadingFinished{RequestID: network.RequestID("req-other")})
	assert.False(t, ready)

	// The tracked request becomes readable exactly when its download completes.
	requestID, ready := capture.observe(&network.EventLoadingFinished{RequestID: network.RequestID("req-1")})
	require.True(t, ready)
	assert.Equal(t, network.RequestID("req-1"), requestID)

	// And exactly once.
	_, ready = capture.observe(&network.EventLoadingFinished{RequestID: network.RequestID("req-1")})
	assert.False(t, ready)
}

func TestQuoteCaptureIgnoresOtherURLs(t *testing.T) {
	capture := newQuoteCapture()

	_, ready := capture.observe(&network.EventResponseReceived{
		RequestID: network.RequestID("req-2"),
		Response:  &network.Response{URL: "https://www.barchart.com/assets/app.js"},
	})
	assert.False(t, ready)

	_, ready = capture.observe(&network.EventLoadingFinished{RequestID: network.RequestID("req-2")})
	assert.False(t, ready)
}

func TestQuoteURL(t *testing.T) {
	assert.Contains(t, quoteURL(types.CommodityArabica), "KC*0")
	assert.Contains(t, quoteURL(types.CommodityRobusta), "RM*0")
}
