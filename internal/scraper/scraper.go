// Package scraper extracts daily futures quotes from the Barchart quotes page.
// The page loads its data through a backend API call; a plain HTTP fetch gets
// neither the rendered heading nor the JSON, so a headless Chromium session
// intercepts the backing response over CDP while the page renders.
package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/ksred/coffee-collateral-api/internal/types"
	"github.com/rs/zerolog/log"
)

const (
	arabicaURL = "https://www.barchart.com/futures/quotes/KC*0/futures-prices?timeFrame=daily"
	robustaURL = "https://www.barchart.com/futures/quotes/RM*0/futures-prices?timeFrame=daily"

	// quotesAPIPath is the backend endpoint common to both commodity pages.
	quotesAPIPath = "/proxies/core-api/v1/quotes/get"

	// Barchart serves a reduced payload, or blocks outright, on headless
	// browser fingerprints.
	desktopUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) " +
		"Chrome/122.0.0.0 Safari/537.36"
	acceptLanguage = "en-US,en;q=0.9"

	// pageSettleTimeout bounds navigation plus heading render.
	pageSettleTimeout = 60 * time.Second
	// captureTimeout bounds the wait for the intercepted JSON, which may
	// resolve after the heading is already visible.
	captureTimeout = 15 * time.Second
)

// activeSymbolPattern matches the parenthesized front-month contract token at
// the end of the page heading, e.g. "(RMH26)".
var activeSymbolPattern = regexp.MustCompile(`\(((?:RM|KC)[A-Z0-9]+)\)`)

// ErrSymbolNotFound signals that the page heading carried no recognizable
// active contract symbol. This aborts the run; the page shape has changed.
var ErrSymbolNotFound = errors.New("could not extract active symbol from page heading")

// Extractor drives a headless browser session per extraction call.
type Extractor struct {
	execPath string
}

// NewExtractor creates an extractor. execPath optionally points at a Chromium
// binary for containerized execution; empty uses chromedp's lookup.
func NewExtractor(execPath string) *Extractor {
	return &Extractor{execPath: execPath}
}

// Extract loads the commodity's quotes page and returns the raw quote of the
// currently active contract. A nil quote with nil error means no data was
// captured or no row matched; callers treat that as a scrape failure, not a
// crash. The browser session is released on every exit path.
func (e *Extractor) Extract(ctx context.Context, commodity types.Commodity) (*types.RawQuote, error) {
	logger := log.With().
		Str("service", "scraper").
		Str("commodity", string(commodity)).
		Logger()

	targetURL := quoteURL(commodity)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.DisableGPU,
		chromedp.UserAgent(desktopUserAgent),
	)
	if e.execPath != "" {
		opts = append(opts, chromedp.ExecPath(e.execPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	// Buffered so a late-arriving body never blocks its reader goroutine.
	captured := make(chan *types.QuoteResponse, 1)

	// The observer must be registered before navigation: the API call fires
	// while the page loads. The body is only retrievable once the resource
	// has finished loading, so the response event marks the request and the
	// loading-finished event triggers the read.
	capture := newQuoteCapture()
	chromedp.ListenTarget(browserCtx, func(ev interface{}) {
		requestID, ready := capture.observe(ev)
		if !ready {
			return
		}
		go func() {
			c := chromedp.FromContext(browserCtx)
			body, err := network.GetResponseBody(requestID).
				Do(cdp.WithExecutor(browserCtx, c.Target))
			if err != nil {
				logger.Warn().Err(err).Msg("failed to read intercepted response body")
				return
			}
			var quotes types.QuoteResponse
			if err := json.Unmarshal(body, &quotes); err != nil {
				logger.Warn().Err(err).Msg("failed to parse intercepted quote JSON")
				return
			}
			select {
			case captured <- &quotes:
			default:
			}
		}()
	})

	navCtx, cancelNav := context.WithTimeout(browserCtx, pageSettleTimeout)
	defer cancelNav()

	var headingText string
	err := chromedp.Run(navCtx,
		network.Enable(),
		network.SetExtraHTTPHeaders(network.Headers{"Accept-Language": acceptLanguage}),
		chromedp.Navigate(targetURL),
		chromedp.Text("h1", &headingText, chromedp.ByQuery),
	)
	if err != nil {
		return nil, fmt.Errorf("navigate %s: %w", targetURL, err)
	}

	activeSymbol, err := matchActiveSymbol(headingText)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("active_symbol", activeSymbol).Msg("resolved active contract")

	select {
	case quotes := <-captured:
		quote := findQuote(quotes, activeSymbol)
		if quote == nil {
			logger.Error().
				Str("active_symbol", activeSymbol).
				Int("rows", len(quotes.Data)).
				Msg("no quote row matched the active symbol")
		}
		return quote, nil
	case <-time.After(captureTimeout):
		logger.Error().Msg("no quote data intercepted before timeout")
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// quoteCapture tracks the backing API request across its CDP events.
// EventResponseReceived only means headers arrived; the body may still be
// streaming and is not retrievable until EventLoadingFinished for the same
// request ID.
type quoteCapture struct {
	mu      sync.Mutex
	pending map[network.RequestID]bool
}

func newQuoteCapture() *quoteCapture {
	return &quoteCapture{pending: make(map[network.RequestID]bool)}
}

// observe feeds one CDP event into the tracker. It returns the request ID and
// true exactly once per tracked request, when its loading-finished event
// arrives and the body can be read.
func (qc *quoteCapture) observe(ev interface{}) (network.RequestID, bool) {
	switch ev := ev.(type) {
	case *network.EventResponseReceived:
		if strings.Contains(ev.Response.URL, quotesAPIPath) {
			qc.mu.Lock()
			qc.pending[ev.RequestID] = true
			qc.mu.Unlock()
		}
	case *network.EventLoadingFinished:
		qc.mu.Lock()
		defer qc.mu.Unlock()
		if qc.pending[ev.RequestID] {
			delete(qc.pending, ev.RequestID)
			return ev.RequestID, true
		}
	}
	return "", false
}

func quoteURL(commodity types.Commodity) string {
	if commodity == types.CommodityArabica {
		return arabicaURL
	}
	return robustaURL
}

// matchActiveSymbol extracts the active contract symbol from the heading.
func matchActiveSymbol(heading string) (string, error) {
	match := activeSymbolPattern.FindStringSubmatch(heading)
	if len(match) < 2 {
		return "", fmt.Errorf("%w: %q", ErrSymbolNotFound, heading)
	}
	return match[1], nil
}

// findQuote returns the first row whose symbol equals the active symbol.
// Duplicate symbols are not expected and not de-duplicated.
func findQuote(quotes *types.QuoteResponse, activeSymbol string) *types.RawQuote {
	for i := range quotes.Data {
		if quotes.Data[i].Symbol == activeSymbol {
			raw := quotes.Data[i].Raw
			return &raw
		}
	}
	return nil
}
