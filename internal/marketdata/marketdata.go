package marketdata

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ksred/coffee-collateral-api/internal/types"
	"github.com/ksred/coffee-collateral-api/pkg/response"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

var (
	// ErrDuplicateDate signals that a record already exists for the commodity
	// and trade date. Expected steady state when a run executes before new
	// exchange data is published.
	ErrDuplicateDate = errors.New("market data already exists for this trade date")

	// ErrBadTradeDate signals an unparseable trade date on the raw quote.
	ErrBadTradeDate = errors.New("quote carries an unparseable trade date")
)

const (
	// ma30Window is the number of prior records averaged into the moving mean.
	ma30Window = 30

	tonneToKg = 1000.0
	lbToKg    = 1 / 0.453592
)

// FxResolver supplies the USD to IDR base rate at ingestion time.
type FxResolver interface {
	Rate(ctx context.Context) float64
}

// Service ingests raw futures quotes into the market data series and expands
// each new record into its tiered discount valuations.
type Service struct {
	db *Database
	fx FxResolver
}

func NewService(gormDB *gorm.DB, fx FxResolver) *Service {
	return &Service{
		db: NewDatabase(gormDB),
		fx: fx,
	}
}

// GetDB exposes the package database for collaborating services.
func (s *Service) GetDB() *Database {
	return s.db
}

// unitRate converts the USD base rate into the commodity's per-kg IDR rate.
// Arabica quotes in cents per pound, Robusta in dollars per tonne; these
// transforms must be preserved exactly for numeric parity with the stored
// series.
func unitRate(commodity types.Commodity, baseRate float64) float64 {
	if commodity == types.CommodityArabica {
		return baseRate / 100 * lbToKg
	}
	return baseRate / tonneToKg
}

// Ingest derives and persists a new MarketData record for the commodity from
// a raw quote, then generates its discount values. Returns ErrDuplicateDate,
// with nothing written, when the quote's trade date is already recorded.
func (s *Service) Ingest(ctx context.Context, commodity types.Commodity, quote *types.RawQuote) (*MarketData, error) {
	logger := log.With().
		Str("service", "marketdata").
		Str("commodity", string(commodity)).
		Str("symbol", quote.Symbol).
		Logger()

	tradeDate, err := parseTradeDate(quote.DailyDate1dAgo)
	if err != nil {
		return nil, err
	}

	existing, err := s.db.GetByTypeAndDate(commodity, tradeDate)
	if err != nil {
		return nil, fmt.Errorf("check existing record: %w", err)
	}
	if existing != nil {
		logger.Info().Time("trade_date", tradeDate).Msg("record already exists for trade date")
		return nil, fmt.Errorf("%w: %s %s", ErrDuplicateDate, commodity, tradeDate.Format("2006-01-02"))
	}

	baseRate := s.fx.Rate(ctx)
	idrRate := unitRate(commodity, baseRate)

	prior, err := s.db.GetRecent(commodity, ma30Window)
	if err != nil {
		return nil, fmt.Errorf("load prior records: %w", err)
	}

	ma30 := movingAverage(prior)
	if ma30 != nil {
		logger.Debug().
			Int("window", len(prior)).
			Float64("ma30", *ma30).
			Msg("computed moving average")
	}

	ma30Change := 0.0
	if ma30 != nil {
		lastMa30, err := s.db.GetLatestMa30(commodity)
		if err != nil {
			return nil, fmt.Errorf("load previous ma30: %w", err)
		}
		if lastMa30 != nil {
			ma30Change = *ma30 - *lastMa30.Ma30
		}
	}

	changePercent := 0.0
	if quote.DailyPreviousPrice != 0 {
		changePercent = quote.DailyPriceChange / quote.DailyPreviousPrice * 100
	}

	record := &MarketData{
		Type:           commodity,
		TradeDate:      tradeDate,
		OpenPrice:      round2(quote.DailyOpenPrice),
		HighPrice:      round2(quote.DailyHighPrice),
		LowPrice:       round2(quote.DailyLowPrice),
		ClosePrice:     round2(quote.DailyLastPrice),
		PriceChange:    round2(quote.DailyPriceChange),
		PreviousClose:  round2(quote.DailyPreviousPrice),
		ChangePercent:  round2(changePercent),
		Ma30:           ma30,
		Ma30Change:     round2(ma30Change),
		UnitLabel:      commodity.UnitLabel(),
		Volume:         quote.DailyVolume,
		OpenInterest:   quote.DailyOpenInterest,
		IdrPrice:       round2(quote.DailyLastPrice * idrRate),
		IdrPriceChange: round2(quote.DailyPriceChange * idrRate),
		IdrMa30Change:  round2(ma30Change * idrRate),
		IdrRate:        round2(baseRate),
	}
	if ma30 != nil {
		idrMa30 := *ma30 * idrRate
		record.IdrMa30 = &idrMa30
	}

	if err := s.persistRecord(record); err != nil {
		return nil, err
	}

	logger.Info().
		Time("trade_date", tradeDate).
		Float64("close", record.ClosePrice).
		Float64("idr_price", record.IdrPrice).
		Float64("idr_rate", record.IdrRate).
		Msg("market data record created")

	if err := s.generateDiscountValues(record); err != nil {
		return nil, fmt.Errorf("generate discount values: %w", err)
	}

	return record, nil
}

// persistRecord writes the record, mapping the unique index on
// (type, trade_date) to ErrDuplicateDate. The existence check in Ingest is
// racy; the index is the backstop, and the loser must see the same sentinel.
func (s *Service) persistRecord(record *MarketData) error {
	if err := s.db.CreateMarketData(record); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: %s %s", ErrDuplicateDate, record.Type, record.TradeDate.Format("2006-01-02"))
		}
		return fmt.Errorf("persist market data: %w", err)
	}
	return nil
}

// GetLatest returns the most recent series record for the commodity.
func (s *Service) GetLatest(commodity types.Commodity) (*MarketDataResponse, error) {
	record, err := s.db.GetLatest(commodity)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return &MarketDataResponse{
		Type:          record.Type,
		TradeDate:     record.TradeDate,
		ClosePrice:    record.ClosePrice,
		PriceChange:   record.PriceChange,
		ChangePercent: record.ChangePercent,
		Ma30:          record.Ma30,
		Ma30Change:    record.Ma30Change,
		UnitLabel:     record.UnitLabel,
		IdrPrice:      record.IdrPrice,
		IdrMa30:       record.IdrMa30,
		IdrRate:       record.IdrRate,
	}, nil
}

// parseTradeDate anchors the quote's "one day ago" date at UTC midnight. The
// trade date reflects the exchange trading day, not the scrape run date.
func parseTradeDate(raw string) (time.Time, error) {
	parsed, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrBadTradeDate, raw)
	}
	return time.Date(parsed.Year(), parsed.Month(), parsed.Day(), 0, 0, 0, 0, time.UTC), nil
}

// movingAverage computes the arithmetic mean of the close prices of the given
// prior records, skipping non-numeric entries. Nil when no usable prices exist.
func movingAverage(prior []MarketData) *float64 {
	sum := 0.0
	count := 0
	for _, record := range prior {
		if math.IsNaN(record.ClosePrice) || math.IsInf(record.ClosePrice, 0) {
			continue
		}
		sum += record.ClosePrice
		count++
	}
	if count == 0 {
		return nil
	}
	mean := sum / float64(count)
	return &mean
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// GinHandlers contains HTTP handlers for market data read endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// LatestHandler handles GET requests for the latest series record
// URL parameter: commodity (arabica or robusta)
func (h *GinHandlers) LatestHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		commodity, ok := commodityFromParam(c.Param("commodity"))
		if !ok {
			response.BadRequest(c, "Unknown commodity")
			return
		}

		latest, err := h.service.GetLatest(commodity)
		response.Handle(c, latest, err)
	}
}

func commodityFromParam(param string) (types.Commodity, bool) {
	switch param {
	case "arabica", "kc":
		return types.CommodityArabica, true
	case "robusta", "rm":
		return types.CommodityRobusta, true
	}
	return "", false
}
