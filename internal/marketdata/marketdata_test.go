package marketdata

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ksred/coffee-collateral-api/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fixedRate float64

func (r fixedRate) Rate(_ context.Context) float64 { return float64(r) }

func setupService(t *testing.T, rate float64) (*Service, *gorm.DB) {
	t.Helper()

	// Named shared-cache DSN so every pooled connection sees the same
	// in-memory database.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&MarketData{}, &MaDiscountSetting{}, &MaDiscountValue{}))

	return NewService(db, fixedRate(rate)), db
}

func robustaQuote(tradeDate string, last, change, previous float64) *types.RawQuote {
	return &types.RawQuote{
		Symbol:             "RMH26",
		DailyOpenPrice:     last - 10,
		DailyHighPrice:     last + 20,
		DailyLowPrice:      last - 30,
		DailyLastPrice:     last,
		DailyPriceChange:   change,
		DailyPreviousPrice: previous,
		DailyVolume:        1200,
		DailyOpenInterest:  5400,
		DailyDate1dAgo:     tradeDate,
	}
}

func TestIngestRobustaEndToEnd(t *testing.T) {
	service, _ := setupService(t, 16000)

	record, err := service.Ingest(context.Background(), types.CommodityRobusta, robustaQuote("2024-05-01", 2000, 50, 1950))
	require.NoError(t, err)

	assert.Equal(t, types.CommodityRobusta, record.Type)
	assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), record.TradeDate)
	assert.Equal(t, 2000.0, record.ClosePrice)
	assert.Equal(t, 50.0, record.PriceChange)
	assert.Equal(t, 1950.0, record.PreviousClose)
	// 50 / 1950 * 100 = 2.5641..., rounded to 2.56
	assert.Equal(t, 2.56, record.ChangePercent)
	// Robusta quotes USD/tonne: 16000 / 1000 = 16 IDR per USD-tonne unit,
	// 2000 * 16 = 32000.
	assert.Equal(t, 32000.0, record.IdrPrice)
	assert.Equal(t, 800.0, record.IdrPriceChange)
	assert.Equal(t, 16000.0, record.IdrRate)
	assert.Equal(t, "USD/Tonne", record.UnitLabel)
	// First record of the series has no prior closes.
	assert.Nil(t, record.Ma30)
	assert.Nil(t, record.IdrMa30)
	assert.Equal(t, 0.0, record.Ma30Change)
}

func TestIngestArabicaUnitConversion(t *testing.T) {
	service, _ := setupService(t, 16000)

	quote := robustaQuote("2024-05-01", 200, 0, 0)
	quote.Symbol = "KCZ25"
	record, err := service.Ingest(context.Background(), types.CommodityArabica, quote)
	require.NoError(t, err)

	// Arabica quotes cents/lb: 16000 / 100 / 0.453592 = 352.7399... IDR per
	// cent-pound unit, 200 * that = 70547.98 after rounding.
	assert.Equal(t, 70547.98, record.IdrPrice)
	assert.Equal(t, "¢/lb", record.UnitLabel)
	// Zero previous close must not divide.
	assert.Equal(t, 0.0, record.ChangePercent)
}

func TestIngestDuplicateDateWritesNothing(t *testing.T) {
	service, db := setupService(t, 16000)

	_, err := service.Ingest(context.Background(), types.CommodityRobusta, robustaQuote("2024-05-01", 2000, 50, 1950))
	require.NoError(t, err)

	_, err = service.Ingest(context.Background(), types.CommodityRobusta, robustaQuote("2024-05-01", 2100, 100, 2000))
	assert.ErrorIs(t, err, ErrDuplicateDate)

	var count int64
	require.NoError(t, db.Model(&MarketData{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestPersistRecordMapsUniqueViolation(t *testing.T) {
	service, _ := setupService(t, 16000)

	_, err := service.Ingest(context.Background(), types.CommodityRobusta, robustaQuote("2024-05-01", 2000, 50, 1950))
	require.NoError(t, err)

	// A concurrent ingest that slipped past the existence check loses on the
	// unique index and must see the duplicate sentinel, not a raw driver error.
	err = service.persistRecord(&MarketData{
		Type:       types.CommodityRobusta,
		TradeDate:  time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		ClosePrice: 2100,
	})
	assert.ErrorIs(t, err, ErrDuplicateDate)
}

func TestIngestBadTradeDate(t *testing.T) {
	service, _ := setupService(t, 16000)

	_, err := service.Ingest(context.Background(), types.CommodityRobusta, robustaQuote("01/05/2024", 2000, 50, 1950))
	assert.ErrorIs(t, err, ErrBadTradeDate)
}

func TestIngestMa30Sequence(t *testing.T) {
	service, _ := setupService(t, 16000)
	ctx := context.Background()

	first, err := service.Ingest(ctx, types.CommodityRobusta, robustaQuote("2024-05-01", 2000, 0, 0))
	require.NoError(t, err)
	require.Nil(t, first.Ma30)

	// Second record averages the single prior close. No earlier record carries
	// a non-null ma30, so the change stays 0.
	second, err := service.Ingest(ctx, types.CommodityRobusta, robustaQuote("2024-05-02", 2100, 0, 0))
	require.NoError(t, err)
	require.NotNil(t, second.Ma30)
	assert.Equal(t, 2000.0, *second.Ma30)
	assert.Equal(t, 0.0, second.Ma30Change)
	require.NotNil(t, second.IdrMa30)
	assert.Equal(t, 32000.0, *second.IdrMa30)

	// Third record averages both priors and moves against the second's ma30.
	third, err := service.Ingest(ctx, types.CommodityRobusta, robustaQuote("2024-05-03", 2200, 0, 0))
	require.NoError(t, err)
	require.NotNil(t, third.Ma30)
	assert.Equal(t, 2050.0, *third.Ma30)
	assert.Equal(t, 50.0, third.Ma30Change)
}

func TestIngestMa30WindowCap(t *testing.T) {
	service, db := setupService(t, 16000)

	// 31 prior records with closes 1..31; the oldest close must fall out of
	// the window.
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 31; i++ {
		require.NoError(t, db.Create(&MarketData{
			Type:       types.CommodityRobusta,
			TradeDate:  base.AddDate(0, 0, i),
			ClosePrice: float64(i + 1),
		}).Error)
	}

	record, err := service.Ingest(context.Background(), types.CommodityRobusta, robustaQuote("2024-02-15", 2000, 0, 0))
	require.NoError(t, err)
	require.NotNil(t, record.Ma30)
	// Mean of the 30 most recent closes 2..31, not all 31.
	assert.Equal(t, 16.5, *record.Ma30)
}

func TestIngestSeriesAreIndependentPerCommodity(t *testing.T) {
	service, _ := setupService(t, 16000)
	ctx := context.Background()

	_, err := service.Ingest(ctx, types.CommodityRobusta, robustaQuote("2024-05-01", 2000, 0, 0))
	require.NoError(t, err)

	// Same trade date under the other commodity is not a duplicate, and its
	// moving average ignores the robusta series.
	quote := robustaQuote("2024-05-01", 200, 0, 0)
	quote.Symbol = "KCZ25"
	record, err := service.Ingest(ctx, types.CommodityArabica, quote)
	require.NoError(t, err)
	assert.Nil(t, record.Ma30)
}

func TestGenerateDiscountValues(t *testing.T) {
	service, db := setupService(t, 16000)
	ctx := context.Background()

	require.NoError(t, db.Create(&MaDiscountSetting{
		Commodity: types.CommodityRobusta,
		Grade:     types.Grade1,
		Discount:  10,
	}).Error)

	// First record has no ma30, so no discount values yet.
	_, err := service.Ingest(ctx, types.CommodityRobusta, robustaQuote("2024-05-01", 100, 0, 0))
	require.NoError(t, err)

	var count int64
	require.NoError(t, db.Model(&MaDiscountValue{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)

	// Second record: ma30 = 100, discounted by 10% = 90, no previous value so
	// movement is 0.
	_, err = service.Ingest(ctx, types.CommodityRobusta, robustaQuote("2024-05-02", 120, 0, 0))
	require.NoError(t, err)

	var values []MaDiscountValue
	require.NoError(t, db.Order("id asc").Find(&values).Error)
	require.Len(t, values, 1)
	assert.Equal(t, types.Grade1, values[0].Grade)
	assert.Equal(t, 10.0, values[0].DiscountPercentage)
	assert.Equal(t, 90.0, values[0].DiscountedMa30)
	assert.Equal(t, 0.0, values[0].DiscountedMa30Movement)

	// Third record: ma30 = (100+120)/2 = 110, discounted = 99, movement = 9.
	_, err = service.Ingest(ctx, types.CommodityRobusta, robustaQuote("2024-05-03", 130, 0, 0))
	require.NoError(t, err)

	require.NoError(t, db.Order("id asc").Find(&values).Error)
	require.Len(t, values, 2)
	assert.Equal(t, 99.0, values[1].DiscountedMa30)
	assert.Equal(t, 9.0, values[1].DiscountedMa30Movement)
	// IDR side tracks the same haircut at the converted scale.
	assert.Equal(t, 1584.0, values[1].DiscountedIdrMa30)
	assert.Equal(t, 144.0, values[1].DiscountedIdrMa30Movement)
}

func TestGenerateDiscountValuesSkipsExistingPair(t *testing.T) {
	service, db := setupService(t, 16000)
	ctx := context.Background()

	require.NoError(t, db.Create(&MaDiscountSetting{
		Commodity: types.CommodityRobusta,
		Grade:     types.Grade1,
		Discount:  10,
	}).Error)
	require.NoError(t, db.Create(&MaDiscountSetting{
		Commodity: types.CommodityRobusta,
		Grade:     types.Grade2,
		Discount:  20,
	}).Error)

	_, err := service.Ingest(ctx, types.CommodityRobusta, robustaQuote("2024-05-01", 100, 0, 0))
	require.NoError(t, err)
	record, err := service.Ingest(ctx, types.CommodityRobusta, robustaQuote("2024-05-02", 120, 0, 0))
	require.NoError(t, err)

	var before int64
	require.NoError(t, db.Model(&MaDiscountValue{}).Count(&before).Error)
	require.Equal(t, int64(2), before)

	// Re-running the expansion skips the pairs that already exist instead of
	// failing or duplicating.
	require.NoError(t, service.generateDiscountValues(record))

	var after int64
	require.NoError(t, db.Model(&MaDiscountValue{}).Count(&after).Error)
	assert.Equal(t, before, after)
}

func TestGetLatest(t *testing.T) {
	service, _ := setupService(t, 16000)
	ctx := context.Background()

	_, err := service.GetLatest(types.CommodityRobusta)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	_, err = service.Ingest(ctx, types.CommodityRobusta, robustaQuote("2024-05-01", 2000, 0, 0))
	require.NoError(t, err)
	_, err = service.Ingest(ctx, types.CommodityRobusta, robustaQuote("2024-05-02", 2100, 0, 0))
	require.NoError(t, err)

	latest, err := service.GetLatest(types.CommodityRobusta)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC), latest.TradeDate)
	assert.Equal(t, 2100.0, latest.ClosePrice)
}
