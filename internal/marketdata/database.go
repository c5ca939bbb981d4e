package marketdata

import (
	"errors"
	"time"

	"github.com/ksred/coffee-collateral-api/internal/types"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CreateMarketData(record *MarketData) error {
	return d.db.Create(record).Error
}

// GetByTypeAndDate returns the record for (commodity, tradeDate), or nil when
// none exists.
func (d *Database) GetByTypeAndDate(commodity types.Commodity, tradeDate time.Time) (*MarketData, error) {
	var record MarketData
	err := d.db.Where("type = ? AND trade_date = ?", commodity, tradeDate).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// GetRecent returns up to limit records for the commodity, most recent trade
// date first.
func (d *Database) GetRecent(commodity types.Commodity, limit int) ([]MarketData, error) {
	var records []MarketData
	err := d.db.Where("type = ?", commodity).
		Order("trade_date DESC").
		Limit(limit).
		Find(&records).Error
	return records, err
}

// GetLatest returns the most recent record for the commodity, or nil.
func (d *Database) GetLatest(commodity types.Commodity) (*MarketData, error) {
	var record MarketData
	err := d.db.Where("type = ?", commodity).
		Order("trade_date DESC").
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// GetLatestMa30 returns the most recent record with a non-null ma30 for the
// commodity, or nil when the series has no moving average yet.
func (d *Database) GetLatestMa30(commodity types.Commodity) (*MarketData, error) {
	var record MarketData
	err := d.db.Where("type = ? AND ma30 IS NOT NULL", commodity).
		Order("trade_date DESC").
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (d *Database) GetDiscountSettings(commodity types.Commodity) ([]MaDiscountSetting, error) {
	var settings []MaDiscountSetting
	err := d.db.Where("commodity = ?", commodity).Find(&settings).Error
	return settings, err
}

// GetDiscountValue returns the value for a (record, setting) pair, or nil.
func (d *Database) GetDiscountValue(marketDataID, settingID uint) (*MaDiscountValue, error) {
	var value MaDiscountValue
	err := d.db.Where("market_data_id = ? AND ma_discount_setting_id = ?", marketDataID, settingID).
		First(&value).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &value, nil
}

// GetPreviousDiscountValue returns the latest discount value for the same
// setting on a record of the given commodity with an earlier trade date, or
// nil when the tier has no history yet.
func (d *Database) GetPreviousDiscountValue(settingID uint, commodity types.Commodity, before time.Time) (*MaDiscountValue, error) {
	var value MaDiscountValue
	err := d.db.
		Joins("JOIN market_data ON market_data.id = ma_discount_values.market_data_id").
		Where("ma_discount_values.ma_discount_setting_id = ?", settingID).
		Where("market_data.type = ? AND market_data.trade_date < ?", commodity, before).
		Order("market_data.trade_date DESC").
		First(&value).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &value, nil
}

func (d *Database) CreateDiscountValue(value *MaDiscountValue) error {
	return d.db.Create(value).Error
}

// LatestDiscountedIdrMa30 returns the most recently created discounted IDR
// valuation for the commodity and grade tier, or 0 when none exists.
func (d *Database) LatestDiscountedIdrMa30(commodity types.Commodity, grade types.Grade) (float64, error) {
	var value MaDiscountValue
	err := d.db.
		Joins("JOIN market_data ON market_data.id = ma_discount_values.market_data_id").
		Where("market_data.type = ? AND ma_discount_values.grade = ?", commodity, grade).
		Order("ma_discount_values.created_at DESC").
		First(&value).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return value.DiscountedIdrMa30, nil
}
