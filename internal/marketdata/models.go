package marketdata

import (
	"time"

	"github.com/ksred/coffee-collateral-api/internal/types"
	"gorm.io/gorm"
)

// MarketData is one scraped daily quote for a commodity, keyed by the exchange
// trading day. Append-only: at most one row per (type, trade_date), never
// updated after creation.
type MarketData struct {
	gorm.Model    `json:"-"`
	Type          types.Commodity `gorm:"uniqueIndex:idx_market_data_type_date" json:"type"`
	TradeDate     time.Time       `gorm:"uniqueIndex:idx_market_data_type_date" json:"trade_date"`
	OpenPrice     float64         `json:"open_price"`
	HighPrice     float64         `json:"high_price"`
	LowPrice      float64         `json:"low_price"`
	ClosePrice    float64         `json:"close_price"`
	PriceChange   float64         `json:"price_change"`
	PreviousClose float64         `json:"previous_close"`
	ChangePercent float64         `json:"change_percent"`
	// Ma30 is the trailing mean of up to 30 prior closes, stored at computed
	// precision for downstream tier math. Nil only when no prior records exist.
	Ma30           *float64 `json:"ma30"`
	Ma30Change     float64  `json:"ma30_change"`
	UnitLabel      string   `json:"unit_label"`
	Volume         int64    `json:"volume"`
	OpenInterest   int64    `json:"open_interest"`
	IdrPrice       float64  `json:"idr_price"`
	IdrMa30        *float64 `json:"idr_ma30"`
	IdrPriceChange float64  `json:"idr_price_change"`
	IdrMa30Change  float64  `json:"idr_ma30_change"`
	// IdrRate is the USD to IDR base rate used at ingestion time.
	IdrRate float64 `json:"idr_rate"`
}

// MaDiscountSetting is a configured percentage haircut for one commodity and
// grade tier. Read-only to this service; managed externally.
type MaDiscountSetting struct {
	gorm.Model `json:"-"`
	Commodity  types.Commodity `json:"commodity"`
	Grade      types.Grade     `json:"grade"`
	// Discount is the haircut percentage, e.g. 10 for a 10% reduction.
	Discount float64 `json:"discount"`
}

// MaDiscountValue is the discounted valuation of one MarketData record under
// one discount setting. At most one row per (market_data, setting) pair.
type MaDiscountValue struct {
	gorm.Model          `json:"-"`
	MarketDataID        uint        `gorm:"uniqueIndex:idx_discount_value_pair" json:"market_data_id"`
	MaDiscountSettingID uint        `gorm:"uniqueIndex:idx_discount_value_pair" json:"ma_discount_setting_id"`
	Grade               types.Grade `json:"grade"`
	DiscountPercentage  float64     `json:"discount_percentage"`
	DiscountedMa30      float64     `json:"discounted_ma30"`
	DiscountedIdrMa30   float64     `json:"discounted_idr_ma30"`
	// Movement fields are the delta against the chronologically previous value
	// for the same setting and commodity, 0 when none exists.
	DiscountedMa30Movement    float64 `json:"discounted_ma30_movement"`
	DiscountedIdrMa30Movement float64 `json:"discounted_idr_ma30_movement"`
}

// MarketDataResponse is the read-endpoint shape for the latest series record.
type MarketDataResponse struct {
	Type          types.Commodity `json:"type"`
	TradeDate     time.Time       `json:"trade_date"`
	ClosePrice    float64         `json:"close_price"`
	PriceChange   float64         `json:"price_change"`
	ChangePercent float64         `json:"change_percent"`
	Ma30          *float64        `json:"ma30"`
	Ma30Change    float64         `json:"ma30_change"`
	UnitLabel     string          `json:"unit_label"`
	IdrPrice      float64         `json:"idr_price"`
	IdrMa30       *float64        `json:"idr_ma30"`
	IdrRate       float64         `json:"idr_rate"`
}
