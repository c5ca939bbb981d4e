package marketdata

import (
	"fmt"

	"github.com/rs/zerolog/log"
)

// generateDiscountValues expands a newly written series record into one
// discounted valuation per configured tier of its commodity. No-op when the
// record's ma30 is null. Existing (record, setting) pairs are skipped, so the
// expansion is idempotent.
func (s *Service) generateDiscountValues(record *MarketData) error {
	if record.Ma30 == nil {
		return nil
	}

	logger := log.With().
		Str("service", "marketdata").
		Str("commodity", string(record.Type)).
		Uint("market_data_id", record.ID).
		Logger()

	settings, err := s.db.GetDiscountSettings(record.Type)
	if err != nil {
		return fmt.Errorf("load discount settings: %w", err)
	}

	logger.Debug().Int("settings", len(settings)).Msg("generating discount values")

	ma30 := *record.Ma30
	idrMa30 := 0.0
	if record.IdrMa30 != nil {
		idrMa30 = *record.IdrMa30
	}

	created := 0
	for _, setting := range settings {
		existing, err := s.db.GetDiscountValue(record.ID, setting.ID)
		if err != nil {
			return fmt.Errorf("check discount value for setting %d: %w", setting.ID, err)
		}
		if existing != nil {
			continue
		}

		discountedMa30 := ma30 - ma30*setting.Discount/100
		discountedIdrMa30 := idrMa30 - idrMa30*setting.Discount/100

		ma30Movement := 0.0
		idrMa30Movement := 0.0
		previous, err := s.db.GetPreviousDiscountValue(setting.ID, record.Type, record.TradeDate)
		if err != nil {
			return fmt.Errorf("load previous discount value for setting %d: %w", setting.ID, err)
		}
		if previous != nil {
			ma30Movement = discountedMa30 - previous.DiscountedMa30
			idrMa30Movement = discountedIdrMa30 - previous.DiscountedIdrMa30
		}

		value := &MaDiscountValue{
			MarketDataID:              record.ID,
			MaDiscountSettingID:       setting.ID,
			Grade:                     setting.Grade,
			DiscountPercentage:        setting.Discount,
			DiscountedMa30:            round2(discountedMa30),
			DiscountedIdrMa30:         round2(discountedIdrMa30),
			DiscountedMa30Movement:    round2(ma30Movement),
			DiscountedIdrMa30Movement: round2(idrMa30Movement),
		}

		if err := s.db.CreateDiscountValue(value); err != nil {
			return fmt.Errorf("persist discount value for setting %d: %w", setting.ID, err)
		}
		created++
	}

	logger.Info().Int("created", created).Msg("discount values generated")
	return nil
}
