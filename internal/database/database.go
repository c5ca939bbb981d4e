package database

import (
	"github.com/ksred/coffee-collateral-api/internal/ccr"
	"github.com/ksred/coffee-collateral-api/internal/inventory"
	"github.com/ksred/coffee-collateral-api/internal/marketdata"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// NewDatabase initializes and returns a new GORM DB connection
func NewDatabase(path string) (*gorm.DB, error) {
	// TranslateError surfaces unique-index violations as gorm.ErrDuplicatedKey
	// so services can map them to their own sentinels.
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}

	err = db.AutoMigrate(
		&marketdata.MarketData{},
		&marketdata.MaDiscountSetting{},
		&marketdata.MaDiscountValue{},
		&inventory.Farmer{},
		&inventory.Shelter{},
		&inventory.Warehouse{},
		&inventory.Inventory{},
		&inventory.InventoryFunding{},
		&ccr.History{},
		&ccr.HistoryGrade{},
	)
	if err != nil {
		return nil, err
	}

	return db, nil
}
