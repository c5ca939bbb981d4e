package inventory

import (
	"gorm.io/gorm"
)

// Farmer owns commodity inbound directly, without a shelter in between.
type Farmer struct {
	gorm.Model `json:"-"`
	FarmerID   string `gorm:"uniqueIndex" json:"farmer_id"`
	Name       string `json:"name"`
	// CCR is the current collateral coverage ratio, mutated in place on each
	// recalculation. History lives in ccr.History.
	CCR float64 `json:"ccr"`
}

// Shelter aggregates inbound from multiple farmers.
type Shelter struct {
	gorm.Model `json:"-"`
	ShelterID  string  `gorm:"uniqueIndex" json:"shelter_id"`
	Name       string  `json:"name"`
	CCR        float64 `json:"ccr"`
}

// Warehouse stores graded inventory under warehouse receipt.
type Warehouse struct {
	gorm.Model  `json:"-"`
	WarehouseID string  `gorm:"uniqueIndex" json:"warehouse_id"`
	Name        string  `json:"name"`
	CCR         float64 `json:"ccr"`
}

// Inventory is one stored lot of coffee. Stock on hand is inbound minus
// outbound. Soft-deleted rows (gorm.Model.DeletedAt) are excluded from every
// collateral query, as are rows without a verified receipt document.
type Inventory struct {
	gorm.Model  `json:"-"`
	InventoryID string `gorm:"uniqueIndex" json:"inventory_id"`
	WarehouseID string `gorm:"index" json:"warehouse_id"`
	// FarmerID is set when the lot is farmer-owned, ShelterID when it arrived
	// through a shelter. At most one of the two is set.
	FarmerID  *string `gorm:"index" json:"farmer_id"`
	ShelterID *string `gorm:"index" json:"shelter_id"`
	// CommodityType and Grade hold the display strings recorded at intake,
	// e.g. "Arabica" / "Grade 4a".
	CommodityType    string  `json:"commodity_type"`
	Grade            string  `json:"grade"`
	Inbound          float64 `json:"inbound"`
	Outbound         float64 `json:"outbound"`
	DocumentVerified bool    `json:"document_verified"`
}

// InventoryFunding links an inventory lot to a crowdfunding campaign on the
// loan ledger. CampaignID is nil until the campaign is registered on chain.
type InventoryFunding struct {
	gorm.Model  `json:"-"`
	InventoryID string `gorm:"index" json:"inventory_id"`
	CampaignID  *int64 `json:"campaign_id"`
}
