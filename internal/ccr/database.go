package ccr

import (
	"fmt"

	"github.com/ksred/coffee-collateral-api/internal/inventory"
	"github.com/ksred/coffee-collateral-api/internal/types"
	"gorm.io/gorm"
)

// Scope narrows collateral queries to one entity. An empty column means the
// platform-wide scope.
type Scope struct {
	Kind   ScopeKind
	ID     string
	column string
}

func FarmerScope(farmerID string) Scope {
	return Scope{Kind: ScopeFarmer, ID: farmerID, column: "farmer_id"}
}

func ShelterScope(shelterID string) Scope {
	return Scope{Kind: ScopeShelter, ID: shelterID, column: "shelter_id"}
}

func WarehouseScope(warehouseID string) Scope {
	return Scope{Kind: ScopeWarehouse, ID: warehouseID, column: "warehouse_id"}
}

func PlatformScope() Scope {
	return Scope{Kind: ScopePlatform}
}

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// collateralCommodities and collateralGrades are the display strings eligible
// rows must carry, derived from the enum tables so every variant is covered.
func collateralCommodities() []string {
	names := make([]string, 0, len(types.Commodities))
	for _, c := range types.Commodities {
		names = append(names, c.InventoryType())
	}
	return names
}

func collateralGrades() []string {
	names := make([]string, 0, len(types.CollateralGrades))
	for _, g := range types.CollateralGrades {
		names = append(names, g.DisplayName())
	}
	return names
}

// GetInventories returns the document-verified collateral rows for the scope.
// Soft-deleted rows are excluded by gorm.
func (d *Database) GetInventories(scope Scope) ([]inventory.Inventory, error) {
	query := d.db.
		Where("document_verified = ?", true).
		Where("commodity_type IN ?", collateralCommodities()).
		Where("grade IN ?", collateralGrades())
	if scope.column != "" {
		query = query.Where(scope.column+" = ?", scope.ID)
	}

	var rows []inventory.Inventory
	err := query.Find(&rows).Error
	return rows, err
}

// GetCampaignIDs returns the campaign IDs of every funding attached to a
// live inventory row within the scope.
func (d *Database) GetCampaignIDs(scope Scope) ([]int64, error) {
	query := d.db.Model(&inventory.InventoryFunding{}).
		Joins("JOIN inventories ON inventories.inventory_id = inventory_fundings.inventory_id").
		Where("inventories.deleted_at IS NULL").
		Where("inventory_fundings.campaign_id IS NOT NULL")
	if scope.column != "" {
		query = query.Where("inventories."+scope.column+" = ?", scope.ID)
	}

	var ids []int64
	err := query.Pluck("inventory_fundings.campaign_id", &ids).Error
	return ids, err
}

// GetScopeIDs returns the distinct entity IDs of the kind that currently hold
// verified collateral. Used by whole-fleet recalculation.
func (d *Database) GetScopeIDs(kind ScopeKind) ([]string, error) {
	var column string
	switch kind {
	case ScopeFarmer:
		column = "farmer_id"
	case ScopeShelter:
		column = "shelter_id"
	case ScopeWarehouse:
		column = "warehouse_id"
	default:
		return nil, fmt.Errorf("scope kind %q has no entity set", kind)
	}

	var ids []string
	err := d.db.Model(&inventory.Inventory{}).
		Distinct(column).
		Where(column+" IS NOT NULL").
		Where("document_verified = ?", true).
		Pluck(column, &ids).Error
	return ids, err
}

// UpdateEntityCCR writes the current ratio onto the scope's owning entity.
// Platform scope has no entity row and is a no-op.
func (d *Database) UpdateEntityCCR(scope Scope, ratio float64) error {
	switch scope.Kind {
	case ScopeFarmer:
		return d.db.Model(&inventory.Farmer{}).
			Where("farmer_id = ?", scope.ID).
			Update("ccr", ratio).Error
	case ScopeShelter:
		return d.db.Model(&inventory.Shelter{}).
			Where("shelter_id = ?", scope.ID).
			Update("ccr", ratio).Error
	case ScopeWarehouse:
		return d.db.Model(&inventory.Warehouse{}).
			Where("warehouse_id = ?", scope.ID).
			Update("ccr", ratio).Error
	case ScopePlatform:
		return nil
	}
	return fmt.Errorf("unknown scope kind %q", scope.Kind)
}

// CreateHistory appends a snapshot with its grade rows.
func (d *Database) CreateHistory(record *History) error {
	return d.db.Create(record).Error
}

// WithTx returns a Database bound to the given transaction handle.
func (d *Database) WithTx(tx *gorm.DB) *Database {
	return &Database{db: tx}
}

// Begin opens a transaction on the underlying connection.
func (d *Database) Begin() *gorm.DB {
	return d.db.Begin()
}
