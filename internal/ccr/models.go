package ccr

import (
	"github.com/ksred/coffee-collateral-api/internal/types"
	"gorm.io/gorm"
)

// ScopeKind selects which entity a CCR calculation covers.
type ScopeKind string

const (
	ScopeFarmer    ScopeKind = "farmer"
	ScopeShelter   ScopeKind = "shelter"
	ScopeWarehouse ScopeKind = "warehouse"
	ScopePlatform  ScopeKind = "platform"
)

// History is an immutable snapshot of one CCR recalculation for a scope.
// The owning entity's current ratio is updated in the same transaction that
// appends this record.
type History struct {
	gorm.Model `json:"-"`
	HistoryID  string    `gorm:"uniqueIndex" json:"history_id"`
	ScopeKind  ScopeKind `gorm:"index:idx_ccr_history_scope" json:"scope_kind"`
	// ScopeID is empty for platform-wide snapshots.
	ScopeID        string  `gorm:"index:idx_ccr_history_scope" json:"scope_id"`
	CCR            float64 `json:"ccr"`
	StockArabica   float64 `json:"stock_arabica"`
	StockRobusta   float64 `json:"stock_robusta"`
	IdrMa30Arabica float64 `json:"idr_ma30_arabica"`
	IdrMa30Robusta float64 `json:"idr_ma30_robusta"`
	LoanTotal      float64 `json:"loan_total"`
	Reason         string  `json:"reason"`
	// Grades carries the fixed commodity-by-grade breakdown, ten rows per
	// snapshot.
	Grades []HistoryGrade `gorm:"foreignKey:HistoryRecordID" json:"grades"`
}

// HistoryGrade is one (commodity, grade) bucket of a history snapshot.
type HistoryGrade struct {
	gorm.Model      `json:"-"`
	HistoryRecordID uint            `gorm:"index" json:"-"`
	Commodity       types.Commodity `json:"commodity"`
	Grade           types.Grade     `json:"grade"`
	Stock           float64         `json:"stock"`
	IdrMa30Price    float64         `json:"idr_ma30_price"`
}

// Bucket keys stock and price maps by commodity and grade.
type Bucket struct {
	Commodity types.Commodity
	Grade     types.Grade
}

// Result is the outcome of one scope calculation.
type Result struct {
	CCR             float64            `json:"ccr"`
	TotalStockValue float64            `json:"total_stock_value"`
	TotalLoan       float64            `json:"total_loan"`
	StockArabica    float64            `json:"stock_arabica"`
	StockRobusta    float64            `json:"stock_robusta"`
	Stocks          map[Bucket]float64 `json:"-"`
	Prices          map[Bucket]float64 `json:"-"`
	IdrMa30Arabica  float64            `json:"idr_ma30_arabica"`
	IdrMa30Robusta  float64            `json:"idr_ma30_robusta"`
}

// UpdateResponse is returned by the recalculation endpoints.
type UpdateResponse struct {
	ScopeKind       ScopeKind `json:"scope_kind"`
	ScopeID         string    `json:"scope_id,omitempty"`
	CCR             float64   `json:"ccr"`
	TotalStockValue float64   `json:"total_stock_value"`
	TotalLoan       float64   `json:"total_loan"`
}

// PlatformSummary is the platform-wide read shape.
type PlatformSummary struct {
	TotalStock      float64 `json:"total_stock"`
	TotalCollateral float64 `json:"total_collateral"`
	TotalLoan       float64 `json:"total_loan"`
	CCR             float64 `json:"ccr"`
}
