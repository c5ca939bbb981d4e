package ccr

import (
	"context"
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ksred/coffee-collateral-api/internal/ledger"
	"github.com/ksred/coffee-collateral-api/internal/types"
	"github.com/ksred/coffee-collateral-api/pkg/response"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// ReasonPriceUpdate is the reason recorded on automatic post-scrape snapshots.
const ReasonPriceUpdate = "MA30 price update - Automatic CCR recalculation after price scrape"

var ErrUnknownScope = errors.New("unknown scope kind")

// PriceSource supplies the latest discounted IDR valuation per commodity and
// grade tier. Implemented by the market data store.
type PriceSource interface {
	LatestDiscountedIdrMa30(commodity types.Commodity, grade types.Grade) (float64, error)
}

// Service computes collateral coverage ratios: stock value from verified
// inventories priced at discounted MA30, divided by the outstanding loan total
// read from the on-chain ledger.
type Service struct {
	db     *Database
	prices PriceSource
	ledger ledger.CampaignReader
}

func NewService(gormDB *gorm.DB, prices PriceSource, campaigns ledger.CampaignReader) *Service {
	return &Service{
		db:     NewDatabase(gormDB),
		prices: prices,
		ledger: campaigns,
	}
}

// Calculate computes the scope's coverage without writing anything.
func (s *Service) Calculate(ctx context.Context, scope Scope) (*Result, error) {
	return s.calculate(ctx, s.db, scope)
}

// calculate runs the scope-parameterized coverage computation against the
// given database handle (live connection or transaction).
func (s *Service) calculate(ctx context.Context, db *Database, scope Scope) (*Result, error) {
	logger := scopeLogger(scope)

	rows, err := db.GetInventories(scope)
	if err != nil {
		return nil, fmt.Errorf("load inventories: %w", err)
	}

	stocks := zeroBuckets()
	for _, row := range rows {
		bucket, ok := bucketFor(row.CommodityType, row.Grade)
		if !ok {
			continue
		}
		stocks[bucket] += row.Inbound - row.Outbound
	}

	prices := zeroBuckets()
	totalStockValue := 0.0
	for bucket := range prices {
		price, err := s.prices.LatestDiscountedIdrMa30(bucket.Commodity, bucket.Grade)
		if err != nil {
			return nil, fmt.Errorf("load price for %s %s: %w", bucket.Commodity, bucket.Grade, err)
		}
		prices[bucket] = price
		totalStockValue += stocks[bucket] * price
	}

	campaignIDs, err := db.GetCampaignIDs(scope)
	if err != nil {
		return nil, fmt.Errorf("load campaign ids: %w", err)
	}

	totalLoan := 0.0
	for _, campaignID := range campaignIDs {
		campaign, err := s.ledger.GetCampaign(ctx, campaignID)
		if err != nil {
			// A single unreadable campaign must not sink the aggregate.
			logger.Error().
				Err(err).
				Int64("campaign_id", campaignID).
				Msg("failed to fetch campaign, excluding from loan total")
			continue
		}
		totalLoan += campaign.CurrentAmountIDR().InexactFloat64()
	}

	ratio := 0.0
	if totalLoan > 0 {
		ratio = totalStockValue / totalLoan
	}

	result := &Result{
		CCR:             ratio,
		TotalStockValue: totalStockValue,
		TotalLoan:       totalLoan,
		Stocks:          stocks,
		Prices:          prices,
		IdrMa30Arabica:  prices[Bucket{types.CommodityArabica, types.Grade1}],
		IdrMa30Robusta:  prices[Bucket{types.CommodityRobusta, types.Grade1}],
	}
	for bucket, stock := range stocks {
		if bucket.Commodity == types.CommodityArabica {
			result.StockArabica += stock
		} else {
			result.StockRobusta += stock
		}
	}

	logger.Debug().
		Float64("total_stock_value", result.TotalStockValue).
		Float64("total_loan", result.TotalLoan).
		Float64("ccr", result.CCR).
		Int("campaigns", len(campaignIDs)).
		Msg("scope coverage calculated")

	return result, nil
}

// Update recalculates the scope and atomically writes the entity's current
// ratio together with a history snapshot.
func (s *Service) Update(ctx context.Context, scope Scope, reason string) (*UpdateResponse, error) {
	logger := scopeLogger(scope)

	tx := s.db.Begin()
	if err := tx.Error; err != nil {
		return nil, err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	result, err := s.applyScope(ctx, tx, scope, reason)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, fmt.Errorf("commit ccr update: %w", err)
	}

	logger.Info().
		Float64("ccr", result.CCR).
		Float64("total_loan", result.TotalLoan).
		Str("reason", reason).
		Msg("ccr updated")

	return &UpdateResponse{
		ScopeKind:       scope.Kind,
		ScopeID:         scope.ID,
		CCR:             result.CCR,
		TotalStockValue: result.TotalStockValue,
		TotalLoan:       result.TotalLoan,
	}, nil
}

// RecalculateAll updates every entity of the kind that holds verified
// collateral, inside one transaction. One failing scope is logged and skipped,
// the loop continues through the full entity set before returning.
func (s *Service) RecalculateAll(ctx context.Context, kind ScopeKind, reason string) error {
	if kind == ScopePlatform {
		_, err := s.Update(ctx, PlatformScope(), reason)
		return err
	}

	logger := log.With().Str("service", "ccr").Str("scope_kind", string(kind)).Logger()

	scopeIDs, err := s.db.GetScopeIDs(kind)
	if err != nil {
		return fmt.Errorf("list %s scopes: %w", kind, err)
	}
	logger.Info().Int("scopes", len(scopeIDs)).Msg("recalculating all scopes")

	tx := s.db.Begin()
	if err := tx.Error; err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	updated := 0
	for i, scopeID := range scopeIDs {
		scope, err := NewScope(kind, scopeID)
		if err != nil {
			tx.Rollback()
			return err
		}

		// A savepoint per scope: a failure mid-write must not leave an entity
		// ccr without its matching history row in the committed batch.
		savepoint := fmt.Sprintf("scope_%d", i)
		if err := tx.SavePoint(savepoint).Error; err != nil {
			tx.Rollback()
			return fmt.Errorf("create savepoint for %s: %w", scopeID, err)
		}

		if _, err := s.applyScope(ctx, tx, scope, reason); err != nil {
			logger.Error().
				Err(err).
				Str("scope_id", scopeID).
				Msg("failed to update scope ccr, continuing")
			if err := tx.RollbackTo(savepoint).Error; err != nil {
				tx.Rollback()
				return fmt.Errorf("roll back scope %s: %w", scopeID, err)
			}
			continue
		}
		updated++
	}

	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("commit recalculation: %w", err)
	}

	logger.Info().Int("updated", updated).Int("scopes", len(scopeIDs)).Msg("recalculation completed")
	return nil
}

// applyScope performs one scope's calculate-update-snapshot sequence on the
// given transaction.
func (s *Service) applyScope(ctx context.Context, tx *gorm.DB, scope Scope, reason string) (*Result, error) {
	txDB := s.db.WithTx(tx)

	result, err := s.calculate(ctx, txDB, scope)
	if err != nil {
		return nil, err
	}

	if err := txDB.UpdateEntityCCR(scope, result.CCR); err != nil {
		return nil, fmt.Errorf("update entity ccr: %w", err)
	}

	if err := txDB.CreateHistory(buildHistory(scope, result, reason)); err != nil {
		return nil, fmt.Errorf("append ccr history: %w", err)
	}

	return result, nil
}

// GetPlatform returns the platform-wide coverage summary without writing.
func (s *Service) GetPlatform(ctx context.Context) (*PlatformSummary, error) {
	result, err := s.Calculate(ctx, PlatformScope())
	if err != nil {
		return nil, err
	}
	return &PlatformSummary{
		TotalStock:      result.StockArabica + result.StockRobusta,
		TotalCollateral: result.TotalStockValue,
		TotalLoan:       result.TotalLoan,
		CCR:             result.CCR,
	}, nil
}

// NewScope builds a scope from its kind and entity ID.
func NewScope(kind ScopeKind, scopeID string) (Scope, error) {
	switch kind {
	case ScopeFarmer:
		return FarmerScope(scopeID), nil
	case ScopeShelter:
		return ShelterScope(scopeID), nil
	case ScopeWarehouse:
		return WarehouseScope(scopeID), nil
	case ScopePlatform:
		return PlatformScope(), nil
	}
	return Scope{}, fmt.Errorf("%w: %q", ErrUnknownScope, kind)
}

// buildHistory assembles the snapshot record with its fixed ten-bucket grade
// breakdown.
func buildHistory(scope Scope, result *Result, reason string) *History {
	grades := make([]HistoryGrade, 0, len(types.Commodities)*len(types.CollateralGrades))
	for _, commodity := range types.Commodities {
		for _, grade := range types.CollateralGrades {
			bucket := Bucket{commodity, grade}
			grades = append(grades, HistoryGrade{
				Commodity:    commodity,
				Grade:        grade,
				Stock:        result.Stocks[bucket],
				IdrMa30Price: result.Prices[bucket],
			})
		}
	}

	return &History{
		HistoryID:      "CCRH_" + uuid.New().String(),
		ScopeKind:      scope.Kind,
		ScopeID:        scope.ID,
		CCR:            result.CCR,
		StockArabica:   result.StockArabica,
		StockRobusta:   result.StockRobusta,
		IdrMa30Arabica: result.IdrMa30Arabica,
		IdrMa30Robusta: result.IdrMa30Robusta,
		LoanTotal:      result.TotalLoan,
		Reason:         reason,
		Grades:         grades,
	}
}

// zeroBuckets initializes every commodity-by-grade bucket so all ten appear in
// snapshots even at zero stock.
func zeroBuckets() map[Bucket]float64 {
	buckets := make(map[Bucket]float64, len(types.Commodities)*len(types.CollateralGrades))
	for _, commodity := range types.Commodities {
		for _, grade := range types.CollateralGrades {
			buckets[Bucket{commodity, grade}] = 0
		}
	}
	return buckets
}

// bucketFor resolves inventory display strings to a collateral bucket.
func bucketFor(commodityType, gradeName string) (Bucket, bool) {
	grade, ok := types.GradeFromDisplayName(gradeName)
	if !ok {
		return Bucket{}, false
	}
	for _, commodity := range types.Commodities {
		if commodity.InventoryType() == commodityType {
			return Bucket{commodity, grade}, true
		}
	}
	return Bucket{}, false
}

func scopeLogger(scope Scope) zerolog.Logger {
	builder := log.With().
		Str("service", "ccr").
		Str("scope_kind", string(scope.Kind))
	if scope.ID != "" {
		builder = builder.Str("scope_id", scope.ID)
	}
	return builder.Logger()
}

// GinHandlers contains HTTP handlers for CCR endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

type recalculateRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// RecalculateHandler handles POST requests to recalculate one scope's CCR
// URL parameters: scope_kind, scope_id
func (h *GinHandlers) RecalculateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req recalculateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}

		scope, err := NewScope(ScopeKind(c.Param("scope_kind")), c.Param("scope_id"))
		if err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		result, err := h.service.Update(c.Request.Context(), scope, req.Reason)
		response.Handle(c, result, err)
	}
}

// PlatformHandler handles GET requests for the platform-wide summary
func (h *GinHandlers) PlatformHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		summary, err := h.service.GetPlatform(c.Request.Context())
		response.Handle(c, summary, err)
	}
}
