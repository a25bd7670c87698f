package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// InventoryRepository provides read-only access to the inventory projection
// the automated rules scan. Writes belong to the core inventory service.
type InventoryRepository struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewInventoryRepository creates a new inventory repository
func NewInventoryRepository(db *sqlx.DB, logger *slog.Logger) *InventoryRepository {
	return &InventoryRepository{db: db, logger: logger}
}

// ListBelowThreshold retrieves inventory records at or below the quantity threshold
func (r *InventoryRepository) ListBelowThreshold(ctx context.Context, threshold int) ([]*InventoryRecord, error) {
	query := `
		SELECT * FROM inventory
		WHERE quantity <= $1
		ORDER BY quantity ASC`

	var records []*InventoryRecord
	if err := r.db.SelectContext(ctx, &records, query, threshold); err != nil {
		r.logger.Error("Failed to list low stock inventory", "threshold", threshold, "error", err)
		return nil, fmt.Errorf("failed to list low stock inventory: %w", err)
	}

	return records, nil
}

// ListStagnant retrieves stocked records with no movement inside the window
func (r *InventoryRepository) ListStagnant(ctx context.Context, window time.Duration) ([]*InventoryRecord, error) {
	query := `
		SELECT * FROM inventory
		WHERE quantity > 0
		AND last_movement_at < NOW() - INTERVAL '%d hours'
		ORDER BY last_movement_at ASC`

	queryFormatted := fmt.Sprintf(query, int(window.Hours()))

	var records []*InventoryRecord
	if err := r.db.SelectContext(ctx, &records, queryFormatted); err != nil {
		r.logger.Error("Failed to list stagnant inventory", "error", err)
		return nil, fmt.Errorf("failed to list stagnant inventory: %w", err)
	}

	return records, nil
}

// ListBelowReorderPoint retrieves records at or below their computed reorder point
func (r *InventoryRepository) ListBelowReorderPoint(ctx context.Context) ([]*InventoryRecord, error) {
	query := `
		SELECT * FROM inventory
		WHERE reorder_point > 0
		AND quantity <= reorder_point
		ORDER BY days_of_stock ASC`

	var records []*InventoryRecord
	if err := r.db.SelectContext(ctx, &records, query); err != nil {
		r.logger.Error("Failed to list inventory below reorder point", "error", err)
		return nil, fmt.Errorf("failed to list inventory below reorder point: %w", err)
	}

	return records, nil
}

// ListABCMismatches retrieves A-class records with anomalously low transaction
// counts in the analysis window
func (r *InventoryRepository) ListABCMismatches(ctx context.Context, minTransactions int) ([]*InventoryRecord, error) {
	query := `
		SELECT * FROM inventory
		WHERE abc_class = 'A'
		AND transaction_count < $1
		ORDER BY transaction_count ASC`

	var records []*InventoryRecord
	if err := r.db.SelectContext(ctx, &records, query, minTransactions); err != nil {
		r.logger.Error("Failed to list ABC mismatches", "error", err)
		return nil, fmt.Errorf("failed to list ABC mismatches: %w", err)
	}

	return records, nil
}
