package storage

import (
	"context"
	"fmt"

	"github.com/nft-syncer/internal/models"
)

// OrderRepository handles the order rows touched by reconciliation
type OrderRepository struct {
	db *PostgresDB
}

// NewOrderRepository creates a new order repository
func NewOrderRepository(db *PostgresDB) *OrderRepository {
	return &OrderRepository{db: db}
}

// InvalidateSellOrders marks every fillable sell order of an asset not fillable
func (r *OrderRepository) InvalidateSellOrders(ctx context.Context, assetID int64) (int64, error) {
	query := `
		UPDATE orders
		SET is_fillable = FALSE
		WHERE asset_id = $1 AND side = $2 AND is_fillable
	`
	tag, err := r.db.Pool().Exec(ctx, query, assetID, models.OrderSideSell)
	if err != nil {
		return 0, fmt.Errorf("failed to invalidate sell orders: %w", err)
	}
	return tag.RowsAffected(), nil
}
