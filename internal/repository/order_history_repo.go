package repository

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// OrderHistoryRepo answers the first-order eligibility question: how many
// completed orders a customer already has at a store.
type OrderHistoryRepo struct {
	db *sql.DB
}

func NewOrderHistoryRepo(db *sql.DB) *OrderHistoryRepo {
	return &OrderHistoryRepo{db: db}
}

func (r *OrderHistoryRepo) CompletedOrderCount(ctx context.Context, storeID, customerID uuid.UUID) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM orders
		WHERE store_id = $1 AND customer_id = $2 AND status = 'completed'
	`

	var count int
	if err := r.db.QueryRowContext(ctx, query, storeID, customerID).Scan(&count); err != nil {
		return 0, errors.Wrap(err, "count completed orders")
	}
	return count, nil
}
