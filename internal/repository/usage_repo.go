package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/mostralo/promotion-service/internal/models"
)

// ErrRedemptionLimit is returned when consuming a redemption would exceed the
// promotion's global or per-customer cap.
var ErrRedemptionLimit = errors.New("promotion redemption limit reached")

// UsageRepo tracks per-customer redemptions and performs the atomic
// increment-with-cap-check the order-placement flow runs after a successful
// checkout. The resolver itself only reads from it.
type UsageRepo struct {
	db *sql.DB
}

func NewUsageRepo(db *sql.DB) *UsageRepo {
	return &UsageRepo{db: db}
}

// RedemptionCount is a non-locking read of a customer's redemptions for one
// promotion. Missing rows mean zero.
func (r *UsageRepo) RedemptionCount(ctx context.Context, promotionID, customerID uuid.UUID) (int, error) {
	query := `
		SELECT redemption_count
		FROM promotion_redemptions
		WHERE promotion_id = $1 AND customer_id = $2
	`

	var count int
	err := r.db.QueryRowContext(ctx, query, promotionID, customerID).Scan(&count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, errors.Wrap(err, "redemption count")
	}
	return count, nil
}

// ConsumeRedemption records one redemption for the promotion, enforcing both
// usage caps inside a serializable transaction so concurrent checkouts cannot
// over-redeem. Returns ErrRedemptionLimit when a cap is already reached.
func (r *UsageRepo) ConsumeRedemption(ctx context.Context, promo *models.Promotion, customerID *uuid.UUID) error {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if customerID != nil {
		count, err := r.getAndLockRedemptions(ctx, tx, promo.ID, *customerID)
		if err != nil {
			return errors.Wrap(err, "lock redemptions")
		}
		if promo.MaxUsesPerCustomer != nil && count >= *promo.MaxUsesPerCustomer {
			return ErrRedemptionLimit
		}

		increment := `
			UPDATE promotion_redemptions
			SET redemption_count = redemption_count + 1,
			    last_redeemed_at = $3
			WHERE promotion_id = $1 AND customer_id = $2
		`
		if _, err := tx.ExecContext(ctx, increment, promo.ID, *customerID, time.Now()); err != nil {
			return errors.Wrap(err, "increment redemptions")
		}
	}

	// Conditional update enforces the global cap in the same statement, so
	// two racing checkouts cannot both pass a read-then-write check.
	global := `
		UPDATE promotions
		SET current_uses = current_uses + 1,
		    updated_at = NOW()
		WHERE id = $1
		  AND (max_uses IS NULL OR current_uses < max_uses)
	`
	res, err := tx.ExecContext(ctx, global, promo.ID)
	if err != nil {
		return errors.Wrap(err, "increment promotion uses")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if affected == 0 {
		return ErrRedemptionLimit
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit")
	}
	committed = true
	return nil
}

// getAndLockRedemptions reads the customer's ledger row FOR UPDATE, creating
// it at zero when absent.
func (r *UsageRepo) getAndLockRedemptions(ctx context.Context, tx *sql.Tx, promotionID, customerID uuid.UUID) (int, error) {
	query := `
		SELECT redemption_count
		FROM promotion_redemptions
		WHERE promotion_id = $1 AND customer_id = $2
		FOR UPDATE
	`

	var count int
	err := tx.QueryRowContext(ctx, query, promotionID, customerID).Scan(&count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			insert := `
				INSERT INTO promotion_redemptions (promotion_id, customer_id, redemption_count, last_redeemed_at)
				VALUES ($1, $2, 0, NOW())
				RETURNING redemption_count
			`
			if err := tx.QueryRowContext(ctx, insert, promotionID, customerID).Scan(&count); err != nil {
				return 0, err
			}
			return count, nil
		}
		return 0, err
	}
	return count, nil
}
