package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/mostralo/promotion-service/internal/models"
)

// PromotionRepo reads and writes promotion rows plus their scope allowlists.
// It backs both the resolver's PromotionCatalog and ScopeStore interfaces.
type PromotionRepo struct {
	db *sql.DB
}

func NewPromotionRepo(db *sql.DB) *PromotionRepo {
	return &PromotionRepo{db: db}
}

const promotionColumns = `
	id, store_id, code, name, status, type, scope,
	start_date, end_date, allowed_days, start_time, end_time,
	applies_to_delivery, applies_to_pickup, first_order_only, minimum_order_value,
	max_uses, current_uses, max_uses_per_customer,
	discount_percentage, discount_amount, bogo_buy_quantity, bogo_get_quantity,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPromotion(row rowScanner) (*models.Promotion, error) {
	var (
		p              models.Promotion
		code           sql.NullString
		startDate      sql.NullTime
		endDate        sql.NullTime
		allowedDays    pq.StringArray
		startTime      sql.NullString
		endTime        sql.NullString
		minOrder       sql.NullFloat64
		maxUses        sql.NullInt64
		maxPerCustomer sql.NullInt64
		pct            sql.NullFloat64
		amount         sql.NullFloat64
		bogoBuy        sql.NullInt64
		bogoGet        sql.NullInt64
	)

	err := row.Scan(
		&p.ID, &p.StoreID, &code, &p.Name, &p.Status, &p.Type, &p.Scope,
		&startDate, &endDate, &allowedDays, &startTime, &endTime,
		&p.AppliesToDelivery, &p.AppliesToPickup, &p.FirstOrderOnly, &minOrder,
		&maxUses, &p.CurrentUses, &maxPerCustomer,
		&pct, &amount, &bogoBuy, &bogoGet,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Code = nullString(code)
	p.StartDate = nullTime(startDate)
	p.EndDate = nullTime(endDate)
	p.AllowedDays = allowedDays
	p.StartTime = nullString(startTime)
	p.EndTime = nullString(endTime)
	p.MinimumOrderValue = nullFloat(minOrder)
	p.MaxUses = nullInt(maxUses)
	p.MaxUsesPerCustomer = nullInt(maxPerCustomer)
	p.DiscountPercentage = nullFloat(pct)
	p.DiscountAmount = nullFloat(amount)
	p.BogoBuyQuantity = nullInt(bogoBuy)
	p.BogoGetQuantity = nullInt(bogoGet)
	return &p, nil
}

// GetByID returns nil, nil when the promotion does not exist.
func (r *PromotionRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Promotion, error) {
	query := `SELECT ` + promotionColumns + ` FROM promotions WHERE id = $1`

	p, err := scanPromotion(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "get promotion")
	}
	return p, nil
}

// ActivePromotions lists a store's active automatic (non-coupon) promotions
// whose date window contains now, in display order.
func (r *PromotionRepo) ActivePromotions(ctx context.Context, storeID uuid.UUID, now time.Time) ([]models.Promotion, error) {
	query := `
		SELECT ` + promotionColumns + `
		FROM promotions
		WHERE store_id = $1
		  AND status = 'active'
		  AND code IS NULL
		  AND (start_date IS NULL OR start_date <= $2)
		  AND (end_date IS NULL OR end_date >= $2)
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, query, storeID, now)
	if err != nil {
		return nil, errors.Wrap(err, "list active promotions")
	}
	defer rows.Close()

	var promos []models.Promotion
	for rows.Next() {
		p, err := scanPromotion(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan promotion")
		}
		promos = append(promos, *p)
	}
	return promos, rows.Err()
}

// FindByCode matches a coupon code case-insensitively among active,
// date-valid promotions. Returns nil, nil when no coupon matches.
func (r *PromotionRepo) FindByCode(ctx context.Context, storeID uuid.UUID, code string, now time.Time) (*models.Promotion, error) {
	query := `
		SELECT ` + promotionColumns + `
		FROM promotions
		WHERE store_id = $1
		  AND status = 'active'
		  AND code IS NOT NULL
		  AND LOWER(code) = LOWER($2)
		  AND (start_date IS NULL OR start_date <= $3)
		  AND (end_date IS NULL OR end_date >= $3)
	`

	p, err := scanPromotion(r.db.QueryRowContext(ctx, query, storeID, code, now))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "find promotion by code")
	}
	return p, nil
}

// ProductIDs returns the product allowlist for a specific_products promotion.
func (r *PromotionRepo) ProductIDs(ctx context.Context, promotionID uuid.UUID) ([]uuid.UUID, error) {
	return r.scopeIDs(ctx, `SELECT product_id FROM promotion_products WHERE promotion_id = $1`, promotionID)
}

// CategoryIDs returns the category allowlist for a category promotion.
func (r *PromotionRepo) CategoryIDs(ctx context.Context, promotionID uuid.UUID) ([]uuid.UUID, error) {
	return r.scopeIDs(ctx, `SELECT category_id FROM promotion_categories WHERE promotion_id = $1`, promotionID)
}

func (r *PromotionRepo) scopeIDs(ctx context.Context, query string, promotionID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.db.QueryContext(ctx, query, promotionID)
	if err != nil {
		return nil, errors.Wrap(err, "promotion scope")
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan scope id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Create inserts a promotion and its scope allowlists in one transaction.
func (r *PromotionRepo) Create(ctx context.Context, p *models.Promotion, productIDs, categoryIDs []uuid.UUID) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	insert := `
		INSERT INTO promotions (` + promotionColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,NOW(),NOW())
	`
	_, err = tx.ExecContext(ctx, insert,
		p.ID, p.StoreID, p.Code, p.Name, p.Status, p.Type, p.Scope,
		p.StartDate, p.EndDate, pq.Array(p.AllowedDays), p.StartTime, p.EndTime,
		p.AppliesToDelivery, p.AppliesToPickup, p.FirstOrderOnly, p.MinimumOrderValue,
		p.MaxUses, p.CurrentUses, p.MaxUsesPerCustomer,
		p.DiscountPercentage, p.DiscountAmount, p.BogoBuyQuantity, p.BogoGetQuantity,
	)
	if err != nil {
		return errors.Wrap(err, "insert promotion")
	}

	if len(productIDs) > 0 {
		stmt := `INSERT INTO promotion_products (promotion_id, product_id) VALUES ($1, $2)`
		for _, id := range productIDs {
			if _, err := tx.ExecContext(ctx, stmt, p.ID, id); err != nil {
				return errors.Wrap(err, "insert promotion product")
			}
		}
	}
	if len(categoryIDs) > 0 {
		stmt := `INSERT INTO promotion_categories (promotion_id, category_id) VALUES ($1, $2)`
		for _, id := range categoryIDs {
			if _, err := tx.ExecContext(ctx, stmt, p.ID, id); err != nil {
				return errors.Wrap(err, "insert promotion category")
			}
		}
	}

	return errors.Wrap(tx.Commit(), "commit")
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}

func nullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	return &v.Time
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return &v.Float64
}

func nullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}
