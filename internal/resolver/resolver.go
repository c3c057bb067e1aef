package resolver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mostralo/promotion-service/internal/concurrency"
	"github.com/mostralo/promotion-service/internal/models"
)

// Collaborators required by the resolver (interfaces to allow fakes in tests).

// PromotionCatalog reads promotion rows for a store.
type PromotionCatalog interface {
	// ActivePromotions returns active, non-coupon promotions whose date
	// window contains now.
	ActivePromotions(ctx context.Context, storeID uuid.UUID, now time.Time) ([]models.Promotion, error)
	// FindByCode matches a coupon code case-insensitively among active,
	// date-valid promotions. Returns nil when no such coupon exists.
	FindByCode(ctx context.Context, storeID uuid.UUID, code string, now time.Time) (*models.Promotion, error)
}

// ScopeStore resolves which products/categories a promotion is attached to.
type ScopeStore interface {
	ProductIDs(ctx context.Context, promotionID uuid.UUID) ([]uuid.UUID, error)
	CategoryIDs(ctx context.Context, promotionID uuid.UUID) ([]uuid.UUID, error)
}

// OrderHistory counts prior completed orders for a customer at a store.
type OrderHistory interface {
	CompletedOrderCount(ctx context.Context, storeID, customerID uuid.UUID) (int, error)
}

// UsageLedger counts prior successful redemptions per promotion and customer.
type UsageLedger interface {
	RedemptionCount(ctx context.Context, promotionID, customerID uuid.UUID) (int, error)
}

// Resolver evaluates promotion eligibility, computes discounts, and picks the
// most favorable price among competing discount sources. It is stateless and
// never mutates promotion rows; usage counters are incremented by the
// order-placement flow after a successful checkout.
type Resolver struct {
	catalog PromotionCatalog
	scopes  ScopeStore
	history OrderHistory
	ledger  UsageLedger
	now     func() time.Time
	log     *zap.Logger
}

type Option func(*Resolver)

// WithClock overrides the time source, for tests and for evaluating against
// a caller-supplied timestamp.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

func WithLogger(log *zap.Logger) Option {
	return func(r *Resolver) { r.log = log }
}

func New(catalog PromotionCatalog, scopes ScopeStore, history OrderHistory, ledger UsageLedger, opts ...Option) *Resolver {
	r := &Resolver{
		catalog: catalog,
		scopes:  scopes,
		history: history,
		ledger:  ledger,
		now:     time.Now,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var weekdayNames = [...]string{"sunday", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday"}

func invalid(message string) models.PromotionCalculationResult {
	return models.PromotionCalculationResult{IsValid: false, Discount: 0, Message: message}
}

func misconfigured(message string) models.PromotionCalculationResult {
	res := invalid(message)
	res.Misconfigured = true
	return res
}

// Evaluate runs the full eligibility pipeline for one promotion against an
// order snapshot and, if every gate passes, computes the discount. Failures
// are normal return values; only collaborator I/O failures produce an error.
func (r *Resolver) Evaluate(ctx context.Context, promo models.Promotion, order models.OrderContext) (models.PromotionCalculationResult, error) {
	res, _, err := r.evaluate(ctx, promo, order)
	return res, err
}

// evaluate also returns the applicable order items so ResolveBestDiscount can
// apportion the discount across them.
func (r *Resolver) evaluate(ctx context.Context, promo models.Promotion, order models.OrderContext) (models.PromotionCalculationResult, []models.OrderItem, error) {
	now := r.now()

	// 1. Status.
	if promo.Status != models.StatusActive {
		return invalid("this promotion is not active"), nil, nil
	}

	// 2. Date window.
	if promo.StartDate != nil && now.Before(*promo.StartDate) {
		return invalid("this promotion is outside its validity period"), nil, nil
	}
	if promo.EndDate != nil && now.After(*promo.EndDate) {
		return invalid("this promotion is outside its validity period"), nil, nil
	}

	// 3. Day of week. Index mapping is fixed: 0=Sunday..6=Saturday.
	if len(promo.AllowedDays) > 0 {
		today := weekdayNames[int(now.Weekday())]
		allowed := false
		for _, day := range promo.AllowedDays {
			if strings.EqualFold(day, today) {
				allowed = true
				break
			}
		}
		if !allowed {
			return invalid("this promotion is not available today"), nil, nil
		}
	}

	// 4. Time of day, inclusive HH:MM comparison. Ranges crossing midnight
	// are not supported.
	if promo.StartTime != nil && promo.EndTime != nil {
		hm := now.Format("15:04")
		if hm < *promo.StartTime || hm > *promo.EndTime {
			return invalid(fmt.Sprintf("this promotion is only available between %s and %s", *promo.StartTime, *promo.EndTime)), nil, nil
		}
	}

	// 5. Delivery type.
	if order.DeliveryType == models.DeliveryTypeDelivery && !promo.AppliesToDelivery {
		return invalid("this promotion is not available for delivery orders"), nil, nil
	}
	if order.DeliveryType == models.DeliveryTypePickup && !promo.AppliesToPickup {
		return invalid("this promotion is not available for pickup orders"), nil, nil
	}

	// Fan out the read-only lookups feeding steps 6, 9 and 10. They are
	// mutually independent, so they run concurrently; any failure fails the
	// evaluation closed.
	var (
		priorOrders     int
		redemptions     int
		scopeProducts   []uuid.UUID
		scopeCategories []uuid.UUID
	)
	var lookups []func(context.Context) error
	if promo.FirstOrderOnly && order.CustomerID != nil {
		customerID := *order.CustomerID
		lookups = append(lookups, func(ctx context.Context) error {
			n, err := r.history.CompletedOrderCount(ctx, order.StoreID, customerID)
			if err != nil {
				return &LookupError{Op: "order history", Err: err}
			}
			priorOrders = n
			return nil
		})
	}
	if promo.MaxUsesPerCustomer != nil && order.CustomerID != nil {
		customerID := *order.CustomerID
		lookups = append(lookups, func(ctx context.Context) error {
			n, err := r.ledger.RedemptionCount(ctx, promo.ID, customerID)
			if err != nil {
				return &LookupError{Op: "usage ledger", Err: err}
			}
			redemptions = n
			return nil
		})
	}
	if promo.Scope == models.ScopeSpecificProducts {
		lookups = append(lookups, func(ctx context.Context) error {
			ids, err := r.scopes.ProductIDs(ctx, promo.ID)
			if err != nil {
				return &LookupError{Op: "product scope", Err: err}
			}
			scopeProducts = ids
			return nil
		})
	}
	if promo.Scope == models.ScopeCategory {
		lookups = append(lookups, func(ctx context.Context) error {
			ids, err := r.scopes.CategoryIDs(ctx, promo.ID)
			if err != nil {
				return &LookupError{Op: "category scope", Err: err}
			}
			scopeCategories = ids
			return nil
		})
	}
	if err := concurrency.All(ctx, lookups...); err != nil {
		return invalid("could not verify promotion eligibility"), nil, err
	}

	// 6. First order. Unenforceable for guests: with no customer ID the
	// check passes and the caller decides whether to reject guest checkouts.
	if promo.FirstOrderOnly && order.CustomerID != nil && priorOrders > 0 {
		return invalid("this promotion is only valid on your first order"), nil, nil
	}

	// 7. Minimum order value.
	if promo.MinimumOrderValue != nil && order.Subtotal < *promo.MinimumOrderValue {
		return invalid(fmt.Sprintf("a minimum order of %s is required for this promotion", formatMoney(*promo.MinimumOrderValue))), nil, nil
	}

	// 8. Global usage cap.
	if promo.MaxUses != nil && promo.CurrentUses >= *promo.MaxUses {
		return invalid("this promotion has reached its redemption limit"), nil, nil
	}

	// 9. Per-customer usage cap.
	if promo.MaxUsesPerCustomer != nil && order.CustomerID != nil && redemptions >= *promo.MaxUsesPerCustomer {
		return invalid("you have already used this promotion the maximum number of times"), nil, nil
	}

	// 10. Scope resolution. Only product/category-restricted scopes fail on
	// an empty intersection.
	applicable := applicableItems(promo.Scope, order.Items, scopeProducts, scopeCategories)
	if (promo.Scope == models.ScopeSpecificProducts || promo.Scope == models.ScopeCategory) && len(applicable) == 0 {
		return invalid("no eligible products in this order"), nil, nil
	}

	res := r.computeDiscount(promo, order, applicable)
	if res.Misconfigured {
		r.log.Warn("misconfigured promotion",
			zap.String("promotion_id", promo.ID.String()),
			zap.String("store_id", promo.StoreID.String()),
			zap.String("type", string(promo.Type)))
	}
	return res, applicable, nil
}

func applicableItems(scope models.PromotionScope, items []models.OrderItem, productIDs, categoryIDs []uuid.UUID) []models.OrderItem {
	switch scope {
	case models.ScopeSpecificProducts:
		allowed := make(map[uuid.UUID]bool, len(productIDs))
		for _, id := range productIDs {
			allowed[id] = true
		}
		var out []models.OrderItem
		for _, it := range items {
			if allowed[it.ID] {
				out = append(out, it)
			}
		}
		return out
	case models.ScopeCategory:
		allowed := make(map[uuid.UUID]bool, len(categoryIDs))
		for _, id := range categoryIDs {
			allowed[id] = true
		}
		var out []models.OrderItem
		for _, it := range items {
			if allowed[it.CategoryID] {
				out = append(out, it)
			}
		}
		return out
	default:
		// all_products and delivery_type apply to the whole cart.
		return items
	}
}

func (r *Resolver) computeDiscount(promo models.Promotion, order models.OrderContext, applicable []models.OrderItem) models.PromotionCalculationResult {
	var discount float64

	switch promo.Type {
	case models.TypePercentage:
		if promo.DiscountPercentage == nil {
			return misconfigured("this promotion's discount is not configured")
		}
		discount = itemsSubtotal(applicable) * *promo.DiscountPercentage / 100

	case models.TypeFixedAmount:
		if promo.DiscountAmount == nil {
			return misconfigured("this promotion's discount is not configured")
		}
		discount = *promo.DiscountAmount

	case models.TypeFreeDelivery:
		// Valid on pickup orders too, just worth nothing.
		if order.DeliveryType == models.DeliveryTypeDelivery {
			discount = order.DeliveryFee
		}

	case models.TypeMinimumOrder:
		if promo.MinimumOrderValue != nil && order.Subtotal < *promo.MinimumOrderValue {
			return invalid(fmt.Sprintf("a minimum order of %s is required for this promotion", formatMoney(*promo.MinimumOrderValue)))
		}
		switch {
		case promo.DiscountPercentage != nil:
			discount = order.Subtotal * *promo.DiscountPercentage / 100
		case promo.DiscountAmount != nil:
			discount = *promo.DiscountAmount
		default:
			return misconfigured("this promotion's discount is not configured")
		}

	case models.TypeBogo:
		if promo.BogoBuyQuantity == nil || promo.BogoGetQuantity == nil ||
			*promo.BogoBuyQuantity < 1 || *promo.BogoGetQuantity < 1 {
			return misconfigured("this promotion's discount is not configured")
		}
		setSize := *promo.BogoBuyQuantity + *promo.BogoGetQuantity
		for _, it := range applicable {
			sets := it.Quantity / setSize // partial sets yield nothing
			discount += float64(sets**promo.BogoGetQuantity) * it.Price
		}

	case models.TypeFirstOrder:
		switch {
		case promo.DiscountPercentage != nil:
			discount = order.Subtotal * *promo.DiscountPercentage / 100
		case promo.DiscountAmount != nil:
			discount = *promo.DiscountAmount
		default:
			return misconfigured("this promotion's discount is not configured")
		}

	default:
		return misconfigured("unknown promotion type")
	}

	applied := promo
	return models.PromotionCalculationResult{
		IsValid:          true,
		Discount:         clampDiscount(discount, order.Subtotal),
		Message:          "promotion applied",
		PromotionApplied: &applied,
	}
}

func itemsSubtotal(items []models.OrderItem) float64 {
	var total float64
	for _, it := range items {
		total += it.Price * float64(it.Quantity)
	}
	return total
}

// FindApplicablePromotions fetches the store's active automatic promotions
// and keeps those that evaluate valid with a discount greater than zero.
// Catalog order is preserved.
func (r *Resolver) FindApplicablePromotions(ctx context.Context, storeID uuid.UUID, order models.OrderContext) ([]models.Promotion, error) {
	promos, err := r.catalog.ActivePromotions(ctx, storeID, r.now())
	if err != nil {
		return nil, &LookupError{Op: "promotion catalog", Err: err}
	}

	var applicable []models.Promotion
	for _, promo := range promos {
		res, err := r.Evaluate(ctx, promo, order)
		if err != nil {
			return nil, err
		}
		if res.IsValid && res.Discount > 0 {
			applicable = append(applicable, promo)
		}
	}
	return applicable, nil
}

// FindBestPromotion evaluates every candidate and returns the one yielding
// the strictly largest discount; ties keep the first seen. Returns nil when
// none are valid or all yield zero.
func (r *Resolver) FindBestPromotion(ctx context.Context, promos []models.Promotion, order models.OrderContext) (*models.Promotion, error) {
	var best *models.Promotion
	var bestDiscount float64

	for i := range promos {
		res, err := r.Evaluate(ctx, promos[i], order)
		if err != nil {
			return nil, err
		}
		if res.IsValid && res.Discount > bestDiscount {
			best = &promos[i]
			bestDiscount = res.Discount
		}
	}
	return best, nil
}

// ValidatePromotionCode looks up a coupon by code, case-insensitively, among
// the store's active date-valid promotions. It does not run the eligibility
// pipeline; callers still Evaluate the returned promotion.
func (r *Resolver) ValidatePromotionCode(ctx context.Context, code string, storeID uuid.UUID) (*models.Promotion, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, nil
	}
	promo, err := r.catalog.FindByCode(ctx, storeID, code, r.now())
	if err != nil {
		return nil, &LookupError{Op: "promotion catalog", Err: err}
	}
	return promo, nil
}

// ResolveBestDiscount compares a product's direct offer price against the
// promotion-derived price for that order line and returns whichever yields
// the lower final price. Ties favor the direct offer.
func (r *Resolver) ResolveBestDiscount(ctx context.Context, product models.Product, promo *models.Promotion, order models.OrderContext) (models.DiscountResolution, error) {
	original := product.Price

	bestPrice := original
	source := models.SourceNone
	message := "no discount available"

	if product.IsOnOffer && product.OfferPrice < product.Price {
		bestPrice = product.OfferPrice
		source = models.SourceProductOffer
		message = "product offer price applied"
	}

	if promo != nil {
		res, applicable, err := r.evaluate(ctx, *promo, order)
		if err != nil {
			return models.DiscountResolution{}, err
		}
		if res.IsValid && res.Discount > 0 {
			if candidate, ok := promotionLinePrice(product, applicable, res.Discount); ok && candidate < bestPrice {
				bestPrice = candidate
				source = models.SourcePromotion
				message = "promotional discount applied"
			}
		}
	}

	if bestPrice < 0 {
		bestPrice = 0
	}
	bestPrice = roundCents(bestPrice)

	discount := 0.0
	if source != models.SourceNone {
		discount = roundCents(original - bestPrice)
	}
	return models.DiscountResolution{
		FinalPrice: bestPrice,
		Discount:   discount,
		Source:     source,
		Message:    message,
	}, nil
}

// promotionLinePrice apportions the order-level discount to a single product
// line proportionally to its share of the applicable subtotal, then spreads
// it per unit.
func promotionLinePrice(product models.Product, applicable []models.OrderItem, totalDiscount float64) (float64, bool) {
	totalApplicable := itemsSubtotal(applicable)
	if totalApplicable <= 0 {
		return 0, false
	}
	for _, it := range applicable {
		if it.ID != product.ID || it.Quantity <= 0 {
			continue
		}
		itemShare := it.Price * float64(it.Quantity) / totalApplicable * totalDiscount
		perUnit := itemShare / float64(it.Quantity)
		price := product.Price - perUnit
		if price < 0 {
			price = 0
		}
		return roundCents(price), true
	}
	return 0, false
}
