package resolver_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mostralo/promotion-service/internal/models"
	"github.com/mostralo/promotion-service/internal/resolver"
)

// evalTime is a Wednesday, 14:00 UTC.
var evalTime = time.Date(2025, 6, 18, 14, 0, 0, 0, time.UTC)

var (
	storeID    = uuid.MustParse("3f1c0a52-9d6e-4b1f-8b88-111111111111")
	customerID = uuid.MustParse("3f1c0a52-9d6e-4b1f-8b88-222222222222")
	productAID = uuid.MustParse("3f1c0a52-9d6e-4b1f-8b88-333333333333")
	productBID = uuid.MustParse("3f1c0a52-9d6e-4b1f-8b88-444444444444")
	categoryID = uuid.MustParse("3f1c0a52-9d6e-4b1f-8b88-555555555555")
)

func ptr[T any](v T) *T { return &v }

type fakeCatalog struct {
	active []models.Promotion
	byCode map[string]models.Promotion
	err    error
}

func (f *fakeCatalog) ActivePromotions(ctx context.Context, storeID uuid.UUID, now time.Time) ([]models.Promotion, error) {
	return f.active, f.err
}

func (f *fakeCatalog) FindByCode(ctx context.Context, storeID uuid.UUID, code string, now time.Time) (*models.Promotion, error) {
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.byCode[strings.ToLower(code)]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

type fakeScopes struct {
	products   []uuid.UUID
	categories []uuid.UUID
	err        error
}

func (f *fakeScopes) ProductIDs(ctx context.Context, promotionID uuid.UUID) ([]uuid.UUID, error) {
	return f.products, f.err
}

func (f *fakeScopes) CategoryIDs(ctx context.Context, promotionID uuid.UUID) ([]uuid.UUID, error) {
	return f.categories, f.err
}

type fakeHistory struct {
	completed int
	err       error
}

func (f *fakeHistory) CompletedOrderCount(ctx context.Context, storeID, customerID uuid.UUID) (int, error) {
	return f.completed, f.err
}

type fakeLedger struct {
	redeemed int
	err      error
}

func (f *fakeLedger) RedemptionCount(ctx context.Context, promotionID, customerID uuid.UUID) (int, error) {
	return f.redeemed, f.err
}

type fixture struct {
	catalog *fakeCatalog
	scopes  *fakeScopes
	history *fakeHistory
	ledger  *fakeLedger
}

func newFixture() *fixture {
	return &fixture{
		catalog: &fakeCatalog{byCode: map[string]models.Promotion{}},
		scopes:  &fakeScopes{},
		history: &fakeHistory{},
		ledger:  &fakeLedger{},
	}
}

func (f *fixture) resolver() *resolver.Resolver {
	return resolver.New(f.catalog, f.scopes, f.history, f.ledger,
		resolver.WithClock(func() time.Time { return evalTime }))
}

func basePromotion() models.Promotion {
	return models.Promotion{
		ID:                 uuid.MustParse("3f1c0a52-9d6e-4b1f-8b88-666666666666"),
		StoreID:            storeID,
		Name:               "Ten percent off",
		Status:             models.StatusActive,
		Type:               models.TypePercentage,
		Scope:              models.ScopeAllProducts,
		AppliesToDelivery:  true,
		AppliesToPickup:    true,
		DiscountPercentage: ptr(10.0),
	}
}

func baseOrder() models.OrderContext {
	cid := customerID
	return models.OrderContext{
		StoreID:      storeID,
		CustomerID:   &cid,
		DeliveryType: models.DeliveryTypeDelivery,
		Subtotal:     100,
		DeliveryFee:  5,
		Items: []models.OrderItem{
			{ID: productAID, CategoryID: categoryID, Price: 50, Quantity: 2},
		},
	}
}

func TestEvaluate_EligibilityPipeline(t *testing.T) {
	tests := []struct {
		name        string
		promo       func(*models.Promotion)
		order       func(*models.OrderContext)
		setup       func(*fixture)
		wantValid   bool
		wantMessage string
	}{
		{
			name:        "draft promotion rejected",
			promo:       func(p *models.Promotion) { p.Status = models.StatusDraft },
			wantValid:   false,
			wantMessage: "not active",
		},
		{
			name:        "paused promotion rejected",
			promo:       func(p *models.Promotion) { p.Status = models.StatusPaused },
			wantValid:   false,
			wantMessage: "not active",
		},
		{
			name:        "not yet started",
			promo:       func(p *models.Promotion) { p.StartDate = ptr(evalTime.Add(24 * time.Hour)) },
			wantValid:   false,
			wantMessage: "validity period",
		},
		{
			name:        "expired",
			promo:       func(p *models.Promotion) { p.EndDate = ptr(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) },
			wantValid:   false,
			wantMessage: "validity period",
		},
		{
			name:        "wrong weekday",
			promo:       func(p *models.Promotion) { p.AllowedDays = []string{"saturday", "sunday"} },
			wantValid:   false,
			wantMessage: "not available today",
		},
		{
			name:      "allowed weekday passes case-insensitively",
			promo:     func(p *models.Promotion) { p.AllowedDays = []string{"Wednesday"} },
			wantValid: true,
		},
		{
			name: "outside time window",
			promo: func(p *models.Promotion) {
				p.StartTime = ptr("18:00")
				p.EndTime = ptr("22:00")
			},
			wantValid:   false,
			wantMessage: "between 18:00 and 22:00",
		},
		{
			name: "time window boundary is inclusive",
			promo: func(p *models.Promotion) {
				p.StartTime = ptr("14:00")
				p.EndTime = ptr("16:00")
			},
			wantValid: true,
		},
		{
			name:        "delivery order against pickup-only promotion",
			promo:       func(p *models.Promotion) { p.AppliesToDelivery = false },
			wantValid:   false,
			wantMessage: "not available for delivery",
		},
		{
			name:        "pickup order against delivery-only promotion",
			promo:       func(p *models.Promotion) { p.AppliesToPickup = false },
			order:       func(o *models.OrderContext) { o.DeliveryType = models.DeliveryTypePickup },
			wantValid:   false,
			wantMessage: "not available for pickup",
		},
		{
			name:        "first-order promotion with prior orders",
			promo:       func(p *models.Promotion) { p.FirstOrderOnly = true },
			setup:       func(f *fixture) { f.history.completed = 3 },
			wantValid:   false,
			wantMessage: "first order",
		},
		{
			name:      "first-order check passes silently for guests",
			promo:     func(p *models.Promotion) { p.FirstOrderOnly = true },
			order:     func(o *models.OrderContext) { o.CustomerID = nil },
			setup:     func(f *fixture) { f.history.completed = 3 },
			wantValid: true,
		},
		{
			name:        "minimum order unmet, message carries the formatted minimum",
			promo:       func(p *models.Promotion) { p.MinimumOrderValue = ptr(50.0) },
			order:       func(o *models.OrderContext) { o.Subtotal = 30 },
			wantValid:   false,
			wantMessage: "50.00",
		},
		{
			name: "global usage cap reached",
			promo: func(p *models.Promotion) {
				p.MaxUses = ptr(100)
				p.CurrentUses = 100
			},
			wantValid:   false,
			wantMessage: "redemption limit",
		},
		{
			name:        "per-customer cap reached",
			promo:       func(p *models.Promotion) { p.MaxUsesPerCustomer = ptr(2) },
			setup:       func(f *fixture) { f.ledger.redeemed = 2 },
			wantValid:   false,
			wantMessage: "maximum number of times",
		},
		{
			name:      "per-customer cap skipped for guests",
			promo:     func(p *models.Promotion) { p.MaxUsesPerCustomer = ptr(2) },
			order:     func(o *models.OrderContext) { o.CustomerID = nil },
			setup:     func(f *fixture) { f.ledger.redeemed = 2 },
			wantValid: true,
		},
		{
			name:        "specific-product scope with no matching items",
			promo:       func(p *models.Promotion) { p.Scope = models.ScopeSpecificProducts },
			setup:       func(f *fixture) { f.scopes.products = []uuid.UUID{productBID} },
			wantValid:   false,
			wantMessage: "no eligible products",
		},
		{
			name:      "specific-product scope with a matching item",
			promo:     func(p *models.Promotion) { p.Scope = models.ScopeSpecificProducts },
			setup:     func(f *fixture) { f.scopes.products = []uuid.UUID{productAID} },
			wantValid: true,
		},
		{
			name:        "category scope with no matching items",
			promo:       func(p *models.Promotion) { p.Scope = models.ScopeCategory },
			setup:       func(f *fixture) { f.scopes.categories = []uuid.UUID{uuid.New()} },
			wantValid:   false,
			wantMessage: "no eligible products",
		},
		{
			name: "delivery-type scope never fails on empty carts",
			promo: func(p *models.Promotion) {
				p.Type = models.TypeFixedAmount
				p.DiscountPercentage = nil
				p.DiscountAmount = ptr(5.0)
				p.Scope = models.ScopeDeliveryType
			},
			order:     func(o *models.OrderContext) { o.Items = nil },
			wantValid: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			if tt.setup != nil {
				tt.setup(f)
			}
			promo := basePromotion()
			if tt.promo != nil {
				tt.promo(&promo)
			}
			order := baseOrder()
			if tt.order != nil {
				tt.order(&order)
			}

			res, err := f.resolver().Evaluate(context.Background(), promo, order)
			require.NoError(t, err)

			assert.Equal(t, tt.wantValid, res.IsValid)
			if !tt.wantValid {
				assert.Zero(t, res.Discount)
				assert.Contains(t, res.Message, tt.wantMessage)
			}
		})
	}
}

func TestEvaluate_DateWindowBoundary(t *testing.T) {
	promo := basePromotion()
	promo.EndDate = ptr(evalTime)

	f := newFixture()

	// One millisecond before the end date: still valid.
	r := resolver.New(f.catalog, f.scopes, f.history, f.ledger,
		resolver.WithClock(func() time.Time { return evalTime.Add(-time.Millisecond) }))
	res, err := r.Evaluate(context.Background(), promo, baseOrder())
	require.NoError(t, err)
	assert.True(t, res.IsValid)

	// One millisecond past: expired.
	r = resolver.New(f.catalog, f.scopes, f.history, f.ledger,
		resolver.WithClock(func() time.Time { return evalTime.Add(time.Millisecond) }))
	res, err = r.Evaluate(context.Background(), promo, baseOrder())
	require.NoError(t, err)
	assert.False(t, res.IsValid)
	assert.Contains(t, res.Message, "validity period")
}

func TestEvaluate_DiscountByType(t *testing.T) {
	tests := []struct {
		name          string
		promo         func(*models.Promotion)
		order         func(*models.OrderContext)
		setup         func(*fixture)
		wantDiscount  float64
		wantInvalid   bool
		wantMisconfig bool
	}{
		{
			name:         "percentage over applicable items",
			wantDiscount: 10, // 10% of 50*2
		},
		{
			name: "percentage rounds half-up at the cent",
			order: func(o *models.OrderContext) {
				o.Subtotal = 33.33
				o.Items = []models.OrderItem{{ID: productAID, CategoryID: categoryID, Price: 33.33, Quantity: 1}}
			},
			wantDiscount: 3.33,
		},
		{
			name: "percentage restricted to matching category items",
			promo: func(p *models.Promotion) {
				p.Scope = models.ScopeCategory
			},
			order: func(o *models.OrderContext) {
				o.Items = []models.OrderItem{
					{ID: productAID, CategoryID: categoryID, Price: 40, Quantity: 1},
					{ID: productBID, CategoryID: uuid.New(), Price: 60, Quantity: 1},
				}
			},
			setup:        func(f *fixture) { f.scopes.categories = []uuid.UUID{categoryID} },
			wantDiscount: 4, // 10% of the matching 40, not of 100
		},
		{
			name: "fixed amount",
			promo: func(p *models.Promotion) {
				p.Type = models.TypeFixedAmount
				p.DiscountPercentage = nil
				p.DiscountAmount = ptr(15.0)
			},
			wantDiscount: 15,
		},
		{
			name: "fixed amount clamped to subtotal",
			promo: func(p *models.Promotion) {
				p.Type = models.TypeFixedAmount
				p.DiscountPercentage = nil
				p.DiscountAmount = ptr(250.0)
			},
			wantDiscount: 100,
		},
		{
			name: "free delivery on a delivery order",
			promo: func(p *models.Promotion) {
				p.Type = models.TypeFreeDelivery
				p.DiscountPercentage = nil
			},
			wantDiscount: 5,
		},
		{
			name: "free delivery on a pickup order is valid but worth nothing",
			promo: func(p *models.Promotion) {
				p.Type = models.TypeFreeDelivery
				p.DiscountPercentage = nil
			},
			order:        func(o *models.OrderContext) { o.DeliveryType = models.DeliveryTypePickup },
			wantDiscount: 0,
		},
		{
			name: "minimum order with percentage of subtotal",
			promo: func(p *models.Promotion) {
				p.Type = models.TypeMinimumOrder
				p.MinimumOrderValue = ptr(80.0)
				p.DiscountPercentage = ptr(20.0)
			},
			wantDiscount: 20,
		},
		{
			name: "minimum order with flat amount",
			promo: func(p *models.Promotion) {
				p.Type = models.TypeMinimumOrder
				p.MinimumOrderValue = ptr(80.0)
				p.DiscountPercentage = nil
				p.DiscountAmount = ptr(12.0)
			},
			wantDiscount: 12,
		},
		{
			name: "bogo floors partial sets",
			promo: func(p *models.Promotion) {
				p.Type = models.TypeBogo
				p.DiscountPercentage = nil
				p.BogoBuyQuantity = ptr(2)
				p.BogoGetQuantity = ptr(1)
			},
			order: func(o *models.OrderContext) {
				o.Items = []models.OrderItem{{ID: productAID, CategoryID: categoryID, Price: 10, Quantity: 5}}
				o.Subtotal = 50
			},
			wantDiscount: 10, // floor(5/3)=1 set, 1 free unit at 10
		},
		{
			name: "bogo counts each applicable item independently",
			promo: func(p *models.Promotion) {
				p.Type = models.TypeBogo
				p.DiscountPercentage = nil
				p.BogoBuyQuantity = ptr(1)
				p.BogoGetQuantity = ptr(1)
			},
			order: func(o *models.OrderContext) {
				o.Items = []models.OrderItem{
					{ID: productAID, CategoryID: categoryID, Price: 10, Quantity: 2},
					{ID: productBID, CategoryID: categoryID, Price: 8, Quantity: 3},
				}
				o.Subtotal = 44
			},
			wantDiscount: 18, // 1 free at 10 + 1 free at 8
		},
		{
			name: "first order percentage",
			promo: func(p *models.Promotion) {
				p.Type = models.TypeFirstOrder
				p.DiscountPercentage = ptr(25.0)
				p.FirstOrderOnly = true
			},
			wantDiscount: 25,
		},
		{
			name: "first order without any configured discount is a misconfiguration",
			promo: func(p *models.Promotion) {
				p.Type = models.TypeFirstOrder
				p.DiscountPercentage = nil
				p.DiscountAmount = nil
			},
			wantInvalid:   true,
			wantMisconfig: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			if tt.setup != nil {
				tt.setup(f)
			}
			promo := basePromotion()
			if tt.promo != nil {
				tt.promo(&promo)
			}
			order := baseOrder()
			if tt.order != nil {
				tt.order(&order)
			}

			res, err := f.resolver().Evaluate(context.Background(), promo, order)
			require.NoError(t, err)

			if tt.wantInvalid {
				assert.False(t, res.IsValid)
				assert.Equal(t, tt.wantMisconfig, res.Misconfigured)
				return
			}
			require.True(t, res.IsValid, res.Message)
			assert.Equal(t, tt.wantDiscount, res.Discount)
			assert.GreaterOrEqual(t, res.Discount, 0.0)
			assert.LessOrEqual(t, res.Discount, order.Subtotal)
			require.NotNil(t, res.PromotionApplied)
			assert.Equal(t, promo.ID, res.PromotionApplied.ID)
		})
	}
}

func TestEvaluate_Idempotent(t *testing.T) {
	f := newFixture()
	r := f.resolver()
	promo := basePromotion()
	promo.MaxUses = ptr(10)
	promo.CurrentUses = 4
	order := baseOrder()

	first, err := r.Evaluate(context.Background(), promo, order)
	require.NoError(t, err)
	second, err := r.Evaluate(context.Background(), promo, order)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 4, promo.CurrentUses)
}

func TestEvaluate_LookupFailureFailsClosed(t *testing.T) {
	f := newFixture()
	f.history.err = errors.New("connection refused")

	promo := basePromotion()
	promo.FirstOrderOnly = true

	res, err := f.resolver().Evaluate(context.Background(), promo, baseOrder())
	require.Error(t, err)
	assert.True(t, resolver.IsLookupError(err))
	assert.False(t, res.IsValid)
	assert.Zero(t, res.Discount)
}

func TestFindApplicablePromotions(t *testing.T) {
	valid := basePromotion()

	zeroWorth := basePromotion()
	zeroWorth.ID = uuid.New()
	zeroWorth.Type = models.TypeFreeDelivery
	zeroWorth.DiscountPercentage = nil

	expired := basePromotion()
	expired.ID = uuid.New()
	expired.EndDate = ptr(evalTime.Add(-time.Hour))

	f := newFixture()
	f.catalog.active = []models.Promotion{valid, zeroWorth, expired}

	order := baseOrder()
	order.DeliveryType = models.DeliveryTypePickup // free delivery worth 0 here

	promos, err := f.resolver().FindApplicablePromotions(context.Background(), storeID, order)
	require.NoError(t, err)
	require.Len(t, promos, 1)
	assert.Equal(t, valid.ID, promos[0].ID)
}

func TestFindBestPromotion(t *testing.T) {
	ten := basePromotion()
	ten.Name = "ten"

	twenty := basePromotion()
	twenty.ID = uuid.New()
	twenty.Name = "twenty"
	twenty.DiscountPercentage = ptr(20.0)

	tenAgain := basePromotion()
	tenAgain.ID = uuid.New()
	tenAgain.Name = "ten again"

	f := newFixture()
	r := f.resolver()
	order := baseOrder()

	t.Run("picks the largest discount", func(t *testing.T) {
		best, err := r.FindBestPromotion(context.Background(), []models.Promotion{ten, twenty, tenAgain}, order)
		require.NoError(t, err)
		require.NotNil(t, best)
		assert.Equal(t, twenty.ID, best.ID)
	})

	t.Run("ties keep the first seen", func(t *testing.T) {
		best, err := r.FindBestPromotion(context.Background(), []models.Promotion{ten, tenAgain}, order)
		require.NoError(t, err)
		require.NotNil(t, best)
		assert.Equal(t, ten.ID, best.ID)
	})

	t.Run("nil when nothing qualifies", func(t *testing.T) {
		draft := basePromotion()
		draft.Status = models.StatusDraft
		best, err := r.FindBestPromotion(context.Background(), []models.Promotion{draft}, order)
		require.NoError(t, err)
		assert.Nil(t, best)
	})
}

func TestValidatePromotionCode(t *testing.T) {
	coupon := basePromotion()
	coupon.Code = ptr("SUMMER10")

	f := newFixture()
	f.catalog.byCode["summer10"] = coupon
	r := f.resolver()

	t.Run("case-insensitive match", func(t *testing.T) {
		got, err := r.ValidatePromotionCode(context.Background(), "sUmMeR10", storeID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, coupon.ID, got.ID)
	})

	t.Run("unknown code", func(t *testing.T) {
		got, err := r.ValidatePromotionCode(context.Background(), "NOPE", storeID)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("blank code", func(t *testing.T) {
		got, err := r.ValidatePromotionCode(context.Background(), "   ", storeID)
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestResolveBestDiscount(t *testing.T) {
	product := models.Product{ID: productAID, Name: "Plate", Price: 100, OfferPrice: 80, IsOnOffer: true}

	order := models.OrderContext{
		StoreID:      storeID,
		DeliveryType: models.DeliveryTypeDelivery,
		Subtotal:     100,
		Items: []models.OrderItem{
			{ID: productAID, CategoryID: categoryID, Price: 100, Quantity: 1},
		},
	}

	t.Run("product offer beats a weaker promotion", func(t *testing.T) {
		promo := basePromotion()
		promo.DiscountPercentage = ptr(15.0) // would price the line at 85

		f := newFixture()
		res, err := f.resolver().ResolveBestDiscount(context.Background(), product, &promo, order)
		require.NoError(t, err)
		assert.Equal(t, models.SourceProductOffer, res.Source)
		assert.Equal(t, 80.0, res.FinalPrice)
		assert.Equal(t, 20.0, res.Discount)
	})

	t.Run("stronger promotion beats the offer", func(t *testing.T) {
		promo := basePromotion()
		promo.DiscountPercentage = ptr(30.0) // prices the line at 70

		f := newFixture()
		res, err := f.resolver().ResolveBestDiscount(context.Background(), product, &promo, order)
		require.NoError(t, err)
		assert.Equal(t, models.SourcePromotion, res.Source)
		assert.Equal(t, 70.0, res.FinalPrice)
		assert.Equal(t, 30.0, res.Discount)
	})

	t.Run("promotion matching the offer price loses the tie", func(t *testing.T) {
		promo := basePromotion()
		promo.DiscountPercentage = ptr(20.0) // prices the line at exactly 80

		f := newFixture()
		res, err := f.resolver().ResolveBestDiscount(context.Background(), product, &promo, order)
		require.NoError(t, err)
		assert.Equal(t, models.SourceProductOffer, res.Source)
		assert.Equal(t, 80.0, res.FinalPrice)
	})

	t.Run("no discount source", func(t *testing.T) {
		plain := product
		plain.IsOnOffer = false

		f := newFixture()
		res, err := f.resolver().ResolveBestDiscount(context.Background(), plain, nil, order)
		require.NoError(t, err)
		assert.Equal(t, models.SourceNone, res.Source)
		assert.Equal(t, 100.0, res.FinalPrice)
		assert.Zero(t, res.Discount)
	})

	t.Run("final price floors at zero", func(t *testing.T) {
		promo := basePromotion()
		promo.Type = models.TypeFixedAmount
		promo.DiscountPercentage = nil
		promo.DiscountAmount = ptr(500.0) // clamped to the subtotal, wipes the line

		plain := product
		plain.IsOnOffer = false

		f := newFixture()
		res, err := f.resolver().ResolveBestDiscount(context.Background(), plain, &promo, order)
		require.NoError(t, err)
		assert.Equal(t, models.SourcePromotion, res.Source)
		assert.Equal(t, 0.0, res.FinalPrice)
		assert.Equal(t, 100.0, res.Discount)
	})

	t.Run("ineligible promotion leaves only the offer", func(t *testing.T) {
		promo := basePromotion()
		promo.Status = models.StatusExpired

		f := newFixture()
		res, err := f.resolver().ResolveBestDiscount(context.Background(), product, &promo, order)
		require.NoError(t, err)
		assert.Equal(t, models.SourceProductOffer, res.Source)
		assert.Equal(t, 80.0, res.FinalPrice)
	})
}
