package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mostralo/promotion-service/internal/cache"
	"github.com/mostralo/promotion-service/internal/models"
	"github.com/mostralo/promotion-service/internal/repository"
	"github.com/mostralo/promotion-service/internal/resolver"
)

const couponCacheTTL = 30 * time.Second

// --- Request / Response DTOs ---

type orderItemBody struct {
	ID         string  `json:"id"`
	CategoryID string  `json:"category_id"`
	Price      float64 `json:"price"`
	Quantity   int     `json:"quantity"`
}

type orderContextBody struct {
	StoreID      string          `json:"store_id"`
	CustomerID   string          `json:"customer_id,omitempty"`
	DeliveryType string          `json:"delivery_type"`
	Subtotal     float64         `json:"subtotal"`
	DeliveryFee  float64         `json:"delivery_fee"`
	Items        []orderItemBody `json:"items"`
}

type evaluateRequest struct {
	PromotionID string           `json:"promotion_id"`
	Order       orderContextBody `json:"order"`
}

type orderOnlyRequest struct {
	Order orderContextBody `json:"order"`
}

type validateCouponRequest struct {
	CouponCode string           `json:"coupon_code"`
	Order      orderContextBody `json:"order"`
}

type productBody struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Price      float64 `json:"price"`
	OfferPrice float64 `json:"offer_price"`
	IsOnOffer  bool    `json:"is_on_offer"`
}

type bestDiscountRequest struct {
	Product     productBody      `json:"product"`
	PromotionID string           `json:"promotion_id,omitempty"`
	Order       orderContextBody `json:"order"`
}

type redeemRequest struct {
	PromotionID string `json:"promotion_id"`
	CustomerID  string `json:"customer_id,omitempty"`
}

type createPromotionRequest struct {
	StoreID            string   `json:"store_id"`
	Code               string   `json:"code,omitempty"`
	Name               string   `json:"name"`
	Type               string   `json:"type"`
	Scope              string   `json:"scope"`
	StartDate          string   `json:"start_date,omitempty"` // RFC3339
	EndDate            string   `json:"end_date,omitempty"`
	AllowedDays        []string `json:"allowed_days,omitempty"`
	StartTime          string   `json:"start_time,omitempty"` // "HH:MM"
	EndTime            string   `json:"end_time,omitempty"`
	AppliesToDelivery  bool     `json:"applies_to_delivery"`
	AppliesToPickup    bool     `json:"applies_to_pickup"`
	FirstOrderOnly     bool     `json:"first_order_only"`
	MinimumOrderValue  *float64 `json:"minimum_order_value,omitempty"`
	MaxUses            *int     `json:"max_uses,omitempty"`
	MaxUsesPerCustomer *int     `json:"max_uses_per_customer,omitempty"`
	DiscountPercentage *float64 `json:"discount_percentage,omitempty"`
	DiscountAmount     *float64 `json:"discount_amount,omitempty"`
	BogoBuyQuantity    *int     `json:"bogo_buy_quantity,omitempty"`
	BogoGetQuantity    *int     `json:"bogo_get_quantity,omitempty"`
	ProductIDs         []string `json:"product_ids,omitempty"`
	CategoryIDs        []string `json:"category_ids,omitempty"`
}

// --- Handler struct & constructor ---

type PromotionHandler struct {
	log         *zap.Logger
	promoRepo   *repository.PromotionRepo
	usageRepo   *repository.UsageRepo
	resolver    *resolver.Resolver
	couponCache *cache.PromotionCache
}

func NewPromotionHandler(db *sql.DB, log *zap.Logger) *PromotionHandler {
	promoRepo := repository.NewPromotionRepo(db)
	historyRepo := repository.NewOrderHistoryRepo(db)
	usageRepo := repository.NewUsageRepo(db)

	res := resolver.New(promoRepo, promoRepo, historyRepo, usageRepo, resolver.WithLogger(log))

	return &PromotionHandler{
		log:         log,
		promoRepo:   promoRepo,
		usageRepo:   usageRepo,
		resolver:    res,
		couponCache: cache.NewPromotionCache(couponCacheTTL),
	}
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func parseTimeOrEmpty(s string) (*time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (b orderContextBody) toModel() (models.OrderContext, error) {
	storeID, err := uuid.Parse(b.StoreID)
	if err != nil {
		return models.OrderContext{}, err
	}

	order := models.OrderContext{
		StoreID:      storeID,
		DeliveryType: models.DeliveryType(b.DeliveryType),
		Subtotal:     b.Subtotal,
		DeliveryFee:  b.DeliveryFee,
	}

	if b.CustomerID != "" {
		customerID, err := uuid.Parse(b.CustomerID)
		if err != nil {
			return models.OrderContext{}, err
		}
		order.CustomerID = &customerID
	}

	for _, it := range b.Items {
		id, err := uuid.Parse(it.ID)
		if err != nil {
			return models.OrderContext{}, err
		}
		categoryID, err := uuid.Parse(it.CategoryID)
		if err != nil {
			return models.OrderContext{}, err
		}
		order.Items = append(order.Items, models.OrderItem{
			ID:         id,
			CategoryID: categoryID,
			Price:      it.Price,
			Quantity:   it.Quantity,
		})
	}
	return order, nil
}

// writeResolverError maps collaborator failures to a retryable 503; anything
// else is a plain 500.
func (h *PromotionHandler) writeResolverError(w http.ResponseWriter, err error) {
	if resolver.IsLookupError(err) {
		h.log.Error("promotion lookup failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "could_not_verify_promotion")
		return
	}
	h.log.Error("promotion evaluation failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal_error")
}

// --- Handlers ---

// Evaluate handles POST /promotions/evaluate
func (h *PromotionHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}

	promotionID, err := uuid.Parse(req.PromotionID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_promotion_id")
		return
	}
	order, err := req.Order.toModel()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_order")
		return
	}

	ctx := r.Context()
	promo, err := h.promoRepo.GetByID(ctx, promotionID)
	if err != nil {
		h.writeResolverError(w, err)
		return
	}
	if promo == nil {
		writeError(w, http.StatusNotFound, "promotion_not_found")
		return
	}

	result, err := h.resolver.Evaluate(ctx, *promo, order)
	if err != nil {
		h.writeResolverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Applicable handles POST /promotions/applicable
func (h *PromotionHandler) Applicable(w http.ResponseWriter, r *http.Request) {
	var req orderOnlyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	order, err := req.Order.toModel()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_order")
		return
	}

	promos, err := h.resolver.FindApplicablePromotions(r.Context(), order.StoreID, order)
	if err != nil {
		h.writeResolverError(w, err)
		return
	}
	if promos == nil {
		promos = []models.Promotion{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"promotions": promos})
}

// Best handles POST /promotions/best
func (h *PromotionHandler) Best(w http.ResponseWriter, r *http.Request) {
	var req orderOnlyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	order, err := req.Order.toModel()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_order")
		return
	}

	ctx := r.Context()
	promos, err := h.resolver.FindApplicablePromotions(ctx, order.StoreID, order)
	if err != nil {
		h.writeResolverError(w, err)
		return
	}

	best, err := h.resolver.FindBestPromotion(ctx, promos, order)
	if err != nil {
		h.writeResolverError(w, err)
		return
	}
	if best == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"promotion": nil,
			"message":   "no applicable promotion",
		})
		return
	}

	result, err := h.resolver.Evaluate(ctx, *best, order)
	if err != nil {
		h.writeResolverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"promotion": best,
		"result":    result,
	})
}

// ValidateCoupon handles POST /coupons/validate: code lookup, then the full
// eligibility pipeline.
func (h *PromotionHandler) ValidateCoupon(w http.ResponseWriter, r *http.Request) {
	var req validateCouponRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	if strings.TrimSpace(req.CouponCode) == "" {
		writeError(w, http.StatusBadRequest, "coupon_code required")
		return
	}
	order, err := req.Order.toModel()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_order")
		return
	}

	ctx := r.Context()
	promo, ok := h.couponCache.Get(order.StoreID, req.CouponCode)
	if !ok {
		promo, err = h.resolver.ValidatePromotionCode(ctx, req.CouponCode, order.StoreID)
		if err != nil {
			h.writeResolverError(w, err)
			return
		}
		if promo != nil {
			h.couponCache.Set(order.StoreID, req.CouponCode, *promo)
		}
	}
	if promo == nil {
		writeJSON(w, http.StatusOK, models.PromotionCalculationResult{
			IsValid: false,
			Message: "coupon code not found",
		})
		return
	}

	result, err := h.resolver.Evaluate(ctx, *promo, order)
	if err != nil {
		h.writeResolverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// BestDiscount handles POST /products/best-discount
func (h *PromotionHandler) BestDiscount(w http.ResponseWriter, r *http.Request) {
	var req bestDiscountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}

	productID, err := uuid.Parse(req.Product.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_product_id")
		return
	}
	order, err := req.Order.toModel()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_order")
		return
	}
	product := models.Product{
		ID:         productID,
		Name:       req.Product.Name,
		Price:      req.Product.Price,
		OfferPrice: req.Product.OfferPrice,
		IsOnOffer:  req.Product.IsOnOffer,
	}

	ctx := r.Context()
	var promo *models.Promotion
	if req.PromotionID != "" {
		promotionID, err := uuid.Parse(req.PromotionID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_promotion_id")
			return
		}
		promo, err = h.promoRepo.GetByID(ctx, promotionID)
		if err != nil {
			h.writeResolverError(w, err)
			return
		}
	}

	resolution, err := h.resolver.ResolveBestDiscount(ctx, product, promo, order)
	if err != nil {
		h.writeResolverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resolution)
}

// Redeem handles POST /orders/redeem: the order-placement flow consumes a
// redemption after a successful checkout.
func (h *PromotionHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}

	promotionID, err := uuid.Parse(req.PromotionID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_promotion_id")
		return
	}
	var customerID *uuid.UUID
	if req.CustomerID != "" {
		id, err := uuid.Parse(req.CustomerID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_customer_id")
			return
		}
		customerID = &id
	}

	ctx := r.Context()
	promo, err := h.promoRepo.GetByID(ctx, promotionID)
	if err != nil {
		h.writeResolverError(w, err)
		return
	}
	if promo == nil {
		writeError(w, http.StatusNotFound, "promotion_not_found")
		return
	}

	if err := h.usageRepo.ConsumeRedemption(ctx, promo, customerID); err != nil {
		if errors.Is(err, repository.ErrRedemptionLimit) {
			writeError(w, http.StatusConflict, "redemption_limit_reached")
			return
		}
		h.log.Error("consume redemption failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "redemption_recorded"})
}

// CreatePromotion handles POST /admin/promotions
func (h *PromotionHandler) CreatePromotion(w http.ResponseWriter, r *http.Request) {
	var req createPromotionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}

	storeID, err := uuid.Parse(req.StoreID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_store_id")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name required")
		return
	}

	startDate, err := parseTimeOrEmpty(req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid start_date; use RFC3339")
		return
	}
	endDate, err := parseTimeOrEmpty(req.EndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid end_date; use RFC3339")
		return
	}

	promo := models.Promotion{
		ID:                 uuid.New(),
		StoreID:            storeID,
		Name:               req.Name,
		Status:             models.StatusDraft,
		Type:               models.PromotionType(req.Type),
		Scope:              models.PromotionScope(req.Scope),
		StartDate:          startDate,
		EndDate:            endDate,
		AllowedDays:        normalizeDays(req.AllowedDays),
		AppliesToDelivery:  req.AppliesToDelivery,
		AppliesToPickup:    req.AppliesToPickup,
		FirstOrderOnly:     req.FirstOrderOnly,
		MinimumOrderValue:  req.MinimumOrderValue,
		MaxUses:            req.MaxUses,
		MaxUsesPerCustomer: req.MaxUsesPerCustomer,
		DiscountPercentage: req.DiscountPercentage,
		DiscountAmount:     req.DiscountAmount,
		BogoBuyQuantity:    req.BogoBuyQuantity,
		BogoGetQuantity:    req.BogoGetQuantity,
	}
	if code := strings.TrimSpace(req.Code); code != "" {
		promo.Code = &code
	}
	if t := strings.TrimSpace(req.StartTime); t != "" {
		promo.StartTime = &t
	}
	if t := strings.TrimSpace(req.EndTime); t != "" {
		promo.EndTime = &t
	}

	if err := promo.ValidateConfig(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	productIDs, err := parseUUIDs(req.ProductIDs)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid product_ids")
		return
	}
	categoryIDs, err := parseUUIDs(req.CategoryIDs)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid category_ids")
		return
	}

	if err := h.promoRepo.Create(r.Context(), &promo, productIDs, categoryIDs); err != nil {
		h.log.Error("create promotion failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed_create_promotion")
		return
	}
	if promo.Code != nil {
		h.couponCache.Invalidate(storeID, *promo.Code)
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"message":      "promotion_created",
		"promotion_id": promo.ID,
	})
}

func normalizeDays(days []string) []string {
	var out []string
	for _, d := range days {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			out = append(out, d)
		}
	}
	return out
}

func parseUUIDs(raw []string) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
