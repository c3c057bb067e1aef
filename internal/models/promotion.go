package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type PromotionStatus string

const (
	StatusDraft   PromotionStatus = "draft"
	StatusActive  PromotionStatus = "active"
	StatusPaused  PromotionStatus = "paused"
	StatusExpired PromotionStatus = "expired"
)

type PromotionType string

const (
	TypePercentage   PromotionType = "percentage"
	TypeFixedAmount  PromotionType = "fixed_amount"
	TypeFreeDelivery PromotionType = "free_delivery"
	TypeMinimumOrder PromotionType = "minimum_order"
	TypeBogo         PromotionType = "bogo"
	TypeFirstOrder   PromotionType = "first_order"
)

type PromotionScope string

const (
	ScopeAllProducts      PromotionScope = "all_products"
	ScopeSpecificProducts PromotionScope = "specific_products"
	ScopeCategory         PromotionScope = "category"
	ScopeDeliveryType     PromotionScope = "delivery_type"
)

type DeliveryType string

const (
	DeliveryTypeDelivery DeliveryType = "delivery"
	DeliveryTypePickup   DeliveryType = "pickup"
)

// Promotion is a store-scoped discount rule. Only the discount parameters
// relevant to Type are populated; the rest stay nil.
type Promotion struct {
	ID      uuid.UUID       `json:"id"`
	StoreID uuid.UUID       `json:"store_id"`
	Code    *string         `json:"code,omitempty"`
	Name    string          `json:"name"`
	Status  PromotionStatus `json:"status"`
	Type    PromotionType   `json:"type"`
	Scope   PromotionScope  `json:"scope"`

	StartDate   *time.Time `json:"start_date,omitempty"`
	EndDate     *time.Time `json:"end_date,omitempty"`
	AllowedDays []string   `json:"allowed_days,omitempty"` // lowercase weekday names, empty = all days
	StartTime   *string    `json:"start_time,omitempty"`   // "HH:MM"
	EndTime     *string    `json:"end_time,omitempty"`

	AppliesToDelivery bool     `json:"applies_to_delivery"`
	AppliesToPickup   bool     `json:"applies_to_pickup"`
	FirstOrderOnly    bool     `json:"first_order_only"`
	MinimumOrderValue *float64 `json:"minimum_order_value,omitempty"`

	MaxUses            *int `json:"max_uses,omitempty"`
	CurrentUses        int  `json:"current_uses"`
	MaxUsesPerCustomer *int `json:"max_uses_per_customer,omitempty"`

	DiscountPercentage *float64 `json:"discount_percentage,omitempty"`
	DiscountAmount     *float64 `json:"discount_amount,omitempty"`
	BogoBuyQuantity    *int     `json:"bogo_buy_quantity,omitempty"`
	BogoGetQuantity    *int     `json:"bogo_get_quantity,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsCoupon reports whether the promotion is redeemed by a customer-entered
// code instead of automatic eligibility.
func (p *Promotion) IsCoupon() bool {
	return p.Code != nil && *p.Code != ""
}

// ValidateConfig checks the per-type parameter invariant: each type reads
// exactly one discount parameter (bogo reads both quantities), so a promotion
// carrying the wrong combination is rejected at creation time.
func (p *Promotion) ValidateConfig() error {
	switch p.Type {
	case TypePercentage:
		if p.DiscountPercentage == nil {
			return errors.New("percentage promotion requires discount_percentage")
		}
		if *p.DiscountPercentage <= 0 || *p.DiscountPercentage > 100 {
			return errors.New("discount_percentage must be in (0, 100]")
		}
	case TypeFixedAmount:
		if p.DiscountAmount == nil || *p.DiscountAmount <= 0 {
			return errors.New("fixed_amount promotion requires a positive discount_amount")
		}
	case TypeFreeDelivery:
		// no discount parameters
	case TypeMinimumOrder:
		if p.MinimumOrderValue == nil || *p.MinimumOrderValue <= 0 {
			return errors.New("minimum_order promotion requires minimum_order_value")
		}
		if err := exactlyOneParam(p.DiscountPercentage, p.DiscountAmount); err != nil {
			return errors.Wrap(err, "minimum_order promotion")
		}
	case TypeBogo:
		if p.BogoBuyQuantity == nil || p.BogoGetQuantity == nil {
			return errors.New("bogo promotion requires buy and get quantities")
		}
		if *p.BogoBuyQuantity < 1 || *p.BogoGetQuantity < 1 {
			return errors.New("bogo quantities must be at least 1")
		}
	case TypeFirstOrder:
		if err := exactlyOneParam(p.DiscountPercentage, p.DiscountAmount); err != nil {
			return errors.Wrap(err, "first_order promotion")
		}
	default:
		return errors.Errorf("unknown promotion type %q", p.Type)
	}
	return nil
}

func exactlyOneParam(percentage, amount *float64) error {
	if percentage == nil && amount == nil {
		return errors.New("requires discount_percentage or discount_amount")
	}
	if percentage != nil && amount != nil {
		return errors.New("discount_percentage and discount_amount are mutually exclusive")
	}
	if percentage != nil && (*percentage <= 0 || *percentage > 100) {
		return errors.New("discount_percentage must be in (0, 100]")
	}
	if amount != nil && *amount <= 0 {
		return errors.New("discount_amount must be positive")
	}
	return nil
}
