package models

// PromotionCalculationResult is produced fresh per evaluation and never
// persisted. Eligibility failures are normal values, not errors: the checkout
// flow displays Message to the customer as-is.
type PromotionCalculationResult struct {
	IsValid          bool       `json:"is_valid"`
	Discount         float64    `json:"discount"`
	Message          string     `json:"message"`
	PromotionApplied *Promotion `json:"promotion_applied,omitempty"`

	// Misconfigured marks failures caused by bad promotion data rather than
	// an eligibility rule, so callers can log them for the store admin.
	Misconfigured bool `json:"-"`
}

type DiscountSource string

const (
	SourceProductOffer DiscountSource = "product_offer"
	SourcePromotion    DiscountSource = "promotion"
	SourceNone         DiscountSource = "none"
)

// DiscountResolution is the outcome of comparing a product's direct offer
// price against a promotion-derived price for one order line.
type DiscountResolution struct {
	FinalPrice float64        `json:"final_price"`
	Discount   float64        `json:"discount"`
	Source     DiscountSource `json:"source"`
	Message    string         `json:"message"`
}
