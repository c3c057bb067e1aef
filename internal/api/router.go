package api

import (
	"database/sql"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/mostralo/promotion-service/internal/api/handlers"
	"github.com/mostralo/promotion-service/internal/api/middleware"
)

// NewRouter builds the HTTP router for the promotion service.
func NewRouter(db *sql.DB, log *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestLogger(log))
	r.Use(cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}).Handler)

	h := handlers.NewPromotionHandler(db, log)

	// Checkout-facing endpoints
	r.Route("/promotions", func(r chi.Router) {
		r.Post("/evaluate", h.Evaluate)
		r.Post("/applicable", h.Applicable)
		r.Post("/best", h.Best)
	})
	r.Post("/coupons/validate", h.ValidateCoupon)
	r.Post("/products/best-discount", h.BestDiscount)

	// Order-placement flow
	r.Post("/orders/redeem", h.Redeem)

	// Admin endpoints
	r.Route("/admin", func(r chi.Router) {
		r.Post("/promotions", h.CreatePromotion)
	})

	// health
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return r
}
