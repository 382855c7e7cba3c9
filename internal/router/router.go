package router

import (
	"net/http"

	"eventmarket/internal/controller"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

func NewRouter(c *controller.Controller) http.Handler {
	mux := chi.NewRouter()

	mux.Use(middleware.Recoverer)
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Admin-Key", "Stripe-Signature"},
	}))

	mux.Route("/api", func(r chi.Router) {
		r.Get("/ping", c.Ping)

		r.Route("/requests", func(r chi.Router) {
			r.Post("/", c.NewRequest)
			r.Get("/", c.GetRequests)
			r.Get("/open", c.GetOpenRequests)
			r.Post("/{requestId}/offers", c.NewOffer)
			r.Patch("/{requestId}/offers/{offerId}", c.SetOfferStatus)
		})

		r.Route("/vendors", func(r chi.Router) {
			r.Post("/", c.NewVendor)
			r.Get("/{vendorId}", c.GetVendor)
			r.Patch("/{vendorId}", c.UpdateVendor)
		})

		r.Route("/payments", func(r chi.Router) {
			r.Post("/checkout-session", c.NewCheckoutSession)
			r.Post("/webhook", c.Webhook)
		})
	})

	mux.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("page not found"))
	})

	return mux
}
