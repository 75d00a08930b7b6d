package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type RouterConfig struct {
	Carts          Carts
	Checkouts      CheckoutService
	Reconciler     WebhookReconciler
	Orders         OrderReader
	Products       ProductReader
	RequestTimeout time.Duration
}

// NewRouter assembles the full HTTP surface. Webhook routes sit outside the
// owner-key middleware: providers do not send identity headers.
func NewRouter(cfg RouterConfig) http.Handler {
	cartHandler := NewCartHandler(cfg.Carts, cfg.RequestTimeout)
	checkoutHandler := NewCheckoutHandler(cfg.Checkouts, cfg.RequestTimeout)
	webhookHandler := NewWebhookHandler(cfg.Reconciler, cfg.RequestTimeout)
	ordersHandler := NewOrdersHandler(cfg.Orders, cfg.RequestTimeout)
	productHandler := NewProductHandler(cfg.Products, cfg.RequestTimeout)

	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestIDMiddleware)
	r.Use(middleware.Timeout(cfg.RequestTimeout))
	r.Use(middleware.Compress(5))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/webhooks/{provider}", webhookHandler.Receive)

		r.Get("/products", productHandler.ListProducts)
		r.Get("/products/{product_id}", productHandler.GetProduct)

		r.Get("/admin/stats", ordersHandler.Stats)

		r.Group(func(r chi.Router) {
			r.Use(OwnerKeyMiddleware)

			r.Route("/cart", func(r chi.Router) {
				r.Get("/", cartHandler.GetCart)
				r.Post("/items", cartHandler.AddItem)
				r.Delete("/items/{product_id}", cartHandler.RemoveItem)
				r.Delete("/", cartHandler.ClearCart)
			})

			r.Post("/checkout", checkoutHandler.Checkout)

			r.Route("/orders", func(r chi.Router) {
				r.Get("/", ordersHandler.ListOrders)
				r.Get("/{order_id}", ordersHandler.GetOrder)
			})
		})
	})

	return otelhttp.NewHandler(r, "goshop-http")
}
