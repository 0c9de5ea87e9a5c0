package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chi_middleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
)

// RouterConfig wires the HTTP surface of the transaction service.
type RouterConfig struct {
	Transactions      TransactionService
	Reconciler        StatusUpdateReconciler
	Queue             SyncQueue
	Network           NetworkController
	Events            EventSource
	WebhookAPIKeyHash string
	JWTSecret         string
	Logger            *slog.Logger
}

func NewRouter(cfg RouterConfig) chi.Router {
	validate := validator.New()
	logger := cfg.Logger

	webhookHandler := NewWebhookHandler(cfg.Reconciler, validate, logger)
	transactionHandler := NewTransactionHandler(cfg.Transactions, validate, logger)
	syncHandler := NewSyncHandler(cfg.Queue, cfg.Network, validate, logger)
	var lookup TransactionLookup
	if cfg.Transactions != nil {
		lookup = cfg.Transactions
	}
	eventsHandler := NewEventsHandler(cfg.Events, lookup, 15*time.Second, logger)

	r := chi.NewRouter()
	r.Use(chi_middleware.RequestID)
	r.Use(chi_middleware.RealIP)
	r.Use(chi_middleware.Recoverer)
	r.Use(RequestLogger(logger))
	r.Use(PrometheusMetricsMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_ = writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "online": cfg.Network.Status().Online})
	})

	r.Route("/webhooks", func(r chi.Router) {
		r.Use(APIKeyMiddleware(cfg.WebhookAPIKeyHash, logger))
		r.HandleFunc("/payments", webhookHandler.HandlePaymentStatus)
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(JWTAuthMiddleware(cfg.JWTSecret, logger))

		r.Route("/transactions", func(r chi.Router) {
			r.Post("/", transactionHandler.CreateTransaction)
			r.Get("/", transactionHandler.ListTransactions)
			r.Get("/events", eventsHandler.StreamEvents)
			r.Route("/{transactionID}", func(r chi.Router) {
				r.Get("/", transactionHandler.GetTransaction)
				r.Patch("/", transactionHandler.UpdateTransaction)
				r.Post("/retry", transactionHandler.RetrySync)
			})
		})

		r.Get("/sync", syncHandler.GetSyncStatus)
		r.Post("/sync/drain", syncHandler.DrainNow)
		r.Get("/network", syncHandler.GetNetworkStatus)
		r.Put("/network", syncHandler.SetNetworkStatus)
	})

	return r
}
