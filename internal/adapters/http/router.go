package httpadapter

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"

	"github.com/kirillkom/document-intake/internal/config"
	"github.com/kirillkom/document-intake/internal/core/domain"
	"github.com/kirillkom/document-intake/internal/core/ports"
	"github.com/kirillkom/document-intake/internal/observability/metrics"
)

const serviceName = "api"

// Services are the use cases the HTTP surface exposes.
type Services struct {
	Generator ports.DocumentGenerator
	Uploader  ports.DocumentUploader
	Email     ports.EmailIngestor
	Jobs      ports.JobReader
	Orders    ports.RecordManager[*domain.Order]
	Invoices  ports.RecordManager[*domain.Invoice]
}

type Option func(*Router)

// WithMetrics enables request metrics and serves handler on /metrics.
func WithMetrics(m *metrics.HTTPServerMetrics, handler http.Handler) Option {
	return func(rt *Router) {
		rt.metrics = m
		rt.metricsHandler = handler
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(rt *Router) {
		if logger != nil {
			rt.logger = logger
		}
	}
}

type Router struct {
	services Services

	jwtSecret         []byte
	mailgunSigningKey string
	maxUploadBytes    int64
	defaultLanguage   string

	rateLimitRPS         float64
	rateLimitBurst       int
	backpressureInFlight int
	backpressureWait     time.Duration
	limiter              *rate.Limiter

	metrics        *metrics.HTTPServerMetrics
	metricsHandler http.Handler
	logger         *slog.Logger
}

func NewRouter(cfg config.Config, services Services, opts ...Option) *Router {
	rt := &Router{
		services:             services,
		jwtSecret:            []byte(cfg.JWTSecret),
		mailgunSigningKey:    cfg.MailgunSigningKey,
		maxUploadBytes:       cfg.MaxUploadBytes,
		defaultLanguage:      cfg.DefaultLanguage,
		rateLimitRPS:         cfg.APIRateLimitRPS,
		rateLimitBurst:       cfg.APIRateLimitBurst,
		backpressureInFlight: cfg.APIBackpressureMaxInFlight,
		backpressureWait:     cfg.APIBackpressureWait,
		logger:               slog.Default(),
	}
	if rt.rateLimitRPS > 0 {
		burst := rt.rateLimitBurst
		if burst <= 0 {
			burst = 1
		}
		rt.limiter = rate.NewLimiter(rate.Limit(rt.rateLimitRPS), burst)
	}
	if rt.maxUploadBytes <= 0 {
		rt.maxUploadBytes = 25 << 20
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(accessLogMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", requestIDHeader},
		ExposedHeaders: []string{requestIDHeader, "Content-Disposition"},
		MaxAge:         300,
	}))

	r.Get("/healthz", rt.healthz)
	if rt.metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", rt.metricsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(rt.rateLimitMiddleware)
		r.Use(func(next http.Handler) http.Handler {
			return backpressureMiddleware(next, rt.backpressureInFlight, rt.backpressureWait)
		})

		r.Post("/orders/generate", rt.generate(domain.DocumentOrder))
		r.Post("/invoices/generate", rt.generate(domain.DocumentInvoice))
		r.Post("/utils/inbound-email", rt.inboundEmail)

		r.Group(func(r chi.Router) {
			r.Use(rt.authMiddleware)

			r.Post("/utils/upload", rt.upload)
			r.Get("/jobs", rt.listJobs)
			r.Get("/jobs/{id}", rt.getJob)

			r.Route("/orders", func(r chi.Router) {
				mountRecords(r, rt, "orders", rt.services.Orders)
			})
			r.Route("/invoices", func(r chi.Router) {
				mountRecords(r, rt, "invoices", rt.services.Invoices)
			})
		})
	})

	if rt.metrics != nil {
		return rt.metrics.Middleware(serviceName, r)
	}
	return r
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError maps err to a status code. Internal errors are logged and
// replaced with a generic message.
func (rt *Router) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	message := err.Error()
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		rt.logger.Error("http_handler_failed",
			"request_id", requestIDFromContext(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		message = "internal server error"
	}
	writeJSON(w, status, map[string]string{"error": message})
}
