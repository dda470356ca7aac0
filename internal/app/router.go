package app

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/pedilo-api/internal/audit"
	"github.com/noah-isme/pedilo-api/internal/auth"
	"github.com/noah-isme/pedilo-api/internal/cart"
	"github.com/noah-isme/pedilo-api/internal/catalog"
	"github.com/noah-isme/pedilo-api/internal/checkout"
	"github.com/noah-isme/pedilo-api/internal/common"
	"github.com/noah-isme/pedilo-api/internal/config"
	"github.com/noah-isme/pedilo-api/internal/events"
	"github.com/noah-isme/pedilo-api/internal/health"
	"github.com/noah-isme/pedilo-api/internal/lock"
	"github.com/noah-isme/pedilo-api/internal/merchant"
	"github.com/noah-isme/pedilo-api/internal/notify"
	"github.com/noah-isme/pedilo-api/internal/obs"
	"github.com/noah-isme/pedilo-api/internal/order"
	"github.com/noah-isme/pedilo-api/internal/pricing"
	"github.com/noah-isme/pedilo-api/internal/promotion"
	"github.com/noah-isme/pedilo-api/internal/ratelimit"
	"github.com/noah-isme/pedilo-api/internal/security"
)

// MinimumOrderPolicy builds the per business type minimum order defaults.
func MinimumOrderPolicy(cfg *config.Config) merchant.Policy {
	return merchant.Policy{Defaults: map[merchant.BusinessType]pricing.Money{
		merchant.BusinessRestaurant: cfg.MinOrderRestaurant,
		merchant.BusinessRetail:     cfg.MinOrderRetail,
		merchant.BusinessWholesale:  cfg.MinOrderWholesale,
	}}
}

// EventBus persists domain events and schedules their webhook deliveries.
func EventBus(d *Dependencies) *events.Bus {
	publisher := notify.Publisher{
		Queue:    d.Config.WebhookQueue,
		MaxRetry: d.Config.WebhookMaxAttempts,
		Timeout:  d.Config.WebhookTimeout * 3,
	}
	if d.Tasks != nil {
		publisher.Client = d.Tasks
	}
	return &events.Bus{
		Store:     d.Store,
		Scheduler: publisher,
		Notifiers: []events.Notifier{events.LogNotifier{Logger: d.Logger}},
	}
}

// NewRouter assembles the HTTP surface.
func NewRouter(d *Dependencies) (http.Handler, error) {
	cfg := d.Config
	logger := d.Logger
	validate := common.NewValidator()
	policy := MinimumOrderPolicy(cfg)
	bus := EventBus(d)

	authService, err := auth.NewService(auth.Config{
		Merchants:      d.Store,
		Secret:         cfg.JWTSecret,
		AccessTokenTTL: cfg.AccessTokenTTL,
		Issuer:         cfg.JWTIssuer,
		Audience:       cfg.JWTAudience,
	})
	if err != nil {
		return nil, fmt.Errorf("initialise auth service: %w", err)
	}
	authHandler := &auth.Handler{Service: authService, Validator: validate, Logger: logger}
	authMiddleware := auth.Middleware{Service: authService}

	locker, err := lock.New(d.Redis, cfg.LockRetryBackoff, d.Meter)
	if err != nil {
		return nil, fmt.Errorf("initialise lock: %w", err)
	}

	auditSvc := &audit.Service{Store: d.Store, Enabled: cfg.AuditEnabled, Logger: logger}
	catalogSvc := &catalog.Service{Q: d.Store, Cache: catalog.NewCache(d.Redis, cfg.MenuCacheTTL), Logger: logger}
	promoSvc := &promotion.Service{Q: d.Store, Location: cfg.Location()}
	cartStore := &cart.Store{R: d.Redis, TTL: cfg.CartTTL}
	cartSvc := &cart.Service{Store: cartStore, Catalog: catalogSvc, Coupons: promoSvc, Policy: policy}
	orderSvc := &order.Service{Q: d.Store, Events: bus, Logger: logger}
	checkoutSvc := &checkout.Service{
		Catalog: catalogSvc,
		Coupons: promoSvc,
		Orders:  d.Store,
		Policy:  policy,
		Locker:  locker,
		LockTTL: cfg.LockTTL,
		Events:  bus,
		Carts:   cartStore,
		Logger:  logger,
	}

	catalogHandler := &catalog.Handler{Service: catalogSvc, Validator: validate, Audit: auditSvc}
	promoHandler := &promotion.Handler{Svc: promoSvc, Catalog: catalogSvc, Validator: validate, Audit: auditSvc, Logger: logger}
	cartHandler := &cart.Handler{Svc: cartSvc, Validator: validate, Logger: logger}
	checkoutHandler := &checkout.Handler{Svc: checkoutSvc, Validator: validate}
	orderHandler := &order.Handler{Svc: orderSvc, Validator: validate}
	auditHandler := audit.Handler{Store: d.Store}
	auditRecorder := audit.HTTPRecorder{
		Service: auditSvc,
		OnError: func(err error) { logger.Error().Err(err).Msg("record audit entry") },
	}

	resolver := merchant.NewResolver(d.Store, "merchant", logger)
	idem := common.Idem{R: d.Redis, TTL: cfg.IdempotencyTTL}
	couponLimit := ratelimit.Handler{
		Limiter: ratelimit.Limiter{Client: d.Redis, Prefix: "rl:coupon"},
		Config: ratelimit.Config{
			Key:    ratelimit.ByClientAndPath("coupon"),
			Window: cfg.CouponRateLimitWindow,
			Max:    cfg.CouponRateLimitMax,
		},
		OnError: func(err error) { logger.Warn().Err(err).Msg("coupon rate limiter unavailable") },
	}
	orderLimiter, err := ratelimit.NewFixedWindow(d.Redis, cfg.OrderRateLimit, "rl:orders")
	if err != nil {
		return nil, fmt.Errorf("initialise order rate limit: %w", err)
	}
	orderLimit := ratelimit.FixedWindowMiddleware(orderLimiter, func(err error) {
		logger.Error().Err(err).Msg("order rate limiter unavailable")
	})

	var httpMetrics *obs.HTTPMetrics
	if cfg.Obs.MetricsEnabled {
		httpMetrics = obs.NewHTTPMetrics(cfg.Obs.MetricsNamespace, obs.ParseBucketsCSV(cfg.Obs.MetricsBuckets), d.Registry)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RequestInfoMiddleware)
	if cfg.Obs.TracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(security.Headers{Enable: cfg.SecurityHeaders, EnableHSTS: cfg.AppEnv == "production", HSTSMaxAge: 31536000}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins(cfg),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders: []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		MaxAge:         300,
	}))
	r.Use(security.BodyLimit{Max: cfg.BodyLimitBytes}.Middleware)

	if cfg.Obs.MetricsEnabled {
		r.Handle("/metrics", promhttp.HandlerFor(d.Registry, promhttp.HandlerOpts{Registry: d.Registry}))
	}
	if cfg.Obs.PprofEnabled {
		r.Mount("/debug", protectPprof(middleware.Profiler(), cfg.Obs.PprofUser, cfg.Obs.PprofPass))
	}

	healthHandler := health.Handler{
		Deps: map[string]health.Pinger{
			"store": health.PingFunc(d.Store.Ping),
			"redis": health.Redis(d.Redis),
		},
		Timeout: 500 * time.Millisecond,
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Route("/dashboard", func(dash chi.Router) {
			dash.Post("/login", authHandler.Login)

			dash.Group(func(g chi.Router) {
				g.Use(authMiddleware.RequireAuth)
				g.Use(resolver.ByAccount)

				g.Get("/audit", auditHandler.List)

				g.Route("/promotions", func(p chi.Router) {
					p.Get("/", promoHandler.List)
					p.Post("/", promoHandler.Create)
					p.Get("/{id}", promoHandler.Get)
					p.Put("/{id}", promoHandler.Update)
					p.Post("/{id}/toggle", promoHandler.Toggle)
				})

				g.Get("/orders", orderHandler.List)
				g.With(auditRecorder.Middleware(audit.HTTPConfig{Action: "order.status", ResourceType: "order", ResourceIDParam: "id"})).
					Patch("/orders/{id}/status", orderHandler.UpdateStatus)

				g.Get("/products", catalogHandler.ListProducts)
				g.Post("/products", catalogHandler.SaveProduct)
				g.Put("/products/{id}", catalogHandler.SaveProduct)
				g.Get("/toppings", catalogHandler.ListToppings)
				g.Post("/toppings", catalogHandler.SaveTopping)
				g.Put("/toppings/{id}", catalogHandler.SaveTopping)
			})
		})

		v.Route("/{merchant}", func(s chi.Router) {
			s.Use(resolver.BySlug)
			s.Get("/menu", catalogHandler.Menu)
			s.With(couponLimit.Middleware).Post("/validate-coupon", promoHandler.ValidateCoupon)
			s.With(orderLimit, idem.Middleware).Post("/orders", checkoutHandler.Checkout)
			s.Get("/orders/{code}", orderHandler.Track)
			s.Route("/cart/{token}", func(c chi.Router) {
				c.Get("/", cartHandler.Get)
				c.Put("/", cartHandler.Put)
				c.Delete("/", cartHandler.Delete)
				c.Get("/quote", cartHandler.Quote)
			})
		})
	})

	return r, nil
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	user = strings.TrimSpace(user)
	pass = strings.TrimSpace(pass)
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
