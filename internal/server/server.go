package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"casham-store/internal/cache"
	"casham-store/internal/catalog"
	"casham-store/internal/config"
	"casham-store/internal/database"
	"casham-store/internal/domain"
	"casham-store/internal/events"
	"casham-store/internal/metrics"
	custommiddleware "casham-store/internal/middleware"
	"casham-store/internal/repository"
	"casham-store/internal/service"
	"casham-store/internal/sheets"
	"casham-store/internal/transport"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Dependencies are the external resources the server is built on. A nil
// Database selects the in-memory cart store; a nil Redis disables the cart
// cache and checkout rate limiting.
type Dependencies struct {
	Database  database.Service
	Redis     *redis.Client
	Publisher events.Publisher
	Registry  *prometheus.Registry
}

type Server struct {
	*http.Server
	config *config.Config
	logger *zap.Logger
	deps   Dependencies
	sheets *sheets.Client
}

func NewServer(cfg *config.Config, logger *zap.Logger, deps Dependencies) (*Server, error) {
	if deps.Publisher == nil {
		deps.Publisher = events.NopPublisher{}
	}
	if deps.Registry == nil {
		deps.Registry = prometheus.NewRegistry()
		deps.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	sessionSecret, err := resolveSessionSecret(cfg, logger)
	if err != nil {
		return nil, err
	}

	shipping, err := shippingPolicy(cfg.Checkout)
	if err != nil {
		return nil, err
	}

	products, err := catalog.New()
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}

	storeMetrics := metrics.NewStoreMetricsWithRegisterer(deps.Registry)

	// Initialize repositories
	var cartRepo repository.CartRepository
	if deps.Database != nil {
		cartRepo = repository.NewCartRepository(deps.Database.DB())
	} else {
		logger.Warn("No database configured, carts are kept in memory")
		cartRepo = repository.NewMemoryCartRepository()
	}

	// longest a checkout request may run, retries included
	checkoutBudget := 30*time.Second + cfg.Checkout.Timeout()*time.Duration(max(cfg.Checkout.MaxAttempts, 1))

	var cartCache cache.CartCache = cache.NopCache{}
	var checkoutLocks cache.CheckoutLocks
	if deps.Redis != nil {
		cartCache = cache.NewRedisCache(deps.Redis)
		checkoutLocks = cache.NewRedisCheckoutLocks(deps.Redis, checkoutBudget, logger.Named("checkout"))
	}

	sheetsClient := sheets.NewClient(sheets.Config{
		Endpoint:    cfg.Checkout.Endpoint,
		Timeout:     cfg.Checkout.Timeout(),
		MaxAttempts: cfg.Checkout.MaxAttempts,
	}, logger.Named("sheets"))

	// Initialize services
	cartService := service.NewCartService(cartRepo, cartCache, products, shipping, storeMetrics, logger.Named("cart"))
	checkoutService := service.NewCheckoutService(
		cartService,
		sheetsClient,
		deps.Publisher,
		checkoutLocks,
		storeMetrics,
		logger.Named("checkout"),
		cfg.Checkout.MaxScreenshotBytes,
	)

	// Initialize handlers
	catalogHandler := transport.NewCatalogHandler(products, logger)
	cartHandler := transport.NewCartHandler(cartService, logger)
	checkoutHandler := transport.NewCheckoutHandler(checkoutService, cfg.Checkout.MaxScreenshotBytes, logger)

	router := chi.NewRouter()
	for _, mw := range custommiddleware.DefaultMiddlewareStack() {
		router.Use(mw)
	}
	router.Use(custommiddleware.LoggingMiddleware(logger))
	router.Use(custommiddleware.MetricsMiddleware(storeMetrics))
	router.Use(custommiddleware.ErrorHandlingMiddleware(logger))
	router.Use(custommiddleware.CORSMiddleware(cfg.Server.AllowedOrigins, cfg.Server.IsDevelopment()))

	srv := &Server{
		config: cfg,
		logger: logger,
		deps:   deps,
		sheets: sheetsClient,
	}

	router.Get("/health", srv.health)
	router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))

	catalogHandler.RegisterRoutes(router)

	router.Group(func(r chi.Router) {
		r.Use(custommiddleware.CartSessionMiddleware(custommiddleware.SessionConfig{
			Secret:       sessionSecret,
			TTL:          cfg.Session.TTL(),
			CookieSecure: cfg.Session.CookieSecure,
		}, logger))

		cartHandler.RegisterRoutes(r)

		r.Group(func(r chi.Router) {
			if deps.Redis != nil && cfg.Checkout.RateLimitPerMinute > 0 {
				r.Use(custommiddleware.RateLimitMiddleware(deps.Redis, custommiddleware.RateLimitConfig{
					RequestsPerWindow: cfg.Checkout.RateLimitPerMinute,
					Window:            time.Minute,
					KeyPrefix:         "rate_limit:checkout",
				}, logger))
			} else {
				logger.Warn("Checkout rate limiting disabled")
			}
			checkoutHandler.RegisterRoutes(r)
		})
	})

	srv.Server = &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      router,
		IdleTimeout:  time.Minute,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: checkoutBudget,
	}

	return srv, nil
}

// resolveSessionSecret generates a throwaway secret in development. Carts
// then do not survive a restart.
func resolveSessionSecret(cfg *config.Config, logger *zap.Logger) (string, error) {
	if cfg.Session.Secret != "" {
		return cfg.Session.Secret, nil
	}
	if !cfg.Server.IsDevelopment() {
		return "", errors.New("SESSION_SECRET is required in production")
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate session secret: %w", err)
	}
	logger.Warn("SESSION_SECRET not set, using a generated secret")
	return hex.EncodeToString(buf), nil
}

func shippingPolicy(cfg config.CheckoutConfig) (domain.ShippingPolicy, error) {
	policy := domain.DefaultShippingPolicy()

	if cfg.FreeShippingThreshold != "" {
		threshold, err := decimal.NewFromString(cfg.FreeShippingThreshold)
		if err != nil {
			return policy, fmt.Errorf("invalid free shipping threshold %q: %w", cfg.FreeShippingThreshold, err)
		}
		policy.FreeThreshold = threshold
	}

	if cfg.ShippingFee != "" {
		fee, err := decimal.NewFromString(cfg.ShippingFee)
		if err != nil {
			return policy, fmt.Errorf("invalid shipping fee %q: %w", cfg.ShippingFee, err)
		}
		policy.Fee = fee
	}

	return policy, nil
}

// health reports liveness plus the state of each backing service
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]interface{}{
		"status":      "ok",
		"order_sheet": s.sheets.State(),
	}

	if s.deps.Database != nil {
		dbHealth := s.deps.Database.Health()
		body["database"] = dbHealth
		if dbHealth["status"] != "up" {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}

	if s.deps.Redis != nil {
		ctx, cancel := context.WithTimeout(r.Context(), time.Second)
		defer cancel()
		if err := s.deps.Redis.Ping(ctx).Err(); err != nil {
			body["redis"] = "down"
		} else {
			body["redis"] = "up"
		}
	}

	custommiddleware.RespondWithJSON(w, status, body)
}

func (s *Server) Close() error {
	s.logger.Info("Closing server resources")

	if err := s.deps.Publisher.Close(); err != nil {
		s.logger.Error("Failed to close event publisher", zap.Error(err))
	}

	if s.deps.Redis != nil {
		if err := s.deps.Redis.Close(); err != nil {
			s.logger.Error("Failed to close redis connection", zap.Error(err))
		}
	}

	if s.deps.Database != nil {
		if err := s.deps.Database.Close(); err != nil {
			s.logger.Error("Failed to close database connection", zap.Error(err))
		}
	}

	s.logger.Sync()
	return nil
}
