package httpx

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mlehotskylf-org/securegate/internal/config"
	"github.com/mlehotskylf-org/securegate/internal/csp"
	"github.com/mlehotskylf-org/securegate/internal/proxy"
	"github.com/mlehotskylf-org/securegate/internal/security"
)

// Context key for storing config in request context
type contextKey string

const (
	ConfigContextKey contextKey = "config"
	loggerContextKey contextKey = "logger"
)

var errConfigUnavailable = errors.New("configuration not available")

// Dependencies are the components the router serves. NewDependencies
// builds the production set; tests substitute individual fields.
type Dependencies struct {
	Logger   *zap.Logger
	Registry *csp.HashRegistry
	Policies *csp.PolicyBuilder
	Nonces   *csp.NonceGenerator
	Ingester *csp.Ingester
	Images   ImageService
	Probe    UpstreamProbe
	Metrics  *Metrics
	Now      func() time.Time
}

// NewDependencies wires the gateway from a validated config. A nil
// resolver uses the system resolver.
func NewDependencies(cfg config.Config, logger *zap.Logger, resolver security.Resolver) (Dependencies, error) {
	registry, err := csp.LoadDefaultRegistry()
	if err != nil {
		return Dependencies{}, err
	}

	policies, err := csp.NewPolicyBuilder(csp.PolicyBuilderOptions{
		Registry:   registry,
		Origins:    cfg.CSPOrigins,
		ReportURI:  cfg.CSPReportURI,
		ReportOnly: cfg.CSPReportOnly,
	})
	if err != nil {
		return Dependencies{}, err
	}

	ingester, err := csp.NewIngester(csp.IngesterOptions{
		Registry:        registry,
		ExpectedOrigins: cfg.ExpectedOrigins(),
		Sink:            csp.NewLogSink(logger),
		MaxReports:      csp.DefaultMaxReports,
	})
	if err != nil {
		return Dependencies{}, err
	}

	base, err := cfg.UpstreamBase()
	if err != nil {
		return Dependencies{}, err
	}
	policy, err := cfg.FetchPolicy()
	if err != nil {
		return Dependencies{}, err
	}

	fetcher := security.NewFetcher(security.FetcherOptions{
		Resolver:         resolver,
		LocalDevelopment: !cfg.IsProduction(),
		Logger:           logger,
	})
	// Deep health checks run often; their blocks are reported in the
	// response, not logged as warnings.
	probeFetcher := security.NewFetcher(security.FetcherOptions{
		Resolver:         resolver,
		LocalDevelopment: !cfg.IsProduction(),
		Logger:           logger.Named("healthz").WithOptions(zap.IncreaseLevel(zapcore.ErrorLevel)),
	})
	images, err := proxy.New(proxy.Options{
		Fetcher: fetcher,
		Base:    base,
		Policy:  policy,
		Logger:  logger,
	})
	if err != nil {
		return Dependencies{}, err
	}

	return Dependencies{
		Logger:   logger,
		Registry: registry,
		Policies: policies,
		Nonces:   csp.NewNonceGenerator(),
		Ingester: ingester,
		Images:   images,
		Probe:    NewUpstreamProbe(probeFetcher, base, policy),
		Metrics:  NewMetrics(),
		Now:      time.Now,
	}, nil
}

// NewRouter creates and configures a new HTTP router with the given config
func NewRouter(cfg config.Config, deps Dependencies) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = NewMetrics()
	}
	nonces := deps.Nonces
	if nonces == nil {
		nonces = csp.NewNonceGenerator()
	}

	r := chi.NewRouter()

	// Add middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog(logger))
	r.Use(middleware.Recoverer)

	// Add config to request context
	r.Use(configMiddleware(cfg))

	// Add HSTS header if enabled
	if cfg.EnableHSTS {
		r.Use(hstsMiddleware)
	}

	// HTML responses carry the page policy; JSON and image routes do not.
	pageCSP := WithCSP(deps.Policies, nonces, cfg.Profile)
	r.NotFound(pageCSP(http.HandlerFunc(notFoundHandler)).ServeHTTP)
	r.MethodNotAllowed(pageCSP(http.HandlerFunc(methodNotAllowedHandler)).ServeHTTP)

	// Routes
	r.Get(RouteHealth, healthzHandler(deps.Registry, deps.Probe))

	reportRoute := ReportRoute(cfg)
	r.Post(reportRoute, reportHandler(deps.Ingester, metrics))
	r.Options(reportRoute, reportPreflightHandler)

	r.Get(RouteImages, imageHandler(deps.Images, metrics, now))

	// Metrics endpoint (only in non-prod environments)
	if !cfg.IsProduction() {
		r.Get(RouteMetrics, metricsHandler(metrics))
	}

	return r
}

// ReportRoute is the local path the report endpoint is mounted on. An
// absolute report URI points elsewhere, so the default path is used.
func ReportRoute(cfg config.Config) string {
	if strings.HasPrefix(cfg.CSPReportURI, "/") {
		return cfg.CSPReportURI
	}
	return DefaultReportRoute
}

// configMiddleware adds the config to the request context
func configMiddleware(cfg config.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), ConfigContextKey, cfg)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// hstsMiddleware adds the Strict-Transport-Security header
func hstsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(HeaderStrictTransport, "max-age=31536000; includeSubDomains")
		next.ServeHTTP(w, r)
	})
}

// accessLog writes one structured entry per request and stores a
// request-scoped logger in the context. Query strings are not logged.
func accessLog(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqLogger := logger.With(zap.String("request_id", middleware.GetReqID(r.Context())))
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			ctx := context.WithValue(r.Context(), loggerContextKey, reqLogger)
			defer func() {
				reqLogger.Info("request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.String("remote_addr", r.RemoteAddr),
					zap.Duration("duration", time.Since(start)),
				)
			}()

			next.ServeHTTP(ww, r.WithContext(ctx))
		})
	}
}

// GetConfigFromContext retrieves the config from the request context
func GetConfigFromContext(ctx context.Context) (config.Config, bool) {
	cfg, ok := ctx.Value(ConfigContextKey).(config.Config)
	return cfg, ok
}

// LoggerFromContext returns the request-scoped logger, or a no-op logger
// outside the router.
func LoggerFromContext(ctx context.Context) *zap.Logger {
	if l, ok := ctx.Value(loggerContextKey).(*zap.Logger); ok {
		return l
	}
	return zap.NewNop()
}
