package httpx

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mlehotskylf-org/securegate/internal/csp"
	"github.com/mlehotskylf-org/securegate/internal/security"
)

// healthProbeTimeout bounds the upstream reachability probe.
const healthProbeTimeout = 3 * time.Second

// HealthStatus represents the overall health status of the service.
type HealthStatus struct {
	Status string            `json:"status"`           // "ok" or "degraded"
	Checks map[string]string `json:"checks,omitempty"` // Only included in deep health checks
}

// UpstreamProbe reports whether the image upstream can be reached.
type UpstreamProbe func(ctx context.Context) error

// healthzHandler handles basic health check requests.
// Returns 200 OK with {"status": "ok"} for basic liveness checks.
// Supports ?check=deep for config, hash registry and upstream checks.
func healthzHandler(registry *csp.HashRegistry, probe UpstreamProbe) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		noStore(w)
		if r.URL.Query().Get("check") == "deep" {
			deepHealthCheck(w, r, registry, probe)
			return
		}

		// Basic health check - just return OK
		writeJSON(w, r, http.StatusOK, HealthStatus{Status: "ok"})
	}
}

// deepHealthCheck returns 200 if all checks pass, 503 if any fails.
func deepHealthCheck(w http.ResponseWriter, r *http.Request, registry *csp.HashRegistry, probe UpstreamProbe) {
	logger := LoggerFromContext(r.Context())

	cfg, ok := GetConfigFromContext(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusServiceUnavailable, HealthStatus{
			Status: "degraded",
			Checks: map[string]string{
				"config": "unavailable",
			},
		})
		return
	}

	checks := make(map[string]string)
	allHealthy := true

	// Check 1: configuration still satisfies every startup constraint
	if err := cfg.Validate(); err != nil {
		checks["config"] = fmt.Sprintf("invalid: %v", err)
		allHealthy = false
		logger.Warn("health check failed", zap.String("check", "config"), zap.Error(err))
	} else {
		checks["config"] = "ok"
	}

	// Check 2: the hash registry loaded and covers the error page
	if registry == nil || registry.Len() == 0 {
		checks["hash_registry"] = "empty"
		allHealthy = false
		logger.Warn("health check failed", zap.String("check", "hash_registry"))
	} else {
		checks["hash_registry"] = fmt.Sprintf("ok (%d entries)", registry.Len())
	}

	// Check 3: the upstream answers through the guarded fetcher
	if probe == nil {
		checks["upstream"] = "not configured"
		allHealthy = false
	} else {
		ctx, cancel := context.WithTimeout(r.Context(), healthProbeTimeout)
		err := probe(ctx)
		cancel()
		if err != nil {
			checks["upstream"] = "unreachable"
			allHealthy = false
			logger.Warn("health check failed", zap.String("check", "upstream"), zap.Error(err))
		} else {
			checks["upstream"] = "ok"
		}
	}

	status := HealthStatus{
		Status: "ok",
		Checks: checks,
	}

	if !allHealthy {
		status.Status = "degraded"
		writeJSON(w, r, http.StatusServiceUnavailable, status)
		return
	}

	writeJSON(w, r, http.StatusOK, status)
}

// NewUpstreamProbe fetches the upstream base through the guarded fetcher.
// Any HTTP answer counts as reachable, including a redirect the fetcher
// refused to follow; other containment blocks, timeouts and transport
// failures do not.
func NewUpstreamProbe(fetcher *security.Fetcher, base security.UpstreamBase, policy security.FetchPolicy) UpstreamProbe {
	return func(ctx context.Context) error {
		resp, err := fetcher.Fetch(ctx, base.String()+"/", nil, policy)
		if err != nil {
			var (
				upstream *security.UpstreamError
				blocked  *security.ProtectionBlockedError
			)
			if errors.As(err, &upstream) && upstream.Kind == security.UpstreamStatus {
				return nil
			}
			if errors.As(err, &blocked) && blocked.Reason == security.BlockRedirectDenied {
				return nil
			}
			return err
		}
		return resp.Body.Close()
	}
}
