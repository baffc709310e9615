package httpx

import (
	"context"
	"net/http"

	"github.com/mlehotskylf-org/securegate/internal/csp"
)

type nonceContextKey struct{}

// NonceFromContext returns the nonce issued for the current response.
// Templates must use this value so the header and the markup agree.
func NonceFromContext(ctx context.Context) (csp.Nonce, bool) {
	n, ok := ctx.Value(nonceContextKey{}).(csp.Nonce)
	return n, ok
}

// WithCSP issues a fresh nonce per response, stores it in the request
// context and sets exactly one of Content-Security-Policy or
// Content-Security-Policy-Report-Only. When no nonce can be generated the
// request fails with 500 instead of being served under a weaker policy.
// The development policy carries no nonce, so header and markup only agree
// on it in production.
func WithCSP(builder *csp.PolicyBuilder, nonces *csp.NonceGenerator, profile csp.Profile) func(http.Handler) http.Handler {
	reportingEndpoints := builder.ReportingEndpoints()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			nonce, err := nonces.Generate()
			if err != nil {
				ServerError(w, r, err)
				return
			}

			policy := builder.Build(profile, nonce)
			h := w.Header()
			h.Del(csp.HeaderEnforce)
			h.Del(csp.HeaderReportOnly)
			h.Set(policy.HeaderName(), policy.Value)
			if reportingEndpoints != "" {
				h.Set(HeaderReportingEndpoints, reportingEndpoints)
			}

			ctx := context.WithValue(r.Context(), nonceContextKey{}, nonce)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
