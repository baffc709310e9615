// Package httpx provides the HTTP surface of the gateway: routing, the CSP
// middleware, the violation report endpoint and the image proxy endpoint.
package httpx

// HTTP Routes
const (
	// RouteHealth is the endpoint for liveness and deep health checks
	RouteHealth = "/healthz"
	// RouteImages is the image proxy endpoint
	RouteImages = "/api/images"
	// RouteMetrics exposes Prometheus metrics outside production
	RouteMetrics = "/metrics"
	// DefaultReportRoute is used when no report URI path is configured
	DefaultReportRoute = "/csp-report"
)

// Content Types
const (
	// ContentTypeJSON is the MIME type for JSON responses with UTF-8 charset
	ContentTypeJSON = "application/json; charset=utf-8"
	// ContentTypeHTML is the MIME type for HTML responses
	ContentTypeHTML = "text/html; charset=utf-8"
)

// HTTP Headers
const (
	HeaderContentType         = "Content-Type"
	HeaderAuthorization       = "Authorization"
	HeaderCacheControl        = "Cache-Control"
	HeaderContentDisposition  = "Content-Disposition"
	HeaderContentTypeOptions  = "X-Content-Type-Options"
	HeaderReportingEndpoints  = "Reporting-Endpoints"
	HeaderContentSecurity     = "Content-Security-Policy"
	HeaderStrictTransport     = "Strict-Transport-Security"
	HeaderAllowOrigin         = "Access-Control-Allow-Origin"
	HeaderAllowMethods        = "Access-Control-Allow-Methods"
	HeaderAllowHeaders        = "Access-Control-Allow-Headers"
	HeaderAccessControlMaxAge = "Access-Control-Max-Age"
)

// Proxied image response policy
const (
	// ImageCacheControl lets browsers and shared caches keep images for a day
	ImageCacheControl = "public, max-age=86400"
	// ImageSandboxPolicy neutralises anything that slips past the type checks
	ImageSandboxPolicy = "default-src 'none'; sandbox"
)

// Report endpoint limits
const (
	// MaxReportBodyBytes caps a single violation report request body
	MaxReportBodyBytes = 64 << 10
)

// Error Messages (for user-facing errors)
const (
	ErrorTitleNotFound         = "Page not found"
	ErrorMsgNotFound           = "The page you were looking for does not exist."
	ErrorTitleMethodNotAllowed = "Method not allowed"
	ErrorMsgMethodNotAllowed   = "This address does not accept that kind of request."
	ErrorTitleServer           = "Something went wrong"
	ErrorMsgServer             = "The request could not be completed. Please try again later."
)
