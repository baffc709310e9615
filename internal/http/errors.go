package httpx

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// ErrorResponse represents a JSON error response.
// Only contains an error field to avoid leaking internal details.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Error codes returned to clients. Internal reasons are logged, never sent.
const (
	ErrCodeInvalidPath      = "invalid_path"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeForbidden        = "forbidden"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeInvalidReport    = "invalid_report"
	ErrCodeServerError      = "server_error"
)

// noStore sets cache control headers to prevent response caching.
func noStore(w http.ResponseWriter) {
	w.Header().Set(HeaderCacheControl, "no-store, max-age=0")
	w.Header().Set("Pragma", "no-cache")
}

// writeJSON writes a JSON response with the proper content type and status code.
func writeJSON(w http.ResponseWriter, r *http.Request, statusCode int, v any) {
	w.Header().Set(HeaderContentType, ContentTypeJSON)
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		LoggerFromContext(r.Context()).Warn("failed to encode JSON response", zap.Error(err))
	}
}

// writeJSONError writes a fixed error code. Error responses are never cached.
func writeJSONError(w http.ResponseWriter, r *http.Request, statusCode int, errorCode string) {
	noStore(w)
	writeJSON(w, r, statusCode, ErrorResponse{Error: errorCode})
}

// BadRequest writes a 400 with errorCode. The reason is logged server-side
// but not exposed to the client.
func BadRequest(w http.ResponseWriter, r *http.Request, errorCode, reason string) {
	LoggerFromContext(r.Context()).Info("bad request",
		zap.String("path", r.URL.Path),
		zap.String("reason", reason),
	)
	writeJSONError(w, r, http.StatusBadRequest, errorCode)
}

// Unauthorized writes a 401 for requests without a usable session.
func Unauthorized(w http.ResponseWriter, r *http.Request, reason string) {
	LoggerFromContext(r.Context()).Info("unauthorized",
		zap.String("path", r.URL.Path),
		zap.String("reason", reason),
	)
	writeJSONError(w, r, http.StatusUnauthorized, ErrCodeUnauthorized)
}

// Forbidden writes a uniform 403. It never says which rule fired.
func Forbidden(w http.ResponseWriter, r *http.Request) {
	writeJSONError(w, r, http.StatusForbidden, ErrCodeForbidden)
}

// NotFound writes a 404 JSON response.
func NotFound(w http.ResponseWriter, r *http.Request) {
	writeJSONError(w, r, http.StatusNotFound, ErrCodeNotFound)
}

// ServerError writes a 500 Internal Server Error response.
// Should be used for unexpected errors that are not the client's fault.
func ServerError(w http.ResponseWriter, r *http.Request, err error) {
	LoggerFromContext(r.Context()).Error("server error",
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)
	writeJSONError(w, r, http.StatusInternalServerError, ErrCodeServerError)
}

// ErrView is the view model for the HTML error page.
type ErrView struct {
	Status    int
	Title     string
	Message   string
	HomeURL   string
	RequestID string
	// Nonce is filled from the request context by renderErrorHTML.
	Nonce string
}

// acceptsHTML checks if the request's Accept header indicates HTML is preferred.
// Returns true if "text/html" is present in the Accept header.
func acceptsHTML(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "text/html")
}
