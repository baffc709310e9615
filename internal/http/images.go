package httpx

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mlehotskylf-org/securegate/internal/config"
	"github.com/mlehotskylf-org/securegate/internal/csp"
	"github.com/mlehotskylf-org/securegate/internal/proxy"
	"github.com/mlehotskylf-org/securegate/internal/security"
)

// ImageService resolves a validated path to an upstream image.
type ImageService interface {
	Handle(ctx context.Context, token, rawPath string) (*proxy.Image, error)
}

// imageHandler serves GET /api/images?path=... through the image proxy.
// Path validation runs before the session is required, so a bad path is
// always a 400 whether or not the caller is signed in.
func imageHandler(images ImageService, m *Metrics, now func() time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rawPath := r.URL.Query().Get("path")
		if rawPath == "" {
			m.ObserveProxy(OutcomeInvalidPath, 0)
			BadRequest(w, r, ErrCodeInvalidPath, "missing path parameter")
			return
		}

		cfg, ok := GetConfigFromContext(r.Context())
		if !ok {
			m.ObserveProxy(OutcomeError, 0)
			ServerError(w, r, errConfigUnavailable)
			return
		}

		token, reason := bearerToken(r, cfg, now())
		if token == "" {
			LoggerFromContext(r.Context()).Debug("no session token", zap.String("reason", reason))
		}

		start := now()
		img, err := images.Handle(r.Context(), token, rawPath)
		if err != nil {
			writeImageError(w, r, m, err, now().Sub(start))
			return
		}
		defer img.Body.Close()
		m.ObserveProxy(OutcomeOK, now().Sub(start))

		h := w.Header()
		h.Del(csp.HeaderReportOnly)
		h.Set(HeaderContentType, img.ContentType)
		h.Set(HeaderContentTypeOptions, "nosniff")
		h.Set(HeaderContentSecurity, ImageSandboxPolicy)
		h.Set(HeaderCacheControl, ImageCacheControl)
		if img.Attachment {
			h.Set(HeaderContentDisposition, "attachment")
		}
		w.WriteHeader(http.StatusOK)

		if _, err := io.Copy(w, img.Body); err != nil {
			// Headers are already sent; the client sees a truncated body.
			LoggerFromContext(r.Context()).Warn("image stream aborted", zap.Error(err))
		}
	}
}

// writeImageError maps proxy failures to fixed responses. Blocked targets
// all look the same to the caller; the reason is logged by the fetcher.
func writeImageError(w http.ResponseWriter, r *http.Request, m *Metrics, err error, elapsed time.Duration) {
	var (
		rejected *security.PathRejectedError
		blocked  *security.ProtectionBlockedError
		upstream *security.UpstreamError
	)

	switch {
	case errors.As(err, &rejected):
		m.ObserveProxy(OutcomeInvalidPath, 0)
		writeJSONError(w, r, http.StatusBadRequest, ErrCodeInvalidPath)
	case errors.Is(err, proxy.ErrMissingToken):
		m.ObserveProxy(OutcomeUnauthorized, 0)
		Unauthorized(w, r, "missing or invalid session")
	case errors.As(err, &blocked):
		m.ObserveProxy(OutcomeBlocked, 0)
		Forbidden(w, r)
	case errors.As(err, &upstream) && upstream.Kind == security.UpstreamStatus &&
		(upstream.StatusCode == http.StatusNotFound || upstream.StatusCode == http.StatusGone):
		m.ObserveProxy(OutcomeNotFound, elapsed)
		NotFound(w, r)
	default:
		m.ObserveProxy(OutcomeError, elapsed)
		ServerError(w, r, err)
	}
}

// bearerToken returns the caller's upstream token from the Authorization
// header or, failing that, the signed session cookie. The second value is
// a log-only reason when no token was found.
func bearerToken(r *http.Request, cfg config.Config, now time.Time) (string, string) {
	if auth := r.Header.Get(HeaderAuthorization); auth != "" {
		scheme, token, found := strings.Cut(auth, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			return "", "malformed authorization header"
		}
		return strings.TrimSpace(token), ""
	}

	if len(cfg.SessionSigningKey) == 0 {
		return "", "session cookies disabled"
	}
	token, err := security.ReadSessionToken(r, cfg.SessionSigningKey, cfg.SecondarySessionSigningKey, now, cfg.SessionSkew)
	if err != nil {
		return "", err.Error()
	}
	return token, ""
}
