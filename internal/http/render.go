package httpx

import (
	"bytes"
	"html/template"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// renderErrorHTML renders the error page with the response's CSP nonce.
//
// Sets the following headers:
//   - Content-Type: text/html; charset=utf-8
//   - Cache-Control: no-store (prevents caching of error pages)
//
// The template is executed into a buffer first so a failure can still
// produce a plain response with the intended status.
func renderErrorHTML(w http.ResponseWriter, r *http.Request, status int, v ErrView) {
	v.Status = status
	if nonce, ok := NonceFromContext(r.Context()); ok {
		v.Nonce = nonce.String()
	}
	if v.RequestID == "" {
		v.RequestID = middleware.GetReqID(r.Context())
	}

	var buf bytes.Buffer
	if err := ErrorTmpl.Execute(&buf, v); err != nil {
		LoggerFromContext(r.Context()).Error("failed to execute error template", zap.Error(err))
		buf.Reset()
		buf.WriteString("<!DOCTYPE html><title>Error</title><h1>")
		buf.WriteString(template.HTMLEscapeString(v.Title))
		buf.WriteString("</h1>")
	}

	w.Header().Set(HeaderContentType, ContentTypeHTML)
	w.Header().Set(HeaderCacheControl, "no-store")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// notFoundHandler answers unknown routes with HTML for browsers and JSON
// for everything else.
func notFoundHandler(w http.ResponseWriter, r *http.Request) {
	if acceptsHTML(r) {
		renderErrorHTML(w, r, http.StatusNotFound, ErrView{
			Title:   ErrorTitleNotFound,
			Message: ErrorMsgNotFound,
			HomeURL: "/",
		})
		return
	}
	NotFound(w, r)
}

func methodNotAllowedHandler(w http.ResponseWriter, r *http.Request) {
	if acceptsHTML(r) {
		renderErrorHTML(w, r, http.StatusMethodNotAllowed, ErrView{
			Title:   ErrorTitleMethodNotAllowed,
			Message: ErrorMsgMethodNotAllowed,
			HomeURL: "/",
		})
		return
	}
	writeJSONError(w, r, http.StatusMethodNotAllowed, ErrCodeMethodNotAllowed)
}
