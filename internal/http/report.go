package httpx

import (
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/mlehotskylf-org/securegate/internal/csp"
)

// ReportStatus is the body returned for every accepted report request.
type ReportStatus struct {
	Status string `json:"status"`
}

// reportHandler accepts legacy and Reporting API violation reports. Any
// parseable body is acknowledged with 200, even when every item in it was
// dropped; only an unparseable body gets 400.
func reportHandler(in *csp.Ingester, m *Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		setReportCORS(w)

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxReportBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				BadRequest(w, r, ErrCodeInvalidReport, "report body exceeds limit")
				return
			}
			BadRequest(w, r, ErrCodeInvalidReport, "failed to read report body")
			return
		}

		res, err := in.Ingest(r.Context(), body, r.Header.Get(HeaderContentType))
		if err != nil {
			BadRequest(w, r, ErrCodeInvalidReport, err.Error())
			return
		}
		m.ObserveIngest(res)

		if res.Discarded > 0 {
			logger := LoggerFromContext(r.Context())
			logger.Info("violation reports discarded",
				zap.String("format", string(res.Format)),
				zap.Int("accepted", len(res.Reports)),
				zap.Int("discarded", res.Discarded),
			)
			for _, e := range res.Errors {
				logger.Debug("malformed violation report", zap.Error(e))
			}
		}

		writeJSON(w, r, http.StatusOK, ReportStatus{Status: "received"})
	}
}

// reportPreflightHandler answers CORS preflight for the report endpoint only.
func reportPreflightHandler(w http.ResponseWriter, r *http.Request) {
	setReportCORS(w)
	w.Header().Set(HeaderAccessControlMaxAge, "86400")
	w.WriteHeader(http.StatusNoContent)
}

func setReportCORS(w http.ResponseWriter) {
	h := w.Header()
	h.Set(HeaderAllowOrigin, "*")
	h.Set(HeaderAllowMethods, "POST, OPTIONS")
	h.Set(HeaderAllowHeaders, "Content-Type")
}
