// Package proxy serves authenticated upstream images through the guarded
// fetcher. Paths are validated before any network activity and the response
// type is re-asserted so the gateway never relays active content.
package proxy

import (
	"bufio"
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/mlehotskylf-org/securegate/internal/security"
)

const sniffLen = 512

// ErrMissingToken means the caller has no bearer token to forward.
var ErrMissingToken = errors.New("missing bearer token")

// imageTypes are the media types relayed inline. SVG is excluded because it
// can carry script.
var imageTypes = map[string]struct{}{
	"image/png":                {},
	"image/jpeg":               {},
	"image/gif":                {},
	"image/webp":               {},
	"image/avif":               {},
	"image/bmp":                {},
	"image/x-icon":             {},
	"image/vnd.microsoft.icon": {},
}

// Fetcher is the outbound client the proxy delegates to.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, header http.Header, policy security.FetchPolicy) (*http.Response, error)
}

type Options struct {
	Fetcher Fetcher
	Base    security.UpstreamBase
	Policy  security.FetchPolicy
	Logger  *zap.Logger
}

// ImageProxy composes upstream URLs from a fixed base and validated paths.
type ImageProxy struct {
	fetcher Fetcher
	base    security.UpstreamBase
	policy  security.FetchPolicy
	logger  *zap.Logger
}

// Image is a relayed upstream body. Callers must close Body.
type Image struct {
	ContentType string
	// Attachment is set when the upstream type is not a safe image type;
	// the body is then served as an octet-stream download.
	Attachment    bool
	ContentLength int64
	Body          io.ReadCloser
}

func New(opts Options) (*ImageProxy, error) {
	if opts.Fetcher == nil {
		return nil, errors.New("proxy: fetcher is required")
	}
	if opts.Base.String() == "" {
		return nil, errors.New("proxy: upstream base is required")
	}
	if opts.Policy.AllowedDomains == nil {
		return nil, errors.New("proxy: allowed domains are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ImageProxy{
		fetcher: opts.Fetcher,
		base:    opts.Base,
		policy:  opts.Policy,
		logger:  logger.Named("proxy"),
	}, nil
}

// Handle validates rawPath, fetches it with the caller's token and returns
// the re-typed body. Errors are *security.PathRejectedError,
// ErrMissingToken, *security.ProtectionBlockedError or
// *security.UpstreamError.
func (p *ImageProxy) Handle(ctx context.Context, token, rawPath string) (*Image, error) {
	decision := security.ValidatePath(rawPath)
	if !decision.Valid {
		p.logger.Info("image path rejected", zap.String("reason", string(decision.Reason)))
		return nil, decision.Err()
	}
	if token == "" {
		return nil, ErrMissingToken
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	header.Set("Accept", "image/*")

	resp, err := p.fetcher.Fetch(ctx, p.base.Resolve(decision.SanitizedPath), header, p.policy)
	if err != nil {
		p.logFailure(decision.SanitizedPath, err)
		return nil, err
	}

	br := bufio.NewReaderSize(resp.Body, sniffLen)
	head, err := br.Peek(sniffLen)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		_ = resp.Body.Close()
		var upstream *security.UpstreamError
		if !errors.As(err, &upstream) {
			err = &security.UpstreamError{Kind: security.UpstreamTransport, Err: err}
		}
		p.logFailure(decision.SanitizedPath, err)
		return nil, err
	}

	contentType, safe := imageContentType(resp.Header.Get("Content-Type"), head)
	img := &Image{
		ContentType:   contentType,
		Attachment:    !safe,
		ContentLength: resp.ContentLength,
		Body:          readCloser{Reader: br, Closer: resp.Body},
	}
	if !safe {
		p.logger.Info("upstream type not relayed inline",
			zap.String("path", decision.SanitizedPath),
			zap.String("upstream_type", resp.Header.Get("Content-Type")),
		)
	}
	return img, nil
}

func (p *ImageProxy) logFailure(path string, err error) {
	var blocked *security.ProtectionBlockedError
	if errors.As(err, &blocked) {
		p.logger.Warn("image fetch blocked",
			zap.String("path", path),
			zap.String("reason", string(blocked.Reason)),
			zap.String("host", blocked.Host),
		)
		return
	}
	p.logger.Info("image fetch failed", zap.String("path", path), zap.Error(err))
}

// imageContentType picks the type to send. A declared allowlisted type wins
// unless the body sniffs as text; an absent or generic type falls back to
// sniffing. Anything else becomes an octet-stream attachment.
func imageContentType(declared string, head []byte) (string, bool) {
	sniffed := http.DetectContentType(head)
	if strings.HasPrefix(sniffed, "text/") {
		return "application/octet-stream", false
	}

	if mt, _, err := mime.ParseMediaType(declared); err == nil {
		mt = strings.ToLower(mt)
		if _, ok := imageTypes[mt]; ok {
			return mt, true
		}
		if mt != "application/octet-stream" && mt != "binary/octet-stream" {
			return "application/octet-stream", false
		}
	}

	if _, ok := imageTypes[sniffed]; ok {
		return sniffed, true
	}
	return "application/octet-stream", false
}

type readCloser struct {
	io.Reader
	io.Closer
}
