package security

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultFetchTimeout bounds a single outbound request including redirects.
	DefaultFetchTimeout = 5 * time.Second
	// DefaultMaxResponseBytes caps proxied bodies at 10 MiB.
	DefaultMaxResponseBytes int64 = 10 << 20
)

// FetchPolicy is the per-call containment policy.
type FetchPolicy struct {
	// AllowedDomains must match the target host before any DNS lookup.
	AllowedDomains *HostAllowlist
	// AllowLocalhost permits loopback targets. It only takes effect on a
	// fetcher constructed for local development.
	AllowLocalhost bool
	Timeout        time.Duration
	// MaxRedirects is the number of hops followed; each hop is revalidated.
	MaxRedirects int
	// MaxBytes caps the response body; zero disables the cap.
	MaxBytes int64
}

// FetcherOptions configures NewFetcher.
type FetcherOptions struct {
	// Resolver defaults to net.DefaultResolver.
	Resolver Resolver
	// LocalDevelopment enables FetchPolicy.AllowLocalhost. Production
	// fetchers ignore the flag.
	LocalDevelopment bool
	Logger           *zap.Logger
}

// Fetcher performs outbound GETs that cannot leave the permitted boundary.
// Every connection re-resolves its host and dials a checked address, so a
// DNS answer that changes between validation and dial is still contained.
type Fetcher struct {
	resolver Resolver
	localDev bool
	logger   *zap.Logger

	strict   *http.Transport
	loopback *http.Transport
}

// NewFetcher builds a fetcher with its own transports.
func NewFetcher(opts FetcherOptions) *Fetcher {
	f := &Fetcher{
		resolver: opts.Resolver,
		localDev: opts.LocalDevelopment,
		logger:   opts.Logger,
	}
	if f.resolver == nil {
		f.resolver = net.DefaultResolver
	}
	if f.logger == nil {
		f.logger = zap.NewNop()
	}
	f.strict = f.newTransport(false)
	if f.localDev {
		f.loopback = f.newTransport(true)
	}
	return f
}

func (f *Fetcher) newTransport(allowLoopback bool) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		// Environment proxies would dial on our behalf and skip the checks.
		Proxy: nil,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, fmt.Errorf("invalid address %q: %w", addr, err)
			}
			ips, err := resolveHost(ctx, f.resolver, host)
			if err != nil {
				return nil, err
			}
			if err := checkAddresses(host, ips, allowLoopback); err != nil {
				return nil, err
			}
			return dialer.DialContext(ctx, network, net.JoinHostPort(ips[0].String(), port))
		},
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// Fetch issues a GET for rawURL under policy. The caller must close the
// returned body. Containment failures are *ProtectionBlockedError; all
// other failures are *UpstreamError.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, header http.Header, policy FetchPolicy) (*http.Response, error) {
	allowLoopback := policy.AllowLocalhost && f.localDev

	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, f.blocked(&ProtectionBlockedError{Reason: BlockSchemeDenied, Host: hostOf(u)})
	}
	if err := f.checkTarget(ctx, u, policy.AllowedDomains, allowLoopback); err != nil {
		return nil, f.classify(err)
	}

	timeout := policy.Timeout
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		cancel()
		return nil, &UpstreamError{Kind: UpstreamTransport, Err: err}
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	transport := f.strict
	if allowLoopback {
		transport = f.loopback
	}
	client := &http.Client{
		Transport: transport,
		CheckRedirect: func(next *http.Request, via []*http.Request) error {
			if len(via) > policy.MaxRedirects {
				return http.ErrUseLastResponse
			}
			return f.checkTarget(next.Context(), next.URL, policy.AllowedDomains, allowLoopback)
		},
	}

	resp, err := client.Do(req)
	if err != nil {
		cancel()
		return nil, f.classify(err)
	}

	switch {
	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		drainAndClose(resp.Body)
		cancel()
		return nil, f.blocked(&ProtectionBlockedError{Reason: BlockRedirectDenied, Host: u.Hostname()})
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		drainAndClose(resp.Body)
		cancel()
		return nil, &UpstreamError{Kind: UpstreamStatus, StatusCode: resp.StatusCode}
	}

	if policy.MaxBytes > 0 && resp.ContentLength > policy.MaxBytes {
		drainAndClose(resp.Body)
		cancel()
		return nil, &UpstreamError{Kind: UpstreamTooLarge, Err: fmt.Errorf("content length %d exceeds %d", resp.ContentLength, policy.MaxBytes)}
	}

	resp.Body = &guardedBody{body: resp.Body, cancel: cancel, remaining: policy.MaxBytes, capped: policy.MaxBytes > 0}
	return resp, nil
}

// checkTarget applies the scheme, allowlist, and address checks to one hop.
// Literal addresses and localhost names are classified before the allowlist
// so loopback targets report private-ip consistently.
func (f *Fetcher) checkTarget(ctx context.Context, u *url.URL, allow *HostAllowlist, allowLoopback bool) error {
	if u.Scheme != "http" && u.Scheme != "https" {
		return &ProtectionBlockedError{Reason: BlockSchemeDenied, Host: u.Hostname()}
	}
	host := u.Hostname()
	if host == "" {
		return &ProtectionBlockedError{Reason: BlockHostNotAllowlisted}
	}

	if ips, ok := literalIPs(host); ok {
		if err := checkAddresses(host, ips, allowLoopback); err != nil {
			return err
		}
		if allowLoopback && allLoopback(ips) {
			return nil
		}
	}

	if allow == nil || !allow.IsAllowed(host) {
		return &ProtectionBlockedError{Reason: BlockHostNotAllowlisted, Host: host}
	}

	ips, err := resolveHost(ctx, f.resolver, host)
	if err != nil {
		return &UpstreamError{Kind: UpstreamTransport, Err: err}
	}
	return checkAddresses(host, ips, allowLoopback)
}

func (f *Fetcher) classify(err error) error {
	var blocked *ProtectionBlockedError
	if errors.As(err, &blocked) {
		return f.blocked(blocked)
	}
	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		return upstream
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &UpstreamError{Kind: UpstreamTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &UpstreamError{Kind: UpstreamTimeout, Err: err}
	}
	return &UpstreamError{Kind: UpstreamTransport, Err: err}
}

func (f *Fetcher) blocked(err *ProtectionBlockedError) error {
	f.logger.Warn("outbound request blocked",
		zap.String("reason", string(err.Reason)),
		zap.String("host", err.Host),
	)
	return err
}

func hostOf(u *url.URL) string {
	if u == nil {
		return ""
	}
	return u.Hostname()
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 4<<10))
	_ = body.Close()
}

// guardedBody enforces the byte cap and releases the request context on Close.
type guardedBody struct {
	body      io.ReadCloser
	cancel    context.CancelFunc
	remaining int64
	capped    bool
}

// ErrResponseTooLarge is returned by a fetched body that exceeds MaxBytes.
var ErrResponseTooLarge = &UpstreamError{Kind: UpstreamTooLarge}

func (b *guardedBody) Read(p []byte) (int, error) {
	if !b.capped {
		return b.body.Read(p)
	}
	if b.remaining < 0 {
		return 0, ErrResponseTooLarge
	}
	// Allow one byte past the cap so overflow is detected.
	if int64(len(p)) > b.remaining+1 {
		p = p[:b.remaining+1]
	}
	n, err := b.body.Read(p)
	b.remaining -= int64(n)
	if b.remaining < 0 {
		return n + int(b.remaining), ErrResponseTooLarge
	}
	return n, err
}

func (b *guardedBody) Close() error {
	defer b.cancel()
	return b.body.Close()
}
