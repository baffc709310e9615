package csp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"mime"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/gobwas/glob"
	"github.com/google/uuid"

	"github.com/mlehotskylf-org/securegate/internal/security"
)

// Report media types.
const (
	MediaTypeLegacy = "application/csp-report"
	MediaTypeModern = "application/reports+json"
	MediaTypeJSON   = "application/json"
)

// DefaultMaxReports caps how many reports a single request may carry.
const DefaultMaxReports = 100

// maxFieldLen bounds every string copied from a report into a log record.
const maxFieldLen = 2048

// ErrUnparseable means the body is not a report in either wire shape.
var ErrUnparseable = errors.New("report body is not parseable")

// ReportFormat is the discriminant of the two accepted wire shapes.
type ReportFormat string

const (
	FormatLegacy ReportFormat = "legacy"
	FormatModern ReportFormat = "modern"
)

// Disposition says whether the violated policy was enforced or report-only.
type Disposition string

const (
	DispositionEnforce Disposition = "enforce"
	DispositionReport  Disposition = "report"
)

// Advisory flags attached to a report. They never change response behavior.
const (
	FlagInlineInjection  = "inline-injection"
	FlagEval             = "eval"
	FlagUnexpectedOrigin = "unexpected-origin"
	FlagKnownInline      = "known-inline-content"
)

// ViolationReport is the normalized form of either wire shape.
type ViolationReport struct {
	ID                 string       `json:"id"`
	Format             ReportFormat `json:"format"`
	DocumentURI        string       `json:"document_uri"`
	ViolatedDirective  string       `json:"violated_directive"`
	EffectiveDirective string       `json:"effective_directive"`
	BlockedURI         string       `json:"blocked_uri"`
	SourceFile         string       `json:"source_file,omitempty"`
	Line               int          `json:"line,omitempty"`
	Column             int          `json:"column,omitempty"`
	Disposition        Disposition  `json:"disposition"`
	SampleDigest       string       `json:"sample_digest,omitempty"`
	Flags              []string     `json:"flags,omitempty"`
}

// HasFlag reports whether flag was attached during analysis.
func (r ViolationReport) HasFlag(flag string) bool {
	for _, f := range r.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// ReportMalformedError describes one report that was dropped from a batch.
type ReportMalformedError struct {
	Index  int
	Format ReportFormat
	Reason string
}

func (e *ReportMalformedError) Error() string {
	return fmt.Sprintf("%s report %d malformed: %s", e.Format, e.Index, e.Reason)
}

// IngestResult is the outcome of one ingest call.
type IngestResult struct {
	Format    ReportFormat
	Reports   []ViolationReport
	Discarded int
	Errors    []*ReportMalformedError
}

// Sink receives normalized reports.
type Sink interface {
	Record(ctx context.Context, report ViolationReport)
}

// IngesterOptions configures an Ingester.
type IngesterOptions struct {
	// Registry is consulted to recognise samples of known inline content.
	Registry *HashRegistry
	// ExpectedOrigins are glob patterns (e.g. "https://*.example.com")
	// for third-party origins the pages are expected to load from.
	ExpectedOrigins []string
	Sink            Sink
	MaxReports      int
	// NewID overrides record id generation.
	NewID func() string
}

// Ingester parses, normalizes, annotates, and forwards violation reports.
type Ingester struct {
	registry   *HashRegistry
	expected   []glob.Glob
	sink       Sink
	maxReports int
	newID      func() string
}

// NewIngester compiles the expected-origin patterns and returns an Ingester.
func NewIngester(opts IngesterOptions) (*Ingester, error) {
	in := &Ingester{
		registry:   opts.Registry,
		sink:       opts.Sink,
		maxReports: opts.MaxReports,
		newID:      opts.NewID,
	}
	if in.maxReports <= 0 {
		in.maxReports = DefaultMaxReports
	}
	if in.newID == nil {
		in.newID = func() string { return uuid.NewString() }
	}

	for _, pattern := range opts.ExpectedOrigins {
		pattern = strings.ToLower(strings.TrimSpace(pattern))
		if pattern == "" {
			continue
		}
		g, err := glob.Compile(pattern, '.')
		if err != nil {
			return nil, fmt.Errorf("invalid expected origin pattern %q: %w", pattern, err)
		}
		in.expected = append(in.expected, g)
	}

	return in, nil
}

// Ingest decodes rawBody, forwards every valid report to the sink, and
// returns what was accepted and what was dropped. The only error is
// ErrUnparseable; bad items inside a parseable batch are skipped.
func (in *Ingester) Ingest(ctx context.Context, rawBody []byte, contentType string) (*IngestResult, error) {
	res, err := in.Parse(rawBody, contentType)
	if err != nil {
		return nil, err
	}
	if in.sink != nil {
		for _, r := range res.Reports {
			in.sink.Record(ctx, r)
		}
	}
	return res, nil
}

// Parse is Ingest without forwarding to the sink.
func (in *Ingester) Parse(rawBody []byte, contentType string) (*IngestResult, error) {
	format, err := detectFormat(rawBody, contentType)
	if err != nil {
		return nil, err
	}

	var items []decoded
	switch format {
	case FormatLegacy:
		items, err = decodeLegacy(rawBody)
	default:
		items, err = decodeModern(rawBody)
	}
	if err != nil {
		return nil, err
	}

	res := &IngestResult{Format: format}
	for i, item := range items {
		if i >= in.maxReports {
			res.Discarded += len(items) - i
			break
		}
		if item.err != nil {
			res.Discarded++
			res.Errors = append(res.Errors, item.err)
			continue
		}
		report, err := in.normalize(item.env)
		if err != nil {
			res.Discarded++
			res.Errors = append(res.Errors, &ReportMalformedError{Index: i, Format: format, Reason: err.Error()})
			continue
		}
		res.Reports = append(res.Reports, report)
	}
	return res, nil
}

// envelope is the tagged union of the two wire shapes; exactly one of
// legacy or modern is set, matching kind.
type envelope struct {
	kind   ReportFormat
	legacy *legacyBody
	modern *modernBody
}

type decoded struct {
	env envelope
	err *ReportMalformedError
}

type legacyBody struct {
	DocumentURI        string  `json:"document-uri"`
	Referrer           string  `json:"referrer"`
	BlockedURI         string  `json:"blocked-uri"`
	ViolatedDirective  string  `json:"violated-directive"`
	EffectiveDirective string  `json:"effective-directive"`
	OriginalPolicy     string  `json:"original-policy"`
	Disposition        string  `json:"disposition"`
	SourceFile         string  `json:"source-file"`
	LineNumber         flexInt `json:"line-number"`
	ColumnNumber       flexInt `json:"column-number"`
	StatusCode         flexInt `json:"status-code"`
	ScriptSample       string  `json:"script-sample"`
}

type modernReport struct {
	Type      string          `json:"type"`
	Age       flexInt         `json:"age"`
	URL       string          `json:"url"`
	UserAgent string          `json:"user_agent"`
	Body      json.RawMessage `json:"body"`
}

type modernBody struct {
	DocumentURL        string  `json:"documentURL"`
	Referrer           string  `json:"referrer"`
	BlockedURL         string  `json:"blockedURL"`
	EffectiveDirective string  `json:"effectiveDirective"`
	OriginalPolicy     string  `json:"originalPolicy"`
	SourceFile         string  `json:"sourceFile"`
	Sample             string  `json:"sample"`
	Disposition        string  `json:"disposition"`
	StatusCode         flexInt `json:"statusCode"`
	LineNumber         flexInt `json:"lineNumber"`
	ColumnNumber       flexInt `json:"columnNumber"`
}

// flexInt accepts a JSON number or a numeric string. Values that are not
// finite or fall outside [0, MaxInt32] decode as 0 (unknown).
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == `""` {
		*f = 0
		return nil
	}
	s = strings.Trim(s, `"`)
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("not a number: %q", s)
	}
	if math.IsNaN(n) || math.IsInf(n, 0) || n < 0 || n > math.MaxInt32 {
		n = 0
	}
	*f = flexInt(n)
	return nil
}

func detectFormat(raw []byte, contentType string) (ReportFormat, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return "", ErrUnparseable
	}

	switch trimmed[0] {
	case '[':
		return FormatModern, nil
	case '{':
	default:
		return "", ErrUnparseable
	}

	// A csp-report key is legacy whatever the media type claims.
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		return "", ErrUnparseable
	}
	if _, ok := probe["csp-report"]; ok {
		return FormatLegacy, nil
	}

	mediaType, _, err := mime.ParseMediaType(contentType)
	if err == nil && (mediaType == MediaTypeLegacy || mediaType == MediaTypeLegacy+"+json") {
		return FormatLegacy, nil
	}
	return FormatModern, nil
}

func decodeLegacy(raw []byte) ([]decoded, error) {
	var outer map[string]json.RawMessage
	if err := json.Unmarshal(raw, &outer); err != nil || outer == nil {
		return nil, ErrUnparseable
	}

	inner, ok := outer["csp-report"]
	if !ok {
		return []decoded{{err: &ReportMalformedError{Index: 0, Format: FormatLegacy, Reason: "missing csp-report key"}}}, nil
	}

	var body legacyBody
	if err := json.Unmarshal(inner, &body); err != nil {
		return []decoded{{err: &ReportMalformedError{Index: 0, Format: FormatLegacy, Reason: err.Error()}}}, nil
	}
	return []decoded{{env: envelope{kind: FormatLegacy, legacy: &body}}}, nil
}

func decodeModern(raw []byte) ([]decoded, error) {
	var items []json.RawMessage
	trimmed := bytes.TrimSpace(raw)
	if !json.Valid(trimmed) {
		return nil, ErrUnparseable
	}
	if trimmed[0] == '{' {
		items = []json.RawMessage{trimmed}
	} else if err := json.Unmarshal(trimmed, &items); err != nil || items == nil {
		return nil, ErrUnparseable
	}

	out := make([]decoded, 0, len(items))
	for i, item := range items {
		out = append(out, decodeModernItem(i, item))
	}
	return out, nil
}

func decodeModernItem(i int, item json.RawMessage) decoded {
	malformed := func(reason string) decoded {
		return decoded{err: &ReportMalformedError{Index: i, Format: FormatModern, Reason: reason}}
	}

	var r modernReport
	if err := json.Unmarshal(item, &r); err != nil {
		return malformed(err.Error())
	}
	if r.Type != "csp-violation" {
		return malformed(fmt.Sprintf("unsupported report type %q", r.Type))
	}
	if len(r.Body) == 0 {
		return malformed("missing body")
	}

	var body modernBody
	if err := json.Unmarshal(r.Body, &body); err != nil {
		return malformed(err.Error())
	}
	if body.DocumentURL == "" {
		body.DocumentURL = r.URL
	}
	return decoded{env: envelope{kind: FormatModern, modern: &body}}
}

// normalize maps either variant onto ViolationReport and runs analysis.
func (in *Ingester) normalize(env envelope) (ViolationReport, error) {
	var (
		r      ViolationReport
		sample string
		disp   string
	)

	switch env.kind {
	case FormatLegacy:
		b := env.legacy
		r = ViolationReport{
			DocumentURI:        b.DocumentURI,
			ViolatedDirective:  b.ViolatedDirective,
			EffectiveDirective: b.EffectiveDirective,
			BlockedURI:         b.BlockedURI,
			SourceFile:         b.SourceFile,
			Line:               int(b.LineNumber),
			Column:             int(b.ColumnNumber),
		}
		sample, disp = b.ScriptSample, b.Disposition
	case FormatModern:
		b := env.modern
		r = ViolationReport{
			DocumentURI:        b.DocumentURL,
			ViolatedDirective:  b.EffectiveDirective,
			EffectiveDirective: b.EffectiveDirective,
			BlockedURI:         b.BlockedURL,
			SourceFile:         b.SourceFile,
			Line:               int(b.LineNumber),
			Column:             int(b.ColumnNumber),
		}
		sample, disp = b.Sample, b.Disposition
	default:
		return ViolationReport{}, fmt.Errorf("unknown report format %q", env.kind)
	}
	r.Format = env.kind

	if strings.TrimSpace(r.DocumentURI) == "" {
		return ViolationReport{}, errors.New("missing document uri")
	}
	if r.EffectiveDirective == "" {
		r.EffectiveDirective = firstToken(r.ViolatedDirective)
	}
	if r.ViolatedDirective == "" {
		r.ViolatedDirective = r.EffectiveDirective
	}
	if r.EffectiveDirective == "" {
		return ViolationReport{}, errors.New("missing directive")
	}

	switch strings.ToLower(disp) {
	case "", string(DispositionEnforce):
		r.Disposition = DispositionEnforce
	case string(DispositionReport):
		r.Disposition = DispositionReport
	default:
		return ViolationReport{}, fmt.Errorf("unknown disposition %q", disp)
	}

	documentURI := r.DocumentURI
	r.ID = in.newID()
	r.DocumentURI = truncate(security.RedactURI(r.DocumentURI))
	r.BlockedURI = truncate(security.RedactURI(r.BlockedURI))
	r.SourceFile = truncate(security.RedactURI(r.SourceFile))
	r.ViolatedDirective = truncate(r.ViolatedDirective)
	r.EffectiveDirective = truncate(strings.ToLower(r.EffectiveDirective))

	r.Flags = in.analyze(r, documentURI)

	if sample = NormalizeContent(sample); sample != "" && in.registry != nil {
		r.SampleDigest = in.registry.ComputeDigest(sample)
		if _, ok := in.registry.Lookup(sample); ok {
			r.Flags = append(r.Flags, FlagKnownInline)
		}
	}
	return r, nil
}

// analyze attaches advisory flags. documentURI is the unredacted value, used
// only to recognise same-origin blocked URIs.
func (in *Ingester) analyze(r ViolationReport, documentURI string) []string {
	var flags []string
	base := baseDirective(r.EffectiveDirective)
	blocked := strings.ToLower(strings.TrimSpace(r.BlockedURI))

	switch blocked {
	case "inline":
		if base == ScriptSrc || base == StyleSrc {
			flags = append(flags, FlagInlineInjection)
		}
	case "eval":
		flags = append(flags, FlagEval)
	default:
		if in.isUnexpectedOrigin(blocked, documentURI) {
			flags = append(flags, FlagUnexpectedOrigin)
		}
	}
	return flags
}

func (in *Ingester) isUnexpectedOrigin(blocked, documentURI string) bool {
	u, err := url.Parse(blocked)
	if err != nil || u.Host == "" {
		return false
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return false
	}

	host := strings.ToLower(u.Hostname())
	if doc, err := url.Parse(documentURI); err == nil && strings.EqualFold(doc.Hostname(), host) {
		return false
	}

	origin := u.Scheme + "://" + strings.ToLower(u.Host)
	for _, g := range in.expected {
		if g.Match(origin) || g.Match(host) {
			return false
		}
	}
	return true
}

// baseDirective folds -elem/-attr variants onto their parent directive.
func baseDirective(d string) string {
	d = strings.ToLower(firstToken(d))
	d = strings.TrimSuffix(d, "-elem")
	d = strings.TrimSuffix(d, "-attr")
	return d
}

func firstToken(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func truncate(s string) string {
	if len(s) <= maxFieldLen {
		return s
	}
	cut := maxFieldLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
