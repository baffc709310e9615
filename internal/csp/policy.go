// Package csp builds Content-Security-Policy headers and ingests the
// violation reports browsers send back.
package csp

import (
	"fmt"
	"strings"
)

// Directive names.
const (
	DefaultSrc              = "default-src"
	ScriptSrc               = "script-src"
	StyleSrc                = "style-src"
	ImgSrc                  = "img-src"
	FontSrc                 = "font-src"
	ConnectSrc              = "connect-src"
	ObjectSrc               = "object-src"
	BaseURI                 = "base-uri"
	FormAction              = "form-action"
	FrameAncestors          = "frame-ancestors"
	UpgradeInsecureRequests = "upgrade-insecure-requests"
	ReportURI               = "report-uri"
	ReportTo                = "report-to"
)

// Source keywords.
const (
	SourceSelf          = "'self'"
	SourceNone          = "'none'"
	SourceUnsafeInline  = "'unsafe-inline'"
	SourceUnsafeEval    = "'unsafe-eval'"
	SourceStrictDynamic = "'strict-dynamic'"
	SourceData          = "data:"
	SourceWildcard      = "*"
)

// Response header names.
const (
	HeaderEnforce    = "Content-Security-Policy"
	HeaderReportOnly = "Content-Security-Policy-Report-Only"
)

// ReportGroup is the Reporting API group name used by report-to.
const ReportGroup = "csp-endpoint"

// Profile selects how permissive the policy is.
type Profile string

const (
	ProfileDevelopment Profile = "development"
	ProfileProduction  Profile = "production"
)

// ParseProfile accepts exactly "development" or "production".
func ParseProfile(s string) (Profile, error) {
	switch Profile(s) {
	case ProfileDevelopment, ProfileProduction:
		return Profile(s), nil
	}
	return "", fmt.Errorf("unknown profile %q (want %q or %q)", s, ProfileDevelopment, ProfileProduction)
}

// Origins lists explicit external origins allowed per fetch directive.
type Origins struct {
	Script  []string
	Style   []string
	Img     []string
	Font    []string
	Connect []string
}

// All returns every configured origin, deduplicated, in directive order.
func (o Origins) All() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range [][]string{o.Script, o.Style, o.Img, o.Font, o.Connect} {
		for _, origin := range list {
			if _, ok := seen[origin]; ok {
				continue
			}
			seen[origin] = struct{}{}
			out = append(out, origin)
		}
	}
	return out
}

// Policy is a rendered header value plus the header it belongs in.
type Policy struct {
	Value      string
	ReportOnly bool
}

// HeaderName returns the header the policy must be sent under.
func (p Policy) HeaderName() string {
	if p.ReportOnly {
		return HeaderReportOnly
	}
	return HeaderEnforce
}

// directive is one rendered rule with its ordered, deduplicated sources.
type directive struct {
	name    string
	sources []string
}

func (d *directive) add(sources ...string) {
	for _, s := range sources {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		dup := false
		for _, existing := range d.sources {
			if existing == s {
				dup = true
				break
			}
		}
		if !dup {
			d.sources = append(d.sources, s)
		}
	}
}

func (d directive) String() string {
	if len(d.sources) == 0 {
		return d.name
	}
	return d.name + " " + strings.Join(d.sources, " ")
}

// PolicyBuilderOptions configures a PolicyBuilder.
type PolicyBuilderOptions struct {
	Registry   *HashRegistry
	Origins    Origins
	ReportURI  string
	ReportOnly bool
}

// PolicyBuilder composes policies from a nonce, the hash registry, and a
// profile. Build has no side effects.
type PolicyBuilder struct {
	registry   *HashRegistry
	origins    Origins
	reportURI  string
	reportOnly bool
}

// NewPolicyBuilder validates the configured origins and returns a builder.
// Origins that would break production invariants are rejected here, once,
// instead of producing a weakened header on every request.
func NewPolicyBuilder(opts PolicyBuilderOptions) (*PolicyBuilder, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("hash registry is required")
	}
	for _, origin := range opts.Origins.All() {
		if err := validateOrigin(origin); err != nil {
			return nil, err
		}
	}

	b := &PolicyBuilder{
		registry:   opts.Registry,
		origins:    opts.Origins,
		reportURI:  opts.ReportURI,
		reportOnly: opts.ReportOnly,
	}

	// Probe the production rendering so a bad combination fails at startup.
	if err := CheckProductionInvariants(b.Build(ProfileProduction, "probe")); err != nil {
		return nil, err
	}
	return b, nil
}

// Build renders the policy for profile with nonce embedded.
func (b *PolicyBuilder) Build(profile Profile, nonce Nonce) Policy {
	dev := profile == ProfileDevelopment

	defaultSrc := &directive{name: DefaultSrc}
	defaultSrc.add(SourceSelf)

	scriptSrc := &directive{name: ScriptSrc}
	scriptSrc.add(SourceSelf)
	styleSrc := &directive{name: StyleSrc}
	styleSrc.add(SourceSelf)

	if dev {
		// No nonce or hashes here: their presence makes browsers ignore 'unsafe-inline'.
		scriptSrc.add(SourceUnsafeInline, SourceUnsafeEval)
		styleSrc.add(SourceUnsafeInline)
	} else {
		scriptSrc.add(nonce.Source(), SourceStrictDynamic)
		styleSrc.add(nonce.Source())
		for _, h := range b.registry.ForDirective(ScriptSrc) {
			scriptSrc.add(h.Source())
		}
		for _, h := range b.registry.ForDirective(StyleSrc) {
			styleSrc.add(h.Source())
		}
	}
	scriptSrc.add(b.origins.Script...)
	styleSrc.add(b.origins.Style...)

	imgSrc := &directive{name: ImgSrc}
	imgSrc.add(SourceSelf, SourceData)
	imgSrc.add(b.origins.Img...)

	fontSrc := &directive{name: FontSrc}
	fontSrc.add(SourceSelf)
	fontSrc.add(b.origins.Font...)

	connectSrc := &directive{name: ConnectSrc}
	connectSrc.add(SourceSelf)
	if dev {
		connectSrc.add("ws://localhost:*", "http://localhost:*")
	}
	connectSrc.add(b.origins.Connect...)

	directives := []*directive{
		defaultSrc,
		scriptSrc,
		styleSrc,
		imgSrc,
		fontSrc,
		connectSrc,
		{name: ObjectSrc, sources: []string{SourceNone}},
		{name: BaseURI, sources: []string{SourceSelf}},
		{name: FormAction, sources: []string{SourceSelf}},
		{name: FrameAncestors, sources: []string{SourceNone}},
	}
	if !dev {
		directives = append(directives, &directive{name: UpgradeInsecureRequests})
	}
	if b.reportURI != "" {
		directives = append(directives,
			&directive{name: ReportURI, sources: []string{b.reportURI}},
			&directive{name: ReportTo, sources: []string{ReportGroup}},
		)
	}

	parts := make([]string, len(directives))
	for i, d := range directives {
		parts[i] = d.String()
	}

	return Policy{
		Value:      strings.Join(parts, "; "),
		ReportOnly: b.reportOnly,
	}
}

// ReportingEndpoints returns the Reporting-Endpoints header value pointing
// the report-to group at the report URI, or "" when reporting is off.
func (b *PolicyBuilder) ReportingEndpoints() string {
	if b.reportURI == "" {
		return ""
	}
	return fmt.Sprintf("%s=%q", ReportGroup, b.reportURI)
}

// ParseDirectives splits a header value into directive name -> sources.
func ParseDirectives(value string) map[string][]string {
	out := make(map[string][]string)
	for _, part := range strings.Split(value, ";") {
		fields := strings.Fields(part)
		if len(fields) == 0 {
			continue
		}
		out[strings.ToLower(fields[0])] = fields[1:]
	}
	return out
}

// CheckProductionInvariants reports whether a rendered policy is acceptable
// for production: script-src never carries 'unsafe-inline' and no directive
// combines a wildcard with 'unsafe-inline'.
func CheckProductionInvariants(p Policy) error {
	for name, sources := range ParseDirectives(p.Value) {
		wildcard, unsafeInline := false, false
		for _, s := range sources {
			switch s {
			case SourceWildcard:
				wildcard = true
			case SourceUnsafeInline:
				unsafeInline = true
			}
		}
		if name == ScriptSrc && unsafeInline {
			return fmt.Errorf("production policy must not allow %s in %s", SourceUnsafeInline, ScriptSrc)
		}
		if wildcard && unsafeInline {
			return fmt.Errorf("production policy must not combine %s and %s in %s", SourceWildcard, SourceUnsafeInline, name)
		}
	}
	return nil
}

// validateOrigin rejects configured origins that are keywords or that could
// smuggle an extra directive into the header.
func validateOrigin(origin string) error {
	if origin == "" {
		return fmt.Errorf("empty CSP origin")
	}
	if strings.ContainsAny(origin, "; ,\t\r\n'\"") {
		return fmt.Errorf("CSP origin %q contains a forbidden character", origin)
	}
	if origin == SourceWildcard {
		return fmt.Errorf("CSP origin %q is a bare wildcard", origin)
	}
	return nil
}
