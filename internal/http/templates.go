package httpx

import (
	_ "embed"
	"html/template"
)

// Embedded template content. Inline <style> and nonce-less <script> blocks
// are hashed into internal/csp/known_hashes.yaml by cmd/cspgen; edit them
// only together with `go generate ./internal/csp`.

//go:embed templates/error.tmpl
var errorContent string

// ParsedTemplates holds pre-parsed templates
var (
	ErrorTmpl *template.Template
)

func init() {
	var err error
	ErrorTmpl, err = template.New("error").Parse(errorContent)
	if err != nil {
		panic("failed to parse error template: " + err.Error())
	}
}
