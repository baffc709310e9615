package main

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/aymerick/douceur/parser"
	"github.com/pkg/errors"

	"github.com/mlehotskylf-org/securegate/internal/csp"
)

// snippet is one inline block that needs a hash source.
type snippet struct {
	Name      string
	Directive string
	Content   string
}

// executableScriptTypes are the type attribute values a browser runs.
// Data blocks such as application/ld+json are not subject to script-src.
var executableScriptTypes = map[string]bool{
	"":                       true,
	"text/javascript":        true,
	"application/javascript": true,
	"module":                 true,
}

// extractSnippets returns the inline <script> and <style> blocks of one
// template that must be allowed by hash: blocks with a nonce attribute,
// external scripts and blocks containing template actions are skipped.
func extractSnippets(file string, html []byte) ([]snippet, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, errors.Wrapf(err, "%s: failed to parse HTML", file)
	}

	var (
		out  []snippet
		err2 error
	)

	scriptN := 0
	doc.Find("script").Each(func(i int, s *goquery.Selection) {
		if err2 != nil || !hashable(s) || s.AttrOr("src", "") != "" {
			return
		}
		if !executableScriptTypes[strings.ToLower(strings.TrimSpace(s.AttrOr("type", "")))] {
			return
		}
		content, ok, err := inlineContent(file, "script", s)
		if err != nil {
			err2 = err
			return
		}
		if !ok {
			return
		}
		scriptN++
		out = append(out, snippet{
			Name:      fmt.Sprintf("%s#script-%d", file, scriptN),
			Directive: csp.ScriptSrc,
			Content:   content,
		})
	})
	if err2 != nil {
		return nil, err2
	}

	styleN := 0
	doc.Find("style").Each(func(i int, s *goquery.Selection) {
		if err2 != nil || !hashable(s) {
			return
		}
		content, ok, err := inlineContent(file, "style", s)
		if err != nil {
			err2 = err
			return
		}
		if !ok {
			return
		}
		if _, err := parser.Parse(content); err != nil {
			err2 = errors.Wrapf(err, "%s: inline <style> %d is not valid CSS", file, styleN+1)
			return
		}
		styleN++
		out = append(out, snippet{
			Name:      fmt.Sprintf("%s#style-%d", file, styleN),
			Directive: csp.StyleSrc,
			Content:   content,
		})
	})
	if err2 != nil {
		return nil, err2
	}

	return out, nil
}

// hashable reports whether the element relies on a hash rather than a nonce.
func hashable(s *goquery.Selection) bool {
	_, hasNonce := s.Attr("nonce")
	return !hasNonce
}

// inlineContent returns the element text when it is static. Browsers hash
// the exact bytes between the tags, so surrounding whitespace would never
// match the normalized registry entry and is refused.
func inlineContent(file, tag string, s *goquery.Selection) (string, bool, error) {
	content := s.Text()
	if strings.Contains(content, "{{") {
		return "", false, nil
	}
	if strings.TrimSpace(content) == "" {
		return "", false, nil
	}
	if content != csp.NormalizeContent(content) {
		return "", false, errors.Errorf("%s: inline <%s> has leading or trailing whitespace; put the content directly against the tags", file, tag)
	}
	return content, true, nil
}
