package security

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePath(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantValid bool
		wantPath  string
		reason    RejectReason
	}{
		{name: "simple file", raw: "logo.png", wantValid: true, wantPath: "logo.png"},
		{name: "nested file", raw: "uploads/blog/photo-123.jpg", wantValid: true, wantPath: "uploads/blog/photo-123.jpg"},
		{name: "leading slash", raw: "/images/logo.png", wantValid: true, wantPath: "images/logo.png"},
		{name: "dot segment", raw: "./images/logo.png", wantValid: true, wantPath: "images/logo.png"},
		{name: "trailing slash", raw: "images/", wantValid: true, wantPath: "images"},
		{name: "dashes and underscores", raw: "a-b_c.d.webp", wantValid: true, wantPath: "a-b_c.d.webp"},
		{name: "max length", raw: strings.Repeat("a", MaxPathLength), wantValid: true, wantPath: strings.Repeat("a", MaxPathLength)},

		{name: "empty", raw: "", reason: RejectEmpty},
		{name: "too long", raw: strings.Repeat("a", MaxPathLength+1), reason: RejectTooLong},
		{name: "parent traversal", raw: "../secret", reason: RejectTraversal},
		{name: "absolute traversal", raw: "../../etc/passwd", reason: RejectTraversal},
		{name: "embedded traversal", raw: "images/../../etc/passwd", reason: RejectTraversal},
		{name: "dots without slash", raw: "a..b", reason: RejectTraversal},
		{name: "scheme", raw: "http://evil.example.com/x.png", reason: RejectScheme},
		{name: "double slash", raw: "images//logo.png", reason: RejectDoubleSlash},
		{name: "protocol relative", raw: "//evil.example.com/x.png", reason: RejectDoubleSlash},
		{name: "null byte", raw: "logo.png\x00.jpg", reason: RejectNullByte},
		{name: "angle bracket", raw: "<script>", reason: RejectForbiddenChar},
		{name: "pipe", raw: "a|b", reason: RejectForbiddenChar},
		{name: "wildcard", raw: "images/*", reason: RejectForbiddenChar},
		{name: "query marker", raw: "logo.png?x=1", reason: RejectForbiddenChar},
		{name: "space", raw: "my logo.png", reason: RejectPatternMismatch},
		{name: "percent encoding", raw: "%2e%2e/secret", reason: RejectPatternMismatch},
		{name: "backslash", raw: `images\logo.png`, reason: RejectPatternMismatch},
		{name: "unicode", raw: "imágenes/logo.png", reason: RejectPatternMismatch},
		{name: "only dot", raw: ".", reason: RejectEscapesBase},
		{name: "only slash", raw: "/", reason: RejectEscapesBase},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := ValidatePath(tt.raw)
			assert.Equal(t, tt.wantValid, d.Valid)
			if tt.wantValid {
				assert.Equal(t, tt.wantPath, d.SanitizedPath)
				assert.NoError(t, d.Err())
				return
			}
			assert.Equal(t, tt.reason, d.Reason)
			assert.Empty(t, d.SanitizedPath)

			var rejected *PathRejectedError
			require.True(t, errors.As(d.Err(), &rejected))
			assert.Equal(t, tt.reason, rejected.Reason)
		})
	}
}

func TestValidatePathIsPure(t *testing.T) {
	for _, raw := range []string{"images/logo.png", "../x", ""} {
		assert.Equal(t, ValidatePath(raw), ValidatePath(raw))
	}
}
