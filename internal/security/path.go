package security

import (
	"path"
	"regexp"
	"strings"
)

// MaxPathLength is the longest resource path accepted.
const MaxPathLength = 255

// pathBase is the virtual root every accepted path must stay under.
const pathBase = "/resources"

var allowedPathPattern = regexp.MustCompile(`^[a-zA-Z0-9._/-]+$`)

// PathDecision is the result of validating a caller-supplied path.
// SanitizedPath is set only when Valid is true.
type PathDecision struct {
	Valid         bool
	SanitizedPath string
	Reason        RejectReason
}

// Err returns nil for valid decisions and a *PathRejectedError otherwise.
func (d PathDecision) Err() error {
	if d.Valid {
		return nil
	}
	return &PathRejectedError{Reason: d.Reason}
}

func reject(reason RejectReason) PathDecision {
	return PathDecision{Reason: reason}
}

// ValidatePath canonicalizes rawPath or rejects it. Checks run in order and
// the first failure wins. It never panics; every input yields a decision.
func ValidatePath(rawPath string) PathDecision {
	if rawPath == "" {
		return reject(RejectEmpty)
	}
	if len(rawPath) > MaxPathLength {
		return reject(RejectTooLong)
	}

	switch {
	case strings.Contains(rawPath, ".."):
		return reject(RejectTraversal)
	case strings.Contains(rawPath, "://"):
		return reject(RejectScheme)
	case strings.Contains(rawPath, "//"):
		return reject(RejectDoubleSlash)
	case strings.ContainsRune(rawPath, 0):
		return reject(RejectNullByte)
	case strings.ContainsAny(rawPath, `<>"|*?`):
		return reject(RejectForbiddenChar)
	}

	if !allowedPathPattern.MatchString(rawPath) {
		return reject(RejectPatternMismatch)
	}

	// Lexical containment, independent of the checks above.
	joined := path.Join(pathBase, rawPath)
	if !strings.HasPrefix(joined, pathBase+"/") {
		return reject(RejectEscapesBase)
	}

	sanitized := strings.TrimPrefix(joined, pathBase+"/")
	if sanitized == "" || sanitized == "." {
		return reject(RejectEmpty)
	}

	return PathDecision{Valid: true, SanitizedPath: sanitized}
}
