package persidict

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// digestSuffixDelim separates a rendered path component from its digest
// suffix on disk, e.g. "Invoice_3f9a1c2d".
const digestSuffixDelim = "_"

// digestSuffix returns the first n lowercase hex characters of the SHA-256
// digest of the component's case-sensitive text. FileDirBackend appends this to each
// rendered path component so that keys differing only in case (which
// collide on case-insensitive, case-preserving filesystems) still map to
// distinct filenames. Purely a name-mapping layer: SafeKey semantics are
// unaffected (spec.md §3, "Digest suffixing").
func digestSuffix(component string, n int) string {
	if n <= 0 {
		return ""
	}
	sum := sha256.Sum256([]byte(component))
	hexSum := hex.EncodeToString(sum[:])
	if n > len(hexSum) {
		n = len(hexSum)
	}
	return hexSum[:n]
}

// renderComponent maps a SafeKey component to its on-disk name, appending
// a digest suffix when digestLen > 0.
func renderComponent(component string, digestLen int) string {
	if digestLen <= 0 {
		return component
	}
	return component + digestSuffixDelim + digestSuffix(component, digestLen)
}

// parseComponent reverses renderComponent, stripping a recognized digest
// suffix. It returns ok=false for filenames that don't carry a
// suffix matching the configured digest length for their own text - such
// names are "foreign" and ignored by the backend (spec.md
// §4.3, "Key-safety mapping").
func parseComponent(rendered string, digestLen int) (original string, ok bool) {
	if digestLen <= 0 {
		return rendered, true
	}
	idx := strings.LastIndex(rendered, digestSuffixDelim)
	if idx < 0 || idx == len(rendered)-1 {
		return "", false
	}
	candidate := rendered[:idx]
	suffix := rendered[idx+1:]
	if len(suffix) != digestLen {
		return "", false
	}
	if digestSuffix(candidate, digestLen) != suffix {
		return "", false
	}
	return candidate, true
}
