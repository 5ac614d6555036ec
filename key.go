package persidict

import (
	"strings"
)

// maxComponentLen bounds a single safe string, following the spec's
// "bounded in length" requirement for filesystem and object-store
// portability (well under the 255-byte filename limit most filesystems
// enforce, leaving headroom for digest suffixing and a format extension).
const maxComponentLen = 200

// SafeKey is the canonical internal key form: an ordered, non-empty
// sequence of safe strings. It is the only key representation the core
// operates on; callers may pass a single "/"-joined string or a []string,
// both normalized into a SafeKey on entry.
type SafeKey []string

// NewSafeKey validates and wraps parts as a SafeKey. Every component must
// satisfy IsSafeString.
func NewSafeKey(parts ...string) (SafeKey, error) {
	if len(parts) == 0 {
		return nil, WithContext(ErrInvalidData, map[string]interface{}{
			"reason": "key must have at least one component",
		})
	}
	out := make(SafeKey, len(parts))
	for i, p := range parts {
		if !IsSafeString(p) {
			return nil, WithContext(ErrInvalidData, map[string]interface{}{
				"component": p,
				"index":     i,
				"reason":    "not a safe string",
			})
		}
		out[i] = p
	}
	return out, nil
}

// ParseSafeKey splits a "/"-joined string into a SafeKey, the form callers
// typically pass for a single flat key.
func ParseSafeKey(s string) (SafeKey, error) {
	s = strings.Trim(s, "/")
	if s == "" {
		return nil, WithContext(ErrInvalidData, map[string]interface{}{
			"reason": "key must not be empty",
		})
	}
	return NewSafeKey(strings.Split(s, "/")...)
}

// MustSafeKey is NewSafeKey for call sites that already know the
// components are safe (e.g. tests, or keys that were themselves returned
// from this package). It panics on an invalid key.
func MustSafeKey(parts ...string) SafeKey {
	k, err := NewSafeKey(parts...)
	if err != nil {
		panic(err)
	}
	return k
}

// String renders the key in its "/"-joined external form.
func (k SafeKey) String() string {
	return strings.Join(k, "/")
}

// Equal reports whether two keys have the same component sequence.
func (k SafeKey) Equal(other SafeKey) bool {
	if len(k) != len(other) {
		return false
	}
	for i := range k {
		if k[i] != other[i] {
			return false
		}
	}
	return true
}

// HasPrefix reports whether prefix is a component-wise prefix of k.
func (k SafeKey) HasPrefix(prefix SafeKey) bool {
	if len(prefix) > len(k) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}

// Suffix returns the components of k after dropping the leading n
// components (used by GetSubdict views).
func (k SafeKey) Suffix(n int) SafeKey {
	if n >= len(k) {
		return SafeKey{}
	}
	out := make(SafeKey, len(k)-n)
	copy(out, k[n:])
	return out
}

// IsSafeString reports whether s satisfies the spec's safe-string
// discipline: non-empty, strictly ASCII-printable, free of filesystem
// hazards, not "." or "..", and bounded in length.
func IsSafeString(s string) bool {
	if s == "" || s == "." || s == ".." {
		return false
	}
	if len(s) > maxComponentLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < 0x20 || c > 0x7e {
			return false
		}
		switch c {
		case '/', '\\', 0:
			return false
		}
	}
	return true
}
