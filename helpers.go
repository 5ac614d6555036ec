package persidict

// rejectJokerDefault returns a type error if defaultValue is one of the
// write jokers, per spec.md §4.2: SetDefaultIf rejects KeepCurrent and
// DeleteCurrent with a type error since "default" only makes sense for a
// real value.
func rejectJokerDefault(defaultValue any) error {
	if IsKeepCurrent(defaultValue) || IsDeleteCurrent(defaultValue) {
		return WithContext(ErrInvalidData, map[string]interface{}{
			"reason": "SetDefaultIf does not accept KeepCurrent/DeleteCurrent as a default value",
		})
	}
	return nil
}

// shouldRetrieve decides, given a retrieve mode and whether the ETag
// changed, whether the current value should be fetched (spec.md §4.2).
func shouldRetrieve(mode RetrieveMode, etagChanged bool) bool {
	switch mode {
	case AlwaysRetrieve:
		return true
	case IfETagChanged:
		return etagChanged
	case NeverRetrieve:
		return false
	default:
		return false
	}
}

// enforceWritePolicy checks the AppendOnly policy before a mutation.
// exists tells whether the key currently has a value; isDelete whether
// the mutation is a deletion. AppendOnly forbids deleting any key and
// forbids overwriting an existing one; creating a brand-new key is
// allowed.
func enforceWritePolicy(cfg Config, key SafeKey, exists bool, isDelete bool) error {
	if !cfg.AppendOnly {
		return nil
	}
	if isDelete || exists {
		return &MutationPolicy{Policy: "append-only", Key: key}
	}
	return nil
}

// collectSubdictNames derives the set of immediate first-component names
// from a flat key listing (used by Subdicts on backends that don't track
// directories separately, e.g. MemoryBackend and S3Backend).
func collectSubdictNames(keys []SafeKey) []string {
	seen := make(map[string]bool)
	var names []string
	for _, k := range keys {
		if len(k) < 2 {
			continue
		}
		if !seen[k[0]] {
			seen[k[0]] = true
			names = append(names, k[0])
		}
	}
	return names
}

// filterByPrefix returns the keys under prefix with prefix stripped.
func filterByPrefix(keys []SafeKey, prefix SafeKey) []SafeKey {
	var out []SafeKey
	for _, k := range keys {
		if k.HasPrefix(prefix) {
			out = append(out, k.Suffix(len(prefix)))
		}
	}
	return out
}
