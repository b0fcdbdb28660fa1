package release

import (
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// Fingerprint computes the content hash of a release: the first 16 bytes of
// SHA-512 over the canonical serialization, as 32 lowercase hex characters.
//
// Canonical form: every mapping becomes a [key, value] pair list sorted by
// key, recursively; sequences keep their order (set-valued fields are sorted
// by the normalizer before they get here); timestamps are ISO-8601 strings.
// The result is byte-stable across runs and platforms, so two syncs of an
// unchanged release always produce the same fingerprint.
func Fingerprint(r *Release) string {
	return Digest(canonicalJSON(r.serialize()))
}

// Digest returns the 32-hex-character SHA-512 prefix of data. It is shared
// by the release fingerprint and the changelog entry markers.
func Digest(data []byte) string {
	sum := sha512.Sum512(data)
	return hex.EncodeToString(sum[:16])
}

// canonicalJSON serializes a record tree to its stable textual form.
func canonicalJSON(v any) []byte {
	// encoding/json sorts map keys, but the canonical form is pinned to
	// explicit sorted pairs so the serialization never depends on any
	// library's map handling.
	b, err := json.Marshal(canonicalize(v))
	if err != nil {
		// The serialize() trees contain only maps, slices, strings, and
		// numbers; Marshal cannot fail on them.
		panic(err)
	}
	return b
}

// canonicalize rewrites mappings as [key, value] pair lists sorted by key at
// every depth. Sequences are canonicalized element-wise in place.
func canonicalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		pairs := make([]any, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, []any{k, canonicalize(t[k])})
		}
		return pairs

	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = canonicalize(e)
		}
		return out

	default:
		return v
	}
}
