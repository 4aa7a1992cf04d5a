package features

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// SchemaHash computes a deterministic fingerprint over a feature set's
// ordered (name, dtype) pairs. Every feature produced by this package is a
// float64, so dtype is always "float64"; the dtype is carried explicitly
// anyway so the hash stays stable if a future family introduces another
// representation. Names are sorted before hashing, so the same feature set
// always hashes the same way regardless of computation order.
func SchemaHash(features []string) string {
	sorted := append([]string(nil), features...)
	sort.Strings(sorted)

	h := sha256.New()
	for _, name := range sorted {
		h.Write([]byte(name))
		h.Write([]byte(":float64\n"))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// schemaKey renders the ordered (name, dtype) list in the same canonical
// form SchemaHash hashes, for diagnostics and logging.
func schemaKey(features []string) string {
	sorted := append([]string(nil), features...)
	sort.Strings(sorted)
	parts := make([]string, len(sorted))
	for i, name := range sorted {
		parts[i] = name + ":float64"
	}
	return strings.Join(parts, ",")
}
