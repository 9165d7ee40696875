// Package identity derives the composite key that identifies a labeling
// task by (source image URI, bounding box).
//
// Two encodings of the same box exist in the wild: the canonical format
// keeps full float precision, while records written before the precision
// change carry integer-rounded coordinates. Lookups therefore try an
// ordered list of encodings; writes always use the canonical one.
package identity

import (
	"math"
	"strconv"
	"strings"

	"github.com/endwaste/db-of-objects/internal/geometry"
)

const keySeparator = "|"

// Encoder renders a bounding box into its key fragment.
type Encoder func(box geometry.BoundingBox) string

// encodeFloat keeps the exact coordinates the client sent, formatted
// minimally ("100.4", not "100.400000").
func encodeFloat(box geometry.BoundingBox) string {
	parts := make([]string, 0, 4)
	for _, v := range box.Coords() {
		parts = append(parts, strconv.FormatFloat(v, 'f', -1, 64))
	}
	return strings.Join(parts, ",")
}

// encodeLegacy reproduces the retired integer format: coordinates rounded
// half-away-from-zero. Read-only; new records are never written this way.
func encodeLegacy(box geometry.BoundingBox) string {
	parts := make([]string, 0, 4)
	for _, v := range box.Coords() {
		parts = append(parts, strconv.FormatInt(int64(math.Round(v)), 10))
	}
	return strings.Join(parts, ",")
}

// encoders is the lookup order: canonical first, legacy second.
var encoders = []Encoder{encodeFloat, encodeLegacy}

// CanonicalKey is the key under which new tasks are stored.
func CanonicalKey(sourceURI string, box geometry.BoundingBox) string {
	return sourceURI + keySeparator + encodeFloat(box)
}

// LegacyKey is the integer-rounded key format used by historical records.
func LegacyKey(sourceURI string, box geometry.BoundingBox) string {
	return sourceURI + keySeparator + encodeLegacy(box)
}

// CandidateKeys returns every key encoding for the given identity, in
// lookup order, with duplicates removed (an all-integer box encodes
// identically under both formats).
func CandidateKeys(sourceURI string, box geometry.BoundingBox) []string {
	keys := make([]string, 0, len(encoders))
	seen := make(map[string]struct{}, len(encoders))
	for _, enc := range encoders {
		k := sourceURI + keySeparator + enc(box)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	return keys
}
