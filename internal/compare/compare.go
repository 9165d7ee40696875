// Package compare decides whether two crops describe the same object.
package compare

import "reflect"

// attributeKeys is the fixed subset used for the similarity decision.
// Everything else in the metadata maps is ignored.
var attributeKeys = []string{"brand", "color", "material", "shape"}

// IsSimilar reports whether the incoming crop and its matched neighbor
// agree on brand, color, material and shape. A key missing from a map
// and a key present with an explicit null are both treated as absent,
// and absent equals absent; "" placeholders do not. This is an
// exact-match heuristic.
func IsSimilar(incoming, candidate map[string]any) bool {
	for _, key := range attributeKeys {
		iv, iok := lookup(incoming, key)
		cv, cok := lookup(candidate, key)
		if iok != cok {
			return false
		}
		if iok && !reflect.DeepEqual(iv, cv) {
			return false
		}
	}
	return true
}

// lookup reads an attribute, folding explicit nulls into absence.
func lookup(m map[string]any, key string) (any, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}
