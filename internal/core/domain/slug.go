package domain

import "strings"

// =============================================================================
// Region Identifiers
// =============================================================================

// Slugify converts a display name to a region identifier.
//
// Letters are lowercased, spaces and underscores become hyphens, digits and
// hyphens are kept, and everything else is dropped. Runs of hyphens collapse
// to one and leading or trailing hyphens are trimmed.
//
//	Slugify("US East 1")       // "us-east-1"
//	Slugify("eu_central (1)")  // "eu-central-1"
func Slugify(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	lastHyphen := true
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
			lastHyphen = false
		case r == '-' || r == ' ' || r == '_':
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// ValidRegionID reports whether id is already in identifier form.
func ValidRegionID(id string) bool {
	return id != "" && Slugify(id) == id
}
