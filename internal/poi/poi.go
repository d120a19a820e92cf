// Package poi models persons of interest: name sanitization, the roster
// they are read from, and the on-disk layout of their reference assets,
// source recordings and output folders.
package poi

import "regexp"

var disallowed = regexp.MustCompile(`[^A-Za-z0-9 ]+`)

// Sanitize strips every character outside [A-Za-z0-9 ] from a display
// name. The result is the POI's identity key and folder name. Spaces are
// kept as written, including leading and trailing ones.
func Sanitize(name string) string {
	return disallowed.ReplaceAllString(name, "")
}
