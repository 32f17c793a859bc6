package version

import "strings"

// version is overridden at build time via
// -ldflags "-X github.com/factorylink/rwslink/internal/version.version=...".
var version = "dev"

// String returns the build version for the current binary.
func String() string {
	return version
}

// ForTesting overrides the version string and returns a cleanup
// function that restores the original value. Must not be called
// concurrently.
func ForTesting(v string) func() {
	original := version
	version = v
	return func() { version = original }
}

// FormatVersion returns a display-friendly version string. Normal
// versions get a "v" prefix ("0.3.0" becomes "v0.3.0"); special values
// like "dev" and empty strings are returned as-is.
func FormatVersion(v string) string {
	if v == "" || v == "dev" {
		return v
	}
	if strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}
