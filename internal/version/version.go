package version

// version is injected at build time via -ldflags.
var version = "v0.0.0"

// Version returns the build version.
func Version() string {
	return version
}
