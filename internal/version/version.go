// Package version provides build-time version information for channeld.
//
// Variables are set at build time via ldflags:
//
//	go build -ldflags "-X github.com/rickgao/channels/internal/version.Version=1.0.0 \
//	                   -X github.com/rickgao/channels/internal/version.Commit=$(git rev-parse --short HEAD) \
//	                   -X github.com/rickgao/channels/internal/version.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)" \
//	    ./cmd/channeld
package version

// Build-time variables (set via ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// String returns a formatted version string.
func String() string {
	return Version + " (" + Commit + ") built " + BuildTime
}

// Attrs returns the build info as slog key/value pairs.
func Attrs() []any {
	return []any{"version", Version, "commit", Commit, "build_time", BuildTime}
}
