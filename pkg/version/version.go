// Package version holds build-time version info injected via ldflags.
//
// Set at compile time:
//
//	go build -ldflags "-X github.com/NicolasHaas/gotalk/pkg/version.tag=v1.0.0
//	  -X github.com/NicolasHaas/gotalk/pkg/version.commit=abc1234
//	  -X github.com/NicolasHaas/gotalk/pkg/version.date=2026-01-01"
package version

import "runtime"

// Populated by -ldflags "-X ...". Defaults are used for local dev builds.
var (
	tag    = ""        // git tag (e.g. "v0.2.0"), empty if not on a tag
	commit = "unknown" // short git commit SHA
	date   = "unknown" // build date (ISO 8601)
)

// String returns a short version: the tag, else the commit, else "dev".
func String() string {
	switch {
	case tag != "":
		return tag
	case commit != "unknown":
		return commit
	default:
		return "dev"
	}
}

// Full returns "tag (commit) built date" or a sensible fallback.
func Full() string {
	switch {
	case tag != "":
		return tag + " (" + commit + ") built " + date
	case commit != "unknown":
		return commit + " built " + date
	default:
		return "dev"
	}
}

// Banner is the -version output of a binary: "gotalk-server v1.0.0 (...) go1.25.1 linux/amd64".
func Banner(binary string) string {
	return binary + " " + Full() + " " + runtime.Version() + " " + runtime.GOOS + "/" + runtime.GOARCH
}
