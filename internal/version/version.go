// Package version reports build metadata. Values come from -ldflags when
// the release build sets them and from the Go toolchain's VCS stamp
// otherwise, so a plain `go build` in a checkout still names its commit.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

const unset = "unknown"

// Set with -ldflags "-X github.com/smazurov/memscaler/internal/version.Version=...".
var (
	Version   = "dev"
	GitCommit = unset
	BuildDate = unset
	BuildID   = unset
)

// Info is the build description served by `memscaler version` and /api/version.
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	// Modified is true when the binary was built from a dirty tree.
	Modified  bool   `json:"modified,omitempty"`
	BuildDate string `json:"build_date"`
	BuildID   string `json:"build_id"`
	GoVersion string `json:"go_version"`
	Compiler  string `json:"compiler"`
	Platform  string `json:"platform"`
}

// Get returns the build information of the running binary.
func Get() Info {
	info := Info{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		BuildID:   BuildID,
		GoVersion: runtime.Version(),
		Compiler:  runtime.Compiler,
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		info.fillFrom(bi)
	}
	return info
}

// fillFrom completes fields the linker left unset.
func (i *Info) fillFrom(bi *debug.BuildInfo) {
	if i.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		i.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if i.GitCommit == unset {
				i.GitCommit = s.Value
			}
		case "vcs.time":
			if i.BuildDate == unset {
				i.BuildDate = s.Value
			}
		case "vcs.modified":
			i.Modified = s.Value == "true"
		}
	}
}

// String returns the version string.
func String() string {
	return Get().Version
}

// Banner returns a one-line description for logs and the version command.
func (i Info) Banner() string {
	commit := i.GitCommit
	if len(commit) > 7 {
		commit = commit[:7]
	}
	if i.Modified {
		commit += "+dirty"
	}
	return fmt.Sprintf("memscaler %s (%s, built %s, %s %s)", i.Version, commit, i.BuildDate, i.GoVersion, i.Platform)
}
