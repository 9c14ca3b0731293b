package version

import (
	"fmt"
	"runtime"

	"github.com/smazurov/pwtexture/pkg/pipewire"
)

// Name is the application name announced to the daemon.
const Name = "pwtexture"

// Build metadata, set via ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
	BuildID   = "unknown"
)

// Info describes the running build.
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	BuildID   string `json:"build_id"`
	GoVersion string `json:"go_version"`
	Compiler  string `json:"compiler"`
	Platform  string `json:"platform"`
	// Protocol is the PipeWire core interface version the client speaks.
	Protocol int `json:"protocol"`
}

// Get returns the build information.
func Get() Info {
	return Info{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		BuildID:   BuildID,
		GoVersion: runtime.Version(),
		Compiler:  runtime.Compiler,
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
		Protocol:  pipewire.ProtocolVersion,
	}
}

// String returns the version with a short commit when one was stamped.
func String() string {
	if GitCommit == "" || GitCommit == "unknown" {
		return Version
	}
	commit := GitCommit
	if len(commit) > 7 {
		commit = commit[:7]
	}
	return Version + " (" + commit + ")"
}

// ClientProperties returns the properties a connection announces after
// Hello. An empty appName selects Name.
func ClientProperties(appName string) pipewire.Properties {
	if appName == "" {
		appName = Name
	}
	return pipewire.Properties{
		pipewire.KeyApplicationName:    appName,
		pipewire.KeyApplicationVersion: Version,
	}
}
