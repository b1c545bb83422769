// Package version describes the running relay build and gives each process its
// identity in the shared channel directory.
package version

import (
	"os"
	"runtime"

	"github.com/google/uuid"
)

// Name identifies the service in logs, the /version endpoint and Redis CLIENT LIST.
const Name = "audiorelay"

// Overridden with -ldflags "-X .../version.Version=v1.2.3" and friends.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Info is served by /version.
type Info struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
}

func Get() Info {
	return Info{
		Name:      Name,
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
	}
}

func (i Info) String() string {
	return i.Name + " " + i.Version + " (" + i.Commit + ", " + i.GoVersion + ")"
}

// ClientName labels this build's Redis connections. Redis rejects names
// containing spaces, so the version is joined with a dash.
func ClientName() string {
	return Name + "-" + Version
}

// NewInstanceID returns the identifier this process writes into directory
// entries: the hostname plus a short random suffix, so two relays on one host
// (or a restarted pod reusing its name) never share an ID.
func NewInstanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = Name
	}
	return host + "-" + uuid.NewString()[:8]
}
