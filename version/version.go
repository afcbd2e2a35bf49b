// Package version carries the build identity stamped in by the linker:
//
//	go build -ldflags "-X github.com/orbisys/warden/version.Version=..."
package version

import (
	"encoding/json"
	"fmt"
	"runtime"
)

// Set at build time; the defaults mark an unstamped developer build.
var (
	Version  = "0.0.0-dev"
	Revision = "unknown"
	BuiltAt  = "unknown"
)

// Info is the resolved build identity.
type Info struct {
	Version   string `json:"version"`
	Revision  string `json:"revision"`
	BuiltAt   string `json:"built_at"`
	GoVersion string `json:"go_version"`
}

// GetVersionInfo resolves the stamped identity plus the toolchain version.
func GetVersionInfo() Info {
	return Info{
		Version:   Version,
		Revision:  Revision,
		BuiltAt:   BuiltAt,
		GoVersion: runtime.Version(),
	}
}

func (i Info) String() string {
	return fmt.Sprintf("warden %s (revision %s, built %s, %s)",
		i.Version, i.Revision, i.BuiltAt, i.GoVersion)
}

// JSON renders the identity for machine consumers.
func (i Info) JSON() (string, error) {
	data, err := json.MarshalIndent(i, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
