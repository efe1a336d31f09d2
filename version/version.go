// Package version carries build information injected with -ldflags.
package version

import (
	"fmt"
	"runtime"
)

var (
	VERSION   = "unknown"
	REVISION  = "HEAD"
	BUILTAT   = "now"
	GOVERSION = runtime.Version()
)

// String renders the build information, one field per line.
func String() string {
	return fmt.Sprintf("Version:        %s\nGit hash:       %s\nBuilt:          %s\nGolang version: %s\nOS/Arch:        %s/%s\n",
		VERSION, REVISION, BUILTAT, GOVERSION, runtime.GOOS, runtime.GOARCH)
}
