package main

import (
	"os"

	"github.com/tdbg-dev/tdbg/cmd/tdbg/cmds"
	"github.com/tdbg-dev/tdbg/pkg/version"
)

// Build is the git sha of this binaries build.
var Build string

func main() {
	if Build != "" {
		version.TdbgVersion.Build = Build
	}
	if err := cmds.New().Execute(); err != nil {
		os.Exit(1)
	}
}
