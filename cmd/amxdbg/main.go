package main

import (
	"os"

	"github.com/amxdbg/amxdbg/cmd/amxdbg/cmds"
	"github.com/amxdbg/amxdbg/pkg/version"
)

// Build is the git sha of this binaries build.
var Build string

func main() {
	if Build != "" {
		version.AmxdbgVersion.Build = Build
	}
	if err := cmds.New().Execute(); err != nil {
		os.Exit(1)
	}
}
