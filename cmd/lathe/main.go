package main

import "github.com/lathe-build/lathe/internal/cmd"

// Populated at build time via -ldflags.
var (
	version = "dev"
	commit  = "HEAD"
	date    = "unknown"
)

func main() {
	cmd.SetVersionInfo(version, commit, date)
	cmd.Execute()
}
