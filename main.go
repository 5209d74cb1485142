package main

import "hub/cmd"

// version and commit are set at build time with -ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	cmd.SetVersion(version, commit)
	cmd.Execute()
}
