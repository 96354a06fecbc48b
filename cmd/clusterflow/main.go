package main

import (
	"os"

	"github.com/lipeng1667/HomeAssistantBackend-sub000/internal/cmd"
)

// Set via ldflags, e.g. -X main.version=1.2.0
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	cmd.SetVersionInfo(version, commit)
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
