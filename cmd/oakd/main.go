// Oakd is a codebase-intelligence daemon for AI coding agents: it ingests
// session/prompt/tool-call activity over a local HTTP hook surface, extracts
// durable observations via an LLM batch processor, and serves search,
// memory, and task-context lookups back to agents over an MCP-style
// tool-call surface.
package main

import (
	"os"
	"runtime/debug"

	"github.com/dotcommander/oakd/internal/commands"
)

// version is set via ldflags (-X main.version=v1.0.0) or detected
// automatically from Go module info embedded by go install.
var version = "dev"

func main() {
	if version == "dev" {
		if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
			version = info.Main.Version
		}
	}
	if err := commands.Execute(version); err != nil {
		os.Exit(1)
	}
}
