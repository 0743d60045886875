// Package main provides the entry point for the lifecycle CLI tool.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/agentstation/lifecycle/cmd/lifecycle/cmd"
)

// Version information populated by goreleaser.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	// Cancel the run context on SIGINT/SIGTERM so in-flight operations are
	// skipped and accounted for rather than torn down mid-request.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Execute(ctx, version, commit, date); err != nil {
		os.Exit(1)
	}
}
