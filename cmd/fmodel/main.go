// fmodel is the command-line interface for the go-fmodel event sourcing library.
//
// Usage:
//
//	fmodel <command> [flags]
//
// Commands:
//
//	init      Write a fmodel.yaml configuration file
//	migrate   Create the event store schema
//	handle    Handle restaurant and order commands read as JSON
//	stream    Inspect event streams and the global log
//	view      Show materialized views and projection lag
//	project   Run the view projection and the Kafka relay
//	rebuild   Replay the global log into the view or the relay
//	demo      Run a sample scenario end to end
//	version   Show version information
//
// Examples:
//
//	# Use an embedded bolt store in the current directory
//	fmodel init --driver bolt
//
//	# Handle a command and update the view right away
//	echo '{"decider":"Restaurant","kind":"CreateRestaurantCommand","id":"r1","name":"Bistro"}' | fmodel handle --project
//
//	# Serve Prometheus metrics while projecting
//	fmodel project --metrics-addr :9090
package main

import (
	"os"

	"github.com/AshkanYarmoradi/go-fmodel/cli/commands"
)

// Build information (set via ldflags)
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	commands.Version = version
	commands.Commit = commit
	commands.BuildDate = buildDate

	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
