// Package main is the single-binary entrypoint for the ForestShield
// core: region management, scheduler control, alert queries, and the
// daemon that drives analysis runs.
package main

import "github.com/forestshield/core/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
