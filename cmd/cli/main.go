// Command ralphx is the operator-facing CLI: add, projects, loops, run,
// serve, doctor, guardrails, mcp (spec §6). All behavior lives in
// internal/cli; main wires nothing but the process exit code.
package main

import (
	"os"

	"github.com/ralphx/ralphx/internal/cli"
)

func main() {
	os.Exit(cli.Execute(cli.NewRootCommand()))
}
