// Command offsync runs the sync engine against a local database.
//
// Every subcommand reads the same YAML configuration file: the database DSN,
// the syncable tables and the server to push to.
package main

import (
	"fmt"
	"os"

	"github.com/velmie/offsync/cmd/internal/app"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "offsync:", err)
		os.Exit(app.ExitCode(err))
	}
}
