// Command docsight is the entry point for the docsight document analysis
// backend. It provides a CLI interface (via Cobra) and an HTTP server that
// exposes document upload, semantic search, chat, and insight generation.
package main

import (
	"fmt"
	"os"

	"github.com/docsight/docsight-go/cmd/docsight/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
