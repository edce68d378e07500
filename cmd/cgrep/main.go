// Package main provides the entry point for the cgrep CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/cgrep/cmd/cgrep/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
