// Package main provides the pagesync command-line tool.
package main

import (
	"os"

	"github.com/listenupapp/pagesync-server/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
