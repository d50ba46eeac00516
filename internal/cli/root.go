// Package cli implements the pagesync command-line tool. It runs chapter and
// alignment operations against local files without a server.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/listenupapp/pagesync-server/internal/logger"
	"github.com/listenupapp/pagesync-server/internal/structure"
)

// version is set at build time.
var version = "dev"

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:           "pagesync",
		Short:         "Chapter and narration tooling for converted documents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log progress to stderr")

	newLogger := func(cmd *cobra.Command) *slog.Logger {
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		return logger.New(logger.Config{Writer: cmd.ErrOrStderr(), Level: level}).Logger
	}

	root.AddCommand(
		newChaptersCommand(newLogger),
		newAlignCommand(newLogger),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version number",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "pagesync version %s\n", version)
			},
		},
	)
	return root
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	root := NewRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}

type loggerFactory func(cmd *cobra.Command) *slog.Logger

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// loadPages reads a structure snapshot and decodes only its pages.
func loadPages(path string) ([]structure.Page, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pages, err := structure.DecodePages(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return pages, nil
}
