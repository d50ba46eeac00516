package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/listenupapp/pagesync-server/internal/chapters"
)

// ErrInvalidConfiguration is returned by "chapters validate" after printing
// a failing result, so the process exits non-zero.
var ErrInvalidConfiguration = errors.New("chapter configuration is invalid")

func newChaptersCommand(newLogger loggerFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chapters",
		Short: "Generate, validate and detect chapter boundaries",
	}
	cmd.AddCommand(
		newChaptersGenerateCommand(),
		newChaptersValidateCommand(),
		newChaptersDetectCommand(newLogger),
	)
	return cmd
}

func newChaptersGenerateCommand() *cobra.Command {
	var pages, perChapter int
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Split a page range into equal chapters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			list, err := chapters.Generate(pages, perChapter)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), list)
		},
	}
	cmd.Flags().IntVar(&pages, "pages", 0, "Total page count")
	cmd.Flags().IntVar(&perChapter, "per-chapter", 0, "Pages per chapter")
	_ = cmd.MarkFlagRequired("pages")
	_ = cmd.MarkFlagRequired("per-chapter")
	return cmd
}

func newChaptersValidateCommand() *cobra.Command {
	var file string
	var pages int
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a chapter list for overlaps, gaps and bad ranges",
		Long:  `Reads a JSON array of {"title","start_page","end_page"} objects and prints the validation result.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var list []chapters.Chapter
			if err := readJSON(file, &list); err != nil {
				return err
			}
			res := chapters.Validate(list, pages)
			if err := printJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if !res.IsValid {
				return ErrInvalidConfiguration
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Chapter list JSON file")
	cmd.Flags().IntVar(&pages, "pages", 0, "Total page count (0 skips coverage)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newChaptersDetectCommand(newLogger loggerFactory) *cobra.Command {
	var file, strategy string
	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Detect chapter boundaries in a structure snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s := chapters.Strategy(strategy)
			if !s.Valid() {
				return errors.New("strategy must be heuristic, ai or hybrid")
			}
			pages, err := loadPages(file)
			if err != nil {
				return err
			}
			// No AI collaborator offline: ai and hybrid degrade to heuristics.
			detector := chapters.NewDetector(chapters.DefaultOptions(), nil, newLogger(cmd))
			res, err := detector.Detect(cmd.Context(), pages, s)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&file, "structure", "", "Structure snapshot JSON file")
	cmd.Flags().StringVar(&strategy, "strategy", string(chapters.StrategyHeuristic), "heuristic, ai or hybrid")
	_ = cmd.MarkFlagRequired("structure")
	return cmd
}
