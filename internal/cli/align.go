package cli

import (
	"github.com/spf13/cobra"

	"github.com/listenupapp/pagesync-server/internal/config"
	"github.com/listenupapp/pagesync-server/internal/narration"
)

func newAlignCommand(newLogger loggerFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "align",
		Short: "Align narration audio with a structure snapshot",
	}
	cmd.AddCommand(
		newAlignEstimateCommand(newLogger),
		newAlignTimingCommand(newLogger),
	)
	return cmd
}

func newAlignEstimateCommand(newLogger loggerFactory) *cobra.Command {
	var file, audio, ffmpeg string
	var duration float64
	var sampleRate int
	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Estimate block timings from audio duration and pauses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pages, err := loadPages(file)
			if err != nil {
				return err
			}
			log := newLogger(cmd)
			aligner := narration.NewAligner(narration.DefaultConfig(), sampleRate,
				narration.NewFFmpegDecoder(ffmpeg),
				narration.NewMetadataProber(config.DefaultBitrates(), log),
				log,
			)
			res, err := aligner.EstimateFile(cmd.Context(), pages, audio, duration)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&file, "structure", "", "Structure snapshot JSON file")
	cmd.Flags().StringVar(&audio, "audio", "", "Narration audio file")
	cmd.Flags().Float64Var(&duration, "duration", 0, "Audio duration in seconds (probed when 0)")
	cmd.Flags().StringVar(&ffmpeg, "ffmpeg", "ffmpeg", "Path to ffmpeg for silence detection")
	cmd.Flags().IntVar(&sampleRate, "sample-rate", 16000, "Decode sample rate")
	_ = cmd.MarkFlagRequired("structure")
	_ = cmd.MarkFlagRequired("audio")
	return cmd
}

func newAlignTimingCommand(newLogger loggerFactory) *cobra.Command {
	var file, timings string
	cmd := &cobra.Command{
		Use:   "timing",
		Short: "Align blocks from word-level timestamps",
		Long:  `Reads a JSON array of {"word","start"} objects in narration order.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pages, err := loadPages(file)
			if err != nil {
				return err
			}
			var words []narration.WordTiming
			if err := readJSON(timings, &words); err != nil {
				return err
			}
			aligner := narration.NewAligner(narration.DefaultConfig(), 0, nil, nil, newLogger(cmd))
			res, err := aligner.AlignTimings(pages, words)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&file, "structure", "", "Structure snapshot JSON file")
	cmd.Flags().StringVar(&timings, "timings", "", "Word timings JSON file")
	_ = cmd.MarkFlagRequired("structure")
	_ = cmd.MarkFlagRequired("timings")
	return cmd
}
