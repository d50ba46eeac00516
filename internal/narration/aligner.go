package narration

import (
	"context"
	"fmt"
	"log/slog"

	domainerrors "github.com/listenupapp/pagesync-server/internal/errors"
	"github.com/listenupapp/pagesync-server/internal/logger"
	"github.com/listenupapp/pagesync-server/internal/structure"
)

// Result is the outcome of an alignment.
type Result struct {
	Segments []Segment `json:"segments"`
	Duration float64   `json:"duration"`
	// DurationEstimated is set when duration came from file size rather than metadata.
	DurationEstimated bool `json:"duration_estimated"`
	Silences          int  `json:"silences"`
	// Degraded is set when a fallback strategy produced the segments.
	Degraded bool     `json:"degraded"`
	Warnings []string `json:"warnings,omitempty"`
}

// Aligner runs both alignment strategies with their collaborators.
type Aligner struct {
	cfg        Config
	sampleRate int
	decoder    PCMDecoder
	prober     DurationProber
	logger     *slog.Logger
}

// NewAligner creates an aligner. decoder may be nil, which disables silence detection.
func NewAligner(cfg Config, sampleRate int, decoder PCMDecoder, prober DurationProber, log *slog.Logger) *Aligner {
	return &Aligner{
		cfg:        cfg,
		sampleRate: sampleRate,
		decoder:    decoder,
		prober:     prober,
		logger:     logger.OrDiscard(log),
	}
}

// Config returns the alignment constants in use.
func (a *Aligner) Config() Config {
	return a.cfg
}

// AlignTimings runs timing-driven alignment.
func (a *Aligner) AlignTimings(pages []structure.Page, timings []WordTiming) (*Result, error) {
	segs, err := AlignTimings(pages, timings, a.cfg)
	if err != nil {
		return nil, domainerrors.Validationf("invalid word timings: %v", err)
	}
	res := &Result{Segments: segs}
	if len(timings) > 0 {
		res.Duration = timings[len(timings)-1].Start + a.cfg.TailSeconds
	}
	return res, nil
}

// EstimateFile runs estimation-driven alignment against an audio file. When
// duration is positive it is used instead of probing the file.
func (a *Aligner) EstimateFile(ctx context.Context, pages []structure.Page, audioPath string, duration float64) (*Result, error) {
	res := &Result{Duration: duration}
	if duration <= 0 {
		if a.prober == nil {
			return nil, domainerrors.Validation("audio duration unknown and no prober configured")
		}
		d, estimated, err := a.prober.Duration(ctx, audioPath)
		if err != nil {
			return nil, domainerrors.Wrap(err, domainerrors.CodeValidation, "cannot determine audio duration")
		}
		res.Duration = d
		res.DurationEstimated = estimated
		if estimated {
			res.Warnings = append(res.Warnings, "duration estimated from file size and assumed bitrate")
		}
	}

	silences, err := a.silences(ctx, audioPath)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		a.logger.Warn("silence detection failed, estimating without pauses",
			"path", audioPath, "error", err)
		res.Degraded = true
		res.Warnings = append(res.Warnings, domainerrors.AlignmentDegraded("silence detection failed", err).Error())
	}
	res.Silences = len(silences)

	segs, err := a.estimate(pages, res.Duration, silences)
	if err != nil {
		a.logger.Warn("estimation failed, falling back to per-page split", "error", err)
		res.Degraded = true
		res.Warnings = append(res.Warnings, domainerrors.AlignmentDegraded("estimation failed", err).Error())
		segs = PageSplit(pages, res.Duration, true)
	}
	res.Segments = segs
	return res, nil
}

// estimate runs Estimate and converts a panic into an error so a malformed
// structure degrades instead of taking the worker down.
func (a *Aligner) estimate(pages []structure.Page, duration float64, silences []float64) (segs []Segment, err error) {
	defer func() {
		if r := recover(); r != nil {
			segs, err = nil, fmt.Errorf("estimation panicked: %v", r)
		}
	}()
	return Estimate(pages, duration, silences, a.cfg)
}

func (a *Aligner) silences(ctx context.Context, path string) ([]float64, error) {
	if a.decoder == nil || path == "" {
		return nil, nil
	}
	det := NewSilenceDetector(a.sampleRate, a.cfg.Silence)
	if err := a.decoder.Decode(ctx, path, a.sampleRate, det.Write); err != nil {
		return nil, err
	}
	return det.Points(), nil
}
