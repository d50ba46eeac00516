package narration

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/simonhull/audiometa"

	"github.com/listenupapp/pagesync-server/internal/logger"
)

// DurationProber reports the duration of an audio file in seconds and whether
// the value is an estimate.
type DurationProber interface {
	Duration(ctx context.Context, path string) (seconds float64, estimated bool, err error)
}

// MetadataProber reads duration from container metadata and falls back to a
// size/bitrate estimate. The estimate assumes a constant bitrate per format and
// is an approximation: VBR files and large embedded artwork skew it.
type MetadataProber struct {
	bitrates map[string]int
	logger   *slog.Logger
}

// NewMetadataProber creates a prober. bitrates maps lowercase extensions to kbps.
func NewMetadataProber(bitrates map[string]int, log *slog.Logger) *MetadataProber {
	return &MetadataProber{bitrates: bitrates, logger: logger.OrDiscard(log)}
}

// Duration implements DurationProber.
func (p *MetadataProber) Duration(ctx context.Context, path string) (float64, bool, error) {
	file, err := audiometa.OpenContext(ctx, path)
	if err == nil {
		seconds := file.Audio.Duration.Seconds()
		_ = file.Close()
		if seconds > 0 {
			return seconds, false, nil
		}
		p.logger.Debug("audio metadata has no duration, estimating from size", "path", path)
	} else {
		p.logger.Debug("audio metadata unreadable, estimating from size", "path", path, "error", err)
	}

	info, statErr := os.Stat(path)
	if statErr != nil {
		return 0, false, fmt.Errorf("stat audio file: %w", statErr)
	}
	seconds, estErr := EstimateDurationFromSize(path, info.Size(), p.bitrates)
	if estErr != nil {
		if err != nil {
			return 0, false, fmt.Errorf("%w (metadata: %v)", estErr, err)
		}
		return 0, false, estErr
	}
	return seconds, true, nil
}

// EstimateDurationFromSize converts a byte size to seconds using the assumed
// bitrate for the file's extension.
func EstimateDurationFromSize(path string, size int64, bitrates map[string]int) (float64, error) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	kbps, ok := bitrates[ext]
	if !ok || kbps <= 0 {
		return 0, fmt.Errorf("no bitrate assumption for format %q", ext)
	}
	if size <= 0 {
		return 0, fmt.Errorf("audio file %s is empty", filepath.Base(path))
	}
	return float64(size) * 8 / (float64(kbps) * 1000), nil
}
