package narration

import "math"

// SilenceDetector finds silent runs in a stream of normalized mono samples.
// Feed samples with Write in order, then call Points.
type SilenceDetector struct {
	cfg        SilenceConfig
	sampleRate int
	windowSize int

	sumSquares float64
	inWindow   int
	windows    int

	runStart float64
	inRun    bool
	points   []float64
}

// NewSilenceDetector creates a detector for the given sample rate.
func NewSilenceDetector(sampleRate int, cfg SilenceConfig) *SilenceDetector {
	size := int(math.Round(cfg.Window * float64(sampleRate)))
	if size < 1 {
		size = 1
	}
	return &SilenceDetector{cfg: cfg, sampleRate: sampleRate, windowSize: size}
}

// Write consumes samples.
func (d *SilenceDetector) Write(samples []float64) {
	for _, s := range samples {
		d.sumSquares += s * s
		d.inWindow++
		if d.inWindow == d.windowSize {
			d.closeWindow()
		}
	}
}

func (d *SilenceDetector) closeWindow() {
	if d.inWindow == 0 {
		return
	}
	start := float64(d.windows*d.windowSize) / float64(d.sampleRate)
	rms := math.Sqrt(d.sumSquares / float64(d.inWindow))

	if rms < d.cfg.Threshold {
		if !d.inRun {
			d.inRun = true
			d.runStart = start
		}
	} else if d.inRun {
		d.closeRun(start)
	}

	d.windows++
	d.sumSquares = 0
	d.inWindow = 0
}

func (d *SilenceDetector) closeRun(end float64) {
	d.inRun = false
	// Small epsilon absorbs float error when the run is exactly MinDuration long.
	if end-d.runStart+1e-9 >= d.cfg.MinDuration {
		d.points = append(d.points, (d.runStart+end)/2)
	}
}

// Points flushes any partial window and returns silence midpoints in seconds.
func (d *SilenceDetector) Points() []float64 {
	if d.inWindow > 0 {
		end := float64(d.windows*d.windowSize+d.inWindow) / float64(d.sampleRate)
		d.closeWindow()
		if d.inRun {
			d.closeRun(end)
		}
	} else if d.inRun {
		d.closeRun(float64(d.windows*d.windowSize) / float64(d.sampleRate))
	}
	return d.points
}

// DetectSilenceIntervals returns the midpoint timestamps, in seconds, of every
// silent run of at least cfg.MinDuration in samples.
func DetectSilenceIntervals(samples []float64, sampleRate int, cfg SilenceConfig) []float64 {
	if sampleRate <= 0 || len(samples) == 0 {
		return nil
	}
	d := NewSilenceDetector(sampleRate, cfg)
	d.Write(samples)
	return d.Points()
}
