package narration

import (
	"bytes"
	"encoding/binary"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRate = 1000

// signal builds a constant-amplitude track from (seconds, amplitude) spans.
func signal(spans ...[2]float64) []float64 {
	var out []float64
	for _, s := range spans {
		n := int(s[0] * testRate)
		for i := 0; i < n; i++ {
			v := s[1]
			if i%2 == 1 {
				v = -v
			}
			out = append(out, v)
		}
	}
	return out
}

func TestDetectSilenceIntervals(t *testing.T) {
	cfg := DefaultConfig().Silence
	samples := signal(
		[2]float64{1.0, 0.5},
		[2]float64{0.5, 0},
		[2]float64{1.0, 0.5},
		[2]float64{0.2, 0},
		[2]float64{1.0, 0.5},
	)

	points := DetectSilenceIntervals(samples, testRate, cfg)
	require.Len(t, points, 1, "the 0.2s gap is too short")
	assert.InDelta(t, 1.25, points[0], 1e-9)
}

func TestDetectSilenceIntervals_TrailingSilence(t *testing.T) {
	samples := signal([2]float64{1.0, 0.5}, [2]float64{0.42, 0})

	points := DetectSilenceIntervals(samples, testRate, DefaultConfig().Silence)
	require.Len(t, points, 1)
	assert.InDelta(t, 1.21, points[0], 1e-9)
}

func TestDetectSilenceIntervals_ExactMinimum(t *testing.T) {
	samples := signal([2]float64{0.5, 0.5}, [2]float64{0.3, 0}, [2]float64{0.5, 0.5})

	points := DetectSilenceIntervals(samples, testRate, DefaultConfig().Silence)
	require.Len(t, points, 1)
	assert.InDelta(t, 0.65, points[0], 1e-9)
}

func TestDetectSilenceIntervals_Empty(t *testing.T) {
	assert.Nil(t, DetectSilenceIntervals(nil, testRate, DefaultConfig().Silence))
	assert.Nil(t, DetectSilenceIntervals([]float64{0}, 0, DefaultConfig().Silence))
}

func TestSilenceDetector_StreamingMatchesBatch(t *testing.T) {
	cfg := DefaultConfig().Silence
	samples := signal(
		[2]float64{0.7, 0.3},
		[2]float64{0.61, 0.001},
		[2]float64{0.33, 0.4},
		[2]float64{0.9, 0},
	)
	want := DetectSilenceIntervals(samples, testRate, cfg)

	d := NewSilenceDetector(testRate, cfg)
	for i := 0; i < len(samples); i += 37 {
		d.Write(samples[i:min(i+37, len(samples))])
	}
	assert.Equal(t, want, d.Points())
	assert.Len(t, want, 2)
}

func TestReadPCM16(t *testing.T) {
	var buf bytes.Buffer
	for _, v := range []int16{0, 16384, -32768, 32767} {
		require.NoError(t, binary.Write(&buf, binary.LittleEndian, v))
	}

	var got []float64
	err := readPCM16(iotest.OneByteReader(&buf), func(s []float64) {
		got = append(got, s...)
	})
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, 0.0, got[0])
	assert.Equal(t, 0.5, got[1])
	assert.Equal(t, -1.0, got[2])
	assert.InDelta(t, 1.0, got[3], 1e-4)
}
