package narration

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os/exec"
)

// PCMDecoder streams mono samples normalized to [-1,1] to fn in chunks.
type PCMDecoder interface {
	Decode(ctx context.Context, path string, sampleRate int, fn func(samples []float64)) error
}

// FFmpegDecoder decodes audio by piping ffmpeg's signed 16-bit little-endian output.
type FFmpegDecoder struct {
	Path string
}

// NewFFmpegDecoder creates a decoder using the given ffmpeg binary.
func NewFFmpegDecoder(path string) *FFmpegDecoder {
	if path == "" {
		path = "ffmpeg"
	}
	return &FFmpegDecoder{Path: path}
}

// Decode implements PCMDecoder.
func (d *FFmpegDecoder) Decode(ctx context.Context, path string, sampleRate int, fn func([]float64)) error {
	args := []string{
		"-v", "error",
		"-nostdin",
		"-i", path,
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ac", "1",
		"-ar", fmt.Sprint(sampleRate),
		"pipe:1",
	}
	cmd := exec.CommandContext(ctx, d.Path, args...) //nolint:gosec // binary path comes from configuration
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	if err := readPCM16(bufio.NewReaderSize(stdout, 64*1024), fn); err != nil {
		abort(cmd)
		return err
	}
	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("ffmpeg failed: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
	}
	return nil
}

// abort kills a started command and reaps it. Nothing drains its stdout
// afterwards, so Wait alone could block on a full pipe.
func abort(cmd *exec.Cmd) {
	_ = cmd.Process.Kill() //nolint:errcheck // Process may already have exited
	_ = cmd.Wait()         //nolint:errcheck // Exit status is meaningless after Kill
}

// readPCM16 converts a little-endian int16 stream to normalized float chunks.
func readPCM16(r io.Reader, fn func([]float64)) error {
	buf := make([]byte, 32*1024)
	samples := make([]float64, 0, len(buf)/2)
	var carry []byte
	for {
		n, err := r.Read(buf)
		if n > 0 {
			data := buf[:n]
			if len(carry) > 0 {
				data = append(carry, data...)
				carry = nil
			}
			samples = samples[:0]
			for i := 0; i+1 < len(data); i += 2 {
				v := int16(binary.LittleEndian.Uint16(data[i : i+2]))
				samples = append(samples, float64(v)/32768)
			}
			if len(data)%2 == 1 {
				carry = []byte{data[len(data)-1]}
			}
			if len(samples) > 0 {
				fn(samples)
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read pcm: %w", err)
		}
	}
}
