// Package transcode defines the quality profiles this server can produce
// and the Gateway that spawns an external encoder process to produce them.
package transcode

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os/exec"

	"golang.org/x/sync/errgroup"
)

// Quality identifies one of the server's transcoding profiles. The zero
// value, Passthrough, means "remux without re-encoding" — used when a
// client asks for a time-span of the original file without a quality
// parameter.
type Quality string

const (
	Passthrough Quality = ""
	Low         Quality = "low"
	Medium      Quality = "medium"
	High        Quality = "high"
)

// Profile describes one quality level's target bitrate/format and how to
// build the encoder's argv for it.
type Profile struct {
	Quality    Quality
	Bitrate    string // e.g. "48k"
	SampleRate string // e.g. "44100"
	Channels   string // e.g. "2"
	Container  string // output container/format, e.g. "mp3"
	MimeType   string
}

// Profiles is the fixed table of quality levels this server offers,
// excluding Passthrough (which has no fixed profile — it mirrors the
// source file's own format).
var Profiles = map[Quality]Profile{
	Low:    {Quality: Low, Bitrate: "32k", SampleRate: "22050", Channels: "1", Container: "mp3", MimeType: "audio/mpeg"},
	Medium: {Quality: Medium, Bitrate: "64k", SampleRate: "44100", Channels: "2", Container: "mp3", MimeType: "audio/mpeg"},
	High:   {Quality: High, Bitrate: "128k", SampleRate: "44100", Channels: "2", Container: "mp3", MimeType: "audio/mpeg"},
}

// ErrUnknownQuality is returned when a quality string doesn't name a
// configured profile.
var ErrUnknownQuality = fmt.Errorf("transcode: unknown quality level")

// ParseQuality validates a query-parameter string against the profile
// table. An empty string is Passthrough.
func ParseQuality(s string) (Quality, error) {
	q := Quality(s)
	if q == Passthrough {
		return Passthrough, nil
	}
	if _, ok := Profiles[q]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownQuality, s)
	}
	return q, nil
}

// TimeSpan is an optional [start, end) sub-range of a source file, in
// milliseconds, used both for chapters and for client-requested seeks into
// a transcode.
type TimeSpan struct {
	StartMs int64
	// EndMs == -1 means "to the end of the file".
	EndMs int64
}

// Fingerprint derives the cache key for a given source path, quality, and
// span. It must be stable across process restarts (it's persisted in the
// cache index) and filesystem-safe on its own, without further escaping.
func Fingerprint(sourcePath string, quality Quality, span *TimeSpan) string {
	h := sha256.New()
	io.WriteString(h, sourcePath)
	io.WriteString(h, "|")
	io.WriteString(h, string(quality))
	if span != nil {
		fmt.Fprintf(h, "|%d-%d", span.StartMs, span.EndMs)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Gateway spawns the external encoder binary and exposes its stdout as a
// stream, for either a full quality-transcode or a passthrough remux of a
// time span.
type Gateway struct {
	binary string
}

// NewGateway creates a Gateway that spawns the given encoder binary (e.g.
// "ffmpeg").
func NewGateway(binary string) *Gateway {
	return &Gateway{binary: binary}
}

// Stream spawns the encoder for sourcePath at the given quality (optionally
// limited to span) and copies its stdout into output until EOF or error.
// It blocks until the encoder exits; cancel ctx to terminate it early.
func (g *Gateway) Stream(ctx context.Context, sourcePath string, quality Quality, span *TimeSpan, output io.Writer) error {
	args := g.buildArgs(sourcePath, quality, span)
	cmd := exec.CommandContext(ctx, g.binary, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("transcode: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("transcode: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("transcode: starting encoder: %w", err)
	}

	var eg errgroup.Group
	eg.Go(func() error {
		buf := make([]byte, 1024)
		for {
			n, err := stderr.Read(buf)
			if n > 0 {
				slog.Debug("transcoder output", "output", string(buf[:n]))
			}
			if err != nil {
				return nil
			}
		}
	})
	eg.Go(func() error {
		_, err := io.Copy(output, stdout)
		return err
	})

	copyErr := eg.Wait()
	waitErr := cmd.Wait()

	if copyErr != nil && ctx.Err() == nil {
		return fmt.Errorf("transcode: stream copy: %w", copyErr)
	}
	if waitErr != nil && ctx.Err() == nil {
		return fmt.Errorf("transcode: encoder process: %w", waitErr)
	}
	return nil
}

func (g *Gateway) buildArgs(sourcePath string, quality Quality, span *TimeSpan) []string {
	args := []string{}
	if span != nil && span.StartMs > 0 {
		args = append(args, "-ss", fmt.Sprintf("%.3f", float64(span.StartMs)/1000.0))
	}
	args = append(args, "-i", sourcePath)
	if span != nil && span.EndMs >= 0 {
		durationMs := span.EndMs - span.StartMs
		if durationMs > 0 {
			args = append(args, "-t", fmt.Sprintf("%.3f", float64(durationMs)/1000.0))
		}
	}
	args = append(args, "-vn")

	if quality == Passthrough {
		// Remux without re-encoding: copy the audio stream as-is into an
		// mp3-compatible container, since the span cut alone needs no
		// quality change.
		args = append(args, "-c:a", "copy", "-f", "mp3", "pipe:1")
		return args
	}

	profile := Profiles[quality]
	args = append(args,
		"-f", profile.Container,
		"-b:a", profile.Bitrate,
		"-ac", profile.Channels,
		"-ar", profile.SampleRate,
		"pipe:1",
	)
	return args
}

// TranscodedMime returns the content type produced for quality, or the
// given fallback for Passthrough (where output format mirrors the source).
func TranscodedMime(quality Quality, fallback string) string {
	if quality == Passthrough {
		return fallback
	}
	return Profiles[quality].MimeType
}
