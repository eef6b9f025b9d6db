package transcode

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestParseQuality(t *testing.T) {
	q, err := ParseQuality("")
	if err != nil || q != Passthrough {
		t.Fatalf("expected Passthrough for empty string, got %v, %v", q, err)
	}

	q, err = ParseQuality("medium")
	if err != nil || q != Medium {
		t.Fatalf("expected Medium, got %v, %v", q, err)
	}

	_, err = ParseQuality("ultra-hd")
	if !errors.Is(err, ErrUnknownQuality) {
		t.Fatalf("expected ErrUnknownQuality, got %v", err)
	}
}

func TestFingerprintStableAndDistinct(t *testing.T) {
	a := Fingerprint("/books/one.mp3", Medium, nil)
	b := Fingerprint("/books/one.mp3", Medium, nil)
	if a != b {
		t.Fatal("fingerprint must be deterministic for identical inputs")
	}

	c := Fingerprint("/books/one.mp3", High, nil)
	if a == c {
		t.Fatal("fingerprint must differ across quality levels")
	}

	d := Fingerprint("/books/one.mp3", Medium, &TimeSpan{StartMs: 0, EndMs: 60000})
	if a == d {
		t.Fatal("fingerprint must differ when a span is present")
	}
}

func TestBuildArgsPassthroughUsesCopyCodec(t *testing.T) {
	g := NewGateway("ffmpeg")
	args := g.buildArgs("/books/one.mp3", Passthrough, &TimeSpan{StartMs: 1000, EndMs: 5000})
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "-c:a copy") {
		t.Fatalf("expected copy codec in passthrough args, got: %s", joined)
	}
	if !strings.Contains(joined, "-ss 1.000") {
		t.Fatalf("expected -ss start offset, got: %s", joined)
	}
	if !strings.Contains(joined, "-t 4.000") {
		t.Fatalf("expected -t duration of 4s, got: %s", joined)
	}
}

func TestBuildArgsQualityUsesProfile(t *testing.T) {
	g := NewGateway("ffmpeg")
	args := g.buildArgs("/books/one.mp3", High, nil)
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "-b:a 128k") {
		t.Fatalf("expected high-quality bitrate, got: %s", joined)
	}
}

func TestStreamReturnsErrorForMissingBinary(t *testing.T) {
	g := NewGateway("definitely-not-a-real-encoder-binary")
	var sink strings.Builder
	err := g.Stream(context.Background(), "/nonexistent.mp3", Medium, nil, &sink)
	if err == nil {
		t.Fatal("expected error spawning a nonexistent binary")
	}
}
