package chapter

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	chap := Chapter{Number: 2, Title: "Part 2", StartMs: 1800000, EndMs: 3600000}
	encoded := Encode("audiobooks/book.mp3", chap, ".mp3")

	real, span := Decode(encoded)
	if real != "audiobooks/book.mp3" {
		t.Fatalf("expected real path to be the base file, got %q", real)
	}
	if span == nil {
		t.Fatal("expected a span to be decoded")
	}
	if span.StartMs != 1800000 || span.EndMs != 3600000 {
		t.Fatalf("got span %+v", span)
	}
}

func TestDecodeOpenEndedSpan(t *testing.T) {
	encoded := "audiobooks/book.mp3/003 - Part 3$$5400000-$$.mp3"
	real, span := Decode(encoded)
	if real != "audiobooks/book.mp3" {
		t.Fatalf("got real path %q", real)
	}
	if span == nil || span.StartMs != 5400000 || span.EndMs != -1 {
		t.Fatalf("got span %+v", span)
	}
}

func TestDecodePlainPathHasNoSpan(t *testing.T) {
	real, span := Decode("audiobooks/book.mp3")
	if real != "audiobooks/book.mp3" {
		t.Fatalf("got real path %q", real)
	}
	if span != nil {
		t.Fatalf("expected nil span for a plain path, got %+v", span)
	}
}

func TestGenerateFixedLengthChapters(t *testing.T) {
	// 100 minutes at 30-minute chapters: 0-30, 30-60, 60-90, 90-100. The
	// 10-minute remainder is not less than 30/3, so it stays its own chapter.
	durationMs := int64(100 * 60 * 1000)
	chaps := Generate(durationMs, 30)

	if len(chaps) == 0 {
		t.Fatal("expected at least one chapter")
	}
	if chaps[0].StartMs != 0 {
		t.Fatalf("first chapter must start at 0, got %d", chaps[0].StartMs)
	}
	last := chaps[len(chaps)-1]
	if last.EndMs != durationMs {
		t.Fatalf("last chapter must reach the file's end, got %d want %d", last.EndMs, durationMs)
	}
	for i := 1; i < len(chaps); i++ {
		if chaps[i].StartMs != chaps[i-1].EndMs {
			t.Fatalf("chapters must be contiguous: chapter %d starts at %d but previous ends at %d",
				i, chaps[i].StartMs, chaps[i-1].EndMs)
		}
	}
}

func TestGenerateAbsorbsShortTail(t *testing.T) {
	// 95 minutes at 30-minute chapters: a naive cut would leave a 5-minute
	// final chapter (5 < 30/3=10), so it must be absorbed into the third.
	durationMs := int64(95 * 60 * 1000)
	chaps := Generate(durationMs, 30)

	if len(chaps) != 3 {
		t.Fatalf("expected tail absorption to yield 3 chapters, got %d", len(chaps))
	}
	if chaps[2].EndMs != durationMs {
		t.Fatalf("final chapter must absorb the short remainder, got end %d want %d", chaps[2].EndMs, durationMs)
	}
}

func TestGenerateZeroOrNegativeInputsYieldNothing(t *testing.T) {
	if Generate(0, 30) != nil {
		t.Fatal("expected nil chapters for zero duration")
	}
	if Generate(60000, 0) != nil {
		t.Fatal("expected nil chapters for zero chapter length")
	}
}

func TestShouldSplit(t *testing.T) {
	twoHoursMs := int64(2 * 3600 * 1000)
	if ShouldSplit(twoHoursMs-1, 2.0) {
		t.Fatal("file just under threshold should not split")
	}
	if !ShouldSplit(twoHoursMs+1, 2.0) {
		t.Fatal("file just over threshold should split")
	}
	if ShouldSplit(twoHoursMs+1, 0) {
		t.Fatal("a non-positive threshold disables splitting")
	}
}
