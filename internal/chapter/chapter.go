// Package chapter implements the virtual "chapter path" encoding used to
// expose a time-span of a long audio file as if it were its own file, plus
// the fixed-length chapter-generation algorithm used to produce those spans
// for files long enough to warrant splitting.
package chapter

import (
	"fmt"
	"path"
	"regexp"
	"strconv"

	"github.com/kaelberg/audiostream/internal/transcode"
)

// pseudoRe matches the "$$<start>-<end>$$" marker embedded in a chapter's
// pseudo-filename. end may be empty, meaning "to the end of the file".
var pseudoRe = regexp.MustCompile(`\$\$(\d+)-(\d*)\$\$`)

// Chapter describes one generated chapter of a source file.
type Chapter struct {
	Number  int
	Title   string
	StartMs int64
	EndMs   int64
}

// Encode builds the pseudo-filename for a chapter of a real file whose
// extension is ext (including the leading dot, or empty for none), joined
// onto the file's own path so it reads as a sub-file of it.
func Encode(realPath string, chap Chapter, ext string) string {
	pseudo := fmt.Sprintf("%03d - %s$$%d-%d$$%s", chap.Number, chap.Title, chap.StartMs, chap.EndMs, ext)
	return path.Join(realPath, pseudo)
}

// Decode splits a request path into the real on-disk file path and, if the
// last segment carries a chapter marker, the time span it refers to.
// Paths with no marker are returned unchanged with a nil span.
func Decode(requestPath string) (realPath string, span *transcode.TimeSpan) {
	base := path.Base(requestPath)
	m := pseudoRe.FindStringSubmatch(base)
	if m == nil {
		return requestPath, nil
	}

	start, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return requestPath, nil
	}

	end := int64(-1)
	if m[2] != "" {
		if e, err := strconv.ParseInt(m[2], 10, 64); err == nil {
			end = e
		}
	}

	parent := path.Dir(requestPath)
	if parent == "." {
		parent = ""
	}
	return parent, &transcode.TimeSpan{StartMs: start, EndMs: end}
}

// Generate splits a file of the given duration into fixed-length chapters,
// absorbing a short final remainder into the previous chapter rather than
// emitting a tiny trailing one: if what's left after cutting a full-length
// chapter is less than a third of the chapter length, that chapter is
// extended to the end of the file instead.
func Generate(durationMs int64, chapterLengthMinutes int) []Chapter {
	chapLength := int64(chapterLengthMinutes) * 60 * 1000
	if chapLength <= 0 || durationMs <= 0 {
		return nil
	}

	var chapters []Chapter
	start := int64(0)
	count := 0
	for start < durationMs {
		end := start + chapLength
		remaining := durationMs - end
		if remaining < chapLength/3 {
			end = durationMs
		}
		chapters = append(chapters, Chapter{
			Number:  count,
			Title:   fmt.Sprintf("Part %d", count),
			StartMs: start,
			EndMs:   end,
		})
		count++
		start = end
	}
	return chapters
}

// ShouldSplit reports whether a file of the given duration is long enough
// to warrant chapter generation, per the configured threshold.
func ShouldSplit(durationMs int64, fromDurationHours float64) bool {
	if fromDurationHours <= 0 {
		return false
	}
	thresholdMs := int64(fromDurationHours * 3600 * 1000)
	return durationMs > thresholdMs
}
