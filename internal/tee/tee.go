// Package tee splits a single producer's byte stream across exactly two
// sinks: the HTTP client response and a cache commit. It generalizes the
// "fan every Write out to every subscriber" idea of a broadcast writer down
// to exactly two sinks, one of which can fail independently and trigger a
// rollback instead of simply being dropped.
package tee

import (
	"io"

	"github.com/kaelberg/audiostream/internal/cache"
)

// Writer implements io.Writer and forwards every Write to both the client
// response and the pending cache file. If the cache write fails, the cache
// sink is disabled for the remainder of the stream (the client still gets
// its bytes) and the write is recorded so Finish knows to roll back.
type Writer struct {
	client io.Writer
	cache  io.Writer
	fin    *cache.Finisher

	cacheFailed bool
}

// New wraps client (the HTTP response writer) and a pending cache file plus
// its Finisher, obtained from cache.Cache.Add.
func New(client io.Writer, cacheFile io.Writer, fin *cache.Finisher) *Writer {
	return &Writer{client: client, cache: cacheFile, fin: fin}
}

// Write sends p to the client first, then the cache. A client write error
// is returned immediately and stops the stream outright — there is nothing
// useful left to do once the reader has gone away. A cache write error is
// swallowed here and remembered; the transcode keeps flowing to the client
// and Finish rolls the cache entry back instead of committing a truncated
// file.
func (w *Writer) Write(p []byte) (int, error) {
	n, err := w.client.Write(p)
	if err != nil {
		return n, err
	}

	if !w.cacheFailed {
		if _, cerr := w.cache.Write(p); cerr != nil {
			w.cacheFailed = true
		}
	}

	return n, nil
}

// Finish must be called once the producer reaches EOF or fails. On success
// (producerErr == nil) and no observed cache write failure, it commits the
// cache entry; otherwise it rolls back.
func (w *Writer) Finish(producerErr error) error {
	if producerErr != nil || w.cacheFailed {
		return w.fin.Rollback()
	}
	return w.fin.Commit()
}
