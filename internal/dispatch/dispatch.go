// Package dispatch implements the per-request serving strategy: given a
// collection, a path (possibly a virtual chapter sub-path), and an
// optional transcoding quality, it picks one of direct range-serving,
// passthrough remuxing, or cached/fresh transcoding, and wires the
// admission controller, cache, and transcoder gateway together to serve
// it.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/kaelberg/audiostream/internal/admission"
	"github.com/kaelberg/audiostream/internal/cache"
	"github.com/kaelberg/audiostream/internal/chapter"
	"github.com/kaelberg/audiostream/internal/collection"
	"github.com/kaelberg/audiostream/internal/ioqueue"
	"github.com/kaelberg/audiostream/internal/rangeio"
	"github.com/kaelberg/audiostream/internal/tee"
	"github.com/kaelberg/audiostream/internal/transcode"
)

// Dispatcher wires together the components a file-serving request needs.
type Dispatcher struct {
	collections *collection.Registry
	cache       *cache.Cache // nil when caching is disabled
	admission   *admission.Controller
	gateway     *transcode.Gateway
	ioq         *ioqueue.Queue
}

// New builds a Dispatcher. cache may be nil to disable the transcode cache
// entirely, in which case every quality-transcoded request is admission
// controlled but never cached.
func New(collections *collection.Registry, c *cache.Cache, adm *admission.Controller, gw *transcode.Gateway, ioq *ioqueue.Queue) *Dispatcher {
	return &Dispatcher{collections: collections, cache: c, admission: adm, gateway: gw, ioq: ioq}
}

// ServeFile is the gin handler for GET /media/:collection/*filepath.
func (d *Dispatcher) ServeFile(c *gin.Context) {
	collName := c.Param("collection")
	subPath := c.Param("filepath")

	realSubPath, span := chapter.Decode(subPath)

	fullPath, err := d.collections.Resolve(collName, realSubPath)
	if err != nil {
		status := http.StatusNotFound
		if errors.Is(err, collection.ErrPathEscapesBase) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"status": "error", "error": err.Error()})
		return
	}

	quality, err := transcode.ParseQuality(c.Query("trans"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": err.Error()})
		return
	}

	seekSec, err := parseSeekSeconds(c.Query("seek"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": err.Error()})
		return
	}

	switch {
	case quality == transcode.Passthrough && span == nil:
		slog.Debug("serving file directly from fs", "path", fullPath)
		d.serveDirect(c, fullPath)

	case quality == transcode.Passthrough && span != nil:
		slog.Debug("serving part of file remuxed", "path", fullPath, "span", span)
		d.serveTranscodedUncached(c, fullPath, transcode.Passthrough, span)

	default:
		slog.Debug("serving file transcoded", "path", fullPath, "quality", quality, "seek", seekSec)
		d.serveCachedOrTranscoded(c, fullPath, quality, span, seekSec)
	}
}

// parseSeekSeconds parses the optional "seek" query parameter: a start
// offset in seconds, honored only on a transcoded-cache hit (see
// serveCachedOrTranscoded), where it triggers a remux-seek of the cached
// artifact rather than a direct range-serve.
func parseSeekSeconds(s string) (*float64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid seek parameter: %q", s)
	}
	if v < 0 {
		return nil, fmt.Errorf("seek parameter must be non-negative")
	}
	return &v, nil
}

// serveDirect range-serves the file exactly as stored, with no
// transcoding or caching involved.
func (d *Dispatcher) serveDirect(c *gin.Context, fullPath string) {
	f, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			c.JSON(http.StatusNotFound, gin.H{"status": "error", "error": "file not found"})
			return
		}
		slog.Error("error opening file", "path", fullPath, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": "internal error"})
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		slog.Error("error stat'ing file", "path", fullPath, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": "internal error"})
		return
	}

	mime := rangeio.DetectContentType(fullPath)
	if err := rangeio.ServeSeeker(c.Writer, c.Request, f, info.Size(), mime, 0); err != nil {
		slog.Error("error streaming file", "path", fullPath, "error", err)
	}
}

// serveTranscodedUncached spawns the encoder and streams its output
// straight to the client. Used for passthrough remuxes of a chapter span,
// which are cheap enough (and varied enough per-span) not to cache.
func (d *Dispatcher) serveTranscodedUncached(c *gin.Context, fullPath string, quality transcode.Quality, span *transcode.TimeSpan) {
	slot, err := d.admission.TryEnter()
	if err != nil {
		c.JSON(http.StatusTooManyRequests, gin.H{"status": "error", "error": err.Error()})
		return
	}
	defer slot.Release()

	mime := transcode.TranscodedMime(quality, rangeio.DetectContentType(fullPath))
	c.Header("Content-Type", mime)
	c.Status(http.StatusOK)

	if err := d.gateway.Stream(c.Request.Context(), fullPath, quality, span, c.Writer); err != nil {
		slog.Error("transcode stream failed", "path", fullPath, "error", err)
		if !c.Writer.Written() {
			c.AbortWithStatus(http.StatusInternalServerError)
		}
	}
}

// serveCachedOrTranscoded looks up the cache for (fullPath, quality, span).
// On a hit, it either range-serves the cached artifact directly (seekSec
// nil) or remux-seeks into it (seekSec set) — the cached artifact already
// carries the requested quality's encoding, so a seek on a hit is always a
// cheap remux, never a re-transcode. On a miss it admits, transcodes the
// original in full (ignoring seekSec, so the cache always holds a complete
// artifact), and tees the output to both the client and the cache.
func (d *Dispatcher) serveCachedOrTranscoded(c *gin.Context, fullPath string, quality transcode.Quality, span *transcode.TimeSpan, seekSec *float64) {
	if d.cache == nil {
		d.serveTranscodedUncached(c, fullPath, quality, span)
		return
	}

	key := transcode.Fingerprint(fullPath, quality, span)

	cf, err := ioqueue.DoValue(c.Request.Context(), d.ioq, func() (*os.File, error) {
		return d.cache.Get(key)
	})
	if err == nil {
		defer cf.Close()
		if seekSec != nil {
			slog.Debug("remuxing seek from cached artifact", "path", fullPath, "key", key, "seek", *seekSec)
			seekSpan := &transcode.TimeSpan{StartMs: int64(*seekSec * 1000), EndMs: -1}
			d.serveTranscodedUncached(c, cf.Name(), transcode.Passthrough, seekSpan)
			return
		}
		info, statErr := cf.Stat()
		if statErr != nil {
			slog.Error("error stat'ing cached file", "key", key, "error", statErr)
			c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": "internal error"})
			return
		}
		slog.Debug("serving file from transcoded cache", "path", fullPath, "key", key)
		mime := transcode.TranscodedMime(quality, rangeio.DetectContentType(fullPath))
		if err := rangeio.ServeSeeker(c.Writer, c.Request, cf, info.Size(), mime, 3600); err != nil {
			slog.Error("error streaming cached file", "key", key, "error", err)
		}
		return
	}
	if !errors.Is(err, cache.ErrMiss) {
		slog.Error("cache lookup error", "key", key, "error", err)
	}

	slot, err := d.admission.TryEnter()
	if err != nil {
		c.JSON(http.StatusTooManyRequests, gin.H{"status": "error", "error": err.Error()})
		return
	}
	defer slot.Release()

	var writeFile *os.File
	var fin *cache.Finisher
	err = d.ioq.Do(c.Request.Context(), func() error {
		writeFile, fin, err = d.cache.Add(key)
		return err
	})
	if err != nil {
		if errors.Is(err, cache.ErrAlreadyPending) {
			// Another request is already producing this exact artifact;
			// fall back to an uncached transcode for this one rather than
			// coalescing, per the documented simple-policy default.
			d.serveTranscodedUncached(c, fullPath, quality, span)
			return
		}
		slog.Error("cache add failed", "key", key, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": "internal error"})
		return
	}

	mime := transcode.TranscodedMime(quality, rangeio.DetectContentType(fullPath))
	c.Header("Content-Type", mime)
	c.Status(http.StatusOK)

	tw := tee.New(c.Writer, writeFile, fin)
	streamErr := d.gateway.Stream(c.Request.Context(), fullPath, quality, span, tw)
	// Stream reports nil when the request context is canceled, so a client
	// that went away mid-stream is checked separately to roll back the
	// truncated artifact instead of committing it.
	finishCause := streamErr
	if finishCause == nil {
		finishCause = c.Request.Context().Err()
	}
	finishErr := d.ioq.Do(context.Background(), func() error { return tw.Finish(finishCause) })
	if finishErr != nil {
		slog.Error("tee finish failed", "key", key, "error", finishErr)
	}
	if streamErr != nil {
		slog.Error("transcode stream failed", "path", fullPath, "error", streamErr)
	}
}

// ListCollections is the gin handler for GET /api/collections.
func (d *Dispatcher) ListCollections(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"collections": d.collections.Names()})
}

// ListTranscodings is the gin handler for GET /api/transcodings, reporting
// the configured quality profiles so clients know what trans= values are
// valid.
func (d *Dispatcher) ListTranscodings(c *gin.Context) {
	profiles := make([]gin.H, 0, len(transcode.Profiles))
	for _, p := range transcode.Profiles {
		profiles = append(profiles, gin.H{
			"quality":     string(p.Quality),
			"bitrate":     p.Bitrate,
			"sample_rate": p.SampleRate,
			"channels":    p.Channels,
			"container":   p.Container,
			"mime_type":   p.MimeType,
		})
	}
	c.JSON(http.StatusOK, gin.H{"transcodings": profiles})
}

// PurgeCache is the gin handler for POST /api/admin/cache/purge. It is
// gated behind admin auth in internal/server and actually empties the
// cache: every committed artifact is deleted from disk and the index is
// reset, so the next request for anything re-transcodes from scratch.
func (d *Dispatcher) PurgeCache(c *gin.Context) {
	if d.cache == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "message": "cache is disabled"})
		return
	}

	var files int
	var freedBytes int64
	err := d.ioq.Do(c.Request.Context(), func() error {
		var purgeErr error
		files, freedBytes, purgeErr = d.cache.PurgeAll()
		return purgeErr
	})
	if err != nil {
		slog.Error("cache purge failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"message": fmt.Sprintf("purged %d cached artifacts (%d bytes freed)", files, freedBytes),
	})
}

// ReloadCollections is the gin handler for POST /api/admin/collections/reload.
// Collection name -> base-directory mappings are fixed at startup from
// configuration, not rediscovered, so "reload" here means re-checking that
// every configured base directory is still reachable on disk — enough to
// catch an unmounted drive or a deleted directory without a restart.
func (d *Dispatcher) ReloadCollections(c *gin.Context) {
	health, err := ioqueue.DoValue(c.Request.Context(), d.ioq, func() (map[string]error, error) {
		return d.collections.CheckHealth(), nil
	})
	if err != nil {
		slog.Error("collection health check failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": "internal error"})
		return
	}

	results := make(gin.H, len(health))
	unhealthy := 0
	for name, herr := range health {
		if herr != nil {
			results[name] = herr.Error()
			unhealthy++
			slog.Warn("collection unreachable", "collection", name, "error", herr)
			continue
		}
		results[name] = "ok"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"collections": results,
		"unhealthy":   unhealthy,
	})
}
