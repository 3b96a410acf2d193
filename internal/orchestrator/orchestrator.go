// Package orchestrator drives the bounded ingestion state machine of spec
// component H: fetch, classify, extract, upload, record — with retry,
// per-source deduplication, and orphan reclamation.
package orchestrator

import (
	"context"
	"fmt"
	"math/rand"
	"mime"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	apperrors "github.com/loistio/loist-mcp/internal/errors"
	"github.com/loistio/loist-mcp/internal/fetch"
	"github.com/loistio/loist-mcp/internal/metadata"
	"github.com/loistio/loist-mcp/internal/objstore"
	"github.com/loistio/loist-mcp/internal/signature"
	"github.com/loistio/loist-mcp/internal/store"
)

const (
	maxAttempts            = 3
	baseBackoff            = 1 * time.Second
	maxBackoff             = 30 * time.Second
	defaultMaxSizeMB       = 100
	quarantineAfter        = time.Hour
	deleteAfterQuarantine  = 7 * 24 * time.Hour
	reclaimSingleflightKey = "reclaim"
)

// Source is the tagged source variant. Only HttpUrl is implemented; the
// field exists so future source kinds slot in without reshaping Options.
type Source struct {
	HttpURL *HttpURLSource
}

// HttpURLSource is the "download this URL" source variant. Filename and
// MimeType mirror the optional fields of the §6 ingestion request schema:
// Filename backs the metadata title fallback when the source has no tags,
// and MimeType backs extension detection when the URL path has none.
type HttpURLSource struct {
	URL      string
	Headers  map[string]string
	Filename string
	MimeType string
}

// Options carries per-call ingestion parameters.
type Options struct {
	MaxSizeMB int
}

// Result is the successful outcome of process(), per spec §4.H.
type Result struct {
	TrackID          string
	Metadata         *metadata.TrackMetadata
	Format           string
	AudioURI         string
	ThumbnailURI     string
	ProcessingTimeMs int64
}

// Orchestrator wires components A-G into the ingestion pipeline.
type Orchestrator struct {
	Fetcher *fetch.Fetcher
	Objects objstore.ObjectStore
	Store   *store.Store

	bucket string
	inFlight singleflight.Group
	clock    func() time.Time
}

// New builds an Orchestrator. bucket is prefixed onto returned resource URIs
// for display only — the ObjectStore itself already knows its own bucket.
func New(fetcher *fetch.Fetcher, objects objstore.ObjectStore, st *store.Store, bucket string) *Orchestrator {
	return &Orchestrator{Fetcher: fetcher, Objects: objects, Store: st, bucket: bucket, clock: time.Now}
}

// Process runs the full ingestion state machine for src, deduplicating
// concurrent identical requests for the same source URL into one attempt.
func (o *Orchestrator) Process(ctx context.Context, src Source, opts Options) (*Result, error) {
	if src.HttpURL == nil {
		return nil, apperrors.New(apperrors.ValidationError, "only HttpUrl sources are supported")
	}
	key := src.HttpURL.URL
	v, err, _ := o.inFlight.Do(key, func() (any, error) {
		return o.attemptWithRetry(ctx, *src.HttpURL, opts)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Result), nil
}

// attemptWithRetry traverses the state machine, retrying retriable errors
// up to maxAttempts with full-jitter exponential backoff per spec §5.
func (o *Orchestrator) attemptWithRetry(ctx context.Context, src HttpURLSource, opts Options) (*Result, error) {
	id := uuid.NewString()
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := o.attempt(ctx, id, src, opts)
		if err == nil {
			return result, nil
		}
		lastErr = err

		kind := apperrors.Classify(err)
		if e, ok := apperrors.As(err); !ok || !e.Retriable() {
			o.recordFailure(ctx, id, &src.URL)
			return nil, err
		}
		attempts, failErr := o.recordFailure(ctx, id, &src.URL)
		if failErr != nil {
			return nil, failErr
		}
		if attempts >= maxAttempts {
			return nil, apperrors.Wrap(kind, "exhausted retry attempts", err)
		}
		if attempt < maxAttempts {
			sleepWithJitter(ctx, attempt)
		}
	}
	return nil, lastErr
}

func (o *Orchestrator) recordFailure(ctx context.Context, id string, sourceURL *string) (int, error) {
	return o.Store.UpsertFailed(ctx, id, sourceURL)
}

// sleepWithJitter blocks for 1s*2^attempt capped at 30s, with full jitter,
// or until ctx is done.
func sleepWithJitter(ctx context.Context, attempt int) {
	backoff := baseBackoff * time.Duration(1<<uint(attempt))
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	jittered := time.Duration(rand.Int63n(int64(backoff)))
	timer := time.NewTimer(jittered)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// attempt runs one traversal of PENDING -> ... -> COMPLETED, guaranteeing
// temporary file cleanup on every exit path, including panic.
func (o *Orchestrator) attempt(ctx context.Context, id string, src HttpURLSource, opts Options) (result *Result, err error) {
	start := o.clock()
	maxSizeMB := opts.MaxSizeMB
	if maxSizeMB <= 0 {
		maxSizeMB = defaultMaxSizeMB
	}

	var tmpPath string
	defer func() {
		if r := recover(); r != nil {
			err = apperrors.New(apperrors.InternalError, fmt.Sprintf("panic during ingestion: %v", r))
		}
		if tmpPath != "" {
			cleanupTemp(tmpPath)
		}
	}()

	// PENDING -> DOWNLOADING
	fetched, err := o.Fetcher.Fetch(ctx, fetch.Options{URL: src.URL, Headers: src.Headers, MaxSizeMB: maxSizeMB})
	if err != nil {
		return nil, err
	}
	tmpPath = fetched.Path

	// DOWNLOADING -> VALIDATING
	header, err := readHeader(tmpPath)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.FetchFailed, "reading downloaded file failed", err)
	}
	ext := extFromURL(src.URL)
	if ext == "" && src.MimeType != "" {
		ext = extFromMIME(src.MimeType)
	}
	format, err := signature.Validate(header, ext)
	if err != nil {
		return nil, err
	}

	// VALIDATING -> EXTRACTING
	md, err := metadata.Extract(tmpPath, sourceFilename(src), format)
	if err != nil {
		return nil, err
	}

	// EXTRACTING -> UPLOADING
	audioKey := path.Join("audio", id, id+"."+strings.ToLower(string(format)))
	if err := o.uploadFile(ctx, audioKey, tmpPath); err != nil {
		return nil, err
	}

	var thumbnailPath *string
	if md.Artwork != nil && len(md.Artwork.Data) > 0 {
		thumbKey, uerr := o.uploadThumbnail(ctx, id, md.Artwork)
		if uerr != nil {
			return nil, uerr
		}
		thumbnailPath = &thumbKey
	}

	// UPLOADING -> RECORDING: single-step insert with state=COMPLETED
	sourceURL := src.URL
	var year *int
	if md.Year != 0 {
		year = &md.Year
	}
	var bitrate *int
	if md.BitrateKbps != 0 {
		bitrate = &md.BitrateKbps
	}
	var bitDepth *int
	if md.BitDepth != 0 {
		bitDepth = &md.BitDepth
	}

	_, err = o.Store.Insert(ctx, store.InsertParams{
		ID:              id,
		SourceURL:       &sourceURL,
		AudioPath:       audioKey,
		ThumbnailPath:   thumbnailPath,
		Artist:          strPtr(md.Artist),
		Title:           strPtr(md.Title),
		Album:           strPtr(md.Album),
		Genre:           strPtr(md.Genre),
		Year:            year,
		DurationSeconds: md.DurationSeconds,
		Channels:        md.Channels,
		SampleRate:      md.SampleRateHz,
		BitrateKbps:     bitrate,
		BitDepth:        bitDepth,
		Format:          string(format),
		State:           store.StateCompleted,
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.DatabaseError, "recording track failed", err)
	}
	// RECORDING -> COMPLETED: the insert above is the commit itself.

	res := &Result{
		TrackID:          id,
		Metadata:         md,
		Format:           string(format),
		AudioURI:         fmt.Sprintf("%s/%s", o.bucket, audioKey),
		ProcessingTimeMs: o.clock().Sub(start).Milliseconds(),
	}
	if thumbnailPath != nil {
		res.ThumbnailURI = fmt.Sprintf("%s/%s", o.bucket, *thumbnailPath)
	}
	return res, nil
}

func (o *Orchestrator) uploadFile(ctx context.Context, key, filePath string) error {
	f, size, err := openForUpload(filePath)
	if err != nil {
		return apperrors.Wrap(apperrors.StorageError, "opening file for upload failed", err)
	}
	defer f.Close()
	if err := o.Objects.Put(ctx, key, f, size); err != nil {
		return storageFailedFor(err, "uploading audio blob failed")
	}
	return nil
}

func (o *Orchestrator) uploadThumbnail(ctx context.Context, id string, art *metadata.Artwork) (string, error) {
	ext := extFromMIME(art.MIMEType)
	key := path.Join("audio", id, "thumbnail"+ext)
	if err := o.Objects.Put(ctx, key, newByteReader(art.Data), int64(len(art.Data))); err != nil {
		return "", storageFailedFor(err, "uploading thumbnail failed")
	}
	return key, nil
}

// storageFailedFor wraps a STORAGE_ERROR, retriable only when objstore.Retriable
// reports the underlying failure as a 5xx/network condition rather than a
// terminal 4xx, per spec §7's "STORAGE_ERROR(5xx)" retriability scope.
func storageFailedFor(cause error, message string) error {
	wrapped := apperrors.Wrap(apperrors.StorageError, message, cause)
	if !objstore.Retriable(cause) {
		wrapped.NotRetriable()
	}
	return wrapped
}

// Reclaim runs the orphan sweep: quarantines FAILED rows older than one
// hour with no newer attempt, then deletes blobs and rows quarantined more
// than seven days ago. Single-flighted so overlapping timers collapse.
func (o *Orchestrator) Reclaim(ctx context.Context) error {
	_, err, _ := o.inFlight.Do(reclaimSingleflightKey, func() (any, error) {
		return nil, o.reclaim(ctx)
	})
	return err
}

func (o *Orchestrator) reclaim(ctx context.Context) error {
	now := o.clock()

	quarantinable, err := o.Store.ListQuarantinable(ctx, now.Add(-quarantineAfter))
	if err != nil {
		return fmt.Errorf("list quarantinable: %w", err)
	}
	for _, t := range quarantinable {
		if t.AudioPath != "" {
			quarantineKey := path.Join("quarantine", t.ID, path.Base(t.AudioPath))
			if err := o.moveToQuarantine(ctx, t.AudioPath, quarantineKey); err != nil {
				continue
			}
		}
		if err := o.Store.MarkQuarantined(ctx, t.ID); err != nil {
			return fmt.Errorf("mark quarantined %s: %w", t.ID, err)
		}
	}

	expired, err := o.Store.ListQuarantinedBlobs(ctx, now.Add(-deleteAfterQuarantine))
	if err != nil {
		return fmt.Errorf("list quarantined blobs: %w", err)
	}
	for _, t := range expired {
		if t.AudioPath != "" {
			_ = o.Objects.Delete(ctx, t.AudioPath)
			_ = o.Objects.Delete(ctx, path.Join("quarantine", t.ID, path.Base(t.AudioPath)))
		}
		if t.ThumbnailPath != nil {
			_ = o.Objects.Delete(ctx, *t.ThumbnailPath)
		}
		if err := o.Store.Delete(ctx, t.ID); err != nil {
			return fmt.Errorf("delete reclaimed row %s: %w", t.ID, err)
		}
	}
	return nil
}

// moveToQuarantine copies the blob to the quarantine prefix and removes the
// original; object stores here have no native rename, so it's copy+delete.
func (o *Orchestrator) moveToQuarantine(ctx context.Context, srcKey, dstKey string) error {
	size, err := o.Objects.Size(ctx, srcKey)
	if err != nil {
		return err
	}
	r, err := o.Objects.GetRange(ctx, srcKey, 0, size)
	if err != nil {
		return err
	}
	defer r.Close()
	if err := o.Objects.Put(ctx, dstKey, r, size); err != nil {
		return err
	}
	return o.Objects.Delete(ctx, srcKey)
}

// sourceFilename resolves the name used for the metadata title fallback:
// the request's explicit filename when supplied, else the ingestion URL's
// own path basename, per spec §4.B's "title defaults to the source
// filename stem" — never the downloaded temp file's randomly generated name.
func sourceFilename(src HttpURLSource) string {
	if src.Filename != "" {
		return src.Filename
	}
	u, err := url.Parse(src.URL)
	if err != nil {
		return ""
	}
	base := path.Base(u.Path)
	if base == "." || base == "/" {
		return ""
	}
	return base
}

func extFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return filepath.Ext(rawURL)
	}
	return filepath.Ext(u.Path)
}

func extFromMIME(mimeType string) string {
	exts, err := mime.ExtensionsByType(mimeType)
	if err != nil || len(exts) == 0 {
		if strings.Contains(mimeType, "png") {
			return ".png"
		}
		return ".jpg"
	}
	return exts[0]
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
