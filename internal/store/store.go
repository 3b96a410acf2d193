// Package store is the metadata store of the ingestion pipeline: a single
// audio_tracks table recording every track's descriptive and technical
// metadata, object-store paths, and position in the ingestion state machine.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	apperrors "github.com/loistio/loist-mcp/internal/errors"
	"github.com/loistio/loist-mcp/internal/pool"
)

// Store holds the connection pool. Handlers receive a Store; tests can
// substitute one backed by a throwaway database.
type Store struct {
	pool *pool.Pool
}

// New wraps an already-constructed pool.Pool in a Store. The pool is built
// and owned by the caller (normally cmd/loist-mcp) via pool.New, so its
// min/max/idle/health-check configuration lives in one place.
func New(p *pool.Pool) *Store {
	return &Store{pool: p}
}

// Close shuts down the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping checks that Postgres is reachable.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `SELECT 1`)
	return err
}

const trackColumns = `id, source_url, audio_path, thumbnail_path, artist, title, album, genre, year,
duration_seconds, channels, sample_rate, bitrate_kbps, bit_depth, format, state, attempts,
ingested_at, updated_at, quarantined_at`

// uniqueViolation is the Postgres SQLSTATE for a unique-constraint breach.
const uniqueViolation = "23505"

// Insert records a new track row, failing with a CONFLICT error kind if the
// identifier already exists.
func (s *Store) Insert(ctx context.Context, p InsertParams) (Track, error) {
	state := p.State
	if state == "" {
		state = StatePending
	}
	row := s.pool.QueryRow(ctx, `
INSERT INTO audio_tracks (id, source_url, audio_path, thumbnail_path, artist, title, album, genre, year,
    duration_seconds, channels, sample_rate, bitrate_kbps, bit_depth, format, state)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
RETURNING `+trackColumns,
		p.ID, p.SourceURL, p.AudioPath, p.ThumbnailPath, p.Artist, p.Title, p.Album, p.Genre, p.Year,
		p.DurationSeconds, p.Channels, p.SampleRate, p.BitrateKbps, p.BitDepth, p.Format, state)

	t, err := scanTrack(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return Track{}, apperrors.New(apperrors.Conflict, "track already exists").
				WithDetails(map[string]any{"id": p.ID})
		}
		return Track{}, fmt.Errorf("insert track: %w", err)
	}
	return t, nil
}

// UpdateState performs a conditional state transition, failing with
// STATE_CONFLICT if the row is not currently in the expected "from" state.
// The orchestrator does not call it: it writes a track's row once, as
// COMPLETED via Insert or as FAILED via UpsertFailed.
func (s *Store) UpdateState(ctx context.Context, id string, from, to State) error {
	affected, err := s.pool.Exec(ctx,
		`UPDATE audio_tracks SET state = $3, updated_at = now() WHERE id = $1 AND state = $2`,
		id, from, to)
	if err != nil {
		return fmt.Errorf("update state: %w", err)
	}
	if affected == 0 {
		return apperrors.New(apperrors.StateConflict, "track is not in expected state").
			WithDetails(map[string]any{"id": id, "from": string(from), "to": string(to)})
	}
	return nil
}

// IncrementAttempts bumps the attempt counter. The orchestrator's retry
// loop counts attempts through UpsertFailed instead and does not call this.
func (s *Store) IncrementAttempts(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `UPDATE audio_tracks SET attempts = attempts + 1, updated_at = now() WHERE id = $1`, id)
	return err
}

// UpsertFailed records a FAILED attempt for id, creating the row on the
// first failure (no audio_path yet, per "any -> FAILED" transitioning from a
// state with no committed row) or incrementing its attempt count on
// subsequent ones. Returns the row's attempt count after this call.
func (s *Store) UpsertFailed(ctx context.Context, id string, sourceURL *string) (int, error) {
	var attempts int
	err := s.pool.QueryRow(ctx, `
INSERT INTO audio_tracks (id, source_url, audio_path, format, state, attempts)
VALUES ($1, $2, '', '', 'FAILED', 1)
ON CONFLICT (id) DO UPDATE
    SET state = 'FAILED', attempts = audio_tracks.attempts + 1, updated_at = now()
RETURNING attempts`,
		id, sourceURL).Scan(&attempts)
	if err != nil {
		return 0, fmt.Errorf("upsert failed track: %w", err)
	}
	return attempts, nil
}

// Get returns a track by identifier, regardless of state — the RESOURCE_NOT_FOUND
// kind is surfaced here so get_audio_metadata can distinguish "never existed"
// from "not yet completed".
func (s *Store) Get(ctx context.Context, id string) (Track, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+trackColumns+` FROM audio_tracks WHERE id = $1`, id)
	t, err := scanTrack(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Track{}, apperrors.New(apperrors.ResourceNotFound, "track not found").
			WithDetails(map[string]any{"id": id})
	}
	if err != nil {
		return Track{}, fmt.Errorf("get track: %w", err)
	}
	return t, nil
}

// Search ranks COMPLETED rows by full-text relevance against query, applying
// any supplied filters as conjunctive predicates, with ties broken by
// descending ingestion timestamp. Only COMPLETED rows are ever returned here.
func (s *Store) Search(ctx context.Context, p SearchParams) ([]SearchResult, int, error) {
	args := []any{p.Query}
	where := `state = 'COMPLETED' AND search_vector @@ websearch_to_tsquery('english', $1)`

	if p.Filters.Genre != nil {
		args = append(args, *p.Filters.Genre)
		where += fmt.Sprintf(" AND genre = $%d", len(args))
	}
	if p.Filters.Year != nil {
		args = append(args, *p.Filters.Year)
		where += fmt.Sprintf(" AND year = $%d", len(args))
	}
	if p.Filters.Format != nil {
		args = append(args, *p.Filters.Format)
		where += fmt.Sprintf(" AND format = $%d", len(args))
	}
	if p.Filters.MinDuration != nil {
		args = append(args, *p.Filters.MinDuration)
		where += fmt.Sprintf(" AND duration_seconds >= $%d", len(args))
	}
	if p.Filters.MaxDuration != nil {
		args = append(args, *p.Filters.MaxDuration)
		where += fmt.Sprintf(" AND duration_seconds <= $%d", len(args))
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM audio_tracks WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count search results: %w", err)
	}

	limit, offset := p.Limit, p.Offset
	args = append(args, limit, offset)
	rows, err := s.pool.Query(ctx, `
SELECT `+trackColumns+`, ts_rank(search_vector, websearch_to_tsquery('english', $1)) AS rank
FROM audio_tracks
WHERE `+where+`
ORDER BY rank DESC, ingested_at DESC
LIMIT $`+fmt.Sprint(len(args)-1)+` OFFSET $`+fmt.Sprint(len(args)),
		args...)
	if err != nil {
		return nil, 0, fmt.Errorf("search tracks: %w", err)
	}
	defer rows.Close()

	out := make([]SearchResult, 0)
	for rows.Next() {
		t, rank, err := scanTrackWithRank(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan search row: %w", err)
		}
		out = append(out, SearchResult{Track: t, Rank: rank})
	}
	return out, total, rows.Err()
}

// ListQuarantinable returns FAILED rows older than olderThan with no newer
// attempt recorded, for the orphan-sweep reclaim() operation.
func (s *Store) ListQuarantinable(ctx context.Context, olderThan time.Time) ([]Track, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+trackColumns+` FROM audio_tracks WHERE state = $1 AND updated_at < $2 AND quarantined_at IS NULL`,
		StateFailed, olderThan)
	if err != nil {
		return nil, fmt.Errorf("list quarantinable: %w", err)
	}
	defer rows.Close()

	out := make([]Track, 0)
	for rows.Next() {
		t, err := scanTrack(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// MarkQuarantined stamps a row as quarantined, leaving it in place until
// ListQuarantinedBlobs picks it up for deletion 7 days later.
func (s *Store) MarkQuarantined(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `UPDATE audio_tracks SET quarantined_at = now(), updated_at = now() WHERE id = $1`, id)
	return err
}

// ListQuarantinedBlobs returns rows quarantined before olderThan, candidates
// for final blob and row deletion.
func (s *Store) ListQuarantinedBlobs(ctx context.Context, olderThan time.Time) ([]Track, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+trackColumns+` FROM audio_tracks WHERE quarantined_at IS NOT NULL AND quarantined_at < $1`,
		olderThan)
	if err != nil {
		return nil, fmt.Errorf("list quarantined blobs: %w", err)
	}
	defer rows.Close()

	out := make([]Track, 0)
	for rows.Next() {
		t, err := scanTrack(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Delete removes a track row, used once its blob has been reclaimed.
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM audio_tracks WHERE id = $1`, id)
	return err
}

// --- scan helpers ---

// rowsScanner is the subset of pgx.Rows/pgx.Row that Scan needs, letting
// scanTrack serve both the single-row and multi-row query paths.
type rowsScanner interface {
	Scan(dest ...any) error
}

func scanTrack(rows rowsScanner) (Track, error) {
	var t Track
	var sourceURL, thumbnailPath, artist, title, album, genre sql.NullString
	var year, bitrateKbps, bitDepth sql.NullInt64
	var quarantinedAt sql.NullTime

	err := rows.Scan(
		&t.ID, &sourceURL, &t.AudioPath, &thumbnailPath, &artist, &title, &album, &genre, &year,
		&t.DurationSeconds, &t.Channels, &t.SampleRate, &bitrateKbps, &bitDepth, &t.Format, &t.State, &t.Attempts,
		&t.IngestedAt, &t.UpdatedAt, &quarantinedAt,
	)
	if err != nil {
		return Track{}, err
	}
	applyNullable(&t, sourceURL, thumbnailPath, artist, title, album, genre, year, bitrateKbps, bitDepth, quarantinedAt)
	return t, nil
}

func scanTrackWithRank(rows pgx.Rows) (Track, float64, error) {
	var t Track
	var sourceURL, thumbnailPath, artist, title, album, genre sql.NullString
	var year, bitrateKbps, bitDepth sql.NullInt64
	var quarantinedAt sql.NullTime
	var rank float64

	err := rows.Scan(
		&t.ID, &sourceURL, &t.AudioPath, &thumbnailPath, &artist, &title, &album, &genre, &year,
		&t.DurationSeconds, &t.Channels, &t.SampleRate, &bitrateKbps, &bitDepth, &t.Format, &t.State, &t.Attempts,
		&t.IngestedAt, &t.UpdatedAt, &quarantinedAt, &rank,
	)
	if err != nil {
		return Track{}, 0, err
	}
	applyNullable(&t, sourceURL, thumbnailPath, artist, title, album, genre, year, bitrateKbps, bitDepth, quarantinedAt)
	return t, rank, nil
}

func applyNullable(t *Track, sourceURL, thumbnailPath, artist, title, album, genre sql.NullString,
	year, bitrateKbps, bitDepth sql.NullInt64, quarantinedAt sql.NullTime) {
	if sourceURL.Valid {
		t.SourceURL = &sourceURL.String
	}
	if thumbnailPath.Valid {
		t.ThumbnailPath = &thumbnailPath.String
	}
	if artist.Valid {
		t.Artist = &artist.String
	}
	if title.Valid {
		t.Title = &title.String
	}
	if album.Valid {
		t.Album = &album.String
	}
	if genre.Valid {
		t.Genre = &genre.String
	}
	if year.Valid {
		y := int(year.Int64)
		t.Year = &y
	}
	if bitrateKbps.Valid {
		b := int(bitrateKbps.Int64)
		t.BitrateKbps = &b
	}
	if bitDepth.Valid {
		d := int(bitDepth.Int64)
		t.BitDepth = &d
	}
	if quarantinedAt.Valid {
		t.QuarantinedAt = &quarantinedAt.Time
	}
}
