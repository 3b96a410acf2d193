// Package rpc exposes the ingestion pipeline as an MCP tool surface
// (spec component I): health_check, process_audio_complete,
// get_audio_metadata, search_library.
package rpc

import (
	"context"
	"fmt"
	"regexp"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	apperrors "github.com/loistio/loist-mcp/internal/errors"
	"github.com/loistio/loist-mcp/internal/orchestrator"
	"github.com/loistio/loist-mcp/internal/ratelimit"
	"github.com/loistio/loist-mcp/internal/store"
	"github.com/loistio/loist-mcp/internal/urlcache"
)

const (
	serviceName    = "loist-mcp"
	serviceVersion = "1.0.0"

	defaultSearchLimit = 20
	maxSearchLimit     = 100
)

// canonicalUUID is the 8-4-4-4-12 lowercase-hex form spec §8 requires;
// uuid.Parse is deliberately not used here since it also accepts uppercase,
// braced, urn:, and no-dash forms that the spec says must be rejected.
var canonicalUUID = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// Auth gates tool dispatch behind a single shared bearer token, per §4.I.
type Auth struct {
	Enabled bool
	Token   string
}

// check validates token against the configured bearer token. A disabled
// Auth always passes.
func (a Auth) check(token string) error {
	if !a.Enabled {
		return nil
	}
	if token == "" || token != a.Token {
		return apperrors.New(apperrors.AuthenticationFailed, "missing or invalid bearer token")
	}
	return nil
}

// Server wires the orchestrator and store behind the three ingestion/query
// tools plus health_check.
type Server struct {
	mcp *server.MCPServer

	orch      *orchestrator.Orchestrator
	store     *store.Store
	cache     *urlcache.Cache
	limiter   *ratelimit.Limiter
	auth      Auth
	transport string
	embedBase string
}

// New builds the MCP server and registers its tools.
func New(orch *orchestrator.Orchestrator, st *store.Store, cache *urlcache.Cache, limiter *ratelimit.Limiter, auth Auth, transport, embedBase string) *Server {
	s := &Server{
		mcp:       server.NewMCPServer(serviceName, serviceVersion),
		orch:      orch,
		store:     st,
		cache:     cache,
		limiter:   limiter,
		auth:      auth,
		transport: transport,
		embedBase: embedBase,
	}
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool("health_check",
		mcp.WithDescription("Reports service liveness, name, version, and active transport."),
	), s.handleHealthCheck)

	s.mcp.AddTool(mcp.NewTool("process_audio_complete",
		mcp.WithDescription("Downloads an audio file from an HTTP(S) source, extracts its metadata, stores it, and returns the result."),
		mcp.WithObject("source", mcp.Required(), mcp.Description("{ type: \"http_url\", url, headers?, filename?, mimeType? }")),
		mcp.WithObject("options", mcp.Description("{ maxSizeMB?: int }")),
	), s.handleProcessAudioComplete)

	s.mcp.AddTool(mcp.NewTool("get_audio_metadata",
		mcp.WithDescription("Retrieves a previously ingested track's metadata by id."),
		mcp.WithString("audioId", mcp.Required(), mcp.Description("UUID of the track")),
	), s.handleGetAudioMetadata)

	s.mcp.AddTool(mcp.NewTool("search_library",
		mcp.WithDescription("Full-text searches the completed track library."),
		mcp.WithString("query", mcp.Required()),
		mcp.WithObject("filters", mcp.Description("{ genre?, year?, format?, minDuration?, maxDuration? }")),
		mcp.WithNumber("limit", mcp.Description("default 20, clamped to [1, 100]")),
		mcp.WithNumber("offset", mcp.Description("default 0")),
	), s.handleSearchLibrary)
}

// Serve runs the MCP server on the configured transport (stdio|http|sse).
func (s *Server) Serve(ctx context.Context, addr string) error {
	switch s.transport {
	case "stdio":
		return server.ServeStdio(s.mcp)
	case "sse":
		return server.NewSSEServer(s.mcp).Start(addr)
	case "http":
		return server.NewStreamableHTTPServer(s.mcp).Start(addr)
	default:
		return fmt.Errorf("unknown transport %q", s.transport)
	}
}

func (s *Server) handleHealthCheck(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(map[string]any{
		"status":    "ok",
		"service":   serviceName,
		"version":   serviceVersion,
		"transport": s.transport,
	})
}

func (s *Server) handleProcessAudioComplete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.authenticate(ctx, req); err != nil {
		return errorResult(err), nil
	}

	args := req.GetArguments()
	source, ok := args["source"].(map[string]any)
	if !ok {
		return errorResult(apperrors.New(apperrors.ValidationError, "source is required")), nil
	}
	rawURL, _ := source["url"].(string)
	if rawURL == "" {
		return errorResult(apperrors.New(apperrors.ValidationError, "source.url is required")), nil
	}
	headers := map[string]string{}
	if h, ok := source["headers"].(map[string]any); ok {
		for k, v := range h {
			if sv, ok := v.(string); ok {
				headers[k] = sv
			}
		}
	}
	filename, _ := source["filename"].(string)
	mimeType, _ := source["mimeType"].(string)

	opts := orchestrator.Options{}
	if o, ok := args["options"].(map[string]any); ok {
		if mb, ok := o["maxSizeMB"].(float64); ok {
			opts.MaxSizeMB = int(mb)
		}
	}

	result, err := s.orch.Process(ctx, orchestrator.Source{HttpURL: &orchestrator.HttpURLSource{
		URL:      rawURL,
		Headers:  headers,
		Filename: filename,
		MimeType: mimeType,
	}}, opts)
	if err != nil {
		return errorResult(err), nil
	}

	embedLink := fmt.Sprintf("%s/embed/%s", s.embedBase, result.TrackID)
	return jsonResult(map[string]any{
		"success": true,
		"audioId": result.TrackID,
		"metadata": map[string]any{
			"Product": map[string]any{
				"Artist": result.Metadata.Artist,
				"Title":  result.Metadata.Title,
				"Album":  result.Metadata.Album,
				"MBID":   nil,
				"Genre":  genreList(result.Metadata.Genre),
				"Year":   yearOrNil(result.Metadata.Year),
			},
			"Format": map[string]any{
				"Duration":    result.Metadata.DurationSeconds,
				"Channels":    result.Metadata.Channels,
				"Sample rate": result.Metadata.SampleRateHz,
				"Bitrate":     result.Metadata.BitrateKbps,
				"Format":      result.Format,
			},
			"urlEmbedLink": embedLink,
		},
		"resources": map[string]any{
			"audio":     result.AudioURI,
			"thumbnail": emptyToNil(result.ThumbnailURI),
			"waveform":  nil,
		},
		"processingTime": float64(result.ProcessingTimeMs) / 1000.0,
	})
}

func (s *Server) handleGetAudioMetadata(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.authenticate(ctx, req); err != nil {
		return errorResult(err), nil
	}

	id, err := req.RequireString("audioId")
	if err != nil {
		return errorResult(apperrors.New(apperrors.ValidationError, "audioId is required")), nil
	}
	if !canonicalUUID.MatchString(id) {
		return errorResult(apperrors.New(apperrors.InvalidQuery, "audioId must be a canonical lowercase UUID")), nil
	}

	track, err := s.store.Get(ctx, id)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(trackToMap(track))
}

func (s *Server) handleSearchLibrary(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.authenticate(ctx, req); err != nil {
		return errorResult(err), nil
	}

	query, err := req.RequireString("query")
	if err != nil {
		return errorResult(apperrors.New(apperrors.ValidationError, "query is required")), nil
	}

	args := req.GetArguments()
	limit := intArg(args, "limit", defaultSearchLimit)
	if limit < 1 {
		limit = 1
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}
	offset := intArg(args, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	var filters store.SearchFilters
	if f, ok := args["filters"].(map[string]any); ok {
		if genre, ok := f["genre"].(string); ok && genre != "" {
			filters.Genre = &genre
		}
		if format, ok := f["format"].(string); ok && format != "" {
			filters.Format = &format
		}
		if year, ok := f["year"].(float64); ok {
			y := int(year)
			filters.Year = &y
		}
		if minD, ok := f["minDuration"].(float64); ok {
			filters.MinDuration = &minD
		}
		if maxD, ok := f["maxDuration"].(float64); ok {
			filters.MaxDuration = &maxD
		}
	}

	results, total, err := s.store.Search(ctx, store.SearchParams{Query: query, Filters: filters, Limit: limit, Offset: offset})
	if err != nil {
		return errorResult(err), nil
	}

	rows := make([]map[string]any, 0, len(results))
	for _, r := range results {
		row := trackToMap(r.Track)
		row["rank"] = r.Rank
		rows = append(rows, row)
	}
	return jsonResult(map[string]any{"results": rows, "total": total})
}

func (s *Server) authenticate(ctx context.Context, req mcp.CallToolRequest) error {
	token := ""
	if args := req.GetArguments(); args != nil {
		if t, ok := args["_bearerToken"].(string); ok {
			token = t
		}
	}
	if err := s.auth.check(token); err != nil {
		return err
	}
	if s.limiter != nil {
		rateKey := token
		if rateKey == "" {
			rateKey = "anonymous"
		}
		if err := s.limiter.Allow(ctx, rateKey); err != nil {
			return err
		}
	}
	return nil
}

func trackToMap(t store.Track) map[string]any {
	return map[string]any{
		"id":              t.ID,
		"sourceUrl":       t.SourceURL,
		"audioPath":       t.AudioPath,
		"thumbnailPath":   t.ThumbnailPath,
		"artist":          t.Artist,
		"title":           t.Title,
		"album":           t.Album,
		"genre":           t.Genre,
		"year":            t.Year,
		"durationSeconds": t.DurationSeconds,
		"channels":        t.Channels,
		"sampleRate":      t.SampleRate,
		"bitrateKbps":     t.BitrateKbps,
		"bitDepth":        t.BitDepth,
		"format":          t.Format,
		"state":           t.State,
		"attempts":        t.Attempts,
		"ingestedAt":      t.IngestedAt,
		"updatedAt":       t.UpdatedAt,
	}
}

func genreList(genre string) []string {
	if genre == "" {
		return []string{}
	}
	return []string{genre}
}

func yearOrNil(year int) any {
	if year == 0 {
		return nil
	}
	return year
}

func emptyToNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}
