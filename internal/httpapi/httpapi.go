// Package httpapi serves the embed/oEmbed HTTP surface (spec component J):
// an HTML player page, oEmbed JSON, provider discovery, and liveness probes.
package httpapi

import (
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/loistio/loist-mcp/internal/objstore"
	"github.com/loistio/loist-mcp/internal/store"
	"github.com/loistio/loist-mcp/internal/urlcache"
)

const (
	providerName        = "loist"
	defaultPlayerWidth  = 500
	defaultPlayerHeight = 200
	oembedCacheAge      = 3600

	// canonicalUUIDPattern is the 8-4-4-4-12 lowercase-hex form spec §8
	// requires; uuid.Parse is deliberately not used here since it also
	// accepts uppercase, braced, urn:, and no-dash forms.
	canonicalUUIDPattern = `[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`
)

var embedURLPattern = regexp.MustCompile(`^(.*)/embed/(` + canonicalUUIDPattern + `)$`)
var canonicalUUID = regexp.MustCompile(`^` + canonicalUUIDPattern + `$`)

// Server holds the dependencies the HTTP surface needs to render tracks.
type Server struct {
	Store   *store.Store
	Objects objstore.ObjectStore
	Cache   *urlcache.Cache

	EmbedBase      string
	SignedURLTTL   time.Duration
	CORSAllowed    []string
	playerTemplate *template.Template
}

// New builds the chi router for the embed/oEmbed surface.
func New(st *store.Store, objects objstore.ObjectStore, cache *urlcache.Cache, embedBase string, signedURLTTL time.Duration, corsAllowed []string) *Server {
	s := &Server{
		Store:        st,
		Objects:      objects,
		Cache:        cache,
		EmbedBase:    strings.TrimSuffix(embedBase, "/"),
		SignedURLTTL: signedURLTTL,
		CORSAllowed:  corsAllowed,
	}
	s.playerTemplate = template.Must(template.New("player").Parse(playerTemplateSource))
	return s
}

// Router builds the chi mux, with request logging and panic recovery in
// the teacher's middleware style.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(slogMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(s.corsMiddleware)

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Get("/embed/{id}", s.handleEmbed)
	r.Get("/oembed", s.handleOEmbed)
	r.Get("/.well-known/oembed.json", s.handleProviderDiscovery)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.Ping(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ready"))
}

func (s *Server) handleEmbed(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !canonicalUUID.MatchString(id) {
		http.NotFound(w, r)
		return
	}

	track, err := s.Store.Get(r.Context(), id)
	if err != nil || track.State != store.StateCompleted {
		http.NotFound(w, r)
		return
	}

	audioURL, err := s.Cache.Get(r.Context(), s.Objects, "", track.AudioPath, objstore.MethodGet, objstore.SignOptions{})
	if err != nil {
		http.Error(w, "signing audio url failed", http.StatusInternalServerError)
		return
	}
	var thumbURL string
	if track.ThumbnailPath != nil {
		thumbURL, _ = s.Cache.Get(r.Context(), s.Objects, "", *track.ThumbnailPath, objstore.MethodGet, objstore.SignOptions{})
	}

	title := orDefault(track.Title, "Untitled")
	data := playerData{
		Title:         title,
		AudioURL:      audioURL,
		AudioMIMEType: mimeTypeForFormat(track.Format),
		ThumbnailURL:  thumbURL,
		EmbedURL:      s.EmbedBase + "/embed/" + id,
		OEmbedURL:     s.EmbedBase + "/oembed?url=" + url.QueryEscape(s.EmbedBase+"/embed/"+id),
		SiteName:      providerName,
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.playerTemplate.Execute(w, data); err != nil {
		slog.Error("render player template failed", "error", err)
	}
}

func (s *Server) handleOEmbed(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		http.Error(w, "url is required", http.StatusBadRequest)
		return
	}
	matches := embedURLPattern.FindStringSubmatch(rawURL)
	if matches == nil || matches[1] != s.EmbedBase {
		http.Error(w, "url does not match {embed-base}/embed/{uuid}", http.StatusBadRequest)
		return
	}
	// matches[2] is already constrained to canonicalUUIDPattern by embedURLPattern.
	id := matches[2]

	track, err := s.Store.Get(r.Context(), id)
	if err != nil || track.State != store.StateCompleted {
		http.NotFound(w, r)
		return
	}

	width := clampDimension(r.URL.Query().Get("maxwidth"), defaultPlayerWidth)
	height := clampDimension(r.URL.Query().Get("maxheight"), defaultPlayerHeight)

	embedURL := s.EmbedBase + "/embed/" + id
	doc := map[string]any{
		"version":      "1.0",
		"type":         "rich",
		"provider_name": providerName,
		"provider_url":  s.EmbedBase,
		"title":         orDefault(track.Title, "Untitled"),
		"author_name":   orDefault(track.Artist, ""),
		"html": `<iframe src='` + embedURL + `' width='` + strconv.Itoa(width) + `' height='` + strconv.Itoa(height) +
			`' frameborder='0' allow='autoplay'></iframe>`,
		"width":      width,
		"height":     height,
		"cache_age":  oembedCacheAge,
	}
	if track.ThumbnailPath != nil {
		if thumbURL, err := s.Cache.Get(r.Context(), s.Objects, "", *track.ThumbnailPath, objstore.MethodGet, objstore.SignOptions{}); err == nil {
			doc["thumbnail_url"] = thumbURL
			doc["thumbnail_width"] = width
			doc["thumbnail_height"] = height
		}
	}

	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleProviderDiscovery(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"provider_name": providerName,
		"provider_url":  s.EmbedBase,
		"endpoints": []map[string]any{
			{
				"schemes": []string{s.EmbedBase + "/embed/*"},
				"url":     s.EmbedBase + "/oembed",
			},
		},
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && originAllowed(origin, s.CORSAllowed) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
		next.ServeHTTP(w, r)
	})
}

func originAllowed(origin string, allowed []string) bool {
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}

// slogMiddleware logs each request's method, path, status, and duration.
func slogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Info("http request",
			"method", r.Method, "path", r.URL.Path,
			"status", ww.Status(), "duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func clampDimension(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n < def {
		return n
	}
	return def
}

func orDefault(v *string, def string) string {
	if v == nil || *v == "" {
		return def
	}
	return *v
}

func mimeTypeForFormat(format string) string {
	switch strings.ToUpper(format) {
	case "MP3":
		return "audio/mpeg"
	case "FLAC":
		return "audio/flac"
	case "OGG":
		return "audio/ogg"
	case "WAV":
		return "audio/wav"
	case "M4A", "AAC":
		return "audio/mp4"
	default:
		return "application/octet-stream"
	}
}
