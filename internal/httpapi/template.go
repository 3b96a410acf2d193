package httpapi

import (
	"encoding/json"
	"net/http"
)

// playerData feeds the inline player template and its meta tags.
type playerData struct {
	Title         string
	AudioURL      string
	AudioMIMEType string
	ThumbnailURL  string
	EmbedURL      string
	OEmbedURL     string
	SiteName      string
}

const playerTemplateSource = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<meta property="og:type" content="music.song">
<meta property="og:title" content="{{.Title}}">
<meta property="og:audio" content="{{.AudioURL}}">
<meta property="og:audio:type" content="{{.AudioMIMEType}}">
{{if .ThumbnailURL}}<meta property="og:image" content="{{.ThumbnailURL}}">{{end}}
<meta property="og:url" content="{{.EmbedURL}}">
<meta property="og:site_name" content="{{.SiteName}}">
<meta name="twitter:card" content="player">
<meta name="twitter:player" content="{{.EmbedURL}}">
<meta name="twitter:player:width" content="500">
<meta name="twitter:player:height" content="200">
<meta name="twitter:title" content="{{.Title}}">
{{if .ThumbnailURL}}<meta name="twitter:image" content="{{.ThumbnailURL}}">{{end}}
<link rel="alternate" type="application/json+oembed" href="{{.OEmbedURL}}" title="{{.Title}}">
</head>
<body>
<audio controls src="{{.AudioURL}}" style="width:100%"></audio>
</body>
</html>
`

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
