// Package webassets embeds the session page template and its static
// JS/CSS into the binary via go:embed.
package webassets

import (
	"embed"
	"html/template"
	"io"
	"io/fs"
	"mime"
	"path"
	"path/filepath"
)

//go:embed static
var staticFS embed.FS

var sessionTemplate = template.Must(
	template.New("session.html.tmpl").ParseFS(staticFS, "static/session.html.tmpl"),
)

// PageData holds the two substitutions the session page template
// needs, per the HTTP surface contract.
type PageData struct {
	PathPrefix string
	WSPath     string
}

// Render writes the rendered session page to w.
func Render(w io.Writer, data PageData) error {
	return sessionTemplate.Execute(w, data)
}

// Open opens a static asset by name (relative to static/), for the
// `/s/{id}/static/{file...}` route.
func Open(name string) (fs.File, error) {
	return staticFS.Open(path.Join("static", name))
}

// ContentType guesses the MIME type for a static asset by extension,
// mirroring the original's use of mime_guess in src/assets.rs.
func ContentType(name string) string {
	ct := mime.TypeByExtension(filepath.Ext(name))
	if ct == "" {
		return "application/octet-stream"
	}
	return ct
}
