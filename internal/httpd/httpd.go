// Package httpd is the tiny HTTP surface the core consumes: it renders
// the session page, serves embedded static assets, and upgrades the
// websocket route before handing the transport to the session's
// Attach entry point. Routing uses Go 1.22+ net/http.ServeMux pattern
// matching.
package httpd

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"nhooyr.io/websocket"

	"github.com/dnmfarrell/wsshell/internal/webassets"
	"github.com/dnmfarrell/wsshell/internal/wsconn"
)

// Session is the subset of session.Session the HTTP layer needs.
type Session interface {
	ID() string
	Attach(ctx context.Context, transport wsconn.Transport)
}

// NewMux builds the router for a single session identified by
// sess.ID(). Requests naming a different session id fall through to
// the ServeMux's own 404, per the "any other path -> 404" contract (a
// single process only ever serves its own session).
func NewMux(sess Session, logger *slog.Logger) *http.ServeMux {
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	id := sess.ID()

	mux.HandleFunc("GET /s/"+id+"/{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		data := webassets.PageData{
			PathPrefix: "/s/" + id,
			WSPath:     "/s/" + id + "/ws/",
		}
		if err := webassets.Render(w, data); err != nil {
			logger.Error("render session page", "err", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	})

	mux.HandleFunc("GET /s/"+id+"/static/{file...}", func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("file")
		f, err := webassets.Open(name)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		defer f.Close()
		w.Header().Set("Content-Type", webassets.ContentType(name))
		if _, err := io.Copy(w, f); err != nil {
			logger.Debug("static asset write failed", "name", name, "err", err)
		}
	})

	mux.HandleFunc("GET /s/"+id+"/ws/", func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			logger.Debug("websocket accept failed", "err", err)
			return
		}
		sess.Attach(r.Context(), wsconn.NhooyrTransport{Conn: conn})
	})

	return mux
}
