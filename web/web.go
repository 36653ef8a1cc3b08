// Package web holds the landing page and app manifest served at the root.
package web

import (
	"embed"
	"io/fs"
	"net/http"
	"strings"
)

//go:embed static/*
var Files embed.FS

// Static serves the embedded assets from the site root
func Static() http.Handler {
	sub, err := fs.Sub(Files, "static")
	if err != nil {
		panic(err)
	}
	return Cache(http.FileServer(http.FS(sub)))
}

func Cache(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path

		switch {
		case path == "/" || strings.HasSuffix(path, ".html"):
			w.Header().Set("Cache-Control", "no-cache")
		case strings.HasSuffix(path, ".json"):
			// an hour for the manifest
			w.Header().Set("Cache-Control", "public, max-age=3600")
		default:
			w.Header().Set("Cache-Control", "public, max-age=86400")
		}
		h.ServeHTTP(w, r)
	})
}
