// Package web embeds the built frontend (dist/) and provides an HTTP handler
// that serves it as a single-page application (SPA).
//
// dist/ ships with a placeholder index.html; the frontend build overwrites it.
// In development, set DEV_PROXY_URL to forward page requests to the frontend
// dev server instead.
package web

import (
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
)

//go:embed all:dist
var distFS embed.FS

// Routes are the client-side routes rendered by the SPA shell.
var Routes = []string{
	"/",
	"/auth",
	"/dashboard",
	"/create-persona",
	"/create-ab-test",
	"/steps",
	"/persona/generate",
	"/persona-simulation",
}

// IsClientRoute reports whether path is one of Routes.
func IsClientRoute(path string) bool {
	if path != "/" {
		path = strings.TrimSuffix(path, "/")
	}
	for _, r := range Routes {
		if r == path {
			return true
		}
	}
	return false
}

// SPAHandler returns an http.Handler that serves the embedded frontend.
// It serves static files from dist/ and index.html for client routes.
// Unknown paths get index.html with a 404 status so the client renders its
// not-found page.
func SPAHandler() http.Handler {
	subFS, err := fs.Sub(distFS, "dist")
	if err != nil {
		panic("web: failed to create sub filesystem: " + err.Error())
	}

	fileServer := http.FileServer(http.FS(subFS))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/")
		if path != "" && !IsClientRoute(r.URL.Path) {
			// Try to serve the file directly.
			if f, err := subFS.Open(path); err == nil {
				if closeErr := f.Close(); closeErr != nil {
					slog.Debug("web: failed to close embedded file", "path", path, "error", closeErr)
				}
				fileServer.ServeHTTP(w, r)
				return
			}
		}

		index, err := fs.ReadFile(subFS, "index.html")
		if err != nil {
			http.Error(w, "frontend not built", http.StatusNotFound)
			return
		}
		status := http.StatusOK
		if !IsClientRoute(r.URL.Path) {
			status = http.StatusNotFound
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
		_, _ = w.Write(index)
	})
}

// DevProxy forwards requests to the frontend dev server at target.
func DevProxy(target string) (http.Handler, error) {
	u, err := url.Parse(target)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid dev proxy url %q", target)
	}
	proxy := httputil.NewSingleHostReverseProxy(u)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		slog.Warn("web: dev proxy request failed", "path", r.URL.Path, "error", err)
		http.Error(w, "frontend dev server unavailable", http.StatusBadGateway)
	}
	return proxy, nil
}
