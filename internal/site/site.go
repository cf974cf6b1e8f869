// Package site serves the relay's static web pages.
//
// Pages come from a configured directory when it exists, otherwise from a
// placeholder page embedded in the binary. Requests for a missing page
// without an extension are retried with ".html", so /login serves
// login.html.
package site

import (
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path"
)

//go:embed web/*
var content embed.FS

// Handler returns an http.Handler serving the site.
//
// When dir is non-empty and the directory exists, files are served from the
// filesystem. Otherwise the embedded placeholder is served.
// Panics if the embedded assets cannot be loaded (build error).
func Handler(dir string) http.Handler {
	fileSystem, _ := FileSystem(dir)
	fileServer := http.FileServer(fileSystem)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Pages are small and edited in place; always revalidate.
		w.Header().Set("Cache-Control", "no-cache, must-revalidate")

		upath := path.Clean("/" + r.URL.Path)
		if upath == "/" || exists(fileSystem, upath) {
			fileServer.ServeHTTP(w, r)
			return
		}

		if path.Ext(upath) == "" && exists(fileSystem, upath+".html") {
			r2 := r.Clone(r.Context())
			r2.URL.Path = upath + ".html"
			fileServer.ServeHTTP(w, r2)
			return
		}

		http.NotFound(w, r)
	})
}

// FileSystem resolves dir to the file system Handler would serve, and
// reports whether it is the embedded fallback.
func FileSystem(dir string) (http.FileSystem, bool) {
	if dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return http.Dir(dir), false
		}
	}

	webFS, err := fs.Sub(content, "web")
	if err != nil {
		panic(fmt.Sprintf("site: failed to load embedded web assets: %v", err))
	}
	return http.FS(webFS), true
}

func exists(fsys http.FileSystem, name string) bool {
	f, err := fsys.Open(name)
	if err != nil {
		return false
	}
	defer f.Close()
	info, err := f.Stat()
	return err == nil && !info.IsDir()
}
