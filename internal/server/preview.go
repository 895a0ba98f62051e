package server

import (
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/razvandimescu/peekhtml/internal/editor"
	"github.com/razvandimescu/peekhtml/internal/filetree"
)

// servePreview serves a project file. HTML pages get the editor script
// injected; everything else is streamed unchanged.
func (s *Server) servePreview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rel := strings.TrimPrefix(r.URL.Path, editor.PreviewPrefix)
	filePath, err := s.store.Resolve(rel)
	if err != nil {
		if statusFor(err) == http.StatusForbidden {
			log.Printf("Blocked preview of %q: %v", rel, err)
		}
		http.Error(w, errorMessage(err), statusFor(err))
		return
	}

	info, err := os.Stat(filePath)
	if err != nil || info.IsDir() {
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}

	if !filetree.IsHTML(filePath) {
		serveRaw(w, r, filePath, info)
		return
	}

	content, err := os.ReadFile(filePath)
	if err != nil {
		log.Printf("Failed to read %s: %v", filePath, err)
		http.Error(w, "Failed to read file", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(editor.Inject(content)); err != nil {
		log.Printf("Failed to write preview response: %v", err)
	}
}

// serveAsset resolves any other path against the project root so pages can
// load their stylesheets, scripts and images by relative URL.
func (s *Server) serveAsset(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/" {
		http.Redirect(w, r, "/app/", http.StatusFound)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	filePath, err := s.store.Resolve(strings.TrimPrefix(r.URL.Path, "/"))
	if err != nil {
		http.NotFound(w, r)
		return
	}

	info, err := os.Stat(filePath)
	if err != nil || !info.Mode().IsRegular() {
		http.NotFound(w, r)
		return
	}

	serveRaw(w, r, filePath, info)
}

// serveRaw streams a file with a content type inferred from its name.
func serveRaw(w http.ResponseWriter, r *http.Request, filePath string, info os.FileInfo) {
	f, err := os.Open(filePath)
	if err != nil {
		log.Printf("Failed to open %s: %v", filePath, err)
		http.Error(w, "Failed to read file", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	http.ServeContent(w, r, filepath.Base(filePath), info.ModTime(), f)
}
