package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"path"
	"path/filepath"
	"strings"

	"github.com/razvandimescu/peekhtml/internal/editor"
	"github.com/razvandimescu/peekhtml/internal/filetree"
	"github.com/razvandimescu/peekhtml/internal/markup"
)

type setProjectRequest struct {
	Folder string `json:"folder"`
}

type setProjectResponse struct {
	Success bool   `json:"success"`
	Path    string `json:"path"`
}

type filesResponse struct {
	Tree        *filetree.Node `json:"tree"`
	ProjectRoot string         `json:"projectRoot"`
}

type currentProjectResponse struct {
	ProjectRoot *string `json:"projectRoot"`
}

type saveRequest struct {
	File    string `json:"file"`
	Content string `json:"content"`
}

type successResponse struct {
	Success bool `json:"success"`
}

func (s *Server) handleSetProject(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req setProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	folder := strings.TrimSpace(req.Folder)
	if folder == "" {
		writeError(w, http.StatusBadRequest, "Folder path is required")
		return
	}

	root, err := s.SetProject(folder)
	if err != nil {
		log.Printf("Set project %q failed: %v", folder, err)
		writeError(w, statusFor(err), errorMessage(err))
		return
	}

	writeJSON(w, http.StatusOK, setProjectResponse{Success: true, Path: root})
}

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	root, err := s.store.Root()
	if err != nil {
		writeError(w, statusFor(err), errorMessage(err))
		return
	}

	tree, err := filetree.Build(root, s.treeOptions(root))
	if err != nil {
		log.Printf("Failed to scan %s: %v", root, err)
		writeError(w, http.StatusInternalServerError, "Failed to read project folder")
		return
	}

	writeJSON(w, http.StatusOK, filesResponse{Tree: tree, ProjectRoot: root})
}

func (s *Server) handleCurrentProject(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var resp currentProjectResponse
	if root, err := s.store.Root(); err == nil {
		resp.ProjectRoot = &root
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes())
	var req saveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	if _, err := s.store.Root(); err != nil {
		writeError(w, statusFor(err), errorMessage(err))
		return
	}
	if req.File == "" || req.Content == "" {
		writeError(w, statusFor(errMissingField), "File path and content are required")
		return
	}

	content := []byte(req.Content)
	if s.cfg.SanitizeOnSave && markup.HasMarkers(content, editor.Markers()) {
		cleaned, err := markup.Clean(content, editor.Markers())
		if err != nil {
			log.Printf("Warning: Cannot clean editor markup from %s, saving as posted: %v", req.File, err)
		} else {
			content = cleaned
		}
	}

	key := writeKey(req.File)
	s.writes.record(key)
	written, err := s.store.Save(req.File, content)
	if err != nil {
		s.writes.forget(key)
		log.Printf("Save %s failed: %v", req.File, err)
		writeError(w, statusFor(err), errorMessage(err))
		return
	}

	if rel, err := s.store.Rel(written); err == nil && rel != key {
		s.writes.record(rel)
	}

	log.Printf("Saved %s (%d bytes)", written, len(content))
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

// writeKey normalizes a client path to the root-relative form the watcher
// reports.
func writeKey(file string) string {
	return path.Clean(strings.TrimPrefix(filepath.ToSlash(file), "/"))
}
