// Package server is the HTTP side of peekhtml: the JSON API used by the app
// shell, the preview endpoint that injects the editor, live reload events
// and the static asset fallback.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"runtime/debug"

	"github.com/yuin/goldmark"

	"github.com/razvandimescu/peekhtml/internal/config"
	"github.com/razvandimescu/peekhtml/internal/editor"
	"github.com/razvandimescu/peekhtml/internal/filetree"
	"github.com/razvandimescu/peekhtml/internal/project"
	"github.com/razvandimescu/peekhtml/internal/server/ui"
)

// SSE replay buffer size (covers a burst of saves plus tree changes)
const eventBufferSize = 50

var errMissingField = errors.New("missing required field")

// Server serves one project at a time. Create it with New.
type Server struct {
	cfg     *config.Config
	store   *project.Store
	events  *eventHub
	watcher *watcherManager
	writes  *recentWrites
	md      goldmark.Markdown
}

// New wires a server around store. cfg must have been validated.
func New(cfg *config.Config, store *project.Store) *Server {
	s := &Server{
		cfg:    cfg,
		store:  store,
		events: newEventHub(eventBufferSize),
		writes: newRecentWrites(selfWriteWindow),
		md:     newMarkdownRenderer(),
	}
	s.watcher = &watcherManager{run: s.watchLoop}
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", withRecovery(s.serveAsset))
	mux.Handle("/app/", ui.Handler())
	mux.HandleFunc(editor.PreviewPrefix, withRecovery(s.servePreview))

	mux.HandleFunc("/api/", withRecovery(s.handleUnknownAPI))
	mux.HandleFunc("/api/set-project", withRecovery(withCSRFCheck(s.handleSetProject)))
	mux.HandleFunc("/api/files", withRecovery(s.handleFiles))
	mux.HandleFunc("/api/current-project", withRecovery(s.handleCurrentProject))
	mux.HandleFunc(editor.SaveEndpoint, withRecovery(withCSRFCheck(s.handleSave)))
	mux.HandleFunc("/api/events", withRecovery(s.events.serveSSE))
	mux.HandleFunc("/api/readme", withRecovery(s.handleReadme))

	return mux
}

// SetProject makes dir the project root, restarts the file watcher on it
// and tells connected clients to reload their tree.
func (s *Server) SetProject(dir string) (string, error) {
	root, err := s.store.SetRoot(dir)
	if err != nil {
		return "", err
	}
	log.Printf("Project folder set to %s", root)

	if s.cfg.Watch {
		if err := s.watcher.watchDirectory(root, s.ignorePatterns(root)); err != nil {
			log.Printf("Warning: Cannot watch project for changes: %v", err)
		}
	}

	s.events.publish(treeChangedMessage())
	return root, nil
}

// Close stops the file watcher.
func (s *Server) Close() {
	s.watcher.close()
}

func (s *Server) ignorePatterns(root string) []string {
	patterns := append([]string(nil), s.cfg.Ignore...)
	return append(patterns, filetree.LoadIgnoreFile(root)...)
}

func (s *Server) treeOptions(root string) filetree.Options {
	return filetree.Options{
		Ignore:     s.ignorePatterns(root),
		PruneEmpty: s.cfg.PruneEmptyDirs,
	}
}

// withRecovery wraps an HTTP handler with panic recovery
func withRecovery(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.Printf("PANIC: %v\n%s", err, debug.Stack())
				http.Error(w, "Internal server error", http.StatusInternalServerError)
			}
		}()
		next(w, r)
	}
}

// withCSRFCheck rejects requests whose Origin is not the host they were
// sent to.
func withCSRFCheck(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && !sameOrigin(origin, r.Host) {
			log.Printf("CSRF: rejected cross-origin %s from %s", r.Method, origin)
			writeError(w, http.StatusForbidden, "Forbidden: cross-origin request")
			return
		}
		next(w, r)
	}
}

func sameOrigin(origin, host string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host == host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to write JSON response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, project.ErrNotConfigured),
		errors.Is(err, project.ErrNotDirectory),
		errors.Is(err, errMissingField):
		return http.StatusBadRequest
	case errors.Is(err, project.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, project.ErrForbidden):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// errorMessage is the user-facing text for err.
func errorMessage(err error) string {
	switch {
	case errors.Is(err, project.ErrNotConfigured):
		return "No project folder set"
	case errors.Is(err, project.ErrForbidden):
		return "Access denied"
	case errors.Is(err, project.ErrBackup):
		return fmt.Sprintf("File not saved: %v", err)
	default:
		return err.Error()
	}
}

func (s *Server) handleUnknownAPI(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "Unknown endpoint")
}
