package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/razvandimescu/peekhtml/internal/config"
	"github.com/razvandimescu/peekhtml/internal/project"
)

// Test page content shared across files
const (
	testPage = `<!DOCTYPE html>
<html><head><title>Home</title></head>
<body>
<h1>Welcome</h1>
<p>Original text</p>
</body></html>`
	testPageEdited = `<!DOCTYPE html>
<html><head><title>Home</title></head>
<body>
<h1>Welcome</h1>
<p>Edited text</p>
</body></html>`
	testFragment = "<p>no body tag</p>"
	testCSS      = "body { color: red; }"
	testReadme   = "# Hello\n\nSome *docs*.\n\n```go\nfunc main() {}\n```\n"
)

// newTestServer returns a server with default settings and watching off.
func newTestServer(t *testing.T, mutate ...func(*config.Config)) *Server {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Watch = false
	for _, m := range mutate {
		m(cfg)
	}
	require.NoError(t, cfg.Validate())

	s := New(cfg, project.NewStore(cfg.BackupSuffix))
	t.Cleanup(s.Close)
	return s
}

// newTestProject creates a project folder with the given files and selects
// it. Names ending in "/" are created as directories.
func newTestProject(t *testing.T, s *Server, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		createTestFile(t, root, name, content)
	}
	_, err := s.SetProject(root)
	require.NoError(t, err)
	return root
}

// createTestFile writes content to root/name, creating parent directories.
func createTestFile(t *testing.T, root, name, content string) string {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(name))
	if strings.HasSuffix(name, "/") {
		require.NoError(t, os.MkdirAll(p, 0755))
		return p
	}
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	return p
}

func readTestFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

// do runs a request through the full handler.
func do(t *testing.T, h http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), "body: %s", w.Body.String())
	return out
}

// fileEvent is the decoded form of a buffered SSE frame.
type fileEvent struct {
	Type string `json:"type"`
	Path string `json:"path"`
}

// parseFrame decodes "id: N\ndata: {...}".
func parseFrame(t *testing.T, frame string) fileEvent {
	t.Helper()
	_, data, ok := strings.Cut(frame, "data: ")
	require.True(t, ok, "malformed frame %q", frame)
	var ev fileEvent
	require.NoError(t, json.Unmarshal([]byte(data), &ev))
	return ev
}

// drainEvents collects every event already queued on ch.
func drainEvents(t *testing.T, ch chan string) []fileEvent {
	t.Helper()
	var out []fileEvent
	for {
		select {
		case frame := <-ch:
			out = append(out, parseFrame(t, frame))
		default:
			return out
		}
	}
}

// waitForEvent blocks until an event matching want arrives on ch.
func waitForEvent(t *testing.T, ch chan string, want fileEvent, timeout time.Duration) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case frame := <-ch:
			if parseFrame(t, frame) == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event %+v", want)
		}
	}
}
