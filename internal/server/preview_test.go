package server

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/razvandimescu/peekhtml/internal/editor"
	"github.com/razvandimescu/peekhtml/internal/markup"
)

const scriptOpen = `<script data-text-editor="true">`

func TestServePreview_InjectsEditor(t *testing.T) {
	s := newTestServer(t)
	newTestProject(t, s, map[string]string{"index.html": testPage})

	w := do(t, s.Handler(), "GET", "/preview/index.html", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/html; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))

	body := w.Body.String()
	assert.Equal(t, 1, strings.Count(body, scriptOpen))
	assert.Contains(t, body, "<p>Original text</p>")
	assert.Less(t, strings.Index(body, scriptOpen), strings.Index(body, "</body>"))
	assert.Equal(t, string(editor.Inject([]byte(testPage))), body)
}

func TestServePreview_AppendsWithoutBody(t *testing.T) {
	s := newTestServer(t)
	newTestProject(t, s, map[string]string{"part.htm": testFragment})

	w := do(t, s.Handler(), "GET", "/preview/part.htm", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Body.String(), testFragment))
	assert.True(t, strings.HasSuffix(w.Body.String(), string(editor.ScriptTag())))
}

func TestServePreview_UpperCaseExtension(t *testing.T) {
	s := newTestServer(t)
	newTestProject(t, s, map[string]string{"LEGACY.HTML": testPage})

	w := do(t, s.Handler(), "GET", "/preview/LEGACY.HTML", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), scriptOpen)
}

func TestServePreview_NestedAndEscapedPath(t *testing.T) {
	s := newTestServer(t)
	newTestProject(t, s, map[string]string{"my pages/about us.html": testPage})

	w := do(t, s.Handler(), "GET", "/preview/my%20pages/about%20us.html", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Welcome")
}

func TestServePreview_RawAssets(t *testing.T) {
	s := newTestServer(t)
	newTestProject(t, s, map[string]string{
		"index.html": testPage,
		"site.css":   testCSS,
	})

	w := do(t, s.Handler(), "GET", "/preview/site.css", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/css")
	assert.Equal(t, testCSS, w.Body.String())
}

func TestServePreview_Head(t *testing.T) {
	s := newTestServer(t)
	newTestProject(t, s, map[string]string{"index.html": testPage})

	w := do(t, s.Handler(), "HEAD", "/preview/index.html", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/html; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Empty(t, w.Body.String())
}

func TestServePreview_Errors(t *testing.T) {
	tests := []struct {
		name       string
		noProject  bool
		method     string
		path       string
		wantStatus int
	}{
		{name: "no project", noProject: true, method: "GET", path: "/preview/index.html", wantStatus: http.StatusBadRequest},
		{name: "missing file", method: "GET", path: "/preview/missing.html", wantStatus: http.StatusNotFound},
		{name: "directory", method: "GET", path: "/preview/blog", wantStatus: http.StatusNotFound},
		{name: "root", method: "GET", path: "/preview/", wantStatus: http.StatusNotFound},
		{name: "traversal", method: "GET", path: "/preview/../secret.html", wantStatus: http.StatusForbidden},
		{name: "encoded traversal", method: "GET", path: "/preview/%2e%2e/secret.html", wantStatus: http.StatusForbidden},
		{name: "nested traversal", method: "GET", path: "/preview/blog/../../secret.html", wantStatus: http.StatusForbidden},
		{name: "wrong method", method: "POST", path: "/preview/index.html", wantStatus: http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			if !tt.noProject {
				newTestProject(t, s, map[string]string{"index.html": testPage, "blog/post.html": testPage})
			}

			// Called directly: ServeMux would clean ".." before routing.
			req := httptest.NewRequest(tt.method, tt.path, nil)
			w := httptest.NewRecorder()
			s.servePreview(w, req)

			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			assert.NotContains(t, w.Body.String(), scriptOpen)
		})
	}
}

// A folder whose name extends the project's must not be reachable.
func TestServePreview_SiblingPrefixFolder(t *testing.T) {
	parent := t.TempDir()
	createTestFile(t, parent, "proj/index.html", testPage)
	createTestFile(t, parent, "proj2/secret.html", "<p>secret</p>")

	s := newTestServer(t)
	_, err := s.SetProject(filepath.Join(parent, "proj"))
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/preview/../proj2/secret.html", nil)
	w := httptest.NewRecorder()
	s.servePreview(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.NotContains(t, w.Body.String(), "secret</p>")
}

// Cleaning a served page and saving it back must leave exactly one editor
// script on the next preview, however many times it is repeated.
func TestPreviewSaveRoundTrip(t *testing.T) {
	s := newTestServer(t)
	root := newTestProject(t, s, map[string]string{"index.html": testPage})
	h := s.Handler()

	for i := 0; i < 3; i++ {
		served := do(t, h, "GET", "/preview/index.html", nil)
		require.Equal(t, http.StatusOK, served.Code)
		require.Equal(t, 1, strings.Count(served.Body.String(), scriptOpen), "round %d", i)
		require.Contains(t, served.Body.String(), "<p>Original text</p>")

		cleaned, err := markup.Clean(served.Body.Bytes(), editor.Markers())
		require.NoError(t, err)

		saved := do(t, h, "POST", "/api/save", map[string]string{"file": "index.html", "content": string(cleaned)})
		require.Equal(t, http.StatusOK, saved.Code, saved.Body.String())
	}

	onDisk := readTestFile(t, filepath.Join(root, "index.html"))
	assert.NotContains(t, onDisk, editor.OwnerAttr)
	assert.Contains(t, onDisk, "<h1>Welcome</h1>")
}

// Pages posted straight from the browser still carry the injected script;
// the save endpoint drops it.
func TestPreviewSaveRoundTrip_UncleanedPost(t *testing.T) {
	s := newTestServer(t)
	newTestProject(t, s, map[string]string{"index.html": testPage})
	h := s.Handler()

	served := do(t, h, "GET", "/preview/index.html", nil)
	require.Equal(t, http.StatusOK, served.Code)
	require.Equal(t, http.StatusOK, do(t, h, "POST", "/api/save", map[string]string{"file": "index.html", "content": served.Body.String()}).Code)

	again := do(t, h, "GET", "/preview/index.html", nil)
	assert.Equal(t, 1, strings.Count(again.Body.String(), scriptOpen))
}

func TestServeAsset(t *testing.T) {
	s := newTestServer(t)
	newTestProject(t, s, map[string]string{
		"index.html":   testPage,
		"css/site.css": testCSS,
		"other.html":   testPage,
		"img/":         "",
	})

	tests := []struct {
		path        string
		wantStatus  int
		wantContent string
	}{
		{path: "/css/site.css", wantStatus: http.StatusOK, wantContent: testCSS},
		{path: "/other.html", wantStatus: http.StatusOK, wantContent: testPage},
		{path: "/missing.png", wantStatus: http.StatusNotFound},
		{path: "/img", wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := do(t, s.Handler(), "GET", tt.path, nil)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantContent != "" {
				assert.Equal(t, tt.wantContent, w.Body.String(), "assets are served unmodified")
			}
		})
	}
}

func TestServeAsset_NoProject(t *testing.T) {
	s := newTestServer(t)

	w := do(t, s.Handler(), "GET", "/site.css", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServeAsset_Traversal(t *testing.T) {
	parent := t.TempDir()
	createTestFile(t, parent, "proj/index.html", testPage)
	createTestFile(t, parent, "secret.txt", "secret")

	s := newTestServer(t)
	_, err := s.SetProject(filepath.Join(parent, "proj"))
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/../secret.txt", nil)
	w := httptest.NewRecorder()
	s.serveAsset(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.NotContains(t, w.Body.String(), "secret")
}
