package server

import (
	"bytes"
	"log"
	"net/http"
	"os"
	"path/filepath"

	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"
)

var readmeNames = []string{"README.md", "readme.md", "Readme.md"}

type readmeResponse struct {
	HTML string `json:"html"`
	Name string `json:"name"`
}

// newMarkdownRenderer creates a configured goldmark renderer
func newMarkdownRenderer() goldmark.Markdown {
	return goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			extension.Typographer,
			highlighting.NewHighlighting(
				highlighting.WithFormatOptions(
					chromahtml.WithClasses(true),
				),
			),
		),
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
		goldmark.WithRendererOptions(
			html.WithUnsafe(),
		),
	)
}

// findReadme returns the path of the project's readme, or "".
func findReadme(root string) string {
	for _, name := range readmeNames {
		p := filepath.Join(root, name)
		if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() {
			return p
		}
	}
	return ""
}

func (s *Server) handleReadme(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	root, err := s.store.Root()
	if err != nil {
		writeError(w, statusFor(err), errorMessage(err))
		return
	}

	readme := findReadme(root)
	if readme == "" {
		writeError(w, http.StatusNotFound, "No README in project folder")
		return
	}

	content, err := os.ReadFile(readme)
	if err != nil {
		log.Printf("Failed to read %s: %v", readme, err)
		writeError(w, http.StatusInternalServerError, "Failed to read README")
		return
	}

	var buf bytes.Buffer
	if err := s.md.Convert(content, &buf); err != nil {
		log.Printf("Failed to render %s: %v", readme, err)
		writeError(w, http.StatusInternalServerError, "Failed to render README")
		return
	}

	writeJSON(w, http.StatusOK, readmeResponse{HTML: buf.String(), Name: filepath.Base(readme)})
}
