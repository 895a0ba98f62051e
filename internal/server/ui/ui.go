// Package ui embeds the app shell: the page hosting the file tree and the
// preview frame.
package ui

import (
	"bytes"
	"embed"
	"log"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	"github.com/tdewolff/minify/v2/js"
)

// Prefix is the URL path the shell is mounted on.
const Prefix = "/app/"

//go:embed index.html app.js app.css
var files embed.FS

type asset struct {
	name string
	data []byte
}

var (
	assets  = map[string]asset{}
	builtAt = time.Now()
)

var minifiers = map[string]string{
	".js":  "application/javascript",
	".css": "text/css",
}

func init() {
	m := minify.New()
	m.AddFunc("application/javascript", js.Minify)
	m.AddFunc("text/css", css.Minify)

	entries, err := files.ReadDir(".")
	if err != nil {
		log.Printf("ui: cannot list assets: %v", err)
		return
	}
	for _, e := range entries {
		raw, err := files.ReadFile(e.Name())
		if err != nil {
			log.Printf("ui: cannot read %s: %v", e.Name(), err)
			continue
		}
		assets[e.Name()] = asset{name: e.Name(), data: minifyAsset(m, e.Name(), raw)}
	}
}

func minifyAsset(m *minify.M, name string, raw []byte) []byte {
	mediatype, ok := minifiers[path.Ext(name)]
	if !ok {
		return raw
	}
	out, err := m.Bytes(mediatype, raw)
	if err != nil {
		log.Printf("ui: minify warning for %s: %v (using original)", name, err)
		return raw
	}
	return out
}

// Handler serves the shell under Prefix.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		name := strings.TrimPrefix(r.URL.Path, Prefix)
		if name == "" {
			name = "index.html"
		}
		a, ok := assets[name]
		if !ok {
			http.NotFound(w, r)
			return
		}

		w.Header().Set("Cache-Control", "no-cache")
		http.ServeContent(w, r, a.name, builtAt, bytes.NewReader(a.data))
	})
}
