// Package editor owns the in-page text editor script: its markers, the
// messages it exchanges with the host frame, and injection into pages.
package editor

import (
	"bytes"
	_ "embed"
	"log"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/js"

	"github.com/razvandimescu/peekhtml/internal/markup"
)

// Names shared with editor.js. Changing one here means changing it there.
const (
	OwnerAttr        = "data-text-editor"
	EditableAttr     = "data-editable"
	OriginalAttr     = "data-original"
	LiveEditAttr     = "contenteditable"
	EditModeClass    = "edit-mode-active"
	ToastID          = "text-editor-toast"
	ToolbarID        = "text-editor-toolbar"
	BannerID         = "edit-mode-banner"
	PreviewPrefix    = "/preview/"
	SaveEndpoint     = "/api/save"
	bodyCloseMarker  = "</body>"
	scriptOpenMarker = `<script ` + OwnerAttr + `="true">`
)

// Message types exchanged with the embedding frame via postMessage.
const (
	MsgToggleEdit = "text-editor-toggle-edit"
	MsgSave       = "text-editor-save"
	MsgStatus     = "text-editor-status"
)

// StatusMessage is posted by the page to its parent frame.
type StatusMessage struct {
	Type     string `json:"type"`
	EditMode bool   `json:"editMode"`
	Status   string `json:"status"`
	Modified bool   `json:"modified"`
}

//go:embed editor.js
var rawScript []byte

var scriptTag []byte

func init() {
	m := minify.New()
	m.AddFunc("application/javascript", js.Minify)

	src, err := m.Bytes("application/javascript", rawScript)
	if err != nil {
		log.Printf("editor: minify warning: %v (using original)", err)
		src = rawScript
	}
	scriptTag = buildTag(src)
}

func buildTag(src []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString("\n")
	buf.WriteString(scriptOpenMarker)
	buf.WriteString("\n")
	buf.Write(src)
	buf.WriteString("\n</script>\n")
	return buf.Bytes()
}

// ScriptTag returns the complete script element injected into pages.
func ScriptTag() []byte {
	return bytes.Clone(scriptTag)
}

// Inject inserts the editor script immediately before the first literal
// "</body>" in page, or appends it when the page has none.
func Inject(page []byte) []byte {
	out := make([]byte, 0, len(page)+len(scriptTag))
	i := bytes.Index(page, []byte(bodyCloseMarker))
	if i < 0 {
		out = append(out, page...)
		return append(out, scriptTag...)
	}
	out = append(out, page[:i]...)
	out = append(out, scriptTag...)
	return append(out, page[i:]...)
}

// Markers describes everything the editor adds to a page, for cleaning a
// document before it is written back to disk.
func Markers() markup.Markers {
	return markup.Markers{
		OwnerAttr:    OwnerAttr,
		OwnedIDs:     []string{ToastID, ToolbarID, BannerID},
		EditableAttr: EditableAttr,
		Attrs:        []string{OriginalAttr, LiveEditAttr},
		StyleProps: []string{
			"outline", "outline-style", "outline-offset",
			"background", "background-color", "cursor",
		},
		BodyClasses: []string{EditModeClass},
	}
}
