// Package markup removes editor-owned nodes and attributes from a saved
// HTML document.
package markup

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
)

// Markers names everything the editor adds to a page.
type Markers struct {
	// OwnerAttr flags elements created by the editor; they are removed whole.
	OwnerAttr string
	// OwnedIDs are element ids created by the editor; removed whole.
	OwnedIDs []string
	// EditableAttr flags elements the editor made editable. Only those lose
	// StyleProps.
	EditableAttr string
	// Attrs are dropped from every element.
	Attrs []string
	// StyleProps are inline style properties dropped from editable elements.
	StyleProps []string
	// BodyClasses are dropped from the body element's class list.
	BodyClasses []string
}

// HasMarkers reports whether doc mentions any marker. Documents without
// markers need no cleaning and can be stored as sent.
func HasMarkers(doc []byte, m Markers) bool {
	needles := make([]string, 0, 2+len(m.OwnedIDs)+len(m.Attrs)+len(m.BodyClasses))
	if m.OwnerAttr != "" {
		needles = append(needles, m.OwnerAttr)
	}
	if m.EditableAttr != "" {
		needles = append(needles, m.EditableAttr)
	}
	needles = append(needles, m.OwnedIDs...)
	needles = append(needles, m.Attrs...)
	needles = append(needles, m.BodyClasses...)

	lower := bytes.ToLower(doc)
	for _, n := range needles {
		if n != "" && bytes.Contains(lower, []byte(strings.ToLower(n))) {
			return true
		}
	}
	return false
}

// Clean parses doc, strips every marker and renders the result as a full
// document with a doctype. Clean is idempotent.
func Clean(doc []byte, m Markers) ([]byte, error) {
	root, err := html.Parse(bytes.NewReader(doc))
	if err != nil {
		return nil, err
	}

	c := cleaner{
		ids:      toSet(m.OwnedIDs),
		attrs:    toSet(m.Attrs),
		props:    toSet(m.StyleProps),
		bodyCls:  toSet(m.BodyClasses),
		ownerKey: strings.ToLower(m.OwnerAttr),
		editKey:  strings.ToLower(m.EditableAttr),
	}
	c.walk(root)

	ensureDoctype(root)

	var buf bytes.Buffer
	if err := html.Render(&buf, root); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func ensureDoctype(root *html.Node) {
	for n := root.FirstChild; n != nil; n = n.NextSibling {
		if n.Type == html.DoctypeNode {
			return
		}
	}
	root.InsertBefore(&html.Node{Type: html.DoctypeNode, Data: "html"}, root.FirstChild)
}

type cleaner struct {
	ids      map[string]bool
	attrs    map[string]bool
	props    map[string]bool
	bodyCls  map[string]bool
	ownerKey string
	editKey  string
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, it := range items {
		set[strings.ToLower(it)] = true
	}
	return set
}

func (c *cleaner) owned(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	for _, a := range n.Attr {
		if c.ownerKey != "" && a.Key == c.ownerKey {
			return true
		}
		if a.Key == "id" && c.ids[strings.ToLower(a.Val)] {
			return true
		}
	}
	return false
}

func (c *cleaner) walk(n *html.Node) {
	for child := n.FirstChild; child != nil; {
		next := child.NextSibling
		if c.owned(child) {
			n.RemoveChild(child)
		} else {
			c.walk(child)
		}
		child = next
	}
	if n.Type == html.ElementNode {
		c.cleanAttrs(n)
	}
}

func (c *cleaner) cleanAttrs(n *html.Node) {
	editable := false
	for _, a := range n.Attr {
		if c.editKey != "" && a.Key == c.editKey {
			editable = true
		}
	}

	kept := n.Attr[:0]
	for _, a := range n.Attr {
		switch {
		case c.attrs[a.Key] || (c.editKey != "" && a.Key == c.editKey):
			continue
		case a.Key == "style" && editable:
			a.Val = stripStyleProps(a.Val, c.props)
			if strings.TrimSpace(a.Val) == "" {
				continue
			}
		case a.Key == "class" && n.Data == "body":
			a.Val = stripClasses(a.Val, c.bodyCls)
			if a.Val == "" {
				continue
			}
		}
		kept = append(kept, a)
	}
	n.Attr = kept
}

// stripStyleProps removes declarations whose property is in props. Values
// containing ';' inside quotes or url() are kept intact by the splitter.
func stripStyleProps(style string, props map[string]bool) string {
	if len(props) == 0 {
		return style
	}
	var kept []string
	for _, decl := range splitDeclarations(style) {
		decl = strings.TrimSpace(decl)
		if decl == "" {
			continue
		}
		name := decl
		if i := strings.IndexByte(decl, ':'); i >= 0 {
			name = decl[:i]
		}
		if props[strings.ToLower(strings.TrimSpace(name))] {
			continue
		}
		kept = append(kept, decl)
	}
	if len(kept) == 0 {
		return ""
	}
	return strings.Join(kept, "; ") + ";"
}

func splitDeclarations(style string) []string {
	var (
		out   []string
		start int
		quote byte
		depth int
	)
	for i := 0; i < len(style); i++ {
		ch := style[i]
		switch {
		case quote != 0:
			if ch == quote {
				quote = 0
			}
		case ch == '"' || ch == '\'':
			quote = ch
		case ch == '(':
			depth++
		case ch == ')' && depth > 0:
			depth--
		case ch == ';' && depth == 0:
			out = append(out, style[start:i])
			start = i + 1
		}
	}
	return append(out, style[start:])
}

func stripClasses(classes string, drop map[string]bool) string {
	var kept []string
	for _, cls := range strings.Fields(classes) {
		if !drop[strings.ToLower(cls)] {
			kept = append(kept, cls)
		}
	}
	return strings.Join(kept, " ")
}
