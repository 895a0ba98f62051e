// Package filetree scans a project folder into an ordered tree of
// directories and HTML files.
package filetree

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

const (
	TypeDirectory = "directory"
	TypeFile      = "file"
)

// Node is a directory or an HTML file in the project tree. Path is relative
// to the project root and always uses forward slashes.
type Node struct {
	Name     string  `json:"name"`
	Path     string  `json:"path"`
	Type     string  `json:"type"`
	FullPath string  `json:"fullPath,omitempty"`
	Children []*Node `json:"children,omitempty"`
}

// MarshalJSON always emits children for directories, even when empty, and
// never for files.
func (n Node) MarshalJSON() ([]byte, error) {
	type plain Node
	if !n.IsDir() {
		return json.Marshal(plain(n))
	}
	children := n.Children
	if children == nil {
		children = []*Node{}
	}
	return json.Marshal(struct {
		plain
		Children []*Node `json:"children"`
	}{plain(n), children})
}

// IsDir reports whether n is a directory node.
func (n *Node) IsDir() bool {
	return n.Type == TypeDirectory
}

// Options tunes the scan.
type Options struct {
	// Ignore holds filepath.Match patterns tested against entry names.
	Ignore []string
	// PruneEmpty drops directories that end up without any HTML file.
	PruneEmpty bool
}

// Dependency-manager directories that are never listed.
var dependencyDirs = map[string]bool{
	"node_modules":     true,
	"bower_components": true,
	"jspm_packages":    true,
	"vendor":           true,
	"venv":             true,
	"virtualenv":       true,
}

// DependencyDirs returns the hardcoded exclusions in sorted order.
func DependencyDirs() []string {
	names := make([]string, 0, len(dependencyDirs))
	for name := range dependencyDirs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsHTML reports whether name has an .html or .htm extension.
func IsHTML(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".html" || ext == ".htm"
}

// IsIndex reports whether name is a directory index page.
func IsIndex(name string) bool {
	return name == "index.html" || name == "index.htm"
}

// Excluded reports whether an entry name is skipped by the scan.
func Excluded(name string, patterns []string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	if dependencyDirs[name] {
		return true
	}
	return matchesIgnorePattern(name, patterns)
}

func matchesIgnorePattern(name string, patterns []string) bool {
	for _, pattern := range patterns {
		matched, err := filepath.Match(pattern, name)
		if err != nil {
			log.Printf("Warning: Invalid ignore pattern '%s': %v", pattern, err)
			continue
		}
		if matched {
			return true
		}
	}
	return false
}

// Build scans root and returns its directory node. A fresh tree is built on
// every call.
func Build(root string, opts Options) (*Node, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}

	b := &builder{opts: opts, onPath: make(map[string]bool)}
	node := &Node{
		Name: filepath.Base(root),
		Path: "",
		Type: TypeDirectory,
	}

	resolved, err := filepath.EvalSymlinks(root)
	if err != nil {
		resolved = root
	}
	b.onPath[resolved] = true
	node.Children = b.children(root, "", entries)
	return node, nil
}

type builder struct {
	opts Options
	// onPath holds resolved directories on the current descent, so a
	// symlink back to an ancestor is not followed.
	onPath map[string]bool
}

type entry struct {
	name  string
	isDir bool
}

func (b *builder) children(dir, relDir string, dirEntries []os.DirEntry) []*Node {
	var entries []entry
	for _, de := range dirEntries {
		name := de.Name()
		if Excluded(name, b.opts.Ignore) {
			continue
		}
		// os.Stat follows symlinks, so a linked directory is listed as one.
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil {
			log.Printf("Warning: Skipping %s: %v", filepath.Join(dir, name), err)
			continue
		}
		if !info.IsDir() && !IsHTML(name) {
			continue
		}
		entries = append(entries, entry{name: name, isDir: info.IsDir()})
	}

	sortEntries(entries)

	nodes := make([]*Node, 0, len(entries))
	for _, e := range entries {
		full := filepath.Join(dir, e.name)
		rel := path.Join(relDir, e.name)

		if !e.isDir {
			nodes = append(nodes, &Node{Name: e.name, Path: rel, Type: TypeFile, FullPath: full})
			continue
		}

		child := b.directory(full, rel, e.name)
		if child == nil {
			continue
		}
		if b.opts.PruneEmpty && len(child.Children) == 0 {
			continue
		}
		nodes = append(nodes, child)
	}
	return nodes
}

func (b *builder) directory(full, rel, name string) *Node {
	resolved, err := filepath.EvalSymlinks(full)
	if err != nil {
		resolved = full
	}
	if b.onPath[resolved] {
		log.Printf("Warning: Skipping symlink cycle at %s", full)
		return nil
	}

	dirEntries, err := os.ReadDir(full)
	if err != nil {
		log.Printf("Warning: Cannot read directory %s: %v", full, err)
		return &Node{Name: name, Path: rel, Type: TypeDirectory}
	}

	b.onPath[resolved] = true
	defer delete(b.onPath, resolved)

	return &Node{
		Name:     name,
		Path:     rel,
		Type:     TypeDirectory,
		Children: b.children(full, rel, dirEntries),
	}
}

// rank orders the groups: index pages, other files, directories.
func rank(e entry) int {
	switch {
	case e.isDir:
		return 2
	case IsIndex(e.name):
		return 0
	default:
		return 1
	}
}

func sortEntries(entries []entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		ri, rj := rank(entries[i]), rank(entries[j])
		if ri != rj {
			return ri < rj
		}
		return entries[i].name < entries[j].name
	})
}

// Files flattens the tree into root-relative file paths in tree order.
func Files(n *Node) []string {
	var out []string
	var walk func(*Node)
	walk = func(n *Node) {
		if !n.IsDir() {
			out = append(out, n.Path)
			return
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(n)
	return out
}
