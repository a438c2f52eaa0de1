package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"
)

// FileNode represents a file or directory in a snapshot's file tree.
type FileNode struct {
	Name     string     `json:"name"`
	Path     string     `json:"path"`
	IsDir    bool       `json:"isDir"`
	Children []FileNode `json:"children,omitempty"`
	Size     int64      `json:"size,omitempty"`
}

// FileTree is the top level of a file tree. On the wire it is either a list
// of paths or a nested object whose object values are directories and whose
// other values are files.
type FileTree []FileNode

// TreeFromPaths builds a tree from slash-separated file paths.
func TreeFromPaths(paths []string) FileTree {
	var root FileTree
	for _, p := range paths {
		p = strings.Trim(path.Clean("/"+p), "/")
		if p == "" {
			continue
		}
		root = insertPath(root, strings.Split(p, "/"), "")
	}
	sortTree(root)
	return root
}

func insertPath(nodes []FileNode, segs []string, prefix string) []FileNode {
	name := segs[0]
	full := name
	if prefix != "" {
		full = prefix + "/" + name
	}
	isDir := len(segs) > 1

	for i := range nodes {
		if nodes[i].Name == name && nodes[i].IsDir == isDir {
			if isDir {
				nodes[i].Children = insertPath(nodes[i].Children, segs[1:], full)
			}
			return nodes
		}
	}

	node := FileNode{Name: name, Path: full, IsDir: isDir}
	if isDir {
		node.Children = insertPath(nil, segs[1:], full)
	}
	return append(nodes, node)
}

// sortTree orders directories first, then files, each by name.
func sortTree(nodes []FileNode) {
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].IsDir != nodes[j].IsDir {
			return nodes[i].IsDir
		}
		return nodes[i].Name < nodes[j].Name
	})
	for i := range nodes {
		if nodes[i].IsDir {
			sortTree(nodes[i].Children)
		}
	}
}

// Paths flattens the tree into the sorted, de-duplicated list of file paths.
// Directories contribute only through the files below them.
func (t FileTree) Paths() []string {
	seen := make(map[string]struct{})
	var walk func(nodes []FileNode, prefix string)
	walk = func(nodes []FileNode, prefix string) {
		for _, n := range nodes {
			p := n.Name
			if prefix != "" {
				p = prefix + "/" + n.Name
			}
			if n.IsDir {
				walk(n.Children, p)
				continue
			}
			seen[p] = struct{}{}
		}
	}
	walk(t, "")

	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// UnmarshalJSON accepts a path list, a nested object, a list of nodes or null.
func (t *FileTree) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*t = nil
		return nil
	}

	switch data[0] {
	case '[':
		var raw []json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		if len(raw) == 0 {
			*t = FileTree{}
			return nil
		}
		if bytes.HasPrefix(bytes.TrimSpace(raw[0]), []byte("{")) {
			var nodes []FileNode
			if err := json.Unmarshal(data, &nodes); err != nil {
				return err
			}
			*t = nodes
			return nil
		}
		var paths []string
		if err := json.Unmarshal(data, &paths); err != nil {
			return fmt.Errorf("file list: %w", err)
		}
		*t = TreeFromPaths(paths)
		return nil

	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		nodes, err := nodesFromObject(obj, "")
		if err != nil {
			return err
		}
		*t = nodes
		return nil
	}
	return fmt.Errorf("file tree must be an array or an object, got %.20s", data)
}

func nodesFromObject(obj map[string]json.RawMessage, prefix string) ([]FileNode, error) {
	nodes := make([]FileNode, 0, len(obj))
	for name, v := range obj {
		full := name
		if prefix != "" {
			full = prefix + "/" + name
		}
		v = bytes.TrimSpace(v)
		if len(v) > 0 && v[0] == '{' {
			var child map[string]json.RawMessage
			if err := json.Unmarshal(v, &child); err != nil {
				return nil, fmt.Errorf("%s: %w", full, err)
			}
			children, err := nodesFromObject(child, full)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, FileNode{Name: name, Path: full, IsDir: true, Children: children})
			continue
		}
		var size int64
		// Non-numeric file values (content hashes, flags) carry no size.
		_ = json.Unmarshal(v, &size)
		nodes = append(nodes, FileNode{Name: name, Path: full, Size: size})
	}
	sortTree(nodes)
	return nodes, nil
}

// MarshalJSON writes the nested object form.
func (t FileTree) MarshalJSON() ([]byte, error) {
	if t == nil {
		return []byte("null"), nil
	}
	return json.Marshal(toObject(t))
}

func toObject(nodes []FileNode) map[string]interface{} {
	obj := make(map[string]interface{}, len(nodes))
	for _, n := range nodes {
		if n.IsDir {
			obj[n.Name] = toObject(n.Children)
			continue
		}
		obj[n.Name] = n.Size
	}
	return obj
}
