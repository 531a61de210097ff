package client

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidDirList is returned when an indented entry has no parent.
var ErrInvalidDirList = errors.New("invalid dir list")

// DirItem is one entry of a directory listing.
type DirItem struct {
	Name     string
	Dir      bool
	Children []*DirItem
}

// ParseDirList builds a tree from the device's listing format: one entry per
// line, two spaces of indent per level and a trailing "/" on directories.
func ParseDirList(list string) ([]*DirItem, error) {
	var root []*DirItem
	var open []*DirItem
	for _, line := range strings.Split(list, "\n") {
		name := strings.TrimSpace(line)
		if name == "" {
			continue
		}
		depth := (len(line) - len(strings.TrimLeft(line, " "))) / 2
		item := &DirItem{Name: name}
		if strings.HasSuffix(name, "/") {
			item.Name = strings.TrimSuffix(name, "/")
			item.Dir = true
			item.Children = []*DirItem{}
		}
		if depth == 0 {
			root = append(root, item)
		} else {
			if depth > len(open) || open[depth-1] == nil {
				return nil, fmt.Errorf("%w, no parent folder found for %q", ErrInvalidDirList, name)
			}
			parent := open[depth-1]
			parent.Children = append(parent.Children, item)
		}
		if item.Dir {
			for len(open) <= depth {
				open = append(open, nil)
			}
			open[depth] = item
		}
	}
	if root == nil {
		root = []*DirItem{}
	}
	return root, nil
}

// Walk calls fn for every item in depth-first order with its slash-joined
// path relative to the listed directory.
func Walk(items []*DirItem, fn func(path string, item *DirItem)) {
	walk("", items, fn)
}

func walk(prefix string, items []*DirItem, fn func(string, *DirItem)) {
	for _, it := range items {
		p := it.Name
		if prefix != "" {
			p = prefix + "/" + it.Name
		}
		fn(p, it)
		if it.Dir {
			walk(p, it.Children, fn)
		}
	}
}
