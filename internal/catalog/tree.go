// Package catalog keeps the marketplace category hierarchy as a flat arena
// addressed by category id.
package catalog

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownCategory   = errors.New("unknown category")
	ErrDuplicateCategory = errors.New("duplicate category")
	ErrCycle             = errors.New("category cycle")
)

// Category is one arena entry. ParentID is zero for a root.
type Category struct {
	ID       int64  `json:"id"`
	ParentID int64  `json:"parent_id,omitempty"`
	Title    string `json:"title"`
}

// Node is the nested form categories arrive in on the stream.
type Node struct {
	ID       int64  `json:"id"`
	Title    string `json:"title"`
	Children []Node `json:"children,omitempty"`
}

// Tree is a category arena: entries in insertion order plus an id index.
// Relations are resolved through ParentID, there are no back pointers.
type Tree struct {
	entries []Category
	index   map[int64]int
}

// NewTree builds an arena from flat categories.
func NewTree(categories []Category) (*Tree, error) {
	t := &Tree{
		entries: make([]Category, 0, len(categories)),
		index:   make(map[int64]int, len(categories)),
	}
	for _, c := range categories {
		if _, ok := t.index[c.ID]; ok {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateCategory, c.ID)
		}
		t.index[c.ID] = len(t.entries)
		t.entries = append(t.entries, c)
	}
	return t, nil
}

// Flatten walks nested nodes depth first, parents before children.
func Flatten(roots ...Node) []Category {
	type item struct {
		node   Node
		parent int64
	}
	var out []Category
	stack := make([]item, 0, len(roots))
	for i := len(roots) - 1; i >= 0; i-- {
		stack = append(stack, item{node: roots[i]})
	}
	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out = append(out, Category{ID: it.node.ID, ParentID: it.parent, Title: it.node.Title})
		for i := len(it.node.Children) - 1; i >= 0; i-- {
			stack = append(stack, item{node: it.node.Children[i], parent: it.node.ID})
		}
	}
	return out
}

// Len returns the number of categories.
func (t *Tree) Len() int { return len(t.entries) }

// Categories returns a copy of the arena in insertion order.
func (t *Tree) Categories() []Category {
	return append([]Category(nil), t.entries...)
}

// Get looks a category up by id.
func (t *Tree) Get(id int64) (Category, bool) {
	i, ok := t.index[id]
	if !ok {
		return Category{}, false
	}
	return t.entries[i], true
}

// Parent returns the parent of id; false for roots and unknown ids.
func (t *Tree) Parent(id int64) (Category, bool) {
	c, ok := t.Get(id)
	if !ok || c.ParentID == 0 {
		return Category{}, false
	}
	return t.Get(c.ParentID)
}

// Children returns the direct children of id in insertion order.
func (t *Tree) Children(id int64) []Category {
	var out []Category
	for _, c := range t.entries {
		if c.ParentID == id && c.ID != id {
			out = append(out, c)
		}
	}
	return out
}

// Path returns the chain from the root down to id.
func (t *Tree) Path(id int64) ([]Category, error) {
	c, ok := t.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownCategory, id)
	}

	path := []Category{c}
	seen := map[int64]struct{}{c.ID: {}}
	for c.ParentID != 0 {
		parent, ok := t.Get(c.ParentID)
		if !ok {
			return nil, fmt.Errorf("%w: parent %d of %d", ErrUnknownCategory, c.ParentID, c.ID)
		}
		if _, dup := seen[parent.ID]; dup {
			return nil, fmt.Errorf("%w at %d", ErrCycle, parent.ID)
		}
		seen[parent.ID] = struct{}{}
		path = append(path, parent)
		c = parent
	}

	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, nil
}

// Validate checks that every parent exists and no chain loops.
func (t *Tree) Validate() error {
	for _, c := range t.entries {
		if _, err := t.Path(c.ID); err != nil {
			return err
		}
	}
	return nil
}
