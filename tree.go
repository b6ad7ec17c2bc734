package hxlive

import (
	"net/http"
	"slices"
)

// Tree is the per-request arena holding every loaded component by id.
// Parent and child links are ids resolved through the tree, so components
// never point at each other directly. A Tree is not safe for concurrent
// use; each request builds its own.
type Tree struct {
	reg   *Registry
	req   *http.Request
	nodes map[string]Component

	// raw template output per component id, filled during rendering
	memo map[string]string
}

// NewTree creates an empty arena bound to the current request.
func (reg *Registry) NewTree(r *http.Request) *Tree {
	return &Tree{
		reg:   reg,
		req:   r,
		nodes: make(map[string]Component),
		memo:  make(map[string]string),
	}
}

// Request returns the request the tree was built for.
func (t *Tree) Request() *http.Request { return t.req }

// Registry returns the registry that owns the tree.
func (t *Tree) Registry() *Registry { return t.reg }

// Get returns the component with id, or nil.
func (t *Tree) Get(id string) Component {
	return t.nodes[id]
}

// Len returns the number of loaded components.
func (t *Tree) Len() int { return len(t.nodes) }

// add stores c, replacing any component with the same id, and binds it to
// the tree.
func (t *Tree) add(c Component) {
	b := baseOf(c)
	b.tree = t
	t.nodes[b.id] = c
	delete(t.memo, b.id)
}

// Link makes child a child of parent. Linking is idempotent.
func (t *Tree) Link(parent, child Component) {
	pb, cb := baseOf(parent), baseOf(child)
	if cb.parentID != "" && cb.parentID != pb.id {
		if old := t.Get(cb.parentID); old != nil {
			ob := baseOf(old)
			ob.childIDs = slices.DeleteFunc(ob.childIDs, func(id string) bool { return id == cb.id })
		}
	}
	cb.parentID = pb.id
	if !slices.Contains(pb.childIDs, cb.id) {
		pb.childIDs = append(pb.childIDs, cb.id)
	}
	if t.Get(pb.id) == nil {
		t.add(parent)
	}
	if t.Get(cb.id) == nil {
		t.add(child)
	}
}

// Root walks parent links up from c.
func (t *Tree) Root(c Component) Component {
	seen := map[string]bool{}
	for {
		b := baseOf(c)
		if seen[b.id] {
			return c
		}
		seen[b.id] = true
		p := t.Get(b.parentID)
		if p == nil {
			return c
		}
		c = p
	}
}

// Walk visits c and its loaded descendants depth first.
func (t *Tree) Walk(c Component, fn func(Component) error) error {
	seen := map[string]bool{}
	var visit func(Component) error
	visit = func(n Component) error {
		b := baseOf(n)
		if seen[b.id] {
			return nil
		}
		seen[b.id] = true
		if err := fn(n); err != nil {
			return err
		}
		for _, id := range b.childIDs {
			if child := t.Get(id); child != nil {
				if err := visit(child); err != nil {
					return err
				}
			}
		}
		return nil
	}
	return visit(c)
}

// prune drops every loaded descendant of c from the tree and clears its
// child links.
func (t *Tree) prune(c Component) {
	b := baseOf(c)
	for _, id := range b.childIDs {
		if child := t.Get(id); child != nil && child != c {
			t.prune(child)
			delete(t.nodes, id)
			delete(t.memo, id)
		}
	}
	b.childIDs = nil
}

// replace swaps the component stored under old's id for fresh, carrying
// over the parent link and, when fresh mounted no children of its own, the
// child links.
func (t *Tree) replace(old, fresh Component) {
	ob, fb := baseOf(old), baseOf(fresh)
	if fb.parentID == "" {
		fb.parentID = ob.parentID
	}
	if len(fb.childIDs) == 0 {
		fb.childIDs = ob.childIDs
	}
	if fb.key == "" {
		fb.key = ob.key
	}
	t.add(fresh)
}
