package authz

import (
	"fmt"
	"sort"
)

// Hierarchy is an immutable view of parent and association links between
// organizations.
type Hierarchy struct {
	parent     map[string]string
	children   map[string][]string
	associates map[string][]string
	known      map[string]struct{}
}

// NewHierarchy indexes orgs and rejects self references and parent cycles.
// A parent id that is not among orgs ends the ancestor walk there.
func NewHierarchy(orgs []Organization) (*Hierarchy, error) {
	h := &Hierarchy{
		parent:     make(map[string]string, len(orgs)),
		children:   make(map[string][]string),
		associates: make(map[string][]string),
		known:      make(map[string]struct{}, len(orgs)),
	}
	for _, o := range orgs {
		h.known[o.ID] = struct{}{}
		if o.ParentID != "" {
			if o.ParentID == o.ID {
				return nil, fmt.Errorf("%w: %s is its own parent", ErrSelfReference, o.ID)
			}
			h.parent[o.ID] = o.ParentID
			h.children[o.ParentID] = append(h.children[o.ParentID], o.ID)
		}
		for _, a := range o.AssociatedIDs {
			if a == o.ID {
				return nil, fmt.Errorf("%w: %s is associated with itself", ErrSelfReference, o.ID)
			}
			h.associates[o.ID] = appendUnique(h.associates[o.ID], a)
			h.associates[a] = appendUnique(h.associates[a], o.ID)
		}
	}
	for id := range h.parent {
		if err := h.checkAcyclic(id); err != nil {
			return nil, err
		}
	}
	for id := range h.children {
		sort.Strings(h.children[id])
	}
	for id := range h.associates {
		sort.Strings(h.associates[id])
	}
	return h, nil
}

func (h *Hierarchy) checkAcyclic(start string) error {
	seen := map[string]struct{}{start: {}}
	for cur, ok := h.parent[start]; ok; cur, ok = h.parent[cur] {
		if _, loop := seen[cur]; loop {
			return fmt.Errorf("%w: through %s", ErrCycle, start)
		}
		seen[cur] = struct{}{}
	}
	return nil
}

// Contains reports whether id was part of the input set.
func (h *Hierarchy) Contains(id string) bool {
	_, ok := h.known[id]
	return ok
}

func (h *Hierarchy) Parent(id string) (string, bool) {
	p, ok := h.parent[id]
	return p, ok
}

// Ancestors returns the parent chain of id, nearest first.
func (h *Hierarchy) Ancestors(id string) []string {
	var out []string
	for cur, ok := h.parent[id]; ok; cur, ok = h.parent[cur] {
		out = append(out, cur)
	}
	return out
}

func (h *Hierarchy) Children(id string) []string {
	return append([]string(nil), h.children[id]...)
}

// Descendants returns every organization below id, breadth first.
func (h *Hierarchy) Descendants(id string) []string {
	var out []string
	queue := h.Children(id)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		out = append(out, next)
		queue = append(queue, h.children[next]...)
	}
	return out
}

// Associates returns peer organizations. Associations are symmetric.
func (h *Hierarchy) Associates(id string) []string {
	return append([]string(nil), h.associates[id]...)
}

// IsAncestor reports whether ancestor appears in the parent chain of id.
func (h *Hierarchy) IsAncestor(ancestor, id string) bool {
	for cur, ok := h.parent[id]; ok; cur, ok = h.parent[cur] {
		if cur == ancestor {
			return true
		}
	}
	return false
}

// CanSetParent validates making parent the parent of child. An empty parent
// detaches child and is always allowed.
func (h *Hierarchy) CanSetParent(child, parent string) error {
	if parent == "" {
		return nil
	}
	if child == parent {
		return fmt.Errorf("%w: %s cannot be its own parent", ErrSelfReference, child)
	}
	if h.IsAncestor(child, parent) {
		return fmt.Errorf("%w: %s is a descendant of %s", ErrCycle, parent, child)
	}
	return nil
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
