// Package markup inspects and rewrites rendered component HTML: it
// enforces the single-root rule, stamps identity attributes onto the root
// element, extracts partial regions and splices re-rendered children back
// into a parent's markup.
package markup

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Errors returned when a fragment does not have exactly one root element.
var (
	ErrNoRoot        = errors.New("markup: component template has no root element")
	ErrMultipleRoots = errors.New("markup: component template must have exactly one root element")
)

// Fragment is a parsed component fragment with a single root element.
type Fragment struct {
	Root *html.Node
}

var bodyContext = &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}

// Parse parses src and checks that it contains exactly one top-level
// element. Whitespace and comments around the root are allowed; any other
// top-level text is not.
func Parse(src string) (*Fragment, error) {
	nodes, err := html.ParseFragment(strings.NewReader(src), bodyContext)
	if err != nil {
		return nil, fmt.Errorf("markup: %w", err)
	}

	var root *html.Node
	for _, n := range nodes {
		switch n.Type {
		case html.ElementNode:
			if root != nil {
				return nil, ErrMultipleRoots
			}
			root = n
		case html.TextNode:
			if strings.TrimSpace(n.Data) != "" {
				return nil, ErrMultipleRoots
			}
		}
	}
	if root == nil {
		return nil, ErrNoRoot
	}
	return &Fragment{Root: root}, nil
}

// SetAttr sets (or replaces) an attribute on the root element.
func (f *Fragment) SetAttr(key, val string) {
	setAttr(f.Root, key, val)
}

// Attr returns the value of a root attribute.
func (f *Fragment) Attr(key string) (string, bool) {
	return attr(f.Root, key)
}

// String renders the fragment.
func (f *Fragment) String() string {
	return render(f.Root)
}

// Find returns the first element (root included) with attribute key equal
// to val.
func (f *Fragment) Find(key, val string) *html.Node {
	return find(f.Root, func(n *html.Node) bool {
		v, ok := attr(n, key)
		return ok && v == val
	})
}

// Replace swaps the first element with attribute key == val for the root of
// replacement. It reports whether a match was found. The fragment root
// itself is never replaced.
func (f *Fragment) Replace(key, val string, replacement *Fragment) bool {
	target := find(f.Root, func(n *html.Node) bool {
		if n == f.Root {
			return false
		}
		v, ok := attr(n, key)
		return ok && v == val
	})
	if target == nil || target.Parent == nil {
		return false
	}

	node := replacement.Root
	if node.Parent != nil {
		node.Parent.RemoveChild(node)
	}
	target.Parent.InsertBefore(node, target)
	target.Parent.RemoveChild(target)
	return true
}

// Extract renders the first element whose id or key attribute equals
// target.
func Extract(src, keyAttr, target string) (string, bool, error) {
	frag, err := parseAny(src)
	if err != nil {
		return "", false, err
	}
	for _, root := range frag {
		n := find(root, func(n *html.Node) bool {
			if v, ok := attr(n, "id"); ok && v == target {
				return true
			}
			v, ok := attr(n, keyAttr)
			return ok && v == target
		})
		if n != nil {
			return render(n), true, nil
		}
	}
	return "", false, nil
}

// ExtractBy renders the first element whose attribute key equals val.
func ExtractBy(src, key, val string) (string, bool, error) {
	frag, err := parseAny(src)
	if err != nil {
		return "", false, err
	}
	for _, root := range frag {
		n := find(root, func(n *html.Node) bool {
			v, ok := attr(n, key)
			return ok && v == val
		})
		if n != nil {
			return render(n), true, nil
		}
	}
	return "", false, nil
}

func parseAny(src string) ([]*html.Node, error) {
	nodes, err := html.ParseFragment(strings.NewReader(src), bodyContext)
	if err != nil {
		return nil, fmt.Errorf("markup: %w", err)
	}
	return nodes, nil
}

func find(n *html.Node, match func(*html.Node) bool) *html.Node {
	if n.Type == html.ElementNode && match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := find(c, match); found != nil {
			return found
		}
	}
	return nil
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func render(n *html.Node) string {
	var buf bytes.Buffer
	if err := html.Render(&buf, n); err != nil {
		return ""
	}
	return buf.String()
}
