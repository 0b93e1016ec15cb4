package inference

import "errors"

// SkipChildren can be returned by a WalkFunc to skip the children of the
// node it was called for.
var SkipChildren = errors.New("inference: skip children")

// WalkFunc is called for every node visited by Walk. path is the
// slash-joined list of names from the root to node.
type WalkFunc func(path string, node Node) error

// Walk visits root and its static children depth-first, parents before
// children. Children are found through Composite, or SharedInference for
// shared-parallel nodes. A node reachable through several parents is only
// visited at its first path.
func Walk(root Node, fn WalkFunc) error {
	if root == nil {
		return ErrNilNode
	}
	w := &walker{fn: fn}
	return w.walk("", root)
}

type walker struct {
	fn   WalkFunc
	seen []Node
}

func (w *walker) walk(prefix string, node Node) error {
	for _, seen := range w.seen {
		if Same(seen, node) {
			return nil
		}
	}
	w.seen = append(w.seen, node)

	path := node.Name()
	if prefix != "" {
		path = prefix + "/" + path
	}

	if err := w.fn(path, node); err != nil {
		if errors.Is(err, SkipChildren) {
			return nil
		}
		return err
	}

	for _, child := range childrenOf(node) {
		if child == nil {
			continue
		}
		if err := w.walk(path, child); err != nil {
			return err
		}
	}
	return nil
}

func childrenOf(node Node) []Node {
	if c, ok := node.(Composite); ok {
		return c.Children()
	}
	if s, ok := node.(SharedParallel); ok {
		return []Node{s.SharedInference()}
	}
	return nil
}
