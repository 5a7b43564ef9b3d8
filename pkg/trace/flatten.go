package trace

// Walk visits every node depth-first in pre-order: a parent before its children.
func Walk(nodes []Node, fn func(Node)) {
	for _, n := range nodes {
		fn(n)

		if f, ok := AsFrame(n); ok {
			Walk(f.Children, fn)
		}
	}
}

// Count returns the total number of nodes in the forest, counting all nesting.
func Count(nodes []Node) int {
	total := 0

	Walk(nodes, func(Node) { total++ })

	return total
}

// Flatten returns every node of the forest in pre-order. Call-like nodes are
// emitted as shallow copies whose children are empty; the input is not modified.
func Flatten(nodes []Node) []Node {
	out := make([]Node, 0, Count(nodes))

	Walk(nodes, func(n Node) {
		switch v := n.(type) {
		case *Call:
			c := *v
			c.Children = Nodes{}
			out = append(out, &c)
		case *DelegateCall:
			c := *v
			c.Children = Nodes{}
			out = append(out, &c)
		default:
			out = append(out, n)
		}
	})

	return out
}
