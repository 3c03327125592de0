package engine

import "phaseline/internal/domain"

// BuildTaskTree links a flat task set into parent/child trees in two passes:
// first an index from id to node, then parent attachment. Construction is
// O(n) regardless of input order. A task whose parent id is absent from the
// set becomes a root rather than an error.
func BuildTaskTree(tasks []domain.Task) []*domain.TaskNode {
	index := make(map[string]*domain.TaskNode, len(tasks))
	for _, t := range tasks {
		index[t.ID] = &domain.TaskNode{Task: t, Children: []*domain.TaskNode{}}
	}
	var roots []*domain.TaskNode
	for _, t := range tasks {
		node := index[t.ID]
		if t.ParentID != nil {
			if parent, ok := index[*t.ParentID]; ok {
				parent.Children = append(parent.Children, node)
				continue
			}
		}
		roots = append(roots, node)
	}
	for _, root := range roots {
		setDepth(root, 0)
	}
	return roots
}

func setDepth(n *domain.TaskNode, depth int) {
	n.Depth = depth
	for _, c := range n.Children {
		setDepth(c, depth+1)
	}
}
