package task

import (
	"github.com/taskdesk/taskdesk/pkg/cerr"
)

// maxTreeDepth bounds delegation chain traversal. Data with a parent link
// pointing back into its own subtree would otherwise recurse forever.
const maxTreeDepth = 32

// Node is a task with its direct delegation children attached.
type Node struct {
	*Task
	Children []*Node `json:"children,omitempty"`
}

// BuildForest partitions the collection into delegation trees rooted at
// tasks with no parent. A task whose parent is gone becomes a root so
// deleting a parent never hides its subtree. Exceeding the depth cap, or
// parent links that form a cycle and leave tasks unreachable from any
// root, is reported as a data-integrity error rather than a silently
// incomplete forest.
func BuildForest(tasks []*Task) ([]*Node, error) {
	byID := make(map[string]*Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}
	children := make(map[string][]*Task)
	for _, t := range tasks {
		if _, ok := byID[t.ParentID]; t.ParentID != "" && ok {
			children[t.ParentID] = append(children[t.ParentID], t)
		}
	}

	visited := 0
	var build func(t *Task, depth int) (*Node, error)
	build = func(t *Task, depth int) (*Node, error) {
		if depth > maxTreeDepth {
			return nil, cerr.NewError(cerr.Internal, "delegation tree exceeds depth limit", nil)
		}
		visited++
		node := &Node{Task: t}
		for _, c := range children[t.ID] {
			child, err := build(c, depth+1)
			if err != nil {
				return nil, err
			}
			node.Children = append(node.Children, child)
		}
		return node, nil
	}

	forest := []*Node{}
	for _, t := range tasks {
		if _, parentExists := byID[t.ParentID]; !t.IsRoot() && parentExists {
			continue
		}
		node, err := build(t, 0)
		if err != nil {
			return nil, err
		}
		forest = append(forest, node)
	}
	if visited != len(tasks) {
		return nil, cerr.NewError(cerr.Internal, "delegation tree contains tasks unreachable from any root", nil)
	}
	return forest, nil
}
