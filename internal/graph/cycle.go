package graph

const (
	white = 0 // unvisited
	gray  = 1 // on the current DFS path
	black = 2 // finished
)

// FindCycle runs a three-color DFS over ids, following successors[id] in order
// and ignoring successors outside ids. It returns the first cycle found,
// ancestor first, or nil.
func FindCycle(ids []string, successors map[string][]string) []string {
	inScope := make(map[string]bool, len(ids))
	for _, id := range ids {
		inScope[id] = true
	}

	color := make(map[string]int, len(ids))
	parent := make(map[string]string, len(ids))

	var cyclePath []string

	var dfs func(node string) bool
	dfs = func(node string) bool {
		color[node] = gray
		for _, next := range successors[node] {
			if !inScope[next] {
				continue
			}
			switch color[next] {
			case gray:
				cyclePath = reconstruct(node, next, parent)
				return true
			case white:
				parent[next] = node
				if dfs(next) {
					return true
				}
			}
		}
		color[node] = black
		return false
	}

	for _, id := range ids {
		if color[id] == white {
			if dfs(id) {
				return cyclePath
			}
		}
	}
	return nil
}

// reconstruct walks parent pointers from current back to ancestor, then
// prepends the ancestor.
func reconstruct(current, ancestor string, parent map[string]string) []string {
	var back []string
	for n := current; n != ancestor; n = parent[n] {
		back = append(back, n)
	}
	path := make([]string, 0, len(back)+1)
	path = append(path, ancestor)
	for i := len(back) - 1; i >= 0; i-- {
		path = append(path, back[i])
	}
	return path
}
