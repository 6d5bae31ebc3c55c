// Package layout learns a graph of positions the player has actually reached
// and answers shortest-path queries over it.
package layout

import (
	"container/heap"
	"math"
	"sync"

	"github.com/ConserveLee/scroll-idle/internal/constants"
	"github.com/ConserveLee/scroll-idle/internal/state"
)

// Graph is safe for concurrent use.
type Graph struct {
	MergeRadius  float64 // points closer than this collapse into one node
	LinkDistance float64 // max length of a learned edge
	SnapRadius   float64 // max distance from a query point to its entry node

	mu    sync.Mutex
	nodes []state.Position
	adj   []map[int]float64
	last  int
}

// New creates an empty graph with default radii.
func New() *Graph {
	return &Graph{
		MergeRadius:  constants.LayoutMergeRadius,
		LinkDistance: constants.LayoutLinkDistance,
		SnapRadius:   constants.LayoutSnapRadius,
		last:         -1,
	}
}

// Len is the number of nodes.
func (g *Graph) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.nodes)
}

// Clear drops every node and edge.
func (g *Graph) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nodes = nil
	g.adj = nil
	g.last = -1
}

// Break forgets the previously added node so the next Add starts a new chain.
func (g *Graph) Break() {
	g.mu.Lock()
	g.last = -1
	g.mu.Unlock()
}

// Add records p and links it from the previously added node when the
// transition is short enough to have been walked.
func (g *Graph) Add(p state.Position) {
	g.mu.Lock()
	defer g.mu.Unlock()

	idx, d := g.nearestLocked(p)
	if idx < 0 || d > g.MergeRadius {
		idx = len(g.nodes)
		g.nodes = append(g.nodes, p)
		g.adj = append(g.adj, map[int]float64{})
	}
	if g.last >= 0 && g.last != idx {
		if w := g.nodes[g.last].Dist(g.nodes[idx]); w <= g.LinkDistance {
			g.adj[g.last][idx] = w
		}
	}
	g.last = idx
}

func (g *Graph) nearestLocked(p state.Position) (int, float64) {
	best, bestD := -1, math.Inf(1)
	for i, n := range g.nodes {
		if d := n.Dist(p); d < bestD {
			best, bestD = i, d
		}
	}
	return best, bestD
}

// ShortestPath returns the node sequence from the node nearest to `from`
// towards `to`. The result always ends exactly at `to`; when no recorded
// route exists it is the single element [to].
func (g *Graph) ShortestPath(from, to state.Position) []state.Position {
	g.mu.Lock()
	defer g.mu.Unlock()

	direct := []state.Position{to}
	src, ds := g.nearestLocked(from)
	dst, dd := g.nearestLocked(to)
	if src < 0 || ds > g.SnapRadius || dd > g.SnapRadius {
		return direct
	}
	idx := g.dijkstraLocked(src, dst)
	if idx == nil {
		return direct
	}

	path := make([]state.Position, 0, len(idx)+1)
	for _, i := range idx {
		path = append(path, g.nodes[i])
	}
	if last := path[len(path)-1]; last.Dist(to) <= g.MergeRadius {
		path[len(path)-1] = to
	} else {
		path = append(path, to)
	}
	return path
}

func (g *Graph) dijkstraLocked(src, dst int) []int {
	n := len(g.nodes)
	dist := make([]float64, n)
	prev := make([]int, n)
	for i := range dist {
		dist[i] = math.Inf(1)
		prev[i] = -1
	}
	dist[src] = 0

	pq := &queue{{node: src}}
	for pq.Len() > 0 {
		it := heap.Pop(pq).(item)
		if it.dist > dist[it.node] {
			continue
		}
		if it.node == dst {
			break
		}
		for next, w := range g.adj[it.node] {
			if nd := it.dist + w; nd < dist[next] {
				dist[next] = nd
				prev[next] = it.node
				heap.Push(pq, item{node: next, dist: nd})
			}
		}
	}
	if math.IsInf(dist[dst], 1) {
		return nil
	}

	var rev []int
	for at := dst; at != -1; at = prev[at] {
		rev = append(rev, at)
	}
	out := make([]int, len(rev))
	for i, v := range rev {
		out[len(rev)-1-i] = v
	}
	return out
}

type item struct {
	node int
	dist float64
}

type queue []item

func (q queue) Len() int            { return len(q) }
func (q queue) Less(i, j int) bool  { return q[i].dist < q[j].dist }
func (q queue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *queue) Push(x interface{}) { *q = append(*q, x.(item)) }
func (q *queue) Pop() interface{} {
	old := *q
	it := old[len(old)-1]
	*q = old[:len(old)-1]
	return it
}

// Edge is a directed learned transition between node indices.
type Edge struct {
	From, To int
}

// Snapshot is a serializable copy of the graph.
type Snapshot struct {
	Nodes []state.Position
	Edges []Edge
}

// Snapshot copies nodes and edges.
func (g *Graph) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := Snapshot{Nodes: append([]state.Position(nil), g.nodes...)}
	for from, m := range g.adj {
		for to := range m {
			s.Edges = append(s.Edges, Edge{From: from, To: to})
		}
	}
	return s
}

// Restore replaces the graph's content. Edges with unknown endpoints are dropped.
func (g *Graph) Restore(s Snapshot) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nodes = append([]state.Position(nil), s.Nodes...)
	g.adj = make([]map[int]float64, len(g.nodes))
	for i := range g.adj {
		g.adj[i] = map[int]float64{}
	}
	for _, e := range s.Edges {
		if e.From < 0 || e.To < 0 || e.From >= len(g.nodes) || e.To >= len(g.nodes) || e.From == e.To {
			continue
		}
		g.adj[e.From][e.To] = g.nodes[e.From].Dist(g.nodes[e.To])
	}
	g.last = -1
}
