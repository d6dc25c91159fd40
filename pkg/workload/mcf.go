package workload

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
)

// MaxMCFNodes bounds the generated graph; edge generation is quadratic.
const MaxMCFNodes = 4096

// MCFInput seeds the graph generator.
type MCFInput struct {
	Nodes int    `json:"nodes"`
	Seed  uint64 `json:"seed"`
}

// MCFPath is one augmenting path with the flow pushed along it and the
// per-unit cost.
type MCFPath struct {
	Vertices []string `json:"vertices"`
	Flow     int64    `json:"flow"`
	Cost     int64    `json:"cost"`
}

// MCFOutput is the MCF workload output.
type MCFOutput struct {
	MinCost int64     `json:"min_cost"`
	MaxFlow int64     `json:"max_flow"`
	Paths   []MCFPath `json:"paths"`
}

// MCF generates a seeded random flow network and solves min-cost max-flow
// from source to sink by successive shortest paths.
type MCF struct{}

func (MCF) Name() string { return "mcf" }

func (MCF) Run(input []byte) ([]byte, error) {
	var in MCFInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, invalid("mcf: decode input: %v", err)
	}
	if in.Nodes < 1 || in.Nodes > MaxMCFNodes {
		return nil, invalid("mcf: nodes %d outside [1, %d]", in.Nodes, MaxMCFNodes)
	}
	g := randomNetwork(in.Nodes, in.Seed)
	return json.Marshal(g.minCostMaxFlow())
}

// Generate returns an input for a size-node graph.
func (MCF) Generate(size int) ([]byte, error) {
	if size < 1 || size > MaxMCFNodes {
		return nil, invalid("mcf: nodes %d outside [1, %d]", size, MaxMCFNodes)
	}
	return json.Marshal(MCFInput{Nodes: size, Seed: 42})
}

type edge struct {
	to, rev int
	cap     int64
	cost    int64
}

// network has nodes 0..n-1 plus source n and sink n+1.
type network struct {
	n     int
	edges [][]edge
}

func (g *network) source() int { return g.n }
func (g *network) sink() int   { return g.n + 1 }

func (g *network) label(v int) string {
	switch v {
	case g.source():
		return "source"
	case g.sink():
		return "sink"
	}
	return fmt.Sprintf("N%d", v)
}

func (g *network) addEdge(from, to int, capacity, cost int64) {
	g.edges[from] = append(g.edges[from], edge{to: to, rev: len(g.edges[to]), cap: capacity, cost: cost})
	g.edges[to] = append(g.edges[to], edge{to: from, rev: len(g.edges[from]) - 1, cap: 0, cost: -cost})
}

// randomNetwork draws edges with the probabilities of the classic mcf
// benchmark generator: source to a node 70%, node to node 20%, node to sink
// 50%.
func randomNetwork(n int, seed uint64) *network {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	between := func(lo, hi int) int64 { return int64(lo + rng.IntN(hi-lo+1)) }
	chance := func(pct int) bool { return rng.IntN(100) < pct }

	g := &network{n: n, edges: make([][]edge, n+2)}
	for v := 0; v < n; v++ {
		if chance(70) {
			g.addEdge(g.source(), v, between(1, 5), between(0, 10))
		}
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i != j && chance(20) {
				g.addEdge(i, j, between(1, 5), between(1, 100))
			}
		}
	}
	for v := 0; v < n; v++ {
		if chance(50) {
			g.addEdge(v, g.sink(), between(1, 5), between(10, 200))
		}
	}
	return g
}

// minCostMaxFlow augments along cheapest residual paths found by
// Bellman-Ford (queue based) until the sink is unreachable.
func (g *network) minCostMaxFlow() MCFOutput {
	const inf = int64(1) << 62
	total := len(g.edges)
	dist := make([]int64, total)
	inQueue := make([]bool, total)
	prevNode := make([]int, total)
	prevEdge := make([]int, total)

	out := MCFOutput{Paths: []MCFPath{}}
	s, t := g.source(), g.sink()
	for {
		for i := range dist {
			dist[i] = inf
			prevNode[i] = -1
		}
		dist[s] = 0
		queue := []int{s}
		inQueue[s] = true
		for len(queue) > 0 {
			u := queue[0]
			queue = queue[1:]
			inQueue[u] = false
			for i, e := range g.edges[u] {
				if e.cap > 0 && dist[u]+e.cost < dist[e.to] {
					dist[e.to] = dist[u] + e.cost
					prevNode[e.to] = u
					prevEdge[e.to] = i
					if !inQueue[e.to] {
						inQueue[e.to] = true
						queue = append(queue, e.to)
					}
				}
			}
		}
		if dist[t] == inf {
			return out
		}

		flow := inf
		for v := t; v != s; v = prevNode[v] {
			flow = min(flow, g.edges[prevNode[v]][prevEdge[v]].cap)
		}
		var path []string
		for v := t; v != s; v = prevNode[v] {
			e := &g.edges[prevNode[v]][prevEdge[v]]
			e.cap -= flow
			g.edges[v][e.rev].cap += flow
			path = append(path, g.label(v))
		}
		path = append(path, g.label(s))
		for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
			path[i], path[j] = path[j], path[i]
		}

		out.MaxFlow += flow
		out.MinCost += flow * dist[t]
		out.Paths = append(out.Paths, MCFPath{Vertices: path, Flow: flow, Cost: dist[t]})
	}
}
