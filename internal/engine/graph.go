package engine

import (
	"strings"

	"github.com/driftwood-io/driftwood/internal/ir"
)

// RefPrefix marks an attribute value as a reference to another resource's
// output: ref://<type>.<name>/<attribute>.
const RefPrefix = "ref://"

// DAG represents a directed acyclic graph of resources for dependency
// ordering. Ties among independent resources are broken by input order so
// plans are reproducible.
type DAG struct {
	nodes    map[string]*dagNode
	inputs   []string // addresses in input order
	order    []string // topological order (creation order)
	revOrder []string // reverse topological order (destruction order)
}

type dagNode struct {
	addr     string
	edges    []string // resources this node depends on
	revEdges []string // resources that depend on this node
}

// BuildDAG constructs a dependency graph from resources. It resolves both
// explicit DependsOn and implicit ref:// references in attribute values.
func BuildDAG(resources []*ir.Resource) (*DAG, error) {
	dag := &DAG{
		nodes: make(map[string]*dagNode),
	}

	for _, res := range resources {
		addr := res.Addr()
		dag.nodes[addr] = &dagNode{addr: addr}
		dag.inputs = append(dag.inputs, addr)
	}

	for _, res := range resources {
		node := dag.nodes[res.Addr()]

		for _, dep := range res.DependsOn {
			if _, ok := dag.nodes[dep]; ok {
				node.edges = append(node.edges, dep)
			}
		}

		for _, ref := range ExtractRefs(res.Attributes) {
			depAddr, _ := SplitRef(ref)
			if depAddr == "" || depAddr == res.Addr() {
				continue
			}
			if _, ok := dag.nodes[depAddr]; ok {
				node.edges = append(node.edges, depAddr)
			}
		}
	}

	if err := dag.finish(); err != nil {
		return nil, err
	}
	return dag, nil
}

// BuildDAGFromState constructs a dependency graph from state records, used
// for ordering destroys of resources no longer in the configuration.
func BuildDAGFromState(resources []*ir.ResourceState) (*DAG, error) {
	dag := &DAG{
		nodes: make(map[string]*dagNode),
	}

	for _, res := range resources {
		addr := res.Addr()
		dag.nodes[addr] = &dagNode{addr: addr}
		dag.inputs = append(dag.inputs, addr)
	}
	for _, res := range resources {
		node := dag.nodes[res.Addr()]
		for _, dep := range res.Dependencies {
			if _, ok := dag.nodes[dep]; !ok {
				dag.nodes[dep] = &dagNode{addr: dep}
				dag.inputs = append(dag.inputs, dep)
			}
			node.edges = append(node.edges, dep)
		}
	}

	if err := dag.finish(); err != nil {
		return nil, err
	}
	return dag, nil
}

func (d *DAG) finish() error {
	for addr, node := range d.nodes {
		for _, dep := range node.edges {
			d.nodes[dep].revEdges = append(d.nodes[dep].revEdges, addr)
		}
	}

	order, err := d.topoSort()
	if err != nil {
		return err
	}
	d.order = order

	d.revOrder = make([]string, len(order))
	for i, addr := range order {
		d.revOrder[len(order)-1-i] = addr
	}
	return nil
}

// CreationOrder returns resources in dependency-respecting creation order.
func (d *DAG) CreationOrder() []string {
	return d.order
}

// DestructionOrder returns resources in reverse dependency order (safe for
// deletion).
func (d *DAG) DestructionOrder() []string {
	return d.revOrder
}

// Dependencies returns the direct dependencies of a given address.
func (d *DAG) Dependencies(addr string) []string {
	if node, ok := d.nodes[addr]; ok {
		return node.edges
	}
	return nil
}

// TransitiveDeps returns all resources addr depends on, directly or not.
func (d *DAG) TransitiveDeps(addr string) []string {
	seen := make(map[string]bool)
	var out []string
	var walk func(a string)
	walk = func(a string) {
		node, ok := d.nodes[a]
		if !ok {
			return
		}
		for _, dep := range node.edges {
			if !seen[dep] {
				seen[dep] = true
				out = append(out, dep)
				walk(dep)
			}
		}
	}
	walk(addr)
	return out
}

// Subgraph returns the set of addresses induced by targets plus their
// transitive dependencies, for incremental applies of a partial graph.
// Ordering queries against the parent DAG remain valid for the subset.
func (d *DAG) Subgraph(targets []string) map[string]bool {
	set := make(map[string]bool)
	for _, t := range targets {
		if _, ok := d.nodes[t]; !ok {
			continue
		}
		set[t] = true
		for _, dep := range d.TransitiveDeps(t) {
			set[dep] = true
		}
	}
	return set
}

// topoSort performs Kahn's algorithm. Ready nodes are drained in input order
// so the result is deterministic for a given configuration.
func (d *DAG) topoSort() ([]string, error) {
	inDegree := make(map[string]int, len(d.nodes))
	for addr, node := range d.nodes {
		inDegree[addr] = len(node.edges)
	}

	emitted := make(map[string]bool, len(d.nodes))
	var sorted []string
	for len(sorted) < len(d.nodes) {
		progressed := false
		for _, addr := range d.inputs {
			if emitted[addr] || inDegree[addr] != 0 {
				continue
			}
			emitted[addr] = true
			sorted = append(sorted, addr)
			progressed = true
			for _, dependent := range d.nodes[addr].revEdges {
				inDegree[dependent]--
			}
		}
		if !progressed {
			return nil, &CycleError{Members: d.findCycle(emitted)}
		}
	}

	return sorted, nil
}

// findCycle walks unemitted nodes along unmet edges until one repeats.
func (d *DAG) findCycle(emitted map[string]bool) []string {
	var start string
	for _, addr := range d.inputs {
		if !emitted[addr] {
			start = addr
			break
		}
	}
	if start == "" {
		return nil
	}

	visited := make(map[string]int)
	var path []string
	cur := start
	for {
		if at, seen := visited[cur]; seen {
			return append(path[at:], cur)
		}
		visited[cur] = len(path)
		path = append(path, cur)

		next := ""
		for _, dep := range d.nodes[cur].edges {
			if !emitted[dep] {
				next = dep
				break
			}
		}
		if next == "" {
			return path
		}
		cur = next
	}
}

// ExtractRefs extracts all ref:// references from an attribute value.
func ExtractRefs(v any) []string {
	var refs []string
	switch val := v.(type) {
	case string:
		if strings.HasPrefix(val, RefPrefix) {
			refs = append(refs, val)
		}
	case map[string]any:
		for _, v := range val {
			refs = append(refs, ExtractRefs(v)...)
		}
	case map[any]any:
		for _, v := range val {
			refs = append(refs, ExtractRefs(v)...)
		}
	case []any:
		for _, v := range val {
			refs = append(refs, ExtractRefs(v)...)
		}
	}
	return refs
}

// SplitRef converts "ref://compute.Instance.web/id" to
// ("compute.Instance.web", "id").
func SplitRef(ref string) (addr, attr string) {
	if !strings.HasPrefix(ref, RefPrefix) {
		return "", ""
	}
	path := ref[len(RefPrefix):]
	i := strings.LastIndex(path, "/")
	if i <= 0 || i == len(path)-1 {
		return "", ""
	}
	return path[:i], path[i+1:]
}
