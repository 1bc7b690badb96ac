package engine

import (
	"fmt"
	"sort"
	"strings"
)

// ToDOT renders the part of the graph reachable from roots in Graphviz DOT
// format. Nodes are grouped by kind and colored by state; cyclic edges are
// drawn dashed. With no roots, the whole graph is rendered.
func (g *ProductGraph) ToDOT(roots []Node) string {
	var entries []WalkEntry
	if len(roots) == 0 {
		entries = g.Walk(g.Nodes(), AllNodes)
	} else {
		entries = g.Walk(roots, AllNodes)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Node.String() < entries[j].Node.String() })

	ids := make(map[Node]string, len(entries))
	for i, e := range entries {
		ids[e.Node] = fmt.Sprintf("n%d", i)
	}

	var sb strings.Builder
	sb.WriteString("digraph ProductGraph {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for _, kind := range AllNodeKinds {
		var members []WalkEntry
		for _, e := range entries {
			if e.Node.Kind() == kind {
				members = append(members, e)
			}
		}
		if len(members) == 0 {
			continue
		}
		sb.WriteString(fmt.Sprintf("  subgraph cluster_%s {\n", kind))
		sb.WriteString(fmt.Sprintf("    label=\"%s\";\n", kind))
		sb.WriteString("    style=dashed;\n")
		for _, e := range members {
			sb.WriteString(fmt.Sprintf("    %s [label=\"%s\", fillcolor=\"%s\", style=\"filled,rounded\"];\n",
				ids[e.Node], escapeDOT(e.Node.String()), stateColor(e.State)))
		}
		sb.WriteString("  }\n\n")
	}

	// Edges point from a dependency to the node that consumed it.
	for _, e := range entries {
		for _, dep := range e.Dependencies {
			if id, ok := ids[dep]; ok {
				sb.WriteString(fmt.Sprintf("  %s -> %s [style=solid, color=black];\n", id, ids[e.Node]))
			}
		}
		for _, c := range g.CyclicDependenciesOf(e.Node) {
			if id, ok := ids[c.Dependency]; ok {
				sb.WriteString(fmt.Sprintf("  %s -> %s [style=dashed, color=red];\n", id, ids[e.Node]))
			}
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

// stateColor returns a color for visualizing node states.
func stateColor(s State) string {
	switch s.(type) {
	case Return:
		return "lightgreen"
	case Throw:
		return "lightcoral"
	case Noop:
		return "lightgray"
	default:
		return "white"
	}
}

func escapeDOT(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return strings.ReplaceAll(s, "\n", `\n`)
}
