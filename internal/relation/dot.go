package relation

import (
	"fmt"
	"strings"
)

// Dot renders the plan as a GraphViz digraph, one record per node listing
// its output fields, with edges from inputs to consumers.
func Dot(r Relation) string {
	var sb strings.Builder
	sb.WriteString("digraph relation {\n")
	sb.WriteString("  rankdir=BT;\n  node [shape=record, fontname=\"Helvetica\"];\n")
	ids := make(map[Relation]int)
	for i, n := range PostOrder(r) {
		ids[n] = i
		fields := make([]string, len(n.Schema()))
		for j, f := range n.Schema() {
			fields[j] = dotEscape(f.Name + ": " + f.Type.String())
		}
		min, max := n.Size()
		size := fmt.Sprintf("[%d, %d]", min, max)
		if max == Unbounded {
			size = fmt.Sprintf("[%d, +inf)", min)
		}
		fmt.Fprintf(&sb, "  n%d [label=\"{%s %s|%s|%s}\"];\n", i, kind(n), dotEscape(n.Name()),
			strings.Join(fields, "\\l")+"\\l", dotEscape(size))
		for _, in := range n.Inputs() {
			fmt.Fprintf(&sb, "  n%d -> n%d;\n", ids[in], i)
		}
	}
	sb.WriteString("}\n")
	return sb.String()
}

func kind(r Relation) string {
	switch x := r.(type) {
	case *Table:
		return "TABLE"
	case *Map:
		return "MAP"
	case *Reduce:
		return "REDUCE"
	case *Join:
		return x.Kind.String() + " JOIN"
	case *Set:
		return x.Op.String()
	case *Values:
		return "VALUES"
	case *Sort:
		return "SORT"
	case *Limit:
		return "LIMIT"
	}
	return "?"
}

var dotEscaper = strings.NewReplacer(`"`, `\"`, "{", `\{`, "}", `\}`, "|", `\|`, "<", `\<`, ">", `\>`)

func dotEscape(s string) string {
	return dotEscaper.Replace(s)
}
