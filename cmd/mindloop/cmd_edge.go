package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mindloop/internal/thoughtdb"
	"mindloop/internal/types"
)

var (
	edgeListFrom string
	edgeListTo   string

	edgeAddType  string
	edgeAddRefs  []string
	edgeAddNotes string

	graphDepth int
	graphTypes []string
)

// edgeCmd groups Thought DB edge operations
var edgeCmd = &cobra.Command{
	Use:   "edge",
	Short: "Inspect and record graph edges",
}

var edgeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List edges, optionally filtered by endpoint",
	RunE:  listEdges,
}

var edgeAddCmd = &cobra.Command{
	Use:     "add <from_id> <to_id>",
	Aliases: []string{"create"},
	Short:   "Record a directed edge between two claims or nodes",
	Args:    cobra.ExactArgs(2),
	RunE:    addEdge,
}

var edgeShowCmd = &cobra.Command{
	Use:   "show <edge_id>",
	Short: "Show one edge with its provenance",
	Args:  cobra.ExactArgs(1),
	RunE:  showEdge,
}

var graphCmd = &cobra.Command{
	Use:   "graph <seed_id>",
	Short: "Walk the neighborhood of a claim or node",
	Args:  cobra.ExactArgs(1),
	RunE:  walkGraph,
}

func init() {
	edgeListCmd.Flags().StringVar(&edgeListFrom, "from", "", "only edges leaving this id")
	edgeListCmd.Flags().StringVar(&edgeListTo, "to", "", "only edges arriving at this id")

	edgeAddCmd.Flags().StringVar(&edgeAddType, "type", "supports", "edge type (depends_on, supports, contradicts, derived_from, mentions)")
	edgeAddCmd.Flags().StringSliceVar(&edgeAddRefs, "ref", nil, "evidence event ids to cite")
	edgeAddCmd.Flags().StringVar(&edgeAddNotes, "notes", "", "free-form notes")

	graphCmd.Flags().IntVar(&graphDepth, "depth", 2, "traversal depth")
	graphCmd.Flags().StringSliceVar(&graphTypes, "type", nil, "restrict traversal to these edge types")

	edgeCmd.AddCommand(edgeListCmd, edgeShowCmd, edgeAddCmd)
	rootCmd.AddCommand(edgeCmd, graphCmd)
}

func listEdges(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	var edges []*thoughtdb.Edge
	switch {
	case edgeListFrom != "":
		edges = a.store.EdgesFrom(edgeListFrom)
	case edgeListTo != "":
		edges = a.store.EdgesTo(edgeListTo)
	default:
		edges = a.store.AllEdges()
	}
	if len(edges) == 0 {
		fmt.Println(dimStyle.Render("no edges match"))
		return nil
	}
	for _, e := range edges {
		fmt.Printf("%s  %s %s %s\n", idStyle.Render(e.EdgeID),
			idStyle.Render(e.FromID),
			dimStyle.Render("-["+string(e.EdgeType)+"]->"),
			idStyle.Render(e.ToID))
	}
	return nil
}

func addEdge(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	et := types.EdgeType(edgeAddType)
	// Supersession and dedup have their own commands with the right
	// precondition checks.
	if et == types.EdgeSupersedes || et == types.EdgeSameAs {
		return fmt.Errorf("use 'mindloop claim supersede' or 'mindloop claim same-as' for %s edges", et)
	}

	refs := refsFromFlags(edgeAddRefs)
	if len(refs) == 0 {
		refs, err = a.selfRef("edge_add", args[0]+" "+edgeAddType+" "+args[1])
		if err != nil {
			return err
		}
	}
	id, err := a.store.AppendEdge(types.ScopeProject, &thoughtdb.Edge{
		EdgeType:   et,
		FromID:     args[0],
		ToID:       args[1],
		SourceRefs: refs,
		Notes:      edgeAddNotes,
	})
	if err != nil {
		return err
	}
	fmt.Println(okStyle.Render("edge recorded ") + idStyle.Render(id))
	return nil
}

func showEdge(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	for _, e := range a.store.AllEdges() {
		if e.EdgeID != args[0] {
			continue
		}
		fmt.Println(titleStyle.Render(string(e.EdgeType)) + " " + idStyle.Render(e.EdgeID))
		fmt.Printf("%s %s %s\n", idStyle.Render(e.FromID),
			dimStyle.Render("->"), idStyle.Render(e.ToID))
		fmt.Println(dimStyle.Render(fmt.Sprintf("scope=%s visibility=%s asserted=%s",
			e.Scope, e.Visibility, e.AssertedTS)))
		for _, ref := range e.SourceRefs {
			fmt.Println("  cites " + idStyle.Render(ref.EventID))
		}
		if e.Notes != "" {
			fmt.Println(dimStyle.Render("notes: ") + e.Notes)
		}
		return nil
	}
	return fmt.Errorf("unknown edge %q", args[0])
}

func walkGraph(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	opts := thoughtdb.SubgraphOptions{
		Seeds: []string{args[0]},
		Depth: graphDepth,
	}
	for _, t := range graphTypes {
		opts.EdgeTypes = append(opts.EdgeTypes, types.EdgeType(t))
	}
	g := a.store.Subgraph(opts)
	if len(g.Edges) == 0 {
		fmt.Println(dimStyle.Render("no edges within depth " + fmt.Sprint(graphDepth)))
		return nil
	}
	for _, e := range g.Edges {
		fmt.Printf("%s %s %s\n", idStyle.Render(e.FromID),
			dimStyle.Render("-["+string(e.EdgeType)+"]->"), idStyle.Render(e.ToID))
	}
	return nil
}
