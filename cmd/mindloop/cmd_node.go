package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mindloop/internal/thoughtdb"
	"mindloop/internal/types"
)

var (
	nodeListType  []string
	nodeListTags  []string
	nodeListAll   bool
	nodeListLimit int

	nodeAddType   string
	nodeAddText   string
	nodeAddTags   []string
	nodeAddRefs   []string
	nodeAddNotes  string
	nodeAddGlobal bool

	nodeRetractReason string
)

// nodeCmd groups Thought DB node operations
var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Inspect and maintain reasoning nodes",
}

var nodeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List decision, action and summary nodes",
	RunE:  listNodes,
}

var nodeShowCmd = &cobra.Command{
	Use:   "show <node_id>",
	Short: "Show one node with its provenance and edges",
	Args:  cobra.ExactArgs(1),
	RunE:  showNode,
}

var nodeAddCmd = &cobra.Command{
	Use:     "add <title>",
	Aliases: []string{"create"},
	Short:   "Record a node by hand",
	Args:    cobra.ExactArgs(1),
	RunE:    addNode,
}

var nodeRetractCmd = &cobra.Command{
	Use:   "retract <node_id>",
	Short: "Retract an active node",
	Args:  cobra.ExactArgs(1),
	RunE:  retractNode,
}

func init() {
	nodeListCmd.Flags().StringSliceVar(&nodeListType, "type", nil, "filter by node type (decision, action, summary)")
	nodeListCmd.Flags().StringSliceVar(&nodeListTags, "tag", nil, "require all of these tags")
	nodeListCmd.Flags().BoolVar(&nodeListAll, "all", false, "include superseded and retracted nodes")
	nodeListCmd.Flags().IntVar(&nodeListLimit, "limit", 50, "maximum results")

	nodeAddCmd.Flags().StringVar(&nodeAddType, "type", "decision", "node type")
	nodeAddCmd.Flags().StringVar(&nodeAddText, "text", "", "node body")
	nodeAddCmd.Flags().StringSliceVar(&nodeAddTags, "tag", nil, "tags")
	nodeAddCmd.Flags().StringSliceVar(&nodeAddRefs, "ref", nil, "evidence event ids to cite")
	nodeAddCmd.Flags().StringVar(&nodeAddNotes, "notes", "", "free-form notes")
	nodeAddCmd.Flags().BoolVar(&nodeAddGlobal, "global", false, "write to the global scope instead of the project")

	nodeRetractCmd.Flags().StringVar(&nodeRetractReason, "reason", "", "why the node no longer stands")

	nodeCmd.AddCommand(nodeListCmd, nodeShowCmd, nodeAddCmd, nodeRetractCmd)
	rootCmd.AddCommand(nodeCmd)
}

func listNodes(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	q := thoughtdb.Query{
		Tags:              nodeListTags,
		IncludeSuperseded: nodeListAll,
		IncludeRetracted:  nodeListAll,
		Limit:             nodeListLimit,
	}
	for _, t := range nodeListType {
		q.NodeTypes = append(q.NodeTypes, types.NodeType(t))
	}
	if len(q.NodeTypes) == 0 {
		q.NodeTypes = []types.NodeType{types.NodeDecision, types.NodeAction, types.NodeSummary}
	}

	res := a.store.Run(q)
	if len(res.Nodes) == 0 {
		fmt.Println(dimStyle.Render("no nodes match"))
		return nil
	}
	for _, n := range res.Nodes {
		line := idStyle.Render(n.NodeID) + "  " +
			dimStyle.Render(fmt.Sprintf("%-8s %s", n.NodeType, n.Scope))
		if n.Status != types.StatusActive {
			line += "  " + warnStyle.Render(string(n.Status))
		}
		fmt.Println(line)
		fmt.Println("  " + clipText(n.Title, 100))
	}
	return nil
}

func showNode(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	n := a.store.GetNode(args[0])
	if n == nil {
		return fmt.Errorf("unknown node %q", args[0])
	}

	fmt.Println(titleStyle.Render(string(n.NodeType)) + " " + idStyle.Render(n.NodeID))
	fmt.Println(n.Title)
	if n.Text != "" {
		fmt.Println(n.Text)
	}
	fmt.Println(dimStyle.Render(fmt.Sprintf("scope=%s visibility=%s status=%s asserted=%s",
		n.Scope, n.Visibility, n.Status, n.AssertedTS)))
	if len(n.Tags) > 0 {
		fmt.Println(dimStyle.Render("tags: ") + fmt.Sprint(n.Tags))
	}
	for _, ref := range n.SourceRefs {
		fmt.Println("  cites " + idStyle.Render(ref.EventID))
	}
	printEdges(a.store, n.NodeID)
	return nil
}

func addNode(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	refs := refsFromFlags(nodeAddRefs)
	if len(refs) == 0 {
		refs, err = a.selfRef("node_add", args[0])
		if err != nil {
			return err
		}
	}
	scope := types.ScopeProject
	if nodeAddGlobal {
		scope = types.ScopeGlobal
	}
	id, err := a.store.AppendNode(scope, &thoughtdb.Node{
		NodeType:   types.NodeType(nodeAddType),
		Title:      args[0],
		Text:       nodeAddText,
		Tags:       nodeAddTags,
		SourceRefs: refs,
		Notes:      nodeAddNotes,
	})
	if err != nil {
		return err
	}
	fmt.Println(okStyle.Render("node recorded ") + idStyle.Render(id))
	return nil
}

func retractNode(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.store.Retract(args[0], nodeRetractReason); err != nil {
		return err
	}
	fmt.Println(okStyle.Render("retracted ") + idStyle.Render(args[0]))
	return nil
}
