package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mindloop/internal/autopilot"
	"mindloop/internal/evidence"
	"mindloop/internal/mind"
	"mindloop/internal/thoughtdb"
	"mindloop/internal/types"
)

var (
	claimListType     []string
	claimListTags     []string
	claimListContains string
	claimListScope    string
	claimListAsOf     string
	claimListAll      bool
	claimListLimit    int

	claimAddType       string
	claimAddTags       []string
	claimAddRefs       []string
	claimAddConfidence float64
	claimAddValidFrom  string
	claimAddValidTo    string
	claimAddNotes      string
	claimAddGlobal     bool

	claimMineWindow int
	claimMinePrefs  bool

	claimRetractReason string
	claimOpRefs        []string
)

// claimCmd groups Thought DB claim operations
var claimCmd = &cobra.Command{
	Use:   "claim",
	Short: "Inspect and maintain claims",
}

var claimListCmd = &cobra.Command{
	Use:   "list",
	Short: "List claims from the merged project+global view",
	RunE:  listClaims,
}

var claimShowCmd = &cobra.Command{
	Use:   "show <claim_id>",
	Short: "Show one claim with its provenance and edges",
	Args:  cobra.ExactArgs(1),
	RunE:  showClaim,
}

var claimAddCmd = &cobra.Command{
	Use:   "add <text>",
	Short: "Assert a claim by hand",
	Long: `Appends a claim. Without --ref the assertion itself is recorded as a
user_input evidence event and cited, so manual claims carry provenance
like mined ones.`,
	Args: cobra.ExactArgs(1),
	RunE: addClaim,
}

var claimMineCmd = &cobra.Command{
	Use:   "mine",
	Short: "Mine durable claims from recent evidence",
	Long: `One-shot mining pass over the newest evidence events, using the same
confidence and occurrence gates as checkpoint mining.`,
	RunE: mineRecentClaims,
}

var claimRetractCmd = &cobra.Command{
	Use:   "retract <claim_id>",
	Short: "Retract an active claim",
	Args:  cobra.ExactArgs(1),
	RunE:  retractClaim,
}

var claimSupersedeCmd = &cobra.Command{
	Use:   "supersede <old_claim_id> <new_text>",
	Short: "Replace a claim with a corrected one, linked by a supersedes edge",
	Args:  cobra.ExactArgs(2),
	RunE:  supersedeClaim,
}

var claimSameAsCmd = &cobra.Command{
	Use:   "same-as <dup_claim_id> <canonical_claim_id>",
	Short: "Mark a claim as a duplicate of a canonical one",
	Args:  cobra.ExactArgs(2),
	RunE:  sameAsClaim,
}

func init() {
	claimListCmd.Flags().StringSliceVar(&claimListType, "type", nil, "filter by claim type (fact, preference, assumption, goal)")
	claimListCmd.Flags().StringSliceVar(&claimListTags, "tag", nil, "require all of these tags")
	claimListCmd.Flags().StringVar(&claimListContains, "contains", "", "case-insensitive substring filter")
	claimListCmd.Flags().StringVar(&claimListScope, "scope", "", "restrict to one scope (project or global)")
	claimListCmd.Flags().StringVar(&claimListAsOf, "as-of", "", "only claims valid at this RFC3339 timestamp")
	claimListCmd.Flags().BoolVar(&claimListAll, "all", false, "include superseded and retracted claims")
	claimListCmd.Flags().IntVar(&claimListLimit, "limit", 50, "maximum results")

	claimAddCmd.Flags().StringVar(&claimAddType, "type", "fact", "claim type")
	claimAddCmd.Flags().StringSliceVar(&claimAddTags, "tag", nil, "tags")
	claimAddCmd.Flags().StringSliceVar(&claimAddRefs, "ref", nil, "evidence event ids to cite")
	claimAddCmd.Flags().Float64Var(&claimAddConfidence, "confidence", 1.0, "confidence in [0,1]")
	claimAddCmd.Flags().StringVar(&claimAddValidFrom, "valid-from", "", "validity window start (RFC3339)")
	claimAddCmd.Flags().StringVar(&claimAddValidTo, "valid-to", "", "validity window end, exclusive (RFC3339)")
	claimAddCmd.Flags().StringVar(&claimAddNotes, "notes", "", "free-form notes")
	claimAddCmd.Flags().BoolVar(&claimAddGlobal, "global", false, "write to the global scope instead of the project")

	claimMineCmd.Flags().IntVar(&claimMineWindow, "window", 20, "number of recent evidence events to mine")
	claimMineCmd.Flags().BoolVar(&claimMinePrefs, "preferences", false, "also run the preference mining pass")

	claimRetractCmd.Flags().StringVar(&claimRetractReason, "reason", "", "why the claim no longer holds")
	claimSupersedeCmd.Flags().StringSliceVar(&claimOpRefs, "ref", nil, "evidence event ids to cite")
	claimSameAsCmd.Flags().StringSliceVar(&claimOpRefs, "ref", nil, "evidence event ids to cite")

	claimCmd.AddCommand(claimListCmd, claimShowCmd, claimAddCmd, claimMineCmd,
		claimRetractCmd, claimSupersedeCmd, claimSameAsCmd)
	rootCmd.AddCommand(claimCmd)
}

func listClaims(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	q := thoughtdb.Query{
		Scope:             types.Scope(claimListScope),
		Tags:              claimListTags,
		Contains:          claimListContains,
		AsOf:              claimListAsOf,
		IncludeSuperseded: claimListAll,
		IncludeRetracted:  claimListAll,
		Limit:             claimListLimit,
	}
	for _, t := range claimListType {
		q.ClaimTypes = append(q.ClaimTypes, types.ClaimType(t))
	}
	// A node-free query with no node filter returns nodes too; asking for
	// at least one claim type keeps this listing claims-only.
	if len(q.ClaimTypes) == 0 {
		q.ClaimTypes = []types.ClaimType{
			types.ClaimFact, types.ClaimPreference, types.ClaimAssumption, types.ClaimGoal,
		}
	}

	res := a.store.Run(q)
	if len(res.Claims) == 0 {
		fmt.Println(dimStyle.Render("no claims match"))
		return nil
	}
	for _, c := range res.Claims {
		printClaimLine(c)
	}
	return nil
}

func printClaimLine(c *thoughtdb.Claim) {
	line := idStyle.Render(c.ClaimID) + "  " +
		dimStyle.Render(fmt.Sprintf("%-10s %.2f %s", c.ClaimType, c.Confidence, c.Scope))
	if c.Status != types.StatusActive {
		line += "  " + warnStyle.Render(string(c.Status))
	}
	fmt.Println(line)
	fmt.Println("  " + clipText(c.Text, 100))
}

func showClaim(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	id := a.store.ResolveNewest(args[0])
	c := a.store.GetClaim(id)
	if c == nil {
		return fmt.Errorf("unknown claim %q", args[0])
	}
	if id != args[0] {
		fmt.Println(dimStyle.Render("resolved " + args[0] + " -> " + id))
	}

	fmt.Println(titleStyle.Render(string(c.ClaimType)) + " " + idStyle.Render(c.ClaimID))
	fmt.Println(c.Text)
	fmt.Println(dimStyle.Render(fmt.Sprintf("scope=%s visibility=%s status=%s confidence=%.2f asserted=%s",
		c.Scope, c.Visibility, c.Status, c.Confidence, c.AssertedTS)))
	if c.ValidFrom != nil || c.ValidTo != nil {
		from, to := "-", "-"
		if c.ValidFrom != nil {
			from = *c.ValidFrom
		}
		if c.ValidTo != nil {
			to = *c.ValidTo
		}
		fmt.Println(dimStyle.Render("valid [" + from + ", " + to + ")"))
	}
	if len(c.Tags) > 0 {
		fmt.Println(dimStyle.Render("tags: ") + fmt.Sprint(c.Tags))
	}
	for _, ref := range c.SourceRefs {
		fmt.Println("  cites " + idStyle.Render(ref.EventID))
	}
	printEdges(a.store, c.ClaimID)
	return nil
}

func printEdges(store *thoughtdb.Store, id string) {
	for _, e := range store.EdgesFrom(id) {
		fmt.Printf("  %s %s %s\n", dimStyle.Render("-["+string(e.EdgeType)+"]->"),
			idStyle.Render(e.ToID), dimStyle.Render(e.EdgeID))
	}
	for _, e := range store.EdgesTo(id) {
		fmt.Printf("  %s %s %s\n", dimStyle.Render("<-["+string(e.EdgeType)+"]-"),
			idStyle.Render(e.FromID), dimStyle.Render(e.EdgeID))
	}
}

func addClaim(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	refs := refsFromFlags(claimAddRefs)
	if len(refs) == 0 {
		refs, err = a.selfRef("claim_add", args[0])
		if err != nil {
			return err
		}
	}
	scope := types.ScopeProject
	if claimAddGlobal {
		scope = types.ScopeGlobal
	}
	id, err := a.store.AppendClaim(scope, &thoughtdb.Claim{
		ClaimType:  types.ClaimType(claimAddType),
		Text:       args[0],
		Tags:       claimAddTags,
		SourceRefs: refs,
		Confidence: claimAddConfidence,
		ValidFrom:  optString(claimAddValidFrom),
		ValidTo:    optString(claimAddValidTo),
		Notes:      claimAddNotes,
	})
	if err != nil {
		return err
	}
	fmt.Println(okStyle.Render("claim recorded ") + idStyle.Render(id))
	return nil
}

func mineRecentClaims(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	events, err := evidence.ReadEvents(a.paths.EvidenceLogPath())
	if err != nil {
		return err
	}
	var records []autopilot.SegmentRecord
	for _, ev := range events {
		if ev.Kind != evidence.KindEvidence {
			continue
		}
		summary, _ := ev.Payload["progress_summary"].(string)
		records = append(records, autopilot.SegmentRecord{
			EventID: ev.EventID,
			Kind:    ev.Kind,
			Summary: summary,
		})
	}
	if len(records) > claimMineWindow {
		records = records[len(records)-claimMineWindow:]
	}
	if len(records) == 0 {
		fmt.Println(dimStyle.Render("no evidence to mine"))
		return nil
	}

	client, err := mind.NewGemini(ctx, cfg.Mind)
	if err != nil {
		return err
	}
	caller := &mind.Caller{Client: client, Writer: a.writer, Threshold: cfg.Run.CircuitThreshold}
	miner := autopilot.NewMiner(a.store, caller, a.writer,
		cfg.Mind.MiningMinConfidence, cfg.Mind.MiningMinOccurrences,
		a.paths.MiningCandidatesPath())

	ids := miner.MineClaims(ctx, records)
	if claimMinePrefs {
		ids = append(ids, miner.MinePreferences(ctx, records)...)
	}
	if len(ids) == 0 {
		fmt.Println(dimStyle.Render("nothing cleared the mining gates"))
		return nil
	}
	for _, id := range ids {
		fmt.Println(okStyle.Render("mined ") + idStyle.Render(id))
	}
	return nil
}

func retractClaim(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.store.Retract(args[0], claimRetractReason); err != nil {
		return err
	}
	fmt.Println(okStyle.Render("retracted ") + idStyle.Render(args[0]))
	return nil
}

func supersedeClaim(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	refs := refsFromFlags(claimOpRefs)
	if len(refs) == 0 {
		refs, err = a.selfRef("claim_supersede", args[1])
		if err != nil {
			return err
		}
	}
	id, err := a.store.Supersede(args[0], args[1], refs)
	if err != nil {
		return err
	}
	fmt.Println(okStyle.Render("superseded by ") + idStyle.Render(id))
	return nil
}

func sameAsClaim(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	refs := refsFromFlags(claimOpRefs)
	if len(refs) == 0 {
		refs, err = a.selfRef("claim_same_as", args[0]+" same as "+args[1])
		if err != nil {
			return err
		}
	}
	if err := a.store.SameAs(args[0], args[1], refs); err != nil {
		return err
	}
	fmt.Println(okStyle.Render("linked ") + idStyle.Render(args[0]) +
		dimStyle.Render(" -> ") + idStyle.Render(args[1]))
	return nil
}
