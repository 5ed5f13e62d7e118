package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mindloop/internal/evidence"
	"mindloop/internal/mind"
	"mindloop/internal/thoughtdb"
	"mindloop/internal/types"
)

var (
	whyAsOf string
	whyK    int
)

// whyCmd traces the minimal support set behind an event or claim
var whyCmd = &cobra.Command{
	Use:   "why <event_id|claim_id>",
	Short: "Explain why an evidence event or claim is believed",
	Long: `Collects the claims around the target from the Thought DB graph, asks
the judgment model for the minimal set that explains it, and records the
explanation as depends_on edges so the next trace can start from them.

Examples:
  mindloop why ev_run_20260831T101500_a1b2c3_000042
  mindloop why cl_1756628100000000000_9f8e7d6c --as-of 2026-08-01T00:00:00Z`,
	Args: cobra.ExactArgs(1),
	RunE: runWhyTrace,
}

func init() {
	whyCmd.Flags().StringVar(&whyAsOf, "as-of", "", "evaluate claim validity at this RFC3339 timestamp (default now)")
	whyCmd.Flags().IntVar(&whyK, "k", thoughtdb.DefaultTraceK, "candidate-set size")
	rootCmd.AddCommand(whyCmd)
}

func runWhyTrace(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	client, err := mind.NewGemini(ctx, cfg.Mind)
	if err != nil {
		return err
	}

	var search thoughtdb.SearchFunc
	ix := a.openRecall()
	if ix != nil {
		defer ix.Close()
		search = ix.SearchFunc(types.ScopeProject)
	}

	tracer := &thoughtdb.Tracer{
		Store:              a.store,
		Mind:               client,
		Writer:             a.writer,
		Search:             search,
		MinWriteConfidence: cfg.Mind.MinWriteConfidence,
	}

	asOf := whyAsOf
	if asOf == "" {
		asOf = evidence.NowRFC3339()
	}
	res, err := tracer.Trace(ctx, args[0], asOf, whyK)
	if err != nil {
		return err
	}
	if res.State != "ok" {
		fmt.Println(warnStyle.Render("trace failed: ") + res.Explanation)
		return nil
	}

	fmt.Println(titleStyle.Render("why ") + idStyle.Render(res.TargetID))
	fmt.Println(res.Explanation)
	fmt.Println(dimStyle.Render(fmt.Sprintf("confidence %.2f, %d candidate(s) considered",
		res.Confidence, len(res.CandidateIDs))))
	for _, id := range res.ChosenClaimIDs {
		line := idStyle.Render(id)
		if c := a.store.GetClaim(id); c != nil {
			line += "  " + clipText(c.Text, 90)
		}
		fmt.Println("  " + line)
	}
	if len(res.EdgeIDs) > 0 {
		fmt.Println(okStyle.Render(fmt.Sprintf("recorded %d depends_on edge(s)", len(res.EdgeIDs))))
	}
	return nil
}
