package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mindloop/internal/evidence"
	"mindloop/internal/mind"
	"mindloop/internal/thoughtdb"
)

// learnCmd folds user feedback into the claim set
var learnCmd = &cobra.Command{
	Use:   "learn <feedback>",
	Short: "Apply corrective feedback to stored claims",
	Long: `Sends the feedback plus the newest claims to the judgment model and
applies the updates it proposes: retracting claims the feedback falsifies
and superseding ones it corrects. The feedback itself is recorded as a
user_input evidence event and cited by every resulting write.

Example:
  mindloop learn "we moved deploys off scripts/deploy.sh, it's all GitHub Actions now"`,
	Args: cobra.ExactArgs(1),
	RunE: applyLearning,
}

func init() {
	rootCmd.AddCommand(learnCmd)
}

func applyLearning(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	feedback := args[0]

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	recent := a.store.Run(thoughtdb.Query{Limit: 30})
	if len(recent.Claims) == 0 {
		fmt.Println(dimStyle.Render("no claims to update"))
		return nil
	}
	claims := make([]map[string]any, 0, len(recent.Claims))
	for _, c := range recent.Claims {
		claims = append(claims, map[string]any{
			"claim_id":   c.ClaimID,
			"claim_type": string(c.ClaimType),
			"text":       c.Text,
			"confidence": c.Confidence,
		})
	}

	client, err := mind.NewGemini(ctx, cfg.Mind)
	if err != nil {
		return err
	}
	caller := &mind.Caller{Client: client, Writer: a.writer, Threshold: cfg.Run.CircuitThreshold}
	res := caller.Call(ctx, mind.SchemaLearnUpdate, map[string]any{
		"feedback": feedback,
		"claims":   claims,
	})
	if res.State != mind.StateOK {
		return fmt.Errorf("judgment service unavailable, no updates applied")
	}
	updates, _ := res.Response["updates"].([]any)
	if len(updates) == 0 {
		fmt.Println(dimStyle.Render("feedback changed nothing"))
		return nil
	}

	ev, err := a.writer.Append(evidence.KindUserInput, map[string]any{
		"input":  feedback,
		"origin": "learn",
	})
	if err != nil {
		return err
	}
	refs := []thoughtdb.SourceRef{thoughtdb.EventRef(ev.EventID)}

	applied := 0
	for _, raw := range updates {
		item, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		claimID, _ := item["claim_id"].(string)
		action, _ := item["action"].(string)
		reason, _ := item["reason"].(string)
		switch action {
		case "retract":
			if err := a.store.Retract(claimID, reason); err != nil {
				fmt.Println(warnStyle.Render("skip ") + idStyle.Render(claimID) + dimStyle.Render(" ("+err.Error()+")"))
				continue
			}
			fmt.Println(okStyle.Render("retracted ") + idStyle.Render(claimID) + "  " + dimStyle.Render(reason))
			applied++
		case "supersede":
			newText, _ := item["new_text"].(string)
			if newText == "" {
				continue
			}
			id, err := a.store.Supersede(claimID, newText, refs)
			if err != nil {
				fmt.Println(warnStyle.Render("skip ") + idStyle.Render(claimID) + dimStyle.Render(" ("+err.Error()+")"))
				continue
			}
			fmt.Println(okStyle.Render("superseded ") + idStyle.Render(claimID) +
				dimStyle.Render(" -> ") + idStyle.Render(id))
			applied++
		}
	}
	if applied == 0 {
		fmt.Println(dimStyle.Render("no updates applied"))
	}
	return nil
}
