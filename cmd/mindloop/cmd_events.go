package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"mindloop/internal/evidence"
)

var (
	eventsTailN    int
	eventsTailKind string
)

// eventsCmd inspects the append-only evidence log
var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect the project evidence log",
}

var eventsTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Show the most recent evidence events",
	RunE:  tailEvents,
}

var eventsShowCmd = &cobra.Command{
	Use:   "show <event_id>",
	Short: "Show one event and the claims citing it",
	Args:  cobra.ExactArgs(1),
	RunE:  showEvent,
}

func init() {
	eventsTailCmd.Flags().IntVarP(&eventsTailN, "lines", "n", 20, "number of events")
	eventsTailCmd.Flags().StringVar(&eventsTailKind, "kind", "", "only events of this kind")

	eventsCmd.AddCommand(eventsTailCmd, eventsShowCmd)
	rootCmd.AddCommand(eventsCmd)
}

func tailEvents(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	events, err := evidence.ReadEvents(a.paths.EvidenceLogPath())
	if err != nil {
		return err
	}
	if eventsTailKind != "" {
		filtered := events[:0]
		for _, ev := range events {
			if ev.Kind == eventsTailKind {
				filtered = append(filtered, ev)
			}
		}
		events = filtered
	}
	if len(events) > eventsTailN {
		events = events[len(events)-eventsTailN:]
	}
	if len(events) == 0 {
		fmt.Println(dimStyle.Render("no events"))
		return nil
	}
	for _, ev := range events {
		fmt.Printf("%s  %s %s\n", idStyle.Render(ev.EventID),
			titleStyle.Render(ev.Kind), dimStyle.Render(ev.TS))
	}
	return nil
}

func showEvent(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	ev, err := evidence.FindEvent(a.paths.EvidenceLogPath(), args[0])
	if err != nil {
		return err
	}
	if ev == nil {
		return fmt.Errorf("unknown event %q", args[0])
	}

	fmt.Println(titleStyle.Render(ev.Kind) + " " + idStyle.Render(ev.EventID))
	fmt.Println(dimStyle.Render(fmt.Sprintf("run=%s seq=%d ts=%s", ev.RunID, ev.Seq, ev.TS)))
	payload, err := json.MarshalIndent(ev.Payload, "", "  ")
	if err == nil {
		fmt.Println(string(payload))
	}

	citing := a.store.ClaimsCiting(ev.EventID)
	if len(citing) > 0 {
		fmt.Println(dimStyle.Render("cited by:"))
		for _, c := range citing {
			fmt.Println("  " + idStyle.Render(c.ClaimID) + "  " + clipText(c.Text, 90))
		}
	}
	return nil
}
