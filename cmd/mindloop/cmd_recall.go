package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"mindloop/internal/recall"
)

var (
	recallScope string
	recallTopK  int
)

// recallCmd manages the rebuildable text index
var recallCmd = &cobra.Command{
	Use:   "recall",
	Short: "Search and maintain the text index over claims and nodes",
	Long: `The recall index is a token index over Thought DB text. It is a pure
cache: delete it and 'recall rebuild' recreates it from the logs.`,
}

var recallSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Rank claims and nodes against a query",
	Args:  cobra.MinimumNArgs(1),
	RunE:  searchRecall,
}

var recallRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the index from the Thought DB logs",
	RunE:  rebuildRecall,
}

var recallWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep the index fresh while the logs change",
	RunE:  watchRecall,
}

func init() {
	recallSearchCmd.Flags().StringVar(&recallScope, "scope", "", "restrict to one scope (project or global)")
	recallSearchCmd.Flags().IntVar(&recallTopK, "k", 0, "maximum results (default from config)")

	recallCmd.AddCommand(recallSearchCmd, recallRebuildCmd, recallWatchCmd)
	rootCmd.AddCommand(recallCmd)
}

func searchRecall(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	ix, err := recall.OpenIndex(a.paths.RecallIndexPath(), cfg.Recall.TopKDefault)
	if err != nil {
		return err
	}
	defer ix.Close()

	query := args[0]
	for _, extra := range args[1:] {
		query += " " + extra
	}
	ids := ix.Search(recallScope, nil, query, recallTopK)
	if len(ids) == 0 {
		fmt.Println(dimStyle.Render("no matches"))
		return nil
	}
	for _, id := range ids {
		line := idStyle.Render(id)
		if c := a.store.GetClaim(id); c != nil {
			line += "  " + clipText(c.Text, 90)
		} else if n := a.store.GetNode(id); n != nil {
			line += "  " + clipText(n.Title, 90)
		}
		fmt.Println(line)
	}
	return nil
}

func rebuildRecall(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	ix, err := recall.OpenIndex(a.paths.RecallIndexPath(), cfg.Recall.TopKDefault)
	if err != nil {
		return err
	}
	defer ix.Close()

	if err := ix.RebuildFromStore(a.store); err != nil {
		return err
	}
	fmt.Println(okStyle.Render("recall index rebuilt"))
	return nil
}

func watchRecall(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	ix, err := recall.OpenIndex(a.paths.RecallIndexPath(), cfg.Recall.TopKDefault)
	if err != nil {
		return err
	}
	defer ix.Close()
	if err := ix.RebuildFromStore(a.store); err != nil {
		return err
	}

	dirs := []string{a.paths.ThoughtDir(false), a.paths.ThoughtDir(true)}
	w, err := recall.NewWatcher(dirs, func() {
		// The watcher fires after its debounce window; reopen the store so
		// the rebuild sees appends from other processes.
		fresh, err := openApp()
		if err != nil {
			fmt.Println(warnStyle.Render("reload failed: " + err.Error()))
			return
		}
		if err := ix.RebuildFromStore(fresh.store); err != nil {
			fmt.Println(warnStyle.Render("rebuild failed: " + err.Error()))
			return
		}
		fmt.Println(dimStyle.Render("index refreshed"))
	})
	if err != nil {
		return err
	}
	defer w.Close()

	fmt.Println(titleStyle.Render("watching ") + dimStyle.Render(fmt.Sprint(dirs)))
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	return nil
}
