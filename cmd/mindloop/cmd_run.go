package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"mindloop/internal/autopilot"
	"mindloop/internal/hands"
	"mindloop/internal/mind"
	"mindloop/internal/types"
)

var (
	runMaxBatches int
	runHandsArgv  []string
)

// runCmd drives a task to a terminal status
var runCmd = &cobra.Command{
	Use:   "run <task>",
	Short: "Run a task through the batch loop",
	Long: `Runs the configured execution agent in batches until the judgment
model decides the task is done, the run is blocked, or the batch budget
is spent. Evidence from every batch lands in the project evidence log;
checkpoint boundaries mine durable claims out of it.

Example:
  mindloop run "add retry logic to the uploader and test it"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTask,
}

func init() {
	runCmd.Flags().IntVar(&runMaxBatches, "max-batches", 0, "override the batch budget for this run")
	runCmd.Flags().StringArrayVar(&runHandsArgv, "hands-argv", nil, "override the agent exec argv, one token per flag")
	rootCmd.AddCommand(runCmd)
}

func runTask(cmd *cobra.Command, args []string) error {
	task := strings.Join(args, " ")
	if runMaxBatches > 0 {
		cfg.Run.MaxBatches = runMaxBatches
	}
	if len(runHandsArgv) > 0 {
		cfg.Hands.ExecArgv = runHandsArgv
		cfg.Hands.ResumeArgv = nil
	}
	if len(cfg.Hands.ExecArgv) == 0 {
		return fmt.Errorf("no execution agent configured: set hands.exec_argv in %s", configPath)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	client, err := mind.NewGemini(ctx, cfg.Mind)
	if err != nil {
		return err
	}
	caller := &mind.Caller{
		Client:    client,
		Writer:    a.writer,
		Threshold: cfg.Run.CircuitThreshold,
	}

	agent, err := hands.NewCLI(cfg.Hands, a.paths.ProjectRoot, a.paths.TranscriptDir())
	if err != nil {
		return err
	}

	var search func(query string, k int) []string
	ix := a.openRecall()
	if ix != nil {
		defer ix.Close()
		search = ix.SearchFunc(types.ScopeProject)
	}

	session, err := autopilot.NewSession(autopilot.Options{
		Config: cfg,
		Store:  a.store,
		Caller: caller,
		Hands:  agent,
		Writer: a.writer,
		Ask:    stdinAsk,
		Search: search,
	}, a.paths.SegmentStatePath(), a.paths.MiningCandidatesPath())
	if err != nil {
		return err
	}

	fmt.Println(titleStyle.Render("mindloop run ") + dimStyle.Render(a.writer.RunID()))
	res, err := session.Run(ctx, task)
	if err != nil {
		return err
	}

	// Fold newly mined claims into the recall index while it is open.
	if ix != nil {
		if err := ix.RebuildFromStore(a.store); err != nil {
			fmt.Println(warnStyle.Render("recall index rebuild failed: " + err.Error()))
		}
	}

	style := okStyle
	if res.Status != autopilot.StatusDone {
		style = warnStyle
	}
	fmt.Printf("%s after %d batch(es)  %s\n",
		style.Render(res.Status), res.Batches, dimStyle.Render("run_id="+res.RunID))
	return nil
}

// stdinAsk surfaces an escalation on the terminal and reads one answer line.
func stdinAsk(question string) (string, error) {
	fmt.Println(titleStyle.Render("? ") + question)
	fmt.Print("> ")
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
