package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/agentcore/internal/parallel"
)

var (
	fanoutOpts        batchOptions
	fanoutMode        string
	fanoutMaxParallel int
	fanoutTimeout     time.Duration
)

var fanoutCmd = &cobra.Command{
	Use:   "fanout -f <tasks.yaml>",
	Short: "Issue every task in a file concurrently under a completion policy",
	Long: `Fanout dispatches the file's tasks straight to idle agents, ignoring
priorities and dependencies.

Modes:
  race  return the first task to settle, success or failure
  any   return the first successful task
  all   run every task in batches of --max-parallel`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		pcfg := current.cfg.Parallel
		if cmd.Flags().Changed("mode") {
			pcfg.Mode = parallel.Mode(fanoutMode)
		}
		if cmd.Flags().Changed("max-parallel") {
			pcfg.MaxParallel = fanoutMaxParallel
		}
		if cmd.Flags().Changed("timeout") {
			pcfg.Timeout = fanoutTimeout
		}
		return fanoutBatch(ctx, current, cmd.OutOrStdout(), fanoutOpts, pcfg)
	},
}

func init() {
	addBatchFlags(fanoutCmd, &fanoutOpts)
	fanoutCmd.Flags().StringVar(&fanoutMode, "mode", "all", "Completion policy: race, any or all")
	fanoutCmd.Flags().IntVar(&fanoutMaxParallel, "max-parallel", 3, "Concurrency width in all mode")
	fanoutCmd.Flags().DurationVar(&fanoutTimeout, "timeout", 0, "Overall deadline, 0 for none")
}

func fanoutBatch(ctx context.Context, a *app, out io.Writer, opts batchOptions, pcfg parallel.Config) error {
	if !pcfg.Mode.Valid() {
		return fmt.Errorf("unknown mode %q", pcfg.Mode)
	}
	tf, err := loadTaskFile(opts.file)
	if err != nil {
		return err
	}

	rt, err := newRuntime(ctx, a.cfg, a.logger, a.registry, opts.anthropic)
	if err != nil {
		return err
	}
	defer rt.close()
	if err := rt.spawn(ctx, tf.agentGroups(opts.agents)); err != nil {
		return err
	}

	pcfg.OnProgress = func(done, total int) {
		printStatus(out, "…", fmt.Sprintf("%d/%d settled", done, total), color.FgCyan)
	}
	ex := parallel.New(rt.pool, parallel.WithLogger(a.logger))
	res, err := ex.ExecuteWithTimeout(ctx, tf.Tasks, pcfg)
	if err != nil {
		return err
	}

	for _, r := range res.Results {
		printResult(out, r)
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "%s %s mode, %d succeeded, %d failed of %d in %s\n",
		color.New(color.Bold).Sprint("Summary:"), pcfg.Mode,
		res.SuccessCount, res.FailureCount, len(tf.Tasks), res.Duration.Round(time.Millisecond))

	switch {
	case pcfg.Mode == parallel.ModeAll && res.FailureCount > 0:
		return fmt.Errorf("%d of %d tasks failed", res.FailureCount, len(tf.Tasks))
	case res.SuccessCount == 0:
		return fmt.Errorf("no task succeeded")
	}
	return nil
}
