package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/agentcore/internal/orchestrator"
	"github.com/ShayCichocki/agentcore/internal/queue"
	"github.com/ShayCichocki/agentcore/pkg/models"
)

// batchOptions are the flags shared by run and fanout.
type batchOptions struct {
	file      string
	anthropic bool
	agents    int
}

var runOpts batchOptions

var runCmd = &cobra.Command{
	Use:   "run -f <tasks.yaml>",
	Short: "Drain a task file through the queue onto the agent pool",
	Long: `Run enqueues every task in the file and dispatches ready tasks to idle
agents until nothing more can run. Higher priority tasks go first and a task
waits until all of its dependencies have completed.

Tasks run on simulated agents unless --anthropic is given. Add
metadata {simulate_fail: "true"} to make a simulated task fail.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runBatch(ctx, current, cmd.OutOrStdout(), runOpts)
	},
}

func init() {
	addBatchFlags(runCmd, &runOpts)
}

func addBatchFlags(cmd *cobra.Command, opts *batchOptions) {
	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "Task file (YAML)")
	cmd.Flags().BoolVar(&opts.anthropic, "anthropic", false, "Execute tasks with the Anthropic API instead of simulated agents")
	cmd.Flags().IntVar(&opts.agents, "agents", 3, "Developer agents to spawn when the file defines none")
	_ = cmd.MarkFlagRequired("file")
}

func runBatch(ctx context.Context, a *app, out io.Writer, opts batchOptions) error {
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

	q := queue.New(a.cfg.Queue, queue.WithLogger(a.logger))
	for _, spec := range tf.Tasks {
		if _, err := q.Enqueue(spec); err != nil {
			return fmt.Errorf("enqueue %s: %w", spec.ID, err)
		}
	}

	o := orchestrator.New(q, rt.pool, a.logger,
		orchestrator.WithResultHandler(func(_ *models.Task, res *models.TaskResult) {
			printResult(out, res)
		}))
	sum, runErr := o.Run(ctx)

	printRunSummary(out, sum, rt.pool.Stats())
	if rt.client != nil {
		in, outTok := rt.client.Tracker().Total()
		printTokens(out, in, outTok, rt.client.Tracker().Calls())
	}
	if runErr != nil {
		return runErr
	}
	if sum.Failed > 0 || len(sum.Starved) > 0 {
		return fmt.Errorf("%d tasks failed, %d starved", sum.Failed, len(sum.Starved))
	}
	return nil
}
