package main

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"github.com/ShayCichocki/agentcore/internal/orchestrator"
	"github.com/ShayCichocki/agentcore/internal/pool"
	"github.com/ShayCichocki/agentcore/pkg/models"
)

// printStatus prints a status line with a colored symbol.
func printStatus(w io.Writer, symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Fprintf(w, "%s %s\n", c.Sprint(symbol), message)
}

func printResult(w io.Writer, res *models.TaskResult) {
	if res.Success {
		printStatus(w, "✓", fmt.Sprintf("%s on %s (%s)", res.TaskID, res.AgentID, res.Duration.Round(time.Millisecond)), color.FgGreen)
		return
	}
	msg := fmt.Sprintf("%s on %s: %s", res.TaskID, res.AgentID, res.Error)
	if res.AgentID == "" {
		msg = fmt.Sprintf("%s: %s", res.TaskID, res.Error)
	}
	printStatus(w, "✗", msg, color.FgRed)
}

func printRunSummary(w io.Writer, sum orchestrator.Summary, stats pool.Stats) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s %d completed, %d failed, %d starved\n",
		color.New(color.Bold).Sprint("Summary:"), sum.Completed, sum.Failed, len(sum.Starved))
	for _, id := range sum.Starved {
		printStatus(w, "⚠", id+" never became eligible", color.FgYellow)
	}
	fmt.Fprintf(w, "Agents: %d live, %d healthy\n", stats.Total, stats.Healthy)
}

func printTokens(w io.Writer, in, out int64, calls int) {
	if calls == 0 {
		return
	}
	fmt.Fprintf(w, "Tokens: %d in, %d out over %d calls\n", in, out, calls)
}
