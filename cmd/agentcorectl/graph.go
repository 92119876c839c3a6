package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/warpsurf/agentcore/callctx"
	"github.com/warpsurf/agentcore/llm"
	"github.com/warpsurf/agentcore/merger"
	"github.com/warpsurf/agentcore/plan"
	"github.com/warpsurf/agentcore/planner"
	"github.com/warpsurf/agentcore/scheduler"
	"github.com/warpsurf/agentcore/telemetry"
)

func graphCmd() *cobra.Command {
	var query string
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "plan and schedule a query, printing the collapsed worker graph without dispatching it",
		RunE: func(cmd *cobra.Command, args []string) error {
			if query == "" {
				return fmt.Errorf("--query is required")
			}
			cfg, err := loadConfigForCmd(cmd)
			if err != nil {
				return err
			}
			plannerLLM, err := buildLLMClient(cfg.Planner)
			if err != nil {
				return err
			}
			if plannerLLM == nil {
				return fmt.Errorf("planner model is required")
			}
			return runGraph(cfg, plannerLLM, query)
		},
	}
	cmd.Flags().StringVar(&query, "query", "", "natural-language request to plan")
	return cmd
}

func runGraph(cfg *Config, plannerLLM llm.Client, query string) error {
	ctx := context.Background()
	call := callctx.CallContext{SessionID: "graph-cli"}.WithRole(callctx.RolePlanner)

	p, err := planner.Plan(ctx, query, cfg.Workflow.MaxWorkers, nil, plannerLLM, nil, call, telemetry.Bundle{}.OrNoop(), planner.DefaultOptions())
	if err != nil {
		return fmt.Errorf("plan: %w", err)
	}
	sched := scheduler.Schedule(p.Dependencies, p.Durations, cfg.Workflow.MaxWorkers)
	printGraph(p, sched)
	return nil
}

func printGraph(p *plan.TaskPlan, sched *plan.WorkerSchedule) {
	viz := merger.VizMerge(p.Dependencies, titlesOf(p), sched)
	remapped := merger.RemapSchedule(sched, viz.GroupOf)

	titleWidth := len("subtask")
	for _, title := range viz.Titles {
		if w := runewidth.StringWidth(title); w > titleWidth {
			titleWidth = w
		}
	}

	fmt.Printf("%s  worker  ticks\n", padRight("subtask", titleWidth))
	ids := make([]plan.SubtaskID, 0, len(viz.Titles))
	for id := range viz.Titles {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	workers := remapped.Workers()
	for _, id := range ids {
		w, ticks := workerTimeline(remapped, workers, id)
		fmt.Printf("%s  %-6d  %s\n", padRight(viz.Titles[id], titleWidth), w, ticks)
	}
}

func titlesOf(p *plan.TaskPlan) map[plan.SubtaskID]string {
	out := make(map[plan.SubtaskID]string, len(p.Subtasks))
	for _, s := range p.Subtasks {
		out[s.ID] = s.Title
	}
	return out
}

func workerTimeline(sched *plan.WorkerSchedule, workers []plan.WorkerID, id plan.SubtaskID) (int, string) {
	for _, w := range workers {
		var b strings.Builder
		found := false
		for _, t := range sched.Timelines[w] {
			if t == id {
				b.WriteByte('#')
				found = true
			} else {
				b.WriteByte('.')
			}
		}
		if found {
			return int(w), b.String()
		}
	}
	return -1, ""
}

func padRight(s string, width int) string {
	w := runewidth.StringWidth(s)
	if w >= width {
		return s
	}
	return s + strings.Repeat(" ", width-w)
}
