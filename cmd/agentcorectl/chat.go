package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/warpsurf/agentcore/events"
	"github.com/warpsurf/agentcore/ledger"
	"github.com/warpsurf/agentcore/llm"
	"github.com/warpsurf/agentcore/runner"
	"github.com/warpsurf/agentcore/worker"
)

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "start an interactive REPL that plans and dispatches queries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigForCmd(cmd)
			if err != nil {
				return err
			}
			return runChat(cfg)
		},
	}
}

func runChat(cfg *Config) error {
	plannerLLM, err := buildLLMClient(cfg.Planner)
	if err != nil {
		return fmt.Errorf("planner model: %w", err)
	}
	refinerLLM, err := buildLLMClient(cfg.Refiner)
	if err != nil {
		return fmt.Errorf("refiner model: %w", err)
	}

	led := ledger.New()

	var currentDone chan struct{}
	sink := events.SinkFunc(func(ctx context.Context, e events.Event) error {
		printEvent(ctx, e)
		if _, ok := e.(events.WorkflowEnded); ok && currentDone != nil {
			select {
			case <-currentDone:
			default:
				close(currentDone)
			}
		}
		return nil
	})

	r := runner.New("repl-session", cfg.Workflow.MaxWorkers, runner.Dependencies{
		Agent:     newEchoAgent(),
		Sink:      sink,
		Ledger:    led,
		Clock:     worker.SystemClock{},
		Telemetry: telemetryBundle(),
	})
	if refinerLLM != nil {
		r.SetRefinerModel(refinerLLM)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM)
	intCh := make(chan os.Signal, 1)
	signal.Notify(intCh, os.Interrupt)
	go func() {
		for {
			select {
			case <-sigCh:
				cancel()
				return
			case <-intCh:
				r.Cancel()
			case <-ctx.Done():
				return
			}
		}
	}()

	homeDir, _ := os.UserHomeDir()
	cacheDir := filepath.Join(homeDir, ".cache", "agentcorectl")
	_ = os.MkdirAll(cacheDir, 0755)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            "\033[36m>\033[0m ",
		HistoryFile:       filepath.Join(cacheDir, "history"),
		HistorySearchFold: true,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
	})
	if err != nil {
		return fmt.Errorf("readline init: %w", err)
	}
	defer rl.Close()

	fmt.Println("agentcorectl chat — type a request, or 'exit' to quit; Ctrl+C aborts the in-flight run")

	var history []llm.Message
	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			r.Cancel()
			continue
		}
		if err != nil {
			cancel()
			return nil
		}
		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			cancel()
			return nil
		}

		currentDone = make(chan struct{})
		r.Start(input, plannerLLM, history)

		select {
		case <-currentDone:
		case <-ctx.Done():
		}

		history = append(history, llm.Message{Role: llm.RoleUser, Content: input})
	}
}

func printEvent(ctx context.Context, e events.Event) error {
	switch ev := e.(type) {
	case events.WorkflowProgress:
		fmt.Printf("[%s] %s\n", ev.Actor, ev.Message)
	case events.WorkerSessionCreated:
		fmt.Printf("worker %d session started (%s)\n", ev.WorkerID+1, ev.Color)
	case events.FinalAnswer:
		fmt.Printf("\n%s\n\n", ev.Text)
	case events.WorkflowEnded:
		if ev.OK {
			fmt.Println("workflow completed")
		} else {
			fmt.Printf("workflow failed: %s\n", ev.Error)
		}
		if ev.Summary != nil {
			fmt.Printf("  tokens in=%d out=%d calls=%d\n", ev.Summary.TotalInputTokens, ev.Summary.TotalOutputTokens, ev.Summary.APICallCount)
		}
	}
	return nil
}
