// Command agentcorectl drives the workflow core from a terminal: a chat
// REPL that plans, schedules, and dispatches a query and prints progress
// events as they arrive.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/warpsurf/agentcore/llm"
	"github.com/warpsurf/agentcore/llm/anthropic"
	"github.com/warpsurf/agentcore/llm/openai"
	"github.com/warpsurf/agentcore/telemetry"
)

// Version is set at build time via -ldflags "-X main.Version=...".
var Version = "dev"

var cfgFile string

var flagOverrides FlagOverrides

var otelTelemetry bool

var rootCmd = &cobra.Command{
	Use:   "agentcorectl",
	Short: "agentcorectl — drive the workflow core from a terminal",
	Long:  "agentcorectl plans, schedules, and dispatches a natural-language request across a bounded worker pool, printing progress as it runs.",
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (YAML); defaults omitted fall back to env vars, then flags below")
	flags.StringVar(&flagOverrides.PlannerProvider, "planner-provider", "", "override config: planner.provider")
	flags.StringVar(&flagOverrides.PlannerModel, "planner-model", "", "override config: planner.model")
	flags.StringVar(&flagOverrides.PlannerAPIKey, "planner-api-key", "", "override config: planner.api_key")
	flags.StringVar(&flagOverrides.RefinerProvider, "refiner-provider", "", "override config: refiner.provider")
	flags.StringVar(&flagOverrides.RefinerModel, "refiner-model", "", "override config: refiner.model")
	flags.StringVar(&flagOverrides.RefinerAPIKey, "refiner-api-key", "", "override config: refiner.api_key")
	flags.IntVar(&flagOverrides.MaxWorkers, "max-workers", 0, "override config: workflow.max_workers")
	flags.BoolVar(&otelTelemetry, "otel", false, "emit logs/metrics/traces via goa.design/clue and OpenTelemetry instead of discarding them")
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(graphCmd())
}

// loadConfigForCmd resolves each flagOverrides.Has* bit from cobra's
// per-invocation Changed bit (not knowable at flag-registration time) and
// loads the layered Config.
func loadConfigForCmd(cmd *cobra.Command) (*Config, error) {
	flagOverrides.HasPlannerProvider = cmd.Flags().Changed("planner-provider")
	flagOverrides.HasPlannerModel = cmd.Flags().Changed("planner-model")
	flagOverrides.HasPlannerAPIKey = cmd.Flags().Changed("planner-api-key")
	flagOverrides.HasRefinerProvider = cmd.Flags().Changed("refiner-provider")
	flagOverrides.HasRefinerModel = cmd.Flags().Changed("refiner-model")
	flagOverrides.HasRefinerAPIKey = cmd.Flags().Changed("refiner-api-key")
	flagOverrides.HasMaxWorkers = cmd.Flags().Changed("max-workers")
	return LoadConfig(cfgFile, flagOverrides)
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("agentcorectl %s\n", Version)
		},
	}
}

// telemetryBundle returns the clue/OTEL-backed Bundle when --otel is set,
// else the zero Bundle (OrNoop makes it safe to pass around unresolved).
func telemetryBundle() telemetry.Bundle {
	if otelTelemetry {
		return telemetry.NewClueBundle("github.com/warpsurf/agentcore/cmd/agentcorectl")
	}
	return telemetry.Bundle{}
}

func buildLLMClient(mc ModelConfig) (llm.Client, error) {
	switch mc.Provider {
	case "anthropic":
		return anthropic.NewFromAPIKey(mc.APIKey, mc.Model)
	case "openai":
		return openai.NewFromAPIKey(mc.APIKey, mc.Model)
	case "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown provider %q", mc.Provider)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
