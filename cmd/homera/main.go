package main

import (
	"os"

	"github.com/spf13/cobra"

	"homeraAi/internal/config"
	"homeraAi/internal/logging"
)

var (
	logLevelFlag string
	prettyFlag   bool
)

// rootCmd is the main Cobra command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "homera",
	Short: "AI photo transformation for real-estate listings",
	Long: `homera transforms property photos from a plain-language request:
renovation, virtual staging, decluttering, style transfer and upscaling.

Examples:
  homera transform --image living.jpg --prompt "Scandinavian style, remove the boxes" --tier premium_2k
  homera transform --image living.jpg --upscale --out living-4k.png --tier ultra_4k
  homera transform --image living.jpg --prompt "Stage it for a young family" --offline
  homera plans --country Germany
  homera vat --price 24.99 --country Netherlands
  homera library export --db sqlite:homera.db --user <id> --gzip > library.jsonl.gz`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		config.LoadDotEnv()
		logging.Init(logLevelFlag, prettyFlag)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "warn", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&prettyFlag, "pretty", true, "Human-readable log output")

	rootCmd.AddCommand(transformCmd, plansCmd, vatCmd, libraryCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
