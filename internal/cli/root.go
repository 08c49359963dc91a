package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/orchard-run/orchard/internal/cli.version=1.2.3"
	version = "0.4.0"
	logo    = "\n" +
		"                  _                   _\n" +
		"   ___  _ __ ___| |__   __ _ _ __ __| |\n" +
		"  / _ \\| '__/ __| '_ \\ / _` | '__/ _` |\n" +
		" | (_) | | | (__| | | | (_| | | | (_| |\n" +
		"  \\___/|_|  \\___|_| |_|\\__,_|_|  \\__,_|\n"
)

var rootCmd = &cobra.Command{
	Use:   "orchard",
	Short: "Orchard - durable multi-agent orchestration core",
	Long:  color.CyanString(logo) + "\nA checkpointed orchestration engine for multi-agent workloads.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func printHeader(title string) {
	fmt.Println(color.CyanString(logo))
	if title != "" {
		fmt.Println(title)
		fmt.Println("─────────────────────")
	}
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(approvalsCmd)
}
