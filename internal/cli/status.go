package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/orchard-run/orchard/internal/config"
	"github.com/orchard-run/orchard/internal/store"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader("🏷️ Orchard Version")
		fmt.Printf("Version: %s\n", version)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show system status",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader("📊 Orchard Status")
		fmt.Printf("Version: %s\n", version)

		if configPath, err := config.ConfigPath(); err == nil {
			if _, err := os.Stat(configPath); err == nil {
				fmt.Println("Config:  ✓ Found (" + configPath + ")")
			} else {
				fmt.Println("Config:  ✗ Not found (run 'orchard init' first)")
			}
		}

		cfg, err := config.Load()
		if err != nil {
			fmt.Println("Status:  ? Unable to load config")
			return
		}
		if cfg.Provider.Scripted {
			fmt.Println("Provider: scripted (local development)")
		} else if cfg.Provider.APIKey != "" {
			fmt.Printf("Provider: %s\n", cfg.Provider.Model)
		} else {
			fmt.Println("Provider: ✗ No API key configured")
		}

		if _, err := os.Stat(cfg.Paths.DBPath); err != nil {
			fmt.Println("Store:   ✗ Not found (" + cfg.Paths.DBPath + ")")
			return
		}
		st, err := store.New(cfg.Paths.DBPath)
		if err != nil {
			fmt.Printf("Store:   ✗ %v\n", err)
			return
		}
		defer st.Close()
		stats, err := st.Stats(context.Background())
		if err != nil {
			fmt.Printf("Queue:   ✗ %v\n", err)
			return
		}
		fmt.Printf("Queue:   %d waiting, %d active, %d completed, %d failed\n",
			stats.Waiting, stats.Active, stats.Completed, stats.Failed)
		fmt.Println("Status:  Ready")
	},
}

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		printHeader("🛠️ Orchard Init")
		configPath, err := config.ConfigPath()
		if err != nil {
			return err
		}
		if _, err := os.Stat(configPath); err == nil && !initForce {
			return fmt.Errorf("config already exists at %s (use --force to overwrite)", configPath)
		}
		cfg := config.DefaultConfig()
		if err := config.Save(cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		fmt.Println("Wrote " + configPath)
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file")
}
