package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lazypower/heatmap/internal/config"
	"github.com/lazypower/heatmap/internal/store"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "heatmap",
	Short: "Real-time transaction heat map",
	Long:  "Heatmap ingests a live stream of network activity, keeps a bounded self-pruning graph of it and renders the graph as it evolves.",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (default $HEATMAP_CONFIG)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(renderCmd)
	rootCmd.AddCommand(pushCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(historyCmd)
}

// loadConfig resolves the config file from --config or HEATMAP_CONFIG and
// applies environment overrides.
func loadConfig() (config.Config, error) {
	path := configPath
	if path == "" {
		path = os.Getenv("HEATMAP_CONFIG")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// openDB opens the history database named by the config, falling back to
// the default path.
func openDB(cfg config.Config) (*store.DB, string, error) {
	dbPath := cfg.Database.Path
	if dbPath == "" {
		var err error
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return nil, "", fmt.Errorf("resolve db path: %w", err)
		}
	}
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, dbPath, fmt.Errorf("open database: %w", err)
	}
	return db, dbPath, nil
}
