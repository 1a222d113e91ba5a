package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/lazypower/heatmap/internal/client"
	"github.com/lazypower/heatmap/internal/graph"
)

var (
	statsServer string
	statsJSON   bool
	historyN    int
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show live stats from a running server",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := client.New(statsServer).Stats()
		if err != nil {
			return err
		}
		if statsJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		}
		printStats(cmd, st)
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent stats samples from the history database",
	RunE:  runHistory,
}

func init() {
	statsCmd.Flags().StringVar(&statsServer, "server", "", "Server URL (default $HEATMAP_URL or http://127.0.0.1:37780)")
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "Print raw JSON")
	historyCmd.Flags().IntVarP(&historyN, "limit", "n", 20, "Maximum number of samples")
}

func printStats(cmd *cobra.Command, st graph.Stats) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "nodes:        %d (%d active)\n", st.NodeCount, st.ActiveNodes)
	fmt.Fprintf(out, "connections:  %d\n", st.ConnectionCount)
	fmt.Fprintf(out, "volume:       %.2f\n", st.TotalVolume)
	fmt.Fprintf(out, "peak:         %.1f\n", st.PeakActivity)
	fmt.Fprintf(out, "density:      %.3f\n", st.NetworkDensity)
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, _, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	samples, err := db.RecentStats(historyN)
	if err != nil {
		return fmt.Errorf("recent stats: %w", err)
	}
	if len(samples) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No samples recorded yet. Run heatmap serve first.")
		return nil
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tNODES\tACTIVE\tCONNS\tVOLUME\tPEAK\tDENSITY")
	for _, s := range samples {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%.2f\t%.1f\t%.3f\n",
			time.UnixMilli(s.TakenAt).Format(time.DateTime),
			s.NodeCount, s.ActiveNodes, s.ConnectionCount, s.TotalVolume, s.PeakActivity, s.NetworkDensity)
	}
	return tw.Flush()
}
