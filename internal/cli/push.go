package cli

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/lazypower/heatmap/internal/client"
	"github.com/lazypower/heatmap/internal/graph"
	"github.com/lazypower/heatmap/internal/synth"
)

var (
	pushServer    string
	pushSynthetic int
	pushInterval  time.Duration
	pushSeed      int64
)

var pushCmd = &cobra.Command{
	Use:   "push [file.ndjson]",
	Short: "Send messages to a running server",
	Long:  "Posts each line of an NDJSON file (or stdin) to /api/events. With --synthetic N, generates N random transactions instead.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runPush,
}

func init() {
	pushCmd.Flags().StringVar(&pushServer, "server", "", "Server URL (default $HEATMAP_URL or http://127.0.0.1:37780)")
	pushCmd.Flags().IntVar(&pushSynthetic, "synthetic", 0, "Generate N synthetic transactions")
	pushCmd.Flags().DurationVar(&pushInterval, "interval", 50*time.Millisecond, "Delay between messages")
	pushCmd.Flags().Int64Var(&pushSeed, "seed", 0, "Seed for synthetic transactions (0 uses the clock)")
}

func runPush(cmd *cobra.Command, args []string) error {
	c := client.New(pushServer)
	if !c.Healthy() {
		return fmt.Errorf("server not reachable at %s", c.URL())
	}

	var next func() ([]byte, bool, error)
	if pushSynthetic > 0 {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		gen := synth.New(graph.NewRand(pushSeed), cfg.Render.SurfaceWidth, cfg.Render.SurfaceHeight)
		left := pushSynthetic
		next = func() ([]byte, bool, error) {
			if left == 0 {
				return nil, false, nil
			}
			left--
			msg, err := gen.Message()
			return msg, err == nil, err
		}
	} else {
		in := io.Reader(os.Stdin)
		if len(args) == 1 && args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open input: %w", err)
			}
			defer f.Close()
			in = f
		}
		next = lineReader(in)
	}

	sent, failed, err := pushAll(c, next, pushInterval)
	fmt.Fprintf(os.Stderr, "pushed %d messages to %s (%d failed)\n", sent, c.URL(), failed)
	return err
}

// lineReader yields non-empty lines from r.
func lineReader(r io.Reader) func() ([]byte, bool, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	return func() ([]byte, bool, error) {
		for sc.Scan() {
			line := bytes.TrimSpace(sc.Bytes())
			if len(line) > 0 {
				return append([]byte(nil), line...), true, nil
			}
		}
		return nil, false, sc.Err()
	}
}

// pushAll posts every message next yields. Rejected messages are reported
// and skipped; a read error stops the run.
func pushAll(c *client.Client, next func() ([]byte, bool, error), interval time.Duration) (int, int, error) {
	var sent, failed int
	for {
		msg, ok, err := next()
		if err != nil {
			return sent, failed, fmt.Errorf("read message: %w", err)
		}
		if !ok {
			return sent, failed, nil
		}
		if sent+failed > 0 && interval > 0 {
			time.Sleep(interval)
		}
		if err := c.PushEvent(msg); err != nil {
			fmt.Fprintf(os.Stderr, "warning: %v\n", err)
			failed++
			continue
		}
		sent++
	}
}
