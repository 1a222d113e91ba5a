package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lazypower/heatmap/internal/engine"
	"github.com/lazypower/heatmap/internal/server"
	"github.com/lazypower/heatmap/internal/store"
)

var serveNoHistory bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the engine and HTTP API server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveNoHistory, "no-history", false, "Run without the SQLite stats history and reject log")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var db *store.DB
	dbPath := "disabled"
	if !serveNoHistory {
		db, dbPath, err = openDB(cfg)
		if err != nil {
			return err
		}
		defer db.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng := engine.New(cfg, engine.Options{DB: db})
	eng.Start(ctx)
	defer eng.Stop()

	srv := server.New(eng, db, VersionString())
	addr := cfg.ListenAddr()

	httpServer := &http.Server{
		Addr:    addr,
		Handler: srv,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		fmt.Fprintf(os.Stderr, "heatmap serving on %s\n", addr)
		fmt.Fprintf(os.Stderr, "  db: %s\n", dbPath)
		if cfg.Stream.URL != "" {
			fmt.Fprintf(os.Stderr, "  stream: %s\n", cfg.Stream.URL)
		}
		fmt.Fprintf(os.Stderr, "  surface: %dx%d @ %s\n", cfg.Render.SurfaceWidth, cfg.Render.SurfaceHeight, cfg.Render.FrameInterval())
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
			os.Exit(1)
		}
	}()

	<-done
	fmt.Fprintln(os.Stderr, "\nshutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	// Stopping the engine closes live subscriptions so their handlers return
	// before Shutdown waits on them.
	eng.Stop()
	return httpServer.Shutdown(shutdownCtx)
}
