package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/graphnode/gnsync/internal/config"
	"github.com/graphnode/gnsync/internal/events"
	"github.com/graphnode/gnsync/internal/logging"
	"github.com/graphnode/gnsync/internal/reachability"
	"github.com/graphnode/gnsync/internal/syncer"
	"github.com/graphnode/gnsync/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Run the sync daemon (foreground)",
	Long: `Run the sync daemon in the foreground until interrupted.

The daemon:
  1. Creates the welcome note when the store is empty
  2. Probes the remote's health every reachability.interval
  3. Runs a sync cycle at startup, every sync.interval while the remote is
     reachable, and whenever it becomes reachable again
  4. Publishes entity_changed, sync_complete and outbox_stats messages to
     WebSocket clients at ws://<events.addr>/ws (empty addr disables)
  5. Reloads log.level and sync.interval when the config file changes`,
	Args: cobra.NoArgs,
	RunE: runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	client, err := newRemote()
	if err != nil {
		return err
	}

	var a *app
	var publisher events.Publisher
	var server *events.Server
	if cfg.Events.Addr != "" {
		server = events.NewServer(&events.Config{
			Addr: cfg.Events.Addr,
			Snapshot: func(ctx context.Context) (events.OutboxStatsData, error) {
				stats, err := a.outbox.Stats(ctx)
				return syncer.StatsData(stats), err
			},
			Logger: componentLogger("events"),
		})
		publisher = server
	}

	a, err = openApp(ctx, publisher)
	if err != nil {
		return err
	}
	defer a.Close()

	if note, err := a.repos.Notes.InitializeDefault(ctx); err != nil {
		return err
	} else if note != nil {
		logger.Info().Str("id", note.ID).Msg("created welcome note")
	}

	if server != nil {
		if err := server.Start(); err != nil {
			return fmt.Errorf("failed to start event server: %w", err)
		}
		defer func() {
			if err := server.Stop(); err != nil {
				logger.Warn().Err(err).Msg("event server shutdown")
			}
		}()
	}

	monitor, err := reachability.New(client, reachability.Config{
		Interval: cfg.Reachability.Interval,
		Timeout:  cfg.Reachability.Timeout,
		Logger:   componentLogger("reachability"),
	})
	if err != nil {
		return err
	}
	monitor.Start(ctx)
	defer monitor.Stop()

	scheduler, err := newScheduler(a, client, publisher)
	if err != nil {
		return err
	}
	loop := syncer.NewLoop(scheduler, monitor, cfg.Sync.Interval, logger.Logger)

	loader.Watch(func(next *config.Config) {
		logging.SetLevel(next.Log.Level)
		loop.SetInterval(next.Sync.Interval)
		logger.Info().Str("file", loader.File()).Msg("config reloaded")
	}, func(err error) {
		logger.Warn().Err(err).Msg("ignoring invalid config change")
	})

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s Starting gnsync daemon...\n", ui.RenderAccent("●"))
	fmt.Fprintf(out, "   Database: %s\n", a.db.Path())
	fmt.Fprintf(out, "   Remote:   %s\n", client.BaseURL())
	if server != nil {
		fmt.Fprintf(out, "   Events:   ws://%s/ws\n", server.Addr())
	}
	fmt.Fprintf(out, "\nPress Ctrl+C to stop\n\n")

	teardown := loop.Start(ctx)
	<-ctx.Done()

	fmt.Fprintln(out, "\nShutting down...")
	teardown()
	return nil
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}
