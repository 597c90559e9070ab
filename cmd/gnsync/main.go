// Command gnsync is the local-first GraphNode notes store and its sync
// daemon.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/graphnode/gnsync/internal/config"
	"github.com/graphnode/gnsync/internal/events"
	"github.com/graphnode/gnsync/internal/logging"
	"github.com/graphnode/gnsync/internal/outbox"
	"github.com/graphnode/gnsync/internal/remote"
	"github.com/graphnode/gnsync/internal/repo"
	"github.com/graphnode/gnsync/internal/store/db"
	"github.com/graphnode/gnsync/internal/syncer"
	"github.com/graphnode/gnsync/internal/ui"
)

var (
	configFile string
	envFile    string
	noColor    bool

	loader *config.Loader
	cfg    *config.Config
	logger *logging.Logger
)

var rootCmd = &cobra.Command{
	Use:   "gnsync",
	Short: "Local-first GraphNode notes with a durable sync outbox",
	Long: `gnsync keeps notes, folders and chat threads in a local SQLite store and
mirrors every change to the GraphNode API through a durable outbox.

Local edits always succeed immediately. Each one queues a remote operation
that the sync daemon delivers in order, retrying with backoff while the
remote is unreachable.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if noColor {
			ui.SetColor(false)
		}

		var err error
		loader, err = config.NewLoader(config.Options{File: configFile, EnvFile: envFile})
		if err != nil {
			return err
		}
		if err := loader.BindFlags(cmd.Root().PersistentFlags(), map[string]string{
			"db.path":         "db",
			"log.level":       "log-level",
			"remote.base_url": "remote",
		}); err != nil {
			return err
		}
		cfg = loader.Config()

		logger = logging.New(logging.Options{
			Level:      cfg.Log.Level,
			File:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			JSON:       cfg.Log.JSON,
		})
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if logger != nil {
			return logger.Close()
		}
		return nil
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "entities", Title: "Notes, folders and threads:"},
		&cobra.Group{ID: "sync", Title: "Synchronization:"},
		&cobra.Group{ID: "maint", Title: "Maintenance:"},
	)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "Config file (default $XDG_CONFIG_HOME/gnsync/config.toml)")
	flags.StringVar(&envFile, "env-file", "", "Dotenv file with GNSYNC_* overrides (default .env)")
	flags.String("db", "", "Path to the local database")
	flags.String("log-level", "", "Log level (trace, debug, info, warn, error)")
	flags.String("remote", "", "GraphNode API base URL")
	flags.BoolVar(&noColor, "no-color", false, "Disable colored output")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderFail("Error:"), err)
		os.Exit(1)
	}
}

// app is the set of components a command works with.
type app struct {
	db     *db.DB
	outbox *outbox.Manager
	repos  *repo.Set
}

// openApp opens the configured store. publisher may be nil.
func openApp(ctx context.Context, publisher events.Publisher) (*app, error) {
	database, err := db.Open(ctx, cfg.DB.Path)
	if err != nil {
		return nil, err
	}
	ob := outbox.New(database)
	var opts []repo.Option
	if publisher != nil {
		opts = append(opts, repo.WithPublisher(publisher))
	}
	return &app{
		db:     database,
		outbox: ob,
		repos:  repo.NewSet(database, ob, opts...),
	}, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

// withApp opens the store, runs fn and closes the store.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, nil)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func newRemote() (*remote.Client, error) {
	if cfg.Remote.BaseURL == "" {
		return nil, fmt.Errorf("remote.base_url is not configured (set it in the config file, GNSYNC_REMOTE_BASE_URL or --remote)")
	}
	return remote.NewClient(cfg.Remote.BaseURL, cfg.Remote.Token, cfg.Remote.Timeout)
}

// newScheduler builds a scheduler against client, with pulling when enabled.
func newScheduler(a *app, client *remote.Client, publisher events.Publisher) (*syncer.Scheduler, error) {
	scheduler, err := syncer.NewScheduler(a.outbox, client, &syncer.Config{
		BatchLimit: cfg.Sync.BatchLimit,
		StaleAfter: cfg.Sync.StaleAfter,
		Publisher:  publisher,
		Logger:     logger.Logger,
	})
	if err != nil {
		return nil, err
	}
	if cfg.Sync.Pull {
		scheduler.SetPuller(syncer.NewPuller(client, a.repos.Notes, logger.Logger))
	}
	return scheduler, nil
}

func componentLogger(name string) zerolog.Logger {
	if logger == nil {
		return logging.Nop()
	}
	return logger.Component(name)
}
