package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/graphnode/gnsync/internal/loadtest"
	"github.com/graphnode/gnsync/internal/ui"
)

var benchCmd = &cobra.Command{
	Use:     "bench",
	GroupID: "maint",
	Short:   "Measure local write latency and outbox drain throughput",
	Long: `Measure local write latency and outbox drain throughput.

The benchmark runs against a scratch database, never the configured one. It
creates notes spread over folders, has concurrent editors update and move
them, checks that every note still has exactly one queued create carrying
its latest content, then drains the queue against an in-memory remote.

Examples:
  gnsync bench
  gnsync bench --editors 32 --notes 500 --edits 200
  gnsync bench -o json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		editors, _ := cmd.Flags().GetInt("editors")
		notes, _ := cmd.Flags().GetInt("notes")
		folders, _ := cmd.Flags().GetInt("folders")
		edits, _ := cmd.Flags().GetInt("edits")
		batch, _ := cmd.Flags().GetInt("batch")
		format, _ := cmd.Flags().GetString("output")

		if editors <= 0 || notes <= 0 || edits <= 0 || batch <= 0 {
			return fmt.Errorf("--editors, --notes, --edits and --batch must be positive")
		}
		if folders < 0 {
			return fmt.Errorf("--folders cannot be negative")
		}
		if err := validateFormat(format); err != nil {
			return err
		}

		dir, err := os.MkdirTemp("", "gnsync-bench-*")
		if err != nil {
			return fmt.Errorf("failed to create scratch directory: %w", err)
		}
		defer os.RemoveAll(dir)

		ctx := cmd.Context()
		store, err := loadtest.CreateStore(ctx, filepath.Join(dir, "bench.db"), notes, folders)
		if err != nil {
			return err
		}
		defer store.Close()

		started := time.Now()
		latency, err := store.RunConcurrentEdits(ctx, editors, edits)
		if err != nil {
			return err
		}
		editElapsed := time.Since(started)

		if err := store.VerifyCoalesced(ctx); err != nil {
			return fmt.Errorf("coalescing check failed: %w", err)
		}

		drain, err := store.Drain(ctx, batch)
		if err != nil {
			return err
		}

		report := benchReport{
			Editors: editors,
			Notes:   notes,
			Edits:   editors * edits,
			Latency: latency,
			Drain:   drain,
		}
		if secs := editElapsed.Seconds(); secs > 0 {
			report.EditsPerSecond = float64(report.Edits) / secs
		}

		if ok, err := writeStructured(cmd.OutOrStdout(), format, report); ok || err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s %d editors, %d edits over %d notes\n\n",
			ui.RenderAccent("Benchmark:"), editors, report.Edits, notes)
		latency.Print(out)
		fmt.Fprintf(out, "  Throughput:    %.0f edits/s\n\n", report.EditsPerSecond)
		fmt.Fprintf(out, "%s one queued create per note\n\n", ui.RenderPass("✓ Coalesced:"))
		fmt.Fprintf(out, "Drain:\n")
		fmt.Fprintf(out, "  Delivered:     %d\n", drain.Delivered)
		fmt.Fprintf(out, "  Cycles:        %d\n", drain.Cycles)
		fmt.Fprintf(out, "  Elapsed:       %v\n", drain.Elapsed)
		fmt.Fprintf(out, "  Throughput:    %.0f ops/s\n", drain.PerSecond)

		if latency.Errors > 0 {
			return fmt.Errorf("%d of %d edits failed", latency.Errors, latency.TotalCalls)
		}
		return nil
	},
}

type benchReport struct {
	Editors        int                    `json:"editors" yaml:"editors"`
	Notes          int                    `json:"notes" yaml:"notes"`
	Edits          int                    `json:"edits" yaml:"edits"`
	EditsPerSecond float64                `json:"editsPerSecond" yaml:"editsPerSecond"`
	Latency        *loadtest.LatencyStats `json:"latency" yaml:"latency"`
	Drain          *loadtest.DrainStats   `json:"drain" yaml:"drain"`
}

func init() {
	benchCmd.Flags().Int("editors", 16, "Number of concurrent editors")
	benchCmd.Flags().Int("notes", 200, "Number of notes to create")
	benchCmd.Flags().Int("folders", 8, "Number of folders notes move between")
	benchCmd.Flags().Int("edits", 50, "Edits per editor")
	benchCmd.Flags().Int("batch", 20, "Operations per sync cycle while draining")
	benchCmd.Flags().StringP("output", "o", formatTable, "Output format: table, json or yaml")
	rootCmd.AddCommand(benchCmd)
}
