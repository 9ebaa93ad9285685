package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/raaihank/pii-sentinel/internal/cache"
	"github.com/raaihank/pii-sentinel/internal/privacy"
	"github.com/raaihank/pii-sentinel/internal/store"
)

func newScanCmd() *cobra.Command {
	var showFindings bool

	cmd := &cobra.Command{
		Use:   "scan [record]",
		Short: "Redact a single JSON record given as an argument or on stdin",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			var payload []byte
			if len(args) == 1 {
				payload = []byte(args[0])
			} else {
				payload, err = io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("failed to read stdin: %w", err)
				}
			}

			engine, err := privacy.New(cfg.Privacy, log.WithComponent("privacy"))
			if err != nil {
				return fmt.Errorf("failed to create redaction engine: %w", err)
			}

			redacted, result, err := engine.ProcessJSON([]byte(strings.TrimSpace(string(payload))))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !showFindings {
				fmt.Fprintln(out, redacted)
				return nil
			}

			encoder := json.NewEncoder(out)
			encoder.SetEscapeHTML(false)
			encoder.SetIndent("", "  ")
			return encoder.Encode(struct {
				Redacted json.RawMessage   `json:"redacted"`
				HasPII   bool              `json:"has_pii"`
				Findings []privacy.Finding `json:"findings"`
			}{json.RawMessage(redacted), result.HasPII, result.Findings})
		},
	}

	cmd.Flags().BoolVar(&showFindings, "findings", false, "print has_pii and per-field findings with the record")
	return cmd
}

func newStatsCmd() *cobra.Command {
	var runs int

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show stored record and cache statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			if !cfg.Store.Enabled && !cfg.Cache.Enabled {
				return fmt.Errorf("neither store nor cache is enabled in the configuration")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out := cmd.OutOrStdout()

			if cfg.Store.Enabled {
				st, err := store.NewStore(cfg.Store, log.WithComponent("store").Logger)
				if err != nil {
					return fmt.Errorf("failed to initialize store: %w", err)
				}
				defer st.Close()

				if err := printStoreStats(ctx, out, st, runs); err != nil {
					return err
				}
			}

			if cfg.Cache.Enabled {
				rc, err := cache.NewResultCache(cfg.Cache, "", log.WithComponent("cache").Logger)
				if err != nil {
					log.Warn("Result cache unavailable", zap.Error(err))
					return nil
				}
				defer rc.Close()

				stats, err := rc.GetStats(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "\n=== Cache Statistics ===\n")
				fmt.Fprintf(out, "Total Keys:         %d\n", stats.TotalKeys)
				fmt.Fprintf(out, "Memory Usage:       %.2f MB\n", float64(stats.MemoryUsage)/1024/1024)
			}

			return nil
		},
	}

	cmd.Flags().IntVar(&runs, "runs", 10, "number of recent runs to list")
	return cmd
}

func printStoreStats(ctx context.Context, out io.Writer, st *store.Store, limit int) error {
	stats, err := st.GetStats(ctx)
	if err != nil {
		return err
	}

	rate := 0.0
	if stats.TotalRecords > 0 {
		rate = float64(stats.PIIRecords) / float64(stats.TotalRecords) * 100
	}

	fmt.Fprintf(out, "\n=== PII-Sentinel Stored Records ===\n")
	fmt.Fprintf(out, "Total Records:      %d\n", stats.TotalRecords)
	fmt.Fprintf(out, "PII Records:        %d (%.1f%%)\n", stats.PIIRecords, rate)
	fmt.Fprintf(out, "Runs:               %d\n", stats.Runs)
	if stats.LastWrite != nil {
		fmt.Fprintf(out, "Last Write:         %s\n", stats.LastWrite.Format(time.RFC3339))
	}

	if limit <= 0 {
		return nil
	}

	recent, err := st.RecentRuns(ctx, limit)
	if err != nil {
		return err
	}
	if len(recent) > 0 {
		fmt.Fprintf(out, "\n=== Recent Runs ===\n")
		for _, run := range recent {
			fmt.Fprintf(out, "%s  %s  %8d records  %8d PII\n",
				run.StartedAt.Format(time.RFC3339), run.RunID, run.TotalRecords, run.PIIRecords)
		}
	}

	return nil
}

func newClearCacheCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear-cache",
		Short: "Delete every cached redaction result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			if !cfg.Cache.Enabled {
				return fmt.Errorf("cache is not enabled in the configuration")
			}

			rc, err := cache.NewResultCache(cfg.Cache, "", log.WithComponent("cache").Logger)
			if err != nil {
				return err
			}
			defer rc.Close()

			deleted, err := rc.Clear(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d cached results\n", deleted)
			return nil
		},
	}
}
