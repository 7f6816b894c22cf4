package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"donecast/internal/answercache"
)

func newCacheCommand(cctx *commandContext) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the intent answer cache",
	}
	cacheCmd.AddCommand(newCacheListCommand(cctx))
	cacheCmd.AddCommand(newCacheClearCommand(cctx))
	return cacheCmd
}

func withCache(cctx *commandContext, fn func(*answercache.Store) error) error {
	cfg, err := cctx.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := cctx.ensureLogger()
	if err != nil {
		return err
	}
	store, err := answercache.Open(cfg, logger)
	if err != nil {
		return fmt.Errorf("open answer cache: %w", err)
	}
	defer func() { _ = store.Close() }()
	return fn(store)
}

func newCacheListCommand(cctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List cached intent answers by audio reference",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCache(cctx, func(store *answercache.Store) error {
				out := cmd.OutOrStdout()
				if !store.Enabled() {
					fmt.Fprintln(out, "Answer cache is disabled in configuration")
					return nil
				}
				entries, err := store.List(cmd.Context())
				if err != nil {
					return err
				}
				if len(entries) == 0 {
					fmt.Fprintln(out, "Answer cache is empty")
					return nil
				}
				rows := make([][]string, 0, len(entries))
				for _, entry := range entries {
					rows = append(rows, []string{
						entry.AudioRef,
						yesNo(entry.TranscriptReady),
						fmt.Sprintf("%d", entry.Resolved),
						entry.UpdatedAt.Local().Format("2006-01-02 15:04"),
					})
				}
				renderTable(out, []string{"Audio", "Transcript", "Answered", "Updated"}, rows, 3)
				return nil
			})
		},
	}
}

func newCacheClearCommand(cctx *commandContext) *cobra.Command {
	var audioRef string

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Drop cached answers for one audio reference, or all of them",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCache(cctx, func(store *answercache.Store) error {
				out := cmd.OutOrStdout()
				if !store.Enabled() {
					fmt.Fprintln(out, "Answer cache is disabled in configuration")
					return nil
				}
				if audioRef != "" {
					if err := store.Remove(context.Background(), audioRef); err != nil {
						return err
					}
					fmt.Fprintf(out, "Removed cached answers for %s\n", audioRef)
					return nil
				}
				if err := store.Clear(context.Background()); err != nil {
					return err
				}
				fmt.Fprintln(out, "Answer cache cleared")
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&audioRef, "audio", "", "Clear only this audio reference")
	return cmd
}
