package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"donecast/internal/answercache"
)

func newStatusCommand(cctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show backend and cache status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			fmt.Fprintln(out, renderSectionHeader("DoneCast", colorize))
			fmt.Fprintln(out, renderStatusLine("backend", statusInfo, cfg.API.BaseURL, colorize))
			tokenKind := statusOK
			tokenMsg := "configured"
			if cfg.API.Token == "" {
				tokenKind = statusWarn
				tokenMsg = "missing; set api.token"
			}
			fmt.Fprintln(out, renderStatusLine("token", tokenKind, tokenMsg, colorize))
			showKind := statusOK
			showMsg := cfg.Show.ID
			if cfg.Show.ID == "" {
				showKind = statusWarn
				showMsg = "missing; set show.id"
			}
			fmt.Fprintln(out, renderStatusLine("show", showKind, showMsg, colorize))

			notifyMsg := "disabled"
			if cfg.Notifications.NtfyTopic != "" {
				notifyMsg = cfg.Notifications.NtfyTopic
			}
			fmt.Fprintln(out, renderStatusLine("notifications", statusInfo, notifyMsg, colorize))

			return withCache(cctx, func(store *answercache.Store) error {
				if !store.Enabled() {
					fmt.Fprintln(out, renderStatusLine("answer cache", statusInfo, "disabled", colorize))
					return nil
				}
				entries, err := store.List(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(out, renderStatusLine("answer cache", statusOK,
					fmt.Sprintf("%d audio reference(s)", len(entries)), colorize))
				return nil
			})
		},
	}
}
