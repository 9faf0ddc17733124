package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shineum/smtp-capture-lite/internal/capture"
	"github.com/shineum/smtp-capture-lite/internal/mailsystem"
	"github.com/shineum/smtp-capture-lite/internal/variable"
)

func (a *app) enableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enable",
		Short: "Switch to the testing mail system and print the replaced setting",
		Long: `enable points the mail-system selector at TestingMailSystem, clears the
capture buffer and prints the setting it replaced as JSON. Keep that output
and hand it to "mailcapture restore" when the suite ends.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withSwitch(cmd.Context(), false, func(_ variable.Store, _ *capture.Buffer, sw *mailsystem.Switch) error {
				prev, err := sw.Enable(cmd.Context())
				if err != nil {
					return err
				}
				return json.NewEncoder(cmd.OutOrStdout()).Encode(prev)
			})
		},
	}
}

func (a *app) restoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "restore <setting-json>",
		Short:   "Write a setting printed by enable back to the selector",
		Example: `  mailcapture restore '{"default-system":"DefaultMailSystem"}'`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var prev mailsystem.Setting
			if err := json.Unmarshal([]byte(args[0]), &prev); err != nil {
				return fmt.Errorf("invalid setting %q: %w", args[0], err)
			}
			return a.withSwitch(cmd.Context(), false, func(_ variable.Store, _ *capture.Buffer, sw *mailsystem.Switch) error {
				return sw.Restore(cmd.Context(), prev)
			})
		},
	}
}

func (a *app) clearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Empty the capture buffer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withSwitch(cmd.Context(), false, func(_ variable.Store, buf *capture.Buffer, _ *mailsystem.Switch) error {
				return buf.Clear(cmd.Context())
			})
		},
	}
}

func (a *app) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print captured emails as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withSwitch(cmd.Context(), false, func(_ variable.Store, buf *capture.Buffer, _ *mailsystem.Switch) error {
				records, err := buf.List(cmd.Context())
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(records)
			})
		},
	}
}
