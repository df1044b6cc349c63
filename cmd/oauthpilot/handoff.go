package main

import (
	"github.com/spf13/cobra"
)

func newHandoffCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "handoff",
		Short: "Inspect or reset the cross-origin handoff state",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the profile document and the decoded handoff state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, kv, err := a.handoffStore()
			if err != nil {
				return err
			}
			raw, err := kv.Dump(cmd.Context())
			if err != nil {
				return err
			}
			st, err := store.Load(cmd.Context())
			if err != nil {
				return err
			}
			printf(cmd, "profile:    %s\ndocument:   %s\nidentity:   %s\nauthorized: %t\n",
				a.cfg.Profile, raw, st.TargetIdentity, st.Authorized)
			return nil
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove the handoff keys",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, _, err := a.handoffStore()
			if err != nil {
				return err
			}
			return store.Clear(cmd.Context())
		},
	}

	cmd.AddCommand(show, clearCmd)
	return cmd
}
