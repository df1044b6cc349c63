package main

import (
	"fmt"
	"text/tabwriter"

	"oauthpilot/internal/rules"
	"oauthpilot/internal/storage"
	"oauthpilot/pkg/model"

	"github.com/spf13/cobra"
)

func newRulesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage URL-pattern to identity rules",
	}

	repo := func() (*storage.RuleRepository, error) {
		db, err := a.database()
		if err != nil {
			return nil, err
		}
		return storage.NewRuleRepository(db), nil
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List rules in match order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := repo()
			if err != nil {
				return err
			}
			rs, err := r.Rules(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tPATTERN\tIDENTITY")
			for _, rule := range rs {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", rule.ID, rule.Pattern, rule.Identity)
			}
			return tw.Flush()
		},
	}

	var id string
	add := &cobra.Command{
		Use:   "add <pattern> <identity>",
		Short: "Add a rule, or update it when --id names an existing one",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rules.NewMatcher(a.log).Valid(args[0]); err != nil {
				return err
			}
			r, err := repo()
			if err != nil {
				return err
			}
			saved, err := r.Save(cmd.Context(), model.Rule{ID: model.RuleID(id), Pattern: args[0], Identity: args[1]})
			if err != nil {
				return err
			}
			printf(cmd, "%s\n", saved.ID)
			return nil
		},
	}
	add.Flags().StringVar(&id, "id", "", "rule id (generated when empty)")

	remove := &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := repo()
			if err != nil {
				return err
			}
			return r.Delete(cmd.Context(), model.RuleID(args[0]))
		},
	}

	cmd.AddCommand(list, add, remove)
	return cmd
}
