package main

import (
	"context"
	"os"
	"time"

	"oauthpilot/internal/dom/htmldom"
	"oauthpilot/internal/handoff"
	"oauthpilot/internal/notify"
	"oauthpilot/internal/pilot"
	"oauthpilot/internal/rules"
	"oauthpilot/pkg/model"

	"github.com/spf13/cobra"
)

type replayOptions struct {
	identity string
	pattern  string
	duration time.Duration
}

func newReplayCmd(a *app) *cobra.Command {
	opts := &replayOptions{pattern: "<all_urls>"}
	cmd := &cobra.Command{
		Use:   "replay <url> <html-file>",
		Short: "Run one page instance over a recorded document and report what it would do",
		Long: "Loads a saved HTML document as if it were served at <url> and runs the autopilot on it.\n" +
			"With --identity, a rule for --pattern maps to that identity and the handoff is pre-authorized,\n" +
			"so provider chooser and confirmation documents can be replayed too.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return replay(cmd, a, opts, args[0], args[1])
		},
	}
	cmd.Flags().StringVar(&opts.identity, "identity", "", "target identity (email) to sign in as")
	cmd.Flags().StringVar(&opts.pattern, "pattern", opts.pattern, "rule pattern used with --identity")
	cmd.Flags().DurationVar(&opts.duration, "for", 0, "how long to run (default: chooser deadline)")
	return cmd
}

func replay(cmd *cobra.Command, a *app, opts *replayOptions, rawURL, file string) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()
	doc, err := htmldom.Parse(rawURL, f)
	if err != nil {
		return err
	}

	wait := opts.duration
	if wait <= 0 {
		wait = a.cfg.Timing.Chooser.Deadline
	}

	kv := handoff.NewMemoryKV()
	store := handoff.New(kv, handoff.Options{Logger: a.log})
	source := rules.NewStaticSource()
	if opts.identity != "" {
		source.Replace([]model.Rule{{ID: "replay", Pattern: opts.pattern, Identity: opts.identity}})
		if err := store.Save(cmd.Context(), model.HandoffState{TargetIdentity: opts.identity, Authorized: true}); err != nil {
			return err
		}
	}

	rec := &notify.Recorder{}
	doc.OnActivate(func(act htmldom.Activation) {
		printf(cmd, "activate  ref=%s technique=%s\n", act.Ref, act.Technique)
	})
	doc.OnNavigate(func(u string) {
		printf(cmd, "navigate  %s\n", u)
	})

	ctx, cancel := context.WithTimeout(cmd.Context(), wait)
	defer cancel()
	agent := pilot.New(pilot.Options{
		Page:     doc,
		Rules:    source,
		Store:    store,
		Notifier: notify.Multi{rec, notify.Log{L: a.log}},
		Provider: a.cfg.Provider,
		Timing:   a.cfg.Timing,
		Logger:   a.log,
	})
	if err := agent.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}

	for _, m := range rec.Messages() {
		printf(cmd, "notify    %s: %s\n", m.Title, m.Message)
	}
	st, err := store.Load(context.Background())
	if err != nil {
		return err
	}
	printf(cmd, "handoff   identity=%q authorized=%t\n", st.TargetIdentity, st.Authorized)
	return nil
}
