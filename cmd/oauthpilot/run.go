package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"oauthpilot/internal/rules"
	"oauthpilot/internal/storage"
	"oauthpilot/pkg/api"
	"oauthpilot/pkg/model"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/spf13/cobra"
)

type runOptions struct {
	target     string
	autoAttach bool
}

func newRunCmd(a *app) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to (or launch) a browser and run the autopilot on its pages",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPilot(cmd, a, opts)
		},
	}
	cmd.Flags().StringVar(&opts.target, "target", "", "attach a specific target id (default: first page)")
	cmd.Flags().BoolVar(&opts.autoAttach, "auto-attach", true, "attach new page targets as they appear")
	return cmd
}

func runPilot(cmd *cobra.Command, a *app, opts *runOptions) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, _, err := a.handoffStore()
	if err != nil {
		return err
	}
	var source rules.Source
	if a.cfg.RulesFile != "" {
		source = rules.NewFileSource(a.cfg.RulesFile, a.log)
	} else {
		source = storage.NewRuleRepository(a.db)
	}

	devtools := a.cfg.DevTools.URL
	if a.cfg.DevTools.Launch {
		l := launcher.New().Headless(a.cfg.DevTools.Headless)
		defer l.Cleanup()
		ws, err := l.Launch()
		if err != nil {
			return fmt.Errorf("launch browser: %w", err)
		}
		if devtools, err = httpEndpoint(ws); err != nil {
			return err
		}
		a.log.Info("已启动浏览器", "devtools", devtools)
	}

	svc := api.NewService(a.log, api.Deps{
		Rules:    source,
		Store:    store,
		Provider: a.cfg.Provider,
		Timing:   a.cfg.Timing,
		Logger:   a.log,
	})
	defer svc.Close()

	id, err := svc.StartSession(ctx, model.SessionConfig{
		DevToolsURL: devtools,
		Profile:     a.cfg.Profile,
		AutoAttach:  opts.autoAttach,
	})
	if err != nil {
		return err
	}
	if opts.target != "" || !opts.autoAttach {
		if err := svc.AttachTarget(ctx, id, model.TargetID(opts.target)); err != nil {
			return err
		}
	}
	events, err := svc.SubscribeEvents(id)
	if err != nil {
		return err
	}
	printf(cmd, "session %s on %s\n", id, devtools)

	for {
		select {
		case <-ctx.Done():
			stop, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			return svc.StopSession(stop, id)
		case evt := <-events:
			printEvent(cmd, evt)
		}
	}
}

func printEvent(cmd *cobra.Command, evt model.Event) {
	ts := time.UnixMilli(evt.Timestamp).Format(time.TimeOnly)
	switch evt.Type {
	case "notification":
		printf(cmd, "%s [%s] %s: %s (%s)\n", ts, evt.Target, evt.Title, evt.Message, evt.Context)
	default:
		printf(cmd, "%s [%s] %s %s\n", ts, evt.Target, evt.Type, evt.Context)
	}
}

// httpEndpoint 启动器返回浏览器级 ws 地址，devtool 需要同主机的 http 地址
func httpEndpoint(ws string) (string, error) {
	u, err := url.Parse(ws)
	if err != nil {
		return "", fmt.Errorf("parse devtools url %q: %w", ws, err)
	}
	scheme := "http"
	if u.Scheme == "wss" {
		scheme = "https"
	}
	return scheme + "://" + u.Host, nil
}
