package main

import (
	"fmt"

	"oauthpilot/internal/config"
	"oauthpilot/internal/handoff"
	"oauthpilot/internal/logger"
	"oauthpilot/internal/storage"

	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

// app 命令共用的已加载环境
type app struct {
	cfgPath string
	cfg     *config.Config
	log     logger.Logger
	db      *gorm.DB
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "oauthpilot",
		Short:         "Drive OAuth sign-in across navigations on an attached browser",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load()
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			a.close()
		},
	}
	root.PersistentFlags().StringVarP(&a.cfgPath, "config", "c", "oauthpilot.yaml", "config file (YAML)")

	root.AddCommand(
		newRunCmd(a),
		newRulesCmd(a),
		newHandoffCmd(a),
		newReplayCmd(a),
	)
	return root
}

func (a *app) load() error {
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = logger.New(logger.Options{
		Level:   cfg.Log.Level,
		Writers: cfg.Log.Writer,
		File:    cfg.Log.File,
	})
	return nil
}

// database 按需打开
func (a *app) database() (*gorm.DB, error) {
	if a.db != nil {
		return a.db, nil
	}
	db, err := storage.Open(storage.Options{Dsn: a.cfg.Sqlite.Dsn, Prefix: a.cfg.Sqlite.Prefix, Logger: a.log})
	if err != nil {
		return nil, err
	}
	a.db = db
	return db, nil
}

func (a *app) handoffStore() (*handoff.Store, *storage.KVStore, error) {
	db, err := a.database()
	if err != nil {
		return nil, nil, err
	}
	kv := storage.NewKVStore(db, a.cfg.Profile)
	return handoff.New(kv, handoff.Options{
		Attempts: a.cfg.Timing.StoreWriteRetry,
		Delay:    a.cfg.Timing.StoreRetryPeriod,
		Logger:   a.log,
	}), kv, nil
}

func (a *app) close() {
	if a.db == nil {
		return
	}
	if sqlDB, err := a.db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			a.log.Err(err, "关闭数据库失败")
		}
	}
	a.db = nil
}

func printf(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
