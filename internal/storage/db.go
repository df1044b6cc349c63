// Package storage 基于 SQLite 的持久化：浏览器配置文件作用域的键值文档与规则表。
package storage

import (
	"fmt"

	"oauthpilot/internal/logger"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// Options 数据库选项
type Options struct {
	Dsn    string
	Prefix string
	Logger logger.Logger
}

// Open 打开数据库并迁移表结构
func Open(opts Options) (*gorm.DB, error) {
	if opts.Dsn == "" {
		return nil, fmt.Errorf("open sqlite: empty dsn")
	}
	db, err := gorm.Open(sqlite.Open(opts.Dsn), &gorm.Config{
		Logger:         NewGormLogger(opts.Logger),
		NamingStrategy: schema.NamingStrategy{TablePrefix: opts.Prefix},
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", opts.Dsn, err)
	}
	// 单连接串行化写入，避免 SQLITE_BUSY
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	if err := db.AutoMigrate(&ProfileDocument{}, &RuleRecord{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}
