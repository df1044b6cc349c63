package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"oauthpilot/internal/handoff"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ProfileDocument 一个浏览器配置文件的键值文档，对该配置文件下的所有源可见
type ProfileDocument struct {
	Profile   string `gorm:"primaryKey;size:128"`
	Data      string `gorm:"type:text;not null"`
	UpdatedAt time.Time
}

// KVStore 以 JSON 文档实现 handoff.KV，最后写入者获胜
type KVStore struct {
	db      *gorm.DB
	profile string
}

var _ handoff.KV = (*KVStore)(nil)

// NewKVStore 创建配置文件作用域的键值存储
func NewKVStore(db *gorm.DB, profile string) *KVStore {
	if profile == "" {
		profile = "default"
	}
	return &KVStore{db: db, profile: profile}
}

// Get 读取若干键，不存在的键不出现在结果中
func (s *KVStore) Get(ctx context.Context, keys ...string) (handoff.Record, error) {
	data, err := s.load(s.db.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	out := make(handoff.Record, len(keys))
	for _, k := range keys {
		if r := gjson.Get(data, escapePath(k)); r.Exists() {
			out[k] = r.Value()
		}
	}
	return out, nil
}

// Set 在一个事务内写入整条记录
func (s *KVStore) Set(ctx context.Context, rec handoff.Record) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		data, err := s.load(tx)
		if err != nil {
			return err
		}
		for k, v := range rec {
			if data, err = sjson.Set(data, escapePath(k), v); err != nil {
				return fmt.Errorf("set %s: %w", k, err)
			}
		}
		return s.save(tx, data)
	})
}

// Remove 删除若干键
func (s *KVStore) Remove(ctx context.Context, keys ...string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		data, err := s.load(tx)
		if err != nil {
			return err
		}
		for _, k := range keys {
			if data, err = sjson.Delete(data, escapePath(k)); err != nil {
				return fmt.Errorf("remove %s: %w", k, err)
			}
		}
		return s.save(tx, data)
	})
}

// Dump 返回整份文档，供命令行查看
func (s *KVStore) Dump(ctx context.Context) (string, error) {
	return s.load(s.db.WithContext(ctx))
}

func (s *KVStore) load(tx *gorm.DB) (string, error) {
	var doc ProfileDocument
	err := tx.Where("profile = ?", s.profile).Take(&doc).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return "{}", nil
	case err != nil:
		return "", fmt.Errorf("load profile %s: %w", s.profile, err)
	}
	if !gjson.Valid(doc.Data) {
		// 损坏的文档按空处理，下次写入覆盖
		return "{}", nil
	}
	return doc.Data, nil
}

func (s *KVStore) save(tx *gorm.DB, data string) error {
	doc := ProfileDocument{Profile: s.profile, Data: data, UpdatedAt: time.Now()}
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "profile"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
	}).Create(&doc).Error
	if err != nil {
		return fmt.Errorf("save profile %s: %w", s.profile, err)
	}
	return nil
}

// escapePath 转义 gjson/sjson 路径中的特殊字符
func escapePath(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch r {
		case '.', '*', '?', '|', '#', '@', '\\', '!', '=', '<', '>', '%':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
