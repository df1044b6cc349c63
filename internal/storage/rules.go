package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"oauthpilot/pkg/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrRuleNotFound 规则不存在
var ErrRuleNotFound = errors.New("rule not found")

// RuleRecord 规则表
type RuleRecord struct {
	ID        string `gorm:"primaryKey;size:64"`
	Position  int    `gorm:"index"`
	Pattern   string `gorm:"not null"`
	Identity  string `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (r RuleRecord) toModel() model.Rule {
	created, updated := r.CreatedAt, r.UpdatedAt
	return model.Rule{
		ID:        model.RuleID(r.ID),
		Pattern:   r.Pattern,
		Identity:  r.Identity,
		CreatedAt: &created,
		UpdatedAt: &updated,
	}
}

// RuleRepository 规则仓库，写入后通知订阅者
type RuleRepository struct {
	db *gorm.DB

	mu       sync.Mutex
	watchers map[int]func([]model.Rule)
	nextID   int
}

// NewRuleRepository 创建规则仓库
func NewRuleRepository(db *gorm.DB) *RuleRepository {
	return &RuleRepository{db: db, watchers: make(map[int]func([]model.Rule))}
}

// Rules 按位置顺序返回全部规则
func (r *RuleRepository) Rules(ctx context.Context) ([]model.Rule, error) {
	var recs []RuleRecord
	if err := r.db.WithContext(ctx).Order("position asc, created_at asc").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	out := make([]model.Rule, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.toModel())
	}
	return out, nil
}

// Watch 注册变更回调，ctx 结束时注销
func (r *RuleRepository) Watch(ctx context.Context, fn func([]model.Rule)) error {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.watchers[id] = fn
	r.mu.Unlock()
	go func() {
		<-ctx.Done()
		r.mu.Lock()
		delete(r.watchers, id)
		r.mu.Unlock()
	}()
	return nil
}

// Save 新建或更新规则；ID 为空时生成，新规则追加在末尾
func (r *RuleRepository) Save(ctx context.Context, rule model.Rule) (model.Rule, error) {
	rec := RuleRecord{ID: string(rule.ID), Pattern: rule.Pattern, Identity: rule.Identity}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if rec.ID != "" {
			var cur RuleRecord
			err := tx.Where("id = ?", rec.ID).Take(&cur).Error
			if err == nil {
				cur.Pattern, cur.Identity = rec.Pattern, rec.Identity
				rec = cur
				return tx.Save(&rec).Error
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
		} else {
			rec.ID = uuid.NewString()
		}
		var maxPos sql.NullInt64
		if err := tx.Model(&RuleRecord{}).Select("MAX(position)").Row().Scan(&maxPos); err != nil {
			return err
		}
		if maxPos.Valid {
			rec.Position = int(maxPos.Int64) + 1
		}
		return tx.Create(&rec).Error
	})
	if err != nil {
		return model.Rule{}, fmt.Errorf("save rule: %w", err)
	}
	r.notify(ctx)
	return rec.toModel(), nil
}

// Delete 删除规则
func (r *RuleRepository) Delete(ctx context.Context, id model.RuleID) error {
	res := r.db.WithContext(ctx).Where("id = ?", string(id)).Delete(&RuleRecord{})
	if res.Error != nil {
		return fmt.Errorf("delete rule: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrRuleNotFound
	}
	r.notify(ctx)
	return nil
}

func (r *RuleRepository) notify(ctx context.Context) {
	rules, err := r.Rules(ctx)
	if err != nil {
		return
	}
	r.mu.Lock()
	fns := make([]func([]model.Rule), 0, len(r.watchers))
	for _, fn := range r.watchers {
		fns = append(fns, fn)
	}
	r.mu.Unlock()
	for _, fn := range fns {
		fn(rules)
	}
}
