package rules

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"oauthpilot/internal/logger"
	"oauthpilot/pkg/model"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Source 只读规则来源及其变更通知
type Source interface {
	Rules(ctx context.Context) ([]model.Rule, error)
	Watch(ctx context.Context, fn func([]model.Rule)) error
}

// StaticSource 内存规则列表，Replace 时通知订阅者
type StaticSource struct {
	mu       sync.Mutex
	rules    []model.Rule
	watchers map[int]func([]model.Rule)
	next     int
}

// NewStaticSource 创建静态来源
func NewStaticSource(rs ...model.Rule) *StaticSource {
	return &StaticSource{rules: rs, watchers: make(map[int]func([]model.Rule))}
}

func (s *StaticSource) Rules(context.Context) ([]model.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Rule(nil), s.rules...), nil
}

// Watch 注册回调，ctx 结束时注销
func (s *StaticSource) Watch(ctx context.Context, fn func([]model.Rule)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watchers == nil {
		s.watchers = make(map[int]func([]model.Rule))
	}
	id := s.next
	s.next++
	s.watchers[id] = fn
	context.AfterFunc(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.watchers, id)
	})
	return nil
}

// Replace 替换规则并通知
func (s *StaticSource) Replace(rs []model.Rule) {
	s.mu.Lock()
	s.rules = append([]model.Rule(nil), rs...)
	ws := make([]func([]model.Rule), 0, len(s.watchers))
	for _, fn := range s.watchers {
		ws = append(ws, fn)
	}
	s.mu.Unlock()
	for _, fn := range ws {
		fn(append([]model.Rule(nil), rs...))
	}
}

// File YAML 规则文件格式
type File struct {
	Rules []model.Rule `yaml:"rules"`
}

// FileSource YAML 规则文件，借助 fsnotify 感知修改
type FileSource struct {
	path string
	log  logger.Logger
}

// NewFileSource 创建文件来源
func NewFileSource(path string, l logger.Logger) *FileSource {
	if l == nil {
		l = logger.NewNop()
	}
	return &FileSource{path: path, log: l}
}

// Rules 读取规则文件；文件不存在视为空列表
func (s *FileSource) Rules(context.Context) ([]model.Rule, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read rules %s: %w", s.path, err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rules %s: %w", s.path, err)
	}
	for i := range f.Rules {
		if f.Rules[i].ID == "" {
			f.Rules[i].ID = model.RuleID(fmt.Sprintf("rule-%d", i+1))
		}
	}
	return f.Rules, nil
}

// Watch 监听所在目录（编辑器常以重命名方式保存），ctx 结束时停止
func (s *FileSource) Watch(ctx context.Context, fn func([]model.Rule)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch rules: %w", err)
	}
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		w.Close()
		return fmt.Errorf("watch rules %s: %w", s.path, err)
	}
	target := filepath.Clean(s.path)
	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) {
					continue
				}
				rs, err := s.Rules(ctx)
				if err != nil {
					s.log.Err(err, "重新加载规则文件失败", "path", s.path)
					continue
				}
				s.log.Info("规则文件已变更", "path", s.path, "count", len(rs))
				fn(rs)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.log.Err(err, "规则文件监听错误", "path", s.path)
			}
		}
	}()
	return nil
}

// Save 写回规则文件
func (s *FileSource) Save(rs []model.Rule) error {
	data, err := yaml.Marshal(File{Rules: rs})
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o644)
}
