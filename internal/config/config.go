package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix 环境变量前缀
const EnvPrefix = "OAUTHPILOT"

// Config 配置文件结构体
type Config struct {
	Version string `yaml:"version" ignored:"true"`

	Sqlite struct {
		Dsn    string `yaml:"dsn"`
		Prefix string `yaml:"prefix"`
	} `yaml:"sqlite"`

	Log struct {
		Level  string   `yaml:"level"`
		Writer []string `yaml:"writer"`
		File   string   `yaml:"file"`
	} `yaml:"log"`

	DevTools struct {
		URL      string `yaml:"url" envconfig:"URL"`
		Launch   bool   `yaml:"launch"`
		Headless bool   `yaml:"headless"`
	} `yaml:"devtools"`

	// Profile 接力存储的作用域，同一浏览器配置文件下所有源共享
	Profile   string `yaml:"profile"`
	RulesFile string `yaml:"rulesFile" split_words:"true"`

	Provider Provider `yaml:"provider"`
	Timing   Timing   `yaml:"timing"`
}

// Provider 身份提供方特征
type Provider struct {
	Keyword           string   `yaml:"keyword"`
	Hosts             []string `yaml:"hosts"`
	ChooserPaths      []string `yaml:"chooserPaths" split_words:"true"`
	ConfirmationPaths []string `yaml:"confirmationPaths" split_words:"true"`
	ConfirmLabel      string   `yaml:"confirmLabel" split_words:"true"`
}

// Race 单个阶段的竞速参数
type Race struct {
	MaxAttempts int           `yaml:"maxAttempts" split_words:"true"`
	Interval    time.Duration `yaml:"interval"`
	Deadline    time.Duration `yaml:"deadline"`
}

// Timing 所有延迟与截止时间
type Timing struct {
	RescanDelays     []time.Duration `yaml:"rescanDelays" split_words:"true"`
	MutationEvery    int             `yaml:"mutationEvery" split_words:"true"`
	Debounce         time.Duration   `yaml:"debounce"`
	Throttle         time.Duration   `yaml:"throttle"`
	CandidateLimit   int             `yaml:"candidateLimit" split_words:"true"`
	Chooser          Race            `yaml:"chooser"`
	Confirmation     Race            `yaml:"confirmation"`
	TransitionWait   time.Duration   `yaml:"transitionWait" split_words:"true"`
	HandoffGrace     time.Duration   `yaml:"handoffGrace" split_words:"true"`
	LoginResetDelay  time.Duration   `yaml:"loginResetDelay" split_words:"true"`
	StoreWriteRetry  int             `yaml:"storeWriteRetry" split_words:"true"`
	StoreRetryPeriod time.Duration   `yaml:"storeRetryPeriod" split_words:"true"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	c := &Config{
		Version:  "1.0.0",
		Profile:  "default",
		Provider: DefaultProvider(),
		Timing:   DefaultTiming(),
	}
	c.Sqlite.Dsn = "oauthpilot.sqlite3"
	c.Sqlite.Prefix = "oauthpilot_"
	c.Log.Level = "info"
	c.Log.Writer = []string{"console"}
	c.Log.File = "oauthpilot.log"
	c.DevTools.URL = "http://127.0.0.1:9222"
	return c
}

// DefaultProvider Google 账号流程的默认特征
func DefaultProvider() Provider {
	return Provider{
		Keyword: "google",
		Hosts:   []string{"accounts.google.com"},
		ChooserPaths: []string{
			"/o/oauth2",
			"/signin/oauth",
			"/accountchooser",
		},
		ConfirmationPaths: []string{
			"/signin/oauth/consent",
			"/signin/oauth/id",
			"/signin/oauth/v2/consentsummary",
			"/o/oauth2/approval",
		},
		ConfirmLabel: "Continue",
	}
}

// DefaultTiming 默认时序
func DefaultTiming() Timing {
	return Timing{
		RescanDelays:   []time.Duration{800 * time.Millisecond, 2500 * time.Millisecond, 6 * time.Second},
		MutationEvery:  5,
		Debounce:       300 * time.Millisecond,
		Throttle:       1500 * time.Millisecond,
		CandidateLimit: 400,
		Chooser: Race{
			MaxAttempts: 20,
			Interval:    500 * time.Millisecond,
			Deadline:    20 * time.Second,
		},
		Confirmation: Race{
			MaxAttempts: 20,
			Interval:    500 * time.Millisecond,
			Deadline:    20 * time.Second,
		},
		TransitionWait:   30 * time.Second,
		HandoffGrace:     5 * time.Second,
		LoginResetDelay:  15 * time.Second,
		StoreWriteRetry:  3,
		StoreRetryPeriod: 50 * time.Millisecond,
	}
}

// Load 读取配置：默认值 <- YAML 文件 <- 环境变量
func Load(path string) (*Config, error) {
	c := NewConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, c); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	if err := envconfig.Process(EnvPrefix, c); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
	}
	c.normalize()
	return c, nil
}

// normalize 把非法值回退为默认值
func (c *Config) normalize() {
	d := DefaultTiming()
	t := &c.Timing
	if len(t.RescanDelays) == 0 {
		t.RescanDelays = d.RescanDelays
	}
	if t.MutationEvery <= 0 {
		t.MutationEvery = d.MutationEvery
	}
	if t.CandidateLimit <= 0 {
		t.CandidateLimit = d.CandidateLimit
	}
	fixRace(&t.Chooser, d.Chooser)
	fixRace(&t.Confirmation, d.Confirmation)
	if t.TransitionWait <= 0 {
		t.TransitionWait = d.TransitionWait
	}
	if t.LoginResetDelay <= 0 {
		t.LoginResetDelay = d.LoginResetDelay
	}
	if t.StoreWriteRetry <= 0 {
		t.StoreWriteRetry = 1
	}
	if c.Provider.Keyword == "" {
		c.Provider.Keyword = DefaultProvider().Keyword
	}
	if len(c.Provider.Hosts) == 0 {
		c.Provider.Hosts = DefaultProvider().Hosts
	}
	if c.Provider.ConfirmLabel == "" {
		c.Provider.ConfirmLabel = DefaultProvider().ConfirmLabel
	}
	if c.Profile == "" {
		c.Profile = "default"
	}
}

func fixRace(r *Race, d Race) {
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = d.MaxAttempts
	}
	if r.Interval <= 0 {
		r.Interval = d.Interval
	}
	if r.Deadline <= 0 {
		r.Deadline = d.Deadline
	}
}
