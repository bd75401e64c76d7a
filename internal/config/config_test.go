package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("缺省配置加载失败: %v", err)
	}
	if cfg.Scheduler.Interval != 5*time.Minute {
		t.Fatalf("默认轮询间隔应为 5m, 实际 %v", cfg.Scheduler.Interval)
	}
	if cfg.Alerting.Cooldown != 60*time.Minute || cfg.CooldownMinutes() != 60 {
		t.Fatalf("默认冷却时间应为 60 分钟: %v", cfg.Alerting.Cooldown)
	}
	if cfg.History.MaxLength != 1000 {
		t.Fatalf("默认历史长度应为 1000: %d", cfg.History.MaxLength)
	}
	if !cfg.Alerting.EnableMetalMonitor || !cfg.Alerting.EnableFundMonitor {
		t.Fatal("两类监控默认都应开启")
	}
}

func TestLoadFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
app:
  name: finmonitor-test
scheduler:
  interval: 90s
alerting:
  gold_threshold: 485.5
  cooldown: 30m
exchange:
  cache_duration: 2h
`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("配置文件加载失败: %v", err)
	}
	if cfg.App.Name != "finmonitor-test" {
		t.Fatalf("app.name 未生效: %s", cfg.App.Name)
	}
	if cfg.Scheduler.Interval != 90*time.Second {
		t.Fatalf("interval 解析错误: %v", cfg.Scheduler.Interval)
	}
	if cfg.Alerting.GoldThreshold != 485.5 || cfg.CooldownMinutes() != 30 {
		t.Fatalf("告警配置解析错误: %+v", cfg.Alerting)
	}
	if cfg.Exchange.CacheDuration != 2*time.Hour {
		t.Fatalf("汇率缓存时长解析错误: %v", cfg.Exchange.CacheDuration)
	}
	if cfg.Funds.BaseURL == "" {
		t.Fatal("未覆盖的字段应保留默认值")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}

	cfg.Scheduler.Interval = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("interval=0 应校验失败")
	}
	cfg.Scheduler.Interval = time.Minute

	cfg.Alerting.GoldThreshold = -1
	if err := cfg.Validate(); err == nil {
		t.Fatal("负阈值应校验失败")
	}
	cfg.Alerting.GoldThreshold = 500

	cfg.Email.Enabled = true
	cfg.Email.SMTPHost = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("开启邮件但缺少 smtp_host 应校验失败")
	}
}
