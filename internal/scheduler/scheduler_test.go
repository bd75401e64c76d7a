package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestRunFiresImmediatelyAndOnInterval(t *testing.T) {
	s := New(Options{Interval: 10 * time.Millisecond, RunImmediately: true}, zerolog.Nop())

	var ticks atomic.Int64
	ctx, cancel := context.WithTimeout(context.Background(), 55*time.Millisecond)
	defer cancel()

	err := s.Run(ctx, func(ctx context.Context, now time.Time) error {
		ticks.Add(1)
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("取消后应返回 context 错误: %v", err)
	}
	if got := ticks.Load(); got < 3 {
		t.Fatalf("应至少执行 3 次(含立即执行), 实际 %d", got)
	}
}

func TestRunContinuesAfterTickError(t *testing.T) {
	s := New(Options{Interval: 5 * time.Millisecond, RunImmediately: true}, zerolog.Nop())

	var ticks atomic.Int64
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_ = s.Run(ctx, func(ctx context.Context, now time.Time) error {
		ticks.Add(1)
		return errors.New("上游超时")
	})
	if got := ticks.Load(); got < 2 {
		t.Fatalf("单次失败不应停止调度, 实际执行 %d 次", got)
	}
}

func TestStartupDelayHonoursCancellation(t *testing.T) {
	s := New(Options{Interval: time.Minute, StartupDelay: time.Hour}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Run(ctx, func(ctx context.Context, now time.Time) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("取消应中断启动延迟: %v", err)
	}
}
