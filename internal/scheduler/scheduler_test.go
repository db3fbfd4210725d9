package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakePruner struct {
	keep   int
	calls  int
	count  int
	fail   error
	pruned chan struct{}
}

func (f *fakePruner) Prune(ctx context.Context, keep int) (int64, error) {
	f.calls++
	f.keep = keep
	if f.pruned != nil {
		defer close(f.pruned)
	}
	if f.fail != nil {
		return 0, f.fail
	}
	removed := int64(f.count - keep)
	if removed < 0 {
		removed = 0
	}
	f.count -= int(removed)
	return removed, nil
}

func (f *fakePruner) Count(ctx context.Context) (int, error) {
	return f.count, nil
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		in           string
		hour, minute int
	}{
		{"04:00", 4, 0},
		{"23:59", 23, 59},
		{" 7:05 ", 7, 5},
		{"24:00", 4, 0},
		{"noon", 4, 0},
		{"", 4, 0},
		{"12:xx", 4, 0},
	}
	for _, tt := range tests {
		h, m := parseClock(tt.in)
		if h != tt.hour || m != tt.minute {
			t.Errorf("parseClock(%q) = %d:%d, want %d:%d", tt.in, h, m, tt.hour, tt.minute)
		}
	}
}

func TestNextRun(t *testing.T) {
	loc := time.UTC
	s := NewScheduler(&fakePruner{}, 10, "04:30")

	s.now = func() time.Time { return time.Date(2026, 3, 1, 2, 0, 0, 0, loc) }
	if got, want := s.nextRun(), time.Date(2026, 3, 1, 4, 30, 0, 0, loc); !got.Equal(want) {
		t.Fatalf("before run time: got %s, want %s", got, want)
	}

	s.now = func() time.Time { return time.Date(2026, 3, 1, 4, 30, 0, 0, loc) }
	if got, want := s.nextRun(), time.Date(2026, 3, 2, 4, 30, 0, 0, loc); !got.Equal(want) {
		t.Fatalf("at run time: got %s, want %s", got, want)
	}
}

func TestStartPrunesImmediately(t *testing.T) {
	p := &fakePruner{count: 25, pruned: make(chan struct{})}
	s := NewScheduler(p, 10, "04:00")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	select {
	case <-p.pruned:
	case <-time.After(2 * time.Second):
		t.Fatal("history was not pruned at start")
	}
	cancel()
	<-done

	if p.calls != 1 || p.keep != 10 || p.count != 10 {
		t.Fatalf("pruner: %+v", p)
	}
}

func TestStartDisabledWaitsForCancel(t *testing.T) {
	p := &fakePruner{fail: errors.New("should not be called")}
	s := NewScheduler(p, 0, "04:00")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.Start(ctx)

	if p.calls != 0 {
		t.Fatal("pruned with retention disabled")
	}
}
