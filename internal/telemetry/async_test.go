package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/geckobuddy/enclosure-controller/internal/logic"
	"github.com/geckobuddy/enclosure-controller/internal/state"
)

var online = state.Static[logic.ConnectivityState]{V: logic.ConnectivityState{Phase: logic.LinkConnected}}

type reportLog struct {
	mu   sync.Mutex
	errs []error
}

func (r *reportLog) report(err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
}

func (r *reportLog) all() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for condition")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestAsyncPublishesWhenOnline(t *testing.T) {
	fake := NewFake()
	var rl reportLog
	a := NewAsync(fake, online, rl.report, 8, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		a.Run(ctx)
		close(done)
	}()

	a.Publish(ctx, FeedTemperature, 72.0)
	a.Publish(ctx, FeedLampState, "ON")

	waitFor(t, func() bool { return len(fake.Sent()) == 2 })
	cancel()
	<-done

	msgs := fake.Sent()
	if msgs[0].Feed != FeedTemperature || msgs[1].Feed != FeedLampState {
		t.Errorf("unexpected order: %+v", msgs)
	}
	if s := a.Stats(); s.Sent != 2 {
		t.Errorf("expected 2 sent, got %+v", s)
	}
	for _, err := range rl.all() {
		if err != nil {
			t.Errorf("unexpected failure report: %v", err)
		}
	}
}

func TestAsyncSuppressedWhenOffline(t *testing.T) {
	for _, phase := range []logic.LinkPhase{logic.LinkDisconnected, logic.LinkConnecting, logic.LinkDegraded} {
		t.Run(string(phase), func(t *testing.T) {
			fake := NewFake()
			link := state.Static[logic.ConnectivityState]{V: logic.ConnectivityState{Phase: phase}}
			a := NewAsync(fake, link, nil, 8, zap.NewNop())

			a.Publish(context.Background(), FeedHumidity, 40.0)
			if err := a.PublishNow(context.Background(), FeedStatus, "System Resetting"); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if a.Pending() != 0 {
				t.Errorf("nothing should be queued while %s", phase)
			}
			if len(fake.Sent()) != 0 {
				t.Errorf("nothing should be sent while %s", phase)
			}
			if s := a.Stats(); s.Suppressed != 2 {
				t.Errorf("expected 2 suppressed, got %+v", s)
			}
		})
	}
}

func TestAsyncDropsWhenFull(t *testing.T) {
	fake := NewFake()
	a := NewAsync(fake, online, nil, 2, zap.NewNop())

	// No Run loop, so the queue fills up.
	for i := 0; i < 5; i++ {
		if err := a.Publish(context.Background(), FeedTemperature, float64(i)); err != nil {
			t.Fatalf("Publish must not fail: %v", err)
		}
	}

	if a.Pending() != 2 {
		t.Errorf("expected 2 pending, got %d", a.Pending())
	}
	if s := a.Stats(); s.Dropped != 3 {
		t.Errorf("expected 3 dropped, got %+v", s)
	}
}

func TestAsyncReportsFailures(t *testing.T) {
	fake := NewFake()
	fake.PublishError = errors.New("connection refused")
	var rl reportLog
	a := NewAsync(fake, online, rl.report, 8, zap.NewNop())

	if err := a.PublishNow(context.Background(), FeedSetpoint, 69.0); err == nil {
		t.Fatal("expected error from PublishNow")
	}

	errs := rl.all()
	if len(errs) != 1 || errs[0] == nil {
		t.Fatalf("expected one failure report, got %v", errs)
	}
	if s := a.Stats(); s.Failed != 1 {
		t.Errorf("expected 1 failed, got %+v", s)
	}
}

func TestAsyncPublishCancelledContext(t *testing.T) {
	a := NewAsync(NewFake(), online, nil, 8, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.Publish(ctx, FeedStatus, "x"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestAsyncClose(t *testing.T) {
	fake := NewFake()
	a := NewAsync(fake, online, nil, 8, zap.NewNop())
	a.Close()
	if !fake.Closed {
		t.Error("Close should close the inner publisher")
	}
}
