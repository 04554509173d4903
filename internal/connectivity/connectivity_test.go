package connectivity

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/geckobuddy/enclosure-controller/internal/logic"
	"github.com/geckobuddy/enclosure-controller/internal/state"
)

var errDown = errors.New("no route to host")

// fakeProber returns scripted results; the last one repeats.
type fakeProber struct {
	mu      sync.Mutex
	results []error
	calls   int
}

func (f *fakeProber) Probe(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.results) == 0 {
		return nil
	}
	i := f.calls - 1
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	return f.results[i]
}

func newTestSupervisor(p Prober) (*Supervisor, *state.Cell[logic.ConnectivityState]) {
	cell, w := state.New(logic.ConnectivityState{})
	s := New(Config{}, p, w, zap.NewNop())
	s.now = func() time.Time { return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) }
	return s, cell
}

func TestBackoffSequence(t *testing.T) {
	b := NewBackOff(time.Second, 60*time.Second)
	want := []time.Duration{1, 2, 4, 8, 16, 32, 60, 60, 60}
	for i, w := range want {
		if got := b.NextBackOff(); got != w*time.Second {
			t.Errorf("step %d: got %v, want %v", i, got, w*time.Second)
		}
	}

	b.Reset()
	if got := b.NextBackOff(); got != time.Second {
		t.Errorf("after reset: got %v, want 1s", got)
	}
}

func TestInitialStateDisconnected(t *testing.T) {
	_, cell := newTestSupervisor(&fakeProber{})
	if got := cell.Load().Phase; got != logic.LinkDisconnected {
		t.Errorf("expected DISCONNECTED, got %s", got)
	}
}

func TestAttemptTransitions(t *testing.T) {
	tests := []struct {
		name      string
		from      logic.LinkPhase
		result    error
		wantPhase logic.LinkPhase
	}{
		{"disconnected success", logic.LinkDisconnected, nil, logic.LinkConnected},
		{"disconnected failure", logic.LinkDisconnected, errDown, logic.LinkDisconnected},
		{"degraded success", logic.LinkDegraded, nil, logic.LinkConnected},
		{"degraded failure", logic.LinkDegraded, errDown, logic.LinkDegraded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, cell := newTestSupervisor(&fakeProber{results: []error{tt.result}})
			s.attempt(context.Background(), tt.from)

			st := cell.Load()
			if st.Phase != tt.wantPhase {
				t.Errorf("phase: got %s, want %s", st.Phase, tt.wantPhase)
			}
			if tt.result != nil && st.BackoffSeconds != 1 {
				t.Errorf("expected 1s backoff after first failure, got %d", st.BackoffSeconds)
			}
			if tt.result == nil && st.BackoffSeconds != 0 {
				t.Errorf("expected no backoff when connected, got %d", st.BackoffSeconds)
			}
			if st.LastAttemptAt.IsZero() {
				t.Error("LastAttemptAt not recorded")
			}
		})
	}
}

func TestSuccessResetsBackoff(t *testing.T) {
	p := &fakeProber{results: []error{errDown, errDown, errDown, nil, errDown}}
	s, cell := newTestSupervisor(p)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		s.attempt(ctx, logic.LinkDisconnected)
	}
	if got := cell.Load().BackoffSeconds; got != 4 {
		t.Fatalf("expected 4s after three failures, got %d", got)
	}

	s.attempt(ctx, logic.LinkDisconnected)
	if cell.Load().Phase != logic.LinkConnected {
		t.Fatal("expected CONNECTED")
	}

	s.attempt(ctx, logic.LinkDegraded)
	if got := cell.Load().BackoffSeconds; got != 1 {
		t.Errorf("backoff should restart at 1s, got %d", got)
	}
}

func TestObserveDegradesAfterThreshold(t *testing.T) {
	s, cell := newTestSupervisor(&fakeProber{})
	s.attempt(context.Background(), logic.LinkDisconnected)

	if s.observe(errDown) || s.observe(errDown) {
		t.Fatal("degraded before threshold")
	}
	// A success in between resets the count.
	s.observe(nil)
	if s.observe(errDown) || s.observe(errDown) {
		t.Fatal("count was not reset by success")
	}
	if !s.observe(errDown) {
		t.Fatal("expected degrade on third consecutive failure")
	}

	st := cell.Load()
	if st.Phase != logic.LinkDegraded {
		t.Errorf("expected DEGRADED, got %s", st.Phase)
	}
	if st.BackoffSeconds != 1 {
		t.Errorf("expected 1s backoff, got %d", st.BackoffSeconds)
	}
}

func TestObserveIgnoresCancellation(t *testing.T) {
	s, _ := newTestSupervisor(&fakeProber{})
	for i := 0; i < 5; i++ {
		if s.observe(context.Canceled) {
			t.Fatal("cancellation must not degrade the link")
		}
	}
}

func TestRunBacksOffWhileUnreachable(t *testing.T) {
	s, cell := newTestSupervisor(&fakeProber{results: []error{errDown}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var waits []time.Duration
	s.after = func(d time.Duration) <-chan time.Time {
		waits = append(waits, d)
		if len(waits) == 8 {
			cancel()
		}
		ch := make(chan time.Time, 1)
		ch <- time.Time{}
		return ch
	}

	if err := s.Run(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []time.Duration{1, 2, 4, 8, 16, 32, 60, 60}
	if len(waits) != len(want) {
		t.Fatalf("got %d waits, want %d", len(waits), len(want))
	}
	for i := range want {
		if waits[i] != want[i]*time.Second {
			t.Errorf("wait %d: got %v, want %v", i, waits[i], want[i]*time.Second)
		}
	}
	if got := cell.Load().Phase; got != logic.LinkDisconnected && got != logic.LinkConnecting {
		t.Errorf("never connected, but phase is %s", got)
	}
}

func TestRunDegradesOnReports(t *testing.T) {
	p := &fakeProber{}
	s, cell := newTestSupervisor(p)

	var checks atomic.Int32
	s.after = func(d time.Duration) <-chan time.Time {
		checks.Add(1)
		return nil // never fires
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitPhase(t, cell, logic.LinkConnected)

	for i := 0; i < DefaultFailureThreshold; i++ {
		s.Report(errDown)
	}
	waitPhase(t, cell, logic.LinkDegraded)

	cancel()
	if err := <-done; err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRunPeriodicCheckDegrades(t *testing.T) {
	p := &fakeProber{results: []error{nil, errDown}}
	s, cell := newTestSupervisor(p)

	tick := make(chan time.Time)
	s.after = func(d time.Duration) <-chan time.Time {
		if d == DefaultCheckInterval {
			return tick
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	waitPhase(t, cell, logic.LinkConnected)
	for i := 0; i < DefaultFailureThreshold; i++ {
		tick <- time.Time{}
	}
	waitPhase(t, cell, logic.LinkDegraded)
}

func TestReportNeverBlocks(t *testing.T) {
	s, _ := newTestSupervisor(&fakeProber{})
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			s.Report(errDown)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Report blocked")
	}
}

func waitPhase(t *testing.T, cell *state.Cell[logic.ConnectivityState], want logic.LinkPhase) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for cell.Load().Phase != want {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s, at %s", want, cell.Load().Phase)
		}
		time.Sleep(time.Millisecond)
	}
}
