package reaper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/forgeline/latentpool/registry"
)

type fakeTerminator struct {
	terminated []string
	failOn     map[string]bool
	registry   *registry.Registry
}

func (f *fakeTerminator) Terminate(ctx context.Context, instanceID string) error {
	if f.failOn[instanceID] {
		return errors.New("termination refused")
	}
	f.terminated = append(f.terminated, instanceID)
	if f.registry != nil {
		_ = f.registry.Remove(instanceID)
	}
	return nil
}

func openRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.Open(t.TempDir())
	if err != nil {
		t.Fatalf("failed to open registry: %v", err)
	}
	t.Cleanup(func() {
		_ = reg.Close()
	})
	return reg
}

func TestSweep_ReapsOnlyIdleWorkers(t *testing.T) {
	reg := openRegistry(t)
	now := time.Now()

	mustRecord(t, reg, registry.WorkerState{
		InstanceID: "i-idle",
		Worker:     "linux-large",
		LaunchedAt: now.Add(-time.Hour),
		LastBusyAt: now.Add(-30 * time.Minute),
	})
	mustRecord(t, reg, registry.WorkerState{
		InstanceID: "i-busy",
		Worker:     "linux-large",
		LaunchedAt: now.Add(-time.Hour),
		LastBusyAt: now.Add(-time.Minute),
	})

	terminator := &fakeTerminator{registry: reg}
	r := New(reg, terminator, nil, Config{IdleTimeout: 10 * time.Minute})

	reaped := r.Sweep(context.Background())
	if reaped != 1 {
		t.Fatalf("expected 1 reaped, got %d", reaped)
	}
	if len(terminator.terminated) != 1 || terminator.terminated[0] != "i-idle" {
		t.Errorf("expected i-idle terminated, got %v", terminator.terminated)
	}
	if _, ok := reg.Get("i-busy"); !ok {
		t.Error("busy worker should survive the sweep")
	}
}

func TestSweep_NeverLaunchedIdleFromLaunchTime(t *testing.T) {
	reg := openRegistry(t)

	// No LastBusyAt at all; idleness counts from launch.
	mustRecord(t, reg, registry.WorkerState{
		InstanceID: "i-neverbusy",
		Worker:     "linux-large",
		LaunchedAt: time.Now().Add(-time.Hour),
	})

	terminator := &fakeTerminator{registry: reg}
	r := New(reg, terminator, nil, Config{IdleTimeout: 10 * time.Minute})

	if reaped := r.Sweep(context.Background()); reaped != 1 {
		t.Fatalf("expected 1 reaped, got %d", reaped)
	}
}

func TestSweep_RetriesFailedTerminations(t *testing.T) {
	reg := openRegistry(t)

	mustRecord(t, reg, registry.WorkerState{
		InstanceID: "i-stuck",
		Worker:     "linux-large",
		LaunchedAt: time.Now().Add(-time.Hour),
	})

	terminator := &fakeTerminator{
		registry: reg,
		failOn:   map[string]bool{"i-stuck": true},
	}
	r := New(reg, terminator, nil, Config{IdleTimeout: 10 * time.Minute})

	if reaped := r.Sweep(context.Background()); reaped != 0 {
		t.Fatalf("expected 0 reaped on failure, got %d", reaped)
	}
	if _, ok := reg.Get("i-stuck"); !ok {
		t.Error("failed termination must leave the worker registered for the next sweep")
	}

	// Next sweep succeeds once the provider recovers.
	terminator.failOn = nil
	if reaped := r.Sweep(context.Background()); reaped != 1 {
		t.Fatalf("expected 1 reaped after recovery, got %d", reaped)
	}
	if r.ReapedCount() != 1 {
		t.Errorf("ReapedCount = %d, want 1", r.ReapedCount())
	}
	if r.SweepCount() != 2 {
		t.Errorf("SweepCount = %d, want 2", r.SweepCount())
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	reg := openRegistry(t)
	r := New(reg, &fakeTerminator{}, nil, Config{Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- r.Run(ctx)
	}()

	time.Sleep(35 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	if r.SweepCount() == 0 {
		t.Error("expected at least one sweep before cancel")
	}
}

func mustRecord(t *testing.T, reg *registry.Registry, state registry.WorkerState) {
	t.Helper()
	if err := reg.Record(state); err != nil {
		t.Fatalf("failed to record state: %v", err)
	}
}
