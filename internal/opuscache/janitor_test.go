package opuscache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeLease struct {
	leader bool
}

func (f *fakeLease) IsLeader() bool { return f.leader }

func TestJanitorSweepsWhenLeader(t *testing.T) {
	c := newTestCache(t, time.Hour)
	writeEntry(t, c, "stale", 2*time.Hour)

	j := NewJanitor(c, &fakeLease{leader: true}, time.Hour, zerolog.Nop())
	j.sweep(context.Background())

	if c.IsCached("stale") {
		t.Fatal("leader janitor should have removed the expired entry")
	}
}

func TestJanitorSkipsSweepWithoutLease(t *testing.T) {
	c := newTestCache(t, time.Hour)
	path := writeEntry(t, c, "stale", 2*time.Hour)

	j := NewJanitor(c, &fakeLease{leader: false}, time.Hour, zerolog.Nop())
	j.sweep(context.Background())

	if _, err := os.Stat(path); err != nil {
		t.Fatal("follower janitor should not touch the cache")
	}
}

func TestJanitorNilLeaseAlwaysSweeps(t *testing.T) {
	c := newTestCache(t, time.Hour)
	writeEntry(t, c, "stale", 2*time.Hour)

	j := NewJanitor(c, nil, time.Hour, zerolog.Nop())
	j.sweep(context.Background())

	if c.IsCached("stale") {
		t.Fatal("ungated janitor should sweep")
	}
}

func TestJanitorRunStopsOnCancel(t *testing.T) {
	c := newTestCache(t, time.Hour)
	j := NewJanitor(c, nil, time.Hour, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- j.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("janitor did not stop after cancel")
	}
}

func TestNewJanitorDefaultsInterval(t *testing.T) {
	c := newTestCache(t, time.Hour)
	j := NewJanitor(c, nil, 0, zerolog.Nop())
	if j.interval != defaultSweepInterval {
		t.Fatalf("interval = %v, want %v", j.interval, defaultSweepInterval)
	}
}
