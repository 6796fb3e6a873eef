package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"folioassist/internal/chat"
	"folioassist/internal/metrics"
	"folioassist/internal/persona"
	"folioassist/internal/service/ai"
)

type stubGenerator struct {
	release chan struct{}
}

func (g *stubGenerator) Generate(ctx context.Context, req ai.Request) ai.Reply {
	if g.release != nil {
		select {
		case <-g.release:
		case <-ctx.Done():
			return ai.Reply{Failure: &ai.Failure{Kind: ai.FailureTransport, Err: ctx.Err()}}
		}
	}
	return ai.Reply{Text: "ok"}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestRegistry(t *testing.T, gen ai.Generator, cfg Config, opts ...RegistryOption) (*Registry, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	factory := func(id string) *chat.Widget {
		return chat.New(gen, persona.Default(), chat.WithSessionID(id))
	}
	r := NewRegistry(factory, cfg, opts...)
	r.now = clock.Now
	return r, clock
}

func TestRegistryCreateGetRemove(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	r, _ := newTestRegistry(t, &stubGenerator{}, Config{}, WithMetrics(m))
	ctx := context.Background()

	session, widget, err := r.Create()
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if session.ID == "" || widget == nil {
		t.Fatalf("Create returned empty session")
	}
	if got, err := r.Get(ctx, session.ID); err != nil || got != widget {
		t.Fatalf("Get returned %v, %v", got, err)
	}
	if got := testutil.ToFloat64(m.ActiveSessions); got != 1 {
		t.Fatalf("active sessions gauge = %v", got)
	}

	if !r.Remove(ctx, session.ID) {
		t.Fatalf("Remove reported missing session")
	}
	if !widget.Closed() {
		t.Fatalf("removed widget should be closed")
	}
	if _, err := r.Get(ctx, session.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Get after remove err = %v", err)
	}
	if r.Remove(ctx, session.ID) {
		t.Fatalf("second Remove should report false")
	}
	if got := testutil.ToFloat64(m.ActiveSessions); got != 0 {
		t.Fatalf("active sessions gauge = %v", got)
	}
}

func TestRegistryEnforcesMaxSessions(t *testing.T) {
	r, _ := newTestRegistry(t, &stubGenerator{}, Config{MaxSessions: 2})
	for i := 0; i < 2; i++ {
		if _, _, err := r.Create(); err != nil {
			t.Fatalf("Create %d error: %v", i, err)
		}
	}
	if _, _, err := r.Create(); !errors.Is(err, ErrRegistryFull) {
		t.Fatalf("expected ErrRegistryFull, got %v", err)
	}
}

func TestRegistrySweepExpiresIdleSessions(t *testing.T) {
	r, clock := newTestRegistry(t, &stubGenerator{}, Config{IdleTTL: 10 * time.Minute})
	ctx := context.Background()

	stale, staleWidget, _ := r.Create()
	clock.Advance(6 * time.Minute)
	fresh, _, _ := r.Create()
	clock.Advance(5 * time.Minute)

	if n := r.Sweep(ctx); n != 1 {
		t.Fatalf("Sweep removed %d sessions, want 1", n)
	}
	if !staleWidget.Closed() {
		t.Fatalf("expired widget should be closed")
	}
	if _, err := r.Get(ctx, stale.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expired session err = %v", err)
	}
	if _, err := r.Get(ctx, fresh.ID); err != nil {
		t.Fatalf("fresh session should survive: %v", err)
	}
}

func TestRegistryGetRefreshesActivity(t *testing.T) {
	r, clock := newTestRegistry(t, &stubGenerator{}, Config{IdleTTL: 10 * time.Minute})
	ctx := context.Background()

	session, _, _ := r.Create()
	clock.Advance(8 * time.Minute)
	if _, err := r.Get(ctx, session.ID); err != nil {
		t.Fatalf("Get error: %v", err)
	}
	clock.Advance(8 * time.Minute)
	if n := r.Sweep(ctx); n != 0 {
		t.Fatalf("recently used session was swept")
	}
	got, ok := r.Session(session.ID)
	if !ok || !got.LastActive.After(got.CreatedAt) {
		t.Fatalf("last active not refreshed: %+v", got)
	}
}

func TestRegistrySweepSkipsBusySessions(t *testing.T) {
	gen := &stubGenerator{release: make(chan struct{})}
	r, clock := newTestRegistry(t, gen, Config{IdleTTL: time.Minute})
	ctx := context.Background()

	_, widget, _ := r.Create()
	pending, err := widget.TrySubmit("Hi")
	if err != nil {
		t.Fatalf("TrySubmit error: %v", err)
	}
	clock.Advance(time.Hour)
	if n := r.Sweep(ctx); n != 0 {
		t.Fatalf("busy session was swept")
	}

	close(gen.release)
	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if _, err := pending.Wait(waitCtx); err != nil {
		t.Fatalf("Wait error: %v", err)
	}
	if n := r.Sweep(ctx); n != 1 {
		t.Fatalf("idle session not swept after reply, removed %d", n)
	}
}

func TestRegistryCloseAll(t *testing.T) {
	r, _ := newTestRegistry(t, &stubGenerator{}, Config{})
	_, w1, _ := r.Create()
	_, w2, _ := r.Create()
	r.CloseAll()
	if r.Len() != 0 || !w1.Closed() || !w2.Closed() {
		t.Fatalf("CloseAll left sessions open")
	}
}
