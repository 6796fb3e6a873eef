package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"folioassist/internal/config"
	"folioassist/internal/metrics"
	"folioassist/internal/models"
	"folioassist/internal/persona"
	"folioassist/internal/service/ai"
)

type fakeGenerator struct {
	mu       sync.Mutex
	requests []ai.Request
	reply    ai.Reply
	release  chan struct{}
	started  chan struct{}
}

func (f *fakeGenerator) Generate(ctx context.Context, req ai.Request) ai.Reply {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return ai.Reply{Failure: &ai.Failure{Kind: ai.FailureTransport, Err: ctx.Err()}}
		}
	}
	return f.reply
}

func (f *fakeGenerator) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeGenerator) request(i int) ai.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[i]
}

func wait(t *testing.T, p *Pending) models.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, err := p.Wait(ctx)
	if err != nil {
		t.Fatalf("wait for reply: %v", err)
	}
	return msg
}

func waitDone(t *testing.T, p *Pending) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("request did not finish")
	}
}

func TestWidgetSuccessfulExchange(t *testing.T) {
	gen := &fakeGenerator{reply: ai.Reply{Text: "Younes works with Java/Spring Boot, Laravel and Angular/React."}}
	p := persona.Default()
	w := New(gen, p)

	if !w.ShowSuggestions() {
		t.Fatalf("suggestions should show before the first message")
	}

	pending, err := w.TrySubmit("What are Younes's main skills?")
	if err != nil {
		t.Fatalf("TrySubmit error: %v", err)
	}
	if w.ShowSuggestions() {
		t.Fatalf("suggestions should hide after the first message")
	}
	reply := wait(t, pending)

	transcript := w.Snapshot()
	if len(transcript) != 3 {
		t.Fatalf("expected greeting + 2 messages, got %d", len(transcript))
	}
	if !transcript[0].Local || transcript[0].Content != p.Greeting {
		t.Fatalf("first message should be the local greeting: %+v", transcript[0])
	}
	if transcript[1].Role != models.RoleUser || transcript[1].Content != "What are Younes's main skills?" {
		t.Fatalf("unexpected user message: %+v", transcript[1])
	}
	if transcript[2].Role != models.RoleAssistant || transcript[2].Content != reply.Content {
		t.Fatalf("unexpected assistant message: %+v", transcript[2])
	}
	if w.Busy() {
		t.Fatalf("widget should be idle after the reply")
	}

	req := gen.request(0)
	if len(req.History) != 0 {
		t.Fatalf("greeting must not be sent as history: %+v", req.History)
	}
	if req.NewMessage != "What are Younes's main skills?" || req.SystemInstruction != p.Instructions {
		t.Fatalf("unexpected request: %+v", req)
	}
}

func TestWidgetSequentialExchanges(t *testing.T) {
	gen := &fakeGenerator{reply: ai.Reply{Text: "ok"}}
	w := New(gen, persona.Default())

	for i, text := range []string{"Hi", "Tell me about his projects", "Is he available for work?"} {
		pending, err := w.TrySubmit(text)
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		wait(t, pending)
		if got := len(w.Snapshot()); got != 1+2*(i+1) {
			t.Fatalf("after submit %d transcript has %d messages", i, got)
		}
	}

	second := gen.request(1)
	if len(second.History) != 2 ||
		second.History[0].Role != models.RoleUser || second.History[0].Content != "Hi" ||
		second.History[1].Role != models.RoleAssistant || second.History[1].Content != "ok" {
		t.Fatalf("unexpected history for second request: %+v", second.History)
	}
	if len(gen.request(2).History) != 4 {
		t.Fatalf("third request should carry 4 history messages")
	}
}

func TestWidgetTrimsInput(t *testing.T) {
	gen := &fakeGenerator{reply: ai.Reply{Text: "Hello!"}}
	w := New(gen, persona.Default())

	pending, err := w.TrySubmit("  Hi \n")
	if err != nil {
		t.Fatalf("TrySubmit error: %v", err)
	}
	if pending.User.Content != "Hi" {
		t.Fatalf("user content = %q", pending.User.Content)
	}
	wait(t, pending)
	if gen.request(0).NewMessage != "Hi" {
		t.Fatalf("outbound message = %q", gen.request(0).NewMessage)
	}
}

func TestWidgetFailureKindsUseFallback(t *testing.T) {
	kinds := []ai.FailureKind{ai.FailureConfiguration, ai.FailureTransport, ai.FailureContract}
	for _, kind := range kinds {
		t.Run(string(kind), func(t *testing.T) {
			reg := prometheus.NewRegistry()
			m := metrics.New(reg)
			gen := &fakeGenerator{reply: ai.Reply{Failure: &ai.Failure{Kind: kind, Err: errors.New("boom")}}}
			p := persona.Default()
			w := New(gen, p, WithMetrics(m))

			pending, err := w.TrySubmit("Hi")
			if err != nil {
				t.Fatalf("TrySubmit error: %v", err)
			}
			reply := wait(t, pending)
			if reply.Content != p.Fallback {
				t.Fatalf("reply = %q, want fallback", reply.Content)
			}
			transcript := w.Snapshot()
			if len(transcript) != 3 || transcript[2].Content != p.Fallback {
				t.Fatalf("unexpected transcript: %+v", transcript)
			}
			if w.Busy() {
				t.Fatalf("busy not cleared after failure")
			}
			if got := testutil.ToFloat64(m.ExchangesTotal.WithLabelValues(string(kind))); got != 1 {
				t.Fatalf("exchanges{outcome=%s} = %v", kind, got)
			}
		})
	}
}

func TestWidgetIgnoresBlankInput(t *testing.T) {
	gen := &fakeGenerator{reply: ai.Reply{Text: "unused"}}
	w := New(gen, persona.Default())
	before := w.Snapshot()

	for _, text := range []string{"", "   ", "\n\t "} {
		if _, err := w.TrySubmit(text); !errors.Is(err, ErrEmptyInput) {
			t.Fatalf("TrySubmit(%q) err = %v, want ErrEmptyInput", text, err)
		}
		w.Submit(text)
	}
	if len(w.Snapshot()) != len(before) {
		t.Fatalf("blank input changed the transcript")
	}
	if w.Busy() || gen.calls() != 0 {
		t.Fatalf("blank input started a request")
	}
}

func TestWidgetDropsConcurrentSubmits(t *testing.T) {
	gen := &fakeGenerator{reply: ai.Reply{Text: "Hello!"}, release: make(chan struct{})}
	w := New(gen, persona.Default())

	const n = 16
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted []*Pending
		busy     int
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			p, err := w.TrySubmit("Hi")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted = append(accepted, p)
			case errors.Is(err, ErrBusy):
				busy++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if len(accepted) != 1 || busy != n-1 {
		t.Fatalf("accepted=%d busy=%d, want 1 and %d", len(accepted), busy, n-1)
	}
	if got := len(w.Snapshot()); got != 2 {
		t.Fatalf("transcript should hold greeting + one user message while pending, got %d", got)
	}

	w.Submit("Hi")
	close(gen.release)
	wait(t, accepted[0])

	if gen.calls() != 1 {
		t.Fatalf("generator called %d times, want 1", gen.calls())
	}
	transcript := w.Snapshot()
	if len(transcript) != 3 {
		t.Fatalf("expected exactly one user and one assistant message, got %d messages", len(transcript))
	}
}

func TestWidgetMissingCredential(t *testing.T) {
	p := persona.Default()
	w := New(ai.NewService(config.ProviderConfig{Name: "gemini"}), p)

	pending, err := w.TrySubmit("Hi")
	if err != nil {
		t.Fatalf("TrySubmit error: %v", err)
	}
	reply := wait(t, pending)
	if reply.Content != p.Fallback {
		t.Fatalf("reply = %q, want fallback", reply.Content)
	}
	if len(w.Snapshot()) != 3 {
		t.Fatalf("expected greeting + 2 messages")
	}
}

func TestWidgetCloseDuringFlightIsNoop(t *testing.T) {
	gen := &fakeGenerator{
		reply:   ai.Reply{Text: "late reply"},
		release: make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	var hooked int
	w := New(gen, persona.Default(), WithExchangeHook(func(models.Exchange) { hooked++ }))

	pending, err := w.TrySubmit("Hi")
	if err != nil {
		t.Fatalf("TrySubmit error: %v", err)
	}
	<-gen.started
	w.Close()
	waitDone(t, pending)

	if _, err := pending.Wait(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("Wait err = %v, want ErrClosed", err)
	}
	transcript := w.Snapshot()
	if len(transcript) != 2 || transcript[1].Role != models.RoleUser {
		t.Fatalf("disposed widget gained messages: %+v", transcript)
	}
	if hooked != 0 {
		t.Fatalf("exchange hook ran for a discarded reply")
	}
	if _, err := w.TrySubmit("Hi again"); !errors.Is(err, ErrClosed) {
		t.Fatalf("TrySubmit after Close err = %v, want ErrClosed", err)
	}
	w.Close()
}

func TestWidgetRequestTimeoutUsesFallback(t *testing.T) {
	gen := &fakeGenerator{reply: ai.Reply{Text: "never"}, release: make(chan struct{})}
	p := persona.Default()
	w := New(gen, p, WithRequestTimeout(20*time.Millisecond))

	pending, err := w.TrySubmit("Hi")
	if err != nil {
		t.Fatalf("TrySubmit error: %v", err)
	}
	reply := wait(t, pending)
	if reply.Content != p.Fallback {
		t.Fatalf("reply = %q, want fallback", reply.Content)
	}
}

func TestWidgetExchangeHook(t *testing.T) {
	gen := &fakeGenerator{reply: ai.Reply{Failure: &ai.Failure{Kind: ai.FailureTransport, Err: errors.New("dial tcp: timeout")}}}
	got := make(chan models.Exchange, 1)
	w := New(gen, persona.Default(),
		WithSessionID("sess-1"),
		WithExchangeHook(func(ex models.Exchange) { got <- ex }),
	)

	pending, err := w.TrySubmit("Hi")
	if err != nil {
		t.Fatalf("TrySubmit error: %v", err)
	}
	wait(t, pending)

	select {
	case ex := <-got:
		if ex.SessionID != "sess-1" || ex.UserContent != "Hi" || ex.Outcome != models.OutcomeTransport {
			t.Fatalf("unexpected exchange: %+v", ex)
		}
		if ex.FailureReason == "" {
			t.Fatalf("failure reason missing")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("exchange hook not called")
	}
}

func TestWidgetSignalsDoneBeforeExchangeHook(t *testing.T) {
	gen := &fakeGenerator{reply: ai.Reply{Text: "Hello!"}}
	release := make(chan struct{})
	hooked := make(chan struct{})
	w := New(gen, persona.Default(), WithExchangeHook(func(models.Exchange) {
		<-release
		close(hooked)
	}))

	pending, err := w.TrySubmit("Hi")
	if err != nil {
		t.Fatalf("TrySubmit error: %v", err)
	}
	// The hook is still blocked, yet the reply is already observable.
	if reply := wait(t, pending); reply.Content != "Hello!" {
		t.Fatalf("reply = %q", reply.Content)
	}
	if w.Busy() {
		t.Fatalf("widget still busy while hook runs")
	}

	close(release)
	select {
	case <-hooked:
	case <-time.After(2 * time.Second):
		t.Fatalf("exchange hook never finished")
	}
}

type panicGenerator struct{}

func (panicGenerator) Generate(context.Context, ai.Request) ai.Reply { panic("bad provider") }

func TestWidgetRecoversGeneratorPanic(t *testing.T) {
	p := persona.Default()
	w := New(panicGenerator{}, p)
	pending, err := w.TrySubmit("Hi")
	if err != nil {
		t.Fatalf("TrySubmit error: %v", err)
	}
	if reply := wait(t, pending); reply.Content != p.Fallback {
		t.Fatalf("reply = %q, want fallback", reply.Content)
	}
	if w.Busy() {
		t.Fatalf("busy not cleared after panic")
	}
}

func TestWidgetWithoutGreeting(t *testing.T) {
	p := persona.Default()
	p.Greeting = ""
	w := New(&fakeGenerator{reply: ai.Reply{Text: "ok"}}, p)
	if len(w.Snapshot()) != 0 {
		t.Fatalf("transcript should start empty")
	}
	if !w.ShowSuggestions() {
		t.Fatalf("suggestions should show on an empty transcript")
	}
}
