// Package chat implements the conversational assistant widget: an in-memory
// transcript plus a single-flight request lifecycle.
//
// A Widget moves between two states. While idle it accepts a submission,
// appends the user message immediately and starts one background request.
// While sending, further submissions are dropped rather than queued. When the
// request finishes, exactly one assistant message is appended (the reply or
// the persona's fallback text) and the widget returns to idle. Close disposes
// the widget; a request that completes afterwards writes nothing.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"folioassist/internal/metrics"
	"folioassist/internal/models"
	"folioassist/internal/persona"
	"folioassist/internal/service/ai"
)

var (
	ErrEmptyInput = errors.New("message is empty")
	ErrBusy       = errors.New("a reply is already pending")
	ErrClosed     = errors.New("widget is closed")
)

// ExchangeHook receives every committed exchange. It runs on the request
// goroutine after the widget lock is released.
type ExchangeHook func(models.Exchange)

type Option func(*Widget)

func WithSessionID(id string) Option {
	return func(w *Widget) { w.sessionID = id }
}

func WithLogger(l zerolog.Logger) Option {
	return func(w *Widget) { w.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Widget) { w.metrics = m }
}

func WithExchangeHook(h ExchangeHook) Option {
	return func(w *Widget) { w.hook = h }
}

// WithRequestTimeout bounds each generation call. Zero means no bound.
func WithRequestTimeout(d time.Duration) Option {
	return func(w *Widget) { w.timeout = d }
}

// WithMaxHistory caps the outbound history, see ai.BuildHistory.
func WithMaxHistory(n int) Option {
	return func(w *Widget) { w.maxHistory = n }
}

type Widget struct {
	gen        ai.Generator
	persona    persona.Persona
	sessionID  string
	log        zerolog.Logger
	metrics    *metrics.Metrics
	hook       ExchangeHook
	timeout    time.Duration
	maxHistory int

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	transcript []models.Message
	busy       bool
	generation uint64
	closed     bool
}

// New creates an idle widget. If the persona has a greeting it is placed in
// the transcript as a local message.
func New(gen ai.Generator, p persona.Persona, opts ...Option) *Widget {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Widget{
		gen:     gen,
		persona: p,
		log:     zerolog.Nop(),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(w)
	}
	if p.Greeting != "" {
		w.transcript = append(w.transcript, models.Message{
			Role:      models.RoleAssistant,
			Content:   p.Greeting,
			Local:     true,
			CreatedAt: time.Now(),
		})
	}
	return w
}

// Submit sends text if it is non-blank and no reply is pending. Otherwise the
// call is dropped.
func (w *Widget) Submit(text string) {
	_, _ = w.TrySubmit(text)
}

// TrySubmit is Submit that reports why a submission was dropped. On success
// the user message is already in the transcript when it returns.
func (w *Widget) TrySubmit(text string) (*Pending, error) {
	content := strings.TrimSpace(text)
	if content == "" {
		w.metrics.RecordSubmit(metrics.SubmitEmpty)
		return nil, ErrEmptyInput
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		w.metrics.RecordSubmit(metrics.SubmitClosed)
		return nil, ErrClosed
	}
	if w.busy {
		w.mu.Unlock()
		w.metrics.RecordSubmit(metrics.SubmitBusy)
		return nil, ErrBusy
	}
	userMsg := models.Message{
		Role:      models.RoleUser,
		Content:   content,
		CreatedAt: time.Now(),
	}
	w.transcript = append(w.transcript, userMsg)
	w.busy = true
	gen := w.generation
	history := ai.BuildHistory(w.transcript, w.maxHistory)
	w.mu.Unlock()

	w.metrics.RecordSubmit(metrics.SubmitAccepted)

	p := &Pending{User: userMsg, done: make(chan struct{})}
	req := ai.Request{
		SystemInstruction: w.persona.Instructions,
		History:           history,
		NewMessage:        content,
	}
	go w.complete(p, gen, req)
	return p, nil
}

// complete runs phase 2. Done is signalled once the reply is committed or
// discarded. The exchange hook runs after that.
func (w *Widget) complete(p *Pending, gen uint64, req ai.Request) {
	started := time.Now()

	ctx := w.ctx
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}
	reply := w.generate(ctx, req)

	content := reply.Text
	outcome := models.OutcomeOK
	reason := ""
	if !reply.OK() {
		content = w.persona.Fallback
		outcome = outcomeFor(reply.Failure.Kind)
		reason = reply.Failure.Error()
		w.log.Warn().
			Str("session_id", w.sessionID).
			Str("kind", string(reply.Failure.Kind)).
			Err(reply.Failure.Err).
			Msg("generation failed, replying with fallback")
	}

	w.mu.Lock()
	if w.closed || gen != w.generation {
		w.mu.Unlock()
		close(p.done)
		w.log.Debug().Str("session_id", w.sessionID).Msg("discarding reply for disposed widget")
		return
	}
	assistantMsg := models.Message{
		Role:      models.RoleAssistant,
		Content:   content,
		CreatedAt: time.Now(),
	}
	w.transcript = append(w.transcript, assistantMsg)
	w.busy = false
	w.mu.Unlock()

	latency := time.Since(started)
	w.metrics.RecordExchange(outcome, latency)

	p.reply = assistantMsg
	p.committed = true
	close(p.done)
	if w.hook != nil {
		w.hook(models.Exchange{
			SessionID:     w.sessionID,
			UserContent:   req.NewMessage,
			ReplyContent:  content,
			Outcome:       outcome,
			FailureReason: reason,
			Latency:       latency,
			CreatedAt:     assistantMsg.CreatedAt,
		})
	}
}

// generate turns a generator panic into a failed reply so busy is always cleared.
func (w *Widget) generate(ctx context.Context, req ai.Request) (reply ai.Reply) {
	defer func() {
		if r := recover(); r != nil {
			reply = ai.Reply{Failure: &ai.Failure{
				Kind: ai.FailureContract,
				Err:  fmt.Errorf("generator panic: %v", r),
			}}
		}
	}()
	return w.gen.Generate(ctx, req)
}

func outcomeFor(kind ai.FailureKind) models.Outcome {
	switch kind {
	case ai.FailureConfiguration:
		return models.OutcomeConfiguration
	case ai.FailureContract:
		return models.OutcomeContract
	default:
		return models.OutcomeTransport
	}
}

// Snapshot returns a copy of the transcript.
func (w *Widget) Snapshot() []models.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return models.CloneMessages(w.transcript)
}

// Busy reports whether a reply is pending.
func (w *Widget) Busy() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.busy
}

// ShowSuggestions reports whether quick actions should be offered, which is
// until the visitor sends a first message.
func (w *Widget) ShowSuggestions() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, msg := range w.transcript {
		if !msg.Local {
			return false
		}
	}
	return true
}

func (w *Widget) Suggestions() []string {
	return w.persona.Suggestions()
}

func (w *Widget) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// Close disposes the widget. A pending request is canceled and its result
// discarded. Close is idempotent.
func (w *Widget) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.generation++
	w.busy = false
	w.mu.Unlock()
	w.cancel()
}

// Pending tracks one accepted submission.
type Pending struct {
	User models.Message

	done      chan struct{}
	reply     models.Message
	committed bool
}

// Done is closed once the request has finished, whether or not a reply was
// committed.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Wait blocks until the request finishes and returns the committed assistant
// message. It returns ErrClosed if the widget was disposed first.
func (p *Pending) Wait(ctx context.Context) (models.Message, error) {
	select {
	case <-p.done:
	case <-ctx.Done():
		return models.Message{}, ctx.Err()
	}
	if !p.committed {
		return models.Message{}, ErrClosed
	}
	return p.reply, nil
}
