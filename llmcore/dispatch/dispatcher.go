// Dispatcher selection, guarded execution, and fallback-chain traversal
// per SPEC_FULL §4.7.
//
// Grounded on llm/router.go's strategy-switch shape and
// llm/resilient_provider.go's idempotency-key idea (its retry/breaker
// composition is explicitly NOT followed here — see SPEC_FULL §9: this
// dispatcher always nests retry inside the breaker's admitted call as
// one logical call, rather than the teacher's either/or choice).
package dispatch

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/paxoscn/llmdispatch/llmcore"
	"github.com/paxoscn/llmdispatch/llmcore/breaker"
	"github.com/paxoscn/llmdispatch/llmcore/health"
	"github.com/paxoscn/llmdispatch/llmcore/retry"
)

// tracer emits the llm.dispatch and llm.provider.<kind>.chat spans per
// SPEC_FULL §4.12. When no SDK TracerProvider is registered (telemetry
// disabled, §4.12), this resolves to the OTel noop tracer at zero cost.
var tracer = otel.Tracer("github.com/paxoscn/llmdispatch/llmcore/dispatch")

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// MetricsRecorder receives dispatch-core observability events, per
// SPEC_FULL §4.12. A nil Dispatcher.Metrics disables all recording.
// *metrics.Collector satisfies this interface structurally.
type MetricsRecorder interface {
	RecordDispatch(provider, kind, outcome string, duration time.Duration)
	RecordBreakerTransition(provider, from, to string)
	RecordRetryAttempts(provider string, attempts int)
	RecordStreamChunk(provider string)
}

// Dispatcher selects among registered providers, guards each call with
// a per-provider circuit breaker and retry policy, and falls back
// across a chain of providers on failure.
type Dispatcher struct {
	registry *Registry
	health   *health.Tracker
	cfg      Config

	// Metrics, if set, receives per-attempt outcome/latency, breaker
	// transition, retry-attempt-count, and stream-chunk observations.
	Metrics MetricsRecorder

	mu       sync.Mutex
	breakers map[string]*breaker.Breaker
	rrCursor int
}

// New builds a Dispatcher over registry, tracking health via tracker
// (pass health.New() for a fresh one) and configured by cfg.
func New(registry *Registry, tracker *health.Tracker, cfg Config) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		health:   tracker,
		cfg:      cfg,
		breakers: make(map[string]*breaker.Breaker),
	}
}

func (d *Dispatcher) breakerFor(name string) *breaker.Breaker {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.breakers[name]
	if !ok {
		cfg := d.cfg.Breaker
		if d.Metrics != nil {
			cfg.OnStateChange = func(from, to breaker.State) {
				d.Metrics.RecordBreakerTransition(name, from.String(), to.String())
			}
		}
		b = breaker.New(cfg)
		d.breakers[name] = b
	}
	return b
}

// BreakerState reports the circuit-breaker state for name, for
// observability/tests. A never-seen name reports Closed.
func (d *Dispatcher) BreakerState(name string) breaker.State {
	return d.breakerFor(name).State()
}

// candidates returns the ordered sequence of provider names to attempt:
// the strategy's chosen primary first, then the rest of the fallback
// chain (or registry order, if no explicit chain is configured) with
// the primary deduplicated out, per §4.7.
func (d *Dispatcher) candidates() ([]string, error) {
	names := d.registry.Names()
	if len(names) == 0 {
		return nil, llmcore.NewError(llmcore.KindNoHealthyProviders, "no providers registered")
	}

	primary, err := d.selectPrimary(names)
	if err != nil {
		return nil, err
	}

	order := names
	if d.cfg.FallbackEnabled && len(d.cfg.FallbackChain) > 0 {
		order = d.cfg.FallbackChain
	}

	out := []string{primary}
	if !d.cfg.FallbackEnabled {
		return out, nil
	}
	seen := map[string]bool{primary: true}
	for _, n := range order {
		if seen[n] {
			continue
		}
		if _, ok := d.registry.Get(n); !ok {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out, nil
}

func (d *Dispatcher) selectPrimary(names []string) (string, error) {
	switch d.cfg.Strategy {
	case StrategyRandom:
		return names[rand.Intn(len(names))], nil
	case StrategyWeightedRandom:
		return d.selectWeightedRandom(names), nil
	case StrategyHealthBased:
		return d.selectHealthBased(names), nil
	case StrategyLatencyBased:
		return d.selectLatencyBased(names), nil
	case StrategyRoundRobin:
		fallthrough
	default:
		return d.selectRoundRobin(names), nil
	}
}

func (d *Dispatcher) selectRoundRobin(names []string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	idx := d.rrCursor % len(names)
	d.rrCursor++
	return names[idx]
}

func (d *Dispatcher) selectWeightedRandom(names []string) string {
	total := 0.0
	weights := make([]float64, len(names))
	for i, n := range names {
		w := 1.0
		if d.cfg.Weights != nil {
			if configured, ok := d.cfg.Weights[n]; ok {
				w = configured
			}
		}
		weights[i] = w
		total += w
	}
	if total <= 0 {
		return names[rand.Intn(len(names))]
	}
	r := rand.Float64() * total
	for i, w := range weights {
		r -= w
		if r <= 0 {
			return names[i]
		}
	}
	return names[len(names)-1]
}

func (d *Dispatcher) selectHealthBased(names []string) string {
	for _, n := range names {
		if d.health.Healthy(n) {
			return n
		}
	}
	// Every provider is unhealthy; fall back to round robin rather than
	// refusing outright so the guarded call (and the breaker/health
	// tracker it feeds) still gets a chance to observe a recovery.
	return d.selectRoundRobin(names)
}

func (d *Dispatcher) selectLatencyBased(names []string) string {
	best := names[0]
	bestLatency := int64(-1)
	for _, n := range names {
		snap := d.health.Get(n)
		if !snap.Healthy {
			continue
		}
		if bestLatency < 0 || snap.LastLatencyMS < bestLatency {
			best = n
			bestLatency = snap.LastLatencyMS
		}
	}
	return best
}

// Chat dispatches a non-streaming chat request, trying candidates in
// order until one succeeds or the chain is exhausted. On total failure
// it surfaces the first (preferred) candidate's terminal error, per
// §4.7/§9: a later fallback's error must never mask the primary's.
func (d *Dispatcher) Chat(ctx context.Context, req llmcore.ChatRequest) (*llmcore.ChatResponse, error) {
	ctx, span := tracer.Start(ctx, "llm.dispatch")
	var err error
	defer func() { endSpan(span, err) }()

	var candidates []string
	candidates, err = d.candidates()
	if err != nil {
		return nil, err
	}

	var firstErr error
	var resp *llmcore.ChatResponse
	for _, name := range candidates {
		var callErr error
		resp, callErr = d.guardedChat(ctx, name, req)
		if callErr == nil {
			return resp, nil
		}
		if firstErr == nil {
			firstErr = callErr
		}
	}
	err = firstErr
	return nil, firstErr
}

// StreamChat dispatches a streaming chat request. Fallback only applies
// before the stream is established: once a handle's StreamChat call has
// returned a channel, mid-stream errors surface as the terminal chunk's
// Err field rather than triggering a fallback switch, since partial
// output may already have reached the caller.
func (d *Dispatcher) StreamChat(ctx context.Context, req llmcore.ChatRequest) (<-chan llmcore.ChatStreamChunk, error) {
	ctx, span := tracer.Start(ctx, "llm.dispatch")
	var err error
	defer func() { endSpan(span, err) }()

	var candidates []string
	candidates, err = d.candidates()
	if err != nil {
		return nil, err
	}

	var firstErr error
	for _, name := range candidates {
		ch, callErr := d.guardedStreamChat(ctx, name, req)
		if callErr == nil {
			return ch, nil
		}
		if firstErr == nil {
			firstErr = callErr
		}
	}
	err = firstErr
	return nil, firstErr
}

// guardedChat runs one provider's Chat call behind its breaker, with
// retry nested inside the admitted call (§9: retry-inside-breaker).
// Retries count as one logical call for health-tracking purposes (§9):
// the health tracker is updated once, after retry.Do returns, on the
// overall outcome and overall wall-clock duration, not per attempt.
func (d *Dispatcher) guardedChat(ctx context.Context, name string, req llmcore.ChatRequest) (*llmcore.ChatResponse, error) {
	provider, ok := d.registry.Get(name)
	if !ok {
		return nil, llmcore.NewError(llmcore.KindNoHealthyProviders, "provider not registered").WithProvider(name)
	}

	b := d.breakerFor(name)
	if err := b.Admit(); err != nil {
		return nil, llmcore.NewError(llmcore.KindBreakerOpen, "circuit breaker open").WithProvider(name)
	}

	callStart := time.Now()
	attempts := 0
	result, err := retry.Do(ctx, d.cfg.Retry, func(ctx context.Context, attempt int) (any, error) {
		attempts = attempt
		ctx, cancel := d.withPerRequestTimeout(ctx)
		defer cancel()
		ctx, span := tracer.Start(ctx, fmt.Sprintf("llm.provider.%s.chat", provider.Kind()),
			trace.WithAttributes(attribute.String("llm.provider.name", name), attribute.Int("llm.attempt", attempt)))
		resp, err := provider.Chat(ctx, req)
		endSpan(span, err)
		return resp, err
	})
	d.health.Record(name, err == nil, time.Since(callStart).Milliseconds())
	if d.Metrics != nil {
		outcome := "success"
		if err != nil {
			outcome = "failure"
		}
		d.Metrics.RecordDispatch(name, "chat", outcome, time.Since(callStart))
		d.Metrics.RecordRetryAttempts(name, attempts)
	}
	if err != nil {
		b.Failure()
		return nil, err
	}
	b.Success()
	return result.(*llmcore.ChatResponse), nil
}

// withPerRequestTimeout derives a per-call deadline from
// Config.PerRequestTimeout, per §5. A zero timeout disables the
// deadline (ctx is returned unchanged with a no-op cancel).
func (d *Dispatcher) withPerRequestTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.cfg.PerRequestTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d.cfg.PerRequestTimeout)
}

// guardedStreamChat runs one provider's StreamChat call behind its
// breaker. Retry applies only to establishing the stream (the initial
// handshake), not to chunks already delivered, since a chunk already
// sent to the caller can't be un-sent.
func (d *Dispatcher) guardedStreamChat(ctx context.Context, name string, req llmcore.ChatRequest) (<-chan llmcore.ChatStreamChunk, error) {
	provider, ok := d.registry.Get(name)
	if !ok {
		return nil, llmcore.NewError(llmcore.KindNoHealthyProviders, "provider not registered").WithProvider(name)
	}

	b := d.breakerFor(name)
	if err := b.Admit(); err != nil {
		return nil, llmcore.NewError(llmcore.KindBreakerOpen, "circuit breaker open").WithProvider(name)
	}

	callStart := time.Now()
	attempts := 0
	streamCancel := func() {}
	result, err := retry.Do(ctx, d.cfg.Retry, func(ctx context.Context, attempt int) (any, error) {
		attempts = attempt
		attemptCtx, cancel := d.withPerRequestTimeout(ctx)
		streamCancel = cancel
		attemptCtx, span := tracer.Start(attemptCtx, fmt.Sprintf("llm.provider.%s.chat", provider.Kind()),
			trace.WithAttributes(attribute.String("llm.provider.name", name), attribute.Int("llm.attempt", attempt)))
		ch, err := provider.StreamChat(attemptCtx, req)
		endSpan(span, err)
		if err != nil {
			// Establishment failed: nothing downstream still needs
			// attemptCtx, so release its timer immediately. On success
			// the timeout must outlive this closure (it governs the SSE
			// body read too), so wrapStream takes ownership of cancel.
			cancel()
		}
		return ch, err
	})
	d.health.Record(name, err == nil, time.Since(callStart).Milliseconds())
	if d.Metrics != nil {
		outcome := "success"
		if err != nil {
			outcome = "failure"
		}
		d.Metrics.RecordDispatch(name, "stream_chat", outcome, time.Since(callStart))
		d.Metrics.RecordRetryAttempts(name, attempts)
	}
	if err != nil {
		b.Failure()
		return nil, err
	}
	b.Success()
	return d.wrapStream(ctx, name, result.(<-chan llmcore.ChatStreamChunk), streamCancel), nil
}

// wrapStream relays src to a fresh channel, recording a stream-chunk
// metric per delivered chunk (when metrics are enabled) and releasing
// the per-request-timeout context once src is fully drained or ctx is
// cancelled.
func (d *Dispatcher) wrapStream(ctx context.Context, name string, src <-chan llmcore.ChatStreamChunk, cancel context.CancelFunc) <-chan llmcore.ChatStreamChunk {
	out := make(chan llmcore.ChatStreamChunk)
	go func() {
		defer close(out)
		defer cancel()
		for chunk := range src {
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
			if d.Metrics != nil {
				d.Metrics.RecordStreamChunk(name)
			}
		}
	}()
	return out
}
