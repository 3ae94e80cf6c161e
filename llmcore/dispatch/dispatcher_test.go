package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paxoscn/llmdispatch/llmcore"
	"github.com/paxoscn/llmdispatch/llmcore/breaker"
	"github.com/paxoscn/llmdispatch/llmcore/health"
	"github.com/paxoscn/llmdispatch/llmcore/retry"
)

type fakeProvider struct {
	name         string
	kind         llmcore.ProviderKind
	chatErr      error
	resp         *llmcore.ChatResponse
	calls        int
	streamChunks []llmcore.ChatStreamChunk
}

func (f *fakeProvider) Name() string               { return f.name }
func (f *fakeProvider) Kind() llmcore.ProviderKind { return f.kind }
func (f *fakeProvider) Chat(ctx context.Context, req llmcore.ChatRequest) (*llmcore.ChatResponse, error) {
	f.calls++
	if f.chatErr != nil {
		return nil, f.chatErr
	}
	return f.resp, nil
}
func (f *fakeProvider) StreamChat(ctx context.Context, req llmcore.ChatRequest) (<-chan llmcore.ChatStreamChunk, error) {
	if f.chatErr != nil {
		return nil, f.chatErr
	}
	ch := make(chan llmcore.ChatStreamChunk, len(f.streamChunks))
	for _, c := range f.streamChunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}
func (f *fakeProvider) Embed(ctx context.Context, text string) ([]float32, error) { return nil, nil }
func (f *fakeProvider) ListModels(ctx context.Context) ([]llmcore.ModelInfo, error) {
	return nil, nil
}
func (f *fakeProvider) Probe(ctx context.Context) llmcore.ProbeResult {
	return llmcore.ProbeResult{Ok: f.chatErr == nil}
}

func noRetryPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	p.MaxAttempts = 1
	return p
}

func req() llmcore.ChatRequest {
	return llmcore.ChatRequest{Messages: []llmcore.Message{{Role: llmcore.RoleUser, Content: "hi"}}}
}

// Scenario 1 from SPEC_FULL §8: happy path, single healthy provider.
func TestDispatcher_HappyPath(t *testing.T) {
	reg := NewRegistry()
	p := &fakeProvider{name: "p1", resp: &llmcore.ChatResponse{Content: "hello"}}
	reg.Register("p1", p)

	d := New(reg, health.New(), Config{Strategy: StrategyRoundRobin, Retry: noRetryPolicy(), Breaker: breaker.DefaultConfig()})
	resp, err := d.Chat(context.Background(), req())
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, 1, p.calls)
}

// Scenario 2 from SPEC_FULL §8: primary fails, fallback succeeds.
func TestDispatcher_FallsBackOnPrimaryFailure(t *testing.T) {
	reg := NewRegistry()
	bad := &fakeProvider{name: "bad", chatErr: llmcore.NewError(llmcore.KindProviderServer, "down")}
	good := &fakeProvider{name: "good", resp: &llmcore.ChatResponse{Content: "ok"}}
	reg.Register("bad", bad)
	reg.Register("good", good)

	cfg := Config{
		Strategy:        StrategyRoundRobin,
		Retry:           noRetryPolicy(),
		Breaker:         breaker.DefaultConfig(),
		FallbackEnabled: true,
		FallbackChain:   []string{"bad", "good"},
	}
	d := New(reg, health.New(), cfg)
	resp, err := d.Chat(context.Background(), req())
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, 1, bad.calls)
	assert.Equal(t, 1, good.calls)
}

// §4.7/§9: total failure surfaces the FIRST (preferred) provider's
// error, not the last fallback's.
func TestDispatcher_TotalFailureSurfacesFirstProviderError(t *testing.T) {
	reg := NewRegistry()
	first := &fakeProvider{name: "first", chatErr: llmcore.NewError(llmcore.KindAuthentication, "bad key").WithProvider("first")}
	second := &fakeProvider{name: "second", chatErr: llmcore.NewError(llmcore.KindProviderServer, "down").WithProvider("second")}
	reg.Register("first", first)
	reg.Register("second", second)

	cfg := Config{
		Strategy:        StrategyRoundRobin,
		Retry:           noRetryPolicy(),
		Breaker:         breaker.DefaultConfig(),
		FallbackEnabled: true,
		FallbackChain:   []string{"first", "second"},
	}
	d := New(reg, health.New(), cfg)
	_, err := d.Chat(context.Background(), req())
	require.Error(t, err)
	assert.Equal(t, llmcore.KindAuthentication, llmcore.KindOf(err))
}

// Scenario 3 from SPEC_FULL §8: breaker trips after failure_threshold
// consecutive failures against one provider.
func TestDispatcher_BreakerTripsAfterThreshold(t *testing.T) {
	reg := NewRegistry()
	p := &fakeProvider{name: "p1", chatErr: llmcore.NewError(llmcore.KindProviderServer, "down")}
	reg.Register("p1", p)

	cfg := Config{
		Strategy: StrategyRoundRobin,
		Retry:    noRetryPolicy(),
		Breaker:  breaker.Config{FailureThreshold: 2, RecoveryTimeout: time.Hour},
	}
	d := New(reg, health.New(), cfg)

	_, _ = d.Chat(context.Background(), req())
	_, _ = d.Chat(context.Background(), req())
	assert.Equal(t, breaker.Open, d.BreakerState("p1"))

	callsBefore := p.calls
	_, err := d.Chat(context.Background(), req())
	require.Error(t, err)
	assert.Equal(t, llmcore.KindBreakerOpen, llmcore.KindOf(err))
	assert.Equal(t, callsBefore, p.calls, "breaker-open rejection must not reach the provider")
}

// Weighted-random-bias scenario from SPEC_FULL §8: across many trials,
// a provider with much higher weight is selected much more often.
func TestDispatcher_WeightedRandomBias(t *testing.T) {
	reg := NewRegistry()
	heavy := &fakeProvider{name: "heavy", resp: &llmcore.ChatResponse{Content: "h"}}
	light := &fakeProvider{name: "light", resp: &llmcore.ChatResponse{Content: "l"}}
	reg.Register("heavy", heavy)
	reg.Register("light", light)

	cfg := Config{
		Strategy:        StrategyWeightedRandom,
		Retry:           noRetryPolicy(),
		Breaker:         breaker.DefaultConfig(),
		FallbackEnabled: false,
		Weights:         map[string]float64{"heavy": 9, "light": 1},
	}
	d := New(reg, health.New(), cfg)

	for i := 0; i < 500; i++ {
		_, _ = d.Chat(context.Background(), req())
	}
	assert.Greater(t, heavy.calls, light.calls*3, "heavy should be picked far more often than light")
}

func TestDispatcher_HealthBasedSkipsUnhealthy(t *testing.T) {
	reg := NewRegistry()
	unhealthy := &fakeProvider{name: "unhealthy", resp: &llmcore.ChatResponse{Content: "u"}}
	healthy := &fakeProvider{name: "healthy", resp: &llmcore.ChatResponse{Content: "h"}}
	reg.Register("unhealthy", unhealthy)
	reg.Register("healthy", healthy)

	tr := health.New()
	for i := 0; i < 10; i++ {
		tr.Record("unhealthy", false, 1)
	}

	cfg := Config{Strategy: StrategyHealthBased, Retry: noRetryPolicy(), Breaker: breaker.DefaultConfig()}
	d := New(reg, tr, cfg)

	resp, err := d.Chat(context.Background(), req())
	require.NoError(t, err)
	assert.Equal(t, "h", resp.Content)
	assert.Equal(t, 0, unhealthy.calls)
}

func TestDispatcher_NoProvidersRegistered(t *testing.T) {
	d := New(NewRegistry(), health.New(), DefaultConfig())
	_, err := d.Chat(context.Background(), req())
	require.Error(t, err)
	assert.Equal(t, llmcore.KindNoHealthyProviders, llmcore.KindOf(err))
}

// §9: retries count as one logical call — a call that fails once then
// succeeds on retry must record exactly one success, not a failure
// plus a success.
func TestDispatcher_HealthRecordsOnceForRetriedCall(t *testing.T) {
	reg := NewRegistry()
	p := &fakeAttemptProvider{
		name:   "p1",
		fail:   1,
		resp:   &llmcore.ChatResponse{Content: "ok"},
	}
	reg.Register("p1", p)

	tr := health.New()
	retryPolicy := retry.DefaultPolicy()
	retryPolicy.MaxAttempts = 3
	retryPolicy.BaseDelay = time.Millisecond
	d := New(reg, tr, Config{Strategy: StrategyRoundRobin, Retry: retryPolicy, Breaker: breaker.DefaultConfig()})

	_, err := d.Chat(context.Background(), req())
	require.NoError(t, err)

	snap := tr.Get("p1")
	assert.Equal(t, int64(1), snap.SuccessCount)
	assert.Equal(t, int64(0), snap.FailureCount)
}

// §5: a per-request timeout expiry is classified as Timeout, not
// whatever kind the provider would otherwise report.
func TestDispatcher_PerRequestTimeoutClassifiesAsTimeout(t *testing.T) {
	reg := NewRegistry()
	p := &slowProvider{name: "p1"}
	reg.Register("p1", p)

	cfg := Config{
		Strategy:          StrategyRoundRobin,
		Retry:             noRetryPolicy(),
		Breaker:           breaker.DefaultConfig(),
		PerRequestTimeout: 5 * time.Millisecond,
	}
	d := New(reg, health.New(), cfg)

	_, err := d.Chat(context.Background(), req())
	require.Error(t, err)
	assert.Equal(t, llmcore.KindTimeout, llmcore.KindOf(err))
}

type fakeAttemptProvider struct {
	name  string
	fail  int
	calls int
	resp  *llmcore.ChatResponse
}

func (f *fakeAttemptProvider) Name() string               { return f.name }
func (f *fakeAttemptProvider) Kind() llmcore.ProviderKind { return "" }
func (f *fakeAttemptProvider) Chat(ctx context.Context, req llmcore.ChatRequest) (*llmcore.ChatResponse, error) {
	f.calls++
	if f.calls <= f.fail {
		return nil, llmcore.NewError(llmcore.KindProviderServer, "transient")
	}
	return f.resp, nil
}
func (f *fakeAttemptProvider) StreamChat(ctx context.Context, req llmcore.ChatRequest) (<-chan llmcore.ChatStreamChunk, error) {
	return nil, llmcore.NewError(llmcore.KindUnsupportedOp, "not implemented")
}
func (f *fakeAttemptProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, nil
}
func (f *fakeAttemptProvider) ListModels(ctx context.Context) ([]llmcore.ModelInfo, error) {
	return nil, nil
}
func (f *fakeAttemptProvider) Probe(ctx context.Context) llmcore.ProbeResult {
	return llmcore.ProbeResult{Ok: true}
}

// slowProvider blocks on ctx.Done() so a configured per-request timeout
// fires instead of a real network call, classifying the resulting
// context.DeadlineExceeded the same way the real provider handles'
// classifyTransportErr does.
type slowProvider struct {
	name string
}

func (f *slowProvider) Name() string               { return f.name }
func (f *slowProvider) Kind() llmcore.ProviderKind { return "" }
func (f *slowProvider) Chat(ctx context.Context, req llmcore.ChatRequest) (*llmcore.ChatResponse, error) {
	<-ctx.Done()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, llmcore.NewError(llmcore.KindTimeout, "request timed out").WithCause(ctx.Err())
	}
	return nil, llmcore.NewError(llmcore.KindNetwork, "request failed").WithCause(ctx.Err())
}
func (f *slowProvider) StreamChat(ctx context.Context, req llmcore.ChatRequest) (<-chan llmcore.ChatStreamChunk, error) {
	<-ctx.Done()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, llmcore.NewError(llmcore.KindTimeout, "request timed out").WithCause(ctx.Err())
	}
	return nil, llmcore.NewError(llmcore.KindNetwork, "request failed").WithCause(ctx.Err())
}
func (f *slowProvider) Embed(ctx context.Context, text string) ([]float32, error) { return nil, nil }
func (f *slowProvider) ListModels(ctx context.Context) ([]llmcore.ModelInfo, error) {
	return nil, nil
}
func (f *slowProvider) Probe(ctx context.Context) llmcore.ProbeResult {
	return llmcore.ProbeResult{Ok: true}
}

type fakeMetrics struct {
	dispatchOutcomes   []string
	breakerTransitions []string
	retryAttempts      []int
	streamChunks       int
}

func (m *fakeMetrics) RecordDispatch(provider, kind, outcome string, duration time.Duration) {
	m.dispatchOutcomes = append(m.dispatchOutcomes, provider+"/"+kind+"/"+outcome)
}
func (m *fakeMetrics) RecordBreakerTransition(provider, from, to string) {
	m.breakerTransitions = append(m.breakerTransitions, provider+"/"+from+"->"+to)
}
func (m *fakeMetrics) RecordRetryAttempts(provider string, attempts int) {
	m.retryAttempts = append(m.retryAttempts, attempts)
}
func (m *fakeMetrics) RecordStreamChunk(provider string) {
	m.streamChunks++
}

func TestDispatcher_RecordsMetricsOnChatOutcome(t *testing.T) {
	reg := NewRegistry()
	bad := &fakeProvider{name: "bad", chatErr: llmcore.NewError(llmcore.KindProviderServer, "down")}
	reg.Register("bad", bad)

	m := &fakeMetrics{}
	d := New(reg, health.New(), Config{Strategy: StrategyRoundRobin, Retry: noRetryPolicy(), Breaker: breaker.DefaultConfig()})
	d.Metrics = m

	_, err := d.Chat(context.Background(), req())
	require.Error(t, err)

	require.Len(t, m.dispatchOutcomes, 1)
	assert.Equal(t, "bad/chat/failure", m.dispatchOutcomes[0])
	require.Len(t, m.retryAttempts, 1)
	assert.Equal(t, 1, m.retryAttempts[0])
}

func TestDispatcher_RecordsBreakerTransitions(t *testing.T) {
	reg := NewRegistry()
	p := &fakeProvider{name: "p1", chatErr: llmcore.NewError(llmcore.KindProviderServer, "down")}
	reg.Register("p1", p)

	m := &fakeMetrics{}
	d := New(reg, health.New(), Config{
		Strategy: StrategyRoundRobin,
		Retry:    noRetryPolicy(),
		Breaker:  breaker.Config{FailureThreshold: 2, RecoveryTimeout: time.Hour},
	})
	d.Metrics = m

	_, _ = d.Chat(context.Background(), req())
	_, _ = d.Chat(context.Background(), req())

	require.Len(t, m.breakerTransitions, 1)
	assert.Equal(t, "p1/closed->open", m.breakerTransitions[0])
}

func TestDispatcher_StreamChat_CountsDeliveredChunks(t *testing.T) {
	reg := NewRegistry()
	p := &fakeProvider{
		name: "p1",
		streamChunks: []llmcore.ChatStreamChunk{
			{Content: "hel", HasContent: true},
			{Content: "lo", HasContent: true},
		},
	}
	reg.Register("p1", p)

	m := &fakeMetrics{}
	d := New(reg, health.New(), Config{Strategy: StrategyRoundRobin, Retry: noRetryPolicy(), Breaker: breaker.DefaultConfig()})
	d.Metrics = m

	ch, err := d.StreamChat(context.Background(), req())
	require.NoError(t, err)

	var got int
	for range ch {
		got++
	}
	assert.Equal(t, 2, got)
	assert.Equal(t, 2, m.streamChunks)
}
