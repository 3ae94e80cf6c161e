package dispatch

import (
	"context"
	"time"
)

// Prober runs a periodic background probe of every registered provider,
// feeding results into the dispatcher's health tracker, per §4.8.
//
// Grounded on llm/router.go's startProviderHealthChecks/probeProviders
// ticker+context.CancelFunc pattern.
type Prober struct {
	dispatcher *Dispatcher
	interval   time.Duration
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewProber builds a Prober over d, probing every interval (falling
// back to d's configured ProbeInterval if interval is zero).
func NewProber(d *Dispatcher, interval time.Duration) *Prober {
	if interval <= 0 {
		interval = d.cfg.ProbeInterval
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Prober{dispatcher: d, interval: interval}
}

// Start launches the background probing loop. It returns immediately;
// call Stop to cancel it. Start is not safe to call twice on the same
// Prober without an intervening Stop.
func (p *Prober) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.probeOnce(ctx)
			}
		}
	}()
}

// probeOnce probes every registered provider with a hard per-probe
// timeout of 30s, so one slow/hanging provider can't stall the whole
// cycle.
func (p *Prober) probeOnce(ctx context.Context) {
	for _, name := range p.dispatcher.registry.Names() {
		provider, ok := p.dispatcher.registry.Get(name)
		if !ok {
			continue
		}
		probeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		result := provider.Probe(probeCtx)
		cancel()
		p.dispatcher.health.Record(name, result.Ok, result.LatencyMS)
	}
}

// Stop cancels the probing loop and waits for the in-flight probe cycle
// (if any) to finish.
func (p *Prober) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
}
