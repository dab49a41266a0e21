package network

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// CheckFunc reports whether the backend is reachable.
type CheckFunc func(ctx context.Context) bool

// HTTPCheck returns a CheckFunc that issues GET url. Any HTTP response,
// whatever its status, counts as reachable.
func HTTPCheck(client *http.Client, url string) CheckFunc {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context) bool {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return false
		}
		resp, err := client.Do(req)
		if err != nil {
			return false
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		return true
	}
}

// ProberOptions tunes the probe schedule. Zero fields take defaults.
type ProberOptions struct {
	// Interval between probes while online.
	Interval time.Duration
	// Timeout for a single probe.
	Timeout time.Duration
	// InitialBackoff and MaxBackoff bound the re-probe schedule while offline.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (o *ProberOptions) defaults() {
	if o.Interval <= 0 {
		o.Interval = 15 * time.Second
	}
	if o.Timeout <= 0 {
		o.Timeout = 3 * time.Second
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = time.Second
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = time.Minute
	}
}

// Prober feeds a Monitor from periodic reachability checks. It only calls
// Monitor.Set when the observed state differs from the monitor's.
type Prober struct {
	monitor *Monitor
	check   CheckFunc
	opts    ProberOptions
	logger  *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewProber creates a prober for m.
func NewProber(m *Monitor, check CheckFunc, opts ProberOptions, logger *zap.Logger) *Prober {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts.defaults()
	return &Prober{
		monitor: m,
		check:   check,
		opts:    opts,
		logger:  logger.Named("prober"),
	}
}

// ProbeOnce runs a single check and reports the result to the monitor if it
// is a transition.
func (p *Prober) ProbeOnce(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	online := p.check(probeCtx)
	if ctx.Err() != nil {
		// Shutting down; a failed check says nothing about the backend.
		return p.monitor.IsOnline()
	}
	if online != p.monitor.IsOnline() {
		p.monitor.Set(online)
	}
	return online
}

// Start launches the probe loop. Calling Start on a running prober is a no-op.
func (p *Prober) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	go p.loop(ctx, p.done)
}

// Stop ends the probe loop and waits for it to exit.
func (p *Prober) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (p *Prober) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.opts.InitialBackoff
	b.MaxInterval = p.opts.MaxBackoff
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func (p *Prober) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	b := p.newBackOff()
	for {
		var wait time.Duration
		if p.ProbeOnce(ctx) {
			b.Reset()
			wait = p.opts.Interval
		} else {
			wait = b.NextBackOff()
			p.logger.Debug("backend unreachable", zap.Duration("retry_in", wait))
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}
