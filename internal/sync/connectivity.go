package sync

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

type (
	// Prober answers the question "can we reach the backend right now".
	Prober interface {
		Online(ctx context.Context) bool
	}

	// HTTPProber probes the backend's health endpoint.
	HTTPProber struct {
		url   string
		httpc *http.Client
	}

	// Monitor polls a Prober and reports connectivity transitions to a
	// handler. It is the engine's stand-in for a platform connectivity API.
	Monitor struct {
		prober   Prober
		interval time.Duration
		onChange func(online bool)
		logger   *slog.Logger

		stopCh chan struct{}
		doneCh chan struct{}
	}
)

func NewHTTPProber(healthURL string) *HTTPProber {
	return &HTTPProber{
		url:   healthURL,
		httpc: &http.Client{Timeout: 5 * time.Second},
	}
}

func (p *HTTPProber) Online(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return false
	}
	resp, err := p.httpc.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func NewMonitor(prober Prober, interval time.Duration, onChange func(online bool), logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Monitor{
		prober:   prober,
		interval: interval,
		onChange: onChange,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start probes immediately, reports the initial state, then keeps watching
// for transitions until Stop is called or the context ends.
func (m *Monitor) Start(ctx context.Context) {
	go m.watch(ctx)
}

func (m *Monitor) Stop() {
	close(m.stopCh)
	<-m.doneCh
}

func (m *Monitor) watch(ctx context.Context) {
	defer close(m.doneCh)

	last := m.prober.Online(ctx)
	m.onChange(last)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			online := m.prober.Online(ctx)
			if online != last {
				m.logger.Info("connectivity transition", "online", online)
				last = online
				m.onChange(online)
			}
		}
	}
}
