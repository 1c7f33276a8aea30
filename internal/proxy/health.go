package proxy

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

// CheckHealth probes the health target through endpoint id and scores the
// result. Network errors count as an unhealthy result and never propagate.
func (p *Pool) CheckHealth(ctx context.Context, id string) bool {
	ep, ok := p.Get(id)
	if !ok {
		return false
	}

	proxyURL, err := url.Parse(URL(ep))
	if err != nil {
		p.apply(ctx, id, false, healthFailureDelta, nil, false)
		return false
	}

	transport := &http.Transport{Proxy: http.ProxyURL(proxyURL)}
	defer transport.CloseIdleConnections()
	client := &http.Client{
		Timeout:   p.opts.CheckTimeout,
		Transport: transport,
		// 301/302 from the target count as healthy; don't follow them.
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.opts.HealthTarget, nil)
	if err != nil {
		p.apply(ctx, id, false, healthFailureDelta, nil, false)
		return false
	}

	start := time.Now()
	resp, err := client.Do(req)
	latency := time.Since(start).Milliseconds()
	if err != nil && ctx.Err() != nil {
		// Shutting down; not the endpoint's fault.
		return false
	}

	healthy := false
	if err == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		resp.Body.Close()
		switch resp.StatusCode {
		case http.StatusOK, http.StatusMovedPermanently, http.StatusFound:
			healthy = true
		}
	}

	if healthy {
		p.apply(ctx, id, true, healthSuccessDelta, &latency, false)
	} else {
		entry := p.log.WithField("proxy", Redacted(ep))
		if err != nil {
			entry = entry.WithError(err)
		} else {
			entry = entry.WithField("status", resp.StatusCode)
		}
		entry.Debug("[ProxyPool] Health check failed")
		p.apply(ctx, id, false, healthFailureDelta, nil, false)
	}
	return healthy
}

// CheckAll probes every endpoint sequentially, spacing checks by the
// configured delay. It returns the number of healthy endpoints.
func (p *Pool) CheckAll(ctx context.Context) int {
	limit := rate.Inf
	if p.opts.CheckDelay > 0 {
		limit = rate.Every(p.opts.CheckDelay)
	}
	limiter := rate.NewLimiter(limit, 1)

	healthy := 0
	for _, ep := range p.List() {
		if err := limiter.Wait(ctx); err != nil {
			return healthy
		}
		if p.CheckHealth(ctx, ep.ID) {
			healthy++
		}
	}
	return healthy
}

// CheckAsync runs one health check in the background, tracked by Stop.
func (p *Pool) CheckAsync(ctx context.Context, id string) {
	p.checkWG.Add(1)
	go func() {
		defer p.checkWG.Done()
		p.CheckHealth(context.WithoutCancel(ctx), id)
	}()
}

// Start runs the periodic health loop until Stop or ctx cancellation.
// An initial pass runs immediately.
func (p *Pool) Start(ctx context.Context) {
	p.lifeMu.Lock()
	defer p.lifeMu.Unlock()
	if p.cancel != nil {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.loopWG.Add(1)
	go p.healthLoop(loopCtx)
	p.log.Infof("[ProxyPool] Health loop started (every %v)", p.opts.HealthInterval)
}

// Stop ends the health loop and waits for in-flight checks.
func (p *Pool) Stop() {
	p.lifeMu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.lifeMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	p.loopWG.Wait()
	p.checkWG.Wait()
	p.log.Info("[ProxyPool] Health loop stopped")
}

func (p *Pool) healthLoop(ctx context.Context) {
	defer p.loopWG.Done()

	ticker := time.NewTicker(p.opts.HealthInterval)
	defer ticker.Stop()

	for {
		healthy := p.CheckAll(ctx)
		if ctx.Err() != nil {
			return
		}
		p.log.Debugf("[ProxyPool] Health pass: %d/%d healthy", healthy, len(p.List()))

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
