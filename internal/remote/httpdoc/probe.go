package httpdoc

import (
	"context"
	"log/slog"
	"time"
)

// Probe polls a server's health endpoint and reports reachability.
type Probe struct {
	client   *Client
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
}

// NewProbe creates a probe checking client's server every interval.
func NewProbe(client *Client, interval time.Duration) *Probe {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	timeout := 5 * time.Second
	if interval < timeout {
		timeout = interval
	}
	return &Probe{client: client, interval: interval, timeout: timeout, logger: client.logger}
}

// Check reports whether the server answers its health check.
func (p *Probe) Check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.client.Health(ctx); err != nil {
		p.logger.Debug("health check failed", "error", err)
		return false
	}
	return true
}

// Run checks immediately and then every interval, sending the result on the
// returned channel whenever it differs from the previous one. The channel
// is closed when ctx is done.
func (p *Probe) Run(ctx context.Context) <-chan bool {
	out := make(chan bool)
	go func() {
		defer close(out)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		first := true
		var last bool
		for {
			online := p.Check(ctx)
			if first || online != last {
				select {
				case out <- online:
				case <-ctx.Done():
					return
				}
				first, last = false, online
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
