package answersync

import (
	"context"
	"log/slog"
	"time"
)

// Poller runs fn immediately and then every interval until ctx is done. Errors are
// logged and the loop keeps going.
type Poller struct {
	interval time.Duration
	fn       func(ctx context.Context) error
	log      *slog.Logger
}

func NewPoller(interval time.Duration, fn func(ctx context.Context) error, log *slog.Logger) *Poller {
	if log == nil {
		log = slog.Default()
	}
	return &Poller{interval: interval, fn: fn, log: log}
}

func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		if err := p.fn(ctx); err != nil && ctx.Err() == nil {
			p.log.Warn("poll failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// StatePoller polls the attempt state and hands each result to onState.
func StatePoller(api API, attemptID string, interval time.Duration, onState func(AttemptState), log *slog.Logger) *Poller {
	return NewPoller(interval, func(ctx context.Context) error {
		st, err := api.State(ctx, attemptID)
		if err != nil {
			return err
		}
		onState(st)
		return nil
	}, log)
}
