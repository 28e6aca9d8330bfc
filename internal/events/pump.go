package events

import (
	"context"
	"time"
)

// Writer is a stream transport.
type Writer interface {
	Send(Event) error
	Heartbeat() error
}

// Pump copies sub's events to w, with a heartbeat every interval, until ctx
// is done, the subscription is cancelled or a write fails.
func Pump(ctx context.Context, sub *Subscription, w Writer, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.C:
			if !ok {
				return nil
			}
			if err := w.Send(ev); err != nil {
				return err
			}
		case <-ticker.C:
			if err := w.Heartbeat(); err != nil {
				return err
			}
		}
	}
}
