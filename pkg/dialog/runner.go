package dialog

import (
	"context"
	"time"
)

// Run is the event loop for a single call. It handles turns one at a time
// and sends one reply per turn. The loop ends after a reply that ends the
// call, when turns is closed, when ctx is cancelled, or after idle passes
// without a turn (ErrIdleTimeout). An idle value of zero disables the
// timeout. Any flow still active on exit is abandoned without persisting.
func (d *Dispatcher) Run(ctx context.Context, s *Session, turns <-chan Turn, replies chan<- Reply, idle time.Duration) error {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		if idle > 0 {
			if timer == nil {
				timer = time.NewTimer(idle)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(idle)
			}
		}

		var timeoutCh <-chan time.Time
		if timer != nil {
			timeoutCh = timer.C
		}

		select {
		case <-ctx.Done():
			d.Abandon(context.WithoutCancel(ctx), s, "cancelled")
			return ctx.Err()

		case t, ok := <-turns:
			if !ok {
				d.Abandon(ctx, s, "hangup")
				return nil
			}
			reply := d.Handle(ctx, s, t)
			select {
			case replies <- reply:
			case <-ctx.Done():
				d.Abandon(context.WithoutCancel(ctx), s, "cancelled")
				return ctx.Err()
			}
			if reply.Ended {
				return nil
			}

		case <-timeoutCh:
			reply := d.Timeout(ctx, s)
			select {
			case replies <- reply:
			default:
			}
			return ErrIdleTimeout
		}
	}
}
