package iteration

import (
	"context"
	"time"
)

// scheduleOnce runs fn once after delay, unless ctx is cancelled first.
// Grounded on the reconciler work queue's AddAfter: a time.AfterFunc timer
// guarded by a stop signal, sized down from a general delayed queue (FIFO
// plus dedup maps) to the one thing the Iteration Engine actually needs -
// a single cancellable delayed retry of session creation, not a shared
// work queue with multiple producers.
func scheduleOnce(ctx context.Context, delay time.Duration, fn func()) {
	timer := time.AfterFunc(delay, func() {
		select {
		case <-ctx.Done():
		default:
			fn()
		}
	})
	go func() {
		<-ctx.Done()
		timer.Stop()
	}()
}
