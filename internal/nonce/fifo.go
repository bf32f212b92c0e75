package nonce

import (
	"context"
	"sync"
)

// fifoLock is a mutex that grants ownership in strict arrival order.
// sync.Mutex makes no fairness guarantee under contention, which would
// let a late acquirer overtake an earlier one and issue sequence numbers
// out of submission order. Waiters park on per-caller channels held in
// an explicit queue, so wakeup order is exactly enqueue order.
type fifoLock struct {
	mu      sync.Mutex
	locked  bool
	waiters []chan struct{}
}

// lock acquires the lock, respecting context cancellation while queued.
func (l *fifoLock) lock(ctx context.Context) error {
	l.mu.Lock()
	if !l.locked {
		l.locked = true
		l.mu.Unlock()
		return nil
	}

	ch := make(chan struct{})
	l.waiters = append(l.waiters, ch)
	l.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		for i, w := range l.waiters {
			if w == ch {
				l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
				l.mu.Unlock()
				return ctx.Err()
			}
		}
		l.mu.Unlock()
		// Grant raced with cancellation: we own the lock, hand it on.
		l.unlock()
		return ctx.Err()
	}
}

// unlock passes the lock to the oldest waiter, or marks it free.
func (l *fifoLock) unlock() {
	l.mu.Lock()
	if len(l.waiters) > 0 {
		ch := l.waiters[0]
		l.waiters = l.waiters[1:]
		l.mu.Unlock()
		close(ch)
		return
	}
	l.locked = false
	l.mu.Unlock()
}
