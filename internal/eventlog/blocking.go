package eventlog

import (
	"context"
	"time"
)

func (l *Log) appendCh() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.notifyCh
}

// WaitForAppend blocks until either a new append occurs or timeout elapses.
// It returns true if woken by an append, false on timeout.
func (l *Log) WaitForAppend(timeout time.Duration) bool {
	return l.WaitForAppendContext(context.Background(), timeout)
}

// WaitForAppendContext is WaitForAppend that also returns false when ctx ends.
func (l *Log) WaitForAppendContext(ctx context.Context, timeout time.Duration) bool {
	ch := l.appendCh()
	if timeout <= 0 {
		select {
		case <-ch:
			return true
		case <-ctx.Done():
			return false
		}
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-ch:
		return true
	case <-t.C:
		return false
	case <-ctx.Done():
		return false
	}
}
