package chat

import "sync"

// CancelToken signals cooperative cancellation of an in-flight chat
// request. Cancel is safe to call from any goroutine and is idempotent.
type CancelToken struct {
	once sync.Once
	done chan struct{}
}

func NewCancelToken() *CancelToken {
	return &CancelToken{done: make(chan struct{})}
}

func (c *CancelToken) Cancel() {
	c.once.Do(func() { close(c.done) })
}

func (c *CancelToken) Requested() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Done returns a channel closed when cancellation is requested.
func (c *CancelToken) Done() <-chan struct{} {
	return c.done
}
