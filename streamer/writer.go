package streamer

import (
	"context"
	"fmt"

	"github.com/NotVinay/tastystream/dxfeed"
)

type writeRequest struct {
	msgs []dxfeed.Message
	done chan error
}

// writer is the only goroutine writing to a connection once it is ready.
// Subscription changes and keep-alives are queued to it.
type writer struct {
	c       *conn
	queue   chan writeRequest
	stopped chan struct{}
}

func newWriter(c *conn) *writer {
	return &writer{
		c:       c,
		queue:   make(chan writeRequest),
		stopped: make(chan struct{}),
	}
}

// run writes queued frames until ctx is done or a write fails.
func (w *writer) run(ctx context.Context) error {
	defer close(w.stopped)
	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-w.queue:
			err := w.c.write(req.msgs...)
			req.done <- err
			if err != nil {
				return fmt.Errorf("%w: writing frame: %v", ErrTransportFault, err)
			}
		}
	}
}

// send queues msgs as one frame and waits until it has been written.
func (w *writer) send(ctx context.Context, msgs ...dxfeed.Message) error {
	req := writeRequest{msgs: msgs, done: make(chan error, 1)}
	select {
	case w.queue <- req:
	case <-w.stopped:
		return ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
