package worker

import (
	"context"
	"sync"
	"time"

	"github.com/mbeoliero/annotator/infra/config"
	"github.com/mbeoliero/annotator/internal/queue"
	"github.com/mbeoliero/annotator/pkg/log"
)

// Receiver is the queue surface a worker loop consumes.
type Receiver interface {
	Receive(ctx context.Context, max int, wait time.Duration) ([]queue.Message, error)
	Ack(ctx context.Context, m queue.Message) error
}

// Handler processes one delivery. Returning an error leaves the message
// unacked so it is redelivered after the visibility timeout; returning nil
// acks it. Handlers must therefore be idempotent.
type Handler func(ctx context.Context, m queue.Message) error

// Loop is a blocking poll loop over one queue: receive, handle, ack. A
// failing message never crashes the loop; it is logged and left for
// redelivery. Multiple Loops (or instances) may consume the same queue.
type Loop struct {
	name     string
	q        Receiver
	handle   Handler
	max      int
	wait     time.Duration
	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewLoop(name string, q Receiver, cfg config.QueueConfig, handle Handler) *Loop {
	return &Loop{
		name:   name,
		q:      q,
		handle: handle,
		max:    cfg.MaxMessages,
		wait:   cfg.WaitTime,
		stopCh: make(chan struct{}),
	}
}

func (l *Loop) Start(ctx context.Context) {
	l.wg.Add(1)
	go l.run(ctx)
}

func (l *Loop) run(ctx context.Context) {
	defer l.wg.Done()
	log.CtxInfo(ctx, "worker started, name: %s", l.name)

	for {
		select {
		case <-l.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := l.q.Receive(ctx, l.max, l.wait)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.CtxError(ctx, "receive failed, worker: %s, err: %v", l.name, err)
			time.Sleep(time.Second)
			continue
		}

		for _, m := range msgs {
			l.process(ctx, m)
		}
	}
}

func (l *Loop) process(ctx context.Context, m queue.Message) {
	defer func() {
		if r := recover(); r != nil {
			log.CtxError(ctx, "handler panic, worker: %s, messageId: %s, err: %v", l.name, m.Id, r)
		}
	}()

	if err := l.handle(ctx, m); err != nil {
		// Left unacked: the message comes back after the visibility timeout.
		log.CtxError(ctx, "handle failed, worker: %s, messageId: %s, err: %v", l.name, m.Id, err)
		return
	}

	if err := l.q.Ack(ctx, m); err != nil {
		log.CtxError(ctx, "ack failed, worker: %s, messageId: %s, err: %v", l.name, m.Id, err)
	}
}

// Stop ends the loop and waits for the in-flight iteration, bounded by the
// context deadline if one is set.
func (l *Loop) Stop(ctx context.Context) {
	l.stopOnce.Do(func() {
		close(l.stopCh)
	})

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	if _, ok := ctx.Deadline(); ok {
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	<-done
}
