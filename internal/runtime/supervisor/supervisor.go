// Package supervisor manages named goroutines tied to a shared context,
// with panic recovery and timeout-aware graceful stop.
package supervisor

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"zepixnotify/pkg/logx"
)

type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	log logx.Logger
	wg  sync.WaitGroup

	// Counters are best-effort operational metrics.
	started uint64
	active  int64

	doneOnce sync.Once
	doneCh   chan struct{}
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

func New(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{
		ctx:    ctx,
		cancel: cancel,
		log:    logx.Nop(),
		doneCh: make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Go starts fn under the supervisor's context. Panics are recovered and
// logged; they never take down the process.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	atomic.AddUint64(&s.started, 1)
	atomic.AddInt64(&s.active, 1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer atomic.AddInt64(&s.active, -1)
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("panic in supervised goroutine",
					logx.String("goroutine", name),
					logx.Any("panic", r),
					logx.String("stack", string(debug.Stack())))
			}
		}()
		if err := fn(s.ctx); err != nil && s.ctx.Err() == nil {
			s.log.Warn("supervised goroutine exited with error",
				logx.String("goroutine", name), logx.Err(err))
		}
	}()
}

// Stop cancels the shared context and waits for all goroutines, bounded by
// ctx's deadline. Returns false if the wait timed out.
func (s *Supervisor) Stop(ctx context.Context) bool {
	s.cancel()
	s.doneOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.doneCh)
		}()
	})
	select {
	case <-s.doneCh:
		return true
	case <-ctx.Done():
		return false
	}
}

// Active returns the number of goroutines currently running.
func (s *Supervisor) Active() int64 { return atomic.LoadInt64(&s.active) }
