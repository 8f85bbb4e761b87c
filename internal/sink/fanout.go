// Package sink forwards session changes to external integrations off the
// session event loop.
package sink

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-chess-session/internal/obslog"
	"github.com/park285/cheese-chess-session/internal/session"
)

// StateSink mirrors live state snapshots.
type StateSink interface {
	PublishState(ctx context.Context, st session.Status) error
}

// ResultSink records finished games.
type ResultSink interface {
	SaveResult(ctx context.Context, rec session.Record) error
}

// ResultFunc adapts a plain function to ResultSink.
type ResultFunc func(ctx context.Context, rec session.Record) error

func (f ResultFunc) SaveResult(ctx context.Context, rec session.Record) error { return f(ctx, rec) }

type named[T any] struct {
	name string
	sink T
}

type job struct {
	state  *session.Status
	record *session.Record
}

// Fanout implements session.Observer. Calls never block: jobs go to a
// bounded queue drained in order by one worker, and are dropped when full.
type Fanout struct {
	timeout time.Duration
	logger  *zap.Logger

	mu      sync.RWMutex
	states  []named[StateSink]
	results []named[ResultSink]
	closed  bool

	queue chan job
	done  chan struct{}
}

func New(buffer int, timeout time.Duration) *Fanout {
	if buffer <= 0 {
		buffer = 128
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	f := &Fanout{
		timeout: timeout,
		logger:  obslog.Named("sink"),
		queue:   make(chan job, buffer),
		done:    make(chan struct{}),
	}
	go f.worker()
	return f
}

func (f *Fanout) AddState(name string, s StateSink) {
	if s == nil {
		return
	}
	f.mu.Lock()
	f.states = append(f.states, named[StateSink]{name: name, sink: s})
	f.mu.Unlock()
}

func (f *Fanout) AddResult(name string, s ResultSink) {
	if s == nil {
		return
	}
	f.mu.Lock()
	f.results = append(f.results, named[ResultSink]{name: name, sink: s})
	f.mu.Unlock()
}

func (f *Fanout) StateChanged(st session.Status) {
	f.enqueue(job{state: &st}, "state")
}

func (f *Fanout) GameFinished(rec session.Record) {
	f.enqueue(job{record: &rec}, "result")
}

func (f *Fanout) enqueue(j job, kind string) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return
	}
	select {
	case f.queue <- j:
	default:
		if j.record != nil {
			f.logger.Error("sink_queue_full", zap.String("kind", kind), zap.String("game_id", j.record.GameID))
			return
		}
		f.logger.Warn("sink_queue_full", zap.String("kind", kind))
	}
}

func (f *Fanout) worker() {
	defer close(f.done)
	for j := range f.queue {
		f.mu.RLock()
		states, results := f.states, f.results
		f.mu.RUnlock()

		if j.state != nil {
			for _, s := range states {
				f.call(s.name, func(ctx context.Context) error { return s.sink.PublishState(ctx, *j.state) })
			}
		}
		if j.record != nil {
			for _, s := range results {
				f.call(s.name, func(ctx context.Context) error { return s.sink.SaveResult(ctx, *j.record) })
			}
		}
	}
}

func (f *Fanout) call(name string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		f.logger.Warn("sink_failed", zap.String("sink", name), zap.Error(err))
	}
}

// Close stops accepting jobs and waits for queued ones to finish.
func (f *Fanout) Close(ctx context.Context) error {
	f.mu.Lock()
	if !f.closed {
		f.closed = true
		close(f.queue)
	}
	f.mu.Unlock()
	select {
	case <-f.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
