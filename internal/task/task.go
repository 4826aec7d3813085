package task

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Ning0612/Sftpmirror/internal/logger"
)

// Kind tags an Event
type Kind int

const (
	// KindProgress carries a human readable status line
	KindProgress Kind = iota
	// KindSuccess is the terminal event of a successful task
	KindSuccess
	// KindFailure is the terminal event of a failed task
	KindFailure
)

func (k Kind) String() string {
	switch k {
	case KindProgress:
		return "progress"
	case KindSuccess:
		return "success"
	case KindFailure:
		return "failure"
	}
	return "unknown"
}

// Event is one message of a task stream.
// Progress events set Message; Success sets Result; Failure sets Err.
type Event struct {
	Kind    Kind
	Message string
	Result  any
	Err     error
	Time    time.Time
}

// Terminal reports whether the event ends the stream
func (e Event) Terminal() bool {
	return e.Kind == KindSuccess || e.Kind == KindFailure
}

// ErrStreamDrained is returned by Next after the terminal event was consumed
var ErrStreamDrained = errors.New("task stream drained")

// Stream is an unbounded, ordered event queue with exactly one terminal
// event. Publishing never blocks. A stream has a single consumer.
type Stream struct {
	ID   string
	Name string

	mu       sync.Mutex
	queue    []Event
	terminal bool
	drained  bool
	signal   chan struct{}
	done     chan struct{}
}

func newStream(name string) *Stream {
	return &Stream{
		ID:     uuid.NewString(),
		Name:   name,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (s *Stream) publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	s.mu.Lock()
	if s.terminal {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, ev)
	if ev.Terminal() {
		s.terminal = true
		close(s.done)
	}
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// Done is closed once the terminal event has been published
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// TryNext pops the oldest pending event without blocking
func (s *Stream) TryNext() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return Event{}, false
	}
	ev := s.queue[0]
	s.queue[0] = Event{}
	s.queue = s.queue[1:]
	if ev.Terminal() {
		s.drained = true
	}
	return ev, true
}

// Next blocks until an event is available or ctx is done
func (s *Stream) Next(ctx context.Context) (Event, error) {
	for {
		if ev, ok := s.TryNext(); ok {
			return ev, nil
		}
		s.mu.Lock()
		drained := s.drained
		s.mu.Unlock()
		if drained {
			return Event{}, ErrStreamDrained
		}

		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-s.signal:
		}
	}
}

// Wait consumes the stream, passing progress lines to onProgress,
// and returns the terminal result or error.
func (s *Stream) Wait(ctx context.Context, onProgress func(string)) (any, error) {
	for {
		ev, err := s.Next(ctx)
		if err != nil {
			return nil, err
		}
		switch ev.Kind {
		case KindProgress:
			if onProgress != nil {
				onProgress(ev.Message)
			}
		case KindSuccess:
			return ev.Result, nil
		case KindFailure:
			return nil, ev.Err
		}
	}
}

// Result waits for a stream and asserts its result type
func Result[T any](ctx context.Context, s *Stream, onProgress func(string)) (T, error) {
	var zero T
	v, err := s.Wait(ctx, onProgress)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("task %s: unexpected result type %T", s.Name, v)
	}
	return t, nil
}

// Emitter is handed to a running task to publish progress
type Emitter struct {
	stream *Stream
	log    logger.Logger
}

// Progress publishes a status line
func (e *Emitter) Progress(msg string) {
	e.stream.publish(Event{Kind: KindProgress, Message: msg})
}

// Progressf publishes a formatted status line
func (e *Emitter) Progressf(format string, args ...any) {
	e.Progress(fmt.Sprintf(format, args...))
}

// Warn publishes a non-fatal failure as a "Warning: " line and logs it
func (e *Emitter) Warn(err error) {
	e.log.Warn("Task warning", "error", err)
	e.Progress("Warning: " + err.Error())
}

// Notify returns Progress as a plain function for lower layers
func (e *Emitter) Notify() func(string) {
	return e.Progress
}

// Logger returns the task's logger
func (e *Emitter) Logger() logger.Logger {
	return e.log
}

// Func is the body of a task. The returned value becomes the Success
// result; a non-nil error becomes the Failure.
type Func func(ctx context.Context, emit *Emitter) (any, error)

// Run starts fn in its own goroutine. Panics are converted to a Failure.
func Run(ctx context.Context, name string, fn Func) *Stream {
	s := newStream(name)
	log := logger.ForTask(name, s.ID)
	emit := &Emitter{stream: s, log: log}

	go func() {
		start := time.Now()
		defer func() {
			if r := recover(); r != nil {
				err := fmt.Errorf("task %s panicked: %v", name, r)
				log.Error("Task panicked", "panic", r, "stack", string(debug.Stack()))
				s.publish(Event{Kind: KindFailure, Err: err})
			}
		}()

		log.Info("Task started")
		result, err := fn(ctx, emit)
		if err != nil {
			log.Error("Task failed", "error", err, "duration", time.Since(start))
			s.publish(Event{Kind: KindFailure, Err: err})
			return
		}
		log.Info("Task finished", "duration", time.Since(start))
		s.publish(Event{Kind: KindSuccess, Result: result})
	}()

	return s
}
