package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Config controls dispatcher buffering behavior.
//
// Rejection events can arrive at request rate during an abuse spike, so DropIfFull
// sheds them once the buffer fills. Event types listed in Priority are outage
// alerts: they wait up to PriorityWait for buffer space even when DropIfFull is set.
type Config struct {
	Enabled      bool
	BufferSize   int
	DropIfFull   bool
	Priority     []string
	PriorityWait time.Duration
}

// Dispatcher asynchronously forwards audit events to a sink.
type Dispatcher struct {
	cfg      Config
	priority map[string]struct{}
	sink     Sink
	queue    chan Event
	closing  chan struct{}
	done     chan struct{}
	wg       sync.WaitGroup

	// mu is held shared by every in-flight Emit; Close takes it exclusively so no
	// send can race the shutdown flush.
	mu     sync.RWMutex
	closed bool

	dropped   atomic.Uint64
	droppedMu sync.Mutex
	byType    map[string]uint64

	closeOnce sync.Once
}

// NewDispatcher starts the delivery goroutine. It returns nil when cfg is disabled;
// a nil *Dispatcher accepts and ignores every call.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if cfg.PriorityWait <= 0 {
		cfg.PriorityWait = 100 * time.Millisecond
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		cfg:      cfg,
		priority: make(map[string]struct{}, len(cfg.Priority)),
		sink:     sink,
		queue:    make(chan Event, cfg.BufferSize),
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
		byType:   make(map[string]uint64),
	}
	for _, t := range cfg.Priority {
		d.priority[t] = struct{}{}
	}

	d.wg.Add(1)
	go d.deliver()

	return d
}

func (d *Dispatcher) deliver() {
	defer d.wg.Done()

	for {
		select {
		case event := <-d.queue:
			d.sink.Emit(context.Background(), event)
		case <-d.done:
			// Flush what is already buffered; Emit stops enqueueing once closed.
			for {
				select {
				case event := <-d.queue:
					d.sink.Emit(context.Background(), event)
				default:
					return
				}
			}
		}
	}
}

// Emit enqueues event. Shed events, including those emitted during or after Close,
// are counted, never reported to the caller.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil {
		return
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.drop(event.EventType)
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	_, urgent := d.priority[event.EventType]
	if d.cfg.DropIfFull && !urgent {
		select {
		case d.queue <- event:
		default:
			d.drop(event.EventType)
		}
		return
	}

	var timeout <-chan time.Time
	if d.cfg.DropIfFull {
		timer := time.NewTimer(d.cfg.PriorityWait)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case d.queue <- event:
	case <-timeout:
		d.drop(event.EventType)
	case <-ctx.Done():
		d.drop(event.EventType)
	case <-d.closing:
		d.drop(event.EventType)
	}
}

func (d *Dispatcher) drop(eventType string) {
	d.dropped.Add(1)
	d.droppedMu.Lock()
	d.byType[eventType]++
	d.droppedMu.Unlock()
}

// Close stops accepting events and blocks until the buffer is flushed.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		close(d.closing)
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()
		close(d.done)
		d.wg.Wait()
	})
}

// Dropped returns the total number of shed events.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// DroppedByType returns a copy of the shed counts keyed by event type.
func (d *Dispatcher) DroppedByType() map[string]uint64 {
	out := make(map[string]uint64)
	if d == nil {
		return out
	}
	d.droppedMu.Lock()
	defer d.droppedMu.Unlock()
	for k, v := range d.byType {
		out[k] = v
	}
	return out
}
