package bus

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"go.uber.org/zap"
)

// DefaultWorkers is the pool size used when New is given a non-positive
// worker count. It must stay larger than the deepest nested dispatch chain
// (currently 2: coordinator -> both tiers).
const DefaultWorkers = 20

var (
	// ErrHandlerRegistered is returned when a second handler is registered
	// for the same (recipient, request type) pair.
	ErrHandlerRegistered = errors.New("bus: handler already registered")

	// ErrHandlerNotFound is returned by Dispatch when no handler exists for
	// the (recipient, request type) pair.
	ErrHandlerNotFound = errors.New("bus: handler not found")

	// ErrShuttingDown is returned by Dispatch after Close has been called.
	ErrShuttingDown = errors.New("bus: shutting down")
)

// Recipient identifies a registered component on the bus.
type Recipient int

const (
	Coordinator Recipient = iota + 1
	MemoryTier
	DiskTier
	FrontEnd
)

// String returns the recipient name used in errors and logs.
func (r Recipient) String() string {
	switch r {
	case Coordinator:
		return "coordinator"
	case MemoryTier:
		return "memtier"
	case DiskTier:
		return "disktier"
	case FrontEnd:
		return "frontend"
	default:
		return fmt.Sprintf("recipient(%d)", int(r))
	}
}

// handlerKey indexes the handler table.
type handlerKey struct {
	recipient Recipient
	request   reflect.Type
}

// handlerFunc is the type-erased form a registered handler is stored as.
// Register wraps the typed handler; Dispatch guarantees the argument's
// concrete type matches the key the handler was stored under.
type handlerFunc func(req any) (any, error)

// job is one queued handler invocation. complete resolves the caller's
// future with the handler's result or error.
type job struct {
	fn       handlerFunc
	req      any
	complete func(result any, err error)
}

// Bus dispatches requests to registered handlers through a fixed worker
// pool. All methods are safe for concurrent use.
type Bus struct {
	mu       sync.RWMutex               // Protects handlers
	handlers map[handlerKey]handlerFunc // (recipient, request type) -> handler

	queueMu sync.Mutex // Protects queue and closed
	ready   *sync.Cond // Signaled when work arrives or Close is called
	queue   []*job     // Pending handler invocations, FIFO
	closed  bool       // Set by Close; rejects new dispatches

	workers sync.WaitGroup // Tracks worker goroutines for drain
	log     *zap.Logger
}

// New creates a Bus and starts its worker pool. A non-positive workers
// count selects DefaultWorkers.
func New(workers int, log *zap.Logger) *Bus {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if log == nil {
		log = zap.NewNop()
	}

	b := &Bus{
		handlers: make(map[handlerKey]handlerFunc),
		log:      log.Named("bus"),
	}
	b.ready = sync.NewCond(&b.queueMu)

	b.workers.Add(workers)
	for i := 0; i < workers; i++ {
		go b.worker()
	}
	b.log.Info("worker pool started", zap.Int("workers", workers))
	return b
}

// Register installs fn as the handler for requests of type Req addressed to
// the given recipient. It fails with ErrHandlerRegistered if a handler for
// the pair already exists.
func Register[Req any, Resp any](b *Bus, to Recipient, fn func(Req) (Resp, error)) error {
	key := handlerKey{recipient: to, request: reflect.TypeOf((*Req)(nil)).Elem()}

	wrapped := func(req any) (any, error) {
		typed, ok := req.(Req)
		if !ok {
			return nil, fmt.Errorf("bus: %s handler for %s received %T", to, key.request, req)
		}
		return fn(typed)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.handlers[key]; exists {
		return fmt.Errorf("%w: %s/%s", ErrHandlerRegistered, to, key.request)
	}
	b.handlers[key] = wrapped
	return nil
}

// Unregister removes the handler for requests of type Req addressed to the
// given recipient. It reports whether a handler was removed.
func Unregister[Req any](b *Bus, to Recipient) bool {
	key := handlerKey{recipient: to, request: reflect.TypeOf((*Req)(nil)).Elem()}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.handlers[key]; !exists {
		return false
	}
	delete(b.handlers, key)
	return true
}

// Dispatch enqueues req for the recipient's handler and returns a future for
// the response. The handler lookup happens under the read lock only; the
// handler itself runs later on a pool worker, so a handler is free to
// dispatch nested requests on the same bus.
func Dispatch[Resp any](b *Bus, to Recipient, req any) (*Future[Resp], error) {
	b.mu.RLock()
	fn, ok := b.handlers[handlerKey{recipient: to, request: reflect.TypeOf(req)}]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s/%T", ErrHandlerNotFound, to, req)
	}

	f := newFuture[Resp]()
	if err := b.enqueue(&job{fn: fn, req: req, complete: f.complete}); err != nil {
		return nil, err
	}
	return f, nil
}

// enqueue appends a job to the work queue, failing once the bus is closed.
func (b *Bus) enqueue(j *job) error {
	b.queueMu.Lock()
	defer b.queueMu.Unlock()
	if b.closed {
		return ErrShuttingDown
	}
	b.queue = append(b.queue, j)
	b.ready.Signal()
	return nil
}

// worker pulls jobs until the queue is empty and the bus is closed. Workers
// keep draining after Close so no accepted request is dropped.
func (b *Bus) worker() {
	defer b.workers.Done()
	for {
		b.queueMu.Lock()
		for len(b.queue) == 0 && !b.closed {
			b.ready.Wait()
		}
		if len(b.queue) == 0 {
			b.queueMu.Unlock()
			return
		}
		j := b.queue[0]
		b.queue = b.queue[1:]
		b.queueMu.Unlock()

		b.run(j)
	}
}

// run invokes a job's handler and resolves its future. A panic inside the
// handler surfaces as an error on the future instead of killing the worker.
func (b *Bus) run(j *job) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("handler panicked", zap.Any("panic", r))
			j.complete(nil, fmt.Errorf("bus: handler panic: %v", r))
		}
	}()
	j.complete(j.fn(j.req))
}

// Close stops the bus: new dispatches fail with ErrShuttingDown, queued and
// in-flight requests run to completion, and Close returns once every worker
// has exited.
func (b *Bus) Close() {
	b.queueMu.Lock()
	if b.closed {
		b.queueMu.Unlock()
		return
	}
	b.closed = true
	b.ready.Broadcast()
	b.queueMu.Unlock()

	b.workers.Wait()
	b.log.Info("worker pool drained")
}
