package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/sony/gobreaker"

	"github.com/g960059/osrelay/internal/clock"
	"github.com/g960059/osrelay/internal/metrics"
	"github.com/g960059/osrelay/internal/model"
	"github.com/g960059/osrelay/internal/protocol"
)

// SnapshotStore is the durable side of instance state.
type SnapshotStore interface {
	PersistSnapshot(ctx context.Context, instanceID string, snapshot model.InstanceSnapshot) error
	MarkInstanceOffline(ctx context.Context, instanceID string) error
}

type PersisterOptions struct {
	Timeout time.Duration
	Clock   clock.Clock
	Logger  log.Logger
	Metrics *metrics.Relay
}

type pendingWrite struct {
	snapshot   json.RawMessage
	observedAt time.Time
	offline    bool
}

// Persister writes snapshots and offline marks on a single background
// worker. Pending writes coalesce per instance: the latest snapshot wins and
// an offline mark is applied after it. Store calls go through a circuit
// breaker so a failing store is not retried on every update.
type Persister struct {
	store   SnapshotStore
	timeout time.Duration
	clock   clock.Clock
	logger  log.Logger
	metrics *metrics.Relay
	breaker *gobreaker.CircuitBreaker

	mu      sync.Mutex
	pending map[string]*pendingWrite
	order   []string
	wake    chan struct{}

	flushMu sync.Mutex
}

func NewPersister(store SnapshotStore, opts PersisterOptions) *Persister {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}
	logger := log.With(opts.Logger, "component", "persister")
	return &Persister{
		store:   store,
		timeout: opts.Timeout,
		clock:   opts.Clock,
		logger:  logger,
		metrics: opts.Metrics,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "snapshot-store",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				level.Warn(logger).Log("msg", "circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
			},
		}),
		pending: make(map[string]*pendingWrite),
		wake:    make(chan struct{}, 1),
	}
}

func (p *Persister) EnqueueSnapshot(instanceID string, snapshot json.RawMessage) {
	now := p.clock.Now().UTC()
	p.enqueue(instanceID, func(w *pendingWrite) {
		w.snapshot = snapshot
		w.observedAt = now
		w.offline = false
	})
}

func (p *Persister) EnqueueOffline(instanceID string) {
	p.enqueue(instanceID, func(w *pendingWrite) {
		w.offline = true
	})
}

func (p *Persister) enqueue(instanceID string, apply func(*pendingWrite)) {
	p.mu.Lock()
	w, ok := p.pending[instanceID]
	if !ok {
		w = &pendingWrite{}
		p.pending[instanceID] = w
		p.order = append(p.order, instanceID)
	}
	apply(w)
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Pending returns the number of instances with unwritten state.
func (p *Persister) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Run drains writes until ctx is cancelled, then flushes what is left.
// Cancelling ctx only stops the loop; writes already taken off the queue
// still complete.
func (p *Persister) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.Flush(context.Background())
			return
		case <-p.wake:
			p.Flush(ctx)
		}
	}
}

// Flush writes every pending entry in enqueue order. Each store call is
// bounded by the persister timeout, not by ctx's cancellation.
func (p *Persister) Flush(ctx context.Context) {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()
	for {
		p.mu.Lock()
		if len(p.order) == 0 {
			p.mu.Unlock()
			return
		}
		instanceID := p.order[0]
		p.order = p.order[1:]
		w := p.pending[instanceID]
		delete(p.pending, instanceID)
		p.mu.Unlock()

		p.write(ctx, instanceID, w)
	}
}

func (p *Persister) write(ctx context.Context, instanceID string, w *pendingWrite) {
	if w.snapshot != nil {
		snapshot, err := protocol.ParseSnapshot(w.snapshot, w.observedAt)
		if err != nil {
			level.Warn(p.logger).Log("msg", "skip unparsable snapshot", "instance_id", instanceID, "err", err)
		} else {
			p.call(ctx, instanceID, "persist snapshot", func(ctx context.Context) error {
				return p.store.PersistSnapshot(ctx, instanceID, snapshot)
			})
		}
	}
	if w.offline {
		p.call(ctx, instanceID, "mark offline", func(ctx context.Context) error {
			return p.store.MarkInstanceOffline(ctx, instanceID)
		})
	}
}

func (p *Persister) call(ctx context.Context, instanceID, op string, fn func(context.Context) error) {
	_, err := p.breaker.Execute(func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
		defer cancel()
		return nil, fn(callCtx)
	})
	if err == nil {
		return
	}
	p.metrics.PersistFailure()
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		level.Debug(p.logger).Log("msg", op+" skipped", "instance_id", instanceID, "err", err)
		return
	}
	level.Warn(p.logger).Log("msg", op+" failed", "instance_id", instanceID, "err", err)
}
