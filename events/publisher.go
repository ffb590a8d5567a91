// Package events delivers board events to a queue without holding up the
// request that produced them.
package events

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"board-api/domain"
)

// Sink accepts batches of board events. storage.EventQueue implements it.
type Sink interface {
	EnqueueEvents(ctx context.Context, events []domain.Event) error
}

// Emitter is what the board service publishes through.
type Emitter interface {
	Publish(events ...domain.Event)
}

// Options tunes the worker pool of a Publisher.
type Options struct {
	Workers        int
	Buffer         int
	Timeout        time.Duration
	HandoffTimeout time.Duration
}

type job struct {
	events []domain.Event
}

// Publisher fans event batches out to a fixed set of workers. When the buffer
// is full for longer than the handoff timeout the batch is sent inline.
type Publisher struct {
	sink           Sink
	log            *log.Logger
	timeout        time.Duration
	handoffTimeout time.Duration

	mu     sync.RWMutex
	jobs   chan job
	closed bool
	wg     sync.WaitGroup
}

// NewPublisher starts the workers. Close must be called to drain them.
func NewPublisher(sink Sink, opts Options, logger *log.Logger) *Publisher {
	if sink == nil {
		panic("events sink is nil")
	}
	if logger == nil {
		panic("Logger is not initialized")
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Buffer < 0 {
		opts.Buffer = 0
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	p := &Publisher{
		sink:           sink,
		log:            logger,
		timeout:        opts.Timeout,
		handoffTimeout: opts.HandoffTimeout,
		jobs:           make(chan job, opts.Buffer),
	}
	for i := 0; i < opts.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	logger.Infof("event publisher started, workers: %d, buffer: %d, timeout: %v, handoff: %v",
		opts.Workers, opts.Buffer, opts.Timeout, opts.HandoffTimeout)
	return p
}

// Publish queues events for delivery. Failures are logged, never returned.
func (p *Publisher) Publish(events ...domain.Event) {
	if len(events) == 0 {
		return
	}
	j := job{events: events}
	if p.tryHandoff(j) {
		return
	}
	p.send(-1, j)
}

// Close stops accepting work and waits for queued batches to be delivered.
func (p *Publisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Publisher) worker(id int) {
	defer p.wg.Done()
	for j := range p.jobs {
		p.send(id, j)
	}
}

func (p *Publisher) send(worker int, j job) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.sink.EnqueueEvents(ctx, j.events); err != nil {
		p.log.WithFields(log.Fields{
			"worker": worker,
			"count":  len(j.events),
			"type":   j.events[0].Type,
			"user":   j.events[0].UserID,
		}).Errorf("event publish failed: %v", err)
	}
}

// tryHandoff reports whether a worker took the job. A closed publisher never
// takes jobs, so late events fall back to inline delivery.
func (p *Publisher) tryHandoff(j job) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}

	select {
	case p.jobs <- j:
		return true
	default:
	}

	if p.handoffTimeout <= 0 {
		return false
	}
	timer := time.NewTimer(p.handoffTimeout)
	defer timer.Stop()
	select {
	case p.jobs <- j:
		return true
	case <-timer.C:
		return false
	}
}

// Noop drops every event. It is used when no queue is configured.
type Noop struct{}

func (Noop) Publish(...domain.Event) {}
