// Package eventbus broadcasts trust-change notifications (spec.md §5, §6) to
// subscribers. It is grounded on the teacher's system/events.Dispatcher: a
// registration+filter map, a worker pool draining a shared queue, and a
// Stats() snapshot, adapted from routing blockchain contract events to
// routing trust-change notifications.
package eventbus

import (
	"context"
	"fmt"
	"sync"

	"github.com/trust-arbor/arbor/internal/trustmodel"
	"github.com/trust-arbor/arbor/pkg/logger"
)

// Notification is the payload published on the "trust_event" topic
// (spec.md §6).
type Notification struct {
	AgentID   string                 `json:"agent_id"`
	EventType trustmodel.EventType   `json:"event_type"`
	Metadata  map[string]interface{} `json:"metadata"`
}

// Subscriber receives notifications matching its filter.
type Subscriber interface {
	HandleNotification(ctx context.Context, n *Notification) error
	SupportedEventTypes() []trustmodel.EventType
}

// Filter restricts delivery to a subset of event types. An empty slice
// matches everything.
type Filter struct {
	EventTypes []trustmodel.EventType
}

func (f *Filter) match(n *Notification) bool {
	if len(f.EventTypes) == 0 {
		return true
	}
	for _, et := range f.EventTypes {
		if et == n.EventType {
			return true
		}
	}
	return false
}

type registration struct {
	id         string
	subscriber Subscriber
	filter     *Filter
}

// Config configures Bus construction.
type Config struct {
	QueueSize   int
	WorkerCount int
	Logger      *logger.Logger
}

// Bus is a typed broadcast hub delivering to subscribers currently attached
// (spec.md §9: subscribers re-sync on restart, they are not guaranteed
// delivery of messages missed while detached). Delivery is not guaranteed
// even while attached: a Publish made while the queue is full is dropped
// and counted in Stats.Dropped, and notifications still queued when Stop is
// called are not delivered.
type Bus struct {
	mu    sync.RWMutex
	subs  map[string]*registration
	log   *logger.Logger

	queue     chan *Notification
	queueSize int

	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	delivered int64
	dropped   int64
	failed    int64
}

// New creates a Bus. Call Start to begin draining the queue.
func New(cfg Config) *Bus {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 2
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewDefault("eventbus")
	}
	return &Bus{
		subs:      make(map[string]*registration),
		log:       cfg.Logger,
		queue:     make(chan *Notification, cfg.QueueSize),
		queueSize: cfg.QueueSize,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Subscribe registers a Subscriber under id, replacing any prior
// registration with the same id.
func (b *Bus) Subscribe(id string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[id] = &registration{
		id:         id,
		subscriber: sub,
		filter:     &Filter{EventTypes: sub.SupportedEventTypes()},
	}
	b.log.WithField("subscriber_id", id).Info("eventbus subscriber registered")
}

// Unsubscribe removes a subscription.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

// Start spawns workerCount goroutines draining the queue.
func (b *Bus) Start(ctx context.Context, workerCount int) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return fmt.Errorf("eventbus already running")
	}
	b.running = true
	b.stopCh = make(chan struct{})
	b.doneCh = make(chan struct{})
	b.mu.Unlock()

	if workerCount <= 0 {
		workerCount = 2
	}

	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			b.worker(ctx)
		}(i)
	}

	go func() {
		wg.Wait()
		close(b.doneCh)
	}()

	b.log.WithField("workers", workerCount).Info("eventbus started")
	return nil
}

// Stop halts delivery, draining in-flight work first.
func (b *Bus) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	close(b.stopCh)
	b.mu.Unlock()

	<-b.doneCh
	b.log.Info("eventbus stopped")
}

// Publish enqueues a notification for async delivery. Non-blocking; drops
// and counts the notification if the queue is full rather than blocking the
// publisher (the publisher is typically TrustManager mid-mutation and must
// never stall on a slow subscriber).
func (b *Bus) Publish(n *Notification) {
	b.mu.RLock()
	running := b.running
	b.mu.RUnlock()

	if !running {
		b.PublishSync(context.Background(), n)
		return
	}

	select {
	case b.queue <- n:
	default:
		b.mu.Lock()
		b.dropped++
		b.mu.Unlock()
		b.log.WithField("agent_id", n.AgentID).WithField("event_type", n.EventType).
			Warn("eventbus queue full, notification dropped")
	}
}

// PublishSync delivers a notification to matching subscribers inline,
// returning every delivery failure (nil if none) without aborting delivery to
// the remaining subscribers.
func (b *Bus) PublishSync(ctx context.Context, n *Notification) []error {
	b.mu.RLock()
	regs := make([]*registration, 0, len(b.subs))
	for _, r := range b.subs {
		regs = append(regs, r)
	}
	b.mu.RUnlock()

	var errs []error
	for _, r := range regs {
		if !r.filter.match(n) {
			continue
		}
		if err := r.subscriber.HandleNotification(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("subscriber %s: %w", r.id, err))
		}
	}
	return errs
}

func (b *Bus) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stopCh:
			return
		case n := <-b.queue:
			b.deliver(ctx, n)
		}
	}
}

func (b *Bus) deliver(ctx context.Context, n *Notification) {
	b.mu.RLock()
	regs := make([]*registration, 0, len(b.subs))
	for _, r := range b.subs {
		if r.filter.match(n) {
			regs = append(regs, r)
		}
	}
	b.mu.RUnlock()

	for _, r := range regs {
		if err := r.subscriber.HandleNotification(ctx, n); err != nil {
			b.mu.Lock()
			b.failed++
			b.mu.Unlock()
			b.log.WithField("subscriber_id", r.id).WithField("agent_id", n.AgentID).
				WithError(err).Error("eventbus subscriber failed")
		}
	}

	b.mu.Lock()
	b.delivered++
	b.mu.Unlock()
}

// Stats is a snapshot of bus activity.
type Stats struct {
	Running         bool  `json:"running"`
	SubscriberCount int   `json:"subscriber_count"`
	QueueSize       int   `json:"queue_size"`
	QueueCapacity   int   `json:"queue_capacity"`
	Delivered       int64 `json:"delivered"`
	Dropped         int64 `json:"dropped"`
	Failed          int64 `json:"failed"`
}

// Stats returns a snapshot of bus counters.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Stats{
		Running:         b.running,
		SubscriberCount: len(b.subs),
		QueueSize:       len(b.queue),
		QueueCapacity:   b.queueSize,
		Delivered:       b.delivered,
		Dropped:         b.dropped,
		Failed:          b.failed,
	}
}
