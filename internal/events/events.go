// Package events fans engine notifications out to websocket clients, a Kafka
// topic and a Redis channel. Notifications are sent after the transaction
// that caused them has committed; a failed send is logged and counted but
// never changes the outcome of the operation.
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/betania/betting-engine/internal/metrics"
)

// Type names a notification.
type Type string

const (
	UserRegistered   Type = "user_registered"
	MarketCreated    Type = "market_created"
	MarketDeleted    Type = "market_deleted"
	MarketUpdated    Type = "market_updated"
	MarketSettled    Type = "market_settled"
	BetPlaced        Type = "bet_placed"
	BetCorrected     Type = "bet_corrected"
	BalanceRecharged Type = "balance_recharged"
)

// Event is the JSON payload shared by every sink. Amounts travel as decimal
// strings.
type Event struct {
	Type     Type      `json:"type"`
	MarketID string    `json:"market_id,omitempty"`
	OptionID string    `json:"option_id,omitempty"`
	BetID    string    `json:"bet_id,omitempty"`
	UserID   string    `json:"user_id,omitempty"`
	Amount   string    `json:"amount,omitempty"`
	Balance  string    `json:"balance,omitempty"`
	Status   string    `json:"status,omitempty"`
	Winners  int       `json:"winners,omitempty"`
	At       time.Time `json:"at"`
}

// Publisher delivers one event to one sink.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// notifyTimeout bounds how long a committed operation waits on a
// synchronous publisher. Fanout only queues, so it returns at once.
const notifyTimeout = 5 * time.Second

// Notify publishes e and logs a failure. A nil Publisher is a no-op.
// The caller's cancellation is not propagated: the state change already
// happened and its notification should still go out.
func Notify(ctx context.Context, pub Publisher, log *zap.Logger, e Event) {
	if pub == nil {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	if err := pub.Publish(ctx, e); err != nil && log != nil {
		log.Warn("event publish failed",
			zap.String("type", string(e.Type)),
			zap.String("market_id", e.MarketID),
			zap.Error(err),
		)
	}
}

// ErrSinkFull is returned when a sink's queue is full and the event was
// dropped for that sink.
var ErrSinkFull = errors.New("events: sink queue full")

const (
	// DefaultQueueSize is the per-sink buffer of undelivered events.
	DefaultQueueSize = 256
	// DefaultSendTimeout bounds a single delivery to one sink.
	DefaultSendTimeout = 5 * time.Second
)

type sink struct {
	name  string
	pub   Publisher
	queue chan Event
}

// Fanout delivers every event to all registered sinks. Publish only queues;
// each sink is drained by its own goroutine started by Run, so a stalled
// sink delays neither the caller nor the other sinks.
type Fanout struct {
	log   *zap.Logger
	sinks []*sink

	// QueueSize and SendTimeout apply to sinks added afterwards and to
	// deliveries respectively.
	QueueSize   int
	SendTimeout time.Duration
}

// NewFanout creates an empty fan-out.
func NewFanout(log *zap.Logger) *Fanout {
	if log == nil {
		log = zap.NewNop()
	}
	return &Fanout{log: log, QueueSize: DefaultQueueSize, SendTimeout: DefaultSendTimeout}
}

// Add registers a sink under name, used as the metrics label. Sinks must be
// added before Run.
func (f *Fanout) Add(name string, p Publisher) *Fanout {
	size := f.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	f.sinks = append(f.sinks, &sink{name: name, pub: p, queue: make(chan Event, size)})
	return f
}

// Len reports the number of registered sinks.
func (f *Fanout) Len() int { return len(f.sinks) }

// Publish queues e for every sink without blocking. A sink whose queue is
// full loses the event; the joined failures are returned.
func (f *Fanout) Publish(_ context.Context, e Event) error {
	var errs []error
	for _, s := range f.sinks {
		select {
		case s.queue <- e:
		default:
			metrics.EventPublishFailures.WithLabelValues(s.name).Inc()
			errs = append(errs, fmt.Errorf("%s: %w", s.name, ErrSinkFull))
		}
	}
	return errors.Join(errs...)
}

// Run drains every sink until ctx is done. Events still queued at that
// point get one more SendTimeout to go out before Run returns. Must be
// called in a goroutine.
func (f *Fanout) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, s := range f.sinks {
		wg.Add(1)
		go func(s *sink) {
			defer wg.Done()
			f.drain(ctx, s)
		}(s)
	}
	wg.Wait()
}

func (f *Fanout) drain(ctx context.Context, s *sink) {
	for {
		select {
		case e := <-s.queue:
			f.send(context.Background(), s, e)
		case <-ctx.Done():
			flush, cancel := context.WithTimeout(context.Background(), f.sendTimeout())
			defer cancel()
			for flush.Err() == nil {
				select {
				case e := <-s.queue:
					f.send(flush, s, e)
				default:
					return
				}
			}
			return
		}
	}
}

func (f *Fanout) sendTimeout() time.Duration {
	if f.SendTimeout <= 0 {
		return DefaultSendTimeout
	}
	return f.SendTimeout
}

func (f *Fanout) send(parent context.Context, s *sink, e Event) {
	ctx, cancel := context.WithTimeout(parent, f.sendTimeout())
	defer cancel()

	if err := s.pub.Publish(ctx, e); err != nil {
		metrics.EventPublishFailures.WithLabelValues(s.name).Inc()
		f.log.Warn("event delivery failed",
			zap.String("sink", s.name),
			zap.String("type", string(e.Type)),
			zap.String("market_id", e.MarketID),
			zap.Error(err),
		)
	}
}
