// Package bus implements the event bus contract (SPEC_FULL.md §4.2): a
// publish/subscribe fan-out keyed by subject, with a tenant-ordered binding
// over cloud.google.com/go/pubsub and a local in-process fallback satisfying
// the same interface for tests and single-pod deployments.
package bus

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relaycord/core/internal/envelope"
)

// Message is a dispatched unit of work: the decoded envelope plus ack/nack
// handles that return control to the underlying transport.
type Message struct {
	Envelope   *envelope.Envelope
	Subject    string
	DeliveryID string
	Attempt    int

	ack  func()
	nack func()
}

// Ack acknowledges successful processing.
func (m *Message) Ack() {
	if m.ack != nil {
		m.ack()
	}
}

// Nack requests redelivery (subject to the bus's backoff/DLQ policy).
func (m *Message) Nack() {
	if m.nack != nil {
		m.nack()
	}
}

// Handler processes one message. Returning an error nacks the message;
// returning nil acks it. Handlers should treat ctx cancellation as a signal
// to abandon work without acking.
type Handler func(ctx context.Context, msg *Message) error

// Bus is the event bus contract every binding (Pub/Sub, local) satisfies.
type Bus interface {
	// Publish sends an envelope under subject with FIFO ordering against
	// the envelope's subject key (tenant id, or "global").
	Publish(ctx context.Context, subject string, env *envelope.Envelope) error

	// Subscribe registers a durable consumer for a subject pattern. Messages
	// are delivered at-least-once; the caller acks/nacks explicitly.
	Subscribe(ctx context.Context, subjectPattern string, handler Handler) (unsubscribe func(), err error)

	// Close releases bus resources.
	Close() error
}

// DeadLetterSink receives envelopes that exhausted their redelivery budget.
type DeadLetterSink interface {
	DeadLetter(ctx context.Context, subject string, env *envelope.Envelope, reason string) error
}

// MaxRedeliveries is the redelivery budget before a message is dead-lettered
// (§4.2: "after M=5 redeliveries").
const MaxRedeliveries = 5

// ============================================================================
// LOCAL BUS — in-process fan-out, no external dependency
// ============================================================================

// LocalBus is an in-memory implementation of Bus. It preserves FIFO order
// per subject key by running a single dispatch goroutine per key, mirroring
// the single-worker-per-queue-key shape the predecessor's in-process event
// bus used for its own ordering guarantee.
type LocalBus struct {
	mu       sync.RWMutex
	subs     map[string][]localSub
	queues   map[string]chan queuedMsg
	closed   bool
	deadLetters DeadLetterSink
}

type localSub struct {
	pattern string
	handler Handler
}

type queuedMsg struct {
	subject string
	env     *envelope.Envelope
}

// NewLocalBus creates an empty in-process bus.
func NewLocalBus(deadLetters DeadLetterSink) *LocalBus {
	return &LocalBus{
		subs:        make(map[string][]localSub),
		queues:      make(map[string]chan queuedMsg),
		deadLetters: deadLetters,
	}
}

func (b *LocalBus) queueFor(subjectKey string) chan queuedMsg {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[subjectKey]
	if !ok {
		q = make(chan queuedMsg, 1000)
		b.queues[subjectKey] = q
		go b.drain(subjectKey, q)
	}
	return q
}

func (b *LocalBus) drain(subjectKey string, q chan queuedMsg) {
	for m := range q {
		b.dispatch(m.subject, m.env)
	}
	_ = subjectKey
}

func (b *LocalBus) dispatch(subject string, env *envelope.Envelope) {
	b.mu.RLock()
	subs := append([]localSub(nil), b.subs[subject]...)
	b.mu.RUnlock()

	for _, s := range subs {
		attempt := 0
		for {
			attempt++
			msg := &Message{Envelope: env, Subject: subject, DeliveryID: uuid.NewString(), Attempt: attempt}
			done := make(chan error, 1)
			msg.ack = func() { done <- nil }
			msg.nack = func() { done <- context.DeadlineExceeded }
			if err := s.handler(context.Background(), msg); err != nil {
				done <- err
			}
			err := <-done
			if err == nil {
				break
			}
			if attempt >= MaxRedeliveries {
				if b.deadLetters != nil {
					_ = b.deadLetters.DeadLetter(context.Background(), subject, env, err.Error())
				}
				break
			}
			time.Sleep(time.Duration(attempt) * 50 * time.Millisecond)
		}
	}
}

// Publish implements Bus.
func (b *LocalBus) Publish(ctx context.Context, subject string, env *envelope.Envelope) error {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return nil
	}
	key := env.Header.SubjectKeyString()
	select {
	case b.queueFor(key) <- queuedMsg{subject: subject, env: env}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe implements Bus. subjectPattern is matched exactly; the hierarchical
// wildcard matching of the Pub/Sub binding is not needed for unit tests.
func (b *LocalBus) Subscribe(ctx context.Context, subjectPattern string, handler Handler) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[subjectPattern] = append(b.subs[subjectPattern], localSub{pattern: subjectPattern, handler: handler})
	idx := len(b.subs[subjectPattern]) - 1
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[subjectPattern]
		if idx < len(subs) {
			b.subs[subjectPattern] = append(subs[:idx], subs[idx+1:]...)
		}
	}, nil
}

// Close implements Bus.
func (b *LocalBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for _, q := range b.queues {
		close(q)
	}
	return nil
}
