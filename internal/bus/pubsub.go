package bus

import (
	"context"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"

	"github.com/relaycord/core/internal/envelope"
)

// PubSubBus binds Bus to a GCP Pub/Sub topic with OrderingKey=subject_key and
// EnableMessageOrdering=true, pinning per-tenant FIFO the same way the
// predecessor's Pub/Sub event bus pinned ordering for its own tenant streams.
type PubSubBus struct {
	client  *pubsub.Client
	topic   *pubsub.Topic
	subMu   sync.Mutex
	subs    map[string]*pubsub.Subscription
}

// NewPubSubBus dials the given project/topic and enables message ordering.
func NewPubSubBus(ctx context.Context, projectID, topicID string) (*PubSubBus, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("bus: pubsub client: %w", err)
	}
	topic := client.Topic(topicID)
	topic.EnableMessageOrdering = true

	return &PubSubBus{
		client: client,
		topic:  topic,
		subs:   make(map[string]*pubsub.Subscription),
	}, nil
}

// Publish implements Bus, setting OrderingKey to the envelope's subject key.
func (p *PubSubBus) Publish(ctx context.Context, subject string, env *envelope.Envelope) error {
	data, err := env.Marshal()
	if err != nil {
		return fmt.Errorf("bus: marshal envelope: %w", err)
	}
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		OrderingKey: env.Header.SubjectKeyString(),
		Attributes: map[string]string{
			"subject":    subject,
			"event_type": env.Header.Type.String(),
		},
	})
	_, err = result.Get(ctx)
	if err != nil {
		return fmt.Errorf("bus: publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe implements Bus by binding a durable consumer keyed by
// subjectPattern; the caller is expected to pre-provision the subscription
// with a matching filter on the "subject" attribute.
func (p *PubSubBus) Subscribe(ctx context.Context, subjectPattern string, handler Handler) (func(), error) {
	p.subMu.Lock()
	sub, ok := p.subs[subjectPattern]
	if !ok {
		sub = p.client.Subscription(subjectPattern)
		p.subs[subjectPattern] = sub
	}
	p.subMu.Unlock()

	cctx, cancel := context.WithCancel(ctx)
	go func() {
		_ = sub.Receive(cctx, func(c context.Context, m *pubsub.Message) {
			env := &envelope.Envelope{}
			if err := env.Unmarshal(m.Data); err != nil {
				m.Nack()
				return
			}
			deliveryAttempt := 1
			if m.DeliveryAttempt != nil {
				deliveryAttempt = *m.DeliveryAttempt
			}
			msg := &Message{
				Envelope:   env,
				Subject:    subjectPattern,
				DeliveryID: m.ID,
				Attempt:    deliveryAttempt,
				ack:        m.Ack,
				nack:       m.Nack,
			}
			if err := handler(c, msg); err != nil {
				m.Nack()
				return
			}
			m.Ack()
		})
	}()

	return cancel, nil
}

// Close implements Bus.
func (p *PubSubBus) Close() error {
	p.topic.Stop()
	return p.client.Close()
}
