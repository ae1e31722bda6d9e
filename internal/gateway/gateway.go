// Package gateway owns a pool of Discord gateway shard sessions and
// translates normalized gateway events into bus envelopes (SPEC_FULL.md
// §4.1), generalizing the predecessor's single hub-wide websocket connection
// into one gorilla/websocket connection per shard id, each with its own
// read pump, write pump, and circuit breaker.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/relaycord/core/internal/bus"
	"github.com/relaycord/core/internal/circuitbreaker"
	"github.com/relaycord/core/internal/envelope"
)

// Keepalive parameters carried over from the predecessor's spoke websocket
// handling (fabric/websocket.go), generalized from a single hub-wide
// connection to one connection per shard.
const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	writeWait  = 10 * time.Second
)

// Backoff bounds for shard reconnect (§4.1).
const (
	backoffBase = 1 * time.Second
	backoffCap  = 60 * time.Second
)

// Per-shard circuit breaker trip thresholds (§4.1).
const (
	consecutiveFailureLimit = 5
	failureWindow           = 60 * time.Second
	breakerCooldown         = 30 * time.Second
)

// maxBufferedEvents bounds the in-memory backpressure buffer per shard
// before the oldest event is dropped and a loss counter incremented.
const maxBufferedEvents = 1000

// RawEvent is a normalized gateway event as decoded from the Discord
// websocket frame, before translation into an envelope.
type RawEvent struct {
	Type      string
	GuildID   string
	ShardID   uint16
	Payload   []byte
	Timestamp time.Time
}

// Dialer opens a gateway websocket connection for a shard. Abstracted so
// tests can substitute a fake dialer.
type Dialer interface {
	Dial(ctx context.Context, shardID uint16) (*websocket.Conn, error)
}

// Metrics receives the ingress metrics surface required by §4.1.
type Metrics interface {
	EventReceived(shardID uint16)
	EventRouted(shardID uint16)
	RouteFailure(shardID uint16)
	RouteDuration(shardID uint16, d time.Duration)
	ShardReady(shardID uint16)
	ShardLost(shardID uint16)
	Heartbeat(shardID uint16, at time.Time)
}

// Pool owns a set of shard sessions and publishes envelopes to a Bus.
type Pool struct {
	dialer     Dialer
	publishBus bus.Bus
	breakers   *circuitbreaker.Manager
	metrics    Metrics

	mu       sync.RWMutex
	sessions map[uint16]*shardSession
	lossCount atomic.Int64
}

// NewPool builds a shard pool publishing onto b.
func NewPool(dialer Dialer, b bus.Bus, metrics Metrics) *Pool {
	return &Pool{
		dialer:     dialer,
		publishBus: b,
		breakers:   circuitbreaker.NewManager(circuitbreaker.DefaultConfig("shard")),
		metrics:    metrics,
		sessions:   make(map[uint16]*shardSession),
	}
}

// Run opens one session per shard id in shardRange and blocks until ctx is
// cancelled, reconnecting each shard independently on failure.
func (p *Pool) Run(ctx context.Context, shardRange []uint16, totalShards uint16) error {
	var wg sync.WaitGroup
	for _, id := range shardRange {
		wg.Add(1)
		go func(shardID uint16) {
			defer wg.Done()
			p.runShard(ctx, shardID, totalShards)
		}(id)
	}
	wg.Wait()
	return ctx.Err()
}

func (p *Pool) runShard(ctx context.Context, shardID uint16, totalShards uint16) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		breaker := p.breakers.GetOrCreate(fmt.Sprintf("shard-%d", shardID), shardBreakerConfig(shardID))
		_, err := breaker.Execute(func() (any, error) {
			return nil, p.connectAndPump(ctx, shardID)
		})
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			p.metrics.ShardLost(shardID)
			slog.Warn("gateway: shard session ended", "shard", shardID, "error", err)
		}
		attempt++
		d := backoffBase * time.Duration(1<<min(attempt, 6))
		if d > backoffCap {
			d = backoffCap
		}
		jitter := time.Duration(rand.Int63n(int64(d) * 2 / 5)) - d/5
		select {
		case <-time.After(d + jitter):
		case <-ctx.Done():
			return
		}
	}
}

func shardBreakerConfig(shardID uint16) *circuitbreaker.Config {
	return &circuitbreaker.Config{
		Name:        fmt.Sprintf("shard-%d", shardID),
		MaxRequests: 1,
		Interval:    failureWindow,
		Timeout:     breakerCooldown,
		ReadyToTrip: func(c circuitbreaker.Counts) bool {
			return c.ConsecutiveFailures >= consecutiveFailureLimit
		},
	}
}

type shardSession struct {
	id     uint16
	conn   *websocket.Conn
	buffer chan RawEvent
	done   chan struct{}
}

func (p *Pool) connectAndPump(ctx context.Context, shardID uint16) error {
	conn, err := p.dialer.Dial(ctx, shardID)
	if err != nil {
		return fmt.Errorf("gateway: dial shard %d: %w", shardID, err)
	}
	defer conn.Close()

	sess := &shardSession{id: shardID, conn: conn, buffer: make(chan RawEvent, maxBufferedEvents), done: make(chan struct{})}
	p.mu.Lock()
	p.sessions[shardID] = sess
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.sessions, shardID)
		p.mu.Unlock()
	}()

	p.metrics.ShardReady(shardID)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		p.metrics.Heartbeat(shardID, time.Now())
		return nil
	})

	go p.pingLoop(conn, sess.done)
	go p.publishLoop(ctx, sess)
	defer close(sess.done)

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		p.metrics.EventReceived(shardID)

		var raw RawEvent
		if err := json.Unmarshal(payload, &raw); err != nil {
			continue
		}
		raw.ShardID = shardID
		raw.Timestamp = time.Now()

		select {
		case sess.buffer <- raw:
		default:
			<-sess.buffer
			sess.buffer <- raw
			p.lossCount.Add(1)
		}
	}
}

func (p *Pool) pingLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (p *Pool) publishLoop(ctx context.Context, sess *shardSession) {
	for {
		select {
		case raw := <-sess.buffer:
			start := time.Now()
			env := toEnvelope(raw)
			if err := p.publishWithRetry(ctx, env); err != nil {
				p.metrics.RouteFailure(sess.id)
				slog.Warn("gateway: publish failed after retries", "shard", sess.id, "error", err)
				continue
			}
			p.metrics.EventRouted(sess.id)
			p.metrics.RouteDuration(sess.id, time.Since(start))
		case <-sess.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// publishWithRetry tries publish up to 5 times with exponential backoff
// (100ms doubling per attempt); after that the caller drops the event and
// counts a route failure (§4.1).
func (p *Pool) publishWithRetry(ctx context.Context, env *envelope.Envelope) error {
	var err error
	for attempt := 1; attempt <= 5; attempt++ {
		err = p.publishBus.Publish(ctx, fmt.Sprintf("events.%s.%d", env.Header.Type, env.Header.ShardID), env)
		if err == nil {
			return nil
		}
		time.Sleep(time.Duration(1<<(attempt-1)) * 100 * time.Millisecond)
	}
	return err
}

func toEnvelope(raw RawEvent) *envelope.Envelope {
	subjectKey := envelope.GlobalSubjectKey
	if raw.GuildID != "" {
		subjectKey = raw.GuildID
	}
	eventID := uuid.New()
	return envelope.New(eventTypeFor(raw.Type), raw.ShardID, eventID, subjectKey, raw.Payload)
}

func eventTypeFor(t string) envelope.EventType {
	switch t {
	case "GUILD_CREATE":
		return envelope.EventGuildCreate
	case "GUILD_DELETE":
		return envelope.EventGuildDelete
	case "GUILD_UPDATE":
		return envelope.EventGuildUpdate
	case "GUILD_MEMBER_ADD":
		return envelope.EventMemberAdd
	case "GUILD_MEMBER_REMOVE":
		return envelope.EventMemberRemove
	case "GUILD_MEMBER_UPDATE":
		return envelope.EventMemberUpdate
	case "INTERACTION_CREATE":
		return envelope.EventInteractionCreate
	case "READY":
		return envelope.EventReady
	case "RESUMED":
		return envelope.EventResumed
	case "HEARTBEAT_ACK":
		return envelope.EventHeartbeatAck
	default:
		return envelope.EventOther
	}
}
