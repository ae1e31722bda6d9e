package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaycord/core/internal/bus"
	"github.com/relaycord/core/internal/envelope"
)

func TestEventTypeForMapsKnownDiscordTypes(t *testing.T) {
	assert.Equal(t, envelope.EventGuildCreate, eventTypeFor("GUILD_CREATE"))
	assert.Equal(t, envelope.EventInteractionCreate, eventTypeFor("INTERACTION_CREATE"))
	assert.Equal(t, envelope.EventHeartbeatAck, eventTypeFor("HEARTBEAT_ACK"))
	assert.Equal(t, envelope.EventOther, eventTypeFor("SOME_UNKNOWN_TYPE"))
}

func TestToEnvelopeUsesGuildIDAsSubjectKeyWhenPresent(t *testing.T) {
	raw := RawEvent{Type: "GUILD_CREATE", GuildID: "guild-42", ShardID: 3, Payload: []byte(`{}`)}
	env := toEnvelope(raw)
	assert.Equal(t, "guild-42", env.Header.SubjectKeyString())
	assert.Equal(t, uint16(3), env.Header.ShardID)
	assert.Equal(t, envelope.EventGuildCreate, env.Header.Type)
}

func TestToEnvelopeFallsBackToGlobalSubjectKeyWithoutGuildID(t *testing.T) {
	raw := RawEvent{Type: "READY", ShardID: 0, Payload: []byte(`{}`)}
	env := toEnvelope(raw)
	assert.Equal(t, envelope.GlobalSubjectKey, env.Header.SubjectKeyString())
}

type flakyBus struct {
	bus.Bus
	failuresRemaining int
	published         int
}

func (f *flakyBus) Publish(ctx context.Context, subject string, env *envelope.Envelope) error {
	f.published++
	if f.failuresRemaining > 0 {
		f.failuresRemaining--
		return context.DeadlineExceeded
	}
	return nil
}

func TestPublishWithRetrySucceedsAfterTransientFailures(t *testing.T) {
	fb := &flakyBus{failuresRemaining: 2}
	p := &Pool{publishBus: fb}

	env := toEnvelope(RawEvent{Type: "GUILD_CREATE", GuildID: "guild-1", Payload: []byte(`{}`)})
	err := p.publishWithRetry(context.Background(), env)
	require.NoError(t, err)
	assert.Equal(t, 3, fb.published)
}

func TestPublishWithRetryGivesUpAfterFiveAttempts(t *testing.T) {
	fb := &flakyBus{failuresRemaining: 100}
	p := &Pool{publishBus: fb}

	env := toEnvelope(RawEvent{Type: "GUILD_CREATE", GuildID: "guild-1", Payload: []byte(`{}`)})
	err := p.publishWithRetry(context.Background(), env)
	assert.Error(t, err)
	assert.Equal(t, 5, fb.published)
}
