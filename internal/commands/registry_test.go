package commands

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaycord/core/internal/envelope"
	"github.com/relaycord/core/internal/tenantctx"
)

func TestNewRegistryCoversEveryClosedEventType(t *testing.T) {
	reg := NewRegistry(Deps{})

	allTypes := []envelope.EventType{
		envelope.EventGuildCreate, envelope.EventGuildDelete, envelope.EventGuildUpdate,
		envelope.EventMemberAdd, envelope.EventMemberRemove, envelope.EventMemberUpdate,
		envelope.EventInteractionCreate, envelope.EventReady, envelope.EventResumed,
		envelope.EventHeartbeatAck,
	}
	for _, et := range allTypes {
		h, ok := reg[et]
		assert.Truef(t, ok, "no handler registered for %s", et)
		assert.NotNil(t, h.Decode)
		assert.NotNil(t, h.Execute)
	}
}

func TestGuildHandlerDecodesAndExecutesWithoutDB(t *testing.T) {
	reg := NewRegistry(Deps{})
	handler := reg[envelope.EventGuildCreate]

	var id [16]byte
	env := envelope.New(envelope.EventGuildCreate, 0, id, "guild-1", []byte(`{"guild_id":"guild-1"}`))

	payload, err := handler.Decode(env)
	require.NoError(t, err)

	decoded, ok := payload.(GuildEvent)
	require.True(t, ok)
	assert.Equal(t, "guild-1", decoded.GuildID)

	tenant := &tenantctx.TenantConfig{TenantID: "guild-1"}
	err = handler.Execute(context.Background(), tenant, payload)
	assert.NoError(t, err, "audit logging with a nil db must be a no-op, not an error")
}

func TestInteractionCreateIsMarkedAsCommand(t *testing.T) {
	reg := NewRegistry(Deps{})
	handler := reg[envelope.EventInteractionCreate]
	assert.True(t, handler.IsCommand)
	assert.Equal(t, "interaction_create", handler.Action)
}

func TestInteractionCreateNoOpsWithoutAgentGateway(t *testing.T) {
	reg := NewRegistry(Deps{AgentGW: nil})
	handler := reg[envelope.EventInteractionCreate]

	var id [16]byte
	env := envelope.New(envelope.EventInteractionCreate, 0, id, "guild-1",
		[]byte(`{"guild_id":"guild-1","user_id":"u-1","command":"ask","model_alias":"fast","prompt":"hi"}`))

	payload, err := handler.Decode(env)
	require.NoError(t, err)

	tenant := &tenantctx.TenantConfig{TenantID: "guild-1"}
	err = handler.Execute(context.Background(), tenant, payload)
	assert.NoError(t, err)
}

func TestInteractionCreateNoOpsWithoutModelAlias(t *testing.T) {
	reg := NewRegistry(Deps{})
	handler := reg[envelope.EventInteractionCreate]

	var id [16]byte
	env := envelope.New(envelope.EventInteractionCreate, 0, id, "guild-1",
		[]byte(`{"guild_id":"guild-1","command":"help"}`))

	payload, err := handler.Decode(env)
	require.NoError(t, err)

	tenant := &tenantctx.TenantConfig{TenantID: "guild-1"}
	assert.NoError(t, handler.Execute(context.Background(), tenant, payload))
}

func TestDecodeJSONRejectsMalformedPayload(t *testing.T) {
	var id [16]byte
	env := envelope.New(envelope.EventGuildCreate, 0, id, "guild-1", []byte(`not-json`))
	_, err := decodeJSON[GuildEvent](env)
	assert.Error(t, err)
}
