// Package commands wires the closed event_type → Handler registry SPEC_FULL.md
// §4.3 calls for, one Handler per envelope.EventType this core understands.
package commands

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/relaycord/core/internal/agentgw"
	"github.com/relaycord/core/internal/database"
	"github.com/relaycord/core/internal/dispatch"
	"github.com/relaycord/core/internal/envelope"
	"github.com/relaycord/core/internal/tenantctx"
)

// GuildEvent is the decoded payload shape shared by the guild/member
// lifecycle events; the Discord gateway's own field names are kept rather
// than introducing a parallel vocabulary.
type GuildEvent struct {
	GuildID string `json:"guild_id"`
	UserID  string `json:"user_id,omitempty"`
}

// InteractionEvent is the decoded payload for a slash-command invocation,
// the one event type that reaches the Agent Gateway.
type InteractionEvent struct {
	GuildID    string `json:"guild_id"`
	UserID     string `json:"user_id"`
	Command    string `json:"command"`
	ModelAlias string `json:"model_alias"`
	Prompt     string `json:"prompt"`
	MaxCostMicro int64 `json:"max_cost_micro"`
}

func decodeJSON[T any](env *envelope.Envelope) (any, error) {
	var v T
	if err := json.Unmarshal(env.Payload, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// auditLogger persists a terse per-event audit row; an insert failure is
// logged and never returned, so it cannot fail the handler or cause a nack —
// audit logging is best-effort.
type auditLogger struct {
	db *database.SupabaseClient
}

func (a *auditLogger) log(eventType, tenantID, detail string) {
	if a.db == nil {
		return
	}
	row := map[string]interface{}{
		"event_type": eventType,
		"tenant_id":  tenantID,
		"detail":     detail,
	}
	if err := a.db.InsertRow("event_audit_log", row); err != nil {
		slog.Warn("commands: audit log insert failed", "event_type", eventType, "error", err)
	}
}

// Deps bundles the collaborators command handlers close over.
type Deps struct {
	DB      *database.SupabaseClient
	AgentGW *agentgw.Gateway
}

// NewRegistry builds the closed event_type → Handler map.
func NewRegistry(deps Deps) dispatch.Registry {
	audit := &auditLogger{db: deps.DB}

	guildHandler := func(name string) dispatch.Handler {
		return dispatch.Handler{
			Decode: decodeJSON[GuildEvent],
			Execute: func(ctx context.Context, tenant *tenantctx.TenantConfig, payload any) error {
				ev := payload.(GuildEvent)
				audit.log(name, tenant.TenantID, ev.GuildID)
				return nil
			},
			Action: name,
		}
	}

	reg := dispatch.Registry{
		envelope.EventGuildCreate:  guildHandler("guild_create"),
		envelope.EventGuildDelete:  guildHandler("guild_delete"),
		envelope.EventGuildUpdate:  guildHandler("guild_update"),
		envelope.EventMemberAdd:    guildHandler("member_add"),
		envelope.EventMemberRemove: guildHandler("member_remove"),
		envelope.EventMemberUpdate: guildHandler("member_update"),
		envelope.EventReady: {
			Decode: decodeJSON[GuildEvent],
			Execute: func(ctx context.Context, tenant *tenantctx.TenantConfig, payload any) error {
				slog.Info("commands: shard ready", "tenant", tenant.TenantID)
				return nil
			},
		},
		envelope.EventResumed: {
			Decode: decodeJSON[GuildEvent],
			Execute: func(ctx context.Context, tenant *tenantctx.TenantConfig, payload any) error {
				return nil
			},
		},
		envelope.EventHeartbeatAck: {
			Decode:  decodeJSON[GuildEvent],
			Execute: func(ctx context.Context, tenant *tenantctx.TenantConfig, payload any) error { return nil },
		},
		envelope.EventInteractionCreate: {
			Decode:    decodeJSON[InteractionEvent],
			IsCommand: true,
			Action:    "interaction_create",
			Execute: func(ctx context.Context, tenant *tenantctx.TenantConfig, payload any) error {
				ev := payload.(InteractionEvent)
				audit.log("interaction_create", tenant.TenantID, ev.Command)
				if deps.AgentGW == nil || ev.ModelAlias == "" {
					return nil
				}
				poolID := ev.GuildID
				if poolID == "" {
					poolID = "dm"
				}
				events, err := deps.AgentGW.Invoke(ctx, agentgw.Request{
					Tenant:       tenant.TenantID,
					PoolID:       poolID,
					ModelAlias:   ev.ModelAlias,
					Prompt:       ev.Prompt,
					MaxCostMicro: ev.MaxCostMicro,
				})
				if err != nil {
					return err
				}
				for range events {
					// The handler only drives the invocation to completion here;
					// the SSE relay back to the interaction webhook happens at
					// the HTTP edge that accepted the original command, not here.
				}
				return nil
			},
		},
	}
	return reg
}
