package agentgw

import (
	"context"
	"fmt"
	"time"

	"github.com/relaycord/core/internal/circuitbreaker"
	"github.com/relaycord/core/internal/corerr"
	"github.com/relaycord/core/internal/ledgercore"
)

// breakerErrorThreshold / breakerMinRequests / breakerCooldown implement
// §4.5 Resilience: "opens at 50% errors over 20 requests; half-opens after
// 30s".
const (
	breakerErrorThreshold = 0.5
	breakerMinRequests    = 20
	breakerCooldown       = 30 * time.Second
)

// Streamer is the subset of ProviderClient the gateway depends on, so tests
// can substitute a fake upstream.
type Streamer interface {
	Stream(ctx context.Context, providerModelID string, prompt string) (<-chan StreamEvent, error)
}

// Ledger is the subset of ledgercore.Store the gateway needs.
type Ledger interface {
	Reserve(ctx context.Context, tenantID, accountID, pool string, micro int64) (*ledgercore.Reservation, error)
	Finalize(ctx context.Context, reservationID, finalizationID string, costMicro int64) error
	Release(ctx context.Context, reservationID string) error
	Refund(ctx context.Context, accountID string, amount int64) error
}

// InvocationRecorder persists the agent invocation record (§3.9).
type InvocationRecorder interface {
	RecordInvocation(ctx context.Context, inv *Invocation) error
}

// Invocation is the recorded outcome of one gateway request (§3.9 Agent
// invocation).
type Invocation struct {
	TenantID       string
	PoolID         string
	ModelAlias     string
	AccountingMode AccountingMode
	ReservationID  string
	MaxCostMicro   int64
	ActualCostMicro int64
	InputTokens    int64
	OutputTokens   int64
	Succeeded      bool
	StartedAt      time.Time
	FinishedAt     time.Time
}

// Gateway orchestrates one request through the pipeline in §4.5.
type Gateway struct {
	registry *Registry
	ledger   Ledger
	minter   *Minter
	stream   Streamer
	breakers *circuitbreaker.ProviderBreakers
	recorder InvocationRecorder
}

// NewGateway wires the Agent Gateway's collaborators.
func NewGateway(registry *Registry, ledger Ledger, minter *Minter, stream Streamer, recorder InvocationRecorder) *Gateway {
	return &Gateway{
		registry: registry,
		ledger:   ledger,
		minter:   minter,
		stream:   stream,
		breakers: circuitbreaker.NewProviderBreakers(breakerErrorThreshold, breakerMinRequests, breakerCooldown),
		recorder: recorder,
	}
}

// Request is one inbound completion request.
type Request struct {
	Tenant             string
	PoolID             string
	ModelAlias         string
	Prompt             string
	MaxCostMicro       int64
	PoolMappingVersion int
}

// Invoke runs the full request pipeline and streams relayed events to the
// returned channel. The channel closes when the upstream stream ends or ctx
// is cancelled (propagating cancellation upstream and releasing any
// reservation per §4.5 Resilience "Cancellation").
func (g *Gateway) Invoke(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	alias, ok := g.registry.Resolve(req.ModelAlias)
	if !ok {
		return nil, corerr.New(corerr.Policy, "unknown model alias")
	}

	var reservationID string
	if alias.Mode == PlatformBudget {
		accountID := fmt.Sprintf("%s:%s", req.Tenant, req.PoolID)
		res, err := g.ledger.Reserve(ctx, req.Tenant, accountID, req.PoolID, req.MaxCostMicro)
		if err != nil {
			return nil, err
		}
		reservationID = res.ReservationID
	}

	if _, err := g.minter.Mint(req.Tenant, req.PoolID, req.ModelAlias, alias.Mode, req.PoolMappingVersion); err != nil {
		if reservationID != "" {
			_ = g.ledger.Release(ctx, reservationID)
		}
		return nil, err
	}

	breaker := g.breakers.For(alias.Provider)
	startedAt := time.Now()

	out := make(chan StreamEvent, 16)
	go func() {
		defer close(out)
		result, err := breaker.Execute(func() (any, error) {
			upstream, serr := g.stream.Stream(ctx, alias.ProviderModelID, req.Prompt)
			if serr != nil {
				return nil, serr
			}
			var inputTokens, outputTokens int64
			var streamErr error
			for ev := range upstream {
				if ev.Err != nil {
					streamErr = ev.Err
					break
				}
				if ev.Kind == "usage" {
					inputTokens = ev.InputTokens
					outputTokens = ev.OutputTokens
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					streamErr = ctx.Err()
				}
			}
			if streamErr != nil {
				return nil, streamErr
			}
			return [2]int64{inputTokens, outputTokens}, nil
		})

		inv := &Invocation{
			TenantID:       req.Tenant,
			PoolID:         req.PoolID,
			ModelAlias:     req.ModelAlias,
			AccountingMode: alias.Mode,
			ReservationID:  reservationID,
			MaxCostMicro:   req.MaxCostMicro,
			StartedAt:      startedAt,
			FinishedAt:     time.Now(),
			Succeeded:      err == nil,
		}

		if err != nil {
			if reservationID != "" {
				_ = g.ledger.Release(ctx, reservationID)
			}
			if g.recorder != nil {
				_ = g.recorder.RecordInvocation(ctx, inv)
			}
			return
		}

		tokens := result.([2]int64)
		inv.InputTokens, inv.OutputTokens = tokens[0], tokens[1]
		inv.ActualCostMicro = CostMicro(alias, tokens[0], tokens[1])

		if reservationID != "" {
			finalizationID := fmt.Sprintf("%s:final", reservationID)
			_ = g.ledger.Finalize(ctx, reservationID, finalizationID, inv.ActualCostMicro)
		}

		if g.recorder != nil {
			_ = g.recorder.RecordInvocation(ctx, inv)
		}
	}()

	return out, nil
}
