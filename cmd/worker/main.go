// Command worker runs the LVVER dispatch pipeline (SPEC_FULL.md §4.3): it
// consumes envelopes off the event bus, enforces tenant rate limits, invokes
// the command registry, and drives the Agent Gateway for model-backed
// commands.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/relaycord/core/internal/agentgw"
	"github.com/relaycord/core/internal/bus"
	"github.com/relaycord/core/internal/commands"
	"github.com/relaycord/core/internal/config"
	"github.com/relaycord/core/internal/database"
	"github.com/relaycord/core/internal/dispatch"
	"github.com/relaycord/core/internal/ledgercore"
	"github.com/relaycord/core/internal/tenantctx"
)

func main() {
	cfg := config.Get()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer rdb.Close()

	supabaseClient, err := database.NewSupabaseClient()
	if err != nil {
		log.Fatalf("Failed to initialize Supabase client: %v", err)
	}

	ledgerStore, err := ledgercore.NewStore(cfg.Ledger.PostgresDSN, ledgercore.NewMetrics(prometheus.DefaultRegisterer))
	if err != nil {
		log.Fatalf("Failed to open ledger store: %v", err)
	}
	defer ledgerStore.Close()

	tierDefaults := map[string]tenantctx.RateLimitPolicy{
		"free": {PerMinute: cfg.Tenant.FreePerMinute, PerHour: cfg.Tenant.FreePerHour, PerDay: cfg.Tenant.FreePerDay},
		"pro":  {PerMinute: cfg.Tenant.ProPerMinute, PerHour: cfg.Tenant.ProPerHour, PerDay: cfg.Tenant.ProPerDay},
	}
	tenantStore := tenantctx.NewRedisStore(rdb)
	tenantSub := tenantctx.NewRedisSubscriber(rdb)
	tenantCache := tenantctx.NewCache(ctx, tenantStore, tenantSub, tierDefaults)
	limiter := tenantctx.NewLimiter(rdb)

	var gw *agentgw.Gateway
	if cfg.AgentGW.UpstreamAddr != "" {
		providerClient, err := agentgw.NewProviderClient(cfg.AgentGW.UpstreamAddr)
		if err != nil {
			log.Fatalf("Failed to dial agent gateway upstream: %v", err)
		}
		signingKey, err := agentgw.GenerateSigningKey(cfg.AgentGW.SigningKeyID)
		if err != nil {
			log.Fatalf("Failed to generate signing key: %v", err)
		}
		minter := agentgw.NewMinter(signingKey)
		registry := agentgw.NewRegistry(modelAliases())
		recorder := agentgw.NewLedgerRecorder(ledgerStore)
		gw = agentgw.NewGateway(registry, ledgerStore, minter, providerClient, recorder)
	} else {
		slog.Warn("agent gateway upstream not configured, interaction_create commands will no-op")
	}

	registry := commands.NewRegistry(commands.Deps{DB: supabaseClient, AgentGW: gw})

	locker := dispatch.NewRedisLocker(rdb)
	outcomes := dispatch.NewRedisOutcomeStore(rdb)
	dlq := bus.NewRedisDeadLetterSink(rdb)

	worker := dispatch.NewWorker(registry, tenantCache, limiter, locker, outcomes, dlq, cfg.Server.MaxInFlight)

	var eventBus bus.Bus
	if cfg.Bus.Driver == "pubsub" {
		pb, err := bus.NewPubSubBus(ctx, cfg.Bus.ProjectID, cfg.Bus.TopicID)
		if err != nil {
			log.Fatalf("Failed to initialize Pub/Sub bus: %v", err)
		}
		eventBus = pb
	} else {
		eventBus = bus.NewLocalBus(dlq)
	}
	defer eventBus.Close()

	slog.Info("worker starting", "bus_driver", cfg.Bus.Driver, "agent_gateway", gw != nil)
	unsubscribe, err := worker.Run(ctx, eventBus, cfg.Bus.SubjectPattern)
	if err != nil {
		log.Fatalf("worker: run failed: %v", err)
	}
	defer unsubscribe()

	<-ctx.Done()
	slog.Info("worker stopping")
}

// modelAliases is the closed model-alias registry (§4.5 step 2). Rates and
// provider model ids are placeholders for the deployment's actual contract
// with its upstream provider adapter.
func modelAliases() []agentgw.ModelAlias {
	return []agentgw.ModelAlias{
		{
			Alias:             "fast",
			Provider:          "openai",
			ProviderModelID:   "gpt-4o-mini",
			InputMicroPerTok:  150,
			OutputMicroPerTok: 600,
			Mode:              agentgw.PlatformBudget,
		},
		{
			Alias:             "reasoning",
			Provider:          "anthropic",
			ProviderModelID:   "claude-sonnet",
			InputMicroPerTok:  3000,
			OutputMicroPerTok: 15000,
			Mode:              agentgw.PlatformBudget,
		},
		{
			Alias:             "byok",
			Provider:          "openai",
			ProviderModelID:   "gpt-4o",
			InputMicroPerTok:  0,
			OutputMicroPerTok: 0,
			Mode:              agentgw.BYOKNoBudget,
		},
	}
}
