// Command api runs the administrative HTTP surface (SPEC_FULL.md §6A):
// tenant CRUD, API key lifecycle, signing-key rotation, reconciliation
// triggers, and four-eyes emergency rule approval.
package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	cloudtasks "cloud.google.com/go/cloudtasks/apiv2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/relaycord/core/internal/agentgw"
	"github.com/relaycord/core/internal/api"
	"github.com/relaycord/core/internal/config"
	"github.com/relaycord/core/internal/database"
	"github.com/relaycord/core/internal/ledgercore"
	"github.com/relaycord/core/internal/tenantctx"
	"github.com/relaycord/core/internal/wiring"
)

func main() {
	cfg := config.Get()

	supabaseClient, err := database.NewSupabaseClient()
	if err != nil {
		log.Fatalf("Failed to initialize Supabase client: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	identity := tenantctx.NewIdentity(supabaseClient)

	ledgerStore, err := ledgercore.NewStore(cfg.Ledger.PostgresDSN, ledgercore.NewMetrics(prometheus.DefaultRegisterer))
	if err != nil {
		log.Fatalf("Failed to open ledger store: %v", err)
	}
	defer ledgerStore.Close()

	signingKey, err := agentgw.GenerateSigningKey(cfg.AgentGW.SigningKeyID)
	if err != nil {
		log.Fatalf("Failed to generate signing key: %v", err)
	}
	minter := agentgw.NewMinter(signingKey)

	var sweep *ledgercore.SweepDispatcher
	if cfg.CloudTasks.Enabled {
		ctx := context.Background()
		tasksClient, err := cloudtasks.NewClient(ctx)
		if err != nil {
			slog.Warn("cloud tasks client unavailable, reconciliation trigger disabled", "error", err)
		} else {
			queuePath := "projects/" + cfg.CloudTasks.ProjectID + "/locations/" + cfg.CloudTasks.LocationID + "/queues/" + cfg.CloudTasks.QueueID
			sweep = ledgercore.NewSweepDispatcher(tasksClient, queuePath, "http://"+cfg.Server.Port)
		}
	}

	server := api.NewServer(
		supabaseClient,
		identity,
		wiring.NewLedgerReader(ledgerStore),
		wiring.NewSigningKeyRotator(minter, supabaseClient),
		reconciliationTrigger(sweep),
		wiring.NewRuleAuditStore(ledgerStore),
	)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      server,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSec) * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		slog.Info("admin api: received shutdown signal")
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			slog.Error("admin api: shutdown error", "error", err)
		}
		_ = rdb.Close()
	}()

	slog.Info("admin api starting", "port", cfg.Server.Port)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("admin api: server failed: %v", err)
	}
	slog.Info("admin api stopped")
}

// reconciliationTrigger returns nil-safe: api.NewServer accepts a nil
// ReconciliationTrigger when Cloud Tasks isn't configured for this
// environment (e.g. local development).
func reconciliationTrigger(sweep *ledgercore.SweepDispatcher) api.ReconciliationTrigger {
	if sweep == nil {
		return nil
	}
	return wiring.NewReconciliationTrigger(sweep)
}
