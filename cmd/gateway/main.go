// Command gateway runs the Discord shard ingress pool (SPEC_FULL.md §4.1):
// one websocket session per shard, translating gateway events into bus
// envelopes and publishing them for the worker pool to consume.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/relaycord/core/internal/bus"
	"github.com/relaycord/core/internal/config"
	"github.com/relaycord/core/internal/gateway"
)

func main() {
	cfg := config.Get()

	if cfg.Gateway.DiscordToken == "" {
		log.Fatal("DISCORD_TOKEN is required to start the gateway ingress pool")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var eventBus bus.Bus
	if cfg.Bus.Driver == "pubsub" {
		pb, err := bus.NewPubSubBus(ctx, cfg.Bus.ProjectID, cfg.Bus.TopicID)
		if err != nil {
			log.Fatalf("Failed to initialize Pub/Sub bus: %v", err)
		}
		eventBus = pb
	} else {
		eventBus = bus.NewLocalBus(nil)
	}
	defer eventBus.Close()

	dialer := gateway.NewDiscordDialer(cfg.Gateway.DiscordToken, cfg.Gateway.TotalShards)
	metrics := gateway.NewPromMetrics(prometheus.DefaultRegisterer)
	pool := gateway.NewPool(dialer, eventBus, metrics)

	shardRange := make([]uint16, 0, cfg.Gateway.ShardRangeEnd-cfg.Gateway.ShardRangeStart+1)
	for id := cfg.Gateway.ShardRangeStart; id <= cfg.Gateway.ShardRangeEnd; id++ {
		shardRange = append(shardRange, uint16(id))
	}

	slog.Info("gateway ingress starting", "shards", shardRange, "total_shards", cfg.Gateway.TotalShards, "bus_driver", cfg.Bus.Driver)
	if err := pool.Run(ctx, shardRange, uint16(cfg.Gateway.TotalShards)); err != nil && ctx.Err() == nil {
		log.Fatalf("gateway: pool run failed: %v", err)
	}
	slog.Info("gateway ingress stopped")
}
