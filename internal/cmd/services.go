package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"

	"github.com/huddlechat/huddle/internal/auth"
	"github.com/huddlechat/huddle/internal/dispatch"
	"github.com/huddlechat/huddle/internal/gateway"
	"github.com/huddlechat/huddle/internal/membership"
	"github.com/huddlechat/huddle/internal/outbox"
	"github.com/huddlechat/huddle/internal/registry"
)

type Services struct {
	Registry   *registry.Registry
	Dispatcher *dispatch.Dispatcher
	Queue      *outbox.Queue
	Gateway    *gateway.Handler
	Consumer   *gateway.Consumer
}

// setupServices wires the dependency chain explicitly:
// store -> resolver/dispatcher -> queue -> gateway. Every component is
// constructed once here and injected; nothing is a process-wide singleton.
func setupServices(ctx context.Context, pool *pgxpool.Pool, config *Config) (*Services, error) {
	store := membership.NewRepository(pool)
	reg := registry.New(config.registryConfig(), clockwork.NewRealClock())
	dispatcher := dispatch.New(reg, store)
	queue := outbox.New(ctx)

	secret := getEnv("AUTH_SECRET", "")
	if secret == "" {
		return nil, fmt.Errorf("AUTH_SECRET environment variable is required")
	}
	authn := auth.NewTokenAuthenticator([]byte(secret))

	gw := gateway.NewHandler(reg, dispatcher, queue, authn, config.gatewayConfig())

	services := &Services{
		Registry:   reg,
		Dispatcher: dispatcher,
		Queue:      queue,
		Gateway:    gw,
	}

	if config.NATS.Enabled {
		consumer, err := gateway.NewConsumer(dispatcher, queue, config.consumerConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to create event consumer: %w", err)
		}
		services.Consumer = consumer
	}
	return services, nil
}
