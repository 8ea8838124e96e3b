package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/stepflow-io/stepflow"
	"github.com/stepflow-io/stepflow/api"
	"github.com/stepflow-io/stepflow/engine"
	"github.com/stepflow-io/stepflow/faults"
	"github.com/stepflow-io/stepflow/store"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	history, err := buildHistoryStore(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize history store")
	}

	executor := engine.New(
		engine.WithLogger(log.Logger),
		engine.WithDefaultAction(defaultRegistry()),
		engine.WithHistory(history),
		engine.WithFaultHandler(faults.NewHandler(faults.WithLogger(log.Logger))),
	)

	server := api.NewServer(executor,
		api.WithLogger(log.Logger),
		api.WithHistory(history),
	)

	addr := os.Getenv("STEPFLOW_ADDR")
	if addr == "" {
		addr = ":3000"
	}

	log.Info().Msg("Workflow executor initialized successfully")
	if err := server.Listen(ctx, addr); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server stopped")
}

// buildHistoryStore picks DynamoDB when a table is configured and falls
// back to the in-memory store otherwise
func buildHistoryStore(ctx context.Context) (stepflow.HistoryStore, error) {
	tableName := os.Getenv("STEPFLOW_DYNAMODB_TABLE")
	if tableName == "" {
		return store.NewMemoryStore(), nil
	}
	client, err := store.NewDefaultClient(ctx)
	if err != nil {
		return nil, err
	}
	return store.NewDynamoDBStore(client, tableName), nil
}

// defaultRegistry serves workflows submitted over HTTP. The built-in
// handlers echo their resolved config; deployments register real ones.
func defaultRegistry() *stepflow.ActionRegistry {
	registry := stepflow.NewActionRegistry()
	echo := func(ctx context.Context, stepType stepflow.StepType, config map[string]any) (any, error) {
		return map[string]any{
			"type":   stepType.String(),
			"config": config,
		}, nil
	}
	for stepType := range stepflow.KnownStepTypes {
		registry.Register(stepType, echo)
	}
	return registry
}
