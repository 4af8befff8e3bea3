package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dukex/marketflow/pkg/cmd"
	"github.com/dukex/marketflow/pkg/log"
	"github.com/jonboulle/clockwork"
	cli "github.com/urfave/cli/v3"
)

const (
	serviceName = "marketflow-api"
	defaultPort = 9091
)

func main() {
	app := &cli.Command{
		Name:                  serviceName,
		Usage:                 "Inspect executions, run workflows and ingest shop events",
		EnableShellCompletion: true,
		Flags: append(cmd.StackFlags(),
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
		),
		Action: run,
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.SetupWithFormat(command.String("log-level"), command.String("log-format"), os.Stderr)

	logger := log.WithModule(serviceName)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.InfoContext(ctx, "Initializing Marketflow API")

	config, err := cmd.StackConfigFromCommand(command)
	if err != nil {
		return err
	}

	tracer, shutdownTracer, err := cmd.NewTracer(ctx, command.Bool("otel-enabled"), serviceName)
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}

	defer func() {
		if err := shutdownTracer(context.WithoutCancel(ctx)); err != nil {
			logger.Error("Failed to shutdown tracer provider", "error", err)
		}
	}()

	eventBus, err := cmd.NewEventBus(command.String("event-bus"), command.String("kafka-brokers"), serviceName, logger)
	if err != nil {
		return err
	}

	defer func() {
		if err := eventBus.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	clock := clockwork.NewRealClock()

	stack, err := cmd.NewStack(ctx, logger, clock, eventBus, tracer, config)
	if err != nil {
		return err
	}
	defer stack.Close(context.WithoutCancel(ctx), logger)

	cmd.ServeMetrics(ctx, command.String("metrics-addr"), logger)

	api := NewAPI(logger, stack.Persistence, stack.Executor, eventBus, clock)
	app := api.App()

	go func() {
		<-ctx.Done()

		if err := app.Shutdown(); err != nil {
			logger.Error("Failed to shutdown API server", "error", err)
		}
	}()

	if err := app.Listen(fmt.Sprintf(":%d", command.Int("port"))); err != nil {
		logger.ErrorContext(ctx, "API server stopped", "error", err)

		return err
	}

	return nil
}
