package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukex/marketflow/pkg/cmd"
	"github.com/dukex/marketflow/pkg/inbox"
	"github.com/dukex/marketflow/pkg/log"
	"github.com/dukex/marketflow/pkg/scheduler"
	"github.com/jonboulle/clockwork"
	"github.com/urfave/cli/v3"
)

const serviceName = "marketflow-engine"

func NewRunCommand() *cli.Command {
	return &cli.Command{
		Name:    "run",
		Aliases: []string{"r"},
		Usage:   "Start the engine",
		Flags: append(cmd.StackFlags(),
			&cli.DurationFlag{
				Name:    "poll-interval",
				Usage:   "How often due workflows are looked up",
				Value:   scheduler.DefaultPollInterval,
				Sources: cli.EnvVars("POLL_INTERVAL"),
			},
			&cli.StringFlag{
				Name:    "daily-sweep-cron",
				Usage:   "Cron spec of the birthday and anniversary sweep",
				Value:   scheduler.DefaultDailySweepCron,
				Sources: cli.EnvVars("DAILY_SWEEP_CRON"),
			},
			&cli.StringFlag{
				Name:    "hourly-sweep-cron",
				Usage:   "Cron spec of the visit-cycle and churn sweep",
				Value:   scheduler.DefaultHourlySweepCron,
				Sources: cli.EnvVars("HOURLY_SWEEP_CRON"),
			},
			&cli.IntFlag{
				Name:    "parallelism",
				Usage:   "Distinct workflows run at once by the scheduler",
				Value:   4,
				Sources: cli.EnvVars("SCHEDULER_PARALLELISM"),
			},
			&cli.StringFlag{
				Name:    "inbox-queue",
				Usage:   "Redis list consumed as an event inbox",
				Value:   inbox.DefaultQueue,
				Sources: cli.EnvVars("INBOX_QUEUE"),
			},
		),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.SetupWithFormat(command.String("log-level"), command.String("log-format"), os.Stderr)

			logger := log.WithModule(serviceName)

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

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

			bus, err := cmd.NewEventBus(command.String("event-bus"), command.String("kafka-brokers"), serviceName, logger)
			if err != nil {
				return err
			}

			clock := clockwork.NewRealClock()

			stack, err := cmd.NewStack(ctx, logger, clock, bus, tracer, config)
			if err != nil {
				_ = bus.Close()

				return err
			}
			defer stack.Close(context.WithoutCancel(ctx), logger)

			engine, err := NewEngine(logger, clock, bus, stack, scheduler.Config{
				PollInterval:    command.Duration("poll-interval"),
				DailySweepCron:  command.String("daily-sweep-cron"),
				HourlySweepCron: command.String("hourly-sweep-cron"),
				Location:        config.Location,
				Parallelism:     command.Int("parallelism"),
			}, command.String("inbox-queue"))
			if err != nil {
				_ = bus.Close()

				return err
			}

			cmd.ServeMetrics(ctx, command.String("metrics-addr"), logger)

			if err := engine.Start(ctx); err != nil {
				engine.Stop(context.WithoutCancel(ctx))

				return err
			}

			<-ctx.Done()

			stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			defer cancel()

			engine.Stop(stopCtx)

			return nil
		},
	}
}
