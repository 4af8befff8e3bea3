package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dukex/marketflow/pkg/cmd"
	"github.com/dukex/marketflow/pkg/log"
	"github.com/dukex/marketflow/pkg/scheduler"
	"github.com/jonboulle/clockwork"
	"github.com/urfave/cli/v3"
)

// NewSweepCommand runs one scheduler cadence and exits. It is meant for
// backfills and for deployments driving cadences from an external cron.
func NewSweepCommand() *cli.Command {
	return &cli.Command{
		Name:      "sweep",
		Usage:     "Run one cadence (poll, daily or hourly) and exit",
		ArgsUsage: "<poll|daily|hourly>",
		Flags:     cmd.StackFlags(),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.SetupWithFormat(command.String("log-level"), command.String("log-format"), os.Stderr)

			logger := log.WithModule(serviceName)

			cadence := command.Args().First()

			runCadence, err := parseCadence(cadence)
			if err != nil {
				return err
			}

			config, err := cmd.StackConfigFromCommand(command)
			if err != nil {
				return err
			}

			bus, err := cmd.NewEventBus(command.String("event-bus"), command.String("kafka-brokers"), serviceName, logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := bus.Close(); err != nil {
					logger.Error("Failed to close event bus", "error", err)
				}
			}()

			clock := clockwork.NewRealClock()

			stack, err := cmd.NewStack(ctx, logger, clock, bus, nil, config)
			if err != nil {
				return err
			}
			defer stack.Close(ctx, logger)

			s, err := scheduler.NewScheduler(stack.Persistence.WorkflowRepository(), stack.Executor, clock, logger, scheduler.Config{
				Location: config.Location,
			})
			if err != nil {
				return err
			}

			ran := runCadence(s, ctx)

			logger.InfoContext(ctx, "Cadence finished", "cadence", cadence, "runs", ran)

			return nil
		},
	}
}

var cadences = map[string]func(*scheduler.Scheduler, context.Context) int{
	"poll":   (*scheduler.Scheduler).Poll,
	"daily":  (*scheduler.Scheduler).DailySweep,
	"hourly": (*scheduler.Scheduler).HourlySweep,
}

func parseCadence(name string) (func(*scheduler.Scheduler, context.Context) int, error) {
	run, ok := cadences[name]
	if !ok {
		return nil, fmt.Errorf("unknown cadence %q, expected poll, daily or hourly", name)
	}

	return run, nil
}
