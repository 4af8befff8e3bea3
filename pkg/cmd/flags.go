package cmd

import (
	"fmt"
	"time"

	"github.com/dukex/marketflow/pkg/dispatch"
	"github.com/dukex/marketflow/pkg/lock"
	"github.com/dukex/marketflow/pkg/transport"
	"github.com/urfave/cli/v3"
)

// StackFlags are the flags every binary running workflows accepts.
func StackFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "database-url",
			Usage:    "Workflow store URL (postgres://... or a file store directory)",
			Required: true,
			Sources:  cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "crm-database-url",
			Usage:   "CRM database URL for customers and coupons (defaults to database-url)",
			Sources: cli.EnvVars("CRM_DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus type (kafka, gochannel)",
			Value:   "gochannel",
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringFlag{
			Name:    "kafka-brokers",
			Usage:   "Comma separated Kafka brokers",
			Value:   "localhost:9092",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "Redis URL for distributed run locks and the event inbox",
			Sources: cli.EnvVars("REDIS_URL"),
		},
		&cli.DurationFlag{
			Name:    "lock-ttl",
			Usage:   "How long a run lock survives a crashed holder",
			Value:   lock.DefaultTTL,
			Sources: cli.EnvVars("LOCK_TTL"),
		},
		&cli.StringFlag{
			Name:     "gateway-url",
			Usage:    "Messaging gateway base URL",
			Required: true,
			Sources:  cli.EnvVars("GATEWAY_URL"),
		},
		&cli.StringFlag{
			Name:    "gateway-api-key",
			Usage:   "Bearer token for the messaging gateway",
			Sources: cli.EnvVars("GATEWAY_API_KEY"),
		},
		&cli.DurationFlag{
			Name:    "gateway-timeout",
			Usage:   "Timeout of a single gateway request",
			Value:   transport.DefaultTimeout,
			Sources: cli.EnvVars("GATEWAY_TIMEOUT"),
		},
		&cli.IntFlag{
			Name:    "gateway-retries",
			Usage:   "Attempts per gateway request on server errors",
			Value:   2,
			Sources: cli.EnvVars("GATEWAY_RETRIES"),
		},
		&cli.DurationFlag{
			Name:    "send-timeout",
			Usage:   "Upper bound for delivering to one customer",
			Value:   dispatch.DefaultSendTimeout,
			Sources: cli.EnvVars("SEND_TIMEOUT"),
		},
		&cli.IntFlag{
			Name:    "send-concurrency",
			Usage:   "Customers messaged in parallel within one run",
			Value:   8,
			Sources: cli.EnvVars("SEND_CONCURRENCY"),
		},
		&cli.StringFlag{
			Name:    "timezone",
			Usage:   "IANA time zone for send times, sweeps and day boundaries",
			Value:   "UTC",
			Sources: cli.EnvVars("TIMEZONE"),
		},
		&cli.StringFlag{
			Name:    "metrics-addr",
			Usage:   "Address serving Prometheus metrics; empty disables it",
			Value:   ":9464",
			Sources: cli.EnvVars("METRICS_ADDR"),
		},
		&cli.BoolFlag{
			Name:    "otel-enabled",
			Usage:   "Export traces over OTLP/HTTP",
			Sources: cli.EnvVars("OTEL_ENABLED"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "Log format (text, json)",
			Value:   "text",
			Sources: cli.EnvVars("LOG_FORMAT"),
		},
	}
}

// StackConfigFromCommand reads the StackFlags values.
func StackConfigFromCommand(command *cli.Command) (StackConfig, error) {
	location, err := time.LoadLocation(command.String("timezone"))
	if err != nil {
		return StackConfig{}, fmt.Errorf("invalid timezone: %w", err)
	}

	return StackConfig{
		DatabaseURL:    command.String("database-url"),
		CRMDatabaseURL: command.String("crm-database-url"),
		RedisURL:       command.String("redis-url"),
		GatewayURL:     command.String("gateway-url"),
		GatewayAPIKey:  command.String("gateway-api-key"),
		GatewayTimeout: command.Duration("gateway-timeout"),
		GatewayRetries: command.Int("gateway-retries"),
		Location:       location,
		MaxConcurrency: command.Int("send-concurrency"),
		SendTimeout:    command.Duration("send-timeout"),
		LockTTL:        command.Duration("lock-ttl"),
	}, nil
}
