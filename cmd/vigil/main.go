package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	cli "github.com/urfave/cli/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "vigil",
		Usage:   "real-time chat moderation daemon",
		Version: versioninfo.Short(),
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "gateway-host",
			Usage:   "method, hostname, and port of the chat platform gateway",
			Value:   "http://localhost:3900",
			EnvVars: []string{"VIGIL_GATEWAY_HOST"},
		},
		&cli.StringFlag{
			Name:    "gateway-token",
			Usage:   "bearer token for the chat platform gateway",
			EnvVars: []string{"VIGIL_GATEWAY_TOKEN"},
		},
		&cli.StringFlag{
			Name:    "ingest-host",
			Usage:   "websocket host to subscribe to for message events",
			Value:   "ws://localhost:3900",
			EnvVars: []string{"VIGIL_INGEST_HOST"},
		},
	}

	app.Commands = []*cli.Command{
		runCmd,
	}

	return app.Run(args)
}

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "run the service",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "database connection string (sqlite:// or postgresql://); empty runs in-memory",
			Value:   "sqlite://data/vigil/vigil.db",
			EnvVars: []string{"DATABASE_URL"},
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "redis connection for counters, caches, and cursor state; empty runs in-memory",
			EnvVars: []string{"VIGIL_REDIS_URL"},
		},
		&cli.StringFlag{
			Name:    "config",
			Usage:   "path to the group policy configuration JSON",
			EnvVars: []string{"VIGIL_CONFIG"},
		},
		&cli.StringFlag{
			Name:    "bind",
			Usage:   "IP or address, and port, to listen on for HTTP APIs",
			Value:   ":3995",
			EnvVars: []string{"VIGIL_BIND"},
		},
		&cli.StringFlag{
			Name:    "metrics-listen",
			Usage:   "IP or address, and port, to listen on for metrics APIs",
			Value:   ":3994",
			EnvVars: []string{"VIGIL_METRICS_LISTEN"},
		},
		&cli.StringFlag{
			Name:    "admin-token",
			Usage:   "bearer token required for the admin API",
			EnvVars: []string{"VIGIL_ADMIN_TOKEN"},
		},
		&cli.StringFlag{
			Name:    "webhook-url",
			Usage:   "incoming-webhook URL for moderation notifications",
			EnvVars: []string{"VIGIL_WEBHOOK_URL"},
		},
		&cli.StringFlag{
			Name:    "remote-analyzer-host",
			Usage:   "optional HTTP scoring service to include in analysis",
			EnvVars: []string{"VIGIL_REMOTE_ANALYZER_HOST"},
		},
		&cli.StringFlag{
			Name:    "remote-analyzer-token",
			EnvVars: []string{"VIGIL_REMOTE_ANALYZER_TOKEN"},
		},
		&cli.IntFlag{
			Name:    "workers",
			Usage:   "concurrent pipeline workers",
			Value:   8,
			EnvVars: []string{"VIGIL_WORKERS"},
		},
		&cli.DurationFlag{
			Name:    "budget",
			Usage:   "per-message analysis budget",
			Value:   2 * time.Second,
			EnvVars: []string{"VIGIL_BUDGET"},
		},
		&cli.DurationFlag{
			Name:    "analyzer-timeout",
			Usage:   "per-analyzer wall clock limit within the budget",
			Value:   time.Second,
			EnvVars: []string{"VIGIL_ANALYZER_TIMEOUT"},
		},
		&cli.Int64Flag{
			Name:    "user-messages-per-minute",
			Usage:   "per-user message frequency considered spammy; 0 disables",
			Value:   20,
			EnvVars: []string{"VIGIL_USER_MESSAGES_PER_MINUTE"},
		},
	},
	Action: func(cctx *cli.Context) error {
		ctx := context.Background()
		logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
		slog.SetDefault(logger)

		// Enable OTLP HTTP exporter
		// For relevant environment variables:
		// https://pkg.go.dev/go.opentelemetry.io/otel/exporters/otlp/otlptrace#readme-environment-variables
		// At a minimum, you need to set
		// OTEL_EXPORTER_OTLP_ENDPOINT=http://localhost:4318
		if ep := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); ep != "" {
			slog.Info("setting up trace exporter", "endpoint", ep)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			exp, err := otlptracehttp.New(ctx)
			if err != nil {
				log.Fatal("failed to create trace exporter", "error", err)
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				if err := exp.Shutdown(ctx); err != nil {
					slog.Error("failed to shutdown trace exporter", "error", err)
				}
			}()

			tp := tracesdk.NewTracerProvider(
				tracesdk.WithBatcher(exp),
				tracesdk.WithResource(resource.NewWithAttributes(
					semconv.SchemaURL,
					semconv.ServiceNameKey.String("vigil"),
					attribute.String("env", os.Getenv("ENVIRONMENT")),         // DataDog
					attribute.String("environment", os.Getenv("ENVIRONMENT")), // Others
					attribute.Int64("ID", 1),
				)),
			)
			otel.SetTracerProvider(tp)
		}

		srv, err := NewServer(Config{
			Logger:              logger,
			DatabaseURL:         cctx.String("database-url"),
			RedisURL:            cctx.String("redis-url"),
			ConfigPath:          cctx.String("config"),
			GatewayHost:         cctx.String("gateway-host"),
			GatewayToken:        cctx.String("gateway-token"),
			IngestHost:          cctx.String("ingest-host"),
			AdminToken:          cctx.String("admin-token"),
			WebhookURL:          cctx.String("webhook-url"),
			RemoteAnalyzerHost:  cctx.String("remote-analyzer-host"),
			RemoteAnalyzerToken: cctx.String("remote-analyzer-token"),
			Workers:             cctx.Int("workers"),
			Budget:              cctx.Duration("budget"),
			AnalyzerTimeout:     cctx.Duration("analyzer-timeout"),
			UserPerMinuteLimit:  cctx.Int64("user-messages-per-minute"),
		})
		if err != nil {
			return err
		}

		go func() {
			if err := srv.RunMetrics(cctx.String("metrics-listen")); err != nil {
				slog.Error("failed to start metrics endpoint", "error", err)
				panic(fmt.Errorf("failed to start metrics endpoint: %w", err))
			}
		}()
		go func() {
			if err := srv.RunAPI(cctx.String("bind")); err != nil {
				slog.Error("failed to start admin API", "error", err)
				panic(fmt.Errorf("failed to start admin API: %w", err))
			}
		}()

		if err := srv.Run(ctx); err != nil {
			return fmt.Errorf("failed to run moderation service: %w", err)
		}
		return nil
	},
}
