package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	cli "github.com/urfave/cli/v2"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "skywatch-automod",
		Usage:   "moderation-action coordination daemon",
		Version: versioninfo.Short(),
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
			Name:    "labeler-host",
			Usage:   "hostname and port of the labeler to subscribe to",
			Value:   "mod.bsky.app",
			EnvVars: []string{"AUTOMOD_LABELER_HOST"},
		},
		&cli.StringFlag{
			Name:    "ozone-host",
			Usage:   "method, hostname, and port of the ozone moderation service",
			Value:   "https://mod.bsky.app",
			EnvVars: []string{"AUTOMOD_OZONE_HOST"},
		},
		&cli.StringFlag{
			Name:    "ozone-admin-token",
			EnvVars: []string{"AUTOMOD_OZONE_ADMIN_TOKEN"},
		},
		&cli.StringFlag{
			Name:    "ozone-admin-did",
			Usage:   "DID recorded as the author of emitted moderation events",
			EnvVars: []string{"AUTOMOD_OZONE_ADMIN_DID"},
		},
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "database connection string for the label mirror",
			Value:   "sqlite://data/automod/labels.db",
			EnvVars: []string{"DATABASE_URL"},
		},
		&cli.IntFlag{
			Name:    "max-db-connections",
			EnvVars: []string{"MAX_DB_CONNECTIONS"},
			Value:   40,
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "redis connection string for dedupe, counters, and cursor state",
			EnvVars: []string{"AUTOMOD_REDIS_URL"},
		},
		&cli.StringFlag{
			Name:    "tracked-labels-json",
			Usage:   "path to JSON file of tracked-label escalation configs",
			EnvVars: []string{"AUTOMOD_TRACKED_LABELS_JSON"},
		},
		&cli.IntFlag{
			Name:    "api-concurrency",
			Usage:   "max concurrent requests against the moderation API",
			Value:   24,
			EnvVars: []string{"AUTOMOD_API_CONCURRENCY"},
		},
		&cli.IntFlag{
			Name:    "queue-workers",
			Value:   8,
			EnvVars: []string{"AUTOMOD_QUEUE_WORKERS"},
		},
		&cli.StringFlag{
			Name:    "metrics-listen",
			Usage:   "IP or address, and port, to listen on for metrics APIs",
			Value:   ":3989",
			EnvVars: []string{"AUTOMOD_METRICS_LISTEN"},
		},
	},
	Action: func(cctx *cli.Context) error {
		logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
		slog.SetDefault(logger)

		srv, err := NewServer(Config{
			LabelerHost:      cctx.String("labeler-host"),
			OzoneHost:        cctx.String("ozone-host"),
			OzoneAdminToken:  cctx.String("ozone-admin-token"),
			OzoneAdminDID:    cctx.String("ozone-admin-did"),
			DatabaseURL:      cctx.String("database-url"),
			MaxDBConnections: cctx.Int("max-db-connections"),
			RedisURL:         cctx.String("redis-url"),
			TrackedLabels:    cctx.String("tracked-labels-json"),
			APIConcurrency:   cctx.Int("api-concurrency"),
			QueueWorkers:     cctx.Int("queue-workers"),
			Logger:           logger,
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

		if err := srv.Run(cctx.Context); err != nil {
			return fmt.Errorf("failed to run automod service: %w", err)
		}
		return nil
	},
}
