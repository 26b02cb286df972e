package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/hookdeck/taskd/internal/app"
	"github.com/hookdeck/taskd/internal/config"
	"github.com/hookdeck/taskd/internal/version"
	"github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:    "taskd",
		Usage:   "taskd - HTTP service with an rpc consumer and keepalive watcher",
		Version: version.Version(),
		Commands: []*cli.Command{
			serveCommand(),
			versionCommand(),
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return cli.ShowAppHelp(c)
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP server and the background workers",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "Path to a YAML or .env config file",
			},
			&cli.BoolFlag{
				Name:  "keepalive",
				Usage: "Start the keepalive watcher regardless of the task mode",
			},
			&cli.StringFlag{
				Name:  "host",
				Usage: "Listen address, overrides LISTEN_ADDRESS",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "Listen port, overrides LISTEN_PORT",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug mode",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := config.Parse(config.Flags{
				Config:        c.String("config"),
				ListenAddress: c.String("host"),
				ListenPort:    int(c.Int("port")),
				Debug:         c.Bool("debug"),
			})
			if err != nil {
				return err
			}

			return app.New(cfg, app.WithKeepalive(c.Bool("keepalive"))).Run(ctx)
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print build information",
		Action: func(ctx context.Context, c *cli.Command) error {
			enc := json.NewEncoder(c.Root().Writer)
			enc.SetIndent("", "  ")
			return enc.Encode(version.Get())
		},
	}
}
