package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"yolooverlay/internal/app"
	"yolooverlay/internal/config"
)

func main() {
	cliApp := &cli.App{
		Name:  "yolooverlay",
		Usage: "YOLOv8 detection server with a live annotated view",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "env",
				Aliases: []string{"e"},
				Value:   ".env",
				Usage:   "load configuration from `FILE`; edits are applied while running",
				EnvVars: []string{"CONFIG_FILE"},
			},
		},
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the detection loop and web server (default)",
				Action: serve,
			},
			{
				Name:   "reindex",
				Usage:  "add catalogue entries for snapshot files missing from the database",
				Action: reindex,
			},
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		log.Fatalf("yolooverlay: %v", err)
	}
}

func serve(c *cli.Context) error {
	cfg, err := config.Load(c.String("env"))
	if err != nil {
		return err
	}

	application, err := app.NewApp(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return application.Run(ctx)
}

func reindex(c *cli.Context) error {
	cfg, err := config.Load(c.String("env"))
	if err != nil {
		return err
	}

	indexed, skipped, err := app.Reindex(cfg)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Indexed %d snapshots from %s", indexed, cfg.SnapshotDirectory)
	if skipped > 0 {
		fmt.Fprintf(c.App.Writer, ", skipped %d", skipped)
	}
	fmt.Fprintln(c.App.Writer)
	return nil
}
