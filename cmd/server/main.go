package main

import (
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "repair-sync",
		Usage: "repair booking, tracking and payment backend",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "log-format", EnvVars: []string{"LOG_FORMAT"}, Usage: "text or json (default json when APP_ENV=prod)"},
			&cli.StringFlag{Name: "log-level", Value: "info", EnvVars: []string{"LOG_LEVEL"}},
		},
		Before: setupLogging,
		Commands: []*cli.Command{
			serveCommand(),
			migrateCommand(),
			invoiceWorkerCommand(),
			watchCommand(),
			simulateRouteCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.WithError(err).Fatal("repair-sync failed")
	}
}

func setupLogging(c *cli.Context) error {
	format := c.String("log-format")
	if format == "" && os.Getenv("APP_ENV") == "prod" {
		format = "json"
	}
	if strings.EqualFold(format, "json") {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	lvl, err := log.ParseLevel(c.String("log-level"))
	if err != nil {
		return err
	}
	log.SetLevel(lvl)
	return nil
}
