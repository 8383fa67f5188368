package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/cohortly/cohortly/internal/api"
	"github.com/cohortly/cohortly/internal/config"
	"github.com/cohortly/cohortly/internal/logging"
)

// ServeCommand returns the CLI command for starting the API server
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the Cohortly API server",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port for the API server (overrides config)",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.LoadConfig(c.String("config"))
			if err != nil {
				return err
			}
			if port := c.Int("port"); port != 0 {
				cfg.Server.Port = port
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}

			logging.Setup(cfg.Log.Level, cfg.Log.Pretty)
			fmt.Printf("Starting Cohortly API server on port %d...\n", cfg.Server.Port)

			server, err := api.NewServer(cfg)
			if err != nil {
				return err
			}
			return server.Start()
		},
	}
}
