package cli

import (
	"fmt"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/app-explorer/pkg/config"
)

var configCommand = &cli.Command{
	Name:  "config",
	Usage: "Manage the configuration file",
	Subcommands: []*cli.Command{
		{
			Name:      "init",
			Usage:     "Write the default configuration",
			ArgsUsage: "[path]",
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:  "force",
					Usage: "Overwrite an existing file",
				},
			},
			Action: func(c *cli.Context) error {
				path := "config.yaml"
				if c.NArg() > 0 {
					path = c.Args().First()
				}
				if err := config.WriteDefault(path, c.Bool("force")); err != nil {
					return err
				}
				printSetupSuccess(c.App.Writer, "Wrote "+path)
				return nil
			},
		},
		{
			Name:  "show",
			Usage: "Print the effective configuration",
			Action: func(c *cli.Context) error {
				cfg, err := loadConfig(c)
				if err != nil {
					return err
				}
				cfg.Oracle.APIKey = redact(cfg.Oracle.APIKey)
				data, err := yaml.Marshal(cfg)
				if err != nil {
					return err
				}
				fmt.Fprint(c.App.Writer, string(data))
				return nil
			},
		},
	},
}

func redact(secret string) string {
	if secret == "" {
		return ""
	}
	return "****"
}
