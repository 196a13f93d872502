// Package cli provides the command-line interface for app-explorer.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/viper"
	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/app-explorer/pkg/config"
	"github.com/devicelab-dev/app-explorer/pkg/logger"
)

// Version is set at build time.
var Version = "dev"

// GlobalFlags are available to all commands. Flags that are set override
// the configuration file and environment.
var GlobalFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Configuration file (default: ./config.yaml if present)",
		EnvVars: []string{config.EnvPrefix + "_CONFIG"},
	},
	&cli.StringFlag{
		Name:    "device",
		Aliases: []string{"serial"},
		Usage:   "adb serial of the device to use",
		EnvVars: []string{"ANDROID_SERIAL"},
	},
	&cli.StringFlag{
		Name:    "driver",
		Aliases: []string{"d"},
		Usage:   "Driver to use (uiautomator2, mock)",
	},
	&cli.StringFlag{
		Name:    "app",
		Aliases: []string{"a"},
		Usage:   "Package of the application under test",
	},
	&cli.StringFlag{
		Name:  "mock-app",
		Usage: "YAML description of the scripted app (mock driver); the built-in demo when empty",
	},
	&cli.IntFlag{
		Name:  "driver-host-port",
		Usage: "UIAutomator2 server port on the device",
	},
	&cli.BoolFlag{
		Name:  "verbose",
		Usage: "Enable debug logging",
	},
	&cli.StringFlag{
		Name:  "log-file",
		Usage: "Also write JSON logs to this file (rotated)",
	},
	&cli.BoolFlag{
		Name:  "no-ansi",
		Usage: "Disable ANSI colors",
	},
}

// NewApp builds the CLI application.
func NewApp() *cli.App {
	return &cli.App{
		Name:    "app-explorer",
		Usage:   "Automatic functional exploration of Android applications",
		Version: Version,
		Description: `app-explorer drives an Android application through its user interface,
asks a language model which controls lead to sub-functions, and records the
screens and transitions it finds as a graph.

Examples:
  app-explorer -a com.example.app explore
  app-explorer -d mock explore --max-steps 100
  app-explorer -a com.example.app export --format mermaid --format html
  app-explorer -a com.example.app path Home "Notification settings"`,
		Flags: GlobalFlags,
		Before: func(c *cli.Context) error {
			if c.Bool("no-ansi") {
				colorsEnabled = false
			}
			return nil
		},
		Commands: []*cli.Command{
			exploreCommand,
			hierarchyCommand,
			exportCommand,
			pathCommand,
			configCommand,
		},
	}
}

// Execute runs the CLI.
func Execute() {
	if err := Run(os.Args, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// Run runs the CLI with args, writing command output to out.
func Run(args []string, out io.Writer) error {
	app := NewApp()
	app.Writer = out
	defer logger.Close()
	return app.Run(args)
}

// loadConfig reads the configuration and applies the global flags.
func loadConfig(c *cli.Context) (*config.Config, error) {
	v := config.NewViper(c.String("config"))
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if c.String("config") != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	overrides := map[string]string{
		"device":   "device.serial",
		"driver":   "device.driver",
		"app":      "app.package",
		"mock-app": "device.mock_app",
		"log-file": "logger.file",
	}
	for flag, key := range overrides {
		if c.IsSet(flag) {
			v.Set(key, c.String(flag))
		}
	}
	if c.IsSet("driver-host-port") {
		v.Set("device.port", c.Int("driver-host-port"))
	}
	if c.Bool("verbose") {
		v.Set("logger.level", "debug")
	}
	if c.Bool("no-ansi") {
		v.Set("logger.no_color", true)
	}

	return config.FromViper(v)
}

// setup loads the configuration and initializes logging.
func setup(c *cli.Context) (*config.Config, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	logger.Init(cfg.Logger)
	return cfg, nil
}
