// Command subopctl encodes, decodes and replays replicated sub-op reply frames.
//
// Usage:
//
//	subopctl [--config node.toml] <command> [options]
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/danmuck/replack/internal/config"
	"github.com/danmuck/replack/internal/logging"
	"github.com/urfave/cli/v2"
)

func main() {
	logging.ConfigureRuntime()
	app := newApp(os.Stdout)
	app.ExitErrHandler = exitErrHandler
	if err := app.Run(os.Args); err != nil {
		os.Exit(1)
	}
}

func newApp(out io.Writer) *cli.App {
	return &cli.App{
		Name:     "subopctl",
		Usage:    "Inspect replicated sub-op reply frames",
		Writer:   out,
		Metadata: map[string]interface{}{},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "node config (TOML); defaults apply when unset",
				EnvVars: []string{"REPLACK_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "override log level (trace, debug, info, warn, error, off)",
			},
		},
		Before: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return cli.Exit(err.Error(), 2)
			}
			level := cfg.LogLevel
			if c.IsSet("log-level") {
				level = c.String("log-level")
			}
			if err := logging.SetLevel(level); err != nil {
				return cli.Exit(err.Error(), 2)
			}
			c.App.Metadata[configKey] = cfg
			return nil
		},
		Commands: []*cli.Command{
			encodeCommand(),
			decodeCommand(),
			replayCommand(),
			configCommand(),
		},
	}
}

const configKey = "config"

// appConfig returns the config resolved by the app's Before hook.
func appConfig(c *cli.Context) config.Config {
	if cfg, ok := c.App.Metadata[configKey].(config.Config); ok {
		return cfg
	}
	return config.Default()
}

func loadConfig(c *cli.Context) (config.Config, error) {
	path := c.String("config")
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}
	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		if msg := exitCoder.Error(); msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(code)
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
