package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/phoeagon/picoforge/config"
	"github.com/phoeagon/picoforge/device"
	"github.com/phoeagon/picoforge/fido"
	"github.com/phoeagon/picoforge/logging"
	"github.com/phoeagon/picoforge/rescue"
)

// Output formats.
const (
	outputText = "text"
	outputJSON = "json"
	outputYAML = "yaml"
)

type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	output string

	cfg  *config.Config
	logs *logging.Logging
	mgr  *device.Manager

	newManager func(cfg *config.Config, logger *slog.Logger) *device.Manager

	// readPassword reads a line without echo; nil when stdin is not a terminal.
	readPassword func() ([]byte, error)
}

func newApp() *app {
	return &app{
		stdin:        os.Stdin,
		stdout:       os.Stdout,
		stderr:       os.Stderr,
		readPassword: terminalPassword(),
		newManager:   newManager,
	}
}

func newManager(cfg *config.Config, logger *slog.Logger) *device.Manager {
	return device.New(
		device.WithLogger(logger),
		device.WithRescue(rescue.New(
			rescue.WithLogger(logger),
			rescue.WithReaderFilter(cfg.PCSC.Reader),
		)),
		device.WithFido(fido.New(
			fido.WithLogger(logger),
			fido.WithPinProtocol(cfg.FIDO.PinProtocol),
			fido.WithTransportOptions(cfg.HIDOptions()...),
		)),
	)
}

func (a *app) command() *cli.Command {
	return &cli.Command{
		Name:  "picoforge",
		Usage: "Configure and manage Pico FIDO security keys",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "Configuration file (TOML, or YAML by extension)",
				Value: config.DefaultPath(),
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Output format: text, json or yaml",
				Value:   outputText,
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Override the configured log level",
			},
			&cli.StringFlag{
				Name:  "reader",
				Usage: "Use the first PC/SC reader whose name contains this text",
			},
		},
		Before: a.setup,
		After:  a.teardown,
		Commands: []*cli.Command{
			a.statusCommand(),
			a.infoCommand(),
			a.configCommand(),
			a.rebootCommand(),
			a.secureBootCommand(),
			a.pinCommand(),
			a.credsCommand(),
			a.presetsCommand(),
			a.logsCommand(),
		},
	}
}

func (a *app) setup(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	switch a.output = cmd.String("output"); a.output {
	case outputText, outputJSON, outputYAML:
	default:
		return ctx, fmt.Errorf("invalid output format %q", a.output)
	}

	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return ctx, err
	}
	if cmd.IsSet("log-level") {
		cfg.Log.Level = cmd.String("log-level")
	}
	if cmd.IsSet("reader") {
		cfg.PCSC.Reader = cmd.String("reader")
	}
	a.cfg = cfg

	logs, err := logging.Setup(cfg.Log, a.stderr)
	if err != nil {
		return ctx, err
	}
	a.logs = logs

	a.mgr = a.newManager(cfg, logs.Logger)
	return ctx, nil
}

func (a *app) teardown(context.Context, *cli.Command) error {
	if a.logs == nil {
		return nil
	}
	return a.logs.Close()
}

// render writes v in the selected output format. text renders through
// writeText.
func (a *app) render(cmd *cli.Command, v any) error {
	switch cmd.String("output") {
	case outputJSON:
		enc := json.NewEncoder(a.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case outputYAML:
		enc := yaml.NewEncoder(a.stdout)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	return writeText(a.stdout, v)
}

// message renders a status message returned by a device operation.
func (a *app) message(cmd *cli.Command, msg string) error {
	if cmd.String("output") == outputText {
		_, err := fmt.Fprintln(a.stdout, msg)
		return err
	}
	return a.render(cmd, map[string]string{"message": msg})
}
