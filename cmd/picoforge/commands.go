package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/samber/lo"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/phoeagon/picoforge/config"
	"github.com/phoeagon/picoforge/pico"
)

func (a *app) statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Read identity, flash usage and configuration, over Rescue or FIDO",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			st, err := a.mgr.ReadDeviceDetails()
			if err != nil {
				return err
			}
			return a.render(cmd, st)
		},
	}
}

func (a *app) infoCommand() *cli.Command {
	return &cli.Command{
		Name:  "info",
		Usage: "Show the FIDO authenticator information",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			info, err := a.mgr.GetFidoInfo()
			if err != nil {
				return err
			}
			return a.render(cmd, info)
		},
	}
}

func (a *app) configCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Change the device configuration",
		Commands: []*cli.Command{
			{
				Name:  "set",
				Usage: "Write the given fields over the protocol the device answers on",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "preset", Usage: "Vendor preset name, see 'picoforge presets'"},
					&cli.StringFlag{Name: "vid", Usage: "USB vendor ID (hex)"},
					&cli.StringFlag{Name: "pid", Usage: "USB product ID (hex)"},
					&cli.StringFlag{Name: "product-name", Usage: "USB product name"},
					&cli.IntFlag{Name: "led-gpio", Usage: "LED GPIO pin"},
					&cli.IntFlag{Name: "led-brightness", Usage: "LED brightness"},
					&cli.IntFlag{Name: "led-driver", Usage: "LED driver: 1 GPIO, 2 Pimoroni, 3 WS2812, 5 ESP32 Neopixel"},
					&cli.IntFlag{Name: "touch-timeout", Usage: "User presence timeout in seconds"},
					&cli.BoolFlag{Name: "led-dimmable", Usage: "Allow the LED to dim"},
					&cli.BoolFlag{Name: "led-steady", Usage: "Keep the LED steady instead of blinking"},
					&cli.BoolFlag{Name: "power-cycle-on-reset", Usage: "Power cycle the key on reset"},
					&cli.BoolFlag{Name: "secp256k1", Usage: "Enable the secp256k1 curve"},
					pinFlag(),
				},
				Action: a.configSet,
			},
			{
				Name:      "apply",
				Usage:     "Make the device match a configuration file (YAML or JSON)",
				ArgsUsage: "FILE",
				Flags:     []cli.Flag{pinFlag()},
				Action:    a.configApply,
			},
			{
				Name:  "init",
				Usage: "Write the default picoforge configuration file",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "force", Usage: "Overwrite an existing file"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					path := cmd.String("config")
					if _, err := os.Stat(path); err == nil && !cmd.Bool("force") {
						return fmt.Errorf("%s already exists, use --force to overwrite", path)
					}
					if err := config.DefaultConfig().Save(path); err != nil {
						return err
					}
					return a.message(cmd, "Wrote "+path)
				},
			},
		},
	}
}

func byteFlag(cmd *cli.Command, name string) (*uint8, error) {
	if !cmd.IsSet(name) {
		return nil, nil
	}
	v := cmd.Int(name)
	if v < 0 || v > 255 {
		return nil, fmt.Errorf("--%s must be between 0 and 255", name)
	}
	return lo.ToPtr(uint8(v)), nil
}

func boolFlag(cmd *cli.Command, name string) *bool {
	if !cmd.IsSet(name) {
		return nil
	}
	return lo.ToPtr(cmd.Bool(name))
}

func stringFlag(cmd *cli.Command, name string) *string {
	if !cmd.IsSet(name) {
		return nil
	}
	return lo.ToPtr(cmd.String(name))
}

// configInput collects the flags of 'config set'. Fields the device only
// accepts together are completed from current.
func configInput(cmd *cli.Command, current pico.AppConfig) (pico.AppConfigInput, error) {
	var in pico.AppConfigInput
	var err error

	in.VID, in.PID = stringFlag(cmd, "vid"), stringFlag(cmd, "pid")
	if name := cmd.String("preset"); name != "" {
		p, ok := pico.FindPreset(name)
		if !ok {
			return in, fmt.Errorf("unknown preset %q", name)
		}
		in.VID, in.PID = lo.ToPtr(p.VID), lo.ToPtr(p.PID)
	}
	for _, id := range []**string{&in.VID, &in.PID} {
		if *id == nil {
			continue
		}
		v, err := pico.NormalizeVidPid(**id)
		if err != nil {
			return in, err
		}
		*id = &v
	}
	if in.VID != nil || in.PID != nil {
		in.VID = lo.ToPtr(lo.FromPtrOr(in.VID, current.VID))
		in.PID = lo.ToPtr(lo.FromPtrOr(in.PID, current.PID))
	}

	in.ProductName = stringFlag(cmd, "product-name")
	if in.LedGPIO, err = byteFlag(cmd, "led-gpio"); err != nil {
		return in, err
	}
	if in.LedBrightness, err = byteFlag(cmd, "led-brightness"); err != nil {
		return in, err
	}
	if in.TouchTimeout, err = byteFlag(cmd, "touch-timeout"); err != nil {
		return in, err
	}
	if in.LedDriver, err = byteFlag(cmd, "led-driver"); err != nil {
		return in, err
	}
	if in.LedDriver != nil && !pico.LedDriver(*in.LedDriver).Valid() {
		return in, fmt.Errorf("unknown LED driver %d", *in.LedDriver)
	}

	in.LedDimmable = boolFlag(cmd, "led-dimmable")
	in.LedSteady = boolFlag(cmd, "led-steady")
	in.PowerCycleOnReset = boolFlag(cmd, "power-cycle-on-reset")
	if in.HasOptions() {
		in.LedDimmable = lo.ToPtr(lo.FromPtrOr(in.LedDimmable, current.LedDimmable))
		in.LedSteady = lo.ToPtr(lo.FromPtrOr(in.LedSteady, current.LedSteady))
		in.PowerCycleOnReset = lo.ToPtr(lo.FromPtrOr(in.PowerCycleOnReset, current.PowerCycleOnReset))
	}
	in.EnableSecp256k1 = boolFlag(cmd, "secp256k1")
	return in, nil
}

func (a *app) configSet(ctx context.Context, cmd *cli.Command) error {
	st, err := a.mgr.ReadDeviceDetails()
	if err != nil {
		return err
	}
	in, err := configInput(cmd, st.Config)
	if err != nil {
		return err
	}
	if in.IsEmpty() {
		return a.message(cmd, "No changes to apply")
	}

	var pin *string
	if st.Method == pico.MethodFido {
		p, err := a.pin(cmd, "pin", "Device PIN: ")
		if err != nil {
			return err
		}
		pin = &p
	}
	msg, err := a.mgr.WriteConfig(in, st.Method, pin)
	if err != nil {
		return err
	}
	return a.message(cmd, msg)
}

func (a *app) configApply(ctx context.Context, cmd *cli.Command) error {
	if cmd.NArg() != 1 {
		return errors.New("expected exactly one configuration file")
	}
	content, err := os.ReadFile(cmd.Args().First())
	if err != nil {
		return err
	}
	// YAML is a superset of JSON
	var desired pico.AppConfig
	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)
	if err := dec.Decode(&desired); err != nil {
		return fmt.Errorf("parse %s: %w", cmd.Args().First(), err)
	}
	for _, id := range []*string{&desired.VID, &desired.PID} {
		if *id, err = pico.NormalizeVidPid(*id); err != nil {
			return err
		}
	}

	var pin *string
	if cmd.IsSet("pin") {
		pin = lo.ToPtr(cmd.String("pin"))
	}
	st, msg, err := a.mgr.Apply(desired, pin)
	if err != nil {
		return err
	}
	if cmd.String("output") == outputText {
		fmt.Fprintln(a.stdout, msg)
	}
	return a.render(cmd, st)
}

func (a *app) rebootCommand() *cli.Command {
	return &cli.Command{
		Name:  "reboot",
		Usage: "Restart the key (Rescue only)",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "bootloader", Usage: "Reboot into the BOOTSEL bootloader"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			msg, err := a.mgr.Reboot(cmd.Bool("bootloader"))
			if err != nil {
				return err
			}
			return a.message(cmd, msg)
		},
	}
}

func (a *app) secureBootCommand() *cli.Command {
	return &cli.Command{
		Name:  "secure-boot",
		Usage: "Enable secure boot (Rescue only)",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "lock", Usage: "Also lock the chip. This cannot be undone"},
			&cli.BoolFlag{Name: "yes", Usage: "Confirm locking"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			lock := cmd.Bool("lock")
			if lock && !cmd.Bool("yes") {
				return errors.New("locking secure boot is permanent, pass --yes to confirm")
			}
			msg, err := a.mgr.EnableSecureBoot(lock)
			if err != nil {
				return err
			}
			return a.message(cmd, msg)
		},
	}
}

func (a *app) pinCommand() *cli.Command {
	return &cli.Command{
		Name:  "pin",
		Usage: "Manage the FIDO PIN",
		Commands: []*cli.Command{
			{
				Name:  "set",
				Usage: "Set the PIN of a key that has none",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "new", Usage: "New PIN (prompted when omitted)"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					newPIN, err := a.pin(cmd, "new", "New PIN: ")
					if err != nil {
						return err
					}
					msg, err := a.mgr.ChangeFidoPIN(nil, newPIN)
					if err != nil {
						return err
					}
					return a.message(cmd, msg)
				},
			},
			{
				Name:  "change",
				Usage: "Change the PIN",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "current", Usage: "Current PIN (prompted when omitted)"},
					&cli.StringFlag{Name: "new", Usage: "New PIN (prompted when omitted)"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					current, err := a.pin(cmd, "current", "Current PIN: ")
					if err != nil {
						return err
					}
					newPIN, err := a.pin(cmd, "new", "New PIN: ")
					if err != nil {
						return err
					}
					msg, err := a.mgr.ChangeFidoPIN(&current, newPIN)
					if err != nil {
						return err
					}
					return a.message(cmd, msg)
				},
			},
			{
				Name:      "min-length",
				Usage:     "Raise the minimum PIN length",
				ArgsUsage: "LENGTH",
				Flags:     []cli.Flag{pinFlag()},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					n, err := strconv.ParseUint(cmd.Args().First(), 10, 8)
					if err != nil || n == 0 {
						return fmt.Errorf("invalid PIN length %q", cmd.Args().First())
					}
					pin, err := a.pin(cmd, "pin", "Current PIN: ")
					if err != nil {
						return err
					}
					msg, err := a.mgr.SetMinPinLength(pin, uint8(n))
					if err != nil {
						return err
					}
					return a.message(cmd, msg)
				},
			},
			{
				Name:  "retries",
				Usage: "Show the remaining PIN attempts",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					n, err := a.mgr.PinRetries()
					if err != nil {
						return err
					}
					if cmd.String("output") == outputText {
						_, err = fmt.Fprintf(a.stdout, "%d PIN attempts left\n", n)
						return err
					}
					return a.render(cmd, map[string]uint{"retries": n})
				},
			},
		},
	}
}

func (a *app) credsCommand() *cli.Command {
	return &cli.Command{
		Name:  "creds",
		Usage: "Manage discoverable credentials (passkeys)",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List stored credentials",
				Flags: []cli.Flag{pinFlag()},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					pin, err := a.pin(cmd, "pin", "Device PIN: ")
					if err != nil {
						return err
					}
					creds, err := a.mgr.GetCredentials(pin)
					if err != nil {
						return err
					}
					return a.render(cmd, creds)
				},
			},
			{
				Name:      "delete",
				Usage:     "Delete a credential by its hex ID",
				ArgsUsage: "CREDENTIAL_ID",
				Flags:     []cli.Flag{pinFlag()},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					if cmd.NArg() != 1 {
						return errors.New("expected exactly one credential ID")
					}
					pin, err := a.pin(cmd, "pin", "Device PIN: ")
					if err != nil {
						return err
					}
					msg, err := a.mgr.DeleteCredential(pin, cmd.Args().First())
					if err != nil {
						return err
					}
					return a.message(cmd, msg)
				},
			},
		},
	}
}

func (a *app) presetsCommand() *cli.Command {
	return &cli.Command{
		Name:  "presets",
		Usage: "List the vendor VID:PID presets",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return a.render(cmd, pico.VendorPresets)
		},
	}
}

func (a *app) logsCommand() *cli.Command {
	return &cli.Command{
		Name:  "logs",
		Usage: "Read the device and print the captured protocol log",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if _, err := a.mgr.ReadDeviceDetails(); err != nil {
				a.logs.Logger.Error("device read failed", "error", err)
			}
			return a.render(cmd, a.logs.Ring.Snapshot())
		},
	}
}
