package main

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/samber/lo"

	"github.com/phoeagon/picoforge/pico"
)

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func ledDriverName(d *uint8) string {
	if d == nil {
		return "-"
	}
	return pico.LedDriver(*d).String()
}

func writeText(w io.Writer, v any) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	row := func(k string, v any) { fmt.Fprintf(tw, "%s:\t%v\n", k, v) }

	switch v := v.(type) {
	case *pico.FullDeviceStatus:
		row("Method", v.Method)
		row("Serial", v.Info.Serial)
		row("Firmware", v.Info.FirmwareVersion)
		row("Flash", fmt.Sprintf("%d / %d KB", v.Info.FlashUsed, v.Info.FlashTotal))
		if v.Method == pico.MethodRescue {
			row("Secure boot", yesNo(v.SecureBoot))
			row("Secure lock", yesNo(v.SecureLock))
		}
		c := v.Config
		identity := c.VID + ":" + c.PID
		if p, ok := pico.MatchPreset(c.VID, c.PID); ok {
			identity += " (" + p.Label + ")"
		}
		row("USB identity", identity)
		row("Product name", c.ProductName)
		row("LED GPIO", c.LedGPIO)
		row("LED brightness", c.LedBrightness)
		row("LED driver", ledDriverName(c.LedDriver))
		row("LED dimmable", yesNo(c.LedDimmable))
		row("LED steady", yesNo(c.LedSteady))
		row("Power cycle on reset", yesNo(c.PowerCycleOnReset))
		row("Touch timeout", fmt.Sprintf("%ds", c.TouchTimeout))
		row("secp256k1", yesNo(c.EnableSecp256k1))

	case *pico.FidoDeviceInfo:
		row("Firmware", v.FirmwareVersion)
		row("AAGUID", v.AAGUID)
		row("Versions", strings.Join(v.Versions, ", "))
		row("Extensions", strings.Join(v.Extensions, ", "))
		row("PIN protocols", strings.Join(lo.Map(v.PinProtocols, func(p uint32, _ int) string {
			return fmt.Sprint(p)
		}), ", "))
		row("Min PIN length", v.MinPinLength)
		row("Max message size", v.MaxMsgSize)
		names := lo.Keys(v.Options)
		slices.Sort(names)
		for _, name := range names {
			row("Option "+name, v.Options[name])
		}

	case []pico.StoredCredential:
		if len(v) == 0 {
			fmt.Fprintln(tw, "No credentials stored")
			break
		}
		fmt.Fprintln(tw, "RP ID\tUSER\tDISPLAY NAME\tCREDENTIAL ID")
		for _, c := range v {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.RPID, c.UserName, c.UserDisplayName, c.CredentialID)
		}

	case []pico.VendorPreset:
		fmt.Fprintln(tw, "NAME\tVENDOR\tVID:PID")
		for _, p := range v {
			fmt.Fprintf(tw, "%s\t%s\t%s:%s\n", p.Name, p.Label, p.VID, p.PID)
		}

	case []string:
		for _, line := range v {
			fmt.Fprintln(tw, line)
		}

	default:
		fmt.Fprintf(tw, "%v\n", v)
	}
	return tw.Flush()
}
