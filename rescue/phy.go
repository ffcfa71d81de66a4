package rescue

import (
	"bytes"
	"encoding/binary"
	"unicode/utf8"

	"github.com/samber/lo"

	"github.com/phoeagon/picoforge/pferr"
	"github.com/phoeagon/picoforge/pico"
)

var enc = binary.BigEndian

func appendRecord(dst []byte, tag byte, value ...byte) []byte {
	dst = append(dst, tag, byte(len(value)))
	return append(dst, value...)
}

// EncodeTLV encodes the fields present in in as a physical configuration
// blob. VID and PID are only written together, and the option flags only
// when all three are present.
func EncodeTLV(in pico.AppConfigInput) ([]byte, error) {
	var tlv []byte

	if in.VID != nil && in.PID != nil {
		vid, err := pico.ParseVidPid(*in.VID)
		if err != nil {
			return nil, pferr.Io("Invalid VID")
		}
		pid, err := pico.ParseVidPid(*in.PID)
		if err != nil {
			return nil, pferr.Io("Invalid PID")
		}
		tlv = appendRecord(tlv, TagVidPid, enc.AppendUint16(enc.AppendUint16(nil, vid), pid)...)
	}
	if in.LedGPIO != nil {
		tlv = appendRecord(tlv, TagLedGPIO, *in.LedGPIO)
	}
	if in.LedBrightness != nil {
		tlv = appendRecord(tlv, TagLedBright, *in.LedBrightness)
	}
	if in.TouchTimeout != nil {
		tlv = appendRecord(tlv, TagTouchTimeout, *in.TouchTimeout)
	}
	if in.LedDimmable != nil && in.PowerCycleOnReset != nil && in.LedSteady != nil {
		opts := pico.NewOptions(*in.LedDimmable, *in.PowerCycleOnReset, *in.LedSteady)
		tlv = appendRecord(tlv, TagOptions, enc.AppendUint16(nil, uint16(opts))...)
	}
	if in.EnableSecp256k1 != nil {
		var curves pico.Curves
		if *in.EnableSecp256k1 {
			curves |= pico.CurveSecp256k1
		}
		tlv = appendRecord(tlv, TagCurves, enc.AppendUint32(nil, uint32(curves))...)
	}
	if in.LedDriver != nil {
		tlv = appendRecord(tlv, TagLedDriver, *in.LedDriver)
	}
	if name := lo.FromPtr(in.ProductName); name != "" {
		if len(name)+1 > maxProductName {
			return nil, pferr.Io("Product name too long")
		}
		tlv = appendRecord(tlv, TagProductName, append([]byte(name), 0x00)...)
	}
	return tlv, nil
}

// DecodeTLV parses a physical configuration blob. Unknown tags are skipped
// and a truncated record ends parsing.
func DecodeTLV(data []byte) pico.AppConfig {
	var cfg pico.AppConfig
	for i := 0; i+2 <= len(data); {
		tag, n := data[i], int(data[i+1])
		i += 2
		if i+n > len(data) {
			break
		}
		val := data[i : i+n]
		i += n

		switch tag {
		case TagVidPid:
			if len(val) == 4 {
				cfg.VID = pico.FormatVidPid(enc.Uint16(val[0:2]))
				cfg.PID = pico.FormatVidPid(enc.Uint16(val[2:4]))
			}
		case TagLedGPIO:
			if len(val) > 0 {
				cfg.LedGPIO = val[0]
			}
		case TagLedBright:
			if len(val) > 0 {
				cfg.LedBrightness = val[0]
			}
		case TagTouchTimeout:
			if len(val) > 0 {
				cfg.TouchTimeout = val[0]
			}
		case TagProductName:
			if name := bytes.Trim(val, "\x00"); utf8.Valid(name) {
				cfg.ProductName = string(name)
			}
		case TagOptions:
			if len(val) >= 2 {
				opts := pico.Options(enc.Uint16(val))
				cfg.LedDimmable = opts.LedDimmable()
				cfg.PowerCycleOnReset = opts.PowerCycleOnReset()
				cfg.LedSteady = opts.LedSteady()
			}
		case TagCurves:
			if len(val) >= 4 {
				cfg.EnableSecp256k1 = pico.Curves(enc.Uint32(val))&pico.CurveSecp256k1 != 0
			}
		case TagLedDriver:
			if len(val) > 0 {
				cfg.LedDriver = lo.ToPtr(val[0])
			}
		}
	}
	return cfg
}
