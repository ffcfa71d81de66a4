package pico

import "github.com/samber/lo"

// Diff returns the input that turns current into desired. VID and PID are
// sent together, and so are the three option flags because they share one
// bitmask on the wire.
func Diff(current, desired AppConfig) AppConfigInput {
	var in AppConfigInput
	if current.VID != desired.VID || current.PID != desired.PID {
		in.VID = lo.ToPtr(desired.VID)
		in.PID = lo.ToPtr(desired.PID)
	}
	if current.ProductName != desired.ProductName {
		in.ProductName = lo.ToPtr(desired.ProductName)
	}
	if current.LedGPIO != desired.LedGPIO {
		in.LedGPIO = lo.ToPtr(desired.LedGPIO)
	}
	if current.LedBrightness != desired.LedBrightness {
		in.LedBrightness = lo.ToPtr(desired.LedBrightness)
	}
	if current.TouchTimeout != desired.TouchTimeout {
		in.TouchTimeout = lo.ToPtr(desired.TouchTimeout)
	}
	if current.LedDimmable != desired.LedDimmable ||
		current.PowerCycleOnReset != desired.PowerCycleOnReset ||
		current.LedSteady != desired.LedSteady {
		in.LedDimmable = lo.ToPtr(desired.LedDimmable)
		in.PowerCycleOnReset = lo.ToPtr(desired.PowerCycleOnReset)
		in.LedSteady = lo.ToPtr(desired.LedSteady)
	}
	if current.EnableSecp256k1 != desired.EnableSecp256k1 {
		in.EnableSecp256k1 = lo.ToPtr(desired.EnableSecp256k1)
	}
	if desired.LedDriver != nil && lo.FromPtr(current.LedDriver) != *desired.LedDriver {
		in.LedDriver = lo.ToPtr(*desired.LedDriver)
	}
	return in
}

// Input returns an input that sets every field of c.
func (c AppConfig) Input() AppConfigInput {
	in := AppConfigInput{
		VID:               lo.ToPtr(c.VID),
		PID:               lo.ToPtr(c.PID),
		ProductName:       lo.ToPtr(c.ProductName),
		LedGPIO:           lo.ToPtr(c.LedGPIO),
		LedBrightness:     lo.ToPtr(c.LedBrightness),
		TouchTimeout:      lo.ToPtr(c.TouchTimeout),
		LedDimmable:       lo.ToPtr(c.LedDimmable),
		PowerCycleOnReset: lo.ToPtr(c.PowerCycleOnReset),
		LedSteady:         lo.ToPtr(c.LedSteady),
		EnableSecp256k1:   lo.ToPtr(c.EnableSecp256k1),
	}
	if c.LedDriver != nil {
		in.LedDriver = lo.ToPtr(*c.LedDriver)
	}
	return in
}

// Apply overlays in onto c and returns the result.
func (c AppConfig) Apply(in AppConfigInput) AppConfig {
	c.VID = lo.FromPtrOr(in.VID, c.VID)
	c.PID = lo.FromPtrOr(in.PID, c.PID)
	c.ProductName = lo.FromPtrOr(in.ProductName, c.ProductName)
	c.LedGPIO = lo.FromPtrOr(in.LedGPIO, c.LedGPIO)
	c.LedBrightness = lo.FromPtrOr(in.LedBrightness, c.LedBrightness)
	c.TouchTimeout = lo.FromPtrOr(in.TouchTimeout, c.TouchTimeout)
	c.LedDimmable = lo.FromPtrOr(in.LedDimmable, c.LedDimmable)
	c.PowerCycleOnReset = lo.FromPtrOr(in.PowerCycleOnReset, c.PowerCycleOnReset)
	c.LedSteady = lo.FromPtrOr(in.LedSteady, c.LedSteady)
	c.EnableSecp256k1 = lo.FromPtrOr(in.EnableSecp256k1, c.EnableSecp256k1)
	if in.LedDriver != nil {
		c.LedDriver = lo.ToPtr(*in.LedDriver)
	}
	return c
}
