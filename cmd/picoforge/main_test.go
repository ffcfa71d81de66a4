package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/phoeagon/picoforge/config"
	"github.com/phoeagon/picoforge/device"
	"github.com/phoeagon/picoforge/pferr"
	"github.com/phoeagon/picoforge/pico"
)

type fakeRescue struct {
	status  *pico.FullDeviceStatus
	writes  []pico.AppConfigInput
	reboots []bool
	locks   []bool
}

func (f *fakeRescue) ReadDeviceDetails() (*pico.FullDeviceStatus, error) {
	if f.status == nil {
		return nil, pferr.NoDevice()
	}
	st := *f.status
	return &st, nil
}

func (f *fakeRescue) WriteConfig(in pico.AppConfigInput) (string, error) {
	f.writes = append(f.writes, in)
	f.status.Config = f.status.Config.Apply(in)
	return "Configuration Applied Successfully", nil
}

func (f *fakeRescue) Reboot(toBootloader bool) (string, error) {
	f.reboots = append(f.reboots, toBootloader)
	return "Reboot command sent", nil
}

func (f *fakeRescue) EnableSecureBoot(lock bool) (string, error) {
	f.locks = append(f.locks, lock)
	return "Secure Boot Enabled", nil
}

type fakeFido struct {
	pins   []string
	writes []pico.AppConfigInput
}

func (f *fakeFido) ReadDeviceDetails() (*pico.FullDeviceStatus, error) {
	return &pico.FullDeviceStatus{
		Info:   pico.DeviceInfo{Serial: pico.FidoSerial},
		Config: pico.AppConfig{VID: "2E8A", PID: "10FE"},
		Method: pico.MethodFido,
	}, nil
}

func (f *fakeFido) WriteConfig(in pico.AppConfigInput, pin *string) (string, error) {
	f.writes = append(f.writes, in)
	f.pins = append(f.pins, lo.FromPtr(pin))
	return "Configuration applied successfully", nil
}

func (f *fakeFido) GetInfo() (*pico.FidoDeviceInfo, error) {
	return &pico.FidoDeviceInfo{
		Versions:        []string{"FIDO_2_0", "FIDO_2_1"},
		AAGUID:          "ABAB",
		Options:         map[string]bool{"rk": true, "clientPin": true},
		PinProtocols:    []uint32{2, 1},
		FirmwareVersion: "6.4",
	}, nil
}

func (f *fakeFido) ChangePIN(current *string, newPIN string) (string, error) {
	f.pins = append(f.pins, lo.FromPtr(current), newPIN)
	return "PIN Changed Successfully", nil
}

func (f *fakeFido) SetMinPinLength(pin string, length uint8) (string, error) {
	f.pins = append(f.pins, pin)
	return "Minimum PIN length successfully set to 8", nil
}

func (f *fakeFido) PinRetries() (uint, error) { return 7, nil }

func (f *fakeFido) Credentials(pin string) ([]pico.StoredCredential, error) {
	f.pins = append(f.pins, pin)
	return []pico.StoredCredential{{
		CredentialID: "a1b2",
		RPID:         "example.com",
		UserName:     "alice",
	}}, nil
}

func (f *fakeFido) DeleteCredential(pin, id string) (string, error) {
	if id != "a1b2" {
		return "", pferr.Io("Invalid Credential ID Hex string")
	}
	return "Credential deleted successfully", nil
}

func rescueStatus() *pico.FullDeviceStatus {
	return &pico.FullDeviceStatus{
		Info:   pico.DeviceInfo{Serial: "E66144031B2C3D4E", FirmwareVersion: "7.2", FlashUsed: 12, FlashTotal: 1024},
		Config: pico.DefaultConfig(),
		Method: pico.MethodRescue,
	}
}

type harness struct {
	app    *app
	rescue *fakeRescue
	fido   *fakeFido
	stdout *bytes.Buffer
	stderr *bytes.Buffer
}

func newHarness(t *testing.T, status *pico.FullDeviceStatus) *harness {
	h := &harness{
		rescue: &fakeRescue{status: status},
		fido:   &fakeFido{},
		stdout: &bytes.Buffer{},
		stderr: &bytes.Buffer{},
	}
	h.app = &app{
		stdin:  strings.NewReader(""),
		stdout: h.stdout,
		stderr: h.stderr,
		newManager: func(_ *config.Config, logger *slog.Logger) *device.Manager {
			return device.New(device.WithLogger(logger), device.WithRescue(h.rescue), device.WithFido(h.fido))
		},
	}
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	return h
}

func (h *harness) run(args ...string) error {
	return h.app.command().Run(context.Background(), append([]string{"picoforge"}, args...))
}

func TestStatusText(t *testing.T) {
	h := newHarness(t, rescueStatus())
	require.NoError(t, h.run("status"))

	out := h.stdout.String()
	assert.Contains(t, out, "Rescue")
	assert.Contains(t, out, "E66144031B2C3D4E")
	assert.Contains(t, out, "12 / 1024 KB")
	assert.Contains(t, out, "CAFE:4242")
	assert.Contains(t, out, "Pico (Standard GPIO)")
}

func TestStatusJSONFallsBackToFido(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.run("--output", "json", "status"))

	var st pico.FullDeviceStatus
	require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &st))
	assert.Equal(t, pico.MethodFido, st.Method)
	assert.Equal(t, "2E8A", st.Config.VID)
}

func TestInfoYAML(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.run("-o", "yaml", "info"))

	var info pico.FidoDeviceInfo
	require.NoError(t, yaml.Unmarshal(h.stdout.Bytes(), &info))
	assert.Equal(t, "6.4", info.FirmwareVersion)
	assert.Equal(t, []uint32{2, 1}, info.PinProtocols)
}

func TestInvalidOutput(t *testing.T) {
	h := newHarness(t, nil)
	assert.ErrorContains(t, h.run("-o", "xml", "presets"), "invalid output format")
}

func TestConfigSetRescue(t *testing.T) {
	h := newHarness(t, rescueStatus())
	require.NoError(t, h.run("config", "set", "--preset", "pico-fido", "--led-steady", "--touch-timeout", "15"))

	require.Len(t, h.rescue.writes, 1)
	in := h.rescue.writes[0]
	assert.Equal(t, "2E8A", *in.VID)
	assert.Equal(t, "10FE", *in.PID)
	assert.Equal(t, uint8(15), *in.TouchTimeout)
	// option flags are completed from the current configuration
	assert.True(t, *in.LedSteady)
	assert.False(t, *in.LedDimmable)
	assert.False(t, *in.PowerCycleOnReset)
	assert.Nil(t, in.ProductName)
	assert.Contains(t, h.stdout.String(), "Configuration Applied Successfully")
	assert.Empty(t, h.fido.writes)
}

func TestConfigSetCompletesVidPid(t *testing.T) {
	h := newHarness(t, rescueStatus())
	require.NoError(t, h.run("config", "set", "--pid", "0x10fd"))

	in := h.rescue.writes[0]
	assert.Equal(t, "CAFE", *in.VID)
	assert.Equal(t, "10FD", *in.PID)
}

func TestConfigSetFidoUsesPin(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.run("config", "set", "--led-brightness", "4", "--pin", "123456"))

	require.Len(t, h.fido.writes, 1)
	assert.Equal(t, []string{"123456"}, h.fido.pins)
}

func TestConfigSetFidoPromptsForPin(t *testing.T) {
	h := newHarness(t, nil)
	h.app.stdin = strings.NewReader("654321\n")
	require.NoError(t, h.run("config", "set", "--led-gpio", "2"))

	assert.Equal(t, []string{"654321"}, h.fido.pins)
	assert.Contains(t, h.stderr.String(), "Device PIN: ")
}

func TestConfigSetNoChanges(t *testing.T) {
	h := newHarness(t, rescueStatus())
	require.NoError(t, h.run("config", "set"))
	assert.Empty(t, h.rescue.writes)
	assert.Contains(t, h.stdout.String(), "No changes to apply")
}

func TestConfigSetRejectsBadValues(t *testing.T) {
	h := newHarness(t, rescueStatus())
	assert.ErrorContains(t, h.run("config", "set", "--led-gpio", "300"), "between 0 and 255")
	assert.ErrorContains(t, h.run("config", "set", "--led-driver", "4"), "unknown LED driver")
	assert.ErrorContains(t, h.run("config", "set", "--preset", "nope"), "unknown preset")
	assert.Error(t, h.run("config", "set", "--vid", "xyz"))
	assert.Empty(t, h.rescue.writes)
}

func TestConfigApply(t *testing.T) {
	h := newHarness(t, rescueStatus())
	desired := pico.DefaultConfig()
	desired.LedBrightness = 3
	desired.VID = "cafe"

	data, err := yaml.Marshal(desired)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "key.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	require.NoError(t, h.run("-o", "json", "config", "apply", path))
	require.Len(t, h.rescue.writes, 1)
	assert.Equal(t, pico.AppConfigInput{LedBrightness: lo.ToPtr(uint8(3))}, h.rescue.writes[0])

	var st pico.FullDeviceStatus
	require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &st))
	assert.Equal(t, uint8(3), st.Config.LedBrightness)
}

func TestConfigInit(t *testing.T) {
	h := newHarness(t, nil)
	path := filepath.Join(t.TempDir(), "picoforge.toml")

	require.NoError(t, h.run("--config", path, "config", "init"))
	_, err := os.Stat(path)
	require.NoError(t, err)

	assert.ErrorContains(t, h.run("--config", path, "config", "init"), "already exists")
	require.NoError(t, h.run("--config", path, "config", "init", "--force"))
}

func TestRebootAndSecureBoot(t *testing.T) {
	h := newHarness(t, rescueStatus())
	require.NoError(t, h.run("reboot", "--bootloader"))
	assert.Equal(t, []bool{true}, h.rescue.reboots)

	assert.ErrorContains(t, h.run("secure-boot", "--lock"), "--yes")
	assert.Empty(t, h.rescue.locks)

	require.NoError(t, h.run("secure-boot", "--lock", "--yes"))
	assert.Equal(t, []bool{true}, h.rescue.locks)
}

func TestPinCommands(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.run("pin", "change", "--current", "1234", "--new", "5678"))
	assert.Equal(t, []string{"1234", "5678"}, h.fido.pins)

	require.NoError(t, h.run("pin", "min-length", "--pin", "5678", "8"))
	assert.Contains(t, h.stdout.String(), "Minimum PIN length successfully set to 8")

	assert.ErrorContains(t, h.run("pin", "min-length", "--pin", "5678", "x"), "invalid PIN length")

	require.NoError(t, h.run("pin", "retries"))
	assert.Contains(t, h.stdout.String(), "7 PIN attempts left")
}

func TestCreds(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.run("creds", "list", "--pin", "1234"))
	assert.Contains(t, h.stdout.String(), "example.com")
	assert.Contains(t, h.stdout.String(), "alice")

	require.NoError(t, h.run("creds", "delete", "--pin", "1234", "a1b2"))
	assert.Contains(t, h.stdout.String(), "Credential deleted successfully")

	err := h.run("creds", "delete", "--pin", "1234", "zz")
	assert.True(t, pferr.Is(err, pferr.KindIo))
}

func TestPresets(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.run("presets"))
	assert.Contains(t, h.stdout.String(), "pico-fido")
	assert.Contains(t, h.stdout.String(), "2E8A:10FE")
}

func TestLogs(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.run("--log-level", "error", "logs"))
	assert.Contains(t, h.stdout.String(), "Rescue method failed")
}

func TestReportError(t *testing.T) {
	var buf bytes.Buffer
	reportError(&buf, pferr.Device("Failed to read flash"), true)
	assert.JSONEq(t, `{"error":{"type":"Device","message":"Failed to read flash"}}`, buf.String())

	buf.Reset()
	reportError(&buf, errors.New("boom"), false)
	assert.Equal(t, "picoforge: boom\n", buf.String())
}
