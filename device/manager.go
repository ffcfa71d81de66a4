// Package device routes operations to the Rescue or FIDO client of a Pico
// key.
package device

import (
	"log/slog"

	"github.com/phoeagon/picoforge/fido"
	"github.com/phoeagon/picoforge/pferr"
	"github.com/phoeagon/picoforge/pico"
	"github.com/phoeagon/picoforge/rescue"
)

// RescueClient is the subset of *rescue.Client used by a Manager.
type RescueClient interface {
	ReadDeviceDetails() (*pico.FullDeviceStatus, error)
	WriteConfig(in pico.AppConfigInput) (string, error)
	Reboot(toBootloader bool) (string, error)
	EnableSecureBoot(lock bool) (string, error)
}

// FidoClient is the subset of *fido.Client used by a Manager.
type FidoClient interface {
	ReadDeviceDetails() (*pico.FullDeviceStatus, error)
	WriteConfig(in pico.AppConfigInput, pin *string) (string, error)
	GetInfo() (*pico.FidoDeviceInfo, error)
	ChangePIN(current *string, newPIN string) (string, error)
	SetMinPinLength(pin string, length uint8) (string, error)
	PinRetries() (uint, error)
	Credentials(pin string) ([]pico.StoredCredential, error)
	DeleteCredential(pin, credentialIDHex string) (string, error)
}

var (
	_ RescueClient = (*rescue.Client)(nil)
	_ FidoClient   = (*fido.Client)(nil)
)

type Manager struct {
	rescue RescueClient
	fido   FidoClient
	logger *slog.Logger
}

type Option func(*Manager)

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

func WithRescue(c RescueClient) Option {
	return func(m *Manager) { m.rescue = c }
}

func WithFido(c FidoClient) Option {
	return func(m *Manager) { m.fido = c }
}

// New returns a Manager. Clients not supplied as options are built with the
// Manager's logger and default transports.
func New(opts ...Option) *Manager {
	m := &Manager{logger: slog.Default()}
	for _, o := range opts {
		o(m)
	}
	if m.rescue == nil {
		m.rescue = rescue.New(rescue.WithLogger(m.logger))
	}
	if m.fido == nil {
		m.fido = fido.New(fido.WithLogger(m.logger))
	}
	return m
}

// ReadDeviceDetails reads the device over Rescue, falling back to FIDO on
// any Rescue failure. The returned Method records which one answered.
func (m *Manager) ReadDeviceDetails() (*pico.FullDeviceStatus, error) {
	st, err := m.rescue.ReadDeviceDetails()
	if err == nil {
		return st, nil
	}
	m.logger.Warn("Rescue method failed, falling back to FIDO", "error", err)
	return m.fido.ReadDeviceDetails()
}

// WriteConfig writes in over the protocol that produced the last status.
// It never falls back to the other protocol.
func (m *Manager) WriteConfig(in pico.AppConfigInput, method pico.Method, pin *string) (string, error) {
	switch method {
	case pico.MethodRescue:
		return m.rescue.WriteConfig(in)
	case pico.MethodFido:
		return m.fido.WriteConfig(in, pin)
	}
	return "", pferr.Io("Unknown communication method %v", method)
}

// Apply reads the device, writes the fields of desired that differ and
// returns the status read back afterwards.
func (m *Manager) Apply(desired pico.AppConfig, pin *string) (*pico.FullDeviceStatus, string, error) {
	cur, err := m.ReadDeviceDetails()
	if err != nil {
		return nil, "", err
	}
	in := pico.Diff(cur.Config, desired)
	if in.IsEmpty() {
		m.logger.Info("device already matches the requested configuration")
		return cur, "No changes to apply", nil
	}
	msg, err := m.WriteConfig(in, cur.Method, pin)
	if err != nil {
		return nil, "", err
	}
	st, err := m.ReadDeviceDetails()
	if err != nil {
		return nil, msg, err
	}
	return st, msg, nil
}

// Reboot is only available over Rescue.
func (m *Manager) Reboot(toBootloader bool) (string, error) {
	return m.rescue.Reboot(toBootloader)
}

// EnableSecureBoot is only available over Rescue. Locking is irreversible.
func (m *Manager) EnableSecureBoot(lock bool) (string, error) {
	return m.rescue.EnableSecureBoot(lock)
}

func (m *Manager) GetFidoInfo() (*pico.FidoDeviceInfo, error) {
	return m.fido.GetInfo()
}

// ChangeFidoPIN sets the PIN when current is nil and changes it otherwise.
func (m *Manager) ChangeFidoPIN(current *string, newPIN string) (string, error) {
	return m.fido.ChangePIN(current, newPIN)
}

func (m *Manager) SetMinPinLength(pin string, length uint8) (string, error) {
	return m.fido.SetMinPinLength(pin, length)
}

func (m *Manager) PinRetries() (uint, error) {
	return m.fido.PinRetries()
}

func (m *Manager) GetCredentials(pin string) ([]pico.StoredCredential, error) {
	return m.fido.Credentials(pin)
}

func (m *Manager) DeleteCredential(pin, credentialIDHex string) (string, error) {
	return m.fido.DeleteCredential(pin, credentialIDHex)
}
