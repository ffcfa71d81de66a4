package pico

import "fmt"

// Method records which protocol produced a FullDeviceStatus. Writes are
// routed by it and never fall back to the other protocol.
type Method uint8

const (
	MethodRescue Method = iota + 1
	MethodFido
)

func (m Method) String() string {
	switch m {
	case MethodRescue:
		return "Rescue"
	case MethodFido:
		return "FIDO"
	}
	return fmt.Sprintf("Method(%d)", uint8(m))
}

func ParseMethod(s string) (Method, error) {
	switch s {
	case "Rescue", "rescue":
		return MethodRescue, nil
	case "FIDO", "Fido", "fido":
		return MethodFido, nil
	}
	return 0, fmt.Errorf("unknown method %q", s)
}

func (m Method) MarshalText() ([]byte, error) {
	switch m {
	case MethodRescue, MethodFido:
		return []byte(m.String()), nil
	}
	return nil, fmt.Errorf("invalid method %d", uint8(m))
}

func (m *Method) UnmarshalText(text []byte) error {
	v, err := ParseMethod(string(text))
	if err != nil {
		return err
	}
	*m = v
	return nil
}
