package core

import "fmt"

// IntegrationInitError is raised when an integration cannot be started,
// e.g. missing required config or a broker that refuses to connect.
// It is fatal: bootstrap exits non-zero. Integrations initialized before
// the failing one are not disconnected first.
type IntegrationInitError struct {
	Integration string
	Err         error
}

func (e *IntegrationInitError) Error() string {
	return fmt.Sprintf("integration %q failed to initialize: %v", e.Integration, e.Err)
}

func (e *IntegrationInitError) Unwrap() error {
	return e.Err
}

// IntegrationConnectionError is raised when a command sent to a bound
// actuator fails. It is never fatal: the scheduler skips the device for
// the current pass and leaves its state unchanged.
type IntegrationConnectionError struct {
	Device string
	Err    error
}

func (e *IntegrationConnectionError) Error() string {
	return fmt.Sprintf("device %q: integration connection failed: %v", e.Device, e.Err)
}

func (e *IntegrationConnectionError) Unwrap() error {
	return e.Err
}

// InvalidDeviceTypeError is raised when regulate() is invoked on a device
// that is not REGULATED. The scheduler never triggers this itself since
// it dispatches on device_type before calling regulate.
type InvalidDeviceTypeError struct {
	Device string
}

func (e *InvalidDeviceTypeError) Error() string {
	return fmt.Sprintf("device %q is not a regulated device", e.Device)
}
