// Package poolerrors defines the sentinel error taxonomy shared across the
// control plane. Domain-interlock errors propagate to callers; infrastructure
// errors are logged and swallowed by the packages that own the resource.
package poolerrors

import "errors"

var (
	// ErrEmergencyStop is returned when an actuator command is rejected
	// because the system is latched in emergency stop.
	ErrEmergencyStop = errors.New("pool: emergency stop active")

	// ErrManualMode is returned when an automatic command is rejected
	// because the actuator's mode flag has been cleared by a manual command.
	ErrManualMode = errors.New("pool: actuator is in manual mode")

	// ErrUnknownActuator is returned for actuator IDs the board does not recognize.
	ErrUnknownActuator = errors.New("pool: unknown actuator")

	// ErrBoardInit is fatal at startup: the hardware/fake board failed to initialize.
	ErrBoardInit = errors.New("pool: board initialization failed")

	// ErrStoreUnavailable wraps any repository I/O failure. Callers log and continue.
	ErrStoreUnavailable = errors.New("pool: store unavailable")

	// ErrNetUnavailable wraps LightLink connectivity failures. Callers log and continue.
	ErrNetUnavailable = errors.New("pool: network unavailable")

	// ErrNotFound is returned by loaders when no persisted row exists yet.
	ErrNotFound = errors.New("pool: not found")
)
