package device

import "errors"

var (
	// ErrNotFound indicates a device or command was not found
	ErrNotFound = errors.New("not found")

	// ErrNotConnected indicates the driver is not connected
	ErrNotConnected = errors.New("driver not connected")

	// ErrDeviceDisabled indicates the device is not enabled
	ErrDeviceDisabled = errors.New("device is not enabled")

	// ErrNotControllable indicates the device does not accept commands
	ErrNotControllable = errors.New("device cannot be controlled")

	// ErrInvalidCommand indicates the command is not available for the device
	ErrInvalidCommand = errors.New("invalid command")

	// ErrInvalidSchedule indicates a bad delay or execution window
	ErrInvalidSchedule = errors.New("invalid schedule")

	// ErrNotToggleable indicates a toggle could not be resolved
	ErrNotToggleable = errors.New("device cannot be toggled")

	// ErrAlreadyInFlight indicates a cancel after the command reached the driver
	ErrAlreadyInFlight = errors.New("command already in flight")

	// ErrInvalidTransition indicates an illegal command status change
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrPinRequired indicates the device needs a pin and none was given
	ErrPinRequired = errors.New("pin is required")

	// ErrPinMismatch indicates the supplied pin is wrong
	ErrPinMismatch = errors.New("pin is incorrect")

	// ErrEnergyMapExhausted indicates no energy map breakpoints bracket the
	// percentage. This is a data defect, not a user error.
	ErrEnergyMapExhausted = errors.New("energy map exhausted")

	// ErrNoStateChange indicates a state update matched the current state
	ErrNoStateChange = errors.New("device state unchanged")

	// ErrMissingMachineState indicates a state update without machine_state
	ErrMissingMachineState = errors.New("machine_state is required")

	// ErrInvalidMachineState indicates a machine_state that is NaN or infinite
	ErrInvalidMachineState = errors.New("machine_state must be a finite number")
)
