package capture

import (
	"errors"
	"fmt"

	"github.com/verbalia/voicepipe/internal/device"
)

// ErrorKind classifies capture failures for callers that need to branch on
// the failure mode (re-prompt the user, pick another device, fix sequencing).
type ErrorKind int

const (
	// PermissionDenied: the platform refused microphone access.
	PermissionDenied ErrorKind = iota

	// DeviceNotFound: no input device exists.
	DeviceNotFound

	// DeviceBusy: the input device is held by another process.
	DeviceBusy

	// Unsupported: the requested configuration is not supported even after
	// the sample-rate fallback.
	Unsupported

	// NotInitialized: a lifecycle method was called before Initialize (or
	// after Shutdown). This is a sequencing bug in the caller and is always
	// surfaced loudly, never swallowed.
	NotInitialized
)

// String returns the human-readable name of the error kind.
func (k ErrorKind) String() string {
	switch k {
	case PermissionDenied:
		return "PERMISSION_DENIED"
	case DeviceNotFound:
		return "DEVICE_NOT_FOUND"
	case DeviceBusy:
		return "DEVICE_BUSY"
	case Unsupported:
		return "UNSUPPORTED"
	case NotInitialized:
		return "NOT_INITIALIZED"
	default:
		return "UNKNOWN"
	}
}

// Error is the error type returned by [Service] lifecycle methods.
type Error struct {
	Kind ErrorKind
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("capture: %s", e.Kind)
	}
	return fmt.Sprintf("capture: %s: %v", e.Kind, e.Err)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error { return e.Err }

// classify wraps a device acquisition error in an [*Error] with the kind
// matching the device sentinel it carries.
func classify(err error) *Error {
	switch {
	case errors.Is(err, device.ErrPermissionDenied):
		return &Error{Kind: PermissionDenied, Err: err}
	case errors.Is(err, device.ErrNotFound):
		return &Error{Kind: DeviceNotFound, Err: err}
	case errors.Is(err, device.ErrBusy):
		return &Error{Kind: DeviceBusy, Err: err}
	default:
		return &Error{Kind: Unsupported, Err: err}
	}
}

// notInitialized returns the error for out-of-sequence lifecycle calls.
func notInitialized(op string) *Error {
	return &Error{Kind: NotInitialized, Err: fmt.Errorf("%s called before Initialize", op)}
}

var (
	errAlreadyInitialized = errors.New("already initialized; call Shutdown first")
	errAlreadyStarted     = errors.New("already started; call Stop first")
)
