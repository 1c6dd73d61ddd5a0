/* go-raspberrypi-usbboot - turns a Raspberry Pi CM/Zero into mass storage
 * over its USB boot ROM protocol
 *
 * Error values and typed errors
 */

package usbboot

import (
	"errors"
	"fmt"
)

// Sentinel errors. Callers compare against these with errors.Is.
var (
	// ErrDeviceGone marks a device that has disappeared
	// mid-transfer. isDeviceGone treats any error wrapping it as
	// device-gone; the transport does not produce it itself, so
	// gousb errors are recognised by their text instead. During the
	// file-server loop this is expected (§4.5) and terminates the
	// loop cleanly, not as a failure.
	ErrDeviceGone = errors.New("usbboot: device is gone")

	// ErrShutdown names the condition of a stopped scanner. Nothing
	// in this package returns it: a protocol run still in flight
	// when Stop is called ends with its own result.
	ErrShutdown = errors.New("usbboot: scanner stopped")
)

// BlobMissing indicates a requested blob does not exist in the blob
// store. It is recoverable everywhere except for bootcode.bin at
// stage 1, where the caller must treat it as fatal.
type BlobMissing struct {
	Family   DeviceFamily
	Filename string
}

func (e *BlobMissing) Error() string {
	return fmt.Sprintf("usbboot: blob %q not found for %s", e.Filename, e.Family)
}

// InvalidCommand indicates a file-request message carried a command
// code outside {0, 1, 2}.
type InvalidCommand struct {
	Code uint32
}

func (e *InvalidCommand) Error() string {
	return fmt.Sprintf("usbboot: invalid file-request command %d", e.Code)
}

// BootcodeRejected indicates the device reported a non-zero return
// code after the stage-1 bootcode upload.
type BootcodeRejected struct {
	Code uint32
}

func (e *BootcodeRejected) Error() string {
	return fmt.Sprintf("usbboot: device rejected bootcode.bin, code %d", e.Code)
}

// EndpointMismatch indicates the selected endpoint, chosen per §4.4's
// interface-count rule, was not a bulk OUT endpoint.
type EndpointMismatch struct {
	Interface int
	Endpoint  int
}

func (e *EndpointMismatch) Error() string {
	return fmt.Sprintf("usbboot: interface %d endpoint %d is not a bulk OUT endpoint",
		e.Interface, e.Endpoint)
}

// TransferStall indicates a bulk chunk stalled on every one of its
// retry attempts.
type TransferStall struct {
	Attempts int
	Err      error
}

func (e *TransferStall) Error() string {
	return fmt.Sprintf("usbboot: bulk transfer stalled after %d attempts: %s",
		e.Attempts, e.Err)
}

func (e *TransferStall) Unwrap() error { return e.Err }

// TransferTimeout indicates a control or bulk transfer exceeded its
// deadline (10s, §4.4).
type TransferTimeout struct {
	Op string
}

func (e *TransferTimeout) Error() string {
	return fmt.Sprintf("usbboot: %s timed out", e.Op)
}

// TransientReadError wraps any file-server read error that isn't a
// recognized "device gone" condition. The protocol loop backs off and
// retries on this error (§4.5 step 1).
type TransientReadError struct {
	Err error
}

func (e *TransientReadError) Error() string {
	return fmt.Sprintf("usbboot: transient read error: %s", e.Err)
}

func (e *TransientReadError) Unwrap() error { return e.Err }
