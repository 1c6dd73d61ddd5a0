/* go-raspberrypi-usbboot
 *
 * USB transport: size-prefix control transfer, chunked bulk write
 * with stall retry, size-prefix read, endpoint/interface selection,
 * and transfer timeouts (§4.4).
 */

package usbboot

import (
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
)

// ErrStall is returned by a bulk write when the endpoint stalled.
// Transport retries on this error, making up to Config.StallRetries
// attempts in all, before giving up with a *TransferStall.
var ErrStall = errors.New("usbboot: endpoint stalled")

// isStall reports whether err represents a stalled USB pipe. gousb
// surfaces a stalled bulk transfer as a plain error whose text names
// the libusb PIPE condition; this heuristic, plus the ErrStall
// sentinel fakes use directly in tests, covers both.
func isStall(err error) bool {
	if errors.Is(err, ErrStall) {
		return true
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "stall") || strings.Contains(s, "pipe")
}

// Transport implements the boot protocol's two USB primitives --
// write_payload and read -- on a top of a usbDevice (§4.4).
type Transport struct {
	dev    usbDevice
	cfg    Config
	log    *Logger
	bulk   usbBulkOut
	ifNum  int
	epNum  int
}

// OpenTransport claims the correct interface+endpoint pair for dev,
// per §4.4's interface-count rule, and returns a ready Transport.
func OpenTransport(dev usbDevice, cfg Config, log *Logger) (*Transport, error) {
	if log == nil {
		log = NewLogger(nil)
	}

	desc := dev.Descriptor()

	ifNum, epNum := 1, 3
	if desc.NumInterface == 1 {
		ifNum, epNum = 0, 1
	}

	bulk, err := dev.OpenBulkOut(ifNum, epNum)
	if err != nil {
		return nil, err
	}

	return &Transport{
		dev:   dev,
		cfg:   cfg,
		log:   log,
		bulk:  bulk,
		ifNum: ifNum,
		epNum: epNum,
	}, nil
}

// Close releases the claimed bulk endpoint. It does not close the
// underlying device -- callers own that lifecycle (§4.6: "Close the
// device afterwards").
func (t *Transport) Close() error {
	return t.bulk.Close()
}

// withTimeout bounds a blocking USB call. gousb's synchronous calls
// can't be cancelled mid-flight, so on timeout the goroutine is left
// to finish on its own and its result discarded -- the standard
// pattern for wrapping a synchronous C-backed call with a deadline.
func withTimeout(timeout time.Duration, op string, fn func() (int, error)) (int, error) {
	type result struct {
		n   int
		err error
	}

	done := make(chan result, 1)
	go func() {
		n, err := fn()
		done <- result{n, err}
	}()

	select {
	case r := <-done:
		return r.n, r.err
	case <-time.After(timeout):
		return 0, &TransferTimeout{Op: op}
	}
}

// sendSize issues the size-prefix control transfer (§4.4): a vendor
// OUT control transfer with n split across wValue/wIndex and a
// zero-length data stage.
func (t *Transport) sendSize(n uint32) error {
	wValue := uint16(n & 0xFFFF)
	wIndex := uint16(n >> 16)

	_, err := withTimeout(t.cfg.ControlTimeout, "send_size", func() (int, error) {
		return t.dev.Control(ctrlReqTypeOut, reqGetStatus, wValue, wIndex, nil)
	})
	return err
}

// Read issues the size-prefix read (§4.4): the same control transfer,
// direction bit set, returning the n bytes read from the device.
func (t *Transport) Read(n int) ([]byte, error) {
	buf := make([]byte, n)

	wValue := uint16(n & 0xFFFF)
	wIndex := uint16(n >> 16)

	got, err := withTimeout(t.cfg.ControlTimeout, "read", func() (int, error) {
		return t.dev.Control(ctrlReqTypeIn, reqGetStatus, wValue, wIndex, buf)
	})
	if err != nil {
		return nil, err
	}

	return buf[:got], nil
}

// WritePayload writes bytes to the device: first the size-prefix
// control transfer, then -- unless the payload is empty -- the bytes
// themselves as a sequence of 1 MiB (Config.BulkChunkSize) bulk
// chunks, each retried on stall up to Config.StallRetries times
// (§4.4).
func (t *Transport) WritePayload(data []byte) error {
	if err := t.sendSize(uint32(len(data))); err != nil {
		return err
	}

	if len(data) == 0 {
		return nil
	}

	chunkSize := t.cfg.BulkChunkSize
	if chunkSize <= 0 {
		chunkSize = 1024 * 1024
	}

	for off := 0; off < len(data); off += chunkSize {
		end := off + chunkSize
		if end > len(data) {
			end = len(data)
		}

		if err := t.writeChunkWithRetry(data[off:end]); err != nil {
			return err
		}
	}

	return nil
}

// writeChunkWithRetry writes one bulk chunk, retrying up to
// Config.StallRetries total attempts when the endpoint stalls.
func (t *Transport) writeChunkWithRetry(chunk []byte) error {
	maxRetries := t.cfg.StallRetries - 1
	if maxRetries < 0 {
		maxRetries = 0
	}

	attempts := 0
	var lastErr error

	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(0), uint64(maxRetries))

	err := backoff.Retry(func() error {
		attempts++

		_, err := withTimeout(t.cfg.BulkTimeout, "bulk_write", func() (int, error) {
			return t.bulk.Write(chunk)
		})
		if err == nil {
			return nil
		}

		lastErr = err
		if isStall(err) {
			return err // retryable
		}

		return backoff.Permanent(err)
	}, policy)

	if err == nil {
		return nil
	}

	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	// backoff.Retry itself unwraps a Permanent error, so a non-stall
	// failure can also arrive here as the raw error.
	if !isStall(lastErr) {
		return lastErr
	}

	return &TransferStall{Attempts: attempts, Err: lastErr}
}
