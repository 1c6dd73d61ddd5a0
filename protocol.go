/* go-raspberrypi-usbboot
 *
 * Boot protocol: stage-1 bootcode upload (second_stage_boot) and the
 * file-server loop that follows it (§4.5).
 */

package usbboot

import (
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
)

// UploadBootcode runs the stage-1 handshake: read bootcode.bin for
// family, encode its boot header, write header then bootcode, and
// check the device's return code. A missing bootcode.bin is fatal
// here, unlike every other blob lookup in this module.
func UploadBootcode(t *Transport, blobs BlobProvider, family DeviceFamily, log *Logger) error {
	const bootcodeName = "bootcode.bin"

	data, present, err := blobs.ReadBlob(family, bootcodeName)
	if err != nil {
		return err
	}
	if !present {
		return &BlobMissing{Family: family, Filename: bootcodeName}
	}

	header := EncodeBootHeader(uint32(len(data)), nil)

	if log != nil {
		log.Begin().
			Debug('>', "stage-1: uploading %d bytes of %s", len(data), bootcodeName).
			HexDump(LogTraceUSB, '>', header).
			Commit()
	}

	if err := t.WritePayload(header); err != nil {
		return err
	}
	if err := t.WritePayload(data); err != nil {
		return err
	}

	reply, err := t.Read(ReturnCodeSize)
	if err != nil {
		return err
	}

	if log != nil {
		log.Begin().
			Debug('<', "stage-1: return code reply").
			HexDump(LogTraceUSB, '<', reply).
			Commit()
	}

	code, err := DecodeReturnCode(reply)
	if err != nil {
		return err
	}
	if code != 0 {
		return &BootcodeRejected{Code: code}
	}

	return nil
}

// isDeviceGone reports whether err indicates the device has vanished
// mid-read (NO_DEVICE/IO), the expected way the file-server loop ends
// (§4.5 step 1). gousb, like the libusb the teacher binds to
// directly, surfaces a vanished device as a plain error naming the
// condition in its text.
func isDeviceGone(err error) bool {
	if errors.Is(err, ErrDeviceGone) {
		return true
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "no_device") || strings.Contains(s, "no such device") ||
		strings.Contains(s, "disconnected") || strings.Contains(s, "i/o error") ||
		strings.Contains(s, "io error")
}

// FileServer runs the file-server loop (§4.5), invoking onStep once
// for every request message read, before the message is parsed and
// handled, so the caller (the scanner, via the owning Session) can
// advance progress. FileServer keeps no step count of its own and
// sets no starting step; the caller's session advances from whatever
// step it already holds. It returns nil after Done or on a clean
// device-gone exit, and a non-nil error for anything else the loop
// can't recover from on its own.
func FileServer(t *Transport, blobs BlobProvider, family DeviceFamily, cfg Config, log *Logger, onStep func()) error {
serverLoop:
	for {
		buf, err := readFileMessageWithBackoff(t, cfg, log)
		if err != nil {
			if isDeviceGone(err) {
				return nil
			}
			return err
		}

		if onStep != nil {
			onStep()
		}

		req, err := ParseFileMessage(buf)
		if err != nil {
			return err
		}

		if log != nil {
			log.Begin().
				Debug('<', "file-server: %s %q", req.Command, req.Filename).
				HexDump(LogTraceUSB, '<', buf).
				Commit()
		}

		switch req.Command {
		case GetFileSize:
			data, present, err := blobs.ReadBlob(family, req.Filename)
			if err != nil {
				return err
			}
			if !present {
				if err := t.sendSize(0); err != nil {
					return err
				}
				continue
			}
			if err := t.sendSize(uint32(len(data))); err != nil {
				return err
			}

		case ReadFile:
			data, present, err := blobs.ReadBlob(family, req.Filename)
			if err != nil {
				return err
			}
			if !present {
				if err := t.sendSize(0); err != nil {
					return err
				}
				continue
			}
			if err := t.WritePayload(data); err != nil {
				return err
			}

		case Done:
			break serverLoop
		}
	}

	time.Sleep(cfg.SettleDelay)
	_ = t.dev.Reopen() // best-effort nudge; error always ignored (§4.5 step 5)

	return nil
}

// readFileMessageWithBackoff reads one 260-byte file-request message,
// retrying with a constant 100ms pause on any transient error, and
// propagating a device-gone error immediately so the loop can exit
// cleanly.
func readFileMessageWithBackoff(t *Transport, cfg Config, log *Logger) ([]byte, error) {
	var buf []byte

	policy := backoff.NewConstantBackOff(cfg.ReadBackoff)

	err := backoff.Retry(func() error {
		b, err := t.Read(FileMessageSize)
		if err == nil {
			buf = b
			return nil
		}

		if isDeviceGone(err) {
			return backoff.Permanent(err)
		}

		if log != nil {
			log.Debug('!', "file-server: transient read error, retrying: %s", err)
		}

		return &TransientReadError{Err: err}
	}, policy)

	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return nil, perm.Err
		}
		return nil, err
	}

	return buf, nil
}
