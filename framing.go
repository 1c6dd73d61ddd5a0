/* go-raspberrypi-usbboot
 *
 * Binary framing: boot message header, file-request message, return
 * code. Pure functions, no I/O, little-endian throughout (§3, §4.3).
 */

package usbboot

import (
	"encoding/binary"
	"fmt"
)

const (
	// BootHeaderSize is the size, in bytes, of the stage-1 boot
	// message header.
	BootHeaderSize = 24

	// bootHeaderSignatureSize is the size of the header's unused
	// signature field.
	bootHeaderSignatureSize = 20

	// FileMessageSize is the size, in bytes, of a file-request
	// message received from the device.
	FileMessageSize = 260

	// fileMessageNameSize is the size of the filename field within
	// a file-request message.
	fileMessageNameSize = 256

	// ReturnCodeSize is the size, in bytes, of a return-code
	// message.
	ReturnCodeSize = 4
)

// FileCommand enumerates the file-request commands a stage-2 loader
// can send.
type FileCommand uint32

const (
	// GetFileSize requests the size of a named blob.
	GetFileSize FileCommand = 0

	// ReadFile requests the content of a named blob.
	ReadFile FileCommand = 1

	// Done signals the stage-2 loader is finished; the file-server
	// loop exits.
	Done FileCommand = 2
)

func (c FileCommand) String() string {
	switch c {
	case GetFileSize:
		return "GetFileSize"
	case ReadFile:
		return "ReadFile"
	case Done:
		return "Done"
	default:
		return fmt.Sprintf("FileCommand(%d)", uint32(c))
	}
}

// EncodeBootHeader encodes the 24-byte stage-1 boot message header:
// a little-endian u32 payload length followed by a 20-byte signature
// field.
//
// signature may be nil, in which case the signature field is
// zero-filled (§9's Open Question: the field is unused today, but the
// encoder is parameterized so a future signed-bootcode requirement
// doesn't change the function's shape). A non-nil signature shorter
// than 20 bytes is zero-padded on the right; one longer is truncated.
func EncodeBootHeader(payloadLen uint32, signature []byte) []byte {
	buf := make([]byte, BootHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], payloadLen)
	copy(buf[4:4+bootHeaderSignatureSize], signature)
	return buf
}

// FileRequest is the decoded form of a 260-byte file-request message.
type FileRequest struct {
	Command  FileCommand
	Filename string
}

// ParseFileMessage decodes a 260-byte file-request message: a
// little-endian u32 command code followed by a NUL-terminated ASCII
// filename in the remaining 256 bytes.
//
// An empty filename is semantically equivalent to Done regardless of
// the command code that was sent (§3).
func ParseFileMessage(buf []byte) (FileRequest, error) {
	if len(buf) != FileMessageSize {
		return FileRequest{}, fmt.Errorf(
			"usbboot: file message must be %d bytes, got %d",
			FileMessageSize, len(buf))
	}

	code := binary.LittleEndian.Uint32(buf[0:4])

	cmd := FileCommand(code)
	switch cmd {
	case GetFileSize, ReadFile, Done:
	default:
		return FileRequest{}, &InvalidCommand{Code: code}
	}

	name := buf[4 : 4+fileMessageNameSize]
	n := len(name)
	for i, b := range name {
		if b == 0 {
			n = i
			break
		}
	}
	filename := string(name[:n])

	if filename == "" {
		cmd = Done
	}

	return FileRequest{Command: cmd, Filename: filename}, nil
}

// DecodeReturnCode decodes a 4-byte little-endian return code. Zero
// means success; any other value is an upload failure (§3).
func DecodeReturnCode(buf []byte) (uint32, error) {
	if len(buf) != ReturnCodeSize {
		return 0, fmt.Errorf(
			"usbboot: return code message must be %d bytes, got %d",
			ReturnCodeSize, len(buf))
	}
	return binary.LittleEndian.Uint32(buf), nil
}
