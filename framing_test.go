package usbboot

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeBootHeaderShapeAndZeroSignature(t *testing.T) {
	buf := EncodeBootHeader(12345, nil)
	require.Len(t, buf, BootHeaderSize)
	assert.Equal(t, uint32(12345), binary.LittleEndian.Uint32(buf[0:4]))
	for _, b := range buf[4:] {
		assert.Equal(t, byte(0), b)
	}
}

func TestEncodeBootHeaderSignaturePaddedAndTruncated(t *testing.T) {
	short := EncodeBootHeader(1, []byte{0xAA, 0xBB})
	assert.Equal(t, byte(0xAA), short[4])
	assert.Equal(t, byte(0xBB), short[5])
	assert.Equal(t, byte(0), short[6])

	long := EncodeBootHeader(1, []byte(strings.Repeat("\xFF", 30)))
	assert.Len(t, long, BootHeaderSize)
	assert.Equal(t, byte(0xFF), long[23])
}

func TestParseFileMessageRoundTrip(t *testing.T) {
	for _, cmd := range []FileCommand{GetFileSize, ReadFile, Done} {
		buf := make([]byte, FileMessageSize)
		binary.LittleEndian.PutUint32(buf[0:4], uint32(cmd))
		copy(buf[4:], "bootcode.bin")

		req, err := ParseFileMessage(buf)
		require.NoError(t, err)

		if cmd == Done {
			// Done never reaches here with a real filename in
			// practice, but the parser still honors it verbatim.
			assert.Equal(t, Done, req.Command)
		} else {
			assert.Equal(t, cmd, req.Command)
		}
		assert.Equal(t, "bootcode.bin", req.Filename)
	}
}

func TestParseFileMessageWrongLength(t *testing.T) {
	_, err := ParseFileMessage(make([]byte, 10))
	assert.Error(t, err)
}

func TestParseFileMessageUnknownCommand(t *testing.T) {
	buf := make([]byte, FileMessageSize)
	binary.LittleEndian.PutUint32(buf[0:4], 7)

	_, err := ParseFileMessage(buf)
	require.Error(t, err)

	var invalid *InvalidCommand
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, uint32(7), invalid.Code)
}

func TestParseFileMessageEmptyFilenameIsDone(t *testing.T) {
	buf := make([]byte, FileMessageSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(ReadFile))

	req, err := ParseFileMessage(buf)
	require.NoError(t, err)
	assert.Equal(t, Done, req.Command)
	assert.Equal(t, "", req.Filename)
}

func TestParseFileMessageFullLengthNameWithNoNUL(t *testing.T) {
	buf := make([]byte, FileMessageSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(GetFileSize))
	name := strings.Repeat("a", fileMessageNameSize)
	copy(buf[4:], name)

	req, err := ParseFileMessage(buf)
	require.NoError(t, err)
	assert.Equal(t, name, req.Filename)
	assert.Len(t, req.Filename, 256)
}

func TestDecodeReturnCodeRoundTrip(t *testing.T) {
	for _, k := range []uint32{0, 1, 0xDEADBEEF} {
		buf := make([]byte, ReturnCodeSize)
		binary.LittleEndian.PutUint32(buf, k)

		got, err := DecodeReturnCode(buf)
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
}

func TestDecodeReturnCodeWrongLength(t *testing.T) {
	_, err := DecodeReturnCode(make([]byte, 3))
	assert.Error(t, err)
}
