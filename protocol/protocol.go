// Package protocol implements the framed request/response wire protocol
// spoken between the host tool and the flash engine over the USB serial
// link.
//
// Frame layout (all header fields big-endian):
//
//	[Magic(2)][Seq(1)][Cmd|Status(1)][Addr(3)][Len(1)][Payload(Len)][CRC16(2)]
//
// The CRC-16/CCITT-FALSE checksum covers the bytes from Seq through the
// last payload byte. Requests carry magic 0xABCD and a command opcode;
// responses carry magic 0xDCBA and a status code in the same position.
// Multi-byte integers inside payloads are little-endian.
package protocol

const (
	RequestMagic  uint16 = 0xABCD
	ResponseMagic uint16 = 0xDCBA

	HeaderSize   = 8 // Magic through Len
	ChecksumSize = 2
	MinFrameSize = HeaderSize + ChecksumSize

	// MaxPayload is the hard limit imposed by the 1-byte Length field.
	MaxPayload = 255

	// PayloadCap is the usable payload per frame. It is below MaxPayload
	// to leave staging headroom on the device.
	PayloadCap = 240

	// MaxAddress is the highest valid 24-bit flash byte address.
	MaxAddress = 1<<24 - 1
)

// W25Q128 geometry.
const (
	FlashTotalSize  = 16 << 20
	FlashPageSize   = 256
	FlashSectorSize = 4096
)

// Command is a request opcode.
type Command byte

const (
	CmdInfo        Command = 0x01
	CmdErase       Command = 0x02
	CmdWrite       Command = 0x03
	CmdRead        Command = 0x04
	CmdVerify      Command = 0x05
	CmdStatus      Command = 0x07
	CmdStreamWrite Command = 0x08
	CmdVerifyCRC   Command = 0x09
)

func (c Command) String() string {
	switch c {
	case CmdInfo:
		return "Info"
	case CmdErase:
		return "Erase"
	case CmdWrite:
		return "Write"
	case CmdRead:
		return "Read"
	case CmdVerify:
		return "Verify"
	case CmdStatus:
		return "Status"
	case CmdStreamWrite:
		return "StreamWrite"
	case CmdVerifyCRC:
		return "VerifyCRC"
	}
	return "Command(0x" + hexByte(byte(c)) + ")"
}

// Valid reports whether c is a recognised opcode.
func (c Command) Valid() bool {
	switch c {
	case CmdInfo, CmdErase, CmdWrite, CmdRead, CmdVerify,
		CmdStatus, CmdStreamWrite, CmdVerifyCRC:
		return true
	}
	return false
}

// Status is a response status code.
type Status byte

const (
	StatusSuccess        Status = 0x00
	StatusInvalidCommand Status = 0x01
	StatusInvalidAddress Status = 0x02
	StatusFlashError     Status = 0x03
	StatusCRCError       Status = 0x04
	StatusBufferOverflow Status = 0x05
	StatusTimeout        Status = 0x06
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusInvalidCommand:
		return "invalid command"
	case StatusInvalidAddress:
		return "invalid address"
	case StatusFlashError:
		return "flash error"
	case StatusCRCError:
		return "crc error"
	case StatusBufferOverflow:
		return "buffer overflow"
	case StatusTimeout:
		return "timeout"
	}
	return "Status(0x" + hexByte(byte(s)) + ")"
}

const hexDigits = "0123456789ABCDEF"

func hexByte(b byte) string {
	return string([]byte{hexDigits[b>>4], hexDigits[b&0xF]})
}
