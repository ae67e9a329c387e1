package boot

import (
	"fmt"

	"github.com/canboot/hostdriver/pkg/can"
)

// Outbound bootloader traffic uses identifier 0x7FF; inbound replies arrive
// on 0x7FE. The asymmetry is a property of the target firmware, not a bug:
// see SPEC_FULL.md's Open Question decision.
const (
	OutboundIdentifier uint32 = 0x7FF
	InboundIdentifier  uint32 = 0x7FE
)

// StartOfMessageMask marks a data_counter as the first (or only) frame of a
// message/block.
const StartOfMessageMask uint8 = 0x80

// Type is the bootloader message type (byte 1 high two bits).
type Type uint8

const (
	Request     Type = 0
	Success     Type = 1
	Error       Type = 2
	WrongNumber Type = 3
)

func (t Type) String() string {
	switch t {
	case Request:
		return "REQUEST"
	case Success:
		return "SUCCESS"
	case Error:
		return "ERROR"
	case WrongNumber:
		return "WRONG_NUMBER"
	default:
		return fmt.Sprintf("TYPE(%d)", uint8(t))
	}
}

// Subject is the 7-bit bootloader operation code (byte 1 low six bits, per
// the wire layout only the low 6 bits are significant — see §6).
type Subject uint8

const (
	NoOperation      Subject = 0
	Identify         Subject = 1
	SetAddress       Subject = 2
	Data             Subject = 3
	StartApplication Subject = 4
	ReadFlash        Subject = 5
	GetFusebits      Subject = 6
	ChipErase        Subject = 7
	ReadEEPROM       Subject = 8
	WriteEEPROM      Subject = 9
	SetBoardID       Subject = 10
	SetBitrate       Subject = 11
	StartBootloader  Subject = 127
)

func (s Subject) String() string {
	switch s {
	case NoOperation:
		return "NO_OPERATION"
	case Identify:
		return "IDENTIFY"
	case SetAddress:
		return "SET_ADDRESS"
	case Data:
		return "DATA"
	case StartApplication:
		return "START_APPLICATION"
	case ReadFlash:
		return "READ_FLASH"
	case GetFusebits:
		return "GET_FUSEBITS"
	case ChipErase:
		return "CHIP_ERASE"
	case ReadEEPROM:
		return "READ_EEPROM"
	case WriteEEPROM:
		return "WRITE_EEPROM"
	case SetBoardID:
		return "SET_BOARD_ID"
	case SetBitrate:
		return "SET_BITRATE"
	case StartBootloader:
		return "START_BOOTLOADER"
	default:
		return fmt.Sprintf("SUBJECT(%d)", uint8(s))
	}
}

const subjectMask uint8 = 0x3F

// Message is the decoded, transport-independent bootloader protocol unit.
type Message struct {
	BoardID     uint8
	Type        Type
	Subject     Subject
	Number      uint8
	DataCounter uint8
	Data        []byte // 0..4 bytes
}

// Encode produces the 8-byte CAN payload for a Message, addressed to
// OutboundIdentifier, non-extended, non-RTR.
func Encode(msg Message) can.Frame {
	frame := can.Frame{ID: OutboundIdentifier, DLC: uint8(4 + len(msg.Data))}
	frame.Data[0] = msg.BoardID
	frame.Data[1] = (uint8(msg.Type) << 6) | (uint8(msg.Subject) & subjectMask)
	frame.Data[2] = msg.Number
	frame.Data[3] = msg.DataCounter
	copy(frame.Data[4:], msg.Data)
	return frame
}

// Decode parses a received CAN frame into a Message. Frames that are
// extended, RTR, or shorter than 4 bytes are rejected as ErrBadFormat.
func Decode(frame can.Frame) (Message, error) {
	if frame.Extended || frame.RTR || frame.DLC < 4 {
		return Message{}, ErrBadFormat
	}
	dataLen := int(frame.DLC) - 4
	if dataLen > 4 {
		dataLen = 4
	}
	msg := Message{
		BoardID:     frame.Data[0],
		Type:        Type(frame.Data[1] >> 6),
		Subject:     Subject(frame.Data[1] & subjectMask),
		Number:      frame.Data[2],
		DataCounter: frame.Data[3],
	}
	if dataLen > 0 {
		msg.Data = append([]byte(nil), frame.Data[4:4+dataLen]...)
	}
	return msg, nil
}
