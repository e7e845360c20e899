package ch10

import "fmt"

const (
	SyncPattern         = 0xEB25
	HeaderSize          = 24
	SecondaryHeaderSize = 12
	DefaultHeaderVer    = 0x02

	// TicksPerSecond is the rate of the relative time counter.
	TicksPerSecond = 10_000_000
)

// Packet flag bits.
const (
	FlagChecksumMask     = 0x03
	FlagTimeFormatMask   = 0x0C
	FlagOverflow         = 0x10
	FlagTimeSyncError    = 0x20
	FlagIntraPacketTime  = 0x40
	FlagSecondaryHeader  = 0x80
	timeFormatFlagShift  = 2
	relTimeMask          = 0xFFFF_FFFF_FFFF
	secondaryTimeOffset  = 0
	secondaryCksumOffset = 10
)

// ChecksumKind selects the payload trailer checksum width.
type ChecksumKind uint8

const (
	ChecksumNone ChecksumKind = iota
	Checksum8
	Checksum16
	Checksum32
)

// Width returns the number of trailer bytes occupied by the checksum.
func (k ChecksumKind) Width() int {
	switch k {
	case Checksum8:
		return 1
	case Checksum16:
		return 2
	case Checksum32:
		return 4
	default:
		return 0
	}
}

func (k ChecksumKind) String() string {
	switch k {
	case ChecksumNone:
		return "none"
	case Checksum8:
		return "8-bit"
	case Checksum16:
		return "16-bit"
	case Checksum32:
		return "32-bit"
	default:
		return fmt.Sprintf("checksum(%d)", uint8(k))
	}
}

// TimeFormat identifies the encoding of the secondary header time field.
type TimeFormat uint8

const (
	TimeFormatCh4Binary TimeFormat = iota
	TimeFormatIEEE1588
	TimeFormatReserved2
	TimeFormatReserved3
)

func (f TimeFormat) String() string {
	switch f {
	case TimeFormatCh4Binary:
		return "ch4-binary"
	case TimeFormatIEEE1588:
		return "ieee-1588"
	default:
		return fmt.Sprintf("reserved(%d)", uint8(f))
	}
}

// DataType is the payload format code carried in every packet header.
type DataType uint8

const (
	DataTypeComputer0      DataType = 0x00
	DataTypeTMATS          DataType = 0x01
	DataTypeRecordingEvent DataType = 0x02
	DataTypeRecordingIndex DataType = 0x03
	DataTypeComputer4      DataType = 0x04
	DataTypeComputer5      DataType = 0x05
	DataTypeComputer6      DataType = 0x06
	DataTypeComputer7      DataType = 0x07
	DataTypePCMF0          DataType = 0x08
	DataTypePCMF1          DataType = 0x09
	DataTypeTimeF1         DataType = 0x11
	DataType1553F1         DataType = 0x19
	DataType1553F2         DataType = 0x1A
	DataTypeAnalogF1       DataType = 0x21
	DataTypeDiscreteF1     DataType = 0x29
	DataTypeMessageF0      DataType = 0x30
	DataTypeARINC429F0     DataType = 0x38
	DataTypeVideoF0        DataType = 0x40
	DataTypeVideoF1        DataType = 0x41
	DataTypeVideoF2        DataType = 0x42
	DataTypeImageF0        DataType = 0x48
	DataTypeImageF1        DataType = 0x49
	DataTypeUARTF0         DataType = 0x50
	DataType1394F0         DataType = 0x58
	DataType1394F1         DataType = 0x59
	DataTypeParallelF0     DataType = 0x60
	DataTypeEthernetF0     DataType = 0x68
	DataTypeCANBus         DataType = 0x78
)

var dataTypeNames = map[DataType]string{
	DataTypeComputer0:      "computer-f0",
	DataTypeTMATS:          "tmats",
	DataTypeRecordingEvent: "recording-event",
	DataTypeRecordingIndex: "recording-index",
	DataTypeComputer4:      "computer-f4",
	DataTypeComputer5:      "computer-f5",
	DataTypeComputer6:      "computer-f6",
	DataTypeComputer7:      "computer-f7",
	DataTypePCMF0:          "pcm-f0",
	DataTypePCMF1:          "pcm-f1",
	DataTypeTimeF1:         "time-f1",
	DataType1553F1:         "1553-f1",
	DataType1553F2:         "1553-f2",
	DataTypeAnalogF1:       "analog-f1",
	DataTypeDiscreteF1:     "discrete-f1",
	DataTypeMessageF0:      "message-f0",
	DataTypeARINC429F0:     "arinc429-f0",
	DataTypeVideoF0:        "video-f0",
	DataTypeVideoF1:        "video-f1",
	DataTypeVideoF2:        "video-f2",
	DataTypeImageF0:        "image-f0",
	DataTypeImageF1:        "image-f1",
	DataTypeUARTF0:         "uart-f0",
	DataType1394F0:         "1394-f0",
	DataType1394F1:         "1394-f1",
	DataTypeParallelF0:     "parallel-f0",
	DataTypeEthernetF0:     "ethernet-f0",
	DataTypeCANBus:         "can-bus",
}

func (d DataType) String() string {
	if name, ok := dataTypeNames[d]; ok {
		return name
	}
	return fmt.Sprintf("0x%02X", uint8(d))
}

// Mode is the way a stream was opened.
type Mode int

const (
	ModeRead Mode = iota
	ModeOverwrite
	ModeAppend
	ModeReadInOrder
	ModeReadNetStream
	ModeWriteNetStream
)

func (m Mode) String() string {
	switch m {
	case ModeRead:
		return "read"
	case ModeOverwrite:
		return "overwrite"
	case ModeAppend:
		return "append"
	case ModeReadInOrder:
		return "read-in-order"
	case ModeReadNetStream:
		return "read-net-stream"
	case ModeWriteNetStream:
		return "write-net-stream"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

func (m Mode) reading() bool {
	return m == ModeRead || m == ModeReadInOrder || m == ModeReadNetStream
}

// State is the read/write state of a stream.
type State int

const (
	StateClosed State = iota
	StateWrite
	StateUnsynced
	StateReadHeader
	StateReadData
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateWrite:
		return "write"
	case StateUnsynced:
		return "unsynced"
	case StateReadHeader:
		return "read-header"
	case StateReadData:
		return "read-data"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}
