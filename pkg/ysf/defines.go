package ysf

// YSF wire protocol constants. Frame layout and FICH coding follow
// YSFDefines.h / YSFFICH.cpp from the MMDVM project.

const (
	// CallsignLength is the length of padded callsign fields on the wire
	CallsignLength = 10

	// FrameLength is the total length of a YSFD data frame
	FrameLength = 155

	// PollLength is the length of a YSFP/YSFU packet
	PollLength = 14

	// StatusQueryLength is the length of a YSFS query
	StatusQueryLength = 4

	// StatusReplyLength is the length of a YSFS reply
	StatusReplyLength = 42

	// SyncLength is the length of the C4FM sync pattern
	SyncLength = 5

	// PayloadOffset is where the 120-byte payload begins in a YSFD frame
	PayloadOffset = 35

	// PayloadLength is the length of the FICH+voice payload
	PayloadLength = 120
)

// Packet type magics (first four bytes of every datagram)
const (
	MagicPoll    = "YSFP"
	MagicUnlink  = "YSFU"
	MagicData    = "YSFD"
	MagicStatus  = "YSFS"
	MagicVersion = "YSFV"
)

// Frame Information (FI) values from the FICH
const (
	FIHeader        = 0x00
	FICommunication = 0x01
	FITerminator    = 0x02
	FITest          = 0x03
)

// SyncBytes is the C4FM sync pattern at the start of each payload
var SyncBytes = []byte{0xD4, 0x71, 0xC9, 0x63, 0x4D}

// PadCallsign pads or truncates a callsign to CallsignLength
func PadCallsign(cs string) string {
	if len(cs) > CallsignLength {
		return cs[:CallsignLength]
	}
	for len(cs) < CallsignLength {
		cs += " "
	}
	return cs
}

// TrimCallsign strips the trailing padding from a wire callsign
func TrimCallsign(cs string) string {
	for len(cs) > 0 && cs[len(cs)-1] == ' ' {
		cs = cs[:len(cs)-1]
	}
	return cs
}
