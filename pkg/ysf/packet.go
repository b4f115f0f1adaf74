package ysf

import (
	"fmt"
	"hash/fnv"
)

// FrameRole is the position of a YSFD frame within a transmission
type FrameRole int

const (
	RoleUnknown FrameRole = iota
	RoleHeader
	RoleData
	RoleTerminator
)

// String returns the string representation of the frame role
func (r FrameRole) String() string {
	switch r {
	case RoleHeader:
		return "header"
	case RoleData:
		return "data"
	case RoleTerminator:
		return "terminator"
	default:
		return "unknown"
	}
}

// Classify returns the four byte packet magic, or "" for anything that
// cannot be a YSF datagram.
func Classify(data []byte) string {
	if len(data) < StatusQueryLength {
		return ""
	}
	switch magic := string(data[0:4]); magic {
	case MagicPoll, MagicUnlink, MagicData, MagicStatus, MagicVersion:
		return magic
	default:
		return ""
	}
}

// PollPacket is a YSFP keep-alive / implicit registration
type PollPacket struct {
	Callsign string
}

// ParsePoll parses a YSFP packet
func ParsePoll(data []byte) (*PollPacket, error) {
	if len(data) < PollLength {
		return nil, fmt.Errorf("YSFP packet too short: %d", len(data))
	}
	if string(data[0:4]) != MagicPoll {
		return nil, fmt.Errorf("not a YSFP packet")
	}
	return &PollPacket{Callsign: TrimCallsign(string(data[4:14]))}, nil
}

// BuildPoll builds a YSFP packet for the given callsign
func BuildPoll(callsign string) []byte {
	buf := make([]byte, PollLength)
	copy(buf[0:4], MagicPoll)
	copy(buf[4:14], PadCallsign(callsign))
	return buf
}

// UnlinkPacket is a YSFU explicit deregistration
type UnlinkPacket struct {
	Callsign string
}

// ParseUnlink parses a YSFU packet
func ParseUnlink(data []byte) (*UnlinkPacket, error) {
	if len(data) < PollLength {
		return nil, fmt.Errorf("YSFU packet too short: %d", len(data))
	}
	if string(data[0:4]) != MagicUnlink {
		return nil, fmt.Errorf("not a YSFU packet")
	}
	return &UnlinkPacket{Callsign: TrimCallsign(string(data[4:14]))}, nil
}

// BuildUnlink builds a YSFU packet for the given callsign
func BuildUnlink(callsign string) []byte {
	buf := make([]byte, PollLength)
	copy(buf[0:4], MagicUnlink)
	copy(buf[4:14], PadCallsign(callsign))
	return buf
}

// DataPacket is a parsed YSFD voice/data frame
type DataPacket struct {
	Gateway string // Gateway callsign, offset 4
	Source  string // Source callsign, offset 14
	Dest    string // Destination callsign, offset 24
	Counter byte   // Raw counter byte at offset 34

	// Derived from the counter byte and the FICH
	FrameNumber uint8
	Last        bool // Counter bit 0: last frame of the transmission
	Role        FrameRole
	DGID        uint8
	FICHValid   bool
}

// ParseData parses a 155-byte YSFD frame and decodes its FICH. A frame with
// an unreadable FICH is still returned: the counter byte alone identifies a
// terminator, and everything else is treated as an intermediate frame.
func ParseData(data []byte) (*DataPacket, error) {
	if len(data) != FrameLength {
		return nil, fmt.Errorf("bad YSFD frame length: %d", len(data))
	}
	if string(data[0:4]) != MagicData {
		return nil, fmt.Errorf("not a YSFD packet")
	}

	p := &DataPacket{
		Gateway:     TrimCallsign(string(data[4:14])),
		Source:      TrimCallsign(string(data[14:24])),
		Dest:        TrimCallsign(string(data[24:34])),
		Counter:     data[34],
		FrameNumber: data[34] >> 1,
		Last:        data[34]&0x01 == 0x01,
	}

	var fich FICH
	valid, err := fich.Decode(data[PayloadOffset:])
	if err == nil && valid {
		p.FICHValid = true
		p.DGID = fich.SQ
		switch fich.FI {
		case FIHeader:
			p.Role = RoleHeader
		case FICommunication:
			p.Role = RoleData
		case FITerminator:
			p.Role = RoleTerminator
		default:
			p.Role = RoleUnknown
		}
		// The counter bit marks end of transmission even when the FICH
		// says communication; trust the stronger signal.
		if p.Last && p.Role == RoleData {
			p.Role = RoleTerminator
		}
		return p, nil
	}

	// FICH unreadable: fall back to the counter byte
	if p.Last {
		p.Role = RoleTerminator
	} else {
		p.Role = RoleData
	}
	return p, nil
}

// BuildData assembles a YSFD frame with an encoded FICH. Used by clients and
// tests; the reflector itself relays received frames verbatim.
func BuildData(gateway, source, dest string, counter byte, fich *FICH) ([]byte, error) {
	buf := make([]byte, FrameLength)
	copy(buf[0:4], MagicData)
	copy(buf[4:14], PadCallsign(gateway))
	copy(buf[14:24], PadCallsign(source))
	copy(buf[24:34], PadCallsign(dest))
	buf[34] = counter
	copy(buf[PayloadOffset:PayloadOffset+SyncLength], SyncBytes)
	if err := fich.Encode(buf[PayloadOffset:]); err != nil {
		return nil, err
	}
	return buf, nil
}

// BuildStatusReply builds a YSFS reply: magic, a 5-digit hash derived from
// the reflector name, 16-byte name, 14-byte description, 3-digit count.
func BuildStatusReply(name, description string, count int) []byte {
	buf := make([]byte, 0, StatusReplyLength)
	buf = append(buf, MagicStatus...)
	buf = append(buf, fmt.Sprintf("%05d", StatusHash(name))...)
	buf = append(buf, padField(name, 16)...)
	buf = append(buf, padField(description, 14)...)
	if count > 999 {
		count = 999
	}
	buf = append(buf, fmt.Sprintf("%03d", count)...)
	return buf
}

// StatusHash derives the 5-digit reflector id sent in YSFS replies
func StatusHash(name string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	return h.Sum32() % 100000
}

// BuildVersionReply builds a YSFV reply carrying the software version
func BuildVersionReply(version string) []byte {
	buf := make([]byte, 0, 4+len(version))
	buf = append(buf, MagicVersion...)
	buf = append(buf, version...)
	return buf
}

func padField(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	for len(s) < n {
		s += " "
	}
	return s
}
