package ysf

import (
	"fmt"
)

// FICH coding based on YSFFICH.cpp from the MMDVM project: Golay(24,12)
// block codes, rate 1/2 Viterbi convolution, CRC-CCITT, bit interleaving.

// FICH is the decoded Frame Information Channel Header
type FICH struct {
	FI   byte // Frame Information: header / communication / terminator
	CS   byte // Communication type / channel ID
	CM   byte // Call mode
	BN   byte // Block number
	BT   byte // Block type
	FN   byte // Frame number
	FT   byte // Frame total
	Dev  byte // Device type
	MR   byte // Message route
	VoIP byte // VoIP flag
	DT   byte // Data type
	SQL  byte // SQL type
	SQ   byte // SQL code; carries the DG-ID on modern YSF
}

// Interleave table for the 100 FICH dibits
var interleaveTable = []uint{
	0, 40, 80, 120, 160,
	2, 42, 82, 122, 162,
	4, 44, 84, 124, 164,
	6, 46, 86, 126, 166,
	8, 48, 88, 128, 168,
	10, 50, 90, 130, 170,
	12, 52, 92, 132, 172,
	14, 54, 94, 134, 174,
	16, 56, 96, 136, 176,
	18, 58, 98, 138, 178,
	20, 60, 100, 140, 180,
	22, 62, 102, 142, 182,
	24, 64, 104, 144, 184,
	26, 66, 106, 146, 186,
	28, 68, 108, 148, 188,
	30, 70, 110, 150, 190,
	32, 72, 112, 152, 192,
	34, 74, 114, 154, 194,
	36, 76, 116, 156, 196,
	38, 78, 118, 158, 198,
}

// Encode writes the FICH into a frame payload (sync + 25 bytes minimum)
func (f *FICH) Encode(payload []byte) error {
	if len(payload) < SyncLength+25 {
		return fmt.Errorf("payload too short for FICH encode: %d", len(payload))
	}

	bytes := payload[SyncLength:]

	fich := make([]byte, 6)
	fich[0] = ((f.FI & 0x03) << 6) | ((f.CS & 0x03) << 4) | ((f.CM & 0x03) << 2) | (f.BN & 0x03)
	fich[1] = ((f.BT & 0x03) << 6) | ((f.FN & 0x07) << 3) | (f.FT & 0x07)
	fich[2] = ((f.MR & 0x03) << 3) | ((f.VoIP & 0x01) << 2) | (f.DT & 0x03)
	if f.Dev != 0 {
		fich[2] |= 0x40
	}
	fich[3] = f.SQ & 0x7F
	if f.SQL != 0 {
		fich[3] |= 0x80
	}

	addCCITT162(fich)

	b0 := ((uint32(fich[0]) << 4) & 0xFF0) | ((uint32(fich[1]) >> 4) & 0x00F)
	b1 := ((uint32(fich[1]) << 8) & 0xF00) | (uint32(fich[2]) & 0x0FF)
	b2 := ((uint32(fich[3]) << 4) & 0xFF0) | ((uint32(fich[4]) >> 4) & 0x00F)
	b3 := ((uint32(fich[4]) << 8) & 0xF00) | (uint32(fich[5]) & 0x0FF)

	c0 := golayEncode24128(b0)
	c1 := golayEncode24128(b1)
	c2 := golayEncode24128(b2)
	c3 := golayEncode24128(b3)

	conv := make([]byte, 13)
	for i, c := range []uint32{c0, c1, c2, c3} {
		conv[i*3+0] = byte(c >> 16)
		conv[i*3+1] = byte(c >> 8)
		conv[i*3+2] = byte(c)
	}

	convolved := make([]byte, 25)
	enc := newConvolution()
	enc.Encode(conv, convolved, 100)

	j := uint(0)
	for i := uint(0); i < 100; i++ {
		n := interleaveTable[i]

		s0 := readBit(convolved, j)
		j++
		s1 := readBit(convolved, j)
		j++

		writeBit(bytes, n, s0)
		writeBit(bytes, n+1, s1)
	}

	return nil
}

// Decode recovers the FICH from a frame payload. It returns false when the
// CRC fails after error correction; the caller decides what to do with an
// unreadable FICH.
func (f *FICH) Decode(payload []byte) (bool, error) {
	if len(payload) < SyncLength+25 {
		return false, fmt.Errorf("payload too short for FICH decode: %d", len(payload))
	}

	bytes := payload[SyncLength:]

	viterbi := newConvolution()
	viterbi.Start()

	for i := uint(0); i < 100; i++ {
		n := interleaveTable[i]
		var s0, s1 uint8

		if readBit(bytes, n) {
			s0 = 1
		}
		if readBit(bytes, n+1) {
			s1 = 1
		}

		viterbi.Decode(s0, s1)
	}

	output := make([]byte, 13)
	viterbi.Chainback(output, 96)

	b0 := golayDecode24128(output[0:3])
	b1 := golayDecode24128(output[3:6])
	b2 := golayDecode24128(output[6:9])
	b3 := golayDecode24128(output[9:12])

	fich := make([]byte, 6)
	fich[0] = byte((b0 >> 4) & 0xFF)
	fich[1] = byte(((b0 << 4) & 0xF0) | ((b1 >> 8) & 0x0F))
	fich[2] = byte(b1 & 0xFF)
	fich[3] = byte((b2 >> 4) & 0xFF)
	fich[4] = byte(((b2 << 4) & 0xF0) | ((b3 >> 8) & 0x0F))
	fich[5] = byte(b3 & 0xFF)

	if !checkCCITT162(fich) {
		return false, nil
	}

	f.FI = (fich[0] >> 6) & 0x03
	f.CS = (fich[0] >> 4) & 0x03
	f.CM = (fich[0] >> 2) & 0x03
	f.BN = fich[0] & 0x03
	f.BT = (fich[1] >> 6) & 0x03
	f.FN = (fich[1] >> 3) & 0x07
	f.FT = fich[1] & 0x07
	f.DT = fich[2] & 0x03
	f.MR = (fich[2] >> 3) & 0x03
	f.Dev = 0
	if fich[2]&0x40 != 0 {
		f.Dev = 1
	}
	f.VoIP = 0
	if fich[2]&0x04 != 0 {
		f.VoIP = 1
	}
	f.SQL = 0
	if fich[3]&0x80 != 0 {
		f.SQL = 1
	}
	f.SQ = fich[3] & 0x7F

	return true, nil
}
