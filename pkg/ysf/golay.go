package ysf

// Golay(24,12) block code used to protect the FICH. The generator table is
// built from the Golay(23,12) polynomial x^11+x^10+x^6+x^5+x^4+x^2+1, with
// an overall parity bit appended.

var golayTable []uint32

func init() {
	golayTable = make([]uint32, 4096)
	const gen = uint32(0xC75)

	for i := 0; i < 4096; i++ {
		data := uint32(i)
		code := data << 11

		for j := 11; j >= 0; j-- {
			if code&(1<<(j+11)) != 0 {
				code ^= gen << j
			}
		}

		golayTable[i] = (data << 11) | code
	}
}

// golayEncode24128 encodes 12 data bits into a 24-bit codeword
func golayEncode24128(data uint32) uint32 {
	code := golayTable[data&0xFFF]

	parity := uint32(0)
	for temp := code; temp != 0; temp >>= 1 {
		parity ^= temp & 1
	}
	return (code << 1) | parity
}

// golayDecode24128 decodes a 24-bit codeword held in three bytes
func golayDecode24128(bytes []byte) uint32 {
	if len(bytes) < 3 {
		return 0
	}

	code := (uint32(bytes[0]) << 16) | (uint32(bytes[1]) << 8) | uint32(bytes[2])

	// Strip the parity bit down to the 23-bit code
	code = (code >> 1) & 0x7FFFFF

	if golaySyndrome(code) == 0 {
		return code >> 11
	}

	// Try single bit errors in the data bits
	for i := uint32(0); i < 12; i++ {
		test := code ^ (1 << (23 - i))
		if golaySyndrome(test) == 0 {
			return test >> 11
		}
	}

	// Fall back to minimum distance over the whole codebook
	minDist := 24
	best := uint32(0)
	for i := uint32(0); i < 4096; i++ {
		dist := hammingWeight((code ^ golayTable[i]) & 0x7FFFFF)
		if dist < minDist {
			minDist = dist
			best = i
		}
		if dist == 0 {
			break
		}
	}
	return best
}

var golaySyndromeTable = []uint32{
	0x400, 0x200, 0x100, 0x080, 0x040, 0x020,
	0x010, 0x008, 0x004, 0x002, 0x001, 0x600,
}

func golaySyndrome(code uint32) uint32 {
	syndrome := uint32(0)
	for i := uint32(0); i < 12; i++ {
		if code&(1<<(22-i)) != 0 {
			syndrome ^= golaySyndromeTable[i]
		}
	}
	return syndrome ^ (code & 0x7FF)
}

func hammingWeight(x uint32) int {
	count := 0
	for x != 0 {
		count++
		x &= x - 1
	}
	return count
}
