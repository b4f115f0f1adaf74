package ysf

// Rate 1/2, constraint length K=5 convolutional code with Viterbi decoding,
// as used by the YSF FICH. Based on YSFConvolution.cpp from the MMDVM project.

const (
	convStatesHalf  = 8
	convStates      = 16
	convMetric      = 2
	convConstraintK = 5
	convMaxDecision = 180
)

var (
	branchTable1 = []uint8{0, 0, 0, 0, 1, 1, 1, 1}
	branchTable2 = []uint8{0, 1, 1, 0, 0, 1, 1, 0}
)

type convolution struct {
	metrics1   []uint16
	metrics2   []uint16
	oldMetrics []uint16
	newMetrics []uint16
	decisions  []uint64
	dp         int
}

func newConvolution() *convolution {
	return &convolution{
		metrics1:  make([]uint16, convStates),
		metrics2:  make([]uint16, convStates),
		decisions: make([]uint64, convMaxDecision),
	}
}

// Start resets the decoder state ahead of a frame
func (c *convolution) Start() {
	for i := range c.metrics1 {
		c.metrics1[i] = 0
		c.metrics2[i] = 0
	}

	c.oldMetrics = c.metrics1
	c.newMetrics = c.metrics2
	c.dp = 0
}

// Decode advances the trellis by one dibit
func (c *convolution) Decode(s0, s1 uint8) {
	if c.dp >= convMaxDecision {
		return
	}

	c.decisions[c.dp] = 0

	for i := uint8(0); i < convStatesHalf; i++ {
		j := i * 2

		metric := uint16((branchTable1[i] ^ s0) + (branchTable2[i] ^ s1))

		m0 := c.oldMetrics[i] + metric
		m1 := c.oldMetrics[i+convStatesHalf] + (convMetric - metric)
		var decision0 uint8
		if m0 >= m1 {
			decision0 = 1
			c.newMetrics[j+0] = m1
		} else {
			c.newMetrics[j+0] = m0
		}

		m0 = c.oldMetrics[i] + (convMetric - metric)
		m1 = c.oldMetrics[i+convStatesHalf] + metric
		var decision1 uint8
		if m0 >= m1 {
			decision1 = 1
			c.newMetrics[j+1] = m1
		} else {
			c.newMetrics[j+1] = m0
		}

		c.decisions[c.dp] |= (uint64(decision1) << (j + 1)) | (uint64(decision0) << j)
	}

	c.dp++

	c.oldMetrics, c.newMetrics = c.newMetrics, c.oldMetrics
}

// Chainback traces the survivor path to recover the decoded bits
func (c *convolution) Chainback(out []byte, nBits uint) {
	state := uint32(0)

	for nBits > 0 {
		nBits--
		c.dp--

		if c.dp < 0 {
			break
		}

		i := state >> (9 - convConstraintK)
		bit := uint8(c.decisions[c.dp]>>i) & 1
		state = (uint32(bit) << 7) | (state >> 1)

		writeBit(out, nBits, bit != 0)
	}
}

// Encode runs the encoder over nBits input bits, producing 2*nBits output bits
func (c *convolution) Encode(in, out []byte, nBits uint) {
	var d1, d2, d3, d4 uint8
	k := uint(0)

	for i := uint(0); i < nBits; i++ {
		var d uint8
		if readBit(in, i) {
			d = 1
		}

		g1 := (d + d3 + d4) & 1
		g2 := (d + d1 + d2 + d4) & 1

		d4 = d3
		d3 = d2
		d2 = d1
		d1 = d

		writeBit(out, k, g1 != 0)
		k++
		writeBit(out, k, g2 != 0)
		k++
	}
}

var bitMask = []byte{0x80, 0x40, 0x20, 0x10, 0x08, 0x04, 0x02, 0x01}

func writeBit(p []byte, i uint, b bool) {
	if b {
		p[i>>3] |= bitMask[i&7]
	} else {
		p[i>>3] &= ^bitMask[i&7]
	}
}

func readBit(p []byte, i uint) bool {
	return (p[i>>3] & bitMask[i&7]) != 0
}
