package ysf

// CRC-CCITT (poly 0x1021) protecting the FICH bytes.

const crcCCITTPoly = 0x1021

func calcCCITT162(data []byte) uint16 {
	crc := uint16(0xFFFF)

	for _, b := range data {
		crc ^= uint16(b) << 8

		for j := 0; j < 8; j++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ crcCCITTPoly
			} else {
				crc <<= 1
			}
		}
	}

	return ^crc
}

// addCCITT162 writes the checksum into the final two bytes of data
func addCCITT162(data []byte) {
	if len(data) < 2 {
		return
	}

	crc := calcCCITT162(data[:len(data)-2])
	data[len(data)-2] = byte(crc >> 8)
	data[len(data)-1] = byte(crc)
}

// checkCCITT162 verifies the trailing checksum
func checkCCITT162(data []byte) bool {
	if len(data) < 2 {
		return false
	}

	crc := calcCCITT162(data[:len(data)-2])
	return byte(crc>>8) == data[len(data)-2] && byte(crc) == data[len(data)-1]
}
