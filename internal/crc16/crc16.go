// Package crc16 computes the CRC-16/XMODEM checksum used to verify file
// transfers (poly 0x1021, init 0, no reflection, no final xor).
package crc16

const poly = 0x1021

var table [256]uint16

func init() {
	for i := range table {
		crc := uint16(i) << 8
		for j := 0; j < 8; j++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ poly
			} else {
				crc <<= 1
			}
		}
		table[i] = crc
	}
}

// Update folds p into crc.
func Update(crc uint16, p []byte) uint16 {
	for _, b := range p {
		crc = crc<<8 ^ table[byte(crc>>8)^b]
	}
	return crc
}

// UpdateByte folds a single byte into crc.
func UpdateByte(crc uint16, b byte) uint16 {
	return crc<<8 ^ table[byte(crc>>8)^b]
}

// Checksum returns the checksum of data.
func Checksum(data []byte) uint16 { return Update(0, data) }

// Digest is a running checksum. The zero value is ready to use.
type Digest struct{ crc uint16 }

// Write implements io.Writer; it never fails.
func (d *Digest) Write(p []byte) (int, error) {
	d.crc = Update(d.crc, p)
	return len(p), nil
}

// WriteByte implements io.ByteWriter.
func (d *Digest) WriteByte(b byte) error {
	d.crc = UpdateByte(d.crc, b)
	return nil
}

// Sum16 returns the checksum of everything written so far.
func (d *Digest) Sum16() uint16 { return d.crc }

// Reset clears the running checksum.
func (d *Digest) Reset() { d.crc = 0 }
