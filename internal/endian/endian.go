// Package endian provides fixed-offset little/big-endian decoders for the
// on-disk structures this module reads (GPT, LVM2 PV label, LVM2 metadata
// area headers). Every helper takes an explicit offset rather than mutating
// a cursor, since all of these structures are fixed-size and read at known
// offsets.
package endian

// Uint16LE decodes a little-endian uint16 at off.
func Uint16LE(b []byte, off int) uint16 {
	return uint16(b[off]) | uint16(b[off+1])<<8
}

// Uint32LE decodes a little-endian uint32 at off.
func Uint32LE(b []byte, off int) uint32 {
	return uint32(b[off]) | uint32(b[off+1])<<8 | uint32(b[off+2])<<16 | uint32(b[off+3])<<24
}

// Uint64LE decodes a little-endian uint64 at off.
func Uint64LE(b []byte, off int) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[off+i])
	}
	return v
}

// Uint16BE decodes a big-endian uint16 at off.
func Uint16BE(b []byte, off int) uint16 {
	return uint16(b[off])<<8 | uint16(b[off+1])
}

// Uint32BE decodes a big-endian uint32 at off.
func Uint32BE(b []byte, off int) uint32 {
	return uint32(b[off])<<24 | uint32(b[off+1])<<16 | uint32(b[off+2])<<8 | uint32(b[off+3])
}

// Uint64BE decodes a big-endian uint64 at off.
func Uint64BE(b []byte, off int) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(b[off+i])
	}
	return v
}

// PutUint32LE encodes v little-endian into b at off. Used to zero the GPT
// header's CRC field before checksumming, and by tests building synthetic
// on-disk fixtures.
func PutUint32LE(b []byte, off int, v uint32) {
	b[off] = byte(v)
	b[off+1] = byte(v >> 8)
	b[off+2] = byte(v >> 16)
	b[off+3] = byte(v >> 24)
}

// PutUint64LE encodes v little-endian into b at off.
func PutUint64LE(b []byte, off int, v uint64) {
	for i := 0; i < 8; i++ {
		b[off+i] = byte(v >> (8 * uint(i)))
	}
}

// ZeroRun reports whether b[off:off+n] is entirely zero.
func ZeroRun(b []byte, off, n int) bool {
	for i := 0; i < n; i++ {
		if b[off+i] != 0 {
			return false
		}
	}
	return true
}
