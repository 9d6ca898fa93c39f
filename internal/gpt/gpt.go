// Package gpt reads a GUID Partition Table from the start of a device
// and locates LVM2 physical volume partitions, grounded on
// original_source/gpt.h and readlogicalvolume.c's readGPT.
package gpt

import (
	"bytes"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pchambers/lvrecover/internal/crc32check"
	"github.com/pchambers/lvrecover/internal/device"
	"github.com/pchambers/lvrecover/internal/endian"
	"github.com/pchambers/lvrecover/internal/lverr"
)

const (
	headerSize  = 92
	entrySize16 = 16
	nameBytes   = 72
)

// lvmTypeGUID is the on-disk, mixed-endian byte sequence GPT stores for
// the "Linux LVM" partition type GUID, taken verbatim from
// readlogicalvolume.c's UUIDisLVM.
var lvmTypeGUID = []byte{
	0x79, 0xD3, 0xD6, 0xE6, 0x07, 0xF5, 0xC2, 0x44,
	0xA2, 0x3C, 0x23, 0x8F, 0x2A, 0x3D, 0xF9, 0x28,
}

// Header is the decoded GPT header fields this package cares about.
type Header struct {
	DiskGUID           uuid.UUID
	PartitionTableLBA  uint64
	PartitionCount     uint32
	PartitionEntrySize uint32
}

// Entry is a decoded GPT partition entry.
type Entry struct {
	TypeGUID   uuid.UUID
	UniqueGUID uuid.UUID
	FirstLBA   uint64
	LastLBA    uint64
	Attributes uint64
	Name       string

	isLVM bool
}

// IsLVM reports whether this entry's type GUID is the Linux LVM type.
func (e Entry) IsLVM() bool { return e.isLVM }

// mixedEndianGUID decodes a 16-byte on-disk GUID (first three fields
// little-endian, last two big-endian, per RFC 4122's Microsoft variant)
// into a uuid.UUID for display/logging purposes only.
func mixedEndianGUID(b []byte) uuid.UUID {
	var out [16]byte
	out[0], out[1], out[2], out[3] = b[3], b[2], b[1], b[0]
	out[4], out[5] = b[5], b[4]
	out[6], out[7] = b[7], b[6]
	copy(out[8:], b[8:16])
	return uuid.UUID(out)
}

func utf16leName(b []byte) string {
	// 36 UTF-16LE code units; stop at the first NUL pair.
	runes := make([]rune, 0, 36)
	for i := 0; i+1 < len(b); i += 2 {
		u := uint16(b[i]) | uint16(b[i+1])<<8
		if u == 0 {
			break
		}
		runes = append(runes, rune(u))
	}
	return string(runes)
}

// ReadHeader reads and validates the primary GPT header at sector 1.
func ReadHeader(d *device.Drive, sectorSize int64, checker crc32check.Checker) (Header, error) {
	buf := make([]byte, headerSize)
	if err := d.ReadAt(sectorSize, buf); err != nil {
		return Header{}, lverr.IO("gpt.ReadHeader", err)
	}
	if !bytes.Equal(buf[0:8], []byte("EFI PART")) {
		return Header{}, lverr.Signaturef("gpt.ReadHeader", "bad GPT signature %q", buf[0:8])
	}
	if endian.Uint32LE(buf, 8) != 0x00010000 {
		return Header{}, lverr.Signaturef("gpt.ReadHeader", "unsupported GPT revision %#x", endian.Uint32LE(buf, 8))
	}
	storedCRC := endian.Uint32LE(buf, 16)
	size := endian.Uint32LE(buf, 12)
	if int(size) > len(buf) {
		return Header{}, lverr.Semanticf("gpt.ReadHeader", "header size %d exceeds read buffer", size)
	}
	zeroed := make([]byte, size)
	copy(zeroed, buf[:size])
	endian.PutUint32LE(zeroed, 16, 0)
	if !checker.Check(storedCRC, zeroed) {
		return Header{}, lverr.Semanticf("gpt.ReadHeader", "GPT header CRC32 mismatch")
		// TODO: fall back to the backup GPT header at the last LBA when the primary fails CRC.
	}

	return Header{
		DiskGUID:           mixedEndianGUID(buf[56:72]),
		PartitionTableLBA:  endian.Uint64LE(buf, 72),
		PartitionCount:     endian.Uint32LE(buf, 80),
		PartitionEntrySize: endian.Uint32LE(buf, 84),
	}, nil
}

// ReadEntries reads the partition entry table described by hdr.
func ReadEntries(d *device.Drive, sectorSize int64, hdr Header) ([]Entry, error) {
	if hdr.PartitionEntrySize < 128 {
		return nil, lverr.Semanticf("gpt.ReadEntries", "implausible partition entry size %d", hdr.PartitionEntrySize)
	}
	tableOffset := int64(hdr.PartitionTableLBA) * sectorSize
	tableLen := int64(hdr.PartitionCount) * int64(hdr.PartitionEntrySize)
	if err := d.SetPartition(0, tableOffset+tableLen); err != nil {
		return nil, err
	}
	raw := make([]byte, tableLen)
	if err := d.ReadAt(tableOffset, raw); err != nil {
		return nil, lverr.IO("gpt.ReadEntries", err)
	}

	entries := make([]Entry, 0, hdr.PartitionCount)
	for i := uint32(0); i < hdr.PartitionCount; i++ {
		off := int(i * hdr.PartitionEntrySize)
		entry := raw[off : off+int(hdr.PartitionEntrySize)]
		if endian.ZeroRun(entry, 0, 16) {
			break
		}
		e := Entry{
			TypeGUID:   mixedEndianGUID(entry[0:16]),
			UniqueGUID: mixedEndianGUID(entry[16:32]),
			FirstLBA:   endian.Uint64LE(entry, 32),
			LastLBA:    endian.Uint64LE(entry, 40),
			Attributes: endian.Uint64LE(entry, 48),
			Name:       utf16leName(entry[56 : 56+nameBytes]),
			isLVM:      bytes.Equal(entry[0:16], lvmTypeGUID),
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// FindLVMPartitions returns every entry whose type GUID is the Linux
// LVM type. The original implementation uses only the first; scanning
// every LVM-typed partition is a first-class extension (see
// SPEC_FULL.md §6.4).
func FindLVMPartitions(entries []Entry) []Entry {
	var out []Entry
	for _, e := range entries {
		if e.IsLVM() {
			out = append(out, e)
		}
	}
	return out
}

// NarrowToPartition sets d's window to the LBA range [FirstLBA, LastLBA)
// of entry, measured from the start of the device; the sector at
// LastLBA itself is not included in the window.
func NarrowToPartition(d *device.Drive, sectorSize int64, entry Entry, log *logrus.Entry) error {
	start := int64(entry.FirstLBA) * sectorSize
	length := (int64(entry.LastLBA) - int64(entry.FirstLBA)) * sectorSize
	if log != nil {
		log.WithFields(logrus.Fields{
			"partition": entry.Name,
			"firstLBA":  entry.FirstLBA,
			"lastLBA":   entry.LastLBA,
		}).Info("narrowing to LVM partition window")
	}
	return d.SetPartition(start, length)
}
