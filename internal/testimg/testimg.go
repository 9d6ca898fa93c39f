// Package testimg builds synthetic GPT + LVM2 disk images in memory for
// the pipeline's own tests and for pkg/lvrecover's end-to-end tests,
// standing in for a real block device the way the teacher's test
// fixtures stand in for a real optical disc image. It writes the exact
// byte layouts internal/gpt, internal/pvlabel and internal/mda expect
// to read, grounded on the same original_source/lvm.h offsets those
// packages are grounded on.
package testimg

import (
	"github.com/klauspost/compress/crc32"

	"github.com/pchambers/lvrecover/internal/endian"
)

// lvmTypeGUID mirrors internal/gpt's unexported constant of the same
// name; duplicated here since test fixtures live in their own package.
var lvmTypeGUID = []byte{
	0x79, 0xD3, 0xD6, 0xE6, 0x07, 0xF5, 0xC2, 0x44,
	0xA2, 0x3C, 0x23, 0x8F, 0x2A, 0x3D, 0xF9, 0x28,
}

const (
	gptHeaderSize  = 92
	gptEntrySize   = 128
	gptEntryCount  = 4
	labelHdrOffset = 32 // byte offset of tPVHeader within the label sector
	mdaHeaderSize  = 40 + 32*24
	mdaTextOffset  = 4096 // byte offset of raw text relative to the mda area base
)

// Options describes the single volume group, single PV, single LV image
// Build produces.
type Options struct {
	SectorSize        int64
	PartitionFirstLBA uint64
	PartitionLastLBA  uint64

	// PVUUID is the 32-character, dash-stripped ASCII UUID embedded in
	// the PV header — matches volume.NormalizeUUID applied to whatever
	// "id" value MetadataText uses for this PV.
	PVUUID string

	MetadataText string

	PEStartSectors int64
	ExtentSectors  int64 // extent_size, in sectors
	ExtentCount    int64 // size of the PE data area, in extents

	// ExtentData, if non-nil, is written starting at the first extent of
	// the PE area. Shorter than ExtentCount*ExtentSectors*SectorSize is
	// fine; the rest of the PE area is left zeroed.
	ExtentData []byte
}

// Build returns a complete disk image: GPT header + entry table, one
// LVM-typed partition spanning [PartitionFirstLBA, PartitionLastLBA),
// and inside it a PV label, PV header, metadata area and PE data area
// populated per opts.
func Build(opts Options) []byte {
	sectorSize := opts.SectorSize
	partStart := int64(opts.PartitionFirstLBA) * sectorSize
	partLen := (int64(opts.PartitionLastLBA) - int64(opts.PartitionFirstLBA)) * sectorSize

	peStartBytes := opts.PEStartSectors * sectorSize
	peAreaSize := opts.ExtentCount * opts.ExtentSectors * sectorSize
	mdaEnd := int64(2048) + int64(mdaTextOffset) + int64(len(opts.MetadataText))
	contentLen := peStartBytes + peAreaSize
	if mdaEnd > contentLen {
		contentLen = mdaEnd
	}
	if partLen > contentLen {
		contentLen = partLen
	}
	totalLen := partStart + contentLen
	img := make([]byte, totalLen)

	writeGPT(img, sectorSize, opts.PartitionFirstLBA, opts.PartitionLastLBA)
	writePVLabelAndHeader(img[partStart:], sectorSize, opts)
	writeMDA(img[partStart:], opts)

	if len(opts.ExtentData) > 0 {
		copy(img[partStart+peStartBytes:], opts.ExtentData)
	}
	return img
}

func writeGPT(img []byte, sectorSize int64, firstLBA, lastLBA uint64) {
	const tableLBA = 2

	hdr := make([]byte, gptHeaderSize)
	copy(hdr[0:8], "EFI PART")
	endian.PutUint32LE(hdr, 8, 0x00010000)
	endian.PutUint32LE(hdr, 12, gptHeaderSize)
	endian.PutUint64LE(hdr, 72, tableLBA)
	endian.PutUint32LE(hdr, 80, gptEntryCount)
	endian.PutUint32LE(hdr, 84, gptEntrySize)
	sum := crc32.ChecksumIEEE(hdr)
	endian.PutUint32LE(hdr, 16, sum)
	copy(img[sectorSize:], hdr)

	entry := make([]byte, gptEntrySize)
	copy(entry[0:16], lvmTypeGUID)
	endian.PutUint64LE(entry, 32, firstLBA)
	endian.PutUint64LE(entry, 40, lastLBA)
	copy(img[tableLBA*sectorSize:], entry)
}

// writePVLabelAndHeader writes sector 0 of part (the PV label sector
// plus the embedded tPVHeader and its two area lists) per
// original_source/lvm.h and internal/pvlabel's exact field layout.
func writePVLabelAndHeader(part []byte, sectorSize int64, opts Options) {
	sector := make([]byte, sectorSize)
	copy(sector[0:8], "LABELONE")
	endian.PutUint32LE(sector, 20, labelHdrOffset)
	copy(sector[24:32], "LVM2 001")

	hdr := sector[labelHdrOffset:]
	copy(hdr[0:32], opts.PVUUID)
	endian.PutUint64LE(hdr, 32, uint64(len(part)))

	peStartBytes := opts.PEStartSectors * sectorSize
	peAreaSize := opts.ExtentCount * opts.ExtentSectors * sectorSize

	off := 40
	endian.PutUint64LE(hdr, off, uint64(peStartBytes))
	endian.PutUint64LE(hdr, off+8, uint64(peAreaSize))
	off += 16
	off += 16 // zero terminator for the single-entry data area list

	const mdaOffset = int64(2048) // partition-relative, well clear of the label sector
	mdaSize := int64(mdaTextOffset) + int64(len(opts.MetadataText)) + 4096
	endian.PutUint64LE(hdr, off, uint64(mdaOffset))
	endian.PutUint64LE(hdr, off+8, uint64(mdaSize))
	off += 16
	off += 16 // zero terminator for the single-entry mda area list

	storedCRC := crc32.ChecksumIEEE(sector[20:sectorSize])
	endian.PutUint32LE(sector, 16, storedCRC)

	copy(part, sector)
}

// writeMDA writes a metadata-area header at the fixed offset
// writePVLabelAndHeader recorded in the PV header's mda area
// descriptor, followed by one active raw location and the metadata
// text it describes, per original_source/lvm.h's tMetadataHeader and
// tRawLocation.
func writeMDA(part []byte, opts Options) {
	const mdaOffset = int64(2048)

	buf := make([]byte, mdaHeaderSize)
	copy(buf[4:20], " LVM2 x[5A%r0N*>")
	endian.PutUint32LE(buf, 20, 1)
	endian.PutUint64LE(buf, 24, uint64(mdaOffset))
	mdaSize := int64(mdaTextOffset) + int64(len(opts.MetadataText)) + 4096
	endian.PutUint64LE(buf, 32, uint64(mdaSize))

	raw := buf[40 : 40+24]
	endian.PutUint64LE(raw, 0, uint64(mdaTextOffset))
	endian.PutUint64LE(raw, 8, uint64(len(opts.MetadataText)))
	endian.PutUint32LE(raw, 16, crc32.ChecksumIEEE([]byte(opts.MetadataText)))
	endian.PutUint32LE(raw, 20, 0) // flags: active

	copy(part[mdaOffset:], buf)
	copy(part[mdaOffset+mdaTextOffset:], opts.MetadataText)
}
