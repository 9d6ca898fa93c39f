// Package mda reads an LVM2 metadata-area header and selects the active
// text metadata copy out of its circular raw-location buffer, grounded
// on original_source/lvm.h (tMetadataHeader, tRawLocation) and
// readlogicalvolume.c:readMetadata.
package mda

import (
	"bytes"

	"github.com/sirupsen/logrus"

	"github.com/pchambers/lvrecover/internal/device"
	"github.com/pchambers/lvrecover/internal/endian"
	"github.com/pchambers/lvrecover/internal/lverr"
	"github.com/pchambers/lvrecover/internal/pvlabel"
)

const (
	signature = " LVM2 x[5A%r0N*>"

	headerFixedSize = 40 // crc32(4) + signature(16) + version(4) + offset(8) + size(8)
	rawLocationSize = 24 // offset(8) + size(8) + crc32(4) + flags(4)

	// maxRawLocations bounds how many raw-location entries this package
	// reads looking for the zero terminator. Real LVM2 volumes keep a
	// handful of metadata copies; this is generous headroom, matching
	// readMetadata's own "32 * sizeof(raw_location)" read size.
	maxRawLocations = 32
)

// Raw-location flag bits, per spec §3.
const (
	FlagIgnored      uint32 = 1 << 0
	FlagInconsistent uint32 = 1 << 1
	FlagFailed       uint32 = 1 << 2
)

// RawLocation is one decoded tRawLocation descriptor.
type RawLocation struct {
	Offset int64
	Size   int64
	CRC32  uint32
	Flags  uint32
}

// Active reports whether none of IGNORED, INCONSISTENT or FAILED is set.
func (r RawLocation) Active() bool {
	return r.Flags&(FlagIgnored|FlagInconsistent|FlagFailed) == 0
}

// ReadActiveText reads the metadata-area header located at area.Offset
// within the current partition window, walks its raw-location list, and
// returns the bytes of the first active copy found — spec's pinned
// resolution of the "multiple active entries" open question, not the
// original's accidental last-one-wins behavior (see DESIGN.md).
func ReadActiveText(d *device.Drive, area pvlabel.DataArea, log *logrus.Entry) ([]byte, error) {
	headerLen := headerFixedSize + maxRawLocations*rawLocationSize
	buf := make([]byte, headerLen)
	if err := d.ReadAt(area.Offset, buf); err != nil {
		return nil, lverr.IO("mda.ReadActiveText", err)
	}

	if !bytes.Equal(buf[4:20], []byte(signature)) {
		return nil, lverr.Signaturef("mda.ReadActiveText", "bad metadata-area signature %q", buf[4:20])
	}
	if version := endian.Uint32LE(buf, 20); version != 1 {
		return nil, lverr.Signaturef("mda.ReadActiveText", "unsupported metadata-area version %d", version)
	}
	mdaBase := int64(endian.Uint64LE(buf, 24))
	mdaSize := int64(endian.Uint64LE(buf, 32))

	off := headerFixedSize
	for i := 0; i < maxRawLocations; i++ {
		if off+16 > len(buf) {
			break
		}
		entry := buf[off : off+rawLocationSize]
		if endian.ZeroRun(entry, 0, 16) {
			break
		}
		loc := RawLocation{
			Offset: int64(endian.Uint64LE(entry, 0)),
			Size:   int64(endian.Uint64LE(entry, 8)),
			CRC32:  endian.Uint32LE(entry, 16),
			Flags:  endian.Uint32LE(entry, 20),
		}
		if log != nil {
			log.WithFields(logrus.Fields{
				"offset": loc.Offset,
				"size":   loc.Size,
				"flags":  loc.Flags,
				"active": loc.Active(),
			}).Info("metadata raw location")
		}
		if loc.Active() {
			if loc.Offset < 0 || loc.Offset+loc.Size > mdaSize {
				return nil, lverr.Semanticf("mda.ReadActiveText", "active raw location [%d,%d) exceeds metadata area size %d", loc.Offset, loc.Offset+loc.Size, mdaSize)
			}
			text := make([]byte, loc.Size)
			if err := d.ReadAt(mdaBase+loc.Offset, text); err != nil {
				return nil, lverr.IO("mda.ReadActiveText", err)
			}
			return text, nil
		}
		off += rawLocationSize
	}

	return nil, lverr.Semanticf("mda.ReadActiveText", "no active metadata raw location found")
}
