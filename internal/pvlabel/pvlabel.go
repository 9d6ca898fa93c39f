// Package pvlabel locates an LVM2 physical volume label inside the
// current partition window and walks its header's data-area and
// metadata-area descriptor lists, grounded on original_source/lvm.h
// (tPVLabel, tPVHeader, tDataArea) and
// readlogicalvolume.c:readPhysicalVolumeLabel.
package pvlabel

import (
	"bytes"

	"github.com/sirupsen/logrus"

	"github.com/pchambers/lvrecover/internal/crc32check"
	"github.com/pchambers/lvrecover/internal/device"
	"github.com/pchambers/lvrecover/internal/endian"
	"github.com/pchambers/lvrecover/internal/lverr"
)

const (
	labelSignature = "LABELONE"
	pvTypeID       = "LVM2 001"

	candidateSectors = 4

	// headerReadBytes bounds how far past a candidate label sector this
	// package reads while looking for the PV header and its two area
	// lists. The original reads the whole 4-sector candidate buffer and
	// walks it with pointer arithmetic; a fixed generous window serves
	// the same purpose without assuming the whole partition is mapped
	// into memory.
	headerReadBytes = 4096
)

// Header is the decoded portion of lvm.h's tPVHeader this package cares
// about.
type Header struct {
	UUID      string
	SizeBytes int64
}

// DataArea is one lvm.h tDataArea descriptor: {offset, size} in bytes,
// relative to the start of the physical volume.
type DataArea struct {
	Offset int64
	Size   int64
}

// Find scans sectors 0..3 of the current partition window for a valid PV
// label (signature, type ID, CRC32), then walks the PV header's
// data-area list to its zero terminator and returns the metadata-area
// list that immediately follows it, per spec §4.5.
func Find(d *device.Drive, sectorSize int64, checker crc32check.Checker, log *logrus.Entry) (Header, []DataArea, []DataArea, error) {
	for i := 0; i < candidateSectors; i++ {
		sectorOff := int64(i) * sectorSize
		n := int64(headerReadBytes)
		if remaining := d.WindowLen() - sectorOff; remaining < n {
			n = remaining
		}
		if n < sectorSize {
			continue
		}
		buf := make([]byte, n)
		if err := d.ReadAt(sectorOff, buf); err != nil {
			return Header{}, nil, nil, err
		}

		if !bytes.Equal(buf[0:8], []byte(labelSignature)) {
			continue
		}
		if !bytes.Equal(buf[24:32], []byte(pvTypeID)) {
			continue
		}
		storedCRC := endian.Uint32LE(buf, 16)
		crcLen := int(sectorSize) - 20
		if crcLen > len(buf)-20 {
			crcLen = len(buf) - 20
		}
		if !checker.Check(storedCRC, buf[20:20+crcLen]) {
			continue
		}

		hdrStart := int(endian.Uint32LE(buf, 20))
		if hdrStart < 0 || hdrStart+40 > len(buf) {
			return Header{}, nil, nil, lverr.Semanticf("pvlabel.Find", "PV header at offset %d runs past read window", hdrStart)
		}

		uuid := string(bytes.TrimRight(buf[hdrStart:hdrStart+32], "\x00"))
		size := int64(endian.Uint64LE(buf, hdrStart+32))

		dataAreas, mdaListStart, err := readAreaList(buf, hdrStart+40)
		if err != nil {
			return Header{}, nil, nil, err
		}
		mdaAreas, _, err := readAreaList(buf, mdaListStart)
		if err != nil {
			return Header{}, nil, nil, err
		}

		if log != nil {
			log.WithFields(logrus.Fields{
				"pv":        uuid,
				"sector":    i,
				"dataAreas": len(dataAreas),
				"mdaAreas":  len(mdaAreas),
			}).Info("found PV label")
		}
		return Header{UUID: uuid, SizeBytes: size}, dataAreas, mdaAreas, nil
	}
	return Header{}, nil, nil, lverr.Signaturef("pvlabel.Find", "no PV label found in first %d sectors", candidateSectors)
}

// readAreaList reads a zero-terminated list of {offset,size} descriptors
// starting at off within buf, returning the list plus the offset
// immediately past the terminator, where the next list (if any) begins.
func readAreaList(buf []byte, off int) ([]DataArea, int, error) {
	var areas []DataArea
	for {
		if off < 0 || off+16 > len(buf) {
			return nil, 0, lverr.Semanticf("pvlabel.readAreaList", "area list runs past read window at offset %d", off)
		}
		entry := buf[off : off+16]
		if endian.ZeroRun(entry, 0, 16) {
			return areas, off + 16, nil
		}
		areas = append(areas, DataArea{
			Offset: int64(endian.Uint64LE(entry, 0)),
			Size:   int64(endian.Uint64LE(entry, 8)),
		})
		off += 16
	}
}
