// Package device provides a partition-windowed byte source over a raw
// block device or disk image, adapted from the file-backed FileInfo
// abstraction the teacher used for ISO/disk filesystems, and from
// original_source/readaccess.c's openDrive/setPartition/readDrive/
// closeDrive sequence.
package device

import (
	"fmt"
	"io"
	"os"

	"github.com/pchambers/lvrecover/internal/lverr"
)

// ByteSource is anything a Drive can read fixed-size windows from. Tests
// supply an in-memory *bytes.Reader; production uses *os.File.
type ByteSource interface {
	io.ReaderAt
	Close() error
}

// Drive is a byte source narrowed to the current partition window. All
// offsets passed to ReadAt are relative to the start of the current
// window, never to the start of the underlying device.
type Drive struct {
	path     string
	src      ByteSource
	total    int64 // size of the underlying device, if known (0 if unknown)
	winStart int64
	winLen   int64
}

// Open opens path as the underlying block device or disk image. The
// initial window covers the whole device.
func Open(path string) (*Drive, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, lverr.IO("device.Open", err)
	}
	size := int64(0)
	if fi, err := f.Stat(); err == nil {
		size = fi.Size()
	}
	return &Drive{path: path, src: f, total: size, winStart: 0, winLen: size}, nil
}

// Wrap builds a Drive over an already-open ByteSource, for tests that
// construct synthetic images in memory. size is the total source length
// and the initial window length; pass 0 if unknown (the initial window is
// then empty, and SetPartition skips its device-size check).
func Wrap(src ByteSource, size int64) *Drive {
	return &Drive{src: src, total: size, winStart: 0, winLen: size}
}

// Path returns the path Open was called with, or "" for Wrap-ped sources.
func (d *Drive) Path() string { return d.path }

// SetPartition narrows the window to [start, start+length) relative to
// the start of the underlying device.
func (d *Drive) SetPartition(start, length int64) error {
	if start < 0 || length < 0 {
		return lverr.Semanticf("device.SetPartition", "negative partition window start=%d length=%d", start, length)
	}
	if d.total > 0 && start+length > d.total {
		return lverr.Semanticf("device.SetPartition", "partition window [%d,%d) exceeds device size %d", start, start+length, d.total)
	}
	d.winStart = start
	d.winLen = length
	return nil
}

// WindowLen returns the length in bytes of the current partition window.
func (d *Drive) WindowLen() int64 { return d.winLen }

// ReadAt reads len(dest) bytes starting at offset within the current
// window. A read that would run past the window's end is an error:
// callers must size dest from on-disk fields they have already
// validated, not probe the window's extent by reading.
func (d *Drive) ReadAt(offset int64, dest []byte) error {
	if offset < 0 || offset+int64(len(dest)) > d.winLen {
		return lverr.Semanticf("device.ReadAt", "read [%d,%d) out of partition window [0,%d)", offset, offset+int64(len(dest)), d.winLen)
	}
	n, err := d.src.ReadAt(dest, d.winStart+offset)
	if err != nil && err != io.EOF {
		return lverr.IO("device.ReadAt", err)
	}
	if n != len(dest) {
		return lverr.IO("device.ReadAt", fmt.Errorf("short read: got %d of %d bytes", n, len(dest)))
	}
	return nil
}

// Close closes the underlying byte source.
func (d *Drive) Close() error {
	if d.src == nil {
		return nil
	}
	return d.src.Close()
}

// ReaderAtCloser adapts an io.ReaderAt with no Close method (such as
// *bytes.Reader) into a ByteSource for tests that build synthetic disk
// images in memory.
type ReaderAtCloser struct {
	io.ReaderAt
}

func (ReaderAtCloser) Close() error { return nil }
