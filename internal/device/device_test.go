package device

import (
	"bytes"
	"testing"
)

func newTestDrive(t *testing.T, data []byte) *Drive {
	t.Helper()
	return Wrap(ReaderAtCloser{bytes.NewReader(data)}, int64(len(data)))
}

func TestReadAtWithinWindow(t *testing.T) {
	data := []byte("0123456789")
	d := newTestDrive(t, data)
	if err := d.SetPartition(2, 5); err != nil {
		t.Fatal(err)
	}
	dest := make([]byte, 3)
	if err := d.ReadAt(0, dest); err != nil {
		t.Fatal(err)
	}
	if string(dest) != "234" {
		t.Fatalf("got %q, want %q", dest, "234")
	}
}

func TestReadAtPastWindowFails(t *testing.T) {
	d := newTestDrive(t, []byte("0123456789"))
	if err := d.SetPartition(0, 4); err != nil {
		t.Fatal(err)
	}
	dest := make([]byte, 5)
	if err := d.ReadAt(0, dest); err == nil {
		t.Fatal("expected error reading past window end")
	}
}

func TestSetPartitionPastDeviceEndFails(t *testing.T) {
	d := newTestDrive(t, []byte("0123456789"))
	if err := d.SetPartition(5, 10); err == nil {
		t.Fatal("expected error for partition window exceeding device size")
	}
}
