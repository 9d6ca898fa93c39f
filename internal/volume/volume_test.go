package volume

import (
	"bytes"
	"strings"
	"testing"

	"github.com/pchambers/lvrecover/internal/device"
	"github.com/pchambers/lvrecover/internal/metadata"
)

const sectorSize = int64(512)

// fillPattern sets every byte of buf to fill, so a PV extent region in a
// synthetic image can be recognised byte-for-byte in Extract's output
// without a real LVM2 disk image.
func fillPattern(buf []byte, fill byte) {
	for i := range buf {
		buf[i] = fill
	}
}

func singlePVTree(t *testing.T, extraSegments string) metadata.Ref {
	t.Helper()
	src := `vg1 {
	extent_size = 8
	physical_volumes {
		pv0 {
			id = "AAAA-BBBB-CCCC-DDDD-EEEE-FFFF-000000"
			dev_size = 1048576
			pe_start = 2048
			pe_count = 64
		}
	}
	logical_volumes {
		root {
			segment_count = 1
			segment1 {
				start_extent = 0
				extent_count = 2
				stripe_count = 1
				stripes = [ "pv0", 0 ]
			}
		}
	}
}
`
	if extraSegments != "" {
		src = strings.Replace(src, "segment_count = 1", extraSegments, 1)
	}
	tree, err := metadata.Parse([]byte(src))
	if err != nil {
		t.Fatalf("parsing fixture metadata: %v", err)
	}
	return tree.Root().Child()
}

func locationsFor(uuid string, start, length int64) map[string]PVLocation {
	return map[string]PVLocation{
		NormalizeUUID(uuid): {UUID: uuid, PartitionStart: start, PartitionLen: length},
	}
}

func TestBuildVolumeGroupResolvesLocatedPV(t *testing.T) {
	vg := singlePVTree(t, "")
	locs := locationsFor("AAAA-BBBB-CCCC-DDDD-EEEE-FFFF-000000", 1_000_000, 2_000_000)

	g, err := BuildVolumeGroup(vg, sectorSize, locs, nil)
	if err != nil {
		t.Fatal(err)
	}
	if g.ExtentSizeBytes != 8*sectorSize {
		t.Fatalf("got extent size %d, want %d", g.ExtentSizeBytes, 8*sectorSize)
	}
	if len(g.PhysicalVolumes) != 1 {
		t.Fatalf("got %d PVs, want 1", len(g.PhysicalVolumes))
	}
	pv := g.PhysicalVolumes[0]
	if !pv.located {
		t.Fatal("expected pv0 to be located")
	}
	if pv.PartitionStart != 1_000_000 || pv.PartitionLen != 2_000_000 {
		t.Fatalf("got partition window [%d,%d), want [1000000,2000000)", pv.PartitionStart, pv.PartitionLen)
	}
}

func TestBuildVolumeGroupUnlocatedPVStillBuilds(t *testing.T) {
	vg := singlePVTree(t, "")
	g, err := BuildVolumeGroup(vg, sectorSize, map[string]PVLocation{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if g.PhysicalVolumes[0].located {
		t.Fatal("expected pv0 to be unlocated when no GPT partition matches its uuid")
	}
}

func TestBuildLogicalVolumeNotFound(t *testing.T) {
	vg := singlePVTree(t, "")
	g, err := BuildVolumeGroup(vg, sectorSize, map[string]PVLocation{}, nil)
	if err != nil {
		t.Fatal(err)
	}

	tree, err2 := metadata.Parse([]byte(`vg1 {
	extent_size = 8
	physical_volumes { }
	logical_volumes { }
}
`))
	if err2 != nil {
		t.Fatal(err2)
	}
	_, err = BuildLogicalVolume(g, tree.Root().Child(), "does-not-exist", nil)
	if err == nil {
		t.Fatal("expected not-found error for missing LV name")
	}
}

func TestExtractSingleSegmentSingleStripe(t *testing.T) {
	const partitionStart = int64(4096)
	const peStartSectors = int64(2048)
	const extentSize = int64(8 * sectorSize)

	imgLen := partitionStart + peStartSectors*sectorSize + 4*extentSize
	img := make([]byte, imgLen)
	region := img[partitionStart+peStartSectors*sectorSize:]
	fillPattern(region[:2*extentSize], 0xAB)

	d := device.Wrap(device.ReaderAtCloser{ReaderAt: bytes.NewReader(img)}, imgLen)

	vgNode := singlePVTree(t, "")
	uuid := "AAAA-BBBB-CCCC-DDDD-EEEE-FFFF-000000"
	locs := locationsFor(uuid, partitionStart, imgLen-partitionStart)

	vg, err := BuildVolumeGroup(vgNode, sectorSize, locs, nil)
	if err != nil {
		t.Fatal(err)
	}
	lv, err := BuildLogicalVolume(vg, vgNode, "root", nil)
	if err != nil {
		t.Fatal(err)
	}

	out, err := Extract(d, vg, lv, sectorSize, nil)
	if err != nil {
		t.Fatal(err)
	}
	if int64(len(out)) != 2*extentSize {
		t.Fatalf("got %d bytes, want %d", len(out), 2*extentSize)
	}
	for i, b := range out {
		if b != 0xAB {
			t.Fatalf("byte %d = %#x, want 0xAB", i, b)
		}
	}
}

func TestExtractMultiSegmentSpanning(t *testing.T) {
	const partitionStart = int64(0)
	const peStartSectors = int64(4)
	const extentSize = int64(8 * sectorSize)

	imgLen := peStartSectors*sectorSize + 8*extentSize
	img := make([]byte, imgLen)
	base := img[peStartSectors*sectorSize:]
	fillPattern(base[0:2*extentSize], 0x11)
	fillPattern(base[4*extentSize:6*extentSize], 0x22)

	d := device.Wrap(device.ReaderAtCloser{ReaderAt: bytes.NewReader(img)}, imgLen)

	src := `vg1 {
	extent_size = 8
	physical_volumes {
		pv0 {
			id = "AAAA-BBBB-CCCC-DDDD-EEEE-FFFF-000000"
			dev_size = 1048576
			pe_start = 4
			pe_count = 64
		}
	}
	logical_volumes {
		spanned {
			segment_count = 2
			segment1 {
				start_extent = 0
				extent_count = 2
				stripe_count = 1
				stripes = [ "pv0", 0 ]
			}
			segment2 {
				start_extent = 2
				extent_count = 2
				stripe_count = 1
				stripes = [ "pv0", 4 ]
			}
		}
	}
}
`
	tree, err := metadata.Parse([]byte(src))
	if err != nil {
		t.Fatal(err)
	}
	vgNode := tree.Root().Child()

	uuid := "AAAA-BBBB-CCCC-DDDD-EEEE-FFFF-000000"
	locs := locationsFor(uuid, partitionStart, imgLen-partitionStart)

	vg, err := BuildVolumeGroup(vgNode, sectorSize, locs, nil)
	if err != nil {
		t.Fatal(err)
	}
	lv, err := BuildLogicalVolume(vg, vgNode, "spanned", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(lv.Segments) != 2 {
		t.Fatalf("got %d segments, want 2", len(lv.Segments))
	}

	out, err := Extract(d, vg, lv, sectorSize, nil)
	if err != nil {
		t.Fatal(err)
	}
	if int64(len(out)) != 4*extentSize {
		t.Fatalf("got %d bytes, want %d", len(out), 4*extentSize)
	}
	for i := int64(0); i < 2*extentSize; i++ {
		if out[i] != 0x11 {
			t.Fatalf("byte %d in segment1 region = %#x, want 0x11", i, out[i])
		}
	}
	for i := 2 * extentSize; i < 4*extentSize; i++ {
		if out[i] != 0x22 {
			t.Fatalf("byte %d in segment2 region = %#x, want 0x22", i, out[i])
		}
	}
}

func TestExtractUnlocatedPVFails(t *testing.T) {
	vgNode := singlePVTree(t, "")
	vg, err := BuildVolumeGroup(vgNode, sectorSize, map[string]PVLocation{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	lv, err := BuildLogicalVolume(vg, vgNode, "root", nil)
	if err != nil {
		t.Fatal(err)
	}
	d := device.Wrap(device.ReaderAtCloser{ReaderAt: bytes.NewReader(make([]byte, 16))}, 16)
	if _, err := Extract(d, vg, lv, sectorSize, nil); err == nil {
		t.Fatal("expected extraction to fail when the PV's partition was never located")
	}
}

func TestExtractMultiStripeSegmentIsUnsupported(t *testing.T) {
	src := `vg1 {
	extent_size = 8
	physical_volumes {
		pv0 {
			id = "AAAA-BBBB-CCCC-DDDD-EEEE-FFFF-000000"
			dev_size = 1048576
			pe_start = 4
			pe_count = 64
		}
		pv1 {
			id = "1111-2222-3333-4444-5555-6666-770000"
			dev_size = 1048576
			pe_start = 4
			pe_count = 64
		}
	}
	logical_volumes {
		striped {
			segment_count = 1
			segment1 {
				start_extent = 0
				extent_count = 2
				stripe_count = 2
				stripes = [ "pv0", 0, "pv1", 0 ]
			}
		}
	}
}
`
	tree, err := metadata.Parse([]byte(src))
	if err != nil {
		t.Fatal(err)
	}
	vgNode := tree.Root().Child()
	locs := map[string]PVLocation{}
	locs[NormalizeUUID("AAAA-BBBB-CCCC-DDDD-EEEE-FFFF-000000")] = PVLocation{PartitionStart: 0, PartitionLen: 1 << 20}
	locs[NormalizeUUID("1111-2222-3333-4444-5555-6666-770000")] = PVLocation{PartitionStart: 0, PartitionLen: 1 << 20}

	vg, err := BuildVolumeGroup(vgNode, sectorSize, locs, nil)
	if err != nil {
		t.Fatal(err)
	}
	lv, err := BuildLogicalVolume(vg, vgNode, "striped", nil)
	if err != nil {
		t.Fatal(err)
	}
	d := device.Wrap(device.ReaderAtCloser{ReaderAt: bytes.NewReader(make([]byte, 1<<20))}, 1<<20)
	_, err = Extract(d, vg, lv, sectorSize, nil)
	if err == nil {
		t.Fatal("expected multi-stripe extraction to fail")
	}
}
