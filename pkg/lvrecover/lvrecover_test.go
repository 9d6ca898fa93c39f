package lvrecover

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pchambers/lvrecover/internal/settings"
	"github.com/pchambers/lvrecover/internal/testimg"
)

const sectorSize = int64(512)

func writeImage(t *testing.T, img []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "disk.img")
	if err := os.WriteFile(path, img, 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func sampleMetadataText() string {
	return `vg1 {
	extent_size = 8
	physical_volumes {
		pv0 {
			id = "AAAABBBBCCCCDDDDEEEEFFFF00001111"
			dev_size = 1048576
			pe_start = 16
			pe_count = 4
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
}

func buildSampleImage(t *testing.T) []byte {
	t.Helper()
	extentSize := int64(8 * sectorSize)
	data := make([]byte, 2*extentSize)
	for i := range data {
		data[i] = 0xCD
	}
	return testimg.Build(testimg.Options{
		SectorSize:        sectorSize,
		PartitionFirstLBA: 64,
		PartitionLastLBA:  4096,
		PVUUID:            "AAAABBBBCCCCDDDDEEEEFFFF00001111",
		MetadataText:      sampleMetadataText(),
		PEStartSectors:    16,
		ExtentSectors:     8,
		ExtentCount:       4,
		ExtentData:        data,
	})
}

func TestRunExtractsLogicalVolumeEndToEnd(t *testing.T) {
	img := buildSampleImage(t)
	path := writeImage(t, img)
	outDir := t.TempDir()

	var stages []Stage
	res, err := Run(context.Background(), Options{
		DrivePath: path,
		LVName:    "root",
		Settings: settings.Settings{
			SectorSize: sectorSize,
			OutputDir:  outDir,
		},
		OnProgress: func(e ProgressEvent) { stages = append(stages, e.Stage) },
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.VolumeGroup != "vg1" || res.LogicalVolume != "root" {
		t.Fatalf("got %+v", res)
	}
	if res.BytesWritten != 2*8*sectorSize {
		t.Fatalf("got %d bytes written, want %d", res.BytesWritten, 2*8*sectorSize)
	}
	if stages[0] != StageOpeningDrive || stages[len(stages)-1] != StageDone {
		t.Fatalf("unexpected stage sequence: %v", stages)
	}

	out, err := os.ReadFile(res.OutputPath)
	if err != nil {
		t.Fatal(err)
	}
	for i, b := range out {
		if b != 0xCD {
			t.Fatalf("byte %d = %#x, want 0xCD", i, b)
		}
	}
}

func TestRunFailsForUnknownLogicalVolume(t *testing.T) {
	img := buildSampleImage(t)
	path := writeImage(t, img)

	_, err := Run(context.Background(), Options{
		DrivePath: path,
		LVName:    "does-not-exist",
		Settings:  settings.Settings{SectorSize: sectorSize, OutputDir: t.TempDir()},
	})
	if err == nil {
		t.Fatal("expected an error for a logical volume name that does not exist")
	}
}

func TestInspectListsVolumeGroupAndLVs(t *testing.T) {
	img := buildSampleImage(t)
	path := writeImage(t, img)

	summaries, err := Inspect(context.Background(), path, settings.Settings{SectorSize: sectorSize}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(summaries) != 1 {
		t.Fatalf("got %d volume groups, want 1", len(summaries))
	}
	vg := summaries[0]
	if vg.Name != "vg1" {
		t.Fatalf("got VG name %q, want vg1", vg.Name)
	}
	if len(vg.LogicalVolumes) != 1 || vg.LogicalVolumes[0] != "root" {
		t.Fatalf("got LVs %v, want [root]", vg.LogicalVolumes)
	}
	if vg.Located != 1 {
		t.Fatalf("got %d located PVs, want 1", vg.Located)
	}
}

func TestRunRequiresDrivePathAndLVName(t *testing.T) {
	if _, err := Run(context.Background(), Options{LVName: "root"}); err == nil {
		t.Fatal("expected error for missing drive path")
	}
	if _, err := Run(context.Background(), Options{DrivePath: "/dev/null"}); err == nil {
		t.Fatal("expected error for missing LV name")
	}
}
