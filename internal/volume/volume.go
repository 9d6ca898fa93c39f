// Package volume interprets the physical_volumes and logical_volumes
// sections of a parsed metadata tree, computes the byte layout of a
// named logical volume, and streams its extents off the owning drive(s)
// into a single linear buffer. Grounded on
// original_source/parseMetadata.h (tPhysicalVolume/tStripe/
// tLogicalVolumeSegment) and spec §4.8; orchestration shape adapted
// from internal/bdrom/bdrom.go's scan-orchestrator struct, stripped of
// the concurrency that package uses (a core Non-goal here).
package volume

import (
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/pchambers/lvrecover/internal/device"
	"github.com/pchambers/lvrecover/internal/lverr"
	"github.com/pchambers/lvrecover/internal/metadata"
)

// PVLocation records where on the drive a physical volume's own GPT
// partition lives, keyed by its normalized PV UUID. The VG's metadata
// block can name PVs that belong to LVM partitions elsewhere on the
// same drive (spec §9's "multiple PVs per VG" extension) — this is how
// internal/gpt's partition list is threaded through to internal/volume.
type PVLocation struct {
	UUID           string
	PartitionStart int64
	PartitionLen   int64
}

// PhysicalVolume is the subset of lvm2's PV attributes the assembler
// needs, built from a physical_volumes/<name> subtree.
type PhysicalVolume struct {
	Name            string
	UUID            string
	Device          string
	ExtentSizeBytes int64
	DevSizeBytes    int64
	PEStartSectors  int64
	PECount         int64

	PartitionStart int64
	PartitionLen   int64
	located        bool
}

// Stripe maps a run of an LV segment's extents onto a contiguous extent
// range of one physical volume. PVIndex is resolved by name lookup
// after the whole PV table is built (spec §9's back-reference note), so
// Stripe never owns a pointer into VolumeGroup.PhysicalVolumes.
type Stripe struct {
	PVName      string
	PVIndex     int
	StartExtent int64
}

// Segment is a contiguous extent range of a logical volume.
type Segment struct {
	StartExtent int64
	ExtentCount int64
	StripeCount int64
	Stripes     []Stripe
}

// LogicalVolume is a named linear byte range described by its segments.
type LogicalVolume struct {
	Name     string
	Segments []Segment
}

// VolumeGroup is the parsed physical_volumes table, shared by every
// LogicalVolume built from the same metadata tree.
type VolumeGroup struct {
	Name            string
	ExtentSizeBytes int64
	PhysicalVolumes []PhysicalVolume
}

// NormalizeUUID strips the dashes LVM2 inserts into the "id" field of
// its text metadata, so it can be compared against the undashed 32-byte
// ASCII UUID stored in a PV header (spec §3's PV uuid[32]).
func NormalizeUUID(s string) string {
	return strings.ReplaceAll(s, "-", "")
}

// BuildVolumeGroup reads the extent_size and physical_volumes sections
// of vg, the volume-group block at the top of a parsed metadata tree
// (tree.Root().Child(), per package metadata's convention), and
// resolves each named PV against locations, the set of LVM partitions
// actually found on this drive by internal/gpt + internal/pvlabel.
func BuildVolumeGroup(vg metadata.Ref, sectorSize int64, locations map[string]PVLocation, log *logrus.Entry) (*VolumeGroup, error) {
	if !vg.Valid() {
		return nil, lverr.Semanticf("volume.BuildVolumeGroup", "metadata tree has no top-level volume group block")
	}

	extentNode := metadata.GetKeyPath(vg, "extent_size")
	if !extentNode.Valid() || extentNode.Type() != metadata.NodeInteger {
		return nil, lverr.Semanticf("volume.BuildVolumeGroup", "missing or non-integer extent_size")
	}
	extentSizeBytes := extentNode.Integer() * sectorSize

	pvsNode := metadata.GetKeyPath(vg, "physical_volumes")
	if !pvsNode.Valid() || pvsNode.Type() != metadata.NodeChild {
		return nil, lverr.Semanticf("volume.BuildVolumeGroup", "missing physical_volumes section")
	}

	var pvs []PhysicalVolume
	for n := pvsNode.Child(); n.Valid(); n = n.Next() {
		pv, err := buildPhysicalVolume(n, extentSizeBytes, locations)
		if err != nil {
			return nil, err
		}
		pvs = append(pvs, pv)
	}
	if len(pvs) == 0 {
		return nil, lverr.Semanticf("volume.BuildVolumeGroup", "physical_volumes section has no entries")
	}

	if log != nil {
		located := 0
		for _, pv := range pvs {
			if pv.located {
				located++
			}
		}
		log.WithFields(logrus.Fields{
			"name":     vg.Key(),
			"pvCount":  len(pvs),
			"located":  located,
			"extentSz": extentSizeBytes,
		}).Info("built volume group")
	}

	return &VolumeGroup{Name: vg.Key(), ExtentSizeBytes: extentSizeBytes, PhysicalVolumes: pvs}, nil
}

func buildPhysicalVolume(n metadata.Ref, extentSizeBytes int64, locations map[string]PVLocation) (PhysicalVolume, error) {
	pv := PhysicalVolume{Name: n.Key(), ExtentSizeBytes: extentSizeBytes}

	if id := metadata.GetKeyPath(n, "id"); id.Valid() {
		pv.UUID = id.String()
		if loc, ok := locations[NormalizeUUID(id.String())]; ok {
			pv.PartitionStart = loc.PartitionStart
			pv.PartitionLen = loc.PartitionLen
			pv.located = true
		}
	}
	if dev := metadata.GetKeyPath(n, "device"); dev.Valid() {
		pv.Device = dev.String()
	}
	if size := metadata.GetKeyPath(n, "dev_size"); size.Valid() {
		pv.DevSizeBytes = size.Integer()
	}
	peStart := metadata.GetKeyPath(n, "pe_start")
	if !peStart.Valid() {
		return PhysicalVolume{}, lverr.Semanticf("volume.buildPhysicalVolume", "PV %q missing pe_start", n.Key())
	}
	pv.PEStartSectors = peStart.Integer()
	if peCount := metadata.GetKeyPath(n, "pe_count"); peCount.Valid() {
		pv.PECount = peCount.Integer()
	}
	return pv, nil
}

// BuildLogicalVolume locates logical_volumes/<lvName> under vgNode, the
// same volume-group block vg was built from, walks its segmentN
// children, and resolves every stripe's PV name against
// vg.PhysicalVolumes.
func BuildLogicalVolume(vg *VolumeGroup, vgNode metadata.Ref, lvName string, log *logrus.Entry) (*LogicalVolume, error) {
	lvsNode := metadata.GetKeyPath(vgNode, "logical_volumes")
	if !lvsNode.Valid() {
		return nil, lverr.Semanticf("volume.BuildLogicalVolume", "missing logical_volumes section")
	}
	lvNode := metadata.GetKeyPath(lvsNode, lvName)
	if !lvNode.Valid() {
		return nil, lverr.Semanticf("volume.BuildLogicalVolume", "logical volume %q not found", lvName)
	}

	segCountNode := metadata.GetKeyPath(lvNode, "segment_count")
	if !segCountNode.Valid() {
		return nil, lverr.Semanticf("volume.BuildLogicalVolume", "LV %q missing segment_count", lvName)
	}
	segCount := int(segCountNode.Integer())
	if segCount <= 0 {
		return nil, lverr.Semanticf("volume.BuildLogicalVolume", "LV %q has non-positive segment_count %d", lvName, segCount)
	}
	segments := make([]Segment, segCount)
	filled := make([]bool, segCount)

	for n := lvNode.Child(); n.Valid(); n = n.Next() {
		idx, ok := segmentIndex(n.Key(), segCount)
		if !ok {
			continue
		}
		seg, err := buildSegment(n)
		if err != nil {
			return nil, err
		}
		segments[idx] = seg
		filled[idx] = true
	}
	for i, ok := range filled {
		if !ok {
			return nil, lverr.Semanticf("volume.BuildLogicalVolume", "LV %q missing segment%d", lvName, i+1)
		}
	}

	if err := resolveStripes(segments, vg.PhysicalVolumes); err != nil {
		return nil, err
	}

	if log != nil {
		log.WithFields(logrus.Fields{"lv": lvName, "segments": segCount}).Info("built logical volume")
	}

	return &LogicalVolume{Name: lvName, Segments: segments}, nil
}

// segmentIndex reports whether key is "segmentN" for 1 <= N <= segCount,
// returning N's zero-based index.
func segmentIndex(key string, segCount int) (int, bool) {
	const prefix = "segment"
	if !strings.HasPrefix(key, prefix) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(key, prefix))
	if err != nil || n < 1 || n > segCount {
		return 0, false
	}
	return n - 1, true
}

func buildSegment(n metadata.Ref) (Segment, error) {
	var seg Segment
	if v := metadata.GetKeyPath(n, "start_extent"); v.Valid() {
		seg.StartExtent = v.Integer()
	}
	if v := metadata.GetKeyPath(n, "extent_count"); v.Valid() {
		seg.ExtentCount = v.Integer()
	} else {
		return Segment{}, lverr.Semanticf("volume.buildSegment", "%s missing extent_count", n.Key())
	}
	if v := metadata.GetKeyPath(n, "stripe_count"); v.Valid() {
		seg.StripeCount = v.Integer()
	}

	stripesNode := metadata.GetKeyPath(n, "stripes")
	if !stripesNode.Valid() || stripesNode.Type() != metadata.NodeList {
		return Segment{}, lverr.Semanticf("volume.buildSegment", "%s missing stripes list", n.Key())
	}

	var elems []metadata.Ref
	for e := stripesNode.List(); e.Valid(); e = e.Next() {
		elems = append(elems, e)
	}
	if len(elems)%2 != 0 {
		return Segment{}, lverr.Semanticf("volume.buildSegment", "%s stripes list has odd element count %d", n.Key(), len(elems))
	}
	for i := 0; i < len(elems); i += 2 {
		seg.Stripes = append(seg.Stripes, Stripe{
			PVName:      elems[i].String(),
			PVIndex:     -1,
			StartExtent: elems[i+1].Integer(),
		})
	}
	return seg, nil
}

func resolveStripes(segments []Segment, pvs []PhysicalVolume) error {
	byName := make(map[string]int, len(pvs))
	for i, pv := range pvs {
		byName[pv.Name] = i
	}
	for si := range segments {
		for ti := range segments[si].Stripes {
			s := &segments[si].Stripes[ti]
			idx, ok := byName[s.PVName]
			if !ok {
				return lverr.Semanticf("volume.resolveStripes", "stripe references unknown physical volume %q", s.PVName)
			}
			s.PVIndex = idx
		}
	}
	return nil
}

// Extract reads every segment of lv off vg's physical volumes, in
// ascending start-extent order, into a single buffer sized to the sum
// of each segment's extent count times vg's extent size (spec §4.8
// steps 6-8). Multi-stripe segments are a Non-goal: the stripe count is
// preserved on Segment, but a segment with more than one live stripe
// fails extraction instead of silently reading only the first.
func Extract(d *device.Drive, vg *VolumeGroup, lv *LogicalVolume, sectorSize int64, log *logrus.Entry) ([]byte, error) {
	var total int64
	for _, seg := range lv.Segments {
		total += seg.ExtentCount * vg.ExtentSizeBytes
	}
	out := make([]byte, total)

	segs := append([]Segment(nil), lv.Segments...)
	sort.Slice(segs, func(i, j int) bool { return segs[i].StartExtent < segs[j].StartExtent })
	for _, seg := range segs {
		if len(seg.Stripes) != 1 {
			if seg.StripeCount > 1 {
				return nil, lverr.Unsupportedf("volume.Extract", "segment at extent %d has %d stripes; multi-stripe interleaving is not implemented", seg.StartExtent, len(seg.Stripes))
			}
			return nil, lverr.Semanticf("volume.Extract", "segment at extent %d has %d stripes, expected exactly 1", seg.StartExtent, len(seg.Stripes))
		}

		stripe := seg.Stripes[0]
		pv := vg.PhysicalVolumes[stripe.PVIndex]
		if !pv.located {
			return nil, lverr.Semanticf("volume.Extract", "physical volume %q (uuid %s) was not found on this drive", pv.Name, pv.UUID)
		}
		if err := d.SetPartition(pv.PartitionStart, pv.PartitionLen); err != nil {
			return nil, err
		}

		srcOff := pv.PEStartSectors*sectorSize + stripe.StartExtent*vg.ExtentSizeBytes
		n := seg.ExtentCount * vg.ExtentSizeBytes
		dstOff := seg.StartExtent * vg.ExtentSizeBytes
		if dstOff < 0 || dstOff+n > total {
			return nil, lverr.Semanticf("volume.Extract", "segment at extent %d overruns the %d-byte output buffer", seg.StartExtent, total)
		}

		if log != nil {
			log.WithFields(logrus.Fields{
				"pv":        pv.Name,
				"srcOffset": srcOff,
				"dstOffset": dstOff,
				"bytes":     n,
			}).Info("reading logical volume segment")
		}
		if err := d.ReadAt(srcOff, out[dstOff:dstOff+n]); err != nil {
			return nil, err
		}
	}
	return out, nil
}
