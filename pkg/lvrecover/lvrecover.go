// Package lvrecover is the library facade over the GPT -> PV label ->
// metadata area -> text metadata -> logical volume pipeline, grounded
// on pkg/bdinfo/bdinfo.go's Options/Result/ProgressEvent/Run shape: a
// context-aware Run call that emits coarse progress events and returns
// a structured result, leaving file I/O policy to the caller except for
// the final write, which internal/sink owns.
package lvrecover

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pchambers/lvrecover/internal/crc32check"
	"github.com/pchambers/lvrecover/internal/device"
	"github.com/pchambers/lvrecover/internal/gpt"
	"github.com/pchambers/lvrecover/internal/lverr"
	"github.com/pchambers/lvrecover/internal/mda"
	"github.com/pchambers/lvrecover/internal/metadata"
	"github.com/pchambers/lvrecover/internal/pvlabel"
	"github.com/pchambers/lvrecover/internal/settings"
	"github.com/pchambers/lvrecover/internal/sink"
	"github.com/pchambers/lvrecover/internal/volume"
)

// Stage represents a coarse progress stage for Run.
type Stage string

const (
	StageOpeningDrive    Stage = "opening_drive"
	StageReadingGPT      Stage = "reading_gpt"
	StageReadingPVLabels Stage = "reading_pv_labels"
	StageParsingMetadata Stage = "parsing_metadata"
	StageExtracting      Stage = "extracting"
	StageWriting         Stage = "writing"
	StageDone            Stage = "done"
)

// ProgressEvent is emitted when Run transitions between major phases.
type ProgressEvent struct {
	Stage      Stage
	DrivePath  string
	Detail     string
	Elapsed    time.Duration
	OccurredAt time.Time
}

// Options configure one Run call against a single drive or disk image.
type Options struct {
	DrivePath  string
	LVName     string
	Settings   settings.Settings
	Log        *logrus.Entry
	OnProgress func(ProgressEvent)
}

// Result describes the outcome of a successful recovery.
type Result struct {
	VolumeGroup   string
	LogicalVolume string
	BytesWritten  int64
	OutputPath    string
}

// VolumeGroupSummary is one entry of Inspect's result: a volume group
// discovered on the drive, its member PVs, and the LV names it defines.
type VolumeGroupSummary struct {
	Name            string
	LogicalVolumes  []string
	PhysicalVolumes []string
	Located         int
}

func emit(cb func(ProgressEvent), event ProgressEvent) {
	if cb != nil {
		cb(event)
	}
}

// candidate bundles a volume-group's parsed metadata node with the Tree
// that owns it, for an LVM partition found during discovery.
type candidate struct {
	vgNode metadata.Ref
	tree   *metadata.Tree
}

// Run opens options.DrivePath, walks its GPT for LVM-typed partitions,
// groups them by volume group name, resolves options.LVName against
// the first matching group (or every group, when
// options.Settings.ScanAllPartitions is set), extracts its bytes and
// writes them via internal/sink.
func Run(ctx context.Context, options Options) (Result, error) {
	if options.DrivePath == "" {
		return Result{}, errors.New("drive path is required")
	}
	if options.LVName == "" {
		return Result{}, errors.New("logical volume name is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	cfg := options.Settings
	if cfg.SectorSize == 0 {
		cfg = settings.Default(cfg.OutputDir)
	}
	checker := crc32check.New(cfg.VerifyCRC32)
	start := time.Now()

	emit(options.OnProgress, ProgressEvent{Stage: StageOpeningDrive, DrivePath: options.DrivePath, OccurredAt: time.Now()})
	d, err := device.Open(options.DrivePath)
	if err != nil {
		return Result{}, err
	}
	defer d.Close()

	groups, locations, err := discoverVolumeGroups(d, cfg.SectorSize, checker, options.Log, cfg.ScanAllPartitions, options.OnProgress, options.DrivePath)
	if err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	emit(options.OnProgress, ProgressEvent{Stage: StageExtracting, DrivePath: options.DrivePath, Elapsed: time.Since(start), OccurredAt: time.Now()})

	var lastErr error
	for _, c := range groups {
		vg, err := volume.BuildVolumeGroup(c.vgNode, cfg.SectorSize, locations, options.Log)
		if err != nil {
			lastErr = err
			continue
		}
		lv, err := volume.BuildLogicalVolume(vg, c.vgNode, options.LVName, options.Log)
		if err != nil {
			lastErr = err
			continue
		}

		data, err := volume.Extract(d, vg, lv, cfg.SectorSize, options.Log)
		if err != nil {
			return Result{}, err
		}

		emit(options.OnProgress, ProgressEvent{Stage: StageWriting, DrivePath: options.DrivePath, Detail: options.LVName, Elapsed: time.Since(start), OccurredAt: time.Now()})
		path, err := sink.Write(cfg.OutputDir, options.LVName, data, options.Log)
		if err != nil {
			return Result{}, err
		}

		emit(options.OnProgress, ProgressEvent{Stage: StageDone, DrivePath: options.DrivePath, Elapsed: time.Since(start), OccurredAt: time.Now()})
		return Result{
			VolumeGroup:   vg.Name,
			LogicalVolume: lv.Name,
			BytesWritten:  int64(len(data)),
			OutputPath:    path,
		}, nil
	}

	if lastErr != nil {
		return Result{}, lastErr
	}
	return Result{}, lverr.Semanticf("lvrecover.Run", "no volume group on %s defines a logical volume named %q", options.DrivePath, options.LVName)
}

// Inspect discovers every volume group on drivePath without extracting
// anything, for a read-only "what's here" report.
func Inspect(ctx context.Context, drivePath string, cfg settings.Settings, log *logrus.Entry) ([]VolumeGroupSummary, error) {
	if drivePath == "" {
		return nil, errors.New("drive path is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.SectorSize == 0 {
		cfg = settings.Default(cfg.OutputDir)
	}
	checker := crc32check.New(cfg.VerifyCRC32)

	d, err := device.Open(drivePath)
	if err != nil {
		return nil, err
	}
	defer d.Close()

	groups, locations, err := discoverVolumeGroups(d, cfg.SectorSize, checker, log, true, nil, drivePath)
	if err != nil {
		return nil, err
	}

	var out []VolumeGroupSummary
	for _, c := range groups {
		vg, err := volume.BuildVolumeGroup(c.vgNode, cfg.SectorSize, locations, log)
		if err != nil {
			continue
		}
		summary := VolumeGroupSummary{Name: vg.Name}
		located := 0
		for _, pv := range vg.PhysicalVolumes {
			summary.PhysicalVolumes = append(summary.PhysicalVolumes, pv.Name)
		}
		for _, pv := range vg.PhysicalVolumes {
			if isLocated(pv, locations) {
				located++
			}
		}
		summary.Located = located
		summary.LogicalVolumes = listLogicalVolumes(c.vgNode)
		out = append(out, summary)
	}
	return out, nil
}

func isLocated(pv volume.PhysicalVolume, locations map[string]volume.PVLocation) bool {
	_, ok := locations[volume.NormalizeUUID(pv.UUID)]
	return ok
}

func listLogicalVolumes(vgNode metadata.Ref) []string {
	lvsNode := metadata.GetKeyPath(vgNode, "logical_volumes")
	if !lvsNode.Valid() {
		return nil
	}
	var names []string
	for n := lvsNode.Child(); n.Valid(); n = n.Next() {
		names = append(names, n.Key())
	}
	return names
}

// discoverVolumeGroups walks every LVM-typed GPT partition on d,
// records each one's partition window keyed by its PV UUID (the basis
// for volume.PVLocation across every group discovered, since a VG's
// member PVs can sit in different partitions), and parses each
// partition's active metadata text into a candidate volume-group block.
// When scanAll is false, metadata parsing stops as soon as one candidate
// is found (matching the original's single-VG assumption); the PV labels
// of every LVM partition are read either way, so the locations map
// covers all of them.
func discoverVolumeGroups(d *device.Drive, sectorSize int64, checker crc32check.Checker, log *logrus.Entry, scanAll bool, onProgress func(ProgressEvent), drivePath string) ([]candidate, map[string]volume.PVLocation, error) {
	emit(onProgress, ProgressEvent{Stage: StageReadingGPT, DrivePath: drivePath, OccurredAt: time.Now()})
	hdr, err := gpt.ReadHeader(d, sectorSize, checker)
	if err != nil {
		return nil, nil, err
	}
	entries, err := gpt.ReadEntries(d, sectorSize, hdr)
	if err != nil {
		return nil, nil, err
	}
	lvmEntries := gpt.FindLVMPartitions(entries)
	if len(lvmEntries) == 0 {
		return nil, nil, lverr.Semanticf("lvrecover.discoverVolumeGroups", "no LVM-typed partitions found on %s", drivePath)
	}

	locations := make(map[string]volume.PVLocation)
	type mdaRef struct {
		entry    gpt.Entry
		start    int64
		length   int64
		mdaAreas []pvlabel.DataArea
	}
	var mdaRefs []mdaRef

	// First pass: every LVM partition's PV label is read so locations
	// covers all of a VG's member PVs, even ones whose own metadata copy
	// is never parsed (spec §9's multi-PV-per-VG extension needs every
	// PV's window, not just the one holding the copy we read text from).
	emit(onProgress, ProgressEvent{Stage: StageReadingPVLabels, DrivePath: drivePath, OccurredAt: time.Now()})
	for _, entry := range lvmEntries {
		start := int64(entry.FirstLBA) * sectorSize
		length := (int64(entry.LastLBA) - int64(entry.FirstLBA)) * sectorSize
		if err := d.SetPartition(start, length); err != nil {
			return nil, nil, err
		}

		pvHdr, _, mdaAreas, err := pvlabel.Find(d, sectorSize, checker, log)
		if err != nil {
			if log != nil {
				log.WithError(err).Warn("skipping partition with no valid PV label")
			}
			continue
		}
		locations[volume.NormalizeUUID(pvHdr.UUID)] = volume.PVLocation{
			UUID:           pvHdr.UUID,
			PartitionStart: start,
			PartitionLen:   length,
		}
		if len(mdaAreas) > 0 {
			mdaRefs = append(mdaRefs, mdaRef{entry: entry, start: start, length: length, mdaAreas: mdaAreas})
		}
	}

	// Second pass: parse each candidate's active metadata text into a
	// distinct volume-group block, stopping early when the caller only
	// wants the first one found.
	seenVG := make(map[string]bool)
	var groups []candidate
	for _, ref := range mdaRefs {
		if err := d.SetPartition(ref.start, ref.length); err != nil {
			return nil, nil, err
		}

		emit(onProgress, ProgressEvent{Stage: StageParsingMetadata, DrivePath: drivePath, Detail: ref.entry.Name, OccurredAt: time.Now()})
		text, err := mda.ReadActiveText(d, ref.mdaAreas[0], log)
		if err != nil {
			if log != nil {
				log.WithError(err).Warn("skipping partition with unreadable metadata area")
			}
			continue
		}
		tree, err := metadata.Parse(text)
		if err != nil {
			if log != nil {
				log.WithError(err).Warn("skipping partition with unparseable metadata")
			}
			continue
		}
		vgNode := tree.Root().Child()
		if !vgNode.Valid() {
			continue
		}
		if seenVG[vgNode.Key()] {
			continue
		}
		seenVG[vgNode.Key()] = true
		groups = append(groups, candidate{vgNode: vgNode, tree: tree})
		if !scanAll {
			break
		}
	}

	if len(groups) == 0 {
		return nil, nil, lverr.Semanticf("lvrecover.discoverVolumeGroups", "no readable LVM2 volume group metadata found on %s", drivePath)
	}
	return groups, locations, nil
}
