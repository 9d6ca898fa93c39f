// Command lvrecover extracts a logical volume's raw bytes from a GPT +
// LVM2 block device or disk image given as "lvrecover <drive-path>
// <logical-volume>", grounded on cmd/bdinfo/main.go's flag-to-settings
// wiring and self-update flow, and on cmd/debugudf/main.go's dump-only
// debug command for "inspect".
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/blang/semver"
	"github.com/creativeprojects/go-selfupdate"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/pchambers/lvrecover/internal/settings"
	"github.com/pchambers/lvrecover/pkg/lvrecover"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var sectorSize int64
	var verifyCRC32 bool
	var scanAll bool
	var outputDir string
	var logLevel string

	root := &cobra.Command{
		Use:           "lvrecover <drive-path> <logical-volume>",
		Short:         "Recover logical volumes from a GPT + LVM2 block device",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().Int64Var(&sectorSize, "sector-size", 512, "logical sector size in bytes")
	root.PersistentFlags().BoolVar(&verifyCRC32, "verify-crc32", false, "verify CRC32 checksums instead of trusting on-disk data")
	root.PersistentFlags().BoolVar(&scanAll, "scan-all", false, "scan every LVM-typed partition instead of stopping at the first volume group")
	root.PersistentFlags().StringVar(&outputDir, "output-dir", ".", "directory extracted logical volume images are written to")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: trace, debug, info, warn, error")

	settingsFromFlags := func() settings.Settings {
		return settings.Settings{
			SectorSize:        sectorSize,
			VerifyCRC32:       verifyCRC32,
			OutputDir:         outputDir,
			ScanAllPartitions: scanAll,
		}
	}
	logFromFlags := func() *logrus.Entry {
		log := logrus.New()
		if lvl, err := logrus.ParseLevel(logLevel); err == nil {
			log.SetLevel(lvl)
		}
		return logrus.NewEntry(log)
	}

	root.RunE = func(cmd *cobra.Command, args []string) error {
		drivePath, lvName := args[0], args[1]
		log := logFromFlags()

		start := time.Now()
		res, err := lvrecover.Run(cmd.Context(), lvrecover.Options{
			DrivePath: drivePath,
			LVName:    lvName,
			Settings:  settingsFromFlags(),
			Log:       log,
			OnProgress: func(e lvrecover.ProgressEvent) {
				log.WithFields(logrus.Fields{
					"stage":   e.Stage,
					"detail":  e.Detail,
					"elapsed": e.Elapsed,
				}).Info("recovery progress")
			},
		})
		if err != nil {
			return err
		}
		fmt.Printf("wrote %s (%d bytes) from %s/%s in %s\n", res.OutputPath, res.BytesWritten, res.VolumeGroup, res.LogicalVolume, time.Since(start))
		return nil
	}

	root.AddCommand(newInspectCmd(settingsFromFlags, logFromFlags))
	root.AddCommand(newVersionCmd())
	root.AddCommand(newUpdateCmd())
	return root
}

func newInspectCmd(settingsFromFlags func() settings.Settings, logFromFlags func() *logrus.Entry) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <drive>",
		Short: "List volume groups, physical volumes and logical volumes found on a drive without extracting anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			summaries, err := lvrecover.Inspect(cmd.Context(), args[0], settingsFromFlags(), logFromFlags())
			if err != nil {
				return err
			}
			for _, vg := range summaries {
				fmt.Printf("volume group %q: %d/%d physical volumes located\n", vg.Name, vg.Located, len(vg.PhysicalVolumes))
				for _, pv := range vg.PhysicalVolumes {
					fmt.Printf("  pv %s\n", pv)
				}
				for _, lv := range vg.LogicalVolumes {
					fmt.Printf("  lv %s\n", lv)
				}
			}
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the lvrecover version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(version)
			return nil
		},
	}
}

func newUpdateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Update lvrecover to the latest released version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSelfUpdate(cmd.Context())
		},
	}
}

func runSelfUpdate(ctx context.Context) error {
	if version == "" || version == "dev" {
		return errors.New("self-update is only available in release builds")
	}
	if _, err := semver.ParseTolerant(version); err != nil {
		return fmt.Errorf("could not parse version: %w", err)
	}

	const slug = "pchambers/lvrecover"
	latest, found, err := selfupdate.DetectLatest(ctx, selfupdate.ParseSlug(slug))
	if err != nil {
		return fmt.Errorf("error occurred while detecting version: %w", err)
	}
	if !found {
		return fmt.Errorf("latest version for %s could not be found from github repository", slug)
	}
	if latest.LessOrEqual(version) {
		fmt.Printf("current binary is the latest version: %s\n", version)
		return nil
	}

	exe, err := selfupdate.ExecutablePath()
	if err != nil {
		return fmt.Errorf("could not locate executable path: %w", err)
	}
	if err := selfupdate.UpdateTo(ctx, latest.AssetURL, latest.AssetName, exe); err != nil {
		return fmt.Errorf("error occurred while updating binary: %w", err)
	}
	fmt.Printf("successfully updated to version: %s\n", latest.Version())
	return nil
}
