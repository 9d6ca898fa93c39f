// Package sink writes a recovered logical volume's extracted bytes to
// disk, backing up any file already at the destination path rather than
// clobbering it outright. Grounded on internal/report's WriteReport,
// which backs up an existing report file by renaming it with a Unix
// timestamp suffix before writing the new one.
package sink

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pchambers/lvrecover/internal/lverr"
)

// outputMode is deliberately narrower than report's 0o644: a recovered
// logical volume can contain a filesystem image with arbitrary file
// contents, so the output is not world-readable by default.
const outputMode = 0o640

// Write creates dir if needed and writes data to dir/lvName.bin. If a
// file already exists at that path it is renamed to
// dir/lvName.bin.<unix-seconds> first, mirroring internal/report's
// backup-before-overwrite behavior.
func Write(dir, lvName string, data []byte, log *logrus.Entry) (string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", lverr.IO("sink.Write", err)
	}

	path := filepath.Join(dir, lvName+".bin")
	if _, err := os.Stat(path); err == nil {
		backup := fmt.Sprintf("%s.%d", path, time.Now().Unix())
		if err := os.Rename(path, backup); err != nil {
			return "", lverr.IO("sink.Write", err)
		}
		if log != nil {
			log.WithFields(logrus.Fields{"path": path, "backup": backup}).Warn("existing output file backed up")
		}
	} else if !os.IsNotExist(err) {
		return "", lverr.IO("sink.Write", err)
	}

	if err := os.WriteFile(path, data, outputMode); err != nil {
		return "", lverr.IO("sink.Write", err)
	}
	if log != nil {
		log.WithFields(logrus.Fields{"path": path, "bytes": len(data)}).Info("wrote recovered logical volume")
	}
	return path, nil
}
