package acquire

import (
	"encoding/csv"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/banshee-data/beamscan/internal/fsutil"
	"github.com/banshee-data/beamscan/internal/scan"
	"github.com/banshee-data/beamscan/internal/timeutil"
)

// LogFileName returns a timestamped scan log path inside dir.
func LogFileName(dir string, clock timeutil.Clock) string {
	return filepath.Join(dir, fmt.Sprintf("beamscan_%s.dat", clock.Now().Format("2006_01_02_15_04_05")))
}

// WriteLog writes samples to fsys as tab-separated columns: one per axis
// in axes order, then the measured value.
func WriteLog(fsys fsutil.FileSystem, path string, axes []string, samples scan.Samples) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := fsys.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := fsys.Create(path)
	if err != nil {
		return err
	}

	w := csv.NewWriter(f)
	w.Comma = '\t'
	w.Write(append(append([]string(nil), axes...), "value"))
	row := make([]string, len(axes)+1)
	for _, s := range samples {
		for i, a := range axes {
			row[i] = strconv.FormatFloat(s.Position[a], 'g', -1, 64)
		}
		row[len(axes)] = strconv.FormatFloat(s.Value, 'g', -1, 64)
		w.Write(row)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
