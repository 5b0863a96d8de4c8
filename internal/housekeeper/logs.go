package housekeeper

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// cleanupLogs prunes aged files under log/ and logs/ and truncates
// log/codex-tui.log if it has grown past the configured byte ceiling.
func cleanupLogs(home string, now time.Time, cfg config) int {
	if cfg.logRetentionDays == nil && cfg.logMaxBytes == nil {
		return 0
	}

	errors := 0

	if cfg.logRetentionDays != nil {
		errors += cleanupLogsByAge(filepath.Join(home, "log"), now, *cfg.logRetentionDays, func(string) bool { return true })
		errors += cleanupLogsByAge(filepath.Join(home, "logs"), now, *cfg.logRetentionDays, func(name string) bool {
			return strings.HasPrefix(name, "critical.log")
		})
	}

	if cfg.logMaxBytes != nil {
		logPath := filepath.Join(home, "log", "codex-tui.log")
		if err := truncateLogIfOversize(logPath, now, cfg, *cfg.logMaxBytes); err != nil {
			errors++
		}
	}

	return errors
}

func cleanupLogsByAge(dir string, now time.Time, retentionDays int64, shouldConsider func(name string) bool) int {
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return 0
	}

	errors := 0
	today := truncateToDay(now)
	var cutoff time.Time
	hasCutoff := retentionDays > 0
	if hasCutoff {
		cutoff = now.AddDate(0, 0, -int(retentionDays))
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}

	for _, entry := range entries {
		if entry.IsDir() || !shouldConsider(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			errors++
			continue
		}

		var shouldRemove bool
		if hasCutoff {
			shouldRemove = info.ModTime().Before(cutoff)
		} else {
			shouldRemove = truncateToDay(info.ModTime()).Before(today)
		}

		if !shouldRemove {
			continue
		}
		if err := os.Remove(path); err != nil {
			errors++
		}
	}

	return errors
}

func truncateLogIfOversize(path string, now time.Time, cfg config, maxBytes int64) error {
	if maxBytes <= 0 {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return nil
	}
	if info.Size() <= maxBytes {
		return nil
	}

	minAge := time.Duration(cfg.logTruncateMinAgeMin) * time.Minute
	if minAge > 0 && now.Sub(info.ModTime()) < minAge {
		return nil
	}

	return truncateFileToLastBytes(path, maxBytes)
}

// truncateFileToLastBytes keeps only the trailing maxBytes of path: read
// the tail, truncate to zero, write the tail back, fsync.
func truncateFileToLastBytes(path string, maxBytes int64) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	size := info.Size()
	if size <= maxBytes {
		return nil
	}

	start := size - maxBytes
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return err
	}
	tail, err := io.ReadAll(f)
	if err != nil {
		return err
	}

	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if _, err := f.Write(tail); err != nil {
		return err
	}
	return f.Sync()
}
