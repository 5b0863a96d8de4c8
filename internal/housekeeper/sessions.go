package housekeeper

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

type sessionCleanupStats struct {
	removedDays    int
	removedFiles   int
	reclaimedBytes int64
	errors         int
}

// cleanupSessions prunes <home>/sessions/<YYYY>/<MM>/<DD> directories whose
// date is more than retentionDays in the past (0 means "keep only today"),
// then opportunistically removes any month/year directory left empty.
func cleanupSessions(home string, now time.Time, retentionDays int64) sessionCleanupStats {
	var stats sessionCleanupStats

	sessionsRoot := filepath.Join(home, "sessions")
	if info, err := os.Stat(sessionsRoot); err != nil || !info.IsDir() {
		return stats
	}

	today := truncateToDay(now)
	cutoff := today.AddDate(0, 0, -int(retentionDays))

	for _, yearEntry := range listDirSorted(sessionsRoot) {
		year, ok := parseDirInt(yearEntry.Name())
		if !ok || !yearEntry.IsDir() {
			continue
		}
		yearPath := filepath.Join(sessionsRoot, yearEntry.Name())

		monthEntries := listDirSorted(yearPath)
		for _, monthEntry := range monthEntries {
			month, ok := parseDirInt(monthEntry.Name())
			if !ok || month < 1 || month > 12 || !monthEntry.IsDir() {
				continue
			}
			monthPath := filepath.Join(yearPath, monthEntry.Name())

			dayEntries := listDirSorted(monthPath)
			for _, dayEntry := range dayEntries {
				day, ok := parseDirInt(dayEntry.Name())
				if !ok || day < 1 || day > 31 || !dayEntry.IsDir() {
					continue
				}
				dayPath := filepath.Join(monthPath, dayEntry.Name())
				dayDate := time.Date(year, time.Month(month), day, 0, 0, 0, 0, now.Location())

				if !dayDate.Before(cutoff) {
					continue
				}

				stats.removedFiles += fileCount(dayPath)
				stats.reclaimedBytes += dirSize(dayPath)
				if err := os.RemoveAll(dayPath); err != nil {
					stats.errors++
					continue
				}
				stats.removedDays++
			}

			removeIfEmpty(monthPath)
		}

		removeIfEmpty(yearPath)
	}

	return stats
}

func truncateToDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func parseDirInt(name string) (int, bool) {
	v, err := strconv.Atoi(name)
	if err != nil {
		return 0, false
	}
	return v, true
}

func removeIfEmpty(path string) {
	entries, err := os.ReadDir(path)
	if err != nil || len(entries) > 0 {
		return
	}
	_ = os.Remove(path)
}
