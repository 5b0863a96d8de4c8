// Package housekeeper prunes stale rollout sessions, git worktrees, and
// rotating logs under a home directory, guarded by a cross-process
// advisory file lock so concurrent CLI instances never race each other.
package housekeeper

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/autodrive/core/internal/runlock"
)

const (
	lockFileName  = "cleanup.lock"
	stateFileName = "cleanup-state.json"

	defaultSessionRetentionDays  = 7
	defaultWorktreeRetentionDays = 3
	defaultLogRetentionDays      = 14
	defaultLogMaxBytes           = 50 * 1024 * 1024
	defaultLogTruncateMinAgeMin  = 10
	defaultMinIntervalHours      = 6
)

// Outcome summarizes what one housekeeping run pruned.
type Outcome struct {
	SessionDaysRemoved      int
	SessionFilesRemoved     int
	SessionBytesReclaimed   int64
	WorktreesRemoved        int
	WorktreeFilesRemoved    int
	WorktreeBytesReclaimed  int64
	WorktreesSkippedActive  int
	Errors                  int
}

// config is the resolved environment-driven tuning for one run. A nil
// *int64 retention field means "subsystem disabled".
type config struct {
	sessionRetentionDays  *int64
	worktreeRetentionDays *int64
	logRetentionDays      *int64
	logMaxBytes           *int64
	logTruncateMinAgeMin  int64
	minIntervalHours      int64
	disabled              bool
}

func configFromEnv() config {
	disabled := matchesIgnoreCase(os.Getenv("CLEANUP_DISABLE"), "1", "true", "on", "yes")

	return config{
		sessionRetentionDays:  parseDaysEnv("CLEANUP_SESSION_RETENTION_DAYS", defaultSessionRetentionDays),
		worktreeRetentionDays: parseDaysEnv("CLEANUP_WORKTREE_RETENTION_DAYS", defaultWorktreeRetentionDays),
		logRetentionDays:      parseDaysEnv("CLEANUP_LOG_RETENTION_DAYS", defaultLogRetentionDays),
		logMaxBytes:           parsePositiveInt64Env("CLEANUP_LOG_MAX_BYTES", defaultLogMaxBytes),
		logTruncateMinAgeMin:  mustPositiveInt64Env("CLEANUP_LOG_TRUNCATE_MIN_AGE_MINUTES", defaultLogTruncateMinAgeMin),
		minIntervalHours:      mustPositiveInt64Env("CLEANUP_MIN_INTERVAL_HOURS", defaultMinIntervalHours),
		disabled:              disabled,
	}
}

func matchesIgnoreCase(value string, candidates ...string) bool {
	for _, c := range candidates {
		if strings.EqualFold(value, c) {
			return true
		}
	}
	return false
}

// parseDaysEnv reads an integer-days subsystem knob. "off"/"disable"/
// "disabled" (any case) disables the subsystem; an unset or invalid value
// falls back to def; a value < 0 also falls back to def.
func parseDaysEnv(name string, def int64) *int64 {
	raw, ok := os.LookupEnv(name)
	if !ok {
		return &def
	}
	trimmed := strings.TrimSpace(raw)
	if matchesIgnoreCase(trimmed, "off", "disable", "disabled") {
		return nil
	}
	v, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil || v < 0 {
		return &def
	}
	return &v
}

func parsePositiveInt64Env(name string, def int64) *int64 {
	raw, ok := os.LookupEnv(name)
	if !ok {
		return &def
	}
	v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || v <= 0 {
		return &def
	}
	return &v
}

func mustPositiveInt64Env(name string, def int64) int64 {
	raw, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

// state is the on-disk record of the last successful run.
type state struct {
	LastRunUnix *int64 `json:"last_run_unix"`
}

func readState(path string) state {
	data, err := os.ReadFile(path)
	if err != nil {
		return state{}
	}
	var s state
	if err := json.Unmarshal(data, &s); err != nil {
		return state{}
	}
	return s
}

func writeState(path string, s state) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// RunIfDue performs one housekeeping pass rooted at home, unless
// housekeeping is disabled, the lock is already held elsewhere, or the
// minimum interval since the last run has not elapsed. It returns (nil,
// nil) in all three skip cases.
func RunIfDue(home string) (*Outcome, error) {
	cfg := configFromEnv()
	if cfg.disabled {
		return nil, nil
	}

	lockPath := filepath.Join(home, lockFileName)
	locked, unlock, err := runlock.Acquire(lockPath)
	if err != nil {
		return nil, err
	}
	if !locked {
		return nil, nil
	}
	defer unlock()

	now := time.Now()
	statePath := filepath.Join(home, stateFileName)
	st := readState(statePath)

	if st.LastRunUnix != nil {
		last := time.Unix(*st.LastRunUnix, 0)
		minInterval := time.Duration(cfg.minIntervalHours) * time.Hour
		if minInterval > 0 && now.Sub(last) < minInterval {
			return nil, nil
		}
	}

	outcome := performHousekeeping(home, now, cfg)

	nowUnix := now.Unix()
	st.LastRunUnix = &nowUnix
	_ = writeState(statePath, st)

	return &outcome, nil
}

func performHousekeeping(home string, now time.Time, cfg config) Outcome {
	var outcome Outcome

	if cfg.sessionRetentionDays != nil {
		stats := cleanupSessions(home, now, *cfg.sessionRetentionDays)
		outcome.SessionDaysRemoved = stats.removedDays
		outcome.SessionFilesRemoved = stats.removedFiles
		outcome.SessionBytesReclaimed = stats.reclaimedBytes
		outcome.Errors += stats.errors
	}

	if cfg.worktreeRetentionDays != nil {
		stats := cleanupWorktrees(home, now, *cfg.worktreeRetentionDays)
		outcome.WorktreesRemoved = stats.removedWorktrees
		outcome.WorktreeFilesRemoved = stats.removedFiles
		outcome.WorktreeBytesReclaimed = stats.reclaimedBytes
		outcome.WorktreesSkippedActive = stats.skippedActive
		outcome.Errors += stats.errors
	}

	outcome.Errors += cleanupLogs(home, now, cfg)

	return outcome
}

func listDirSorted(dir string) []os.DirEntry {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	return entries
}

func dirSize(path string) int64 {
	var total int64
	_ = filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil || info == nil || info.IsDir() {
			return nil
		}
		total += info.Size()
		return nil
	})
	return total
}

func fileCount(path string) int {
	count := 0
	_ = filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil || info == nil || info.IsDir() {
			return nil
		}
		count++
		return nil
	})
	return count
}
