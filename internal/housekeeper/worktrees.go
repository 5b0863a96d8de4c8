package housekeeper

import (
	"bufio"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/autodrive/core/internal/runlock"
)

type worktreeCleanupStats struct {
	removedWorktrees int
	removedFiles     int
	reclaimedBytes   int64
	skippedActive    int
	errors           int
}

// cleanupWorktrees prunes <home>/working/<repo>/branches/<name> directories
// that are not claimed by any live process's registry file and are older
// than retentionDays.
func cleanupWorktrees(home string, now time.Time, retentionDays int64) worktreeCleanupStats {
	var stats worktreeCleanupStats

	workingRoot := filepath.Join(home, "working")
	if info, err := os.Stat(workingRoot); err != nil || !info.IsDir() {
		return stats
	}

	active, registryFiles := collectActiveWorktrees(workingRoot, &stats)
	cutoff := time.Duration(retentionDays) * 24 * time.Hour

	for _, repoEntry := range listDirSorted(workingRoot) {
		if !repoEntry.IsDir() || repoEntry.Name() == "_session" {
			continue
		}
		branchesPath := filepath.Join(workingRoot, repoEntry.Name(), "branches")
		if info, err := os.Stat(branchesPath); err != nil || !info.IsDir() {
			continue
		}

		for _, branchEntry := range listDirSorted(branchesPath) {
			if !branchEntry.IsDir() {
				continue
			}
			worktreePath := filepath.Join(branchesPath, branchEntry.Name())

			if active[worktreePath] {
				stats.skippedActive++
				continue
			}

			info, err := os.Stat(worktreePath)
			if err != nil {
				continue
			}
			if now.Sub(info.ModTime()) < cutoff {
				continue
			}

			stats.removedFiles += fileCount(worktreePath)
			stats.reclaimedBytes += dirSize(worktreePath)

			if err := removeWorktree(worktreePath); err != nil {
				stats.errors++
				continue
			}
			purgeFromRegistries(registryFiles, worktreePath)
			stats.removedWorktrees++
		}
	}

	return stats
}

// collectActiveWorktrees reads <home>/working/_session/pid-<PID>.txt
// registry files, keeping only those whose PID is alive, and returns the
// union of worktree paths they claim plus the set of registry file paths
// still in use (for later purge-on-delete).
func collectActiveWorktrees(workingRoot string, stats *worktreeCleanupStats) (map[string]bool, []string) {
	active := make(map[string]bool)
	var registryFiles []string

	sessionDir := filepath.Join(workingRoot, "_session")
	entries, err := os.ReadDir(sessionDir)
	if err != nil {
		return active, registryFiles
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "pid-") || !strings.HasSuffix(name, ".txt") {
			continue
		}
		pidStr := strings.TrimSuffix(strings.TrimPrefix(name, "pid-"), ".txt")
		pid, err := strconv.Atoi(pidStr)
		if err != nil {
			continue
		}

		path := filepath.Join(sessionDir, name)
		if alive, known := runlock.IsProcessAlive(pid); known && !alive {
			_ = os.Remove(path)
			continue
		}

		registryFiles = append(registryFiles, path)
		for _, worktreePath := range readRegistry(path) {
			active[worktreePath] = true
		}
	}

	return active, registryFiles
}

// readRegistry parses tab-separated "repo_path\tworktree_path" lines.
func readRegistry(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var paths []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "\t", 2)
		if len(parts) == 2 {
			paths = append(paths, parts[1])
		}
	}
	return paths
}

// purgeFromRegistries rewrites every registry file, dropping any line that
// claims the now-deleted worktreePath.
func purgeFromRegistries(registryFiles []string, worktreePath string) {
	for _, path := range registryFiles {
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		var kept []string
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasSuffix(strings.TrimSpace(line), "\t"+worktreePath) {
				kept = append(kept, line)
			}
		}
		f.Close()
		_ = os.WriteFile(path, []byte(strings.Join(kept, "\n")+"\n"), 0o600)
	}
}

// removeWorktree resolves the owning repo root by walking up from
// <path>/.git's `gitdir:` pointer (at most 5 levels), asks git to remove
// the worktree, falls back to a best-effort directory removal, and
// finally deletes the worktree's "code-*" branch ref from the repo root.
func removeWorktree(worktreePath string) error {
	repoRoot := resolveRepoRoot(worktreePath)
	if repoRoot != "" {
		cmd := exec.Command("git", "worktree", "remove", "--force", worktreePath)
		cmd.Dir = repoRoot
		_ = cmd.Run()
	}
	err := os.RemoveAll(worktreePath)
	if repoRoot != "" {
		deleteCodeBranch(repoRoot, filepath.Base(worktreePath))
	}
	return err
}

// deleteCodeBranch removes branch from repoRoot with `git branch -D` when
// its name carries the "code-" prefix auto-drive gives per-task branches;
// branches outside that namespace are left alone.
func deleteCodeBranch(repoRoot, branch string) {
	if !strings.HasPrefix(branch, "code-") {
		return
	}
	cmd := exec.Command("git", "branch", "-D", branch)
	cmd.Dir = repoRoot
	_ = cmd.Run()
}

func resolveRepoRoot(worktreePath string) string {
	gitFile := filepath.Join(worktreePath, ".git")
	data, err := os.ReadFile(gitFile)
	if err != nil {
		return ""
	}
	line := strings.TrimSpace(string(data))
	const prefix = "gitdir:"
	if !strings.HasPrefix(line, prefix) {
		return ""
	}
	gitDir := strings.TrimSpace(strings.TrimPrefix(line, prefix))

	dir := gitDir
	for i := 0; i < 5; i++ {
		dir = filepath.Dir(dir)
		if info, err := os.Stat(filepath.Join(dir, ".git")); err == nil && info != nil {
			return dir
		}
	}
	return ""
}
