package migrate

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/tidwall/gjson"

	"github.com/MarcoPoloResearchLab/ddlkit/internal/dialect"
)

// Issue is one inconsistency found in a migration folder.
type Issue struct {
	Tag     string
	Path    string
	Problem string
}

func (i Issue) String() string {
	if i.Tag == "" {
		return fmt.Sprintf("%s: %s", i.Path, i.Problem)
	}
	return fmt.Sprintf("%s (%s): %s", i.Tag, i.Path, i.Problem)
}

// CheckReport lists every issue found by Check. Outdated marks snapshots that only need an upgrade.
type CheckReport struct {
	Entries  int
	Issues   []Issue
	Outdated []string
}

// OK reports whether the folder is consistent and current.
func (r CheckReport) OK() bool {
	return len(r.Issues) == 0 && len(r.Outdated) == 0
}

// Check verifies that every journal entry has its SQL and snapshot files, that indexes are
// contiguous, that each snapshot links to its predecessor and that every snapshot is current.
func (w *Writer) Check() (CheckReport, error) {
	j, err := w.LoadJournal()
	if err != nil {
		return CheckReport{}, newError(opCheck, "journal_load_failed", w.JournalPath(), err)
	}
	report := CheckReport{Entries: len(j.Entries)}
	addIssue := func(tag, path, format string, args ...any) {
		report.Issues = append(report.Issues, Issue{Tag: tag, Path: path, Problem: fmt.Sprintf(format, args...)})
	}

	seenTags := map[string]bool{}
	expectedPrev := dialect.OriginID
	for position, entry := range j.Entries {
		if entry.Idx != position {
			addIssue(entry.Tag, w.JournalPath(), "idx %d at position %d", entry.Idx, position)
		}
		if seenTags[entry.Tag] {
			addIssue(entry.Tag, w.JournalPath(), "duplicate tag")
		}
		seenTags[entry.Tag] = true

		sqlPath := w.MigrationPath(entry.Tag)
		if _, err := os.Stat(sqlPath); err != nil {
			addIssue(entry.Tag, sqlPath, "sql file missing")
		}

		snapshotPath := w.SnapshotPath(position)
		raw, err := os.ReadFile(snapshotPath)
		if err != nil {
			if isNotExist(err) {
				addIssue(entry.Tag, snapshotPath, "snapshot file missing")
			} else {
				addIssue(entry.Tag, snapshotPath, "snapshot unreadable: %v", err)
			}
			expectedPrev = ""
			continue
		}
		if !gjson.ValidBytes(raw) {
			addIssue(entry.Tag, snapshotPath, "snapshot is not valid json")
			expectedPrev = ""
			continue
		}
		header := gjson.GetManyBytes(raw, "version", "dialect", "id", "prevId")
		version, snapshotDialect, id, prevID := header[0].String(), header[1].String(), header[2].String(), header[3].String()

		if parsed, err := dialect.Parse(snapshotDialect); err != nil || parsed != w.dialect {
			addIssue(entry.Tag, snapshotPath, "dialect %q, expected %s", snapshotDialect, w.dialect)
		}
		switch {
		case w.dialect.NeedsUpgrade(version):
			report.Outdated = append(report.Outdated, snapshotPath)
		case !w.dialect.IsLatest(version):
			addIssue(entry.Tag, snapshotPath, "unsupported version %q", version)
		}
		if expectedPrev != "" && prevID != expectedPrev {
			addIssue(entry.Tag, snapshotPath, "prevId %q does not match previous id %q", prevID, expectedPrev)
		}
		if id == "" {
			addIssue(entry.Tag, snapshotPath, "snapshot has no id")
		}
		expectedPrev = id
	}

	orphans, err := filepath.Glob(filepath.Join(w.MetaDir(), "*_snapshot.json"))
	if err != nil {
		return report, newError(opCheck, "glob_failed", w.MetaDir(), err)
	}
	sort.Strings(orphans)
	for _, path := range orphans {
		var idx int
		if _, err := fmt.Sscanf(filepath.Base(path), "%04d_snapshot.json", &idx); err != nil || idx >= len(j.Entries) {
			addIssue("", path, "snapshot not referenced by the journal")
		}
	}
	return report, nil
}
