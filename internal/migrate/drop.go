package migrate

import (
	"os"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/ddlkit/internal/dialect"
	"github.com/MarcoPoloResearchLab/ddlkit/internal/files"
	"github.com/MarcoPoloResearchLab/ddlkit/internal/journal"
)

// Drop removes the migration with tag, or the last one when tag is empty.
// Later snapshot files move down one index and the snapshot that followed the dropped one is
// relinked to its new predecessor. Tags keep their numeric prefixes. The journal is saved last.
func (w *Writer) Drop(tag string) (journal.Entry, error) {
	j, err := w.LoadJournal()
	if err != nil {
		return journal.Entry{}, newError(opDrop, "journal_load_failed", w.JournalPath(), err)
	}
	if len(j.Entries) == 0 {
		return journal.Entry{}, newError(opDrop, "empty_journal", w.JournalPath(), journal.ErrEmpty)
	}

	target, ok := j.Last()
	if tag != "" {
		if target, ok = j.FindTag(tag); !ok {
			return journal.Entry{}, newError(opDrop, "unknown_tag", w.JournalPath(), journal.ErrEntryNotFound)
		}
	}

	predecessorID := dialect.OriginID
	if target.Idx > 0 {
		raw, err := os.ReadFile(w.SnapshotPath(target.Idx - 1))
		if err != nil {
			return journal.Entry{}, newError(opDrop, "predecessor_read_failed", w.SnapshotPath(target.Idx-1), err)
		}
		predecessorID = gjson.GetBytes(raw, "id").String()
	}

	if err := files.RemoveIfExists(w.MigrationPath(target.Tag)); err != nil {
		return journal.Entry{}, newError(opDrop, "sql_remove_failed", w.MigrationPath(target.Tag), err)
	}
	if err := files.RemoveIfExists(w.SnapshotPath(target.Idx)); err != nil {
		return journal.Entry{}, newError(opDrop, "snapshot_remove_failed", w.SnapshotPath(target.Idx), err)
	}
	for idx := target.Idx + 1; idx < len(j.Entries); idx++ {
		from, to := w.SnapshotPath(idx), w.SnapshotPath(idx-1)
		if err := os.Rename(from, to); err != nil {
			return journal.Entry{}, newError(opDrop, "snapshot_rename_failed", from, err)
		}
	}

	if target.Idx+1 < len(j.Entries) {
		successor := w.SnapshotPath(target.Idx)
		if err := relink(successor, predecessorID); err != nil {
			return journal.Entry{}, newError(opDrop, "relink_failed", successor, err)
		}
	}

	dropped, err := j.Drop(target.Idx)
	if err != nil {
		return journal.Entry{}, newError(opDrop, "journal_drop_failed", w.JournalPath(), err)
	}
	if err := j.Save(w.JournalPath()); err != nil {
		return journal.Entry{}, newError(opDrop, "journal_save_failed", w.JournalPath(), err)
	}
	w.logger.Info("migration dropped", zap.String("tag", dropped.Tag), zap.Int("idx", dropped.Idx))
	return dropped, nil
}

// relink points the prevId of the snapshot at path to prevID, leaving the rest of the file as is.
func relink(path, prevID string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	updated, err := sjson.SetBytes(raw, "prevId", prevID)
	if err != nil {
		return err
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	return files.WriteAtomic(path, updated, info.Mode().Perm())
}
