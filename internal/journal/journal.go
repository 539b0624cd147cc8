// Package journal reads and writes meta/_journal.json, the ordered list of generated migrations.
package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/MarcoPoloResearchLab/ddlkit/internal/dialect"
	"github.com/MarcoPoloResearchLab/ddlkit/internal/files"
)

var (
	// ErrEntryNotFound is returned when a tag or index names no journal entry.
	ErrEntryNotFound = errors.New("journal entry not found")
	// ErrEmpty is returned when an operation needs at least one entry.
	ErrEmpty = errors.New("journal has no entries")
)

// Entry records one generated migration.
type Entry struct {
	Idx         int    `json:"idx"`
	Version     string `json:"version"`
	When        int64  `json:"when"`
	Tag         string `json:"tag"`
	Breakpoints bool   `json:"breakpoints"`
}

// Journal is the migration index of one output folder.
type Journal struct {
	Version string          `json:"version"`
	Dialect dialect.Dialect `json:"dialect"`
	Entries []Entry         `json:"entries"`
}

// New returns an empty journal for d.
func New(d dialect.Dialect) *Journal {
	return &Journal{Version: dialect.JournalVersion, Dialect: d, Entries: []Entry{}}
}

// NextIdx is the index the next appended entry receives.
func (j *Journal) NextIdx() int {
	return len(j.Entries)
}

// Append records a migration written at when and returns the new entry.
func (j *Journal) Append(tag string, breakpoints bool, when time.Time) Entry {
	entry := Entry{
		Idx:         j.NextIdx(),
		Version:     j.Dialect.CurrentVersion(),
		When:        when.UnixMilli(),
		Tag:         tag,
		Breakpoints: breakpoints,
	}
	j.Entries = append(j.Entries, entry)
	return entry
}

// Last returns the most recent entry.
func (j *Journal) Last() (Entry, bool) {
	if len(j.Entries) == 0 {
		return Entry{}, false
	}
	return j.Entries[len(j.Entries)-1], true
}

// FindTag returns the entry with tag.
func (j *Journal) FindTag(tag string) (Entry, bool) {
	for _, entry := range j.Entries {
		if entry.Tag == tag {
			return entry, true
		}
	}
	return Entry{}, false
}

// Drop removes the entry at idx and renumbers the entries after it.
func (j *Journal) Drop(idx int) (Entry, error) {
	if idx < 0 || idx >= len(j.Entries) {
		return Entry{}, fmt.Errorf("%w: idx %d", ErrEntryNotFound, idx)
	}
	dropped := j.Entries[idx]
	j.Entries = append(j.Entries[:idx], j.Entries[idx+1:]...)
	for position := range j.Entries {
		j.Entries[position].Idx = position
	}
	return dropped, nil
}

// Clone returns a deep copy.
func (j *Journal) Clone() *Journal {
	clone := *j
	clone.Entries = append([]Entry{}, j.Entries...)
	return &clone
}

// ToJSON renders the journal the way it is stored on disk.
func (j *Journal) ToJSON() ([]byte, error) {
	out := *j
	if out.Entries == nil {
		out.Entries = []Entry{}
	}
	return json.MarshalIndent(out, "", "  ")
}

// FromJSON decodes a journal and validates its header.
func FromJSON(data []byte) (*Journal, error) {
	var decoded Journal
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("decode journal: %w", err)
	}
	d, err := dialect.Parse(string(decoded.Dialect))
	if err != nil {
		return nil, err
	}
	decoded.Dialect = d
	if decoded.Entries == nil {
		decoded.Entries = []Entry{}
	}
	return &decoded, nil
}

// Load reads the journal at path.
func Load(path string) (*Journal, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	decoded, err := FromJSON(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return decoded, nil
}

// LoadOrNew reads the journal at path, or returns an empty one when the file does not exist.
// A journal written for another dialect is rejected.
func LoadOrNew(path string, d dialect.Dialect) (*Journal, error) {
	loaded, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return New(d), nil
	}
	if err != nil {
		return nil, err
	}
	if loaded.Dialect != d {
		return nil, fmt.Errorf("%w: journal %s is %s, expected %s", dialect.ErrDialectMismatch, path, loaded.Dialect, d)
	}
	return loaded, nil
}

// Save writes the journal atomically, creating the parent directory when needed.
func (j *Journal) Save(path string) error {
	data, err := j.ToJSON()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return files.WriteAtomic(path, data, 0o644)
}
