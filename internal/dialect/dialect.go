package dialect

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Dialect names the SQL flavour a snapshot or migration folder targets.
type Dialect string

const (
	SQLite     Dialect = "sqlite"
	PostgreSQL Dialect = "postgresql"
)

// OriginID is the prevId of the first snapshot in every chain.
const OriginID = "00000000-0000-0000-0000-000000000000"

// JournalVersion is the format revision written into meta/_journal.json.
const JournalVersion = "7"

const floorVersion = 5

var (
	// ErrUnknownDialect indicates a dialect name that is neither sqlite nor postgresql.
	ErrUnknownDialect = errors.New("unknown dialect")
	// ErrDialectMismatch indicates two inputs that belong to different dialects.
	ErrDialectMismatch = errors.New("dialect mismatch")
	// ErrUnsupportedVersion indicates a snapshot version outside the upgradeable range.
	ErrUnsupportedVersion = errors.New("unsupported snapshot version")
	// ErrSnapshotOutdated indicates a snapshot that must be upgraded before use.
	ErrSnapshotOutdated = errors.New("snapshot outdated, run upgrade")
)

// Parse resolves a user supplied dialect name.
func Parse(raw string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "postgresql", "postgres", "pg":
		return PostgreSQL, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownDialect, raw)
	}
}

// Valid reports whether d is a known dialect.
func (d Dialect) Valid() bool {
	return d == SQLite || d == PostgreSQL
}

func (d Dialect) String() string {
	return string(d)
}

func (d Dialect) currentVersion() int {
	switch d {
	case SQLite:
		return 7
	case PostgreSQL:
		return 8
	default:
		return 0
	}
}

// CurrentVersion returns the snapshot format revision written by this build.
func (d Dialect) CurrentVersion() string {
	return strconv.Itoa(d.currentVersion())
}

// FloorVersion returns the oldest snapshot revision that can still be upgraded.
func (d Dialect) FloorVersion() string {
	return strconv.Itoa(floorVersion)
}

// Versions lists every known revision from floor to current.
func (d Dialect) Versions() []string {
	current := d.currentVersion()
	if current == 0 {
		return nil
	}
	versions := make([]string, 0, current-floorVersion+1)
	for v := floorVersion; v <= current; v++ {
		versions = append(versions, strconv.Itoa(v))
	}
	return versions
}

// IsLatest reports whether version equals the current revision.
func (d Dialect) IsLatest(version string) bool {
	return d.Valid() && strings.TrimSpace(version) == d.CurrentVersion()
}

// IsSupported reports whether version lies within floor..current.
func (d Dialect) IsSupported(version string) bool {
	n, ok := parseVersion(version)
	if !ok || !d.Valid() {
		return false
	}
	return n >= floorVersion && n <= d.currentVersion()
}

// NeedsUpgrade reports whether version is supported but older than current.
func (d Dialect) NeedsUpgrade(version string) bool {
	return d.IsSupported(version) && !d.IsLatest(version)
}

// CheckVersion classifies version for a caller that needs the current revision.
func (d Dialect) CheckVersion(version string) error {
	switch {
	case d.IsLatest(version):
		return nil
	case d.NeedsUpgrade(version):
		return fmt.Errorf("%w: %s version %q, current is %q", ErrSnapshotOutdated, d, version, d.CurrentVersion())
	default:
		return fmt.Errorf("%w: %s version %q, supported %s..%s", ErrUnsupportedVersion, d, version, d.FloorVersion(), d.CurrentVersion())
	}
}

// VersionNumber parses a revision string such as "7".
func VersionNumber(version string) (int, bool) {
	return parseVersion(version)
}

func parseVersion(version string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(version))
	if err != nil {
		return 0, false
	}
	return n, true
}
