// Package upgrade rewrites snapshot files written by older releases into the current format revision.
package upgrade

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/MarcoPoloResearchLab/ddlkit/internal/dialect"
	"github.com/MarcoPoloResearchLab/ddlkit/internal/postgres"
	"github.com/MarcoPoloResearchLab/ddlkit/internal/sqlite"
)

// ErrUpToDate is returned by Step for a document already at the current revision.
var ErrUpToDate = errors.New("snapshot already at current version")

type transform func(doc *Object) error

// steps maps a dialect and a revision to the transform that produces the next revision.
var steps = map[dialect.Dialect]map[string]transform{
	dialect.SQLite: {
		"5": sqliteV5ToV6,
		"6": sqliteV6ToV7,
	},
	dialect.PostgreSQL: {
		"5": postgresV5ToV6,
		"6": postgresV6ToV7,
		"7": postgresV7ToV8,
	},
}

// Header is the part of a snapshot needed to decide whether it must be upgraded.
type Header struct {
	Version string
	Dialect string
}

// ProbeVersion reads the version and dialect of a snapshot without decoding the rest.
func ProbeVersion(raw []byte) (Header, error) {
	if !gjson.ValidBytes(raw) {
		return Header{}, errNotAnObject
	}
	fields := gjson.GetManyBytes(raw, "version", "dialect")
	return Header{Version: fields[0].String(), Dialect: fields[1].String()}, nil
}

// Step applies the single transform that moves doc to the next revision. doc is modified in place.
func Step(doc *Object, d dialect.Dialect) (*Object, error) {
	if err := checkDialect(doc.Text("dialect"), d); err != nil {
		return nil, err
	}
	version := versionOf(doc)
	if d.IsLatest(version) {
		return doc, ErrUpToDate
	}
	if err := d.CheckVersion(version); !errors.Is(err, dialect.ErrSnapshotOutdated) {
		return nil, err
	}
	apply, ok := steps[d][version]
	if !ok {
		return nil, fmt.Errorf("%w: no upgrade from %s version %q", dialect.ErrUnsupportedVersion, d, version)
	}
	if err := apply(doc); err != nil {
		return nil, fmt.Errorf("upgrade %s v%s: %w", d, version, err)
	}
	return doc, nil
}

// ToLatest chains Step until the current revision. The input is left untouched.
func ToLatest(doc *Object, d dialect.Dialect) (*Object, error) {
	current := doc.Clone()
	for {
		next, err := Step(current, d)
		if errors.Is(err, ErrUpToDate) {
			return current, nil
		}
		if err != nil {
			return nil, err
		}
		current = next
	}
}

// UpgradeJSON upgrades a snapshot file body. Current files are returned unchanged.
// The result is checked by decoding it with the dialect's snapshot codec.
func UpgradeJSON(raw []byte, d dialect.Dialect) ([]byte, error) {
	header, err := ProbeVersion(raw)
	if err != nil {
		return nil, err
	}
	if err := checkDialect(header.Dialect, d); err != nil {
		return nil, err
	}
	if d.IsLatest(header.Version) {
		return raw, nil
	}
	if !d.IsSupported(header.Version) {
		return nil, d.CheckVersion(header.Version)
	}

	doc, err := ParseObject(raw)
	if err != nil {
		return nil, err
	}
	upgraded, err := ToLatest(doc, d)
	if err != nil {
		return nil, err
	}
	out, err := json.MarshalIndent(upgraded, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := verify(out, d); err != nil {
		return nil, fmt.Errorf("upgraded snapshot does not decode: %w", err)
	}
	return out, nil
}

func verify(data []byte, d dialect.Dialect) error {
	switch d {
	case dialect.SQLite:
		_, err := sqlite.ParseSnapshot(data)
		return err
	case dialect.PostgreSQL:
		_, err := postgres.ParseSnapshot(data)
		return err
	default:
		return fmt.Errorf("%w: %q", dialect.ErrUnknownDialect, d)
	}
}

// checkDialect accepts an empty or legacy spelling of d, such as "pg".
func checkDialect(raw string, d dialect.Dialect) error {
	if !d.Valid() {
		return fmt.Errorf("%w: %q", dialect.ErrUnknownDialect, d)
	}
	if raw == "" {
		return nil
	}
	parsed, err := dialect.Parse(raw)
	if err != nil || parsed != d {
		return fmt.Errorf("%w: expected %s snapshot, got %q", dialect.ErrDialectMismatch, d, raw)
	}
	return nil
}

func versionOf(doc *Object) string {
	switch typed := valueOf(doc, "version").(type) {
	case string:
		return typed
	case json.Number:
		return typed.String()
	default:
		return ""
	}
}
